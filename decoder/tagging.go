// ABOUTME: Pointer tagging scheme for heap words
// ABOUTME: Distinguishes small integers, strong and weak heap pointers

package decoder

import "github.com/prateek/heapgrok/memimage"

// Tagging describes how a word encodes a small integer or a heap pointer.
// The defaults follow the engine: bit 0 clear is a Smi, low bits 01 are a
// strong pointer and 11 a weak one.
type Tagging struct {
	SmiMask  uint64
	SmiTag   uint64
	SmiShift uint

	HeapObjectMask uint64
	HeapObjectTag  uint64
	WeakTag        uint64

	// ClearedWeak is the low 32 bit pattern of a cleared weak slot
	ClearedWeak uint32
}

// DefaultTagging returns the engine's scheme for the given word size.
// Full 64-bit words keep the Smi in the upper half; 32-bit (compressed)
// words hold a 31-bit Smi shifted by one.
func DefaultTagging(wordSize uint64) Tagging {
	t := Tagging{
		SmiMask:        1,
		SmiTag:         0,
		SmiShift:       32,
		HeapObjectMask: 3,
		HeapObjectTag:  1,
		WeakTag:        3,
		ClearedWeak:    3,
	}
	if wordSize == 4 {
		t.SmiShift = 1
	}
	return t
}

// IsSmi reports whether w is a small integer
func (t Tagging) IsSmi(w uint64) bool {
	return w&t.SmiMask == t.SmiTag
}

// IsWeak reports whether w is a weak heap pointer
func (t Tagging) IsWeak(w uint64) bool {
	return w&t.HeapObjectMask == t.WeakTag
}

// IsCleared reports whether w is a cleared weak reference
func (t Tagging) IsCleared(w uint64) bool {
	return uint32(w) == t.ClearedWeak
}

// SmiValue decodes the small integer held in w
func (t Tagging) SmiValue(w uint64, wordSize uint64) int64 {
	if wordSize == 4 {
		return int64(int32(uint32(w))) >> t.SmiShift
	}
	return int64(w) >> t.SmiShift
}

// Smi encodes v as a small integer word
func (t Tagging) Smi(v int64, wordSize uint64) uint64 {
	w := uint64(v<<t.SmiShift) | t.SmiTag
	if wordSize == 4 {
		return uint64(uint32(w))
	}
	return w
}

// Untag strips the pointer tag bits
func (t Tagging) Untag(w uint64) memimage.Address {
	return memimage.Address(w &^ t.HeapObjectMask)
}

// Tag turns an object address into a strong tagged pointer
func (t Tagging) Tag(addr memimage.Address) uint64 {
	return uint64(addr) | t.HeapObjectTag
}
