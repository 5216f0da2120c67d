// ABOUTME: Decoded field values
// ABOUTME: Tagged variant over small integers, references, raw bytes and unresolved pointers

package decoder

import (
	"encoding/hex"
	"fmt"

	"github.com/prateek/heapgrok/memimage"
)

// Kind discriminates a FieldValue
type Kind uint8

const (
	KindSmallInteger Kind = iota + 1
	KindReference
	KindRawBytes
	KindUnresolved
)

func (k Kind) String() string {
	switch k {
	case KindSmallInteger:
		return "smi"
	case KindReference:
		return "ref"
	case KindRawBytes:
		return "raw"
	case KindUnresolved:
		return "unresolved"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// FieldValue is one decoded field. Which members are meaningful depends on
// Kind: Int for small integers, Addr and Weak for references, Raw for raw
// bytes, Word and Reason for unresolved values.
type FieldValue struct {
	Name string
	Kind Kind

	Int    int64
	Addr   memimage.Address
	Weak   bool
	Raw    []byte
	Word   uint64
	Reason error
}

// SmallInteger builds a Smi value
func SmallInteger(name string, v int64) FieldValue {
	return FieldValue{Name: name, Kind: KindSmallInteger, Int: v}
}

// Reference builds a pointer to an object inside the image
func Reference(name string, addr memimage.Address, weak bool) FieldValue {
	return FieldValue{Name: name, Kind: KindReference, Addr: addr, Weak: weak}
}

// RawBytes builds an inline non-pointer payload value
func RawBytes(name string, b []byte) FieldValue {
	return FieldValue{Name: name, Kind: KindRawBytes, Raw: b}
}

// Unresolved builds a terminal value for a pointer or read that could not
// be followed
func Unresolved(name string, word uint64, reason error) FieldValue {
	return FieldValue{Name: name, Kind: KindUnresolved, Word: word, Reason: reason}
}

// IsReference reports whether the value points at an object in the image
func (v FieldValue) IsReference() bool { return v.Kind == KindReference }

func (v FieldValue) String() string {
	switch v.Kind {
	case KindSmallInteger:
		return fmt.Sprintf("%s=smi(%d)", v.Name, v.Int)
	case KindReference:
		if v.Weak {
			return fmt.Sprintf("%s=weak(%v)", v.Name, v.Addr)
		}
		return fmt.Sprintf("%s=ref(%v)", v.Name, v.Addr)
	case KindRawBytes:
		if len(v.Raw) > 16 {
			return fmt.Sprintf("%s=raw(%s...,%d bytes)", v.Name, hex.EncodeToString(v.Raw[:16]), len(v.Raw))
		}
		return fmt.Sprintf("%s=raw(%s)", v.Name, hex.EncodeToString(v.Raw))
	case KindUnresolved:
		return fmt.Sprintf("%s=unresolved(0x%x: %v)", v.Name, v.Word, v.Reason)
	}
	return v.Name + "=?"
}
