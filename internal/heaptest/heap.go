// ABOUTME: Synthetic heap builder for tests
// ABOUTME: Lays out maps, oddballs and arrays in a compressed-pointer style image

// Package heaptest builds small heaps with 4 byte words for tests. Objects
// are allocated into a read-only space at 0x0 and an old space at 0xc0000;
// the catalog describes both spaces and the well-known maps placed in them.
package heaptest

import (
	"encoding/binary"
	"fmt"

	"github.com/prateek/heapgrok/catalog"
	"github.com/prateek/heapgrok/memimage"
)

const (
	WordSize = 4

	ReadOnlySpace = "read_only_space"
	OldSpace      = "old_space"

	ReadOnlyBase memimage.Address = 0x0
	OldBase      memimage.Address = 0xc0000

	readOnlySize = 0x8000
	oldSize      = 0x10000
)

// Tagged offsets of well-known maps in read_only_space
const (
	MetaMap              uint64 = 0x02141
	FixedArrayMap        uint64 = 0x02169
	WeakArrayListMap     uint64 = 0x021b9
	UndefinedMap         uint64 = 0x02231
	NullMap              uint64 = 0x02259
	HeapNumberMap        uint64 = 0x02b55
	SymbolMap            uint64 = 0x02b7d
	BooleanMap           uint64 = 0x02bf5
	OneByteStringMap     uint64 = 0x02dad
	ConsOneByteStringMap uint64 = 0x02dfd
	FixedDoubleArrayMap  uint64 = 0x03195
	ByteArrayMap         uint64 = 0x031e5
	NameDictionaryMap    uint64 = 0x03a35
	CodeMap              uint64 = 0x03d7d
)

// Tagged offsets of well-known objects in read_only_space
const (
	NullValue      uint64 = 0x022c5
	UndefinedValue uint64 = 0x022e1
	TrueValue      uint64 = 0x03f41
	FalseValue     uint64 = 0x03f5d
)

// Instance types used by the synthetic heap
const (
	OneByteStringType     = 40
	ConsOneByteStringType = 41
	SymbolType            = 128
	HeapNumberType        = 130
	OddballType           = 131
	FixedArrayType        = 175
	NameDictionaryType    = 179
	ByteArrayType         = 190
	FixedDoubleArrayType  = 192
	FunctionContextType   = 210
	CodeType              = 245
	MapType               = 255
	WeakArrayListType     = 273
	JSObjectType          = 1057
	JSArrayType           = 2104
)

var instanceTypes = map[int]string{
	OneByteStringType:     "ONE_BYTE_INTERNALIZED_STRING_TYPE",
	ConsOneByteStringType: "CONS_ONE_BYTE_STRING_TYPE",
	SymbolType:            "SYMBOL_TYPE",
	HeapNumberType:        "HEAP_NUMBER_TYPE",
	OddballType:           "ODDBALL_TYPE",
	FixedArrayType:        "FIXED_ARRAY_TYPE",
	NameDictionaryType:    "NAME_DICTIONARY_TYPE",
	ByteArrayType:         "BYTE_ARRAY_TYPE",
	FixedDoubleArrayType:  "FIXED_DOUBLE_ARRAY_TYPE",
	FunctionContextType:   "FUNCTION_CONTEXT_TYPE",
	CodeType:              "CODE_TYPE",
	MapType:               "MAP_TYPE",
	WeakArrayListType:     "WEAK_ARRAY_LIST_TYPE",
	JSObjectType:          "JS_OBJECT_TYPE",
	JSArrayType:           "JS_ARRAY_TYPE",
}

type knownMap struct {
	offset uint64
	tag    int
	name   string
}

var knownMaps = []knownMap{
	{MetaMap, MapType, "MetaMap"},
	{FixedArrayMap, FixedArrayType, "FixedArrayMap"},
	{WeakArrayListMap, WeakArrayListType, "WeakArrayListMap"},
	{UndefinedMap, OddballType, "UndefinedMap"},
	{NullMap, OddballType, "NullMap"},
	{HeapNumberMap, HeapNumberType, "HeapNumberMap"},
	{SymbolMap, SymbolType, "SymbolMap"},
	{BooleanMap, OddballType, "BooleanMap"},
	{OneByteStringMap, OneByteStringType, "OneByteInternalizedStringMap"},
	{ConsOneByteStringMap, ConsOneByteStringType, "ConsOneByteStringMap"},
	{FixedDoubleArrayMap, FixedDoubleArrayType, "FixedDoubleArrayMap"},
	{ByteArrayMap, ByteArrayType, "ByteArrayMap"},
	{NameDictionaryMap, NameDictionaryType, "NameDictionaryMap"},
	{CodeMap, CodeType, "CodeMap"},
}

var knownObjects = []struct {
	offset uint64
	name   string
	mapOff uint64
}{
	{NullValue, "NullValue", NullMap},
	{UndefinedValue, "UndefinedValue", UndefinedMap},
	{TrueValue, "TrueValue", BooleanMap},
	{FalseValue, "FalseValue", BooleanMap},
}

// FrameMarkers is the frame marker table of the synthetic catalog
var FrameMarkers = []string{"ENTRY", "CONSTRUCT_ENTRY", "EXIT", "OPTIMIZED", "INTERPRETED", "BUILTIN"}

type region struct {
	base memimage.Address
	data []byte
	next uint64
}

// Heap is a mutable synthetic heap
type Heap struct {
	spaces map[string]*region
	order  binary.ByteOrder
}

// New lays out the well-known maps and oddballs
func New() *Heap {
	h := &Heap{
		spaces: map[string]*region{
			ReadOnlySpace: {base: ReadOnlyBase, data: make([]byte, readOnlySize), next: 0x4000},
			OldSpace:      {base: OldBase, data: make([]byte, oldSize), next: 0x100},
		},
		order: binary.LittleEndian,
	}
	for _, m := range knownMaps {
		h.writeMap(ReadOnlySpace, m.offset-1, m.tag)
	}
	for _, o := range knownObjects {
		at := o.offset - 1
		h.SetWord(ReadOnlySpace, at, h.Ptr(ReadOnlySpace, o.mapOff))
		for i := uint64(1); i < 6; i++ {
			h.SetWord(ReadOnlySpace, at+i*WordSize, h.Ptr(ReadOnlySpace, UndefinedValue))
		}
	}
	return h
}

func (h *Heap) writeMap(space string, at uint64, tag int) {
	h.SetWord(space, at, h.Ptr(ReadOnlySpace, MetaMap))
	h.SetWord(space, at+2*WordSize, uint64(tag))
	for i := uint64(4); i < 10; i++ {
		h.SetWord(space, at+i*WordSize, h.Ptr(ReadOnlySpace, UndefinedValue))
	}
}

func (h *Heap) region(space string) *region {
	r, ok := h.spaces[space]
	if !ok {
		panic(fmt.Sprintf("heaptest: unknown space %q", space))
	}
	return r
}

// Ptr returns the tagged pointer for a tagged offset in space
func (h *Heap) Ptr(space string, taggedOffset uint64) uint64 {
	return uint64(h.region(space).base) + taggedOffset
}

// Map returns the tagged pointer to a well-known map
func (h *Heap) Map(taggedOffset uint64) uint64 {
	return h.Ptr(ReadOnlySpace, taggedOffset)
}

// Smi encodes v as a 31-bit small integer
func Smi(v int64) uint64 {
	return uint64(uint32(v << 1))
}

// SetWord stores w at the untagged offset in space
func (h *Heap) SetWord(space string, offset uint64, w uint64) {
	r := h.region(space)
	h.order.PutUint32(r.data[offset:], uint32(w))
}

// SetField overwrites word index of the object a tagged pointer refers to
func (h *Heap) SetField(obj uint64, index int, w uint64) {
	at := memimage.Address(obj &^ 3)
	for name, r := range h.spaces {
		if r.base <= at && uint64(at-r.base) < uint64(len(r.data)) {
			h.SetWord(name, uint64(at-r.base)+uint64(index)*WordSize, w)
			return
		}
	}
	panic(fmt.Sprintf("heaptest: %v is not in any space", at))
}

// Alloc places words in space and returns a tagged pointer to them
func (h *Heap) Alloc(space string, words ...uint64) uint64 {
	r := h.region(space)
	at := r.next
	for i, w := range words {
		h.SetWord(space, at+uint64(i)*WordSize, w)
	}
	r.next += uint64(len(words)) * WordSize
	if r.next%8 != 0 {
		r.next += WordSize
	}
	return uint64(r.base) + at + 1
}

// AllocBytes places the given header words followed by raw bytes
func (h *Heap) AllocBytes(space string, header []uint64, data []byte) uint64 {
	r := h.region(space)
	p := h.Alloc(space, header...)
	at := p - 1 - uint64(r.base) + uint64(len(header))*WordSize
	copy(r.data[at:], data)
	n := (uint64(len(data)) + 7) &^ 7
	if at+n > r.next {
		r.next = at + n
	}
	return p
}

// NewMap allocates a map object that is not in the catalog
func (h *Heap) NewMap(space string, tag int) uint64 {
	words := make([]uint64, 10)
	p := h.Alloc(space, words...)
	h.writeMap(space, p-1-uint64(h.region(space).base), tag)
	return p
}

// FixedArray allocates a fixed array holding elems
func (h *Heap) FixedArray(space string, elems ...uint64) uint64 {
	words := append([]uint64{h.Map(FixedArrayMap), Smi(int64(len(elems)))}, elems...)
	return h.Alloc(space, words...)
}

// Catalog returns a catalog describing the synthetic heap
func Catalog() *catalog.Catalog {
	b := catalog.NewBuilder()
	for tag, name := range instanceTypes {
		b.InstanceType(tag, name)
	}
	for _, m := range knownMaps {
		b.KnownMap(ReadOnlySpace, m.offset, m.tag, m.name)
	}
	for _, o := range knownObjects {
		b.KnownObject(ReadOnlySpace, o.offset, o.name)
	}
	b.FirstPage(uint32(ReadOnlyBase), ReadOnlySpace)
	b.FirstPage(uint32(OldBase), OldSpace)
	b.FrameMarkers(FrameMarkers...)
	c, err := b.Build()
	if err != nil {
		panic(err)
	}
	return c
}

// Image snapshots the heap into an image. Later changes to the heap are
// not visible through it.
func (h *Heap) Image() *memimage.Image {
	var segs []memimage.Segment
	for _, r := range h.spaces {
		segs = append(segs, memimage.Segment{Addr: r.base, Data: append([]byte(nil), r.data...)})
	}
	im, err := memimage.New(memimage.Params{WordSize: WordSize, PageSize: 1 << 18, Arch: "x64", Engine: "test"}, segs...)
	if err != nil {
		panic(err)
	}
	return im
}
