// ABOUTME: Static field layout table for heap object categories
// ABOUTME: Selects a schema from the instance type name and string representation bits

package decoder

import (
	"fmt"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"
)

// Category is the coarse shape of an object
type Category uint8

const (
	CategoryStruct Category = iota
	CategoryString
	CategoryArray
	CategoryDictionary
	CategoryContext
)

func (c Category) String() string {
	switch c {
	case CategoryStruct:
		return "struct"
	case CategoryString:
		return "string"
	case CategoryArray:
		return "array"
	case CategoryDictionary:
		return "dictionary"
	case CategoryContext:
		return "context"
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// SlotKind says how a slot's bytes are interpreted
type SlotKind uint8

const (
	// SlotTagged holds a Smi or a heap pointer and is word aligned
	SlotTagged SlotKind = iota
	// SlotRaw holds untagged data
	SlotRaw
	// SlotInt32 holds an untagged 32-bit integer such as a string length
	SlotInt32
)

// Slot is a fixed header field. Width is the byte size of a raw slot; zero
// means one word.
type Slot struct {
	Name  string
	Kind  SlotKind
	Width int
}

func (s Slot) size(ws uint64) uint64 {
	switch {
	case s.Kind == SlotInt32:
		return 4
	case s.Kind == SlotRaw && s.Width > 0:
		return uint64(s.Width)
	}
	return ws
}

// Elements describes the variable length tail of an object. The element
// count is the integer in the header slot named Count, plus Adjust. The
// tail starts where the fixed header ends.
type Elements struct {
	Name   string
	Count  string
	Adjust int
	Kind   SlotKind
	// Width is the size in bytes of one raw element
	Width int
	// Group names the members of one entry for grouped tagged elements
	Group []string
}

// Schema is the declared layout of one kind of object
type Schema struct {
	Name     string
	Category Category
	Slots    []Slot
	Elements *Elements
}

// Offsets returns the byte offset of every slot for the given word size and
// the word aligned offset where the fixed header ends. Tagged slots are
// word aligned, 32-bit slots are 4-byte aligned and raw slots are packed.
func (s *Schema) Offsets(ws uint64) ([]uint64, uint64) {
	offs := make([]uint64, len(s.Slots))
	at := uint64(0)
	for i, slot := range s.Slots {
		switch slot.Kind {
		case SlotTagged:
			at = align(at, ws)
		case SlotInt32:
			at = align(at, 4)
		}
		offs[i] = at
		at += slot.size(ws)
	}
	return offs, align(at, ws)
}

func tagged(names ...string) []Slot {
	out := make([]Slot, len(names))
	for i, n := range names {
		out[i] = Slot{Name: n, Kind: SlotTagged}
	}
	return out
}

func rawSlot(name string, width int) Slot {
	return Slot{Name: name, Kind: SlotRaw, Width: width}
}

func int32Slot(name string) Slot {
	return Slot{Name: name, Kind: SlotInt32}
}

// concat joins slot groups in declaration order
func concat(groups ...[]Slot) []Slot {
	var out []Slot
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// stringHeader is the map, the 32-bit hash field and the 32-bit length
// shared by every string
func stringHeader(rest ...Slot) []Slot {
	return concat(tagged("map"), []Slot{rawSlot("raw_hash_field", 4), int32Slot("length")}, rest)
}

// String representation bits of the instance type
const (
	stringRepresentationMask = 0x7
	seqStringTag             = 0x0
	consStringTag            = 0x1
	externalStringTag        = 0x2
	slicedStringTag          = 0x3
	thinStringTag            = 0x5
	oneByteStringTag         = 0x8
)

var (
	opaqueSchema = &Schema{Name: "opaque", Category: CategoryStruct, Slots: tagged("map")}

	seqOneByteString = &Schema{
		Name: "seq_one_byte_string", Category: CategoryString,
		Slots:    stringHeader(),
		Elements: &Elements{Name: "chars", Count: "length", Kind: SlotRaw, Width: 1},
	}
	seqTwoByteString = &Schema{
		Name: "seq_two_byte_string", Category: CategoryString,
		Slots:    stringHeader(),
		Elements: &Elements{Name: "chars", Count: "length", Kind: SlotRaw, Width: 2},
	}
	consString = &Schema{
		Name: "cons_string", Category: CategoryString,
		Slots: stringHeader(tagged("first", "second")...),
	}
	slicedString = &Schema{
		Name: "sliced_string", Category: CategoryString,
		Slots: stringHeader(tagged("parent", "offset")...),
	}
	thinString = &Schema{
		Name: "thin_string", Category: CategoryString,
		Slots: stringHeader(tagged("actual")...),
	}
	externalString = &Schema{
		Name: "external_string", Category: CategoryString,
		Slots: stringHeader(rawSlot("resource", 0), rawSlot("resource_data", 0)),
	}

	fixedArray = &Schema{
		Name: "fixed_array", Category: CategoryArray,
		Slots:    tagged("map", "length"),
		Elements: &Elements{Name: "elements", Count: "length", Kind: SlotTagged},
	}
	weakArrayList = &Schema{
		Name: "weak_array_list", Category: CategoryArray,
		Slots:    tagged("map", "capacity", "length"),
		Elements: &Elements{Name: "elements", Count: "length", Kind: SlotTagged},
	}
	byteArray = &Schema{
		Name: "byte_array", Category: CategoryArray,
		Slots:    tagged("map", "length"),
		Elements: &Elements{Name: "data", Count: "length", Kind: SlotRaw, Width: 1},
	}
	fixedDoubleArray = &Schema{
		Name: "fixed_double_array", Category: CategoryArray,
		Slots:    tagged("map", "length"),
		Elements: &Elements{Name: "values", Count: "length", Kind: SlotRaw, Width: 8},
	}

	hashTable = &Schema{
		Name: "hash_table", Category: CategoryDictionary,
		Slots: tagged("map", "length", "number_of_elements", "number_of_deleted_elements", "capacity"),
		Elements: &Elements{Name: "entry", Count: "length", Adjust: -3, Kind: SlotTagged,
			Group: []string{"key", "value"}},
	}
	dictionary = &Schema{
		Name: "dictionary", Category: CategoryDictionary,
		Slots: tagged("map", "length", "number_of_elements", "number_of_deleted_elements", "capacity"),
		Elements: &Elements{Name: "entry", Count: "length", Adjust: -3, Kind: SlotTagged,
			Group: []string{"key", "value", "details"}},
	}

	contextSchema = &Schema{
		Name: "context", Category: CategoryContext,
		Slots:    tagged("map", "length", "scope_info", "previous"),
		Elements: &Elements{Name: "slot", Count: "length", Adjust: -2, Kind: SlotTagged},
	}

	// The instance sizes, instance type and bit fields fill the first word
	// after the map pointer on 8-byte images. bit_field3 gets its own word
	// there, padded.
	mapSchema = &Schema{
		Name: "map", Category: CategoryStruct,
		Slots: concat(tagged("map"),
			[]Slot{rawSlot("instance_sizes", 4), rawSlot("instance_type_and_bits", 4), rawSlot("bit_field3", 4)},
			tagged("prototype", "constructor_or_back_pointer", "instance_descriptors", "dependent_code",
				"prototype_validity_cell", "transitions_or_prototype_info")),
	}
	oddball = &Schema{
		Name: "oddball", Category: CategoryStruct,
		Slots: concat(tagged("map"), []Slot{rawSlot("to_number_raw", 8)},
			tagged("to_string", "to_number", "type_of", "kind")),
	}
	heapNumber = &Schema{
		Name: "heap_number", Category: CategoryStruct,
		Slots: concat(tagged("map"), []Slot{rawSlot("value", 8)}),
	}
	symbol = &Schema{
		Name: "symbol", Category: CategoryStruct,
		Slots: concat(tagged("map"), []Slot{rawSlot("raw_hash_field", 4), rawSlot("flags", 4)}, tagged("description")),
	}
	code = &Schema{
		Name: "code", Category: CategoryStruct,
		Slots: concat(tagged("map", "relocation_info", "deoptimization_data_or_interpreter_data",
			"position_table", "code"),
			[]Slot{int32Slot("instruction_size"), int32Slot("metadata_size"), rawSlot("flags", 4)}),
	}
	cell         = &Schema{Name: "cell", Category: CategoryStruct, Slots: tagged("map", "value")}
	propertyCell = &Schema{
		Name: "property_cell", Category: CategoryStruct,
		Slots: tagged("map", "name", "property_details_raw", "value", "dependent_code"),
	}
	jsObject   = &Schema{Name: "js_object", Category: CategoryStruct, Slots: tagged("map", "properties_or_hash", "elements")}
	jsArray    = &Schema{Name: "js_array", Category: CategoryStruct, Slots: tagged("map", "properties_or_hash", "elements", "length")}
	jsFunction = &Schema{
		Name: "js_function", Category: CategoryStruct,
		Slots: tagged("map", "properties_or_hash", "elements", "code", "shared_function_info", "context", "feedback_cell"),
	}
)

// pickString selects a string layout from the representation bits of tag
func pickString(tag int) *Schema {
	switch tag & stringRepresentationMask {
	case seqStringTag:
		if tag&oneByteStringTag != 0 {
			return seqOneByteString
		}
		return seqTwoByteString
	case consStringTag:
		return consString
	case externalStringTag:
		return externalString
	case slicedStringTag:
		return slicedString
	case thinStringTag:
		return thinString
	}
	return opaqueSchema
}

type rule struct {
	pattern string
	match   glob.Glob
	schema  *Schema
	pick    func(tag int) *Schema
}

// Layouts maps instance type names to schemas. Rules are tried in order
// and the first whose pattern matches the type name wins.
type Layouts struct {
	rules    []rule
	fallback *Schema
}

// NewLayouts returns an empty table that answers fallback for everything
func NewLayouts(fallback *Schema) *Layouts {
	if fallback == nil {
		fallback = opaqueSchema
	}
	return &Layouts{fallback: fallback}
}

// Add appends a rule mapping type names matching pattern to s
func (l *Layouts) Add(pattern string, s *Schema) error {
	return l.add(pattern, s, nil)
}

func (l *Layouts) add(pattern string, s *Schema, pick func(int) *Schema) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return errors.Wrapf(err, "layout pattern %q", pattern)
	}
	l.rules = append(l.rules, rule{pattern: pattern, match: g, schema: s, pick: pick})
	return nil
}

// Lookup returns the schema for an object of the given type
func (l *Layouts) Lookup(tag int, typeName string) *Schema {
	for _, r := range l.rules {
		if !r.match.Match(typeName) {
			continue
		}
		if r.pick != nil {
			return r.pick(tag)
		}
		return r.schema
	}
	return l.fallback
}

// DefaultLayouts returns the built-in layout table
func DefaultLayouts() *Layouts {
	l := NewLayouts(opaqueSchema)
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	must(l.add("*STRING_TYPE", nil, pickString))
	for _, p := range []string{"SMALL_ORDERED_*", "SWISS_NAME_DICTIONARY_TYPE"} {
		must(l.Add(p, opaqueSchema))
	}
	must(l.Add("*_CONTEXT_TYPE", contextSchema))
	must(l.Add("*HASH_TABLE_TYPE", hashTable))
	must(l.Add("REGISTERED_SYMBOL_TABLE_TYPE", hashTable))
	must(l.Add("*DICTIONARY_TYPE", dictionary))
	must(l.Add("{BYTE_ARRAY_TYPE,BYTECODE_ARRAY_TYPE}", byteArray))
	must(l.Add("FIXED_DOUBLE_ARRAY_TYPE", fixedDoubleArray))
	must(l.Add("WEAK_ARRAY_LIST_TYPE", weakArrayList))
	for _, p := range []string{
		"*FIXED_ARRAY_TYPE", "TRANSITION_ARRAY_TYPE", "*CELL_ARRAY_TYPE", "SCRIPT_CONTEXT_TABLE_TYPE",
		"EMBEDDER_DATA_ARRAY_TYPE", "PROPERTY_ARRAY_TYPE", "ORDERED_HASH_*", "OBJECT_BOILERPLATE_DESCRIPTION_TYPE",
	} {
		must(l.Add(p, fixedArray))
	}
	must(l.Add("MAP_TYPE", mapSchema))
	must(l.Add("ODDBALL_TYPE", oddball))
	must(l.Add("HEAP_NUMBER_TYPE", heapNumber))
	must(l.Add("SYMBOL_TYPE", symbol))
	must(l.Add("CODE_TYPE", code))
	must(l.Add("CELL_TYPE", cell))
	must(l.Add("PROPERTY_CELL_TYPE", propertyCell))
	must(l.Add("JS_ARRAY_TYPE", jsArray))
	must(l.Add("JS_FUNCTION_TYPE", jsFunction))
	must(l.Add("JS_*", jsObject))
	return l
}
