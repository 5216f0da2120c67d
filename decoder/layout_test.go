// ABOUTME: Tests for layout selection and the tagging scheme
// ABOUTME: Checks rule order, string representation dispatch and Smi encoding

package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultLayouts(t *testing.T) {
	l := DefaultLayouts()
	tests := []struct {
		typeName string
		tag      int
		want     string
	}{
		{"ONE_BYTE_INTERNALIZED_STRING_TYPE", 0x28, "seq_one_byte_string"},
		{"INTERNALIZED_STRING_TYPE", 0x20, "seq_two_byte_string"},
		{"STRING_TYPE", 0x20, "seq_two_byte_string"},
		{"CONS_STRING_TYPE", 0x21, "cons_string"},
		{"EXTERNAL_STRING_TYPE", 0x22, "external_string"},
		{"SLICED_ONE_BYTE_STRING_TYPE", 0x2b, "sliced_string"},
		{"THIN_STRING_TYPE", 0x25, "thin_string"},
		{"SWISS_NAME_DICTIONARY_TYPE", 0x100, "opaque"},
		{"SMALL_ORDERED_HASH_MAP_TYPE", 0x101, "opaque"},
		{"FUNCTION_CONTEXT_TYPE", 210, "context"},
		{"NATIVE_CONTEXT_TYPE", 211, "context"},
		{"EPHEMERON_HASH_TABLE_TYPE", 180, "hash_table"},
		{"NAME_DICTIONARY_TYPE", 179, "dictionary"},
		{"BYTECODE_ARRAY_TYPE", 191, "byte_array"},
		{"FIXED_DOUBLE_ARRAY_TYPE", 192, "fixed_double_array"},
		{"WEAK_ARRAY_LIST_TYPE", 273, "weak_array_list"},
		{"ORDERED_HASH_MAP_TYPE", 176, "fixed_array"},
		{"WEAK_FIXED_ARRAY_TYPE", 177, "fixed_array"},
		{"MAP_TYPE", 255, "map"},
		{"CODE_TYPE", 245, "code"},
		{"JS_ARRAY_TYPE", 2104, "js_array"},
		{"JS_FUNCTION_TYPE", 2000, "js_function"},
		{"JS_PROMISE_TYPE", 1080, "js_object"},
		{"UNKNOWN_TYPE:9", 9, "opaque"},
	}
	for _, tt := range tests {
		t.Run(tt.typeName, func(t *testing.T) {
			assert.Equal(t, tt.want, l.Lookup(tt.tag, tt.typeName).Name)
		})
	}
}

func TestSchemaOffsets(t *testing.T) {
	tests := []struct {
		schema *Schema
		ws     uint64
		offs   []uint64
		end    uint64
	}{
		{mapSchema, 4, []uint64{0, 4, 8, 12, 16, 20, 24, 28, 32, 36}, 40},
		{mapSchema, 8, []uint64{0, 8, 12, 16, 24, 32, 40, 48, 56, 64}, 72},
		{seqOneByteString, 4, []uint64{0, 4, 8}, 12},
		{seqOneByteString, 8, []uint64{0, 8, 12}, 16},
		{consString, 8, []uint64{0, 8, 12, 16, 24}, 32},
		{oddball, 4, []uint64{0, 4, 12, 16, 20, 24}, 28},
		{oddball, 8, []uint64{0, 8, 16, 24, 32, 40}, 48},
		{heapNumber, 4, []uint64{0, 4}, 12},
		{symbol, 8, []uint64{0, 8, 12, 16}, 24},
		{code, 8, []uint64{0, 8, 16, 24, 32, 40, 44, 48}, 56},
		{fixedArray, 8, []uint64{0, 8}, 16},
	}
	for _, tt := range tests {
		offs, end := tt.schema.Offsets(tt.ws)
		assert.Equal(t, tt.offs, offs, "%s/%d", tt.schema.Name, tt.ws)
		assert.Equal(t, tt.end, end, "%s/%d", tt.schema.Name, tt.ws)
	}
}

func TestLayoutsFirstMatchWins(t *testing.T) {
	l := NewLayouts(nil)
	assert.NoError(t, l.Add("JS_ARRAY_TYPE", jsArray))
	assert.NoError(t, l.Add("JS_*", jsObject))
	assert.Equal(t, jsArray, l.Lookup(0, "JS_ARRAY_TYPE"))
	assert.Equal(t, jsObject, l.Lookup(0, "JS_DATE_TYPE"))
	assert.Equal(t, opaqueSchema, l.Lookup(0, "HEAP_NUMBER_TYPE"))
}

func TestTagging(t *testing.T) {
	for _, ws := range []uint64{4, 8} {
		tg := DefaultTagging(ws)
		for _, v := range []int64{0, 1, -1, 42, -1 << 20} {
			w := tg.Smi(v, ws)
			assert.True(t, tg.IsSmi(w))
			assert.Equal(t, v, tg.SmiValue(w, ws), "word size %d value %d", ws, v)
		}
	}

	tg := DefaultTagging(8)
	assert.Equal(t, uint64(0x1001), tg.Tag(0x1000))
	assert.Equal(t, uint64(0x1000), uint64(tg.Untag(0x1003)))
	assert.True(t, tg.IsWeak(0x1003))
	assert.False(t, tg.IsWeak(0x1001))
	assert.True(t, tg.IsCleared(3))
	assert.False(t, tg.IsSmi(0x1001))
}
