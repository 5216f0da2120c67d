// ABOUTME: Tests for the binary image parser and encoder
// ABOUTME: Round trips images and checks format detection through the registry

package v8image

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prateek/heapgrok/heapdump"
	"github.com/prateek/heapgrok/memimage"
)

func sampleImage(t *testing.T) *memimage.Image {
	t.Helper()
	im, err := memimage.New(
		memimage.Params{WordSize: 4, PageSize: 0x40000, Arch: "x64", Engine: "11.3"},
		memimage.Segment{Addr: 0xc0100, Data: []byte{0x29, 0x21, 0, 0, 4, 0, 0, 0}},
		memimage.Segment{Addr: 0x2000, Data: []byte{0xff, 0xff, 0xff, 0xff}},
	)
	require.NoError(t, err)
	im.Roots = []memimage.Root{{Desc: "global", Word: 0xc0101}}
	im.Frames = []memimage.Frame{{Marker: 8, FP: 0x7ffd0000, PC: 0x1000}}
	return im
}

func encode(t *testing.T, im *memimage.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, im))
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	want := sampleImage(t)
	got, err := (&Parser{}).Parse(bytes.NewReader(encode(t, want)))
	require.NoError(t, err)

	assert.Equal(t, want.Params(), got.Params())
	assert.Equal(t, want.Segments(), got.Segments())
	assert.Equal(t, want.Roots, got.Roots)
	assert.Equal(t, want.Frames, got.Frames)

	w, err := got.ReadWord(0xc0104)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), w)
}

func TestCanParse(t *testing.T) {
	p := &Parser{}
	assert.True(t, p.CanParse(bytes.NewReader(encode(t, sampleImage(t)))))
	assert.True(t, p.CanParse(strings.NewReader(Header)))
	assert.False(t, p.CanParse(strings.NewReader(`{"segments": []}`)))
	assert.False(t, p.CanParse(strings.NewReader("v8 heap")))
}

func TestOpenThroughRegistry(t *testing.T) {
	im, err := heapdump.Open(bytes.NewReader(encode(t, sampleImage(t))))
	require.NoError(t, err)
	assert.Equal(t, uint64(12), im.Size())

	names := make([]string, 0)
	for _, p := range heapdump.Parsers() {
		names = append(names, p.Name())
	}
	assert.Contains(t, names, "v8image")
}

func TestParseMissingParams(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	e.Root("global", 1)
	require.NoError(t, e.Close())

	_, err := (&Parser{}).Parse(&buf)
	assert.ErrorIs(t, err, ErrNoParams)
}

func TestParseDuplicateParams(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	e.Params(memimage.Params{WordSize: 8})
	e.Params(memimage.Params{WordSize: 4})
	require.NoError(t, e.Close())

	_, err := (&Parser{}).Parse(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate params")
}

func TestParseBadWordSize(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	e.Params(memimage.Params{WordSize: 3})
	require.NoError(t, e.Close())

	_, err := (&Parser{}).Parse(&buf)
	assert.Error(t, err)
}

func TestParseOverlappingSegments(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	e.Params(memimage.Params{WordSize: 4})
	e.Segment(0x1000, make([]byte, 16))
	e.Segment(0x1008, make([]byte, 16))
	require.NoError(t, e.Close())

	_, err := (&Parser{}).Parse(&buf)
	assert.Error(t, err)
}

func TestParseTruncated(t *testing.T) {
	data := encode(t, sampleImage(t))
	// cut inside the params record and inside the first segment
	for _, n := range []int{len(Header) + 12, len(Header) + 20} {
		_, err := (&Parser{}).Parse(bytes.NewReader(data[:n]))
		assert.Error(t, err, "cut at %d", n)
	}
}

func TestParseUnknownRecord(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(Header)
	writeParams(&buf)
	writeVarint(&buf, 7)
	writeVarint(&buf, tagEOF)

	_, err := (&Parser{}).Parse(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tag 7")
}

func TestEncoderWritesHeaderOnce(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	require.NoError(t, e.Close())
	assert.Equal(t, Header+"\x00", buf.String())
}
