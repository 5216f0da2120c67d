// ABOUTME: Tests for the streaming image reader
// ABOUTME: Validates callbacks, progress reporting and error recovery

package v8image

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prateek/heapgrok/memimage"
)

func writeVarint(buf *bytes.Buffer, v uint64) {
	var b [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(b[:], v)
	buf.Write(b[:n])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeVarint(buf, uint64(len(b)))
	buf.Write(b)
}

func writeParams(buf *bytes.Buffer) {
	writeVarint(buf, tagParams)
	writeVarint(buf, 0)       // little endian
	writeVarint(buf, 4)       // word size
	writeVarint(buf, 0x40000) // page size
	writeBytes(buf, []byte("x64"))
	writeBytes(buf, []byte("11.3"))
}

func writeRoot(buf *bytes.Buffer, desc string, word uint64) {
	writeVarint(buf, tagRoot)
	writeBytes(buf, []byte(desc))
	writeVarint(buf, word)
}

func TestStreamingParseBasic(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(Header)
	writeParams(&buf)

	writeVarint(&buf, tagSegment)
	writeVarint(&buf, 0xc0000)
	writeBytes(&buf, []byte{1, 2, 3, 4})

	writeRoot(&buf, "global", 0xc0001)

	writeVarint(&buf, tagFrame)
	writeVarint(&buf, 4)
	writeVarint(&buf, 0x7ffd0000)
	writeVarint(&buf, 0x1000)

	writeVarint(&buf, tagEOF)

	var (
		params memimage.Params
		segs   []memimage.Segment
		roots  []memimage.Root
		frames []memimage.Frame
	)
	parser := NewStreamingParser(&buf, StreamCallbacks{
		OnParams: func(p memimage.Params) error {
			params = p
			return nil
		},
		OnSegment: func(addr memimage.Address, data []byte) error {
			segs = append(segs, memimage.Segment{Addr: addr, Data: data})
			return nil
		},
		OnRoot: func(desc string, word uint64) error {
			roots = append(roots, memimage.Root{Desc: desc, Word: word})
			return nil
		},
		OnFrame: func(f memimage.Frame) error {
			frames = append(frames, f)
			return nil
		},
	})
	require.NoError(t, parser.Parse())

	assert.Equal(t, memimage.Params{WordSize: 4, PageSize: 0x40000, Arch: "x64", Engine: "11.3"}, params)
	assert.Equal(t, []memimage.Segment{{Addr: 0xc0000, Data: []byte{1, 2, 3, 4}}}, segs)
	assert.Equal(t, []memimage.Root{{Desc: "global", Word: 0xc0001}}, roots)
	assert.Equal(t, []memimage.Frame{{Marker: 4, FP: 0x7ffd0000, PC: 0x1000}}, frames)
	assert.Zero(t, parser.Errors())
}

func TestStreamingMissingEOFRecord(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(Header)
	writeParams(&buf)
	writeRoot(&buf, "a", 1)

	var n int
	parser := NewStreamingParser(&buf, StreamCallbacks{
		OnRoot: func(string, uint64) error {
			n++
			return nil
		},
	})
	require.NoError(t, parser.Parse())
	assert.Equal(t, 1, n)
}

func TestStreamingBadHeader(t *testing.T) {
	for _, in := range []string{"", "v8 heap", "go1.7 heap dump\n"} {
		parser := NewStreamingParser(bytes.NewBufferString(in), StreamCallbacks{})
		err := parser.Parse()
		assert.True(t, errors.Is(err, ErrBadHeader), "input %q: %v", in, err)
	}
}

func TestStreamingCallbackErrorStops(t *testing.T) {
	stop := errors.New("stop here")

	var buf bytes.Buffer
	buf.WriteString(Header)
	writeParams(&buf)
	writeRoot(&buf, "first", 1)
	writeRoot(&buf, "second", 2)
	writeVarint(&buf, tagEOF)

	var seen []string
	parser := NewStreamingParser(&buf, StreamCallbacks{
		OnRoot: func(desc string, _ uint64) error {
			seen = append(seen, desc)
			return stop
		},
	})
	err := parser.Parse()
	assert.Equal(t, stop, err)
	assert.Equal(t, []string{"first"}, seen)
}

func TestStreamingParamsCallbackError(t *testing.T) {
	stop := errors.New("bad params")

	var buf bytes.Buffer
	buf.WriteString(Header)
	writeParams(&buf)
	writeVarint(&buf, tagEOF)

	parser := NewStreamingParser(&buf, StreamCallbacks{
		OnParams: func(memimage.Params) error { return stop },
	})
	assert.Equal(t, stop, parser.Parse())
}

func TestStreamingErrorRecovery(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(Header)
	writeParams(&buf)

	// unknown record followed by bytes that cannot start a record
	writeVarint(&buf, 9)
	buf.Write([]byte{0xff, 0x7f, 0x10, 0x05})

	writeRoot(&buf, "after", 0x41)
	writeVarint(&buf, tagEOF)

	var (
		roots    []string
		reported []error
	)
	parser := NewStreamingParser(&buf, StreamCallbacks{
		OnRoot: func(desc string, _ uint64) error {
			roots = append(roots, desc)
			return nil
		},
		OnError: func(err error, canRecover bool) error {
			assert.True(t, canRecover)
			reported = append(reported, err)
			return nil
		},
	})
	require.NoError(t, parser.Parse())

	assert.Equal(t, []string{"after"}, roots)
	assert.Equal(t, 1, parser.Errors())
	require.Len(t, reported, 1)
	assert.Contains(t, reported[0].Error(), "unknown tag 9")
}

func TestStreamingRecoveryKeepsRecordTag(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(Header)
	writeParams(&buf)
	writeVarint(&buf, 7)
	buf.Write([]byte{0x80, 0x40, 0xfe})
	writeVarint(&buf, tagSegment)
	writeVarint(&buf, 0xc0000)
	writeBytes(&buf, []byte{9, 9})
	writeVarint(&buf, tagEOF)
	total := int64(buf.Len())

	var (
		segs      []memimage.Segment
		lastBytes int64
	)
	parser := NewStreamingParser(&buf, StreamCallbacks{
		OnSegment: func(addr memimage.Address, data []byte) error {
			segs = append(segs, memimage.Segment{Addr: addr, Data: data})
			return nil
		},
		OnProgress: func(bytesRead, _ int64, _ time.Duration) {
			lastBytes = bytesRead
		},
	})
	require.NoError(t, parser.Parse())

	assert.Equal(t, []memimage.Segment{{Addr: 0xc0000, Data: []byte{9, 9}}}, segs)
	assert.Equal(t, 1, parser.Errors())
	assert.Equal(t, total, lastBytes)
}

func TestStreamingRecoveryAtEnd(t *testing.T) {
	tests := []struct {
		name  string
		trail []byte
	}{
		{name: "eof tag", trail: []byte{tagEOF}},
		{name: "tag without body", trail: []byte{tagRoot}},
		{name: "garbage", trail: []byte{0xff, 0xff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			buf.WriteString(Header)
			writeParams(&buf)
			writeRoot(&buf, "before", 0x41)
			writeVarint(&buf, 9)
			buf.Write(tt.trail)

			var roots []string
			parser := NewStreamingParser(&buf, StreamCallbacks{
				OnRoot: func(desc string, _ uint64) error {
					roots = append(roots, desc)
					return nil
				},
			})
			require.NoError(t, parser.Parse())
			assert.Equal(t, []string{"before"}, roots)
			assert.Equal(t, 1, parser.Errors())
		})
	}
}

func TestStreamingNoRecovery(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(Header)
	writeParams(&buf)
	writeVarint(&buf, 9)
	writeRoot(&buf, "after", 0x41)

	var roots int
	parser := NewStreamingParser(&buf, StreamCallbacks{
		OnRoot: func(string, uint64) error {
			roots++
			return nil
		},
	})
	parser.SetErrorRecovery(0, false)

	err := parser.Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tag 9")
	assert.Zero(t, roots)
}

func TestStreamingOnErrorAborts(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(Header)
	writeParams(&buf)
	writeVarint(&buf, 9)
	writeVarint(&buf, tagEOF)

	parser := NewStreamingParser(&buf, StreamCallbacks{
		OnError: func(err error, _ bool) error { return err },
	})
	assert.Error(t, parser.Parse())
}

func TestStreamingMaxErrors(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(Header)
	writeParams(&buf)
	for i := 0; i < 5; i++ {
		writeVarint(&buf, 9)
		writeRoot(&buf, "between", 1)
	}
	writeVarint(&buf, tagEOF)

	parser := NewStreamingParser(&buf, StreamCallbacks{})
	parser.SetErrorRecovery(2, true)
	assert.Error(t, parser.Parse())
	assert.Equal(t, 3, parser.Errors())
}

func TestStreamingTruncatedSegment(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(Header)
	writeParams(&buf)
	writeVarint(&buf, tagSegment)
	writeVarint(&buf, 0xc0000)
	writeVarint(&buf, 100)
	buf.Write(make([]byte, 10))

	var segs int
	parser := NewStreamingParser(&buf, StreamCallbacks{
		OnSegment: func(memimage.Address, []byte) error {
			segs++
			return nil
		},
	})
	require.NoError(t, parser.Parse())
	assert.Zero(t, segs)
	assert.Equal(t, 1, parser.Errors())
}

func TestStreamingProgress(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(Header)
	writeParams(&buf)
	for i := 0; i < 100; i++ {
		writeVarint(&buf, tagSegment)
		writeVarint(&buf, uint64(0xc0000+i*0x100))
		writeBytes(&buf, make([]byte, 0x100))
	}
	writeVarint(&buf, tagEOF)
	total := int64(buf.Len())

	var (
		calls     int
		lastBytes int64
		lastRecs  int64
	)
	parser := NewStreamingParser(&buf, StreamCallbacks{
		OnProgress: func(bytesRead, records int64, _ time.Duration) {
			calls++
			assert.GreaterOrEqual(t, bytesRead, lastBytes)
			lastBytes, lastRecs = bytesRead, records
		},
	})
	parser.SetProgressInterval(time.Millisecond)
	require.NoError(t, parser.Parse())

	assert.GreaterOrEqual(t, calls, 2)
	assert.Equal(t, total, lastBytes)
	assert.Equal(t, int64(102), lastRecs)
}
