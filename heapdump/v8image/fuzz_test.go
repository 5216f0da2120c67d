// ABOUTME: Fuzz tests for the binary image reader
// ABOUTME: Checks that arbitrary input never panics and that accepted images are readable

package v8image

import (
	"bytes"
	"testing"
	"time"

	"github.com/prateek/heapgrok/memimage"
)

func seedImages(f *testing.F) {
	f.Helper()
	im, err := memimage.New(
		memimage.Params{WordSize: 8, PageSize: 0x40000, Arch: "arm64"},
		memimage.Segment{Addr: 0x1000, Data: bytes.Repeat([]byte{0x01, 0x20}, 64)},
	)
	if err != nil {
		f.Fatal(err)
	}
	im.Roots = []memimage.Root{{Desc: "r", Word: 0x1001}}
	im.Frames = []memimage.Frame{{Marker: 2, FP: 0x10, PC: 0x20}}

	var buf bytes.Buffer
	if err := Encode(&buf, im); err != nil {
		f.Fatal(err)
	}
	full := buf.Bytes()
	f.Add(full)
	f.Add(full[:len(full)/2])
	f.Add([]byte(Header))
	f.Add(append([]byte(Header), 9, 0xff, 3, 1, 'x', 1, 0))
}

func FuzzParser(f *testing.F) {
	seedImages(f)

	f.Fuzz(func(t *testing.T, data []byte) {
		im, err := (&Parser{}).Parse(bytes.NewReader(data))
		if err != nil {
			return
		}
		ws := im.WordSize()
		if ws != 4 && ws != 8 {
			t.Fatalf("accepted word size %d", ws)
		}
		var total uint64
		for _, s := range im.Segments() {
			total += uint64(len(s.Data))
		}
		if total != im.Size() {
			t.Fatalf("size %d, segments hold %d", im.Size(), total)
		}

		// re-encoding an accepted image must parse to the same shape
		var buf bytes.Buffer
		if err := Encode(&buf, im); err != nil {
			t.Fatal(err)
		}
		again, err := (&Parser{}).Parse(&buf)
		if err != nil {
			t.Fatalf("re-parse: %v", err)
		}
		if len(again.Segments()) != len(im.Segments()) || len(again.Roots) != len(im.Roots) {
			t.Fatal("re-parsed image differs")
		}
	})
}

func FuzzStreamingParser(f *testing.F) {
	seedImages(f)

	f.Fuzz(func(t *testing.T, data []byte) {
		var last int64
		p := NewStreamingParser(bytes.NewReader(data), StreamCallbacks{
			OnProgress: func(bytesRead, _ int64, _ time.Duration) {
				last = bytesRead
			},
		})
		_ = p.Parse()
		if last > int64(len(data)) {
			t.Fatalf("read %d bytes of %d", last, len(data))
		}
	})
}
