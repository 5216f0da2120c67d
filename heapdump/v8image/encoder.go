// ABOUTME: Writer for the binary v8 heap image format
// ABOUTME: Emits the header and records in the order they are given

package v8image

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/prateek/heapgrok/memimage"
)

// Encoder writes an image record by record. The first error sticks and is
// returned by Close.
type Encoder struct {
	w       *bufio.Writer
	err     error
	started bool
	scratch [binary.MaxVarintLen64]byte
}

// NewEncoder creates an encoder writing to w
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

func (e *Encoder) start() {
	if !e.started {
		e.started = true
		e.write([]byte(Header))
	}
}

func (e *Encoder) write(b []byte) {
	if e.err == nil {
		_, e.err = e.w.Write(b)
	}
}

func (e *Encoder) uvarint(v uint64) {
	n := binary.PutUvarint(e.scratch[:], v)
	e.write(e.scratch[:n])
}

func (e *Encoder) bytes(b []byte) {
	e.uvarint(uint64(len(b)))
	e.write(b)
}

// Params writes the machine parameters
func (e *Encoder) Params(p memimage.Params) {
	e.start()
	e.uvarint(tagParams)
	big := uint64(0)
	if p.BigEndian {
		big = 1
	}
	e.uvarint(big)
	e.uvarint(p.WordSize)
	e.uvarint(p.PageSize)
	e.bytes([]byte(p.Arch))
	e.bytes([]byte(p.Engine))
}

// Segment writes one memory segment
func (e *Encoder) Segment(addr memimage.Address, data []byte) {
	e.start()
	e.uvarint(tagSegment)
	e.uvarint(uint64(addr))
	e.bytes(data)
}

// Root writes a root word
func (e *Encoder) Root(desc string, word uint64) {
	e.start()
	e.uvarint(tagRoot)
	e.bytes([]byte(desc))
	e.uvarint(word)
}

// Frame writes a stack frame record
func (e *Encoder) Frame(f memimage.Frame) {
	e.start()
	e.uvarint(tagFrame)
	e.uvarint(f.Marker)
	e.uvarint(uint64(f.FP))
	e.uvarint(uint64(f.PC))
}

// Close writes the EOF record and flushes
func (e *Encoder) Close() error {
	e.start()
	e.uvarint(tagEOF)
	if e.err == nil {
		e.err = e.w.Flush()
	}
	return e.err
}

// Encode writes a whole image
func Encode(w io.Writer, im *memimage.Image) error {
	e := NewEncoder(w)
	e.Params(im.Params())
	for _, s := range im.Segments() {
		e.Segment(s.Addr, s.Data)
	}
	for _, r := range im.Roots {
		e.Root(r.Desc, r.Word)
	}
	for _, f := range im.Frames {
		e.Frame(f)
	}
	return e.Close()
}
