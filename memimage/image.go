// ABOUTME: Bounds-checked memory image built from one or more address segments
// ABOUTME: Provides aligned word reads and byte reads at absolute addresses

package memimage

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

var (
	// ErrOutOfRange is returned when a read falls outside the loaded extent
	ErrOutOfRange = errors.New("address out of range")

	// ErrAlignment is returned when a word read is not word aligned
	ErrAlignment = errors.New("misaligned address")

	// ErrClosed is returned by reads on a closed image
	ErrClosed = errors.New("image closed")
)

// Address is an absolute address in the dumped process
type Address uint64

func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// Params describes the machine the image was taken from
type Params struct {
	BigEndian bool   `json:"big_endian" yaml:"big_endian"`
	WordSize  uint64 `json:"word_size" yaml:"word_size"`
	PageSize  uint64 `json:"page_size" yaml:"page_size"`
	Arch      string `json:"arch" yaml:"arch"`
	Engine    string `json:"engine" yaml:"engine"`
}

// Root is a tagged pointer the dump producer recorded as a traversal root
type Root struct {
	Desc string
	Word uint64
}

// Frame is a raw stack frame record. Marker is the frame type slot as
// stored on the stack.
type Frame struct {
	Marker uint64
	FP     Address
	PC     Address
}

// Image is an immutable, fully resident memory image
type Image struct {
	params Params
	order  binary.ByteOrder
	segs   segments

	Roots  []Root
	Frames []Frame

	closer func() error
	closed bool
}

// New validates params and segments and builds an image.
// Segments may be given in any order but must not overlap.
func New(params Params, segs ...Segment) (*Image, error) {
	if params.WordSize == 0 {
		params.WordSize = 8
	}
	if params.WordSize != 4 && params.WordSize != 8 {
		return nil, errors.Errorf("unsupported word size %d", params.WordSize)
	}

	sorted := make(segments, 0, len(segs))
	for _, s := range segs {
		if len(s.Data) == 0 {
			continue
		}
		sorted = append(sorted, s)
	}
	sort.Sort(sorted)

	var err error
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.end() > uint64(cur.Addr) {
			err = multierr.Append(err, errors.Errorf("segment %v overlaps %v", cur, prev))
		}
	}
	if err != nil {
		return nil, err
	}

	im := &Image{params: params, segs: sorted, order: binary.LittleEndian}
	if params.BigEndian {
		im.order = binary.BigEndian
	}
	return im, nil
}

// Params returns the image parameters
func (im *Image) Params() Params { return im.params }

// WordSize returns the target word size in bytes
func (im *Image) WordSize() uint64 { return im.params.WordSize }

// ByteOrder returns the target byte order
func (im *Image) ByteOrder() binary.ByteOrder { return im.order }

// Segments returns a copy of the image segments in address order
func (im *Image) Segments() []Segment {
	out := make([]Segment, len(im.segs))
	copy(out, im.segs)
	return out
}

// Size returns the total number of loaded bytes
func (im *Image) Size() uint64 {
	var n uint64
	for _, s := range im.segs {
		n += s.size()
	}
	return n
}

// Extent returns the lowest and one-past-highest loaded address
func (im *Image) Extent() (lo, hi Address) {
	if len(im.segs) == 0 {
		return 0, 0
	}
	return im.segs[0].Addr, Address(im.segs[len(im.segs)-1].end())
}

// Contains reports whether [addr, addr+n) lies inside a single segment
func (im *Image) Contains(addr Address, n uint64) bool {
	s, ok := im.segs.find(addr)
	return ok && s.containsRange(addr, n)
}

// ReadWord reads one target word at addr
func (im *Image) ReadWord(addr Address) (uint64, error) {
	ws := im.params.WordSize
	if uint64(addr)%ws != 0 {
		return 0, errors.Wrapf(ErrAlignment, "word read at %v (word size %d)", addr, ws)
	}
	b, err := im.slice(addr, ws)
	if err != nil {
		return 0, err
	}
	if ws == 4 {
		return uint64(im.order.Uint32(b)), nil
	}
	return im.order.Uint64(b), nil
}

// ReadBytes returns length bytes starting at addr. The returned slice
// aliases the image and must not be modified.
func (im *Image) ReadBytes(addr Address, length uint64) ([]byte, error) {
	return im.slice(addr, length)
}

func (im *Image) slice(addr Address, n uint64) ([]byte, error) {
	if im.closed {
		return nil, ErrClosed
	}
	s, ok := im.segs.find(addr)
	if !ok || !s.containsRange(addr, n) {
		return nil, errors.Wrapf(ErrOutOfRange, "read %v+%d", addr, n)
	}
	off := uint64(addr - s.Addr)
	return s.Data[off : off+n : off+n], nil
}

// Close releases any mapping backing the image
func (im *Image) Close() error {
	if im.closed {
		return nil
	}
	im.closed = true
	im.segs = nil
	if im.closer == nil {
		return nil
	}
	err := im.closer()
	im.closer = nil
	return err
}
