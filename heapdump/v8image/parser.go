// ABOUTME: Image parser for the binary v8 heap image format
// ABOUTME: Builds a memory image from the record stream and registers the format

// Package v8image reads and writes the binary heap image format: a fixed
// header followed by uvarint tagged records carrying the machine
// parameters, memory segments, root words and stack frame records.
package v8image

import (
	"io"

	"github.com/pkg/errors"

	"github.com/prateek/heapgrok/heapdump"
	"github.com/prateek/heapgrok/memimage"
)

// ErrNoParams is returned for an image without a params record
var ErrNoParams = errors.New("image has no params record")

// Parser implements heapdump.Parser for binary images
type Parser struct{}

var _ heapdump.Parser = (*Parser)(nil)

// Name identifies the format
func (p *Parser) Name() string { return "v8image" }

// CanParse checks the header
func (p *Parser) CanParse(r io.Reader) bool {
	header := make([]byte, len(Header))
	if _, err := io.ReadFull(r, header); err != nil {
		return false
	}
	return string(header) == Header
}

// Parse reads the image. Malformed records are fatal.
func (p *Parser) Parse(r io.Reader) (*memimage.Image, error) {
	var (
		params    memimage.Params
		gotParams bool
		segs      []memimage.Segment
		roots     []memimage.Root
		frames    []memimage.Frame
	)
	sp := NewStreamingParser(r, StreamCallbacks{
		OnParams: func(pp memimage.Params) error {
			if gotParams {
				return errors.New("duplicate params record")
			}
			params, gotParams = pp, true
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
	sp.SetErrorRecovery(0, false)
	if err := sp.Parse(); err != nil {
		return nil, err
	}
	if !gotParams {
		return nil, ErrNoParams
	}

	im, err := memimage.New(params, segs...)
	if err != nil {
		return nil, err
	}
	im.Roots = roots
	im.Frames = frames
	return im, nil
}

func init() {
	heapdump.Register(&Parser{})
}
