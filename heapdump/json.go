// ABOUTME: JSON memory image format used for fixtures and small captures
// ABOUTME: Segments are hex encoded; addresses and words are hex strings

package heapdump

import (
	"bytes"
	"encoding/hex"
	"io"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/prateek/heapgrok/memimage"
)

// JSONImage reads the JSON image format
type JSONImage struct{}

// Hex is a uint64 written as a "0x..." string
type Hex uint64

// MarshalJSON writes h as a hex string
func (h Hex) MarshalJSON() ([]byte, error) {
	return []byte(`"0x` + strconv.FormatUint(uint64(h), 16) + `"`), nil
}

// UnmarshalJSON accepts a hex or decimal string, or a bare number
func (h *Hex) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return errors.Wrapf(err, "bad address %s", b)
	}
	*h = Hex(v)
	return nil
}

// JSONDocument is the on-disk form of a JSON image
type JSONDocument struct {
	Params   memimage.Params `json:"params"`
	Segments []JSONSegment   `json:"segments"`
	Roots    []JSONRoot      `json:"roots,omitempty"`
	Frames   []JSONFrame     `json:"frames,omitempty"`
}

// JSONSegment is one contiguous span of memory
type JSONSegment struct {
	Addr Hex    `json:"addr"`
	Data string `json:"data"`
}

// JSONRoot is a traversal root
type JSONRoot struct {
	Desc string `json:"desc"`
	Word Hex    `json:"word"`
}

// JSONFrame is a stack frame record
type JSONFrame struct {
	Marker Hex `json:"marker"`
	FP     Hex `json:"fp"`
	PC     Hex `json:"pc"`
}

// Name identifies the format
func (p *JSONImage) Name() string { return "json" }

// CanParse checks for a JSON object with a segments key
func (p *JSONImage) CanParse(r io.Reader) bool {
	buf := make([]byte, sniffSize)
	n, _ := io.ReadFull(r, buf)
	head := bytes.TrimSpace(buf[:n])
	return len(head) > 0 && head[0] == '{' && bytes.Contains(head, []byte(`"segments"`))
}

// Parse decodes the document and builds the image
func (p *JSONImage) Parse(r io.Reader) (*memimage.Image, error) {
	var doc JSONDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decode json image")
	}
	return doc.Image()
}

// Image validates the document and converts it to an image. Every bad
// segment is reported.
func (doc *JSONDocument) Image() (*memimage.Image, error) {
	var errs error
	segs := make([]memimage.Segment, 0, len(doc.Segments))
	for i, s := range doc.Segments {
		data, err := hex.DecodeString(s.Data)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "segment %d at 0x%x", i, uint64(s.Addr)))
			continue
		}
		segs = append(segs, memimage.Segment{Addr: memimage.Address(s.Addr), Data: data})
	}
	if errs != nil {
		return nil, errs
	}

	im, err := memimage.New(doc.Params, segs...)
	if err != nil {
		return nil, err
	}
	for _, r := range doc.Roots {
		im.Roots = append(im.Roots, memimage.Root{Desc: r.Desc, Word: uint64(r.Word)})
	}
	for _, f := range doc.Frames {
		im.Frames = append(im.Frames, memimage.Frame{
			Marker: uint64(f.Marker),
			FP:     memimage.Address(f.FP),
			PC:     memimage.Address(f.PC),
		})
	}
	return im, nil
}

// EncodeJSON writes im in the JSON image format
func EncodeJSON(w io.Writer, im *memimage.Image) error {
	doc := JSONDocument{Params: im.Params()}
	for _, s := range im.Segments() {
		doc.Segments = append(doc.Segments, JSONSegment{Addr: Hex(s.Addr), Data: hex.EncodeToString(s.Data)})
	}
	for _, r := range im.Roots {
		doc.Roots = append(doc.Roots, JSONRoot{Desc: r.Desc, Word: Hex(r.Word)})
	}
	for _, f := range im.Frames {
		doc.Frames = append(doc.Frames, JSONFrame{Marker: Hex(f.Marker), FP: Hex(f.FP), PC: Hex(f.PC)})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(&doc)
}

func init() {
	Register(&JSONImage{})
}
