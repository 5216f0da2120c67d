// ABOUTME: Labels stack frame records with frame type names
// ABOUTME: Looks markers up in the catalog's ordered frame marker table

// Package frames turns frame type markers into names. The marker table is a
// closed enumeration, so an index outside it is always an error.
package frames

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/prateek/heapgrok/catalog"
	"github.com/prateek/heapgrok/memimage"
)

var (
	// ErrUnknownFrameMarker is returned for an index outside the marker table
	ErrUnknownFrameMarker = errors.New("unknown frame marker")

	// ErrNotMarker is returned for a frame slot that holds a pointer rather
	// than a Smi encoded marker
	ErrNotMarker = errors.New("frame slot is not a type marker")
)

// Annotated is a frame record with its label or the reason it has none
type Annotated struct {
	memimage.Frame
	Label string
	Err   error
}

// Annotator labels frames. It is immutable and safe for concurrent use.
type Annotator struct {
	markers []string
	log     *zap.Logger
}

// Option configures an Annotator
type Option func(*Annotator)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(a *Annotator) { a.log = l }
}

// New creates an annotator over the catalog's frame markers
func New(cat *catalog.Catalog, opts ...Option) *Annotator {
	a := &Annotator{markers: cat.FrameMarkers(), log: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// LabelFrame returns the name of marker index idx
func (a *Annotator) LabelFrame(idx int) (string, error) {
	if idx < 0 || idx >= len(a.markers) {
		return "", errors.Wrapf(ErrUnknownFrameMarker, "index %d (table has %d)", idx, len(a.markers))
	}
	return a.markers[idx], nil
}

// LabelMarkerWord decodes a marker as stored in a frame slot, the index
// shifted left by one with the Smi tag bit clear, and labels it
func (a *Annotator) LabelMarkerWord(word uint64) (string, error) {
	if word&1 != 0 {
		return "", errors.Wrapf(ErrNotMarker, "0x%x", word)
	}
	return a.LabelFrame(int(int32(uint32(word)) >> 1))
}

// Annotate labels every frame. A frame that cannot be labelled keeps its
// error; the others are unaffected.
func (a *Annotator) Annotate(frames []memimage.Frame) []Annotated {
	out := make([]Annotated, len(frames))
	for i, f := range frames {
		out[i].Frame = f
		out[i].Label, out[i].Err = a.LabelMarkerWord(f.Marker)
		if out[i].Err != nil {
			a.log.Debug("unlabelled frame", zap.Int("frame", i), zap.Stringer("fp", f.FP), zap.Error(out[i].Err))
		}
	}
	return out
}
