// ABOUTME: Parser interface for memory image formats
// ABOUTME: Defines the contract for pluggable image parsers

package heapdump

import (
	"io"

	"github.com/prateek/heapgrok/memimage"
)

// Parser is the interface for image format parsers
type Parser interface {
	// Name identifies the format in logs and errors
	Name() string

	// CanParse checks if this parser can handle the given format.
	// The reader holds only a preview of the input.
	CanParse(r io.Reader) bool

	// Parse reads the whole input, positioned at the start, into an image
	Parse(r io.Reader) (*memimage.Image, error)
}
