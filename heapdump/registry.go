// ABOUTME: Registry for memory image parsers
// ABOUTME: Manages parser plugins and selects the parser for an input by sniffing

package heapdump

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/prateek/heapgrok/memimage"
)

// ErrNoParser is returned when no parser can handle the input format
var ErrNoParser = errors.New("no parser found for image format")

// sniffSize is how much of the input parsers see in CanParse
const sniffSize = 4096

type parserRegistry struct {
	mu      sync.RWMutex
	parsers []Parser
}

var registry = &parserRegistry{}

// Register adds a parser. Parsers are tried in registration order.
func Register(p Parser) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.parsers = append(registry.parsers, p)
}

// Parsers returns the registered parsers
func Parsers() []Parser {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	return append([]Parser(nil), registry.parsers...)
}

// Open reads an image with the first registered parser that accepts it
func Open(r io.Reader) (*memimage.Image, error) {
	detect := make([]byte, sniffSize)
	n, err := io.ReadFull(r, detect)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, errors.Wrap(err, "read image header")
	}
	detect = detect[:n]

	for _, p := range Parsers() {
		if !p.CanParse(bytes.NewReader(detect)) {
			continue
		}
		im, err := p.Parse(io.MultiReader(bytes.NewReader(detect), r))
		if err != nil {
			return nil, errors.Wrapf(err, "%s image", p.Name())
		}
		return im, nil
	}
	return nil, ErrNoParser
}

// OpenFile opens the image stored at path
func OpenFile(path string) (*memimage.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	im, err := Open(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return im, nil
}
