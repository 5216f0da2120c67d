// ABOUTME: Format selection for catalog files
// ABOUTME: Chooses the YAML, JSON or grokdump reader from the file extension

package catalog

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Format names a catalog file format
type Format string

const (
	FormatYAML     Format = "yaml"
	FormatJSON     Format = "json"
	FormatGrokdump Format = "grokdump"
)

// ErrUnknownFormat is returned for catalog files with an unrecognized extension
var ErrUnknownFormat = errors.New("unknown catalog format")

// FormatFor picks a format from a file name
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".py":
		return FormatGrokdump, nil
	}
	return "", errors.Wrapf(ErrUnknownFormat, "%q", path)
}

// Parse reads a catalog in the given format
func Parse(r io.Reader, format Format) (*Catalog, error) {
	switch format {
	case FormatYAML:
		return decodeYAML(r)
	case FormatJSON:
		return decodeJSON(r)
	case FormatGrokdump:
		return ParseGrokdump(r)
	}
	return nil, errors.Wrapf(ErrUnknownFormat, "%q", format)
}

// Load reads the catalog file at path
func Load(path string) (*Catalog, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c, err := Parse(f, format)
	if err != nil {
		return nil, errors.Wrapf(err, "loading catalog %q", path)
	}
	return c, nil
}
