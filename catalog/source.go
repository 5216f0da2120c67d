// ABOUTME: Serializable catalog source documents in YAML and JSON
// ABOUTME: Converts a decoded Source into an immutable Catalog

package catalog

import (
	"io"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Source is the document form of a catalog
type Source struct {
	InstanceTypes map[int]string `json:"instance_types" yaml:"instance_types"`
	KnownMaps     []MapRecord    `json:"known_maps" yaml:"known_maps"`
	KnownObjects  []ObjectRecord `json:"known_objects" yaml:"known_objects"`
	FirstPages    []PageRecord   `json:"first_pages" yaml:"first_pages"`
	FrameMarkers  []string       `json:"frame_markers" yaml:"frame_markers"`
}

// MapRecord is one known map row
type MapRecord struct {
	Space  string `json:"space" yaml:"space"`
	Offset uint64 `json:"offset" yaml:"offset"`
	Type   int    `json:"type" yaml:"type"`
	Name   string `json:"name" yaml:"name"`
}

// ObjectRecord is one known object row
type ObjectRecord struct {
	Space  string `json:"space" yaml:"space"`
	Offset uint64 `json:"offset" yaml:"offset"`
	Name   string `json:"name" yaml:"name"`
}

// PageRecord is one first page row
type PageRecord struct {
	Address uint32 `json:"address" yaml:"address"`
	Space   string `json:"space" yaml:"space"`
}

// FromSource builds a catalog from a decoded document
func FromSource(src *Source) (*Catalog, error) {
	b := NewBuilder()
	for tag, name := range src.InstanceTypes {
		b.InstanceType(tag, name)
	}
	for _, m := range src.KnownMaps {
		b.KnownMap(m.Space, m.Offset, m.Type, m.Name)
	}
	for _, o := range src.KnownObjects {
		b.KnownObject(o.Space, o.Offset, o.Name)
	}
	for _, p := range src.FirstPages {
		b.FirstPage(p.Address, p.Space)
	}
	b.FrameMarkers(src.FrameMarkers...)
	return b.Build()
}

// ToSource renders the catalog back into document form
func (c *Catalog) ToSource() *Source {
	src := &Source{
		InstanceTypes: make(map[int]string, len(c.instanceTypes)),
		FrameMarkers:  c.FrameMarkers(),
	}
	for tag, name := range c.instanceTypes {
		src.InstanceTypes[tag] = name
	}
	for k, e := range c.knownMaps {
		src.KnownMaps = append(src.KnownMaps, MapRecord{Space: k.Space, Offset: k.Offset, Type: e.Type, Name: e.Name})
	}
	for k, name := range c.knownObjects {
		src.KnownObjects = append(src.KnownObjects, ObjectRecord{Space: k.Space, Offset: k.Offset, Name: name})
	}
	for _, p := range c.Spaces() {
		src.FirstPages = append(src.FirstPages, PageRecord{Address: p.Address, Space: p.Space})
	}
	return src
}

func decodeYAML(r io.Reader) (*Catalog, error) {
	var src Source
	if err := yaml.NewDecoder(r).Decode(&src); err != nil {
		return nil, errors.Wrap(err, "decoding YAML catalog")
	}
	return FromSource(&src)
}

func decodeJSON(r io.Reader) (*Catalog, error) {
	var src Source
	if err := json.NewDecoder(r).Decode(&src); err != nil {
		return nil, errors.Wrap(err, "decoding JSON catalog")
	}
	return FromSource(&src)
}
