// ABOUTME: Builder for constants catalogs
// ABOUTME: Collects table entries and rejects duplicate keys before freezing

package catalog

import (
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ErrDuplicateKey is reported for every key that appears twice in one table
var ErrDuplicateKey = errors.New("duplicate catalog key")

// Builder accumulates catalog entries. It is not safe for concurrent use.
// The zero value is not usable; call NewBuilder.
type Builder struct {
	c   *Catalog
	err error
}

// NewBuilder returns an empty builder
func NewBuilder() *Builder {
	return &Builder{c: &Catalog{
		instanceTypes: make(map[int]string),
		knownMaps:     make(map[Key]MapEntry),
		knownObjects:  make(map[Key]string),
		firstPages:    make(map[uint32]string),
		mapsByType:    make(map[int][]Key),
	}}
}

// InstanceType adds a tag -> name entry
func (b *Builder) InstanceType(tag int, name string) *Builder {
	if prev, ok := b.c.instanceTypes[tag]; ok {
		b.err = multierr.Append(b.err, errors.Wrapf(ErrDuplicateKey, "instance type %d (%s, %s)", tag, prev, name))
		return b
	}
	b.c.instanceTypes[tag] = name
	return b
}

// KnownMap adds a (space, offset) -> (tag, name) entry
func (b *Builder) KnownMap(space string, offset uint64, tag int, name string) *Builder {
	k := Key{Space: space, Offset: offset}
	if prev, ok := b.c.knownMaps[k]; ok {
		b.err = multierr.Append(b.err, errors.Wrapf(ErrDuplicateKey, "known map %v (%s, %s)", k, prev.Name, name))
		return b
	}
	b.c.knownMaps[k] = MapEntry{Type: tag, Name: name}
	b.c.mapsByType[tag] = append(b.c.mapsByType[tag], k)
	return b
}

// KnownObject adds a (space, offset) -> name entry
func (b *Builder) KnownObject(space string, offset uint64, name string) *Builder {
	k := Key{Space: space, Offset: offset}
	if prev, ok := b.c.knownObjects[k]; ok {
		b.err = multierr.Append(b.err, errors.Wrapf(ErrDuplicateKey, "known object %v (%s, %s)", k, prev, name))
		return b
	}
	b.c.knownObjects[k] = name
	return b
}

// FirstPage adds a page base -> space entry
func (b *Builder) FirstPage(addressLow32 uint32, space string) *Builder {
	if prev, ok := b.c.firstPages[addressLow32]; ok {
		b.err = multierr.Append(b.err, errors.Wrapf(ErrDuplicateKey, "first page 0x%x (%s, %s)", addressLow32, prev, space))
		return b
	}
	b.c.firstPages[addressLow32] = space
	return b
}

// FrameMarkers appends marker names in enumeration order
func (b *Builder) FrameMarkers(names ...string) *Builder {
	seen := make(map[string]bool, len(b.c.frameMarkers))
	for _, n := range b.c.frameMarkers {
		seen[n] = true
	}
	for _, n := range names {
		if seen[n] {
			b.err = multierr.Append(b.err, errors.Wrapf(ErrDuplicateKey, "frame marker %s", n))
			continue
		}
		seen[n] = true
		b.c.frameMarkers = append(b.c.frameMarkers, n)
	}
	return b
}

// Build freezes the catalog. Every duplicate seen is reported in the
// returned error. The builder must not be used afterwards.
func (b *Builder) Build() (*Catalog, error) {
	if b.err != nil {
		return nil, b.err
	}
	c := b.c
	b.c = nil
	for tag, keys := range c.mapsByType {
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].Space != keys[j].Space {
				return keys[i].Space < keys[j].Space
			}
			return keys[i].Offset < keys[j].Offset
		})
		c.mapsByType[tag] = keys
	}
	return c, nil
}
