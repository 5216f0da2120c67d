// ABOUTME: Immutable constants catalog mapping engine layout constants to names
// ABOUTME: Resolves instance type tags, known maps, known objects and heap first pages

// Package catalog holds the build-specific constant tables a heap decoder
// needs: instance type names, the maps and objects at fixed offsets of the
// read-only and old spaces, the first page of each heap space and the frame
// marker enumeration. A Catalog is built once and never mutated, so it can be
// shared between goroutines without locking.
package catalog

import (
	"fmt"
	"sort"
)

// Key identifies a location by space name and offset within the space.
// Offsets are tagged, exactly as they appear in the dump tool's tables.
type Key struct {
	Space  string
	Offset uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%s+0x%x", k.Space, k.Offset)
}

// MapEntry is a known map: the instance type it describes and its name
type MapEntry struct {
	Type int
	Name string
}

// Page associates the low 32 bits of a space's first page with the space
type Page struct {
	Address uint32
	Space   string
}

// Catalog is the read-only constants table
type Catalog struct {
	instanceTypes map[int]string
	knownMaps     map[Key]MapEntry
	knownObjects  map[Key]string
	firstPages    map[uint32]string
	frameMarkers  []string

	mapsByType map[int][]Key
}

// UnknownType formats the fallback name for a tag missing from the catalog
func UnknownType(tag int) string {
	return fmt.Sprintf("UNKNOWN_TYPE:%d", tag)
}

// ResolveInstanceType returns the name of tag, or "UNKNOWN_TYPE:<tag>"
func (c *Catalog) ResolveInstanceType(tag int) string {
	if name, ok := c.instanceTypes[tag]; ok {
		return name
	}
	return UnknownType(tag)
}

// ResolveMap looks up a known map by space and tagged offset
func (c *Catalog) ResolveMap(space string, offset uint64) (MapEntry, bool) {
	e, ok := c.knownMaps[Key{Space: space, Offset: offset}]
	return e, ok
}

// ResolveObject looks up a known object by space and tagged offset
func (c *Catalog) ResolveObject(space string, offset uint64) (string, bool) {
	name, ok := c.knownObjects[Key{Space: space, Offset: offset}]
	return name, ok
}

// SpaceFor returns the space whose first page has exactly these low 32 bits
func (c *Catalog) SpaceFor(addressLow32 uint32) (string, bool) {
	name, ok := c.firstPages[addressLow32]
	return name, ok
}

// MapsForType returns every known map describing tag, ordered by key.
// Several maps commonly share one instance type (the oddballs, for example).
func (c *Catalog) MapsForType(tag int) []Key {
	keys := c.mapsByType[tag]
	out := make([]Key, len(keys))
	copy(out, keys)
	return out
}

// Spaces returns the first page table sorted by address
func (c *Catalog) Spaces() []Page {
	pages := make([]Page, 0, len(c.firstPages))
	for addr, name := range c.firstPages {
		pages = append(pages, Page{Address: addr, Space: name})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Address < pages[j].Address })
	return pages
}

// FrameMarkers returns a copy of the ordered frame marker names
func (c *Catalog) FrameMarkers() []string {
	out := make([]string, len(c.frameMarkers))
	copy(out, c.frameMarkers)
	return out
}

// NumInstanceTypes returns the number of named instance types
func (c *Catalog) NumInstanceTypes() int { return len(c.instanceTypes) }

// NumKnownMaps returns the number of known maps
func (c *Catalog) NumKnownMaps() int { return len(c.knownMaps) }

// NumKnownObjects returns the number of known objects
func (c *Catalog) NumKnownObjects() int { return len(c.knownObjects) }
