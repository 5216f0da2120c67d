// ABOUTME: Resolves absolute addresses to heap spaces and offsets within them
// ABOUTME: Uses the catalog's first page table, optionally a multi-page range table

package space

import (
	"fmt"
	"sort"

	"github.com/prateek/heapgrok/catalog"
	"github.com/prateek/heapgrok/memimage"
)

// Unmapped is the space name given to addresses no table covers
const Unmapped = "unmapped"

// DefaultPageSize is the engine's regular page size (256 KiB)
const DefaultPageSize = 1 << 18

// Location is the result of classifying an address
type Location struct {
	Space  string
	Offset uint64
	Mapped bool
}

func (l Location) String() string {
	return fmt.Sprintf("%s+0x%x", l.Space, l.Offset)
}

// Range is a span of addresses belonging to one space
type Range struct {
	Base  memimage.Address
	Size  uint64
	Space string
}

func (r Range) contains(addr memimage.Address) bool {
	return r.Base <= addr && uint64(addr-r.Base) < r.Size
}

// Resolver classifies addresses. It is immutable after construction.
type Resolver struct {
	cat      *catalog.Catalog
	pageMask uint64
	ranges   []Range
}

// Option configures a Resolver
type Option func(*Resolver)

// WithPageSize sets the page size used to find an address's page base.
// size must be a power of two.
func WithPageSize(size uint64) Option {
	return func(r *Resolver) {
		if size != 0 && size&(size-1) == 0 {
			r.pageMask = ^(size - 1)
		}
	}
}

// WithRange registers a multi-page span for a space. Ranges are consulted
// before the first page table.
func WithRange(base memimage.Address, size uint64, space string) Option {
	return func(r *Resolver) {
		r.ranges = append(r.ranges, Range{Base: base, Size: size, Space: space})
	}
}

// NewResolver builds a resolver over cat
func NewResolver(cat *catalog.Catalog, opts ...Option) *Resolver {
	r := &Resolver{cat: cat, pageMask: ^uint64(DefaultPageSize - 1)}
	for _, opt := range opts {
		opt(r)
	}
	sort.Slice(r.ranges, func(i, j int) bool { return r.ranges[i].Base < r.ranges[j].Base })
	return r
}

// Classify maps addr to its space and the offset from that space's base.
// Addresses outside every known space classify as Unmapped with the
// address itself as the offset.
func (r *Resolver) Classify(addr memimage.Address) Location {
	if rg, ok := r.findRange(addr); ok {
		return Location{Space: rg.Space, Offset: uint64(addr - rg.Base), Mapped: true}
	}

	base := uint64(addr) & r.pageMask
	if name, ok := r.cat.SpaceFor(uint32(base)); ok {
		return Location{Space: name, Offset: uint64(addr) - base, Mapped: true}
	}
	return Location{Space: Unmapped, Offset: uint64(addr)}
}

// Ranges returns the registered range table in address order
func (r *Resolver) Ranges() []Range {
	out := make([]Range, len(r.ranges))
	copy(out, r.ranges)
	return out
}

func (r *Resolver) findRange(addr memimage.Address) (Range, bool) {
	k := sort.Search(len(r.ranges), func(k int) bool {
		return addr < r.ranges[k].Base
	})
	k--
	if k >= 0 && r.ranges[k].contains(addr) {
		return r.ranges[k], true
	}
	return Range{}, false
}
