// ABOUTME: Object decoder turning tagged pointers into decoded heap objects
// ABOUTME: Resolves maps through the catalog and caches every decode by address

// Package decoder reads heap objects out of a memory image. It resolves an
// object's map to an instance type, picks a field layout for that type and
// decodes each field into a small integer, a reference, raw bytes or an
// unresolved value. Decodes are cached per address, so a Decoder represents
// one traversal; use Clone for a fresh one.
package decoder

import (
	"encoding/binary"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/prateek/heapgrok/catalog"
	"github.com/prateek/heapgrok/memimage"
	"github.com/prateek/heapgrok/space"
)

// DefaultMaxElements caps the decoded variable length part of an object
const DefaultMaxElements = 1 << 16

// Memory is the read access the decoder needs. *memimage.Image satisfies it.
type Memory interface {
	ReadWord(addr memimage.Address) (uint64, error)
	ReadBytes(addr memimage.Address, length uint64) ([]byte, error)
	Contains(addr memimage.Address, n uint64) bool
	WordSize() uint64
	ByteOrder() binary.ByteOrder
}

// Option configures a Decoder
type Option func(*Decoder)

// WithTagging overrides the pointer tagging scheme
func WithTagging(t Tagging) Option {
	return func(d *Decoder) { d.tagging = t }
}

// WithResolver sets the space resolver. The default uses the catalog's
// first page table with the default page size.
func WithResolver(r *space.Resolver) Option {
	return func(d *Decoder) { d.resolver = r }
}

// WithLayouts replaces the layout table
func WithLayouts(l *Layouts) Option {
	return func(d *Decoder) { d.layouts = l }
}

// WithMaxElements caps the number of elements decoded per object
func WithMaxElements(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxElements = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(d *Decoder) { d.log = l }
}

// Stats counts decoder activity
type Stats struct {
	Decoded uint64
	Hits    uint64
	Corrupt uint64
}

type entry struct {
	done chan struct{}
	obj  *Object
	err  error
}

// Decoder decodes objects from one image. It is safe for concurrent use:
// the first caller for an address claims it and later callers wait for and
// share that result.
type Decoder struct {
	cat         *catalog.Catalog
	mem         Memory
	resolver    *space.Resolver
	tagging     Tagging
	layouts     *Layouts
	maxElements int
	log         *zap.Logger

	mu    sync.Mutex
	cache map[memimage.Address]*entry

	decoded atomic.Uint64
	hits    atomic.Uint64
	corrupt atomic.Uint64
}

// New creates a decoder over mem using cat for names and spaces
func New(cat *catalog.Catalog, mem Memory, opts ...Option) *Decoder {
	d := &Decoder{
		cat:         cat,
		mem:         mem,
		tagging:     DefaultTagging(mem.WordSize()),
		maxElements: DefaultMaxElements,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.resolver == nil {
		d.resolver = space.NewResolver(cat)
	}
	if d.layouts == nil {
		d.layouts = DefaultLayouts()
	}
	d.cache = make(map[memimage.Address]*entry)
	return d
}

// Clone returns a decoder with the same configuration and an empty cache
func (d *Decoder) Clone() *Decoder {
	return &Decoder{
		cat:         d.cat,
		mem:         d.mem,
		resolver:    d.resolver,
		tagging:     d.tagging,
		layouts:     d.layouts,
		maxElements: d.maxElements,
		log:         d.log,
		cache:       make(map[memimage.Address]*entry),
	}
}

// Catalog returns the catalog the decoder resolves names with
func (d *Decoder) Catalog() *catalog.Catalog { return d.cat }

// Resolver returns the space resolver
func (d *Decoder) Resolver() *space.Resolver { return d.resolver }

// Tagging returns the tagging scheme in use
func (d *Decoder) Tagging() Tagging { return d.tagging }

// Stats returns a snapshot of the counters
func (d *Decoder) Stats() Stats {
	return Stats{
		Decoded: d.decoded.Load(),
		Hits:    d.hits.Load(),
		Corrupt: d.corrupt.Load(),
	}
}

// Value interprets a tagged word as a field value
func (d *Decoder) Value(name string, word uint64) FieldValue {
	t := d.tagging
	if t.IsSmi(word) {
		return SmallInteger(name, t.SmiValue(word, d.mem.WordSize()))
	}
	weak := t.IsWeak(word)
	if weak && t.IsCleared(word) {
		return Unresolved(name, word, ErrClearedWeak)
	}
	addr := t.Untag(word)
	loc := d.resolver.Classify(addr)
	if !loc.Mapped {
		return Unresolved(name, word, errors.Wrapf(ErrUnmapped, "%v", addr))
	}
	if !d.mem.Contains(addr, d.mem.WordSize()) {
		return Unresolved(name, word, errors.Wrapf(memimage.ErrOutOfRange, "%v in %s", addr, loc))
	}
	return Reference(name, addr, weak)
}

// Decode decodes the object a tagged pointer refers to. Repeated calls for
// the same object return the same *Object (or the same error).
func (d *Decoder) Decode(word uint64) (*Object, error) {
	if d.tagging.IsSmi(word) {
		return nil, ErrSmallInteger
	}
	return d.DecodeAddress(d.tagging.Untag(word))
}

// DecodeAddress decodes the object starting at an untagged address
func (d *Decoder) DecodeAddress(addr memimage.Address) (*Object, error) {
	d.mu.Lock()
	if e, ok := d.cache[addr]; ok {
		d.mu.Unlock()
		<-e.done
		d.hits.Inc()
		return e.obj, e.err
	}
	e := &entry{done: make(chan struct{})}
	d.cache[addr] = e
	d.mu.Unlock()

	e.obj, e.err = d.decode(addr)
	close(e.done)

	if e.err != nil {
		d.corrupt.Inc()
		d.log.Debug("decode failed", zap.Stringer("addr", addr), zap.Error(e.err))
	} else {
		d.decoded.Inc()
	}
	return e.obj, e.err
}

func (d *Decoder) decode(addr memimage.Address) (*Object, error) {
	ws := d.mem.WordSize()
	mapWord, err := d.mem.ReadWord(addr)
	if err != nil {
		return nil, &CorruptError{Addr: addr, Reason: "header unreadable", Err: err}
	}
	if d.tagging.IsSmi(mapWord) {
		return nil, &CorruptError{Addr: addr, Reason: "map word is a small integer"}
	}
	mapAddr := d.tagging.Untag(mapWord)
	mapLoc := d.resolver.Classify(mapAddr)
	if !mapLoc.Mapped {
		return nil, &CorruptError{Addr: addr, Reason: "map in no known space", Err: errors.Wrapf(ErrUnmapped, "%v", mapAddr)}
	}
	if !d.mem.Contains(mapAddr, ws) {
		return nil, &CorruptError{Addr: addr, Reason: "map outside image", Err: errors.Wrapf(memimage.ErrOutOfRange, "%v", mapAddr)}
	}

	loc := d.resolver.Classify(addr)
	obj := &Object{Address: addr, Space: loc.Space, Offset: loc.Offset, Map: mapAddr}

	mapKey := mapLoc.Offset + d.tagging.HeapObjectTag
	if me, ok := d.cat.ResolveMap(mapLoc.Space, mapKey); ok {
		obj.InstanceType = me.Type
		obj.MapName = me.Name
	} else {
		tag, err := d.instanceType(mapAddr)
		if err != nil {
			return nil, &CorruptError{Addr: addr, Reason: "map instance type unreadable", Err: err}
		}
		obj.InstanceType = tag
		if name, ok := d.cat.ResolveObject(mapLoc.Space, mapKey); ok {
			obj.MapName = name
		}
	}
	obj.TypeName = d.cat.ResolveInstanceType(obj.InstanceType)
	if loc.Mapped {
		key := loc.Offset + d.tagging.HeapObjectTag
		if name, ok := d.cat.ResolveObject(loc.Space, key); ok {
			obj.KnownName = name
		} else if me, ok := d.cat.ResolveMap(loc.Space, key); ok {
			obj.KnownName = me.Name
		}
	}

	schema := d.layouts.Lookup(obj.InstanceType, obj.TypeName)
	obj.Category = schema.Category
	obj.Layout = schema.Name
	d.decodeFields(obj, schema)
	return obj, nil
}

// instanceType reads the instance type half-word of a map that is not in
// the catalog
func (d *Decoder) instanceType(mapAddr memimage.Address) (int, error) {
	b, err := d.mem.ReadBytes(mapAddr+memimage.Address(d.mem.WordSize()+4), 2)
	if err != nil {
		return 0, err
	}
	return int(d.mem.ByteOrder().Uint16(b)), nil
}

func (d *Decoder) decodeFields(obj *Object, s *Schema) {
	offs, end := s.Offsets(d.mem.WordSize())
	for i, slot := range s.Slots {
		at := obj.Address + memimage.Address(offs[i])
		obj.Fields = append(obj.Fields, d.readSlot(slot.Name, at, slot, d.mem.WordSize()))
	}
	if s.Elements != nil {
		if e := d.decodeElements(obj, s.Elements, end); e > end {
			end = e
		}
	}
	obj.Size = end
}

func (d *Decoder) readSlot(name string, at memimage.Address, slot Slot, ws uint64) FieldValue {
	switch slot.Kind {
	case SlotRaw:
		b, err := d.mem.ReadBytes(at, slot.size(ws))
		if err != nil {
			return Unresolved(name, 0, err)
		}
		return RawBytes(name, append([]byte(nil), b...))
	case SlotInt32:
		b, err := d.mem.ReadBytes(at, 4)
		if err != nil {
			return Unresolved(name, 0, err)
		}
		return SmallInteger(name, int64(int32(d.mem.ByteOrder().Uint32(b))))
	}
	w, err := d.mem.ReadWord(at)
	if err != nil {
		return Unresolved(name, 0, err)
	}
	return d.Value(name, w)
}

// decodeElements appends the variable length part starting at byte offset
// start and returns the byte extent it covers
func (d *Decoder) decodeElements(obj *Object, el *Elements, start uint64) uint64 {
	ws := d.mem.WordSize()
	lengthField, ok := obj.Field(el.Count)
	if !ok || lengthField.Kind != KindSmallInteger {
		obj.Fields = append(obj.Fields, Unresolved(el.Name, lengthField.Word,
			errors.Wrapf(ErrLengthLimit, "%s is not a small integer", el.Count)))
		return 0
	}
	n := lengthField.Int + int64(el.Adjust)
	if el.Group != nil && n > 0 {
		n /= int64(len(el.Group))
	}
	if n < 0 || n > int64(d.maxElements) {
		obj.Fields = append(obj.Fields, Unresolved(el.Name, uint64(lengthField.Int),
			errors.Wrapf(ErrLengthLimit, "%s=%d", el.Count, lengthField.Int)))
		return 0
	}

	base := obj.Address + memimage.Address(start)
	if el.Kind == SlotRaw {
		size := uint64(n) * uint64(el.Width)
		b, err := d.mem.ReadBytes(base, size)
		if err != nil {
			obj.Fields = append(obj.Fields, Unresolved(el.Name, 0, err))
			return 0
		}
		obj.Fields = append(obj.Fields, RawBytes(el.Name, append([]byte(nil), b...)))
		return align(start+size, ws)
	}

	per := 1
	if el.Group != nil {
		per = len(el.Group)
	}
	elem := Slot{Kind: SlotTagged}
	for i := int64(0); i < n; i++ {
		for k := 0; k < per; k++ {
			name := elementName(el, i, k)
			at := base + memimage.Address((uint64(i)*uint64(per)+uint64(k))*ws)
			obj.Fields = append(obj.Fields, d.readSlot(name, at, elem, ws))
		}
	}
	return start + uint64(n)*uint64(per)*ws
}

func elementName(el *Elements, i int64, k int) string {
	if el.Group == nil {
		return el.Name + "[" + strconv.FormatInt(i, 10) + "]"
	}
	return el.Name + "[" + strconv.FormatInt(i, 10) + "]." + el.Group[k]
}

func align(n, to uint64) uint64 {
	return (n + to - 1) &^ (to - 1)
}
