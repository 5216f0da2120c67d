// ABOUTME: Decoded heap object and the errors produced while decoding one
// ABOUTME: An Object carries its location, resolved type identity and ordered fields

package decoder

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/prateek/heapgrok/memimage"
)

var (
	// ErrCorruptObject is matched by every CorruptError
	ErrCorruptObject = errors.New("corrupt object")

	// ErrSmallInteger is returned when Decode is given a Smi instead of a pointer
	ErrSmallInteger = errors.New("small integer is not an object")

	// ErrUnmapped marks pointers into no known space
	ErrUnmapped = errors.New("pointer into unmapped space")

	// ErrClearedWeak marks cleared weak references
	ErrClearedWeak = errors.New("cleared weak reference")

	// ErrLengthLimit marks variable length parts that are negative or too long
	ErrLengthLimit = errors.New("length out of bounds")
)

// CorruptError reports an object whose map word cannot be resolved
type CorruptError struct {
	Addr   memimage.Address
	Reason string
	Err    error
}

func (e *CorruptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt object at %v: %s: %v", e.Addr, e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt object at %v: %s", e.Addr, e.Reason)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrCorruptObject) hold for every CorruptError
func (e *CorruptError) Is(target error) bool { return target == ErrCorruptObject }

// Object is a decoded heap object. Objects are shared through the decoder
// cache and must be treated as read-only.
type Object struct {
	Address memimage.Address
	Space   string
	Offset  uint64

	Map          memimage.Address
	InstanceType int
	TypeName     string
	// MapName is set when the map itself is a known map or known object
	MapName string
	// KnownName is set when the object is itself a known object or known map
	KnownName string

	Category Category
	Layout   string
	// Size is the number of bytes covered by the object's layout
	Size   uint64
	Fields []FieldValue
}

// Identity is the most specific type name known for the object
func (o *Object) Identity() string {
	if o.MapName != "" {
		return o.MapName
	}
	return o.TypeName
}

// References returns the fields that point at other objects, in field order
func (o *Object) References() []FieldValue {
	var refs []FieldValue
	for _, f := range o.Fields {
		if f.IsReference() {
			refs = append(refs, f)
		}
	}
	return refs
}

// Field returns the first field named name
func (o *Object) Field(name string) (FieldValue, bool) {
	for _, f := range o.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldValue{}, false
}

func (o *Object) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v %s+0x%x %s", o.Address, o.Space, o.Offset, o.Identity())
	if o.KnownName != "" {
		fmt.Fprintf(&b, " (%s)", o.KnownName)
	}
	fmt.Fprintf(&b, " [%d fields]", len(o.Fields))
	return b.String()
}
