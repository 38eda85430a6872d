package cl

import (
	"fmt"
	"sync"
)

// Handle is an opaque object identifier. Zero is never issued and
// identifiers are never reused, so a destroyed handle cannot alias a
// newer object.
type Handle uint64

func (h Handle) String() string {
	return fmt.Sprintf("0x%04x", uint64(h))
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool { return h == 0 }

type (
	Context Handle
	Device  Handle
	Program Handle
	Kernel  Handle
)

func (c Context) String() string { return "context:" + Handle(c).String() }
func (d Device) String() string  { return "device:" + Handle(d).String() }
func (p Program) String() string { return "program:" + Handle(p).String() }
func (k Kernel) String() string  { return "kernel:" + Handle(k).String() }

type objectKind uint8

const (
	kindContext objectKind = iota + 1
	kindDevice
	kindProgram
	kindKernel
)

func (k objectKind) String() string {
	switch k {
	case kindContext:
		return "context"
	case kindDevice:
		return "device"
	case kindProgram:
		return "program"
	case kindKernel:
		return "kernel"
	default:
		return "unknown"
	}
}

// object is one registry entry. refs and data are guarded by mu; an
// object whose refs reached zero is dead even if still present in the map.
type object struct {
	mu     sync.RWMutex
	kind   objectKind
	refs   uint32
	data   any
	onFree func()
}

// registry maps handles to live objects.
type registry struct {
	mu      sync.RWMutex
	next    uint64
	objects map[Handle]*object
}

func newRegistry() *registry {
	return &registry{objects: make(map[Handle]*object)}
}

// add registers data with a reference count of one.
func (r *registry) add(kind objectKind, data any, onFree func()) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	h := Handle(r.next)
	r.objects[h] = &object{kind: kind, refs: 1, data: data, onFree: onFree}
	return h
}

func (r *registry) lookup(h Handle, kind objectKind) *object {
	r.mu.RLock()
	o := r.objects[h]
	r.mu.RUnlock()
	if o == nil || o.kind != kind {
		return nil
	}
	return o
}

// view runs fn with the object's data under its read lock. It returns
// false without calling fn when the handle is unknown, of another kind,
// or already destroyed.
func (r *registry) view(h Handle, kind objectKind, fn func(data any)) bool {
	o := r.lookup(h, kind)
	if o == nil {
		return false
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.refs == 0 {
		return false
	}
	fn(o.data)
	return true
}

// update is view under the write lock.
func (r *registry) update(h Handle, kind objectKind, fn func(data any)) bool {
	o := r.lookup(h, kind)
	if o == nil {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.refs == 0 {
		return false
	}
	fn(o.data)
	return true
}

func (r *registry) retain(h Handle, kind objectKind) (uint32, bool) {
	o := r.lookup(h, kind)
	if o == nil {
		return 0, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.refs == 0 {
		return 0, false
	}
	o.refs++
	return o.refs, true
}

// release drops one reference. Exactly one caller observes the transition
// to zero; that caller removes the entry and runs its free hook.
func (r *registry) release(h Handle, kind objectKind) (remaining uint32, ok bool) {
	o := r.lookup(h, kind)
	if o == nil {
		return 0, false
	}
	o.mu.Lock()
	if o.refs == 0 {
		o.mu.Unlock()
		return 0, false
	}
	o.refs--
	remaining = o.refs
	o.mu.Unlock()

	if remaining == 0 {
		r.free(h, o)
	}
	return remaining, true
}

// destroy forces an object to zero regardless of its count. Used for
// objects whose lifetime is tied to a parent.
func (r *registry) destroy(h Handle, kind objectKind) bool {
	o := r.lookup(h, kind)
	if o == nil {
		return false
	}
	o.mu.Lock()
	if o.refs == 0 {
		o.mu.Unlock()
		return false
	}
	o.refs = 0
	o.mu.Unlock()
	r.free(h, o)
	return true
}

func (r *registry) free(h Handle, o *object) {
	r.mu.Lock()
	delete(r.objects, h)
	r.mu.Unlock()
	if o.onFree != nil {
		o.onFree()
	}
}

// refCount returns a snapshot of the count, or false for a dead handle.
func (r *registry) refCount(h Handle, kind objectKind) (uint32, bool) {
	o := r.lookup(h, kind)
	if o == nil {
		return 0, false
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.refs, o.refs > 0
}

// live returns the number of registered objects of the given kind.
func (r *registry) live(kind objectKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, o := range r.objects {
		if o.kind == kind {
			n++
		}
	}
	return n
}
