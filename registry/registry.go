// Package registry maps opaque handles to driver objects and exposes the
// handle based register operation surface.
//
// A handle packs a slot index and the generation of that slot. Removing
// an object bumps the generation, so a handle that outlived its object
// resolves to nothing even after the slot is reused.
package registry

import (
	"fmt"
	"sync"

	"github.com/gammazero/deque"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/exp/slices"
)

// ErrHandleNotFound is returned for handles that are not registered or
// whose object lacks the requested capability.
var ErrHandleNotFound = errors.New("handle not found")

// Handle identifies a registered object. The zero Handle is never issued.
type Handle uint64

func newHandle(index int, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index+1))
}

func (h Handle) index() int {
	return int(uint32(h)) - 1
}

func (h Handle) generation() uint32 {
	return uint32(h >> 32)
}

func (h Handle) String() string {
	return fmt.Sprintf("%d:%d", h.index(), h.generation())
}

// Object is the lifecycle every registered driver object has.
type Object interface {
	Name() string
	Start() error
	Stop() error
}

type slot struct {
	obj  Object
	gen  uint32
	live bool
}

// Registry is safe for concurrent use. It does not serialize operations
// on the objects it holds; objects do that themselves.
type Registry struct {
	mu    sync.RWMutex
	slots []slot
	free  deque.Deque[int]
	names map[string]Handle
}

func New() *Registry {
	return &Registry{names: make(map[string]Handle)}
}

// Register adds obj and returns its handle. Names must be unique and
// non-empty. obj must be non-nil; a typed nil pointer is only rejected
// when its Name method tolerates a nil receiver and returns "".
func (r *Registry) Register(obj Object) (Handle, error) {
	if obj == nil {
		return 0, errors.New("nil object")
	}
	name := obj.Name()
	if name == "" {
		return 0, errors.New("empty name used for object")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.names[name]; exists {
		return 0, errors.Errorf("object %s already registered", name)
	}

	var index int
	if r.free.Len() > 0 {
		index = r.free.PopFront()
	} else {
		index = len(r.slots)
		r.slots = append(r.slots, slot{})
	}
	s := &r.slots[index]
	s.obj = obj
	s.live = true

	h := newHandle(index, s.gen)
	r.names[name] = h
	return h, nil
}

// Unregister removes the object behind h and returns it. The object is
// not stopped.
func (r *Registry) Unregister(h Handle) (Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.lookup(h)
	if s == nil {
		return nil, errors.Wrapf(ErrHandleNotFound, "unregister %s", h)
	}
	obj := s.obj
	delete(r.names, obj.Name())
	s.obj = nil
	s.live = false
	s.gen++
	r.free.PushBack(h.index())
	return obj, nil
}

// Resolve returns the object behind h if h is live and the object
// implements T.
func Resolve[T any](r *Registry, h Handle) (T, bool) {
	var zero T
	if r == nil {
		return zero, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.lookup(h)
	if s == nil {
		return zero, false
	}
	obj, ok := s.obj.(T)
	if !ok {
		return zero, false
	}
	return obj, true
}

// Lookup returns the handle registered for name.
func (r *Registry) Lookup(name string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.names[name]
	return h, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Handles returns the live handles in slot order.
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handles := make([]Handle, 0, len(r.names))
	for i, s := range r.slots {
		if s.live {
			handles = append(handles, newHandle(i, s.gen))
		}
	}
	return handles
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// StartAll starts every object in slot order and returns all errors.
func (r *Registry) StartAll() error {
	var err error
	for _, obj := range r.objects() {
		if e := obj.Start(); e != nil {
			err = multierr.Append(err, errors.Wrapf(e, "start %s", obj.Name()))
		}
	}
	return err
}

// StopAll stops every object in reverse slot order and returns all errors.
func (r *Registry) StopAll() error {
	objs := r.objects()
	var err error
	for i := len(objs) - 1; i >= 0; i-- {
		if e := objs[i].Stop(); e != nil {
			err = multierr.Append(err, errors.Wrapf(e, "stop %s", objs[i].Name()))
		}
	}
	return err
}

func (r *Registry) objects() []Object {
	r.mu.RLock()
	defer r.mu.RUnlock()
	objs := make([]Object, 0, len(r.names))
	for _, s := range r.slots {
		if s.live {
			objs = append(objs, s.obj)
		}
	}
	return objs
}

// lookup must be called with the lock held.
func (r *Registry) lookup(h Handle) *slot {
	i := h.index()
	if i < 0 || i >= len(r.slots) {
		return nil
	}
	s := &r.slots[i]
	if !s.live || s.gen != h.generation() {
		return nil
	}
	return s
}
