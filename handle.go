package duckling

import (
	"fmt"
	"sync"
)

// ResourceKind identifies the kind of engine resource a Handle refers to.
type ResourceKind uint8

const (
	DatabaseResource ResourceKind = iota + 1
	ConnectionResource
	StatementResource
	ResultResource
	AppenderResource

	resourceKinds = int(AppenderResource) + 1
)

var resourceKindNames = [resourceKinds]string{
	DatabaseResource:   "database",
	ConnectionResource: "connection",
	StatementResource:  "statement",
	ResultResource:     "query result",
	AppenderResource:   "appender",
}

func (k ResourceKind) String() string {
	if k > 0 && int(k) < resourceKinds {
		return resourceKindNames[k]
	}
	return fmt.Sprintf("resource(%d)", uint8(k))
}

// Handle is the opaque identity of a resource: a slot index in the arena of
// its kind plus the generation the slot had when the resource was created.
// The zero Handle never refers to anything.
type Handle struct {
	Kind       ResourceKind
	Index      uint32
	Generation uint32
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool {
	return h == Handle{}
}

func (h Handle) String() string {
	return fmt.Sprintf("%s#%d.%d", h.Kind, h.Index, h.Generation)
}

type slot[T any] struct {
	gen  uint32
	live bool
	val  T
}

// arena stores values in reusable slots. Every reuse of a slot bumps its
// generation, so an (index, generation) pair taken before a removal never
// matches again. Not safe for concurrent use.
type arena[T any] struct {
	slots []slot[T]
	free  []uint32
	live  int
}

func (a *arena[T]) insert(v T) (index, gen uint32) {
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot[T]{})
		index = uint32(len(a.slots) - 1)
	}

	s := &a.slots[index]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.live = true
	s.val = v
	a.live++
	return index, s.gen
}

func (a *arena[T]) get(index, gen uint32) (T, bool) {
	var zero T
	if int(index) >= len(a.slots) {
		return zero, false
	}
	s := &a.slots[index]
	if !s.live || s.gen != gen {
		return zero, false
	}
	return s.val, true
}

func (a *arena[T]) remove(index, gen uint32) (T, bool) {
	v, ok := a.get(index, gen)
	if !ok {
		return v, false
	}
	s := &a.slots[index]
	var zero T
	s.val = zero
	s.live = false
	a.free = append(a.free, index)
	a.live--
	return v, true
}

func (a *arena[T]) len() int {
	return a.live
}

// record is the registry's view of a live resource.
type record struct {
	parent   Handle
	children map[Handle]struct{}
	// teardown releases the engine-side resource when the record goes away
	// because an ancestor closed.
	teardown func() error
}

// registry owns one arena per resource kind and the ownership edges between
// records. All methods are safe for concurrent use.
type registry struct {
	mu     sync.Mutex
	arenas [resourceKinds]arena[*record]
}

var handles registry

func (r *registry) lookup(h Handle) (*record, bool) {
	if h.Kind == 0 || int(h.Kind) >= resourceKinds {
		return nil, false
	}
	return r.arenas[h.Kind].get(h.Index, h.Generation)
}

// register creates a record of the given kind under parent. A zero parent
// makes a root. It fails with a ClosedHandle error if parent is not live.
func (r *registry) register(kind ResourceKind, parent Handle, teardown func() error) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var parentRec *record
	if !parent.IsZero() {
		var ok bool
		if parentRec, ok = r.lookup(parent); !ok {
			return Handle{}, closedError(parent.Kind)
		}
	}

	rec := &record{parent: parent, teardown: teardown}
	index, gen := r.arenas[kind].insert(rec)
	h := Handle{Kind: kind, Index: index, Generation: gen}
	if parentRec != nil {
		if parentRec.children == nil {
			parentRec.children = make(map[Handle]struct{})
		}
		parentRec.children[h] = struct{}{}
	}

	recordHandleOpened(kind)
	return h, nil
}

// check returns nil while h is live and a ClosedHandle error afterwards.
func (r *registry) check(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lookup(h); !ok {
		return closedError(h.Kind)
	}
	return nil
}

// children returns the number of live records directly owned by h.
func (r *registry) children(h Handle) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.lookup(h)
	if !ok {
		return 0, closedError(h.Kind)
	}
	return len(rec.children), nil
}

// release invalidates h and, when cascade is set, everything it owns. The
// teardown of every descendant runs after the registry lock is dropped,
// deepest first; h's own teardown is left to the caller. Without cascade a
// record that still owns children is not released and ResourceBusy is
// returned.
func (r *registry) release(h Handle, cascade bool) error {
	r.mu.Lock()
	rec, ok := r.lookup(h)
	if !ok {
		r.mu.Unlock()
		return closedError(h.Kind)
	}
	if !cascade && len(rec.children) > 0 {
		r.mu.Unlock()
		return &Error{
			Type:    ResourceBusy,
			Message: fmt.Sprintf("%s still owns %d open resources", h.Kind, len(rec.children)),
		}
	}

	if parentRec, ok := r.lookup(rec.parent); ok {
		delete(parentRec.children, h)
	}

	var pending []pendingTeardown
	r.drop(h, rec, &pending)
	r.mu.Unlock()

	for _, p := range pending {
		if p.fn == nil {
			continue
		}
		if err := p.fn(); err != nil {
			logger().Warn("closing owned resource", "handle", p.h.String(), "error", err)
		}
	}
	return nil
}

type pendingTeardown struct {
	h  Handle
	fn func() error
}

// drop removes h and its subtree from the arenas. Must be called with r.mu
// held.
func (r *registry) drop(h Handle, rec *record, pending *[]pendingTeardown) {
	for child := range rec.children {
		if childRec, ok := r.lookup(child); ok {
			r.drop(child, childRec, pending)
			*pending = append(*pending, pendingTeardown{h: child, fn: childRec.teardown})
		}
	}
	rec.children = nil
	r.arenas[h.Kind].remove(h.Index, h.Generation)
	recordHandleClosed(h.Kind)
}

// HandleStats counts live handles per resource kind.
type HandleStats struct {
	Databases   int
	Connections int
	Statements  int
	Results     int
	Appenders   int
}

// Stats reports how many handles of each kind are currently live.
func Stats() HandleStats {
	handles.mu.Lock()
	defer handles.mu.Unlock()
	return HandleStats{
		Databases:   handles.arenas[DatabaseResource].len(),
		Connections: handles.arenas[ConnectionResource].len(),
		Statements:  handles.arenas[StatementResource].len(),
		Results:     handles.arenas[ResultResource].len(),
		Appenders:   handles.arenas[AppenderResource].len(),
	}
}
