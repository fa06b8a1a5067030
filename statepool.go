package asyncnet

import "sync"

// statePoolHooks parameterises statePool with the four lifecycle hooks
// called out in spec.md §4.B: create, reset, canReuse, destroy. This is
// the generic shape used across the pack's hand-rolled object pools
// (e.g. other_examples' eurozulu-pools/pool.go, hemzaz-freightliner's
// object_pool.go) rather than a subclassing hierarchy.
type statePoolHooks[T any] struct {
	create   func() *T
	reset    func(*T)
	canReuse func(*T) bool
	destroy  func(*T)
}

// statePool is a generic, concurrency-safe pool of *T with explicit
// lifecycle hooks. sync.Pool cannot be used directly here because it
// has no reset/validate/destroy hook surface — only New. Preallocation
// count is a construction-time option (spec.md §6
// preallocated_state_objects).
type statePool[T any] struct {
	mu    sync.Mutex
	free  []*T
	hooks statePoolHooks[T]
}

func newStatePool[T any](hooks statePoolHooks[T], preallocate int) *statePool[T] {
	p := &statePool[T]{hooks: hooks}
	if preallocate > 0 {
		p.free = make([]*T, 0, preallocate)
		for i := 0; i < preallocate; i++ {
			p.free = append(p.free, hooks.create())
		}
	}
	return p
}

// Rent returns a reused instance if one is idle, otherwise a freshly
// created one.
func (p *statePool[T]) Rent() *T {
	p.mu.Lock()
	n := len(p.free)
	if n == 0 {
		p.mu.Unlock()
		return p.hooks.create()
	}
	t := p.free[n-1]
	p.free[n-1] = nil
	p.free = p.free[:n-1]
	p.mu.Unlock()
	return t
}

// Return runs canReuse on t; if it passes, t is reset and stored for a
// future Rent, otherwise it is destroyed and dropped, per spec.md §4.B:
// "if !can_reuse { destroy; drop; return } else { reset; store }".
func (p *statePool[T]) Return(t *T) {
	if t == nil {
		return
	}
	if !p.hooks.canReuse(t) {
		p.hooks.destroy(t)
		return
	}
	p.hooks.reset(t)
	p.mu.Lock()
	// The free list is not bounded: len(p.free) never exceeds
	// cap(p.free), so this check never fires, every reusable object is
	// stored, and the pool does not shrink until Dispose.
	if cap(p.free) > 0 && len(p.free) >= cap(p.free)*2 {
		p.hooks.destroy(t)
		p.mu.Unlock()
		return
	}
	p.free = append(p.free, t)
	p.mu.Unlock()
}

// Dispose destroys every idle object held by the pool. Called on
// endpoint teardown.
func (p *statePool[T]) Dispose() {
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.mu.Unlock()
	for _, t := range free {
		p.hooks.destroy(t)
	}
}

// Len reports the number of currently idle objects. Exposed for tests
// exercising property 3 (no outstanding state objects beyond the
// pool's idle set after shutdown).
func (p *statePool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
