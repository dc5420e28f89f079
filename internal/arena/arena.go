// Package arena provides slab-backed allocation for compilation-scoped
// objects. Nothing is ever freed individually: a compiled unit drops its
// whole arena on completion or abort, which also makes abandoning a failed
// unit free.
package arena

const slabSize = 256

// Arena hands out pointers into internally managed slabs. Pointers stay
// valid for the lifetime of the arena.
type Arena[T any] struct {
	slabs [][]T
	used  int
	total int
}

// New returns an empty arena.
func New[T any]() *Arena[T] {
	return &Arena[T]{}
}

// Alloc returns a pointer to a zeroed T owned by the arena.
func (a *Arena[T]) Alloc() *T {
	if len(a.slabs) == 0 || a.used == slabSize {
		a.slabs = append(a.slabs, make([]T, slabSize))
		a.used = 0
	}
	slab := a.slabs[len(a.slabs)-1]
	p := &slab[a.used]
	a.used++
	a.total++
	return p
}

// Len returns the number of live allocations.
func (a *Arena[T]) Len() int { return a.total }

// Release drops every slab. Outstanding pointers must not be used after
// this call.
func (a *Arena[T]) Release() {
	a.slabs = nil
	a.used = 0
	a.total = 0
}
