package lsraapi

const arenaPageSize = 128

// Arena is a paged arena of T addressed by index. Pointers returned by Allocate and View stay valid
// until Reset, since pages are never moved.
type Arena[T any] struct {
	pages     []*[arenaPageSize]T
	allocated int
}

// Len returns the number of T allocated in the arena.
func (a *Arena[T]) Len() int {
	return a.allocated
}

// Allocate allocates a new zero T and returns it with its index.
func (a *Arena[T]) Allocate() (*T, int) {
	index := a.allocated
	page, offset := index/arenaPageSize, index%arenaPageSize
	if page == len(a.pages) {
		if len(a.pages) < cap(a.pages) && a.pages[:page+1][page] != nil {
			a.pages = a.pages[:page+1]
		} else {
			a.pages = append(a.pages, new([arenaPageSize]T))
		}
	}
	a.allocated++
	return &a.pages[page][offset], index
}

// View returns the pointer to the i-th item of the arena.
func (a *Arena[T]) View(i int) *T {
	if i < 0 || i >= a.allocated {
		panic("BUG: arena index out of range")
	}
	return &a.pages[i/arenaPageSize][i%arenaPageSize]
}

// Reset zeroes all items and empties the arena, keeping the pages for reuse.
func (a *Arena[T]) Reset() {
	var zero T
	for i := 0; i < a.allocated; i++ {
		*a.View(i) = zero
	}
	a.pages = a.pages[:0]
	a.allocated = 0
}
