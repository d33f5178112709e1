// Package upcell provides an exclusive-access cell for state shared by all
// control flows on a single processor.
//
// A Cell hands out at most one mutable borrow at a time. Asking for a second
// borrow while the first is outstanding is a programming error and panics
// immediately; there is nothing to wait for on a uniprocessor, so blocking
// would only hide a deadlock. On a multi-core target this type must become a
// real mutex guarding the same critical sections.
package upcell

import (
	"errors"
	"sync/atomic"
)

// ErrAlreadyBorrowed is the panic value raised on a nested borrow.
var ErrAlreadyBorrowed = errors.New("upcell: already mutably borrowed")

// ErrNotBorrowed is the panic value raised when a borrow is released twice.
var ErrNotBorrowed = errors.New("upcell: borrow already released")

// Cell wraps a value of type T behind a run-time checked borrow flag.
type Cell[T any] struct {
	_        [0]func() // prevent accidental copying.
	borrowed atomic.Bool
	value    T
}

// New returns a cell holding v.
func New[T any](v T) *Cell[T] {
	return &Cell[T]{value: v}
}

// ExclusiveAccess borrows the value mutably. The returned handle must be
// released before the cell is borrowed again and before control leaves the
// current flow (for example through a context switch).
func (c *Cell[T]) ExclusiveAccess() *RefMut[T] {
	if !c.borrowed.CompareAndSwap(false, true) {
		panic(ErrAlreadyBorrowed)
	}
	return &RefMut[T]{cell: c}
}

// With borrows the value for the duration of fn.
func (c *Cell[T]) With(fn func(v *T)) {
	ref := c.ExclusiveAccess()
	defer ref.Release()
	fn(ref.Get())
}

// Borrowed reports whether a borrow is currently outstanding.
func (c *Cell[T]) Borrowed() bool {
	return c.borrowed.Load()
}

// RefMut is an outstanding mutable borrow of a Cell.
type RefMut[T any] struct {
	cell     *Cell[T]
	released bool
}

// Get returns a pointer to the borrowed value. The pointer must not be used
// after Release.
func (r *RefMut[T]) Get() *T {
	if r.released {
		panic(ErrNotBorrowed)
	}
	return &r.cell.value
}

// Release ends the borrow.
func (r *RefMut[T]) Release() {
	if r.released {
		panic(ErrNotBorrowed)
	}
	r.released = true
	r.cell.borrowed.Store(false)
}
