package weather

import "sync/atomic"

// Cell holds an immutable value that is replaced as a whole. Readers never
// block writers and never observe a partially built value.
type Cell[T any] struct {
	p atomic.Pointer[cellValue[T]]
}

type cellValue[T any] struct {
	v       T
	version uint64
	stale   bool
}

// Load returns the current value, its version and whether it is set.
func (c *Cell[T]) Load() (T, uint64, bool) {
	cur := c.p.Load()
	if cur == nil {
		var zero T
		return zero, 0, false
	}
	return cur.v, cur.version, true
}

// Stale reports whether the held value was marked for refresh.
func (c *Cell[T]) Stale() bool {
	cur := c.p.Load()
	return cur != nil && cur.stale
}

// Store replaces the value and bumps the version.
func (c *Cell[T]) Store(v T) uint64 {
	for {
		cur := c.p.Load()
		next := &cellValue[T]{v: v, version: 1}
		if cur != nil {
			next.version = cur.version + 1
		}
		if c.p.CompareAndSwap(cur, next) {
			return next.version
		}
	}
}

// MarkStale flags the current value for refresh while keeping it readable.
func (c *Cell[T]) MarkStale() {
	for {
		cur := c.p.Load()
		if cur == nil || cur.stale {
			return
		}
		next := &cellValue[T]{v: cur.v, version: cur.version, stale: true}
		if c.p.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Clear drops the value entirely.
func (c *Cell[T]) Clear() {
	c.p.Store(nil)
}
