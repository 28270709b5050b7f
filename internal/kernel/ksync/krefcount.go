package ksync

import "gvisor.dev/gvisor/pkg/atomicbitops"

// Counter is a lock-free reference count used across physical pages, open
// files, and pipe endpoints, so refcounting is consistent wherever the
// kernel shares an object between threads or address spaces.
type Counter struct {
	n atomicbitops.Int64
}

// NewCounter returns a Counter initialized to n, the way a newly allocated
// object typically starts at refcount 1.
func NewCounter(n int64) *Counter {
	c := &Counter{}
	c.n.Store(n)
	return c
}

func (c *Counter) Load() int64 {
	return c.n.Load()
}

// Inc increments the count and returns the new value. Callers must hold a
// reference already (refcount > 0) before calling Inc to acquire another.
func (c *Counter) Inc() int64 {
	return c.n.Add(1)
}

// Dec decrements the count and returns the new value. Callers must release
// the underlying resource when Dec returns 0, and must never call Dec again
// afterward.
func (c *Counter) Dec() int64 {
	v := c.n.Add(-1)
	if v < 0 {
		panic("ksync: refcount went negative")
	}
	return v
}
