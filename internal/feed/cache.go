package feed

import (
	"slices"
	"time"
)

// Entry is a cached payload. It is never mutated after Set; a refetch
// replaces it.
type Entry[T any] struct {
	Payload   []T
	FetchedAt time.Time
	Version   uint64
}

// Cache holds entries addressed by (ContextKey, sub key).
type Cache[S comparable, T any] struct {
	entries map[ContextKey]map[S]Entry[T]
	version uint64
	now     func() time.Time
}

func NewCache[S comparable, T any]() *Cache[S, T] {
	return &Cache[S, T]{
		entries: make(map[ContextKey]map[S]Entry[T]),
		now:     time.Now,
	}
}

func (c *Cache[S, T]) Has(ctx ContextKey, sub S) bool {
	_, ok := c.entries[ctx][sub]
	return ok
}

// Get returns the entry with a copy of its payload.
func (c *Cache[S, T]) Get(ctx ContextKey, sub S) (Entry[T], bool) {
	e, ok := c.entries[ctx][sub]
	if ok {
		e.Payload = slices.Clone(e.Payload)
	}
	return e, ok
}

// payload returns the stored slice itself, for appends inside the package.
func (c *Cache[S, T]) payload(ctx ContextKey, sub S) []T {
	return c.entries[ctx][sub].Payload
}

// Set stores a copy of payload, overwriting any previous entry.
func (c *Cache[S, T]) Set(ctx ContextKey, sub S, payload []T) Entry[T] {
	subs, ok := c.entries[ctx]
	if !ok {
		subs = make(map[S]Entry[T])
		c.entries[ctx] = subs
	}
	c.version++
	e := Entry[T]{
		Payload:   slices.Clip(slices.Clone(payload)),
		FetchedAt: c.now(),
		Version:   c.version,
	}
	subs[sub] = e
	return e
}

// Clear drops every sub key under ctx. Clearing an unknown context is a no-op.
func (c *Cache[S, T]) Clear(ctx ContextKey) {
	delete(c.entries, ctx)
}

// Len counts entries across all contexts.
func (c *Cache[S, T]) Len() int {
	n := 0
	for _, subs := range c.entries {
		n += len(subs)
	}
	return n
}
