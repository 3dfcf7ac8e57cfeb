// Package flight provides a generic keyed single-flight registry: at most one
// operation runs per key at a time, and concurrent callers for the same key
// share its result instead of issuing duplicate work. It is the coalescing
// primitive for any expensive keyed operation (network lookups, rebuilds).
package flight

import (
	"context"
	"sync"
)

// call is one in-flight operation and its eventual shared result.
type call[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// Group deduplicates concurrent operations by key. The zero value is not
// usable; create one with New.
type Group[K comparable, V any] struct {
	mu    sync.Mutex
	calls map[K]*call[V]
}

// New creates an empty registry.
func New[K comparable, V any]() *Group[K, V] {
	return &Group[K, V]{calls: make(map[K]*call[V])}
}

// Do executes fn for key, ensuring at most one execution per key is in flight
// at a time. The first caller becomes the executor; checking for an existing
// flight and registering a new one is a single step under the group lock, so
// two callers can never both become executors for the same key.
//
// fn runs on a context detached from the caller's: a caller whose ctx is
// cancelled unblocks immediately with ctx.Err(), but the operation itself
// keeps running and its result is delivered to every other current and
// future joiner. shared is true when the result came from another caller's
// execution.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func(context.Context) (V, error)) (v V, err error, shared bool) {
	g.mu.Lock()
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		return g.wait(ctx, c, true)
	}

	c := &call[V]{done: make(chan struct{})}
	g.calls[key] = c
	g.mu.Unlock()

	go func() {
		c.val, c.err = fn(context.WithoutCancel(ctx))
		g.mu.Lock()
		// Only forget the call if it is still the registered one; Forget may
		// have replaced it already.
		if g.calls[key] == c {
			delete(g.calls, key)
		}
		g.mu.Unlock()
		close(c.done)
	}()

	return g.wait(ctx, c, false)
}

func (g *Group[K, V]) wait(ctx context.Context, c *call[V], shared bool) (V, error, bool) {
	select {
	case <-c.done:
		return c.val, c.err, shared
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err(), shared
	}
}

// Forget drops the in-flight call for key, if any. The call itself keeps
// running and current waiters still receive its result, but the next Do for
// the key starts a fresh execution.
func (g *Group[K, V]) Forget(key K) {
	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()
}

// InFlight reports whether an operation is currently running for key.
func (g *Group[K, V]) InFlight(key K) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.calls[key]
	return ok
}
