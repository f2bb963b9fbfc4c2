// Package registry provides instance-scoped single-flight deduplication for
// keyed network operations.
//
// At most one call per key is in flight at any time; concurrent acquirers for
// the same key join the running call and receive its result (success or
// failure). The entry is dropped on settlement, so a later Acquire always
// issues a fresh call. Errors are never cached.
package registry

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrResultType is returned when a joined result does not have the registry's
// value type. It indicates registry misuse, not a transport failure.
var ErrResultType = errors.New("registry: unexpected result type")

type call struct {
	cancel context.CancelFunc
}

// Registry coalesces concurrent calls per key. Create one per cache instance
// and pass it by reference; package-level registries leak state across
// sessions and tests.
type Registry[T any] struct {
	group singleflight.Group

	mu       sync.Mutex
	inflight map[string]*call
}

func New[T any]() *Registry[T] {
	return &Registry[T]{inflight: make(map[string]*call)}
}

// Acquire runs fn for key, or joins the in-flight call for key if one exists.
// shared reports whether the result was delivered to more than one caller.
//
// fn runs on a context detached from ctx (values preserved, cancellation
// not): the first caller going away must not fail every joined waiter. The
// detached context is cancelled via Cancel or when fn settles.
func (r *Registry[T]) Acquire(ctx context.Context, key string, fn func(context.Context) (T, error)) (T, bool, error) {
	res, err, shared := r.group.Do(key, func() (any, error) {
		cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c := &call{cancel: cancel}
		r.mu.Lock()
		r.inflight[key] = c
		r.mu.Unlock()

		defer func() {
			r.mu.Lock()
			if r.inflight[key] == c {
				delete(r.inflight, key)
			}
			r.mu.Unlock()
			cancel()
		}()
		return fn(cctx)
	})
	if err != nil {
		var zero T
		return zero, shared, err
	}
	out, ok := res.(T)
	if !ok {
		var zero T
		return zero, shared, ErrResultType
	}
	return out, shared, nil
}

// Cancel aborts the in-flight call for key, if any, and forgets the key so
// the next Acquire issues a fresh call. Joined waiters of the aborted call
// observe whatever error fn returns for a cancelled context.
func (r *Registry[T]) Cancel(key string) {
	r.mu.Lock()
	c, ok := r.inflight[key]
	if ok {
		delete(r.inflight, key)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.group.Forget(key)
	c.cancel()
}

// InFlight reports whether a call for key is currently outstanding.
func (r *Registry[T]) InFlight(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inflight[key]
	return ok
}
