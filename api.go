package swrcache

import (
	"context"
	"time"

	cd "github.com/unkn0wn-root/swrcache/codec"
	pr "github.com/unkn0wn-root/swrcache/provider"
	"github.com/unkn0wn-root/swrcache/query"
	"github.com/unkn0wn-root/swrcache/transport"
)

// Resource is the high-level cache API for one backing resource.
// E is the entity type, P the create/update payload type.
//
// Reads are synchronous and reflect applied optimistic state. Mutations
// return the canonical server entity or an error; on error the optimistic
// change has already been rolled back.
type Resource[E, P any] interface {
	// Read returns the current snapshot for params without any fetching.
	Read(params query.Params) (Entry[E], bool)

	// EnsureFresh returns the cached entry when it is younger than
	// StaleTime; otherwise it fetches (joining any in-flight fetch for the
	// same key) and returns the committed entry. On fetch failure the stale
	// snapshot is returned alongside the error.
	EnsureFresh(ctx context.Context, params query.Params) (Entry[E], error)

	// Refresh fetches unconditionally, aborting any outstanding fetch for
	// the key first.
	Refresh(ctx context.Context, params query.Params) (Entry[E], error)

	// Invalidate forces the next EnsureFresh to refetch without dropping the
	// cached records. Outstanding fetches for the key are aborted.
	Invalidate(params query.Params)

	// InvalidateAll invalidates every cached key.
	InvalidateAll()

	// Create applies a placeholder synthesized from payload, then calls the
	// transport and reconciles the placeholder with the canonical entity.
	Create(ctx context.Context, params query.Params, payload P) (E, error)

	// Update optimistically merges payload into the target record, then
	// calls the transport and commits the canonical entity.
	Update(ctx context.Context, params query.Params, target Ref, payload P) (E, error)

	// Delete optimistically removes the target record, then calls the
	// transport; on failure the record is restored.
	Delete(ctx context.Context, params query.Params, target Ref) (E, error)

	// Pending lists mutations still in the optimistic state for params.
	Pending(params query.Params) []Mutation

	// Subscribe registers fn for snapshots published after every commit,
	// optimistic apply, and rollback for params. The returned func cancels
	// the subscription.
	Subscribe(params query.Params, fn func(Entry[E])) (cancel func())

	// AutoRefresh starts periodic revalidation for params. Returns false
	// when a loop for the key is already running. Ticks go through
	// EnsureFresh, so a still-fresh entry costs no transport call.
	AutoRefresh(params query.Params, interval time.Duration) bool

	// StopAutoRefresh cancels the revalidation loop for params.
	StopAutoRefresh(params query.Params)

	// Close stops background loops and releases the spill store.
	Close(ctx context.Context) error
}

// Options tune one Resource. Namespace, Transport, Identify, Synthesize and
// Merge are required; the rest have sensible defaults.
type Options[E, P any] struct {
	// Required
	Namespace  string // logical namespace, e.g. "categories", "roles"
	Transport  transport.Transport[E, P]
	Identify   func(E) string // canonical id of a server entity
	Synthesize func(P) E      // placeholder entity derived from a create payload
	Merge      func(E, P) E   // optimistic merge of an update payload

	Logger    Logger        // nil => NopLogger
	Hooks     Hooks         // nil => NopHooks
	StaleTime time.Duration // 0 => 30s

	// AppendCreates places placeholders at the end of the record list
	// instead of the front.
	AppendCreates bool

	// Optional second-level byte store. When set, Codec is required:
	// committed pages are written through and cold keys are warm-started
	// from it.
	Spill    pr.Provider
	Codec    cd.Codec[E]
	SpillTTL time.Duration // 0 => 10m
}

func New[E, P any](opts Options[E, P]) (Resource[E, P], error) {
	return newResource[E, P](opts)
}
