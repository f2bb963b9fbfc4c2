package swrcache

import (
	"time"

	"github.com/unkn0wn-root/swrcache/transport"
)

// Record pairs an entity with its identity. Temporary records are visible to
// readers but rejected as mutation targets until reconciled.
type Record[E any] struct {
	Ref    Ref
	Entity E
}

// Entry is the externally visible snapshot of one cached query key.
//
// Records is replaced wholesale on every change, never mutated in place, so
// two Entry snapshots with the same Records header refer to identical data
// and subscribers may use slice identity to detect change.
type Entry[E any] struct {
	Key       string
	Records   []Record[E]
	Meta      *transport.Meta
	FetchedAt time.Time // zero: never fetched, or invalidated
	Loading   bool
	Err       error
}

// Entities unwraps the records. The returned slice is freshly allocated.
func (e Entry[E]) Entities() []E {
	out := make([]E, len(e.Records))
	for i, r := range e.Records {
		out[i] = r.Entity
	}
	return out
}

// Find locates the record with the given ref.
func (e Entry[E]) Find(ref Ref) (Record[E], int, bool) {
	for i, r := range e.Records {
		if r.Ref == ref {
			return r, i, true
		}
	}
	var zero Record[E]
	return zero, -1, false
}

// entry is the internal mutable state for one key, guarded by resource.mu.
// records and meta follow replace-wholesale discipline: once published in a
// snapshot they are never written through again.
type entry[E any] struct {
	records   []Record[E]
	meta      *transport.Meta
	fetchedAt time.Time
	loading   bool
	err       error
}
