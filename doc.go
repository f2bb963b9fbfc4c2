// Package swrcache implements a stale-while-revalidate resource cache with
// optimistic mutations for paginated list resources.
//
// One Resource[E, P] is created per backing resource (E is the entity type,
// P the create/update payload type). Entries are keyed by the deterministic
// serialization of their query params and hold the last known records,
// pagination metadata, and fetch timestamp.
//
// Components:
//   - transport.Transport[E, P]: the collaborator that talks to the backend.
//   - registry.Registry: single-flight; concurrent fetches for one key share
//     one transport call.
//   - scheduler.Scheduler: optional periodic revalidation per key.
//   - provider.Provider + codec.Codec[E]: optional second-level "spill" byte
//     store (Ristretto, BigCache, Redis) used to warm-start entries.
//
// Reads are non-blocking and reflect applied-but-unsettled optimistic state.
// EnsureFresh returns the cached entry without a network call while it is
// younger than StaleTime; otherwise it fetches through the registry and
// commits the result. A failed refresh records the error on the entry but
// never discards previously cached records.
//
// Mutations apply an optimistic change synchronously, call the transport,
// and on settlement either commit the canonical entity or restore the exact
// pre-mutation snapshot. Placeholders carry temporary Refs and are not
// eligible for further mutation until reconciled. A record deleted while
// another mutation is in flight stays deleted: late commits against a
// vanished target are silent no-ops.
package swrcache
