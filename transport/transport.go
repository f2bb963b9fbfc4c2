// Package transport defines the collaborator contract the cache consumes.
//
// Implementations talk to the backing API (HTTP, gRPC, a database, a fake in
// tests); the cache never constructs requests itself. Implementations MUST
// return either the canonical server entity or an error: a nil-error return
// is treated as a committed, authoritative result. Errors that carry server
// semantics (validation, not-found, conflict) should be *Error so callers can
// classify them; anything else is treated as a transport/network failure.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/swrcache/query"
)

// Meta is the pagination metadata attached to a list response.
type Meta struct {
	Page       int
	PerPage    int
	TotalCount int64
	TotalPages int
}

// Clone returns a copy of m; nil stays nil.
func (m *Meta) Clone() *Meta {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// Page is one page of entities plus its metadata. Meta may be nil when the
// backend does not paginate.
type Page[E any] struct {
	Items []E
	Meta  *Meta
}

// Transport is the full resource contract. E is the entity type, P the
// create/update payload type.
type Transport[E, P any] interface {
	// List fetches one page for the given params.
	List(ctx context.Context, params query.Params) (Page[E], error)

	// Create persists payload and returns the canonical entity with its
	// server-assigned identifier.
	Create(ctx context.Context, payload P) (E, error)

	// Update applies payload to the entity with the given canonical id and
	// returns the canonical post-update entity.
	Update(ctx context.Context, id string, payload P) (E, error)

	// Delete removes the entity and returns its last canonical state.
	Delete(ctx context.Context, id string) (E, error)
}

// Error is a typed API failure. Status follows HTTP conventions; Fields
// carries per-field validation messages for 422-class rejections so forms can
// re-display them.
type Error struct {
	Status  int
	Message string
	Fields  map[string][]string
}

func (e *Error) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("api error %d: %s (%d invalid fields)", e.Status, e.Message, len(e.Fields))
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// IsValidation reports whether e is a payload-rejection (422-class) error.
func (e *Error) IsValidation() bool { return e.Status == 422 }

// IsNotFound reports whether the mutation target no longer exists server-side.
func (e *Error) IsNotFound() bool { return e.Status == 404 }

// IsConflict reports whether the server rejected the mutation as conflicting.
func (e *Error) IsConflict() bool { return e.Status == 409 }

// AsError unwraps err to a *Error when one is in the chain.
func AsError(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
