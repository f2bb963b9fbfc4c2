package swrcache

import "github.com/google/uuid"

// Ref identifies one record in a cache entry. It is a discriminated
// identity: either canonical (server-assigned id) or temporary (a
// client-generated placeholder id that never reaches the transport and never
// outlives its mutation). "Is this record mutable" is a type-level check on
// the Ref, not a naming convention on the id.
type Ref struct {
	id   string
	temp bool
}

// Canonical wraps a server-assigned identifier.
func Canonical(id string) Ref { return Ref{id: id} }

// NewTemporary mints a fresh placeholder identity.
func NewTemporary() Ref { return Ref{id: uuid.NewString(), temp: true} }

// ID returns the underlying identifier. For temporary Refs this is the
// client-side placeholder id; it must not be sent to the transport.
func (r Ref) ID() string { return r.id }

// Temporary reports whether r identifies an unconfirmed placeholder.
func (r Ref) Temporary() bool { return r.temp }

// IsZero reports whether r carries no identity at all.
func (r Ref) IsZero() bool { return r.id == "" }

func (r Ref) String() string {
	if r.temp {
		return "temporary(" + r.id + ")"
	}
	return r.id
}
