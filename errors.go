package swrcache

import (
	"fmt"
)

// TemporaryTargetError is a usage error: the caller attempted to update or
// delete a placeholder record before it was reconciled with its canonical
// counterpart. It is returned synchronously, before any cache change or
// transport call, so no rollback is involved.
type TemporaryTargetError struct {
	Op     Op
	Target Ref
}

func (e *TemporaryTargetError) Error() string {
	return fmt.Sprintf("swrcache: %s target %s is an unresolved placeholder", e.Op, e.Target)
}

// UnknownTargetError is returned when a mutation names a ref that is not
// present in the entry for the given key. Like TemporaryTargetError it is
// raised before any cache change or transport call.
type UnknownTargetError struct {
	Key    string
	Target Ref
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("swrcache: no record %s cached under %q", e.Target, e.Key)
}
