package swrcache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/unkn0wn-root/swrcache/query"
	"github.com/unkn0wn-root/swrcache/transport"
)

// Op is the kind of an optimistic mutation.
type Op int

const (
	OpCreate Op = iota + 1
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// MutationState tracks one mutation's lifecycle:
// Optimistic -> Committed or Optimistic -> RolledBack, both terminal.
type MutationState int

const (
	StateOptimistic MutationState = iota + 1
	StateCommitted
	StateRolledBack
)

func (s MutationState) String() string {
	switch s {
	case StateOptimistic:
		return "optimistic"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Mutation describes one optimistic operation. Values returned by Pending are
// copies; they do not track later settlement.
type Mutation struct {
	ID        string
	Key       string
	Op        Op
	Target    Ref
	AppliedAt time.Time
	State     MutationState
}

// pendingMutation carries the explicit pre-mutation snapshot used for
// rollback. Create/delete snapshot the whole records slice and meta; update
// snapshots only the target record. Guarded by resource.mu.
type pendingMutation[E any] struct {
	m           Mutation
	snapRecords []Record[E]
	snapMeta    *transport.Meta
	snapRecord  Record[E]
}

func (c *resource[E, P]) registerPendingLocked(p *pendingMutation[E]) {
	c.pend[p.m.Key] = append(c.pend[p.m.Key], p)
}

func (c *resource[E, P]) unregisterPendingLocked(p *pendingMutation[E]) {
	ps := c.pend[p.m.Key]
	for i, q := range ps {
		if q == p {
			c.pend[p.m.Key] = append(ps[:i:i], ps[i+1:]...)
			break
		}
	}
	if len(c.pend[p.m.Key]) == 0 {
		delete(c.pend, p.m.Key)
	}
}

func (c *resource[E, P]) Pending(params query.Params) []Mutation {
	key := params.Key()
	c.mu.RLock()
	defer c.mu.RUnlock()
	ps := c.pend[key]
	out := make([]Mutation, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.m)
	}
	return out
}

func (c *resource[E, P]) Create(ctx context.Context, params query.Params, payload P) (E, error) {
	key := params.Key()
	placeholder := c.synthesize(payload)
	tempRef := NewTemporary()

	c.mu.Lock()
	e := c.ensureEntryLocked(key)
	p := &pendingMutation[E]{
		m: Mutation{
			ID:        uuid.NewString(),
			Key:       key,
			Op:        OpCreate,
			Target:    tempRef,
			AppliedAt: c.now(),
			State:     StateOptimistic,
		},
		snapRecords: e.records,
		snapMeta:    e.meta,
	}
	rec := Record[E]{Ref: tempRef, Entity: placeholder}
	next := make([]Record[E], 0, len(e.records)+1)
	if c.appendCreates {
		next = append(next, e.records...)
		next = append(next, rec)
	} else {
		next = append(next, rec)
		next = append(next, e.records...)
	}
	e.records = next
	if e.meta != nil {
		meta := e.meta.Clone()
		meta.TotalCount++
		e.meta = meta
	}
	c.registerPendingLocked(p)
	snap, _ := c.snapshotLocked(key)
	c.mu.Unlock()

	c.notify(key, snap)
	c.log.Debug("optimistic create applied", Fields{"key": key, "mutation": p.m.ID})

	canonical, err := c.transport.Create(ctx, payload)
	if err != nil {
		c.rollback(p, err)
		var zero E
		return zero, err
	}

	// reconcile: canonical entity takes the placeholder's position;
	// total_count keeps its optimistic adjustment (no double increment)
	c.mu.Lock()
	p.m.State = StateCommitted
	c.unregisterPendingLocked(p)
	e = c.ensureEntryLocked(key)
	orphaned := true
	for i, r := range e.records {
		if r.Ref == tempRef {
			next := make([]Record[E], len(e.records))
			copy(next, e.records)
			next[i] = Record[E]{Ref: Canonical(c.identify(canonical)), Entity: canonical}
			e.records = next
			orphaned = false
			break
		}
	}
	snap, _ = c.snapshotLocked(key)
	c.mu.Unlock()

	c.notify(key, snap)
	if orphaned {
		c.hooks.CommitOrphaned(key, OpCreate)
	}
	return canonical, nil
}

func (c *resource[E, P]) Update(ctx context.Context, params query.Params, target Ref, payload P) (E, error) {
	var zero E
	if target.Temporary() || target.IsZero() {
		return zero, &TemporaryTargetError{Op: OpUpdate, Target: target}
	}
	key := params.Key()

	c.mu.Lock()
	e, ok := c.entries[key]
	idx := -1
	if ok {
		for i, r := range e.records {
			if r.Ref == target {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return zero, &UnknownTargetError{Key: key, Target: target}
	}
	p := &pendingMutation[E]{
		m: Mutation{
			ID:        uuid.NewString(),
			Key:       key,
			Op:        OpUpdate,
			Target:    target,
			AppliedAt: c.now(),
			State:     StateOptimistic,
		},
		snapRecord: e.records[idx],
	}
	merged := c.merge(e.records[idx].Entity, payload)
	next := make([]Record[E], len(e.records))
	copy(next, e.records)
	next[idx] = Record[E]{Ref: target, Entity: merged}
	e.records = next
	c.registerPendingLocked(p)
	snap, _ := c.snapshotLocked(key)
	c.mu.Unlock()

	c.notify(key, snap)
	c.log.Debug("optimistic update applied", Fields{"key": key, "target": target.ID(), "mutation": p.m.ID})

	canonical, err := c.transport.Update(ctx, target.ID(), payload)
	if err != nil {
		c.rollback(p, err)
		return zero, err
	}

	c.mu.Lock()
	p.m.State = StateCommitted
	c.unregisterPendingLocked(p)
	e = c.ensureEntryLocked(key)
	orphaned := true
	for i, r := range e.records {
		if r.Ref == target {
			next := make([]Record[E], len(e.records))
			copy(next, e.records)
			next[i] = Record[E]{Ref: Canonical(c.identify(canonical)), Entity: canonical}
			e.records = next
			orphaned = false
			break
		}
	}
	snap, _ = c.snapshotLocked(key)
	c.mu.Unlock()

	c.notify(key, snap)
	if orphaned {
		// the target was deleted while the update was in flight; delete wins
		// and the canonical result is not re-inserted
		c.hooks.CommitOrphaned(key, OpUpdate)
	}
	return canonical, nil
}

func (c *resource[E, P]) Delete(ctx context.Context, params query.Params, target Ref) (E, error) {
	var zero E
	if target.Temporary() || target.IsZero() {
		return zero, &TemporaryTargetError{Op: OpDelete, Target: target}
	}
	key := params.Key()

	c.mu.Lock()
	e, ok := c.entries[key]
	idx := -1
	if ok {
		for i, r := range e.records {
			if r.Ref == target {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return zero, &UnknownTargetError{Key: key, Target: target}
	}
	p := &pendingMutation[E]{
		m: Mutation{
			ID:        uuid.NewString(),
			Key:       key,
			Op:        OpDelete,
			Target:    target,
			AppliedAt: c.now(),
			State:     StateOptimistic,
		},
		snapRecords: e.records,
		snapMeta:    e.meta,
	}
	next := make([]Record[E], 0, len(e.records)-1)
	next = append(next, e.records[:idx]...)
	next = append(next, e.records[idx+1:]...)
	e.records = next
	if e.meta != nil {
		meta := e.meta.Clone()
		meta.TotalCount--
		e.meta = meta
	}
	c.registerPendingLocked(p)
	snap, _ := c.snapshotLocked(key)
	c.mu.Unlock()

	c.notify(key, snap)
	c.log.Debug("optimistic delete applied", Fields{"key": key, "target": target.ID(), "mutation": p.m.ID})

	canonical, err := c.transport.Delete(ctx, target.ID())
	if err != nil {
		c.rollback(p, err)
		return zero, err
	}

	// already removed optimistically; success needs no further change
	c.mu.Lock()
	p.m.State = StateCommitted
	c.unregisterPendingLocked(p)
	c.mu.Unlock()
	return canonical, nil
}

// rollback restores the pre-mutation snapshot exactly. Create and delete
// restore the whole records slice and meta; update restores only the
// snapshotted record at its current position. A target gone from the entry
// means a delete settled in the meantime and there is nothing to restore.
func (c *resource[E, P]) rollback(p *pendingMutation[E], cause error) {
	key := p.m.Key

	c.mu.Lock()
	if p.m.State != StateOptimistic {
		c.mu.Unlock()
		return
	}
	p.m.State = StateRolledBack
	c.unregisterPendingLocked(p)
	e := c.ensureEntryLocked(key)
	switch p.m.Op {
	case OpCreate, OpDelete:
		e.records = p.snapRecords
		e.meta = p.snapMeta
	case OpUpdate:
		for i, r := range e.records {
			if r.Ref == p.m.Target {
				next := make([]Record[E], len(e.records))
				copy(next, e.records)
				next[i] = p.snapRecord
				e.records = next
				break
			}
		}
	}
	snap, _ := c.snapshotLocked(key)
	c.mu.Unlock()

	c.notify(key, snap)
	c.hooks.MutationRolledBack(key, p.m.Op, cause)
	c.log.Debug("optimistic mutation rolled back", Fields{
		"key": key, "op": p.m.Op.String(), "err": cause,
	})
}
