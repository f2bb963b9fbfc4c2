package swrcache

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/swrcache/query"
	"github.com/unkn0wn-root/swrcache/transport"
)

func seedOne(t *testing.T, r Resource[item, itemPayload], tr *fakeTransport, params query.Params) Entry[item] {
	t.Helper()
	tr.listFn = staticList([]item{{ID: "1", Name: "X"}}, 1)
	e, err := r.EnsureFresh(context.Background(), params)
	if err != nil {
		t.Fatalf("seed EnsureFresh: %v", err)
	}
	return e
}

// ==============================
// Create: optimistic visibility + reconciliation
// ==============================

// TestCreateOptimisticVisibility: before the transport settles, the entry
// shows one extra record, at the front, with a temporary ref, and the total
// count is bumped exactly once.
func TestCreateOptimisticVisibility(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	entered := make(chan struct{})
	tr := &fakeTransport{
		createFn: func(_ context.Context, p itemPayload) (item, error) {
			close(entered)
			<-gate
			return item{ID: "2", Name: p.Name}, nil
		},
	}
	r := newTestResource(t, tr, nil)
	defer r.Close(ctx)

	params := query.Params{Page: 1}
	seedOne(t, r, tr, params)

	done := make(chan struct{})
	var created item
	var createErr error
	go func() {
		defer close(done)
		created, createErr = r.Create(ctx, params, itemPayload{Name: "Y"})
	}()
	<-entered

	e, _ := r.Read(params)
	if len(e.Records) != 2 {
		t.Fatalf("expected 2 records while optimistic, got %d", len(e.Records))
	}
	if !e.Records[0].Ref.Temporary() {
		t.Fatalf("placeholder should carry a temporary ref: %v", e.Records[0].Ref)
	}
	if e.Records[0].Entity.Name != "Y" {
		t.Fatalf("placeholder not synthesized from payload: %+v", e.Records[0].Entity)
	}
	if e.Meta.TotalCount != 2 {
		t.Fatalf("total_count not bumped: %d", e.Meta.TotalCount)
	}

	pend := r.Pending(params)
	if len(pend) != 1 || pend[0].Op != OpCreate || pend[0].State != StateOptimistic {
		t.Fatalf("unexpected pending set: %+v", pend)
	}

	close(gate)
	<-done
	if createErr != nil {
		t.Fatalf("Create: %v", createErr)
	}
	if created != (item{ID: "2", Name: "Y"}) {
		t.Fatalf("unexpected canonical entity: %+v", created)
	}

	// reconciliation: canonical entity at the placeholder's index, no
	// temporary record left, count unchanged (no double increment)
	e, _ = r.Read(params)
	if len(e.Records) != 2 {
		t.Fatalf("record count changed on reconciliation: %d", len(e.Records))
	}
	if e.Records[0].Ref != Canonical("2") || e.Records[0].Entity != created {
		t.Fatalf("placeholder not reconciled in place: %+v", e.Records[0])
	}
	for _, rec := range e.Records {
		if rec.Ref.Temporary() {
			t.Fatalf("temporary record left after reconciliation: %v", rec.Ref)
		}
	}
	if e.Meta.TotalCount != 2 {
		t.Fatalf("total_count re-adjusted on commit: %d", e.Meta.TotalCount)
	}
	if len(r.Pending(params)) != 0 {
		t.Fatalf("pending mutation survived settlement")
	}
}

// TestCreateRollbackExact: a validation failure restores the pre-mutation
// snapshot exactly and surfaces the field errors.
func TestCreateRollbackExact(t *testing.T) {
	ctx := context.Background()
	fieldErrs := map[string][]string{"name": {"is already taken"}}
	tr := &fakeTransport{
		createFn: func(context.Context, itemPayload) (item, error) {
			return item{}, &transport.Error{Status: 422, Message: "validation failed", Fields: fieldErrs}
		},
	}
	hooks := &recordingHooks{}
	r := newTestResource(t, tr, func(o *Options[item, itemPayload]) { o.Hooks = hooks })
	defer r.Close(ctx)

	params := query.Params{Page: 1}
	before := seedOne(t, r, tr, params)

	_, err := r.Create(ctx, params, itemPayload{Name: "Y"})
	if err == nil {
		t.Fatalf("expected create to fail")
	}
	te, ok := transport.AsError(err)
	if !ok || !te.IsValidation() {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if !reflect.DeepEqual(te.Fields, fieldErrs) {
		t.Fatalf("field messages lost: %v", te.Fields)
	}

	after, _ := r.Read(params)
	if !reflect.DeepEqual(after.Records, before.Records) {
		t.Fatalf("rollback not exact:\nbefore=%+v\nafter=%+v", before.Records, after.Records)
	}
	if !reflect.DeepEqual(after.Meta, before.Meta) {
		t.Fatalf("meta not restored: before=%+v after=%+v", before.Meta, after.Meta)
	}
	if len(hooks.rolledBack) != 1 || hooks.rolledBack[0] != OpCreate {
		t.Fatalf("expected one create rollback hook, got %v", hooks.rolledBack)
	}
}

// ==============================
// Update
// ==============================

func TestUpdateOptimisticMergeAndCommit(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	entered := make(chan struct{})
	tr := &fakeTransport{
		updateFn: func(_ context.Context, id string, p itemPayload) (item, error) {
			close(entered)
			<-gate
			return item{ID: id, Name: p.Name + "-server"}, nil
		},
	}
	r := newTestResource(t, tr, nil)
	defer r.Close(ctx)

	params := query.Params{Page: 1}
	seedOne(t, r, tr, params)

	done := make(chan struct{})
	var updated item
	var updateErr error
	go func() {
		defer close(done)
		updated, updateErr = r.Update(ctx, params, Canonical("1"), itemPayload{Name: "Z"})
	}()
	<-entered

	e, _ := r.Read(params)
	if e.Records[0].Entity.Name != "Z" {
		t.Fatalf("optimistic merge not visible: %+v", e.Records[0].Entity)
	}

	close(gate)
	<-done
	if updateErr != nil {
		t.Fatalf("Update: %v", updateErr)
	}
	if updated.Name != "Z-server" {
		t.Fatalf("unexpected canonical entity: %+v", updated)
	}
	e, _ = r.Read(params)
	if e.Records[0].Entity != updated {
		t.Fatalf("canonical entity not committed: %+v", e.Records[0].Entity)
	}
}

func TestUpdateRollbackRestoresRecord(t *testing.T) {
	ctx := context.Background()
	boom := &transport.Error{Status: 500, Message: "boom"}
	tr := &fakeTransport{
		updateFn: func(context.Context, string, itemPayload) (item, error) {
			return item{}, boom
		},
	}
	r := newTestResource(t, tr, nil)
	defer r.Close(ctx)

	params := query.Params{Page: 1}
	before := seedOne(t, r, tr, params)

	_, err := r.Update(ctx, params, Canonical("1"), itemPayload{Name: "Z"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}

	after, _ := r.Read(params)
	if !reflect.DeepEqual(after.Records, before.Records) {
		t.Fatalf("record not restored:\nbefore=%+v\nafter=%+v", before.Records, after.Records)
	}
}

func TestUpdateUnknownTarget(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTransport{}
	r := newTestResource(t, tr, nil)
	defer r.Close(ctx)

	params := query.Params{Page: 1}
	seedOne(t, r, tr, params)

	_, err := r.Update(ctx, params, Canonical("nope"), itemPayload{Name: "Z"})
	var ue *UnknownTargetError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnknownTargetError, got %v", err)
	}
	if n := atomic.LoadInt32(&tr.updateCalls); n != 0 {
		t.Fatalf("unknown target must not reach transport")
	}
}

// ==============================
// Delete
// ==============================

func TestDeleteOptimisticAndRollback(t *testing.T) {
	ctx := context.Background()
	boom := &transport.Error{Status: 503, Message: "unavailable"}
	tr := &fakeTransport{
		deleteFn: func(context.Context, string) (item, error) {
			return item{}, boom
		},
	}
	r := newTestResource(t, tr, nil)
	defer r.Close(ctx)

	params := query.Params{Page: 1}
	before := seedOne(t, r, tr, params)

	_, err := r.Delete(ctx, params, Canonical("1"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
	after, _ := r.Read(params)
	if !reflect.DeepEqual(after.Records, before.Records) || !reflect.DeepEqual(after.Meta, before.Meta) {
		t.Fatalf("delete rollback not exact")
	}

	// now let it succeed: record removed, count decremented, no later change
	tr.deleteFn = func(_ context.Context, id string) (item, error) {
		return item{ID: id, Name: "X"}, nil
	}
	if _, err := r.Delete(ctx, params, Canonical("1")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	final, _ := r.Read(params)
	if len(final.Records) != 0 {
		t.Fatalf("record not removed: %+v", final.Records)
	}
	if final.Meta.TotalCount != 0 {
		t.Fatalf("total_count not decremented: %d", final.Meta.TotalCount)
	}
}

// ==============================
// Temporary-target protection
// ==============================

// TestTemporaryTargetRejected: placeholders are not eligible mutation targets
// until reconciled; rejection happens before any cache or transport activity.
func TestTemporaryTargetRejected(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	entered := make(chan struct{})
	tr := &fakeTransport{
		createFn: func(_ context.Context, p itemPayload) (item, error) {
			close(entered)
			<-gate
			return item{ID: "2", Name: p.Name}, nil
		},
	}
	r := newTestResource(t, tr, nil)
	defer r.Close(ctx)

	params := query.Params{Page: 1}
	seedOne(t, r, tr, params)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Create(ctx, params, itemPayload{Name: "Y"})
	}()
	<-entered

	e, _ := r.Read(params)
	tempRef := e.Records[0].Ref
	if !tempRef.Temporary() {
		t.Fatalf("expected placeholder at the front")
	}

	var tte *TemporaryTargetError
	if _, err := r.Update(ctx, params, tempRef, itemPayload{Name: "Z"}); !errors.As(err, &tte) {
		t.Fatalf("update on temp ref: expected TemporaryTargetError, got %v", err)
	}
	if _, err := r.Delete(ctx, params, tempRef); !errors.As(err, &tte) {
		t.Fatalf("delete on temp ref: expected TemporaryTargetError, got %v", err)
	}
	if atomic.LoadInt32(&tr.updateCalls) != 0 || atomic.LoadInt32(&tr.deleteCalls) != 0 {
		t.Fatalf("temp-target rejection must not reach transport")
	}

	after, _ := r.Read(params)
	if len(after.Records) != len(e.Records) || after.Meta.TotalCount != e.Meta.TotalCount {
		t.Fatalf("rejected mutation altered cache state")
	}

	close(gate)
	<-done
}

// ==============================
// Update/delete race: delete wins
// ==============================

// TestDeleteWinsOverLateUpdate: an update that settles after a delete must
// not re-insert the deleted record; its commit is a silent no-op.
func TestDeleteWinsOverLateUpdate(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	entered := make(chan struct{})
	tr := &fakeTransport{
		updateFn: func(_ context.Context, id string, p itemPayload) (item, error) {
			close(entered)
			<-gate
			return item{ID: id, Name: p.Name}, nil
		},
		deleteFn: func(_ context.Context, id string) (item, error) {
			return item{ID: id, Name: "X"}, nil
		},
	}
	hooks := &recordingHooks{}
	r := newTestResource(t, tr, func(o *Options[item, itemPayload]) { o.Hooks = hooks })
	defer r.Close(ctx)

	params := query.Params{Page: 1}
	seedOne(t, r, tr, params)

	done := make(chan error, 1)
	go func() {
		_, err := r.Update(ctx, params, Canonical("1"), itemPayload{Name: "Z"})
		done <- err
	}()
	<-entered

	// delete settles first
	if _, err := r.Delete(ctx, params, Canonical("1")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("Update: %v", err)
	}

	e, _ := r.Read(params)
	if _, _, found := e.Find(Canonical("1")); found {
		t.Fatalf("late update resurrected a deleted record")
	}
	if len(e.Records) != 0 {
		t.Fatalf("unexpected records after race: %+v", e.Records)
	}

	hooks.mu.Lock()
	orphaned := append([]Op(nil), hooks.orphaned...)
	hooks.mu.Unlock()
	if len(orphaned) != 1 || orphaned[0] != OpUpdate {
		t.Fatalf("expected one orphaned update commit, got %v", orphaned)
	}
}

// Concurrent optimistic mutations on different records are not serialized.
func TestConcurrentMutationsDifferentRecords(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	var inflight int32
	tr := &fakeTransport{
		listFn: func(context.Context, query.Params) (transport.Page[item], error) {
			return transport.Page[item]{
				Items: []item{{ID: "1", Name: "A"}, {ID: "2", Name: "B"}},
				Meta:  &transport.Meta{Page: 1, PerPage: 25, TotalCount: 2, TotalPages: 1},
			}, nil
		},
		updateFn: func(_ context.Context, id string, p itemPayload) (item, error) {
			atomic.AddInt32(&inflight, 1)
			<-gate
			return item{ID: id, Name: p.Name}, nil
		},
	}
	r := newTestResource(t, tr, nil)
	defer r.Close(ctx)

	params := query.Params{Page: 1}
	if _, err := r.EnsureFresh(ctx, params); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}

	errs := make(chan error, 2)
	go func() {
		_, err := r.Update(ctx, params, Canonical("1"), itemPayload{Name: "A2"})
		errs <- err
	}()
	go func() {
		_, err := r.Update(ctx, params, Canonical("2"), itemPayload{Name: "B2"})
		errs <- err
	}()

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&inflight) < 2 {
		select {
		case <-deadline:
			t.Fatalf("mutations were serialized (inflight=%d)", atomic.LoadInt32(&inflight))
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if got := len(r.Pending(params)); got != 2 {
		t.Fatalf("expected 2 pending mutations, got %d", got)
	}

	close(gate)
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	e, _ := r.Read(params)
	if e.Records[0].Entity.Name != "A2" || e.Records[1].Entity.Name != "B2" {
		t.Fatalf("commits lost: %+v", e.Records)
	}
}
