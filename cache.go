package swrcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cd "github.com/unkn0wn-root/swrcache/codec"
	"github.com/unkn0wn-root/swrcache/internal/util"
	"github.com/unkn0wn-root/swrcache/internal/wire"
	pr "github.com/unkn0wn-root/swrcache/provider"
	"github.com/unkn0wn-root/swrcache/query"
	"github.com/unkn0wn-root/swrcache/registry"
	"github.com/unkn0wn-root/swrcache/scheduler"
	"github.com/unkn0wn-root/swrcache/transport"
)

const (
	defaultStaleTime = 30 * time.Second
	defaultSpillTTL  = 10 * time.Minute
)

type resource[E, P any] struct {
	ns         string
	transport  transport.Transport[E, P]
	identify   func(E) string
	synthesize func(P) E
	merge      func(E, P) E

	log   Logger
	hooks Hooks

	staleTime     time.Duration
	appendCreates bool

	spill    pr.Provider
	codec    cd.Codec[E]
	spillTTL time.Duration

	reg   *registry.Registry[Entry[E]]
	sched *scheduler.Scheduler

	mu      sync.RWMutex
	entries map[string]*entry[E]
	pend    map[string][]*pendingMutation[E]
	subs    map[string]map[int]func(Entry[E])
	subSeq  int

	// test seam; wall clock in production
	now func() time.Time

	closeOnce sync.Once
}

func newResource[E, P any](opts Options[E, P]) (*resource[E, P], error) {
	if opts.Namespace == "" {
		return nil, fmt.Errorf("swrcache: namespace is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("swrcache: transport is required")
	}
	if opts.Identify == nil {
		return nil, fmt.Errorf("swrcache: identify func is required")
	}
	if opts.Synthesize == nil {
		return nil, fmt.Errorf("swrcache: synthesize func is required")
	}
	if opts.Merge == nil {
		return nil, fmt.Errorf("swrcache: merge func is required")
	}
	if opts.Spill != nil && opts.Codec == nil {
		return nil, fmt.Errorf("swrcache: codec is required when a spill store is set")
	}

	c := &resource[E, P]{
		ns:            opts.Namespace,
		transport:     opts.Transport,
		identify:      opts.Identify,
		synthesize:    opts.Synthesize,
		merge:         opts.Merge,
		appendCreates: opts.AppendCreates,
		spill:         opts.Spill,
		codec:         opts.Codec,
		reg:           registry.New[Entry[E]](),
		sched:         scheduler.New(),
		entries:       make(map[string]*entry[E]),
		pend:          make(map[string][]*pendingMutation[E]),
		subs:          make(map[string]map[int]func(Entry[E])),
		now:           time.Now,
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.staleTime = coalesce[time.Duration](opts.StaleTime, defaultStaleTime)
	c.spillTTL = coalesce[time.Duration](opts.SpillTTL, defaultSpillTTL)

	return c, nil
}

func (c *resource[E, P]) Read(params query.Params) (Entry[E], bool) {
	return c.snapshot(params.Key())
}

func (c *resource[E, P]) EnsureFresh(ctx context.Context, params query.Params) (Entry[E], error) {
	key := params.Key()

	snap, ok := c.snapshot(key)
	if !ok && c.spill != nil && c.seedFromSpill(ctx, key) {
		snap, ok = c.snapshot(key)
	}
	if ok && c.fresh(snap.FetchedAt) {
		return snap, nil
	}
	return c.fetch(ctx, key, params)
}

func (c *resource[E, P]) Refresh(ctx context.Context, params query.Params) (Entry[E], error) {
	key := params.Key()
	// supersession: abort the outstanding fetch, then issue a fresh one
	c.reg.Cancel(key)
	return c.fetch(ctx, key, params)
}

func (c *resource[E, P]) fetch(ctx context.Context, key string, params query.Params) (Entry[E], error) {
	c.markLoading(key)

	snap, shared, err := c.reg.Acquire(ctx, key, func(fctx context.Context) (Entry[E], error) {
		page, ferr := c.transport.List(fctx, params)
		if ferr != nil {
			c.commitFetchErr(key, ferr)
			return Entry[E]{}, ferr
		}
		return c.commitPage(fctx, key, page), nil
	})
	if shared {
		c.hooks.FetchJoined(key)
	}
	if err != nil {
		// stale records survive a failed refresh
		stale, _ := c.snapshot(key)
		return stale, err
	}
	return snap, nil
}

func (c *resource[E, P]) Invalidate(params query.Params) {
	key := params.Key()
	c.reg.Cancel(key)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.fetchedAt = time.Time{} // force refetch; records stay to avoid a UI flash
	}
	c.mu.Unlock()

	if c.spill != nil {
		_ = c.spill.Del(context.Background(), c.spillKey(key))
	}
	c.log.Debug("invalidated key", Fields{"key": key})
}

func (c *resource[E, P]) InvalidateAll() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k, e := range c.entries {
		e.fetchedAt = time.Time{}
		keys = append(keys, k)
	}
	c.mu.Unlock()

	for _, k := range keys {
		c.reg.Cancel(k)
		if c.spill != nil {
			_ = c.spill.Del(context.Background(), c.spillKey(k))
		}
	}
	c.log.Debug("invalidated all keys", Fields{"count": len(keys)})
}

func (c *resource[E, P]) Subscribe(params query.Params, fn func(Entry[E])) func() {
	key := params.Key()
	c.mu.Lock()
	c.subSeq++
	id := c.subSeq
	m := c.subs[key]
	if m == nil {
		m = make(map[int]func(Entry[E]))
		c.subs[key] = m
	}
	m[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		if m := c.subs[key]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(c.subs, key)
			}
		}
		c.mu.Unlock()
	}
}

func (c *resource[E, P]) AutoRefresh(params query.Params, interval time.Duration) bool {
	key := params.Key()
	return c.sched.Start(key, interval, func(ctx context.Context) {
		if _, err := c.EnsureFresh(ctx, params); err != nil {
			c.log.Debug("auto-refresh tick failed", Fields{"key": key, "err": err})
		}
	})
}

func (c *resource[E, P]) StopAutoRefresh(params query.Params) {
	c.sched.Stop(params.Key())
}

func (c *resource[E, P]) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.sched.Close()
	})
	if c.spill != nil {
		return c.spill.Close(ctx)
	}
	return nil
}

// ---- internal state transitions ----

func (c *resource[E, P]) snapshot(key string) (Entry[E], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked(key)
}

func (c *resource[E, P]) snapshotLocked(key string) (Entry[E], bool) {
	e, ok := c.entries[key]
	if !ok {
		return Entry[E]{Key: key}, false
	}
	return Entry[E]{
		Key:       key,
		Records:   e.records,
		Meta:      e.meta,
		FetchedAt: e.fetchedAt,
		Loading:   e.loading,
		Err:       e.err,
	}, true
}

func (c *resource[E, P]) ensureEntryLocked(key string) *entry[E] {
	e, ok := c.entries[key]
	if !ok {
		e = &entry[E]{}
		c.entries[key] = e
	}
	return e
}

func (c *resource[E, P]) fresh(fetchedAt time.Time) bool {
	return !fetchedAt.IsZero() && c.now().Sub(fetchedAt) < c.staleTime
}

func (c *resource[E, P]) markLoading(key string) {
	c.mu.Lock()
	c.ensureEntryLocked(key).loading = true
	c.mu.Unlock()
}

// commitPage replaces the entry with the fetched page and writes it through
// to the spill store when no optimistic state is pending for the key.
func (c *resource[E, P]) commitPage(ctx context.Context, key string, page transport.Page[E]) Entry[E] {
	records := make([]Record[E], len(page.Items))
	for i, it := range page.Items {
		records[i] = Record[E]{Ref: Canonical(c.identify(it)), Entity: it}
	}

	c.mu.Lock()
	e := c.ensureEntryLocked(key)
	e.records = records
	e.meta = page.Meta.Clone()
	e.fetchedAt = c.now()
	e.loading = false
	e.err = nil
	snap, _ := c.snapshotLocked(key)
	clean := len(c.pend[key]) == 0
	c.mu.Unlock()

	c.notify(key, snap)
	if clean {
		c.writeSpill(ctx, key, snap)
	}
	return snap
}

func (c *resource[E, P]) commitFetchErr(key string, err error) {
	canceled := errors.Is(err, context.Canceled)

	c.mu.Lock()
	e := c.ensureEntryLocked(key)
	e.loading = false
	if !canceled {
		e.err = err // stale records stay intact
	}
	snap, _ := c.snapshotLocked(key)
	c.mu.Unlock()

	if canceled {
		c.log.Debug("fetch superseded", Fields{"key": key})
		return
	}
	c.hooks.FetchFailed(key, err)
	c.log.Warn("fetch failed; serving stale records", Fields{"key": key, "err": err})
	c.notify(key, snap)
}

func (c *resource[E, P]) notify(key string, snap Entry[E]) {
	c.mu.RLock()
	m := c.subs[key]
	fns := make([]func(Entry[E]), 0, len(m))
	for _, fn := range m {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// ---- spill (second-level store) ----

func (c *resource[E, P]) spillKey(key string) string {
	return util.EntryKey("entry:"+c.ns, key)
}

func (c *resource[E, P]) writeSpill(ctx context.Context, key string, snap Entry[E]) {
	if c.spill == nil {
		return
	}
	wrecords := make([]wire.Record, 0, len(snap.Records))
	for _, r := range snap.Records {
		if r.Ref.Temporary() {
			// unconfirmed state never reaches a byte store
			return
		}
		payload, err := c.codec.Encode(r.Entity)
		if err != nil {
			c.log.Warn("spill encode failed", Fields{"key": key, "err": err})
			return
		}
		wrecords = append(wrecords, wire.Record{ID: r.Ref.ID(), Payload: payload})
	}

	went := wire.Entry{
		FetchedAt: snap.FetchedAt.UnixNano(),
		Records:   wrecords,
	}
	if snap.Meta != nil {
		went.Meta = &wire.Meta{
			Page:       uint32(snap.Meta.Page),
			PerPage:    uint32(snap.Meta.PerPage),
			TotalCount: uint64(snap.Meta.TotalCount),
			TotalPages: uint32(snap.Meta.TotalPages),
		}
	}
	b, err := wire.EncodeEntry(went)
	if err != nil {
		c.log.Warn("spill frame failed", Fields{"key": key, "err": err})
		return
	}

	sk := c.spillKey(key)
	ok, err := c.spill.Set(ctx, sk, b, int64(len(b)), c.spillTTL)
	if err != nil {
		c.log.Warn("spill set failed", Fields{"key": key, "err": err})
		return
	}
	if !ok {
		c.hooks.SpillSetRejected(sk)
		c.log.Debug("spill set rejected by provider (pressure)", Fields{"key": key})
	}
}

// seedFromSpill warm-starts an absent entry from the spill store. The spilled
// fetch time is preserved, so staleness still applies to seeded data.
func (c *resource[E, P]) seedFromSpill(ctx context.Context, key string) bool {
	sk := c.spillKey(key)
	raw, ok, err := c.spill.Get(ctx, sk)
	if err != nil || !ok {
		return false
	}
	went, err := wire.DecodeEntry(raw)
	if err != nil {
		_ = c.spill.Del(ctx, sk) // self-heal corrupt
		c.hooks.SpillSelfHeal(sk, "corrupt")
		return false
	}
	records := make([]Record[E], 0, len(went.Records))
	for _, wr := range went.Records {
		v, err := c.codec.Decode(wr.Payload)
		if err != nil {
			_ = c.spill.Del(ctx, sk) // self-heal
			c.hooks.SpillSelfHeal(sk, "decode")
			return false
		}
		records = append(records, Record[E]{Ref: Canonical(wr.ID), Entity: v})
	}
	var meta *transport.Meta
	if went.Meta != nil {
		meta = &transport.Meta{
			Page:       int(went.Meta.Page),
			PerPage:    int(went.Meta.PerPage),
			TotalCount: int64(went.Meta.TotalCount),
			TotalPages: int(went.Meta.TotalPages),
		}
	}

	c.mu.Lock()
	if _, exists := c.entries[key]; exists {
		// a fetch or mutation beat the seed; in-memory state wins
		c.mu.Unlock()
		return false
	}
	c.entries[key] = &entry[E]{
		records:   records,
		meta:      meta,
		fetchedAt: time.Unix(0, went.FetchedAt),
	}
	snap, _ := c.snapshotLocked(key)
	c.mu.Unlock()

	c.notify(key, snap)
	c.log.Debug("seeded entry from spill", Fields{"key": key, "records": len(records)})
	return true
}
