package swrcache

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; the cache calls them on
// hot paths.
type Hooks interface {
	// A caller joined an already in-flight fetch for key instead of issuing
	// its own transport call.
	FetchJoined(key string)

	// A fetch settled with an error; the entry keeps its stale records.
	FetchFailed(key string, err error)

	// An optimistic mutation failed and its snapshot was restored.
	MutationRolledBack(key string, op Op, err error)

	// A settlement found its target record gone (deleted while the call was
	// in flight). The settlement became a no-op: delete wins.
	CommitOrphaned(key string, op Op)

	// A spill entry was deleted by the cache on read.
	// reason ∈ {"corrupt", "decode"}
	SpillSelfHeal(storageKey, reason string)

	// The spill store returned ok=false on Set (backpressure/eviction).
	SpillSetRejected(storageKey string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) FetchJoined(string)                   {}
func (NopHooks) FetchFailed(string, error)            {}
func (NopHooks) MutationRolledBack(string, Op, error) {}
func (NopHooks) CommitOrphaned(string, Op)            {}
func (NopHooks) SpillSelfHeal(string, string)         {}
func (NopHooks) SpillSetRejected(string)              {}
