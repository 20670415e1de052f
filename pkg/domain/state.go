package domain

// StateType describes the lifecycle state of an object within one transaction.
type StateType string

// Object lifecycle states.
const (
	// StateNew marks an object created in the transaction and not yet committed.
	StateNew StateType = "new"
	// StateUnchanged marks a loaded object whose values equal their originals.
	StateUnchanged StateType = "unchanged"
	// StateChanged marks a loaded object with at least one modified value or relation.
	StateChanged StateType = "changed"
	// StateDeleted marks an object deleted in the transaction but not yet committed.
	StateDeleted StateType = "deleted"
	// StateInvalid marks an object that is no longer usable in the transaction.
	StateInvalid StateType = "invalid"
	// StateNotLoadedYet marks an enlisted object whose data has not been loaded.
	StateNotLoadedYet StateType = "not_loaded_yet"
)

// SyncState describes whether a foreign-key end point agrees with the opposite
// end point that holds the inverse side of the relation.
type SyncState string

// Synchronization states of real end points.
const (
	SyncUnknown        SyncState = "unknown"
	SyncSynchronized   SyncState = "synchronized"
	SyncUnsynchronized SyncState = "unsynchronized"
)

// LoadState describes the lazy-load state of virtual and collection end points.
type LoadState string

// Lazy-load states.
const (
	LoadIncomplete LoadState = "incomplete"
	LoadLoading    LoadState = "loading"
	LoadComplete   LoadState = "complete"
)
