package domain

import "context"

// DataRecord is the storage representation of one object: its id, its
// optimistic-concurrency timestamp and its property values keyed by property
// name. Foreign-key properties hold an ObjectID or nil.
type DataRecord struct {
	ID        ObjectID       `json:"id"`
	Timestamp int64          `json:"timestamp"`
	Values    map[string]any `json:"values"`
}

// Clone returns a deep copy of the record.
func (r DataRecord) Clone() DataRecord {
	cp := r
	if r.Values != nil {
		cp.Values = make(map[string]any, len(r.Values))
		for k, v := range r.Values {
			cp.Values[k] = CloneValue(v)
		}
	}
	return cp
}

// PersistableData is one entry of a save batch.
type PersistableData struct {
	State  StateType
	Record DataRecord
	// OriginalTimestamp is the timestamp the object had when it was loaded;
	// zero for new objects.
	OriginalTimestamp int64
}

// LookupResult pairs a requested id with its record, or nil when the object
// does not exist.
type LookupResult struct {
	ID     ObjectID
	Record *DataRecord
}

// Query is the narrow collection query the engine can hand to a storage
// provider: equality filters over property values of one class.
type Query struct {
	ID      string
	ClassID string
	Filter  map[string]any
	OrderBy string
	Limit   int
}

// StorageProvider is the persistence collaborator used by root transactions.
// Implementations must be safe for concurrent use.
type StorageProvider interface {
	// LoadRecord returns the record for id or an ObjectNotFoundError.
	LoadRecord(ctx context.Context, id ObjectID) (DataRecord, error)
	// LoadRecords looks up many ids in one call, preserving the request order.
	LoadRecords(ctx context.Context, ids []ObjectID) ([]LookupResult, error)
	// LoadRelatedRecords returns the records of classID whose foreign-key
	// property points at owner, ordered by id.
	LoadRelatedRecords(ctx context.Context, classID, foreignKeyProperty string, owner ObjectID) ([]DataRecord, error)
	// ExecuteQuery evaluates a collection query.
	ExecuteQuery(ctx context.Context, q Query) ([]DataRecord, error)
	// Save applies a batch atomically and returns the new timestamps of the
	// new and changed objects.
	Save(ctx context.Context, batch []PersistableData) (map[ObjectID]int64, error)
	// NewObjectID allocates an id for a new object of classID.
	NewObjectID(ctx context.Context, classID string) (ObjectID, error)
}
