// Package memory provides an in-memory storage provider for the unit-of-work
// engine, used for tests and ephemeral environments and embedded by the SQL
// providers as their working set.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"graphcore/internal/flatten"
	"graphcore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain storage interface.
var _ domain.StorageProvider = (*Store)(nil)

// Changes is the net effect of one saved batch: the records written with
// their new timestamps and the ids removed.
type Changes struct {
	Upserts []domain.DataRecord
	Deletes []domain.ObjectID
}

// SaveHook runs while a batch is being applied, after validation and before
// the new state becomes visible. An error abandons the batch.
type SaveHook func(ctx context.Context, changes Changes) error

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Records []domain.DataRecord
	Clock   int64
}

// Store keeps records keyed by object id behind a read/write lock. Saves are
// atomic: a batch is validated against the current timestamps as a whole and
// either applies completely or not at all.
type Store struct {
	mu      sync.RWMutex
	records map[domain.ObjectID]domain.DataRecord
	clock   int64
	nowFn   func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		records: make(map[domain.ObjectID]domain.DataRecord),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// NowFunc returns the time provider used to stamp saved records.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc replaces the time provider.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// nextTimestamp returns a strictly increasing stamp derived from the clock.
// Callers hold the write lock.
func (s *Store) nextTimestamp() int64 {
	ts := s.nowFn().UnixNano()
	if ts <= s.clock {
		ts = s.clock + 1
	}
	s.clock = ts
	return ts
}

// Seed inserts records as they are, stamping those without a timestamp.
// Existing records with the same id are replaced.
func (s *Store) Seed(records ...domain.DataRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		cp := r.Clone()
		if cp.Values == nil {
			cp.Values = map[string]any{}
		}
		if cp.Timestamp == 0 {
			cp.Timestamp = s.nextTimestamp()
		} else if cp.Timestamp > s.clock {
			s.clock = cp.Timestamp
		}
		s.records[cp.ID] = cp
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{Records: make([]domain.DataRecord, 0, len(s.records)), Clock: s.clock}
	for _, r := range s.records {
		out.Records = append(out.Records, r.Clone())
	}
	sortByID(out.Records)
	return out
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[domain.ObjectID]domain.DataRecord, len(snapshot.Records))
	s.clock = snapshot.Clock
	for _, r := range snapshot.Records {
		s.records[r.ID] = r.Clone()
		if r.Timestamp > s.clock {
			s.clock = r.Timestamp
		}
	}
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// NewObjectID allocates a random id for classID.
func (s *Store) NewObjectID(_ context.Context, classID string) (domain.ObjectID, error) {
	if classID == "" {
		return domain.ObjectID{}, domain.ArgumentError{Argument: "classID", Message: "class id must not be empty"}
	}
	return domain.NewObjectID(classID, uuid.NewString()), nil
}

// LoadRecord returns the record for id or an ObjectNotFoundError.
func (s *Store) LoadRecord(_ context.Context, id domain.ObjectID) (domain.DataRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return domain.DataRecord{}, domain.ObjectNotFoundError{ID: id}
	}
	return r.Clone(), nil
}

// LoadRecords looks up ids in request order; missing ids get a nil record.
func (s *Store) LoadRecords(_ context.Context, ids []domain.ObjectID) ([]domain.LookupResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.LookupResult, 0, len(ids))
	for _, id := range ids {
		res := domain.LookupResult{ID: id}
		if r, ok := s.records[id]; ok {
			cp := r.Clone()
			res.Record = &cp
		}
		out = append(out, res)
	}
	return out, nil
}

// LoadRelatedRecords returns the records of classID whose foreign key
// property points at owner, ordered by id.
func (s *Store) LoadRelatedRecords(_ context.Context, classID, foreignKeyProperty string, owner domain.ObjectID) ([]domain.DataRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.DataRecord
	for id, r := range s.records {
		if id.ClassID != classID {
			continue
		}
		if fk, ok := r.Values[foreignKeyProperty].(domain.ObjectID); ok && fk == owner {
			out = append(out, r.Clone())
		}
	}
	sortByID(out)
	return out, nil
}

// ExecuteQuery filters the records of q.ClassID by equality on every filter
// entry, orders them by q.OrderBy (a leading "-" reverses) or by id, and
// applies q.Limit when positive.
func (s *Store) ExecuteQuery(_ context.Context, q domain.Query) ([]domain.DataRecord, error) {
	if q.ClassID == "" {
		return nil, domain.ArgumentError{Argument: "query", Message: fmt.Sprintf("query %q has no class", q.ID)}
	}
	s.mu.RLock()
	var out []domain.DataRecord
	for id, r := range s.records {
		if id.ClassID == q.ClassID && matches(r, q.Filter) {
			out = append(out, r.Clone())
		}
	}
	s.mu.RUnlock()

	sortByID(out)
	if q.OrderBy != "" {
		prop, desc := strings.CutPrefix(q.OrderBy, "-")
		sort.SliceStable(out, func(i, j int) bool {
			c := domain.CompareValues(out[i].Values[prop], out[j].Values[prop])
			if desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Save applies batch atomically.
func (s *Store) Save(ctx context.Context, batch []domain.PersistableData) (map[domain.ObjectID]int64, error) {
	return s.SaveWithHook(ctx, batch, nil)
}

// SaveWithHook applies batch atomically and calls hook with the net changes
// before they become visible. New objects must not exist yet; changed and
// deleted objects must still carry their original timestamp. Every violation
// is reported in one ConcurrencyViolationError and nothing is applied.
func (s *Store) SaveWithHook(ctx context.Context, batch []domain.PersistableData, hook SaveHook) (map[domain.ObjectID]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var violations []domain.ObjectID
	for _, item := range batch {
		current, exists := s.records[item.Record.ID]
		switch item.State {
		case domain.StateNew:
			if exists {
				violations = append(violations, item.Record.ID)
			}
		case domain.StateChanged, domain.StateDeleted:
			if !exists || current.Timestamp != item.OriginalTimestamp {
				violations = append(violations, item.Record.ID)
			}
		default:
			return nil, domain.ArgumentError{Argument: "batch", Message: fmt.Sprintf("cannot save object %s in state %s", item.Record.ID, item.State)}
		}
	}
	if len(violations) > 0 {
		return nil, domain.ConcurrencyViolationError{IDs: violations}
	}

	clock := s.clock
	var changes Changes
	stamps := make(map[domain.ObjectID]int64, len(batch))
	for _, item := range batch {
		if item.State == domain.StateDeleted {
			changes.Deletes = append(changes.Deletes, item.Record.ID)
			continue
		}
		r := item.Record.Clone()
		r.Timestamp = s.nextTimestamp()
		stamps[r.ID] = r.Timestamp
		changes.Upserts = append(changes.Upserts, r)
	}
	if hook != nil {
		if err := hook(ctx, changes); err != nil {
			s.clock = clock
			return nil, err
		}
	}
	for _, r := range changes.Upserts {
		s.records[r.ID] = r
	}
	for _, id := range changes.Deletes {
		delete(s.records, id)
	}
	return stamps, nil
}

// EncodeRecord renders a record's values as tagged JSON so they decode back
// to the same Go types.
func EncodeRecord(r domain.DataRecord) ([]byte, error) {
	b, err := flatten.MarshalValues(r.Values)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", r.ID, err)
	}
	return b, nil
}

// DecodeRecord rebuilds a record from its id, timestamp and EncodeRecord
// payload.
func DecodeRecord(id domain.ObjectID, timestamp int64, payload []byte) (domain.DataRecord, error) {
	values, err := flatten.UnmarshalValues(payload)
	if err != nil {
		return domain.DataRecord{}, fmt.Errorf("decode record %s: %w", id, err)
	}
	return domain.DataRecord{ID: id, Timestamp: timestamp, Values: values}, nil
}

func matches(r domain.DataRecord, filter map[string]any) bool {
	for prop, want := range filter {
		if !domain.ValuesEqual(r.Values[prop], widen(want)) {
			return false
		}
	}
	return true
}

// widen maps loosely typed filter values onto the stored representation.
func widen(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.UTC()
	case domain.ObjectID:
		if x.IsZero() {
			return nil
		}
	}
	return v
}

func sortByID(records []domain.DataRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i].ID, records[j].ID
		if a.ClassID != b.ClassID {
			return a.ClassID < b.ClassID
		}
		return a.Value < b.Value
	})
}
