package core

import (
	"context"

	"graphcore/pkg/domain"
	"graphcore/pkg/mapping"
)

// loadedObject is one answer of a persistence strategy: a record, nil for an
// object that does not exist, or a per-object error.
type loadedObject struct {
	id     domain.ObjectID
	record *domain.DataRecord
	err    error
}

// persistenceStrategy is where a DataManager gets data it does not hold. Root
// transactions ask the storage provider; sub-transactions ask their parent.
type persistenceStrategy interface {
	newObjectID(ctx context.Context, classID string) (domain.ObjectID, error)
	loadObjectData(ctx context.Context, ids []domain.ObjectID) ([]loadedObject, error)
	loadRelatedObjectData(ctx context.Context, id domain.RelationEndPointID, def *mapping.RelationEndPointDefinition) ([]loadedObject, error)
	loadQueryResultData(ctx context.Context, q domain.Query) ([]loadedObject, error)
}

type rootPersistenceStrategy struct {
	storage domain.StorageProvider
}

var _ persistenceStrategy = (*rootPersistenceStrategy)(nil)

func (s *rootPersistenceStrategy) newObjectID(ctx context.Context, classID string) (domain.ObjectID, error) {
	return s.storage.NewObjectID(ctx, classID)
}

func (s *rootPersistenceStrategy) loadObjectData(ctx context.Context, ids []domain.ObjectID) ([]loadedObject, error) {
	results, err := s.storage.LoadRecords(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]loadedObject, 0, len(results))
	for _, r := range results {
		out = append(out, loadedObject{id: r.ID, record: r.Record})
	}
	return out, nil
}

func (s *rootPersistenceStrategy) loadRelatedObjectData(ctx context.Context, id domain.RelationEndPointID, def *mapping.RelationEndPointDefinition) ([]loadedObject, error) {
	realDef := def.Opposite()
	records, err := s.storage.LoadRelatedRecords(ctx, realDef.ClassID, realDef.PropertyName, id.ObjectID)
	if err != nil {
		return nil, err
	}
	sortRecordsBy(records, def.SortProperty)
	return recordsToLoaded(records), nil
}

func (s *rootPersistenceStrategy) loadQueryResultData(ctx context.Context, q domain.Query) ([]loadedObject, error) {
	records, err := s.storage.ExecuteQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	return recordsToLoaded(records), nil
}

func recordsToLoaded(records []domain.DataRecord) []loadedObject {
	out := make([]loadedObject, 0, len(records))
	for i := range records {
		r := records[i]
		out = append(out, loadedObject{id: r.ID, record: &r})
	}
	return out
}

// subPersistenceStrategy reads through the parent transaction. The parent is
// read-only while the sub-transaction is active, so every call unlocks it for
// its duration. The child's original values are the parent's current ones.
type subPersistenceStrategy struct {
	parent *ClientTransaction
}

var _ persistenceStrategy = (*subPersistenceStrategy)(nil)

func (s *subPersistenceStrategy) newObjectID(ctx context.Context, classID string) (domain.ObjectID, error) {
	return s.parent.dm.persistence.newObjectID(ctx, classID)
}

func (s *subPersistenceStrategy) loadObjectData(ctx context.Context, ids []domain.ObjectID) ([]loadedObject, error) {
	defer s.parent.unlock()()
	containers, failures, err := s.parent.dm.loadContainers(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]loadedObject, 0, len(ids))
	for _, id := range ids {
		if ferr, ok := failures[id]; ok {
			out = append(out, loadedObject{id: id, err: ferr})
			continue
		}
		dc, ok := containers[id]
		if !ok {
			out = append(out, loadedObject{id: id})
			continue
		}
		if dc.isDeleted {
			out = append(out, loadedObject{id: id, err: domain.ObjectInvalidError{ID: id}})
			continue
		}
		record := dc.record()
		out = append(out, loadedObject{id: id, record: &record})
	}
	return out, nil
}

func (s *subPersistenceStrategy) loadRelatedObjectData(ctx context.Context, id domain.RelationEndPointID, def *mapping.RelationEndPointDefinition) ([]loadedObject, error) {
	ids, err := func() ([]domain.ObjectID, error) {
		defer s.parent.unlock()()
		ep, err := s.parent.dm.endPoints.endPoint(ctx, id.ObjectID, def)
		if err != nil {
			return nil, err
		}
		switch e := ep.(type) {
		case *CollectionEndPoint:
			return e.OppositeObjectIDs(), nil
		case *VirtualObjectEndPoint:
			if e.current.IsZero() {
				return nil, nil
			}
			return []domain.ObjectID{e.current}, nil
		}
		return nil, nil
	}()
	if err != nil {
		return nil, err
	}
	return s.loadObjectData(ctx, ids)
}

func (s *subPersistenceStrategy) loadQueryResultData(ctx context.Context, q domain.Query) ([]loadedObject, error) {
	fromParent, err := s.parent.dm.persistence.loadQueryResultData(ctx, q)
	if err != nil {
		return nil, err
	}
	ids := make([]domain.ObjectID, 0, len(fromParent))
	for _, item := range fromParent {
		ids = append(ids, item.id)
	}
	return s.loadObjectData(ctx, ids)
}
