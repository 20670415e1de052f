package core

import (
	"context"
	"fmt"
	"sort"

	"graphcore/pkg/domain"
	"graphcore/pkg/mapping"
)

// DataManager owns the data of one transaction: the container identity map,
// the relation end points, the discarded-container index and the registry of
// objects that are invalid here because they only exist in a sub-transaction.
type DataManager struct {
	tx          *ClientTransaction
	containers  *DataContainerMap
	endPoints   *RelationEndPointManager
	discarded   map[domain.ObjectID]*DataContainer
	invalid     map[domain.ObjectID]bool
	persistence persistenceStrategy
}

func newDataManager(tx *ClientTransaction, persistence persistenceStrategy) *DataManager {
	dm := &DataManager{
		tx:          tx,
		containers:  newDataContainerMap(),
		discarded:   make(map[domain.ObjectID]*DataContainer),
		invalid:     make(map[domain.ObjectID]bool),
		persistence: persistence,
	}
	dm.endPoints = newRelationEndPointManager(dm)
	return dm
}

// DataContainers returns the identity map.
func (dm *DataManager) DataContainers() *DataContainerMap { return dm.containers }

// RelationEndPoints returns the end point manager.
func (dm *DataManager) RelationEndPoints() *RelationEndPointManager { return dm.endPoints }

// IsDiscarded reports whether id has a discarded container.
func (dm *DataManager) IsDiscarded(id domain.ObjectID) bool {
	_, ok := dm.discarded[id]
	return ok
}

// GetDiscardedDataContainer returns the discarded container of id.
func (dm *DataManager) GetDiscardedDataContainer(id domain.ObjectID) (*DataContainer, bool) {
	dc, ok := dm.discarded[id]
	return dc, ok
}

// DiscardedObjectCount returns the size of the discarded index.
func (dm *DataManager) DiscardedObjectCount() int { return len(dm.discarded) }

// IsInvalid reports whether id cannot be used in this transaction.
func (dm *DataManager) IsInvalid(id domain.ObjectID) bool {
	return dm.invalid[id] || dm.IsDiscarded(id)
}

func (dm *DataManager) mapping() *mapping.Configuration { return dm.tx.hierarchy.mapping }

// checkLoadAllowed rejects loads requested through the public surface of a
// read-only transaction. Loads forwarded from a sub-transaction unlock it.
func (dm *DataManager) checkLoadAllowed() error {
	if dm.tx.discarded {
		return domain.TransactionDiscardedError{Operation: "Load"}
	}
	if dm.tx.IsReadOnly() && dm.tx.unlockDepth == 0 {
		return domain.ClientTransactionReadOnlyError{Operation: "Load"}
	}
	return nil
}

// GetDataContainerWithLazyLoad returns the container of id, loading it when it
// is not resident. A missing object yields (nil, nil) unless throwOnNotFound.
func (dm *DataManager) GetDataContainerWithLazyLoad(ctx context.Context, id domain.ObjectID, throwOnNotFound bool) (*DataContainer, error) {
	if dm.IsInvalid(id) {
		return nil, domain.ObjectInvalidError{ID: id}
	}
	if dc, ok := dm.containers.Get(id); ok {
		return dc, nil
	}
	loaded, failures, err := dm.loadContainers(ctx, []domain.ObjectID{id})
	if err != nil {
		return nil, err
	}
	if ferr, ok := failures[id]; ok {
		return nil, ferr
	}
	dc, ok := loaded[id]
	if !ok && throwOnNotFound {
		return nil, domain.ObjectNotFoundError{ID: id}
	}
	return dc, nil
}

// GetDataContainersWithLazyLoad loads every non-resident id in one call and
// returns the containers in request order. Missing objects are nil entries
// unless throwOnNotFound; every per-object failure ends up in one
// BulkLoadError.
func (dm *DataManager) GetDataContainersWithLazyLoad(ctx context.Context, ids []domain.ObjectID, throwOnNotFound bool) ([]*DataContainer, error) {
	loaded, failures, err := dm.loadContainers(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*DataContainer, len(ids))
	var errs []error
	for i, id := range ids {
		if ferr, ok := failures[id]; ok {
			errs = append(errs, ferr)
			continue
		}
		dc, ok := loaded[id]
		if !ok && throwOnNotFound {
			errs = append(errs, domain.ObjectNotFoundError{ID: id})
			continue
		}
		out[i] = dc
	}
	if len(errs) > 0 {
		return nil, domain.BulkLoadError{Errors: dedupeErrors(errs)}
	}
	return out, nil
}

// loadContainers resolves ids to containers. Resident containers are used as
// they are; the rest is requested from the persistence strategy in one call,
// wrapped in a single ObjectsLoading/ObjectsLoaded pair. Invalid ids and
// per-object load failures are reported in failures; ids that do not exist
// are simply absent from the result.
func (dm *DataManager) loadContainers(ctx context.Context, ids []domain.ObjectID) (map[domain.ObjectID]*DataContainer, map[domain.ObjectID]error, error) {
	result := make(map[domain.ObjectID]*DataContainer, len(ids))
	failures := make(map[domain.ObjectID]error)
	var missing []domain.ObjectID
	seen := make(map[domain.ObjectID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if dm.IsInvalid(id) {
			failures[id] = domain.ObjectInvalidError{ID: id}
			continue
		}
		if dc, ok := dm.containers.Get(id); ok {
			result[id] = dc
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return result, failures, nil
	}
	if err := dm.checkLoadAllowed(); err != nil {
		return nil, nil, err
	}
	events := dm.tx.events()
	if err := events.ObjectsLoading(dm.tx, missing); err != nil {
		return nil, nil, err
	}
	data, err := dm.persistence.loadObjectData(ctx, missing)
	if err != nil {
		return nil, nil, fmt.Errorf("load %d object(s): %w", len(missing), err)
	}
	var loadedObjects []*DomainObject
	for _, item := range data {
		switch {
		case item.err != nil:
			failures[item.id] = item.err
		case item.record == nil:
		default:
			dc, err := dm.registerLoadedRecord(*item.record)
			if err != nil {
				failures[item.id] = err
				continue
			}
			result[item.id] = dc
			loadedObjects = append(loadedObjects, dm.tx.hierarchy.object(item.id))
		}
	}
	if len(loadedObjects) > 0 {
		dm.tx.logger.Debug("objects loaded", "tx", dm.tx.id, "count", len(loadedObjects))
		if err := events.ObjectsLoaded(dm.tx, loadedObjects); err != nil {
			return nil, nil, err
		}
	}
	return result, failures, nil
}

// registerLoadedObjects makes every item of data resident. Items that are
// already resident keep their in-memory state. The returned ids follow the
// order of data and skip missing, failed and invalid items.
func (dm *DataManager) registerLoadedObjects(ctx context.Context, data []loadedObject) ([]domain.ObjectID, error) {
	var fresh []loadedObject
	for _, item := range data {
		if item.err != nil || item.record == nil || dm.IsInvalid(item.id) {
			continue
		}
		if _, ok := dm.containers.Get(item.id); ok {
			continue
		}
		fresh = append(fresh, item)
	}
	if len(fresh) > 0 {
		if err := dm.checkLoadAllowed(); err != nil {
			return nil, err
		}
		ids := make([]domain.ObjectID, 0, len(fresh))
		for _, item := range fresh {
			ids = append(ids, item.id)
		}
		events := dm.tx.events()
		if err := events.ObjectsLoading(dm.tx, ids); err != nil {
			return nil, err
		}
		objects := make([]*DomainObject, 0, len(fresh))
		for _, item := range fresh {
			if _, err := dm.registerLoadedRecord(*item.record); err != nil {
				return nil, err
			}
			objects = append(objects, dm.tx.hierarchy.object(item.id))
		}
		if err := events.ObjectsLoaded(dm.tx, objects); err != nil {
			return nil, err
		}
	}
	var out []domain.ObjectID
	for _, item := range data {
		if _, ok := dm.containers.Get(item.id); ok {
			out = append(out, item.id)
		}
	}
	return out, nil
}

func (dm *DataManager) registerLoadedRecord(record domain.DataRecord) (*DataContainer, error) {
	class, err := dm.mapping().Class(record.ID.ClassID)
	if err != nil {
		return nil, err
	}
	dc, err := newLoadedDataContainer(class, record)
	if err != nil {
		return nil, err
	}
	if err := dm.registerContainer(dc); err != nil {
		return nil, err
	}
	return dc, nil
}

func (dm *DataManager) registerContainer(dc *DataContainer) error {
	if err := dm.containers.register(dc); err != nil {
		return err
	}
	dm.tx.hierarchy.object(dc.id)
	dm.endPoints.registerEndPointsForContainer(dc)
	return nil
}

// unregisterContainer forgets a container that never became visible to
// callers. Unlike discard it leaves no trace in the discarded index.
func (dm *DataManager) unregisterContainer(dc *DataContainer) {
	dm.endPoints.unregisterEndPointsForContainer(dc)
	dm.containers.remove(dc.id)
}

// loadEndPoint completes a virtual or collection end point from the
// persistence strategy and settles the synchronization state of the
// foreign keys involved.
func (dm *DataManager) loadEndPoint(ctx context.Context, ep RelationEndPoint) (err error) {
	var state *domain.LoadState
	switch e := ep.(type) {
	case *VirtualObjectEndPoint:
		state = &e.loadState
	case *CollectionEndPoint:
		state = &e.loadState
	default:
		return nil
	}
	switch *state {
	case domain.LoadComplete:
		return nil
	case domain.LoadLoading:
		return domain.InvalidOperationError{Message: fmt.Sprintf("end point %s is already being loaded", ep.ID())}
	}
	if err := dm.checkLoadAllowed(); err != nil {
		return err
	}
	*state = domain.LoadLoading
	defer func() {
		if err != nil {
			*state = domain.LoadIncomplete
		}
	}()

	def := ep.Definition()
	data, err := dm.persistence.loadRelatedObjectData(ctx, ep.ID(), def)
	if err != nil {
		return fmt.Errorf("load related objects of %s: %w", ep.ID(), err)
	}
	ids, err := dm.registerLoadedObjects(ctx, data)
	if err != nil {
		return err
	}

	owner := ep.ID().ObjectID
	realDef := def.Opposite()
	var unsynchronized []domain.ObjectID
	for _, id := range ids {
		dc, _ := dm.containers.Get(id)
		realEP, _ := dm.endPoints.endPoints[domain.NewRelationEndPointID(id, realDef.QualifiedName())].(*RealObjectEndPoint)
		if dc.foreignKey(realDef.PropertyName, ValueAccessCurrent) == owner {
			if realEP != nil {
				realEP.sync = domain.SyncSynchronized
			}
			continue
		}
		unsynchronized = append(unsynchronized, id)
	}
	for _, realEP := range dm.endPoints.realEndPointsPointingTo(realDef, owner) {
		if !containsID(ids, realEP.id.ObjectID) {
			realEP.sync = domain.SyncUnsynchronized
		}
	}

	switch e := ep.(type) {
	case *VirtualObjectEndPoint:
		if len(ids) > 1 {
			return domain.InvalidOperationError{Message: fmt.Sprintf("end point %s is 1:1 but storage returned %d related objects", ep.ID(), len(ids))}
		}
		var id domain.ObjectID
		if len(ids) == 1 {
			id = ids[0]
		}
		e.markComplete(id)
		e.unsynchronized = len(unsynchronized) > 0
	case *CollectionEndPoint:
		e.markComplete(dm.tx, ids)
		for _, id := range unsynchronized {
			e.unsynchronized[id] = true
		}
	}
	return nil
}

// markDeleted is the last step of a delete command. New objects are
// discarded right away.
func (dm *DataManager) markDeleted(dc *DataContainer) {
	if dc.isNew {
		dm.discard(dc)
		return
	}
	dc.delete()
}

// discard moves dc to the discarded index and drops its end points.
func (dm *DataManager) discard(dc *DataContainer) {
	dm.endPoints.unregisterEndPointsForContainer(dc)
	dm.containers.remove(dc.id)
	dc.discard()
	dm.discarded[dc.id] = dc
}

func (dm *DataManager) markInvalid(id domain.ObjectID) {
	dm.invalid[id] = true
}

func (dm *DataManager) markNotInvalid(id domain.ObjectID) {
	delete(dm.invalid, id)
}

// objectState combines the container state with the object's end points:
// an Unchanged object with a changed virtual or collection end point is
// Changed.
func (dm *DataManager) objectState(id domain.ObjectID) domain.StateType {
	if dm.IsInvalid(id) {
		return domain.StateInvalid
	}
	dc, ok := dm.containers.Get(id)
	if !ok {
		return domain.StateNotLoadedYet
	}
	state := dc.State()
	if state != domain.StateUnchanged {
		return state
	}
	for _, ep := range dm.endPoints.endPointsOf(dc) {
		if ep.HasChanged() {
			return domain.StateChanged
		}
	}
	return state
}

// changedContainers returns the containers of New, Changed and Deleted
// objects in registration order.
func (dm *DataManager) changedContainers() []*DataContainer {
	var out []*DataContainer
	for _, dc := range dm.containers.All() {
		switch dm.objectState(dc.id) {
		case domain.StateNew, domain.StateChanged, domain.StateDeleted:
			out = append(out, dc)
		}
	}
	return out
}

func (dm *DataManager) hasChanged() bool {
	return len(dm.changedContainers()) > 0
}

// validateMandatoryRelations checks every mandatory end point of the new and
// changed objects. Incomplete virtual and collection end points are loaded.
func (dm *DataManager) validateMandatoryRelations(ctx context.Context, containers []*DataContainer) error {
	for _, dc := range containers {
		if dc.isDeleted {
			continue
		}
		for _, def := range dc.class.EndPoints() {
			if !def.Mandatory {
				continue
			}
			ep, err := dm.endPoints.endPoint(ctx, dc.id, def)
			if err != nil {
				return err
			}
			var empty bool
			switch e := ep.(type) {
			case *RealObjectEndPoint:
				empty = e.OppositeObjectID().IsZero()
			case *VirtualObjectEndPoint:
				empty = e.current.IsZero()
			case *CollectionEndPoint:
				empty = len(e.currentIDs) == 0
			}
			if empty {
				return domain.MandatoryRelationNotSetError{ID: dc.id, PropertyName: def.QualifiedName()}
			}
		}
	}
	return nil
}

// commit turns the current state into the new original state.
func (dm *DataManager) commit() {
	for _, dc := range dm.containers.All() {
		if dc.isDeleted {
			dm.discard(dc)
			continue
		}
		dc.commitState()
	}
	dm.endPoints.commitAll()
}

// rollback restores the original state. New objects are discarded.
func (dm *DataManager) rollback() {
	moved := dm.endPoints.changedRealEndPoints()
	dm.endPoints.rollbackAll()
	for _, dc := range dm.containers.All() {
		if dc.isNew {
			dm.discard(dc)
			continue
		}
		dc.rollbackState()
	}
	// Foreign keys are back at their original values; settle them against
	// the rolled back opposite end points.
	for _, ep := range moved {
		if _, ok := dm.endPoints.Get(ep.id); ok {
			ep.sync = dm.endPoints.initialSyncState(ep)
		}
	}
}

// unload drops unchanged containers together with their end points.
func (dm *DataManager) unload(ids []domain.ObjectID) ([]*DataContainer, error) {
	var out []*DataContainer
	for _, id := range ids {
		dc, ok := dm.containers.Get(id)
		if !ok {
			continue
		}
		if state := dm.objectState(id); state != domain.StateUnchanged {
			return nil, domain.InvalidOperationError{Message: fmt.Sprintf("object %s cannot be unloaded because its state is %s", id, state)}
		}
		out = append(out, dc)
	}
	return out, nil
}

func (dm *DataManager) removeUnloaded(dc *DataContainer) {
	for _, ep := range dm.endPoints.endPointsOf(dc) {
		if c, ok := ep.(*CollectionEndPoint); ok && c.collection != nil {
			c.collection.detach()
		}
	}
	dm.endPoints.unregisterEndPointsForContainer(dc)
	dm.containers.remove(dc.id)
}

func dedupeErrors(errs []error) []error {
	seen := make(map[string]bool, len(errs))
	out := errs[:0]
	for _, err := range errs {
		key := err.Error()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, err)
	}
	return out
}

func sortRecordsBy(records []domain.DataRecord, property string) {
	if property == "" {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		return domain.CompareValues(records[i].Values[property], records[j].Values[property]) < 0
	})
}
