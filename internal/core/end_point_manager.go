package core

import (
	"context"
	"fmt"

	"graphcore/pkg/domain"
	"graphcore/pkg/mapping"
)

// RelationEndPointManager is the per-transaction map of relation end points.
// Real end points are registered with their container; virtual and collection
// end points are created on first access and loaded lazily.
type RelationEndPointManager struct {
	dm        *DataManager
	endPoints map[domain.RelationEndPointID]RelationEndPoint
	order     []domain.RelationEndPointID
}

func newRelationEndPointManager(dm *DataManager) *RelationEndPointManager {
	return &RelationEndPointManager{dm: dm, endPoints: make(map[domain.RelationEndPointID]RelationEndPoint)}
}

// Get returns a registered end point without loading anything.
func (m *RelationEndPointManager) Get(id domain.RelationEndPointID) (RelationEndPoint, bool) {
	ep, ok := m.endPoints[id]
	return ep, ok
}

// All returns the registered end points in registration order.
func (m *RelationEndPointManager) All() []RelationEndPoint {
	out := make([]RelationEndPoint, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.endPoints[id])
	}
	return out
}

// Len returns the number of registered end points.
func (m *RelationEndPointManager) Len() int { return len(m.endPoints) }

func (m *RelationEndPointManager) register(ep RelationEndPoint) {
	if _, ok := ep.(*AnonymousEndPoint); ok {
		return
	}
	if _, ok := m.endPoints[ep.ID()]; !ok {
		m.order = append(m.order, ep.ID())
	}
	m.endPoints[ep.ID()] = ep
}

func (m *RelationEndPointManager) unregister(id domain.RelationEndPointID) {
	if _, ok := m.endPoints[id]; !ok {
		return
	}
	delete(m.endPoints, id)
	for i, other := range m.order {
		if other == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// registerEndPointsForContainer registers the real end points of dc. For new
// objects the virtual and collection end points are registered as complete
// and empty.
func (m *RelationEndPointManager) registerEndPointsForContainer(dc *DataContainer) {
	for _, def := range dc.class.EndPoints() {
		if def.IsReal() {
			ep := newRealObjectEndPoint(dc, def)
			ep.sync = m.initialSyncState(ep)
			m.register(ep)
			continue
		}
		if !dc.isNew {
			continue
		}
		id := domain.NewRelationEndPointID(dc.id, def.QualifiedName())
		if def.IsCollection() {
			ep := newCollectionEndPoint(id, def)
			ep.markComplete(m.dm.tx, nil)
			m.register(ep)
		} else {
			ep := newVirtualObjectEndPoint(id, def)
			ep.markComplete(domain.ObjectID{})
			m.register(ep)
		}
	}
}

// initialSyncState compares a freshly registered foreign key with the
// opposite end point, if that one is already complete.
func (m *RelationEndPointManager) initialSyncState(ep *RealObjectEndPoint) domain.SyncState {
	opp := ep.def.Opposite()
	target := ep.OppositeObjectID()
	if opp.Anonymous || target.IsZero() {
		return domain.SyncSynchronized
	}
	oppEP, ok := m.endPoints[domain.NewRelationEndPointID(target, opp.QualifiedName())]
	if !ok || !oppEP.IsDataComplete() {
		return domain.SyncUnknown
	}
	switch o := oppEP.(type) {
	case *CollectionEndPoint:
		if containsID(o.currentIDs, ep.id.ObjectID) {
			return domain.SyncSynchronized
		}
	case *VirtualObjectEndPoint:
		if o.current == ep.id.ObjectID {
			return domain.SyncSynchronized
		}
	}
	return domain.SyncUnsynchronized
}

func (m *RelationEndPointManager) unregisterEndPointsForContainer(dc *DataContainer) {
	for _, def := range dc.class.EndPoints() {
		m.unregister(domain.NewRelationEndPointID(dc.id, def.QualifiedName()))
	}
}

// endPointsOf returns the registered end points owned by id.
func (m *RelationEndPointManager) endPointsOf(dc *DataContainer) []RelationEndPoint {
	var out []RelationEndPoint
	for _, def := range dc.class.EndPoints() {
		if ep, ok := m.endPoints[domain.NewRelationEndPointID(dc.id, def.QualifiedName())]; ok {
			out = append(out, ep)
		}
	}
	return out
}

// endPoint returns the end point for (owner, def), loading the owner's data
// or the end point's data as needed.
func (m *RelationEndPointManager) endPoint(ctx context.Context, owner domain.ObjectID, def *mapping.RelationEndPointDefinition) (RelationEndPoint, error) {
	if def.Anonymous {
		return newAnonymousEndPoint(owner, def), nil
	}
	if def.IsReal() {
		return m.realEndPoint(ctx, owner, def)
	}
	id := domain.NewRelationEndPointID(owner, def.QualifiedName())
	ep, ok := m.endPoints[id]
	if !ok {
		if m.dm.IsInvalid(owner) {
			return nil, domain.ObjectInvalidError{ID: owner}
		}
		if def.IsCollection() {
			ep = newCollectionEndPoint(id, def)
		} else {
			ep = newVirtualObjectEndPoint(id, def)
		}
		m.register(ep)
	}
	if err := m.dm.loadEndPoint(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

func (m *RelationEndPointManager) realEndPoint(ctx context.Context, owner domain.ObjectID, def *mapping.RelationEndPointDefinition) (*RealObjectEndPoint, error) {
	if _, err := m.dm.GetDataContainerWithLazyLoad(ctx, owner, true); err != nil {
		return nil, err
	}
	ep, ok := m.endPoints[domain.NewRelationEndPointID(owner, def.QualifiedName())].(*RealObjectEndPoint)
	if !ok {
		return nil, domain.InvalidOperationError{Message: fmt.Sprintf("no real end point %s registered for %s", def, owner)}
	}
	return ep, nil
}

func (m *RelationEndPointManager) collectionEndPoint(ctx context.Context, owner domain.ObjectID, def *mapping.RelationEndPointDefinition) (*CollectionEndPoint, error) {
	ep, err := m.endPoint(ctx, owner, def)
	if err != nil {
		return nil, err
	}
	c, ok := ep.(*CollectionEndPoint)
	if !ok {
		return nil, domain.ArgumentError{Argument: "propertyName", Message: fmt.Sprintf("%s is not a collection end point", def)}
	}
	return c, nil
}

// realEndPointsPointingTo returns the registered real end points of def whose
// foreign key currently holds target.
func (m *RelationEndPointManager) realEndPointsPointingTo(def *mapping.RelationEndPointDefinition, target domain.ObjectID) []*RealObjectEndPoint {
	var out []*RealObjectEndPoint
	for _, id := range m.order {
		ep, ok := m.endPoints[id].(*RealObjectEndPoint)
		if ok && ep.def == def && ep.OppositeObjectID() == target {
			out = append(out, ep)
		}
	}
	return out
}

func (m *RelationEndPointManager) commitAll() {
	for _, id := range m.order {
		m.endPoints[id].commit()
	}
}

func (m *RelationEndPointManager) rollbackAll() {
	for _, id := range m.order {
		m.endPoints[id].rollback()
	}
}

// changedRealEndPoints returns the foreign-key end points whose value
// differs from the original.
func (m *RelationEndPointManager) changedRealEndPoints() []*RealObjectEndPoint {
	var out []*RealObjectEndPoint
	for _, id := range m.order {
		if ep, ok := m.endPoints[id].(*RealObjectEndPoint); ok && ep.HasChanged() {
			out = append(out, ep)
		}
	}
	return out
}

// changedEndPoints returns the virtual and collection end points whose data
// differs from the original.
func (m *RelationEndPointManager) changedEndPoints() []RelationEndPoint {
	var out []RelationEndPoint
	for _, id := range m.order {
		ep := m.endPoints[id]
		if _, ok := ep.(*RealObjectEndPoint); ok {
			continue
		}
		if ep.HasChanged() {
			out = append(out, ep)
		}
	}
	return out
}

func containsID(ids []domain.ObjectID, id domain.ObjectID) bool {
	for _, other := range ids {
		if other == id {
			return true
		}
	}
	return false
}
