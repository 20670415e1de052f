package core

import (
	"context"
	"fmt"

	"graphcore/pkg/domain"
	"graphcore/pkg/mapping"
)

// changeStep is one (notify-before, mutate, notify-after) unit of a relation
// change.
type changeStep struct {
	endPoint   RelationEndPoint
	object     *DomainObject
	oldRelated *DomainObject
	newRelated *DomainObject
	perform    func()
	notify     bool
}

// RelationCommand is an ordered list of relation change steps. Builders
// return a command describing the initiating end point only;
// ExpandToAllRelatedObjects adds the steps for every opposite end point that
// has to follow.
type RelationCommand struct {
	tx       *ClientTransaction
	steps    []changeStep
	expand   func(ctx context.Context) ([]changeStep, error)
	expanded bool
}

// Len returns the number of steps.
func (c *RelationCommand) Len() int { return len(c.steps) }

// AffectedEndPointIDs lists the end points touched by the command in step
// order. Steps that do not belong to an end point are skipped.
func (c *RelationCommand) AffectedEndPointIDs() []domain.RelationEndPointID {
	var out []domain.RelationEndPointID
	for _, s := range c.steps {
		if s.endPoint == nil {
			continue
		}
		if _, ok := s.endPoint.(*AnonymousEndPoint); ok {
			continue
		}
		out = append(out, s.endPoint.ID())
	}
	return out
}

// ExpandToAllRelatedObjects returns a command covering the opposite end
// points as well. Loading the opposite end points happens here, before any
// notification is sent.
func (c *RelationCommand) ExpandToAllRelatedObjects(ctx context.Context) (*RelationCommand, error) {
	if c.expanded || c.expand == nil {
		return &RelationCommand{tx: c.tx, steps: c.steps, expanded: true}, nil
	}
	steps, err := c.expand(ctx)
	if err != nil {
		return nil, err
	}
	return &RelationCommand{tx: c.tx, steps: steps, expanded: true}, nil
}

// NotifyAndPerform runs every Changing notification, then every mutation,
// then every Changed notification in the same order. A veto during the first
// phase leaves all data untouched.
func (c *RelationCommand) NotifyAndPerform() error {
	if err := c.Begin(); err != nil {
		return err
	}
	c.Perform()
	return c.End()
}

// Begin sends the Changing notifications.
func (c *RelationCommand) Begin() error {
	events := c.tx.events()
	for _, s := range c.steps {
		if !s.notify {
			continue
		}
		if err := events.RelationChanging(c.tx, s.object, s.endPoint.Definition(), s.oldRelated, s.newRelated); err != nil {
			return err
		}
	}
	return nil
}

// Perform applies the mutations.
func (c *RelationCommand) Perform() {
	for _, s := range c.steps {
		if s.perform != nil {
			s.perform()
		}
	}
}

// End sends the Changed notifications.
func (c *RelationCommand) End() error {
	events := c.tx.events()
	for _, s := range c.steps {
		if !s.notify {
			continue
		}
		if err := events.RelationChanged(c.tx, s.object, s.endPoint.Definition(), s.oldRelated, s.newRelated); err != nil {
			return err
		}
	}
	return nil
}

func (m *RelationEndPointManager) tx() *ClientTransaction { return m.dm.tx }

func (m *RelationEndPointManager) obj(id domain.ObjectID) *DomainObject {
	if id.IsZero() {
		return nil
	}
	return m.tx().hierarchy.object(id)
}

func (m *RelationEndPointManager) touchOnly(ep RelationEndPoint) *RelationCommand {
	return &RelationCommand{tx: m.tx(), steps: []changeStep{{endPoint: ep, perform: ep.Touch}}, expanded: true}
}

func unsynchronizedError(id domain.RelationEndPointID) error {
	return domain.InvalidOperationError{Message: fmt.Sprintf(
		"the relation %s is out of sync with its opposite end point; call Synchronize before changing it", id)}
}

// CreateSetCommand builds the command that points an object end point (real
// or virtual 1:1) at newRelated, which may be nil.
func (m *RelationEndPointManager) CreateSetCommand(ep RelationEndPoint, newRelated *DomainObject) (*RelationCommand, error) {
	switch e := ep.(type) {
	case *RealObjectEndPoint:
		return m.createRealSetCommand(e, newRelated)
	case *VirtualObjectEndPoint:
		return m.createVirtualSetCommand(e, newRelated)
	default:
		return nil, domain.ArgumentError{Argument: "endPoint", Message: fmt.Sprintf("%s is not an object end point", ep.Definition())}
	}
}

func (m *RelationEndPointManager) createRealSetCommand(ep *RealObjectEndPoint, newRelated *DomainObject) (*RelationCommand, error) {
	if ep.sync == domain.SyncUnsynchronized {
		return nil, unsynchronizedError(ep.id)
	}
	self := ep.id.ObjectID
	oldID := ep.OppositeObjectID()
	newID := objectIDOf(newRelated)
	if oldID == newID {
		return m.touchOnly(ep), nil
	}
	initial := changeStep{
		endPoint: ep, object: m.obj(self), oldRelated: m.obj(oldID), newRelated: newRelated, notify: true,
		perform: func() { ep.setOppositeObjectID(newID); ep.sync = domain.SyncSynchronized },
	}
	oppDef := ep.def.Opposite()
	cmd := &RelationCommand{tx: m.tx(), steps: []changeStep{initial}}
	cmd.expand = func(ctx context.Context) ([]changeStep, error) {
		steps := []changeStep{initial}
		if oppDef.Anonymous {
			return steps, nil
		}
		if !oldID.IsZero() {
			oldOpp, err := m.endPoint(ctx, oldID, oppDef)
			if err != nil {
				return nil, err
			}
			steps = append(steps, m.detachStep(oldOpp, self))
		}
		if !newID.IsZero() {
			newOpp, err := m.endPoint(ctx, newID, oppDef)
			if err != nil {
				return nil, err
			}
			switch o := newOpp.(type) {
			case *CollectionEndPoint:
				steps = append(steps, changeStep{
					endPoint: o, object: newRelated, newRelated: m.obj(self), notify: true,
					perform: func() { o.insert(len(o.currentIDs), self) },
				})
			case *VirtualObjectEndPoint:
				if o.unsynchronized {
					return nil, unsynchronizedError(o.id)
				}
				prev := o.current
				steps = append(steps, changeStep{
					endPoint: o, object: newRelated, oldRelated: m.obj(prev), newRelated: m.obj(self), notify: true,
					perform: func() { o.setOppositeObjectID(self) },
				})
				if !prev.IsZero() && prev != self {
					prevEP, err := m.realEndPoint(ctx, prev, ep.def)
					if err != nil {
						return nil, err
					}
					steps = append(steps, changeStep{
						endPoint: prevEP, object: m.obj(prev), oldRelated: newRelated, notify: true,
						perform: func() { prevEP.setOppositeObjectID(domain.ObjectID{}) },
					})
				}
			}
		}
		return steps, nil
	}
	return cmd, nil
}

func (m *RelationEndPointManager) createVirtualSetCommand(ep *VirtualObjectEndPoint, newRelated *DomainObject) (*RelationCommand, error) {
	if ep.unsynchronized {
		return nil, unsynchronizedError(ep.id)
	}
	self := ep.id.ObjectID
	oldID := ep.current
	newID := objectIDOf(newRelated)
	if oldID == newID {
		return m.touchOnly(ep), nil
	}
	initial := changeStep{
		endPoint: ep, object: m.obj(self), oldRelated: m.obj(oldID), newRelated: newRelated, notify: true,
		perform: func() { ep.setOppositeObjectID(newID) },
	}
	realDef := ep.def.Opposite()
	cmd := &RelationCommand{tx: m.tx(), steps: []changeStep{initial}}
	cmd.expand = func(ctx context.Context) ([]changeStep, error) {
		steps := []changeStep{initial}
		if !oldID.IsZero() {
			oldEP, err := m.realEndPoint(ctx, oldID, realDef)
			if err != nil {
				return nil, err
			}
			steps = append(steps, changeStep{
				endPoint: oldEP, object: m.obj(oldID), oldRelated: m.obj(self), notify: true,
				perform: func() { oldEP.setOppositeObjectID(domain.ObjectID{}) },
			})
		}
		if !newID.IsZero() {
			newEP, err := m.realEndPoint(ctx, newID, realDef)
			if err != nil {
				return nil, err
			}
			if newEP.sync == domain.SyncUnsynchronized {
				return nil, unsynchronizedError(newEP.id)
			}
			prev := newEP.OppositeObjectID()
			steps = append(steps, changeStep{
				endPoint: newEP, object: newRelated, oldRelated: m.obj(prev), newRelated: m.obj(self), notify: true,
				perform: func() { newEP.setOppositeObjectID(self); newEP.sync = domain.SyncSynchronized },
			})
			if !prev.IsZero() && prev != self {
				prevEP, err := m.endPoint(ctx, prev, ep.def)
				if err != nil {
					return nil, err
				}
				steps = append(steps, m.detachStep(prevEP, newID))
			}
		}
		return steps, nil
	}
	return cmd, nil
}

// detachStep removes item from a virtual or collection end point.
func (m *RelationEndPointManager) detachStep(ep RelationEndPoint, item domain.ObjectID) changeStep {
	owner := m.obj(ep.ID().ObjectID)
	step := changeStep{endPoint: ep, object: owner, oldRelated: m.obj(item), notify: true}
	switch o := ep.(type) {
	case *CollectionEndPoint:
		step.perform = func() { o.remove(item) }
	case *VirtualObjectEndPoint:
		step.perform = func() { o.setOppositeObjectID(domain.ObjectID{}) }
	}
	return step
}

// attachToOwnerSteps points item's foreign key at owner and removes item
// from the collection it belonged to before.
func (m *RelationEndPointManager) attachToOwnerSteps(ctx context.Context, collection *CollectionEndPoint, item *DomainObject) ([]changeStep, error) {
	owner := collection.id.ObjectID
	itemEP, err := m.realEndPoint(ctx, item.id, collection.def.Opposite())
	if err != nil {
		return nil, err
	}
	prev := itemEP.OppositeObjectID()
	steps := []changeStep{{
		endPoint: itemEP, object: item, oldRelated: m.obj(prev), newRelated: m.obj(owner), notify: true,
		perform: func() { itemEP.setOppositeObjectID(owner); itemEP.sync = domain.SyncSynchronized },
	}}
	if !prev.IsZero() && prev != owner {
		prevEP, err := m.endPoint(ctx, prev, collection.def)
		if err != nil {
			return nil, err
		}
		steps = append(steps, m.detachStep(prevEP, item.id))
	}
	return steps, nil
}

func (m *RelationEndPointManager) clearForeignKeyStep(ctx context.Context, collection *CollectionEndPoint, item domain.ObjectID) (changeStep, error) {
	itemEP, err := m.realEndPoint(ctx, item, collection.def.Opposite())
	if err != nil {
		return changeStep{}, err
	}
	return changeStep{
		endPoint: itemEP, object: m.obj(item), oldRelated: m.obj(collection.id.ObjectID), notify: true,
		perform: func() { itemEP.setOppositeObjectID(domain.ObjectID{}) },
	}, nil
}

func (m *RelationEndPointManager) checkCollectionItem(ctx context.Context, ep *CollectionEndPoint, item *DomainObject) error {
	if item == nil {
		return domain.ArgumentError{Argument: "obj", Message: "collections cannot hold nil"}
	}
	if want := ep.def.Opposite().ClassID; item.ClassID() != want {
		return domain.ArgumentError{Argument: "obj", Message: fmt.Sprintf("%s is not of class %s", item.id, want)}
	}
	itemEP, err := m.realEndPoint(ctx, item.id, ep.def.Opposite())
	if err != nil {
		return err
	}
	if itemEP.sync == domain.SyncUnsynchronized {
		return unsynchronizedError(itemEP.id)
	}
	return nil
}

// CreateInsertCommand builds the command that inserts item into a collection
// at index.
func (m *RelationEndPointManager) CreateInsertCommand(ctx context.Context, ep *CollectionEndPoint, index int, item *DomainObject) (*RelationCommand, error) {
	if err := m.checkCollectionItem(ctx, ep, item); err != nil {
		return nil, err
	}
	if containsID(ep.currentIDs, item.id) {
		return nil, domain.ArgumentError{Argument: "obj", Message: fmt.Sprintf("%s already contains %s", ep.id, item.id)}
	}
	if index < 0 || index > len(ep.currentIDs) {
		return nil, domain.ArgumentError{Argument: "index", Message: fmt.Sprintf("index %d out of range [0,%d]", index, len(ep.currentIDs))}
	}
	initial := changeStep{
		endPoint: ep, object: m.obj(ep.id.ObjectID), newRelated: item, notify: true,
		perform: func() { ep.insert(index, item.id) },
	}
	cmd := &RelationCommand{tx: m.tx(), steps: []changeStep{initial}}
	cmd.expand = func(ctx context.Context) ([]changeStep, error) {
		more, err := m.attachToOwnerSteps(ctx, ep, item)
		if err != nil {
			return nil, err
		}
		return append([]changeStep{initial}, more...), nil
	}
	return cmd, nil
}

// CreateAddCommand appends item to a collection.
func (m *RelationEndPointManager) CreateAddCommand(ctx context.Context, ep *CollectionEndPoint, item *DomainObject) (*RelationCommand, error) {
	return m.CreateInsertCommand(ctx, ep, len(ep.currentIDs), item)
}

// CreateRemoveCommand builds the command that removes item from a
// collection. Removing a non-member yields an empty command.
func (m *RelationEndPointManager) CreateRemoveCommand(ep *CollectionEndPoint, item *DomainObject) (*RelationCommand, error) {
	if item == nil || !containsID(ep.currentIDs, item.id) {
		return &RelationCommand{tx: m.tx(), expanded: true}, nil
	}
	if ep.unsynchronized[item.id] {
		return nil, unsynchronizedError(ep.id)
	}
	initial := changeStep{
		endPoint: ep, object: m.obj(ep.id.ObjectID), oldRelated: item, notify: true,
		perform: func() { ep.remove(item.id) },
	}
	cmd := &RelationCommand{tx: m.tx(), steps: []changeStep{initial}}
	cmd.expand = func(ctx context.Context) ([]changeStep, error) {
		clearStep, err := m.clearForeignKeyStep(ctx, ep, item.id)
		if err != nil {
			return nil, err
		}
		return []changeStep{initial, clearStep}, nil
	}
	return cmd, nil
}

// CreateReplaceCommand builds the command that puts item at index in place
// of the current item there.
func (m *RelationEndPointManager) CreateReplaceCommand(ctx context.Context, ep *CollectionEndPoint, index int, item *DomainObject) (*RelationCommand, error) {
	if index < 0 || index >= len(ep.currentIDs) {
		return nil, domain.ArgumentError{Argument: "index", Message: fmt.Sprintf("index %d out of range [0,%d)", index, len(ep.currentIDs))}
	}
	replaced := ep.currentIDs[index]
	if item != nil && item.id == replaced {
		return m.touchOnly(ep), nil
	}
	if err := m.checkCollectionItem(ctx, ep, item); err != nil {
		return nil, err
	}
	if containsID(ep.currentIDs, item.id) {
		return nil, domain.ArgumentError{Argument: "obj", Message: fmt.Sprintf("%s already contains %s", ep.id, item.id)}
	}
	if ep.unsynchronized[replaced] {
		return nil, unsynchronizedError(ep.id)
	}
	initial := changeStep{
		endPoint: ep, object: m.obj(ep.id.ObjectID), oldRelated: m.obj(replaced), newRelated: item, notify: true,
		perform: func() { ep.replaceAt(index, item.id) },
	}
	cmd := &RelationCommand{tx: m.tx(), steps: []changeStep{initial}}
	cmd.expand = func(ctx context.Context) ([]changeStep, error) {
		clearStep, err := m.clearForeignKeyStep(ctx, ep, replaced)
		if err != nil {
			return nil, err
		}
		more, err := m.attachToOwnerSteps(ctx, ep, item)
		if err != nil {
			return nil, err
		}
		return append([]changeStep{initial, clearStep}, more...), nil
	}
	return cmd, nil
}

// CreateSetCollectionCommand builds the command that replaces the whole
// collection of ep with c. c must be stand-alone or already be ep's
// collection.
func (m *RelationEndPointManager) CreateSetCollectionCommand(ctx context.Context, ep *CollectionEndPoint, c *DomainObjectCollection) (*RelationCommand, error) {
	if c == nil {
		return nil, domain.ArgumentError{Argument: "collection", Message: "collection must not be nil"}
	}
	if c == ep.collection {
		return m.touchOnly(ep), nil
	}
	if c.IsAssociated() {
		return nil, domain.ArgumentError{Argument: "collection", Message: "the collection already belongs to another relation end point"}
	}
	if c.readOnly {
		return nil, domain.ArgumentError{Argument: "collection", Message: "a read-only collection cannot become the value of a relation"}
	}
	want := ep.def.Opposite().ClassID
	if c.requiredClass != "" && c.requiredClass != want {
		return nil, domain.ArgumentError{Argument: "collection", Message: fmt.Sprintf("collection requires class %s, relation holds %s", c.requiredClass, want)}
	}
	if len(ep.unsynchronized) > 0 {
		return nil, unsynchronizedError(ep.id)
	}
	newItems := c.Items()
	newIDs := make([]domain.ObjectID, 0, len(newItems))
	for _, item := range newItems {
		if err := m.checkCollectionItem(ctx, ep, item); err != nil {
			return nil, err
		}
		newIDs = append(newIDs, item.id)
	}
	if c.requiredClass == "" {
		c.requiredClass = want
	}
	initial := changeStep{
		endPoint: ep, object: m.obj(ep.id.ObjectID), notify: true,
		perform: func() { ep.replaceCollection(m.tx(), c, newIDs) },
	}
	oldIDs := append([]domain.ObjectID(nil), ep.currentIDs...)
	cmd := &RelationCommand{tx: m.tx(), steps: []changeStep{initial}}
	cmd.expand = func(ctx context.Context) ([]changeStep, error) {
		steps := []changeStep{initial}
		for _, id := range oldIDs {
			if containsID(newIDs, id) {
				continue
			}
			clearStep, err := m.clearForeignKeyStep(ctx, ep, id)
			if err != nil {
				return nil, err
			}
			steps = append(steps, clearStep)
		}
		for _, item := range newItems {
			if containsID(oldIDs, item.id) {
				continue
			}
			more, err := m.attachToOwnerSteps(ctx, ep, item)
			if err != nil {
				return nil, err
			}
			steps = append(steps, more...)
		}
		return steps, nil
	}
	return cmd, nil
}

// CreateDeleteCommand builds the command that clears every relation of the
// container's object and marks it deleted. The object's own end points change
// silently; only the opposite objects are notified.
func (m *RelationEndPointManager) CreateDeleteCommand(ctx context.Context, dc *DataContainer) (*RelationCommand, error) {
	self := dc.id
	var own []changeStep
	var related []func(ctx context.Context) ([]changeStep, error)
	for _, def := range dc.class.EndPoints() {
		ep, err := m.endPoint(ctx, self, def)
		if err != nil {
			return nil, err
		}
		switch e := ep.(type) {
		case *RealObjectEndPoint:
			if e.sync == domain.SyncUnsynchronized {
				return nil, unsynchronizedError(e.id)
			}
			target := e.OppositeObjectID()
			if target.IsZero() {
				continue
			}
			own = append(own, changeStep{endPoint: e, perform: func() { e.setOppositeObjectID(domain.ObjectID{}) }})
			oppDef := def.Opposite()
			if oppDef.Anonymous {
				continue
			}
			related = append(related, func(ctx context.Context) ([]changeStep, error) {
				opp, err := m.endPoint(ctx, target, oppDef)
				if err != nil {
					return nil, err
				}
				return []changeStep{m.detachStep(opp, self)}, nil
			})
		case *VirtualObjectEndPoint:
			if e.unsynchronized {
				return nil, unsynchronizedError(e.id)
			}
			target := e.current
			if target.IsZero() {
				continue
			}
			own = append(own, changeStep{endPoint: e, perform: func() { e.setOppositeObjectID(domain.ObjectID{}) }})
			realDef := def.Opposite()
			related = append(related, func(ctx context.Context) ([]changeStep, error) {
				opp, err := m.realEndPoint(ctx, target, realDef)
				if err != nil {
					return nil, err
				}
				return []changeStep{{
					endPoint: opp, object: m.obj(target), oldRelated: m.obj(self), notify: true,
					perform: func() { opp.setOppositeObjectID(domain.ObjectID{}) },
				}}, nil
			})
		case *CollectionEndPoint:
			if len(e.unsynchronized) > 0 {
				return nil, unsynchronizedError(e.id)
			}
			items := append([]domain.ObjectID(nil), e.currentIDs...)
			own = append(own, changeStep{endPoint: e, perform: e.clearData})
			related = append(related, func(ctx context.Context) ([]changeStep, error) {
				var steps []changeStep
				for _, item := range items {
					clearStep, err := m.clearForeignKeyStep(ctx, e, item)
					if err != nil {
						return nil, err
					}
					steps = append(steps, clearStep)
				}
				return steps, nil
			})
		}
	}
	final := changeStep{perform: func() { m.dm.markDeleted(dc) }}
	cmd := &RelationCommand{tx: m.tx(), steps: append(append([]changeStep(nil), own...), final)}
	cmd.expand = func(ctx context.Context) ([]changeStep, error) {
		steps := append([]changeStep(nil), own...)
		for _, build := range related {
			more, err := build(ctx)
			if err != nil {
				return nil, err
			}
			steps = append(steps, more...)
		}
		return append(steps, final), nil
	}
	return cmd, nil
}

// definitionOf resolves a navigable end point definition of obj's class.
func definitionOf(cfg *mapping.Configuration, obj *DomainObject, propertyName string) (*mapping.RelationEndPointDefinition, error) {
	return cfg.EndPoint(obj.ClassID(), propertyName)
}
