package core

import (
	"context"
	"fmt"
	"slices"

	"graphcore/pkg/domain"
)

// Commit makes the transaction's changes permanent: a root transaction saves
// them through its storage provider, a sub-transaction pushes them into its
// parent. Listeners may veto in TransactionCommitting and
// TransactionCommitValidate; nothing has changed at that point.
func (tx *ClientTransaction) Commit(ctx context.Context) error {
	if err := tx.ensureWriteable("Commit"); err != nil {
		return err
	}
	events := tx.events()
	if err := events.TransactionCommitting(tx, tx.objectsOf(tx.dm.changedContainers())); err != nil {
		return err
	}
	// Committing listeners may have changed data.
	changed := tx.dm.changedContainers()
	objects := tx.objectsOf(changed)
	if err := tx.dm.validateMandatoryRelations(ctx, changed); err != nil {
		return err
	}
	if err := events.TransactionCommitValidate(tx, objects); err != nil {
		return err
	}
	var err error
	var revalidated []*DomainObject
	if tx.parent == nil {
		err = tx.persist(ctx, changed)
	} else {
		revalidated, err = tx.pushToParent(ctx, changed)
	}
	if err != nil {
		return fmt.Errorf("commit %s: %w", tx, err)
	}
	tx.dm.commit()
	tx.logger.Debug("transaction committed", "count", len(objects))
	if len(revalidated) > 0 {
		parentEvents := tx.parent.events()
		for _, obj := range revalidated {
			if err := parentEvents.ObjectMarkedNotInvalid(tx.parent, obj); err != nil {
				return err
			}
		}
	}
	return events.TransactionCommitted(tx, objects)
}

// persist saves the changed containers in one batch and applies the new
// timestamps.
func (tx *ClientTransaction) persist(ctx context.Context, changed []*DataContainer) error {
	var batch []domain.PersistableData
	for _, dc := range changed {
		switch dc.State() {
		case domain.StateNew:
			batch = append(batch, domain.PersistableData{State: domain.StateNew, Record: dc.record()})
		case domain.StateChanged:
			batch = append(batch, domain.PersistableData{State: domain.StateChanged, Record: dc.record(), OriginalTimestamp: dc.timestamp})
		case domain.StateDeleted:
			batch = append(batch, domain.PersistableData{State: domain.StateDeleted, Record: dc.record(), OriginalTimestamp: dc.timestamp})
		}
	}
	if len(batch) == 0 {
		return nil
	}
	timestamps, err := tx.hierarchy.storage.Save(ctx, batch)
	if err != nil {
		return err
	}
	for id, ts := range timestamps {
		if dc, ok := tx.dm.containers.Get(id); ok {
			dc.timestamp = ts
		}
	}
	return nil
}

// pushToParent copies the sub-transaction's changes into the parent. The
// parent is unlocked for the duration and receives no change events: its
// data simply becomes what the sub-transaction committed. Everything that can
// fail is checked before the parent is modified. The returned objects were
// created in the sub-transaction and are valid in the parent from now on.
func (tx *ClientTransaction) pushToParent(ctx context.Context, changed []*DataContainer) ([]*DomainObject, error) {
	parent := tx.parent
	defer parent.unlock()()
	pdm := parent.dm

	created := make(map[domain.ObjectID]bool)
	for _, dc := range changed {
		_, inParent := pdm.containers.Get(dc.id)
		switch {
		case dc.isNew && dc.isDeleted:
		case dc.isNew && inParent:
			return nil, domain.InvalidOperationError{Message: fmt.Sprintf("object %s already exists in the parent transaction", dc.id)}
		case dc.isNew:
			created[dc.id] = true
		case !inParent:
			return nil, domain.InvalidOperationError{Message: fmt.Sprintf("object %s is missing in the parent transaction", dc.id)}
		}
	}

	// Resolve the parent's end points before any of its foreign keys change,
	// so loads see consistent data.
	type endPointPair struct {
		child, parent RelationEndPoint
	}
	var pairs []endPointPair
	var fromNew []RelationEndPoint
	for _, ep := range tx.dm.endPoints.changedEndPoints() {
		owner := ep.ID().ObjectID
		if dc, ok := tx.dm.containers.Get(owner); ok && dc.isDeleted {
			continue
		}
		if pdm.invalid[owner] {
			if !created[owner] {
				return nil, domain.InvalidOperationError{Message: fmt.Sprintf("end point %s belongs to an object that is invalid in the parent transaction", ep.ID())}
			}
			fromNew = append(fromNew, ep)
			continue
		}
		pep, err := pdm.endPoints.endPoint(ctx, owner, ep.Definition())
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, endPointPair{child: ep, parent: pep})
	}

	var resync []*DataContainer
	var revalidated []*DomainObject
	for _, dc := range changed {
		if !created[dc.id] {
			continue
		}
		pdc := newNewDataContainer(dc.id, dc.class)
		for name, pv := range dc.values {
			pdc.values[name].current = domain.CloneValue(pv.current)
			pdc.values[name].touched = true
		}
		if err := pdm.registerContainer(pdc); err != nil {
			return nil, err
		}
		pdm.markNotInvalid(dc.id)
		resync = append(resync, pdc)
		revalidated = append(revalidated, tx.hierarchy.object(dc.id))
	}
	for _, ep := range fromNew {
		// Registered together with the new container above.
		pep, _ := pdm.endPoints.Get(ep.ID())
		pairs = append(pairs, endPointPair{child: ep, parent: pep})
	}

	for _, dc := range changed {
		if dc.isNew {
			continue
		}
		pdc, _ := pdm.containers.Get(dc.id)
		props := dc.changedProperties()
		for _, p := range props {
			pv := pdc.values[p.Name]
			pv.current = domain.CloneValue(dc.values[p.Name].current)
			pv.touched = true
		}
		if dc.markedChanged {
			pdc.markedChanged = true
		}
		if len(props) > 0 {
			resync = append(resync, pdc)
		}
	}

	for _, pair := range pairs {
		switch c := pair.child.(type) {
		case *VirtualObjectEndPoint:
			p := pair.parent.(*VirtualObjectEndPoint)
			p.setOppositeObjectID(c.current)
			p.unsynchronized = false
		case *CollectionEndPoint:
			p := pair.parent.(*CollectionEndPoint)
			p.currentIDs = slices.Clone(c.currentIDs)
			p.touched = true
			for id := range p.unsynchronized {
				if !containsID(p.currentIDs, id) {
					delete(p.unsynchronized, id)
				}
			}
		}
	}

	for _, pdc := range resync {
		for _, ep := range pdm.endPoints.endPointsOf(pdc) {
			if realEP, ok := ep.(*RealObjectEndPoint); ok {
				realEP.sync = pdm.endPoints.initialSyncState(realEP)
			}
		}
	}

	for _, dc := range changed {
		if !dc.isDeleted {
			continue
		}
		pdc, ok := pdm.containers.Get(dc.id)
		if !ok {
			continue
		}
		if pdc.isNew {
			pdm.discard(pdc)
			continue
		}
		pdc.delete()
	}
	return revalidated, nil
}

// Rollback discards the transaction's changes. New objects become invalid.
// Nothing is reported when there is nothing to roll back.
func (tx *ClientTransaction) Rollback() error {
	if err := tx.ensureWriteable("Rollback"); err != nil {
		return err
	}
	changed := tx.dm.changedContainers()
	if len(changed) == 0 && len(tx.dm.endPoints.changedEndPoints()) == 0 {
		return nil
	}
	objects := tx.objectsOf(changed)
	events := tx.events()
	if err := events.TransactionRollingBack(tx, objects); err != nil {
		return err
	}
	tx.dm.rollback()
	tx.logger.Debug("transaction rolled back", "count", len(objects))
	return events.TransactionRolledBack(tx, objects)
}
