package core

import (
	"context"
	"fmt"

	"graphcore/pkg/domain"
	"graphcore/pkg/mapping"
)

// relationTarget validates obj and resolves its end point definition. The
// owner's container is loaded; deleted owners are rejected unless
// includeDeleted.
func (tx *ClientTransaction) relationTarget(ctx context.Context, obj *DomainObject, property string, includeDeleted bool) (*mapping.RelationEndPointDefinition, error) {
	if err := tx.checkObject(obj, domain.RoleTarget); err != nil {
		return nil, err
	}
	def, err := definitionOf(tx.hierarchy.mapping, obj, property)
	if err != nil {
		return nil, err
	}
	if _, err := tx.container(ctx, obj, includeDeleted); err != nil {
		return nil, err
	}
	return def, nil
}

// relatedArgument validates an object that is about to become related.
func (tx *ClientTransaction) relatedArgument(ctx context.Context, def *mapping.RelationEndPointDefinition, related *DomainObject) error {
	if err := tx.checkObject(related, domain.RoleRelated); err != nil {
		return err
	}
	if want := def.Opposite().ClassID; related.ClassID() != want {
		return domain.ArgumentError{Argument: "related", Message: fmt.Sprintf("%s cannot be related through %s, which holds %s objects", related.id, def, want)}
	}
	_, err := tx.container(ctx, related, false)
	return err
}

func (tx *ClientTransaction) objectEndPoint(ctx context.Context, owner domain.ObjectID, def *mapping.RelationEndPointDefinition) (RelationEndPoint, error) {
	if def.IsCollection() {
		return nil, domain.ArgumentError{Argument: "propertyName", Message: fmt.Sprintf("%s is a collection relation", def)}
	}
	return tx.dm.endPoints.endPoint(ctx, owner, def)
}

// GetRelatedObject returns the object on the other side of a 1:1 or n:1
// relation, or nil.
func (tx *ClientTransaction) GetRelatedObject(ctx context.Context, obj *DomainObject, property string) (*DomainObject, error) {
	return tx.getRelatedObject(ctx, obj, property, ValueAccessCurrent)
}

// GetOriginalRelatedObject returns the related object as of load or last
// commit.
func (tx *ClientTransaction) GetOriginalRelatedObject(ctx context.Context, obj *DomainObject, property string) (*DomainObject, error) {
	return tx.getRelatedObject(ctx, obj, property, ValueAccessOriginal)
}

func (tx *ClientTransaction) getRelatedObject(ctx context.Context, obj *DomainObject, property string, access ValueAccess) (*DomainObject, error) {
	if err := tx.ensureUsable("GetRelatedObject"); err != nil {
		return nil, err
	}
	def, err := tx.relationTarget(ctx, obj, property, access == ValueAccessOriginal)
	if err != nil {
		return nil, err
	}
	events := tx.events()
	if err := events.RelationReading(tx, obj, def, access); err != nil {
		return nil, err
	}
	ep, err := tx.objectEndPoint(ctx, obj.id, def)
	if err != nil {
		return nil, err
	}
	var id domain.ObjectID
	switch e := ep.(type) {
	case *RealObjectEndPoint:
		id = e.OppositeObjectID()
		if access == ValueAccessOriginal {
			id = e.OriginalOppositeObjectID()
		}
	case *VirtualObjectEndPoint:
		id = e.current
		if access == ValueAccessOriginal {
			id = e.original
		}
	}
	var related *DomainObject
	var relatedList []*DomainObject
	if !id.IsZero() {
		related = tx.hierarchy.object(id)
		relatedList = []*DomainObject{related}
	}
	if err := events.RelationRead(tx, obj, def, relatedList, access); err != nil {
		return nil, err
	}
	return related, nil
}

// GetRelatedObjects returns the associated collection of a 1:n relation.
// Changes made through the collection are relation changes.
func (tx *ClientTransaction) GetRelatedObjects(ctx context.Context, obj *DomainObject, property string) (*DomainObjectCollection, error) {
	return tx.getRelatedObjects(ctx, obj, property, ValueAccessCurrent)
}

// GetOriginalRelatedObjects returns a read-only view of the items as of load
// or last commit.
func (tx *ClientTransaction) GetOriginalRelatedObjects(ctx context.Context, obj *DomainObject, property string) (*DomainObjectCollection, error) {
	return tx.getRelatedObjects(ctx, obj, property, ValueAccessOriginal)
}

func (tx *ClientTransaction) getRelatedObjects(ctx context.Context, obj *DomainObject, property string, access ValueAccess) (*DomainObjectCollection, error) {
	if err := tx.ensureUsable("GetRelatedObjects"); err != nil {
		return nil, err
	}
	def, err := tx.relationTarget(ctx, obj, property, access == ValueAccessOriginal)
	if err != nil {
		return nil, err
	}
	events := tx.events()
	if err := events.RelationReading(tx, obj, def, access); err != nil {
		return nil, err
	}
	ep, err := tx.dm.endPoints.collectionEndPoint(ctx, obj.id, def)
	if err != nil {
		return nil, err
	}
	c := ep.Collection()
	if access == ValueAccessOriginal {
		c = ep.OriginalCollection(tx)
	}
	if err := events.RelationRead(tx, obj, def, c.Items(), access); err != nil {
		return nil, err
	}
	return c, nil
}

// SetRelatedObject points a 1:1 or n:1 relation of obj at related, which may
// be nil. Every opposite end point involved follows in the same command.
func (tx *ClientTransaction) SetRelatedObject(ctx context.Context, obj *DomainObject, property string, related *DomainObject) error {
	if err := tx.ensureWriteable("SetRelatedObject"); err != nil {
		return err
	}
	def, err := tx.relationTarget(ctx, obj, property, false)
	if err != nil {
		return err
	}
	if related != nil {
		if err := tx.relatedArgument(ctx, def, related); err != nil {
			return err
		}
	}
	ep, err := tx.objectEndPoint(ctx, obj.id, def)
	if err != nil {
		return err
	}
	cmd, err := tx.dm.endPoints.CreateSetCommand(ep, related)
	if err != nil {
		return err
	}
	return tx.execute(ctx, cmd)
}

// SetRelatedObjects replaces the whole collection of a 1:n relation with c,
// which must be stand-alone. c becomes the associated collection; the
// previous one keeps a stand-alone copy of its items.
func (tx *ClientTransaction) SetRelatedObjects(ctx context.Context, obj *DomainObject, property string, c *DomainObjectCollection) error {
	if err := tx.ensureWriteable("SetRelatedObjects"); err != nil {
		return err
	}
	def, err := tx.relationTarget(ctx, obj, property, false)
	if err != nil {
		return err
	}
	if c != nil {
		for _, item := range c.Items() {
			if err := tx.relatedArgument(ctx, def, item); err != nil {
				return err
			}
		}
	}
	ep, err := tx.dm.endPoints.collectionEndPoint(ctx, obj.id, def)
	if err != nil {
		return err
	}
	cmd, err := tx.dm.endPoints.CreateSetCollectionCommand(ctx, ep, c)
	if err != nil {
		return err
	}
	return tx.execute(ctx, cmd)
}

// AddRelatedObject appends related to a 1:n relation.
func (tx *ClientTransaction) AddRelatedObject(ctx context.Context, obj *DomainObject, property string, related *DomainObject) error {
	ep, err := tx.collectionForChange(ctx, "AddRelatedObject", obj, property, related)
	if err != nil {
		return err
	}
	cmd, err := tx.dm.endPoints.CreateAddCommand(ctx, ep, related)
	if err != nil {
		return err
	}
	return tx.execute(ctx, cmd)
}

// InsertRelatedObject inserts related into a 1:n relation at index.
func (tx *ClientTransaction) InsertRelatedObject(ctx context.Context, obj *DomainObject, property string, index int, related *DomainObject) error {
	ep, err := tx.collectionForChange(ctx, "InsertRelatedObject", obj, property, related)
	if err != nil {
		return err
	}
	cmd, err := tx.dm.endPoints.CreateInsertCommand(ctx, ep, index, related)
	if err != nil {
		return err
	}
	return tx.execute(ctx, cmd)
}

// RemoveRelatedObject removes related from a 1:n relation. Removing an object
// that is not an item does nothing.
func (tx *ClientTransaction) RemoveRelatedObject(ctx context.Context, obj *DomainObject, property string, related *DomainObject) error {
	if err := tx.ensureWriteable("RemoveRelatedObject"); err != nil {
		return err
	}
	def, err := tx.relationTarget(ctx, obj, property, false)
	if err != nil {
		return err
	}
	if err := tx.checkObject(related, domain.RoleRelated); err != nil {
		return err
	}
	ep, err := tx.dm.endPoints.collectionEndPoint(ctx, obj.id, def)
	if err != nil {
		return err
	}
	cmd, err := tx.dm.endPoints.CreateRemoveCommand(ep, related)
	if err != nil {
		return err
	}
	return tx.execute(ctx, cmd)
}

// ReplaceRelatedObject puts related at index of a 1:n relation in place of
// the current item there.
func (tx *ClientTransaction) ReplaceRelatedObject(ctx context.Context, obj *DomainObject, property string, index int, related *DomainObject) error {
	ep, err := tx.collectionForChange(ctx, "ReplaceRelatedObject", obj, property, related)
	if err != nil {
		return err
	}
	cmd, err := tx.dm.endPoints.CreateReplaceCommand(ctx, ep, index, related)
	if err != nil {
		return err
	}
	return tx.execute(ctx, cmd)
}

func (tx *ClientTransaction) collectionForChange(ctx context.Context, op string, obj *DomainObject, property string, related *DomainObject) (*CollectionEndPoint, error) {
	if err := tx.ensureWriteable(op); err != nil {
		return nil, err
	}
	def, err := tx.relationTarget(ctx, obj, property, false)
	if err != nil {
		return nil, err
	}
	if related == nil {
		return nil, domain.ArgumentError{Argument: "related", Message: "collections cannot hold nil"}
	}
	if err := tx.relatedArgument(ctx, def, related); err != nil {
		return nil, err
	}
	return tx.dm.endPoints.collectionEndPoint(ctx, obj.id, def)
}

// Synchronize reconciles a relation whose loaded data disagrees with the
// foreign keys held in memory. For a foreign-key property the object is
// added to the opposite side; for a virtual or collection property the items
// whose foreign key points elsewhere are dropped. Both current and original
// data change, so the reconciliation is not itself a change.
func (tx *ClientTransaction) Synchronize(ctx context.Context, obj *DomainObject, property string) error {
	if err := tx.ensureWriteable("Synchronize"); err != nil {
		return err
	}
	def, err := tx.relationTarget(ctx, obj, property, true)
	if err != nil {
		return err
	}
	ep, err := tx.dm.endPoints.endPoint(ctx, obj.id, def)
	if err != nil {
		return err
	}
	switch e := ep.(type) {
	case *RealObjectEndPoint:
		if e.sync == domain.SyncSynchronized {
			return nil
		}
		target := e.OppositeObjectID()
		if !target.IsZero() && !def.Opposite().Anonymous {
			opp, err := tx.dm.endPoints.endPoint(ctx, target, def.Opposite())
			if err != nil {
				return err
			}
			switch o := opp.(type) {
			case *CollectionEndPoint:
				if !containsID(o.currentIDs, obj.id) {
					o.currentIDs = append(o.currentIDs, obj.id)
				}
				if !containsID(o.originalIDs, obj.id) {
					o.originalIDs = append(o.originalIDs, obj.id)
					o.originalView = nil
				}
				delete(o.unsynchronized, obj.id)
			case *VirtualObjectEndPoint:
				o.current = obj.id
				o.original = obj.id
				o.unsynchronized = false
			}
		}
		e.sync = domain.SyncSynchronized
	case *VirtualObjectEndPoint:
		if e.unsynchronized {
			e.current = domain.ObjectID{}
			e.original = domain.ObjectID{}
			e.unsynchronized = false
		}
	case *CollectionEndPoint:
		for id := range e.unsynchronized {
			e.currentIDs = removeID(e.currentIDs, id)
			e.originalIDs = removeID(e.originalIDs, id)
		}
		clear(e.unsynchronized)
		e.originalView = nil
	}
	tx.logger.Debug("relation synchronized", "object", obj.id.String(), "property", def.QualifiedName())
	return nil
}

func removeID(ids []domain.ObjectID, id domain.ObjectID) []domain.ObjectID {
	out := ids[:0]
	for _, other := range ids {
		if other != id {
			out = append(out, other)
		}
	}
	return out
}
