package core

import (
	"slices"

	"graphcore/pkg/domain"
	"graphcore/pkg/mapping"
)

// CollectionEndPoint is the n side of a 1:n relation. It keeps the current
// and original item ids, the current and original collection references, and
// the items whose foreign key disagrees with this end point.
type CollectionEndPoint struct {
	endPointBase
	loadState   domain.LoadState
	currentIDs  []domain.ObjectID
	originalIDs []domain.ObjectID

	collection         *DomainObjectCollection
	originalCollection *DomainObjectCollection
	originalView       *DomainObjectCollection

	unsynchronized map[domain.ObjectID]bool
}

func newCollectionEndPoint(id domain.RelationEndPointID, def *mapping.RelationEndPointDefinition) *CollectionEndPoint {
	return &CollectionEndPoint{
		endPointBase:   endPointBase{id: id, def: def},
		loadState:      domain.LoadIncomplete,
		unsynchronized: make(map[domain.ObjectID]bool),
	}
}

// LoadState returns the lazy-load state.
func (ep *CollectionEndPoint) LoadState() domain.LoadState { return ep.loadState }

// OppositeObjectIDs returns the current item ids.
func (ep *CollectionEndPoint) OppositeObjectIDs() []domain.ObjectID {
	return slices.Clone(ep.currentIDs)
}

// OriginalOppositeObjectIDs returns the item ids at load or last commit.
func (ep *CollectionEndPoint) OriginalOppositeObjectIDs() []domain.ObjectID {
	return slices.Clone(ep.originalIDs)
}

// UnsynchronizedItems returns the items whose foreign key points elsewhere.
func (ep *CollectionEndPoint) UnsynchronizedItems() []domain.ObjectID {
	out := make([]domain.ObjectID, 0, len(ep.unsynchronized))
	for _, id := range ep.currentIDs {
		if ep.unsynchronized[id] {
			out = append(out, id)
		}
	}
	return out
}

// HasChanged is true when the collection reference was replaced or the item
// sequence differs from the original.
func (ep *CollectionEndPoint) HasChanged() bool {
	if ep.collection != ep.originalCollection {
		return true
	}
	return !slices.Equal(ep.currentIDs, ep.originalIDs)
}

func (ep *CollectionEndPoint) IsDataComplete() bool { return ep.loadState == domain.LoadComplete }

func (ep *CollectionEndPoint) markComplete(tx *ClientTransaction, ids []domain.ObjectID) {
	ep.currentIDs = slices.Clone(ids)
	ep.originalIDs = slices.Clone(ids)
	ep.loadState = domain.LoadComplete
	if ep.collection == nil {
		c := &DomainObjectCollection{requiredClass: ep.def.Opposite().ClassID}
		c.associate(tx, ep)
		ep.collection = c
		ep.originalCollection = c
	}
}

// Collection returns the current collection reference.
func (ep *CollectionEndPoint) Collection() *DomainObjectCollection { return ep.collection }

// OriginalCollection returns the read-only view of the original items. It is
// built on first use.
func (ep *CollectionEndPoint) OriginalCollection(tx *ClientTransaction) *DomainObjectCollection {
	if ep.originalView == nil {
		items := make([]*DomainObject, 0, len(ep.originalIDs))
		for _, id := range ep.originalIDs {
			items = append(items, tx.hierarchy.object(id))
		}
		ep.originalView = &DomainObjectCollection{requiredClass: ep.def.Opposite().ClassID, readOnly: true, items: items}
	}
	return ep.originalView
}

func (ep *CollectionEndPoint) insert(index int, id domain.ObjectID) {
	ep.currentIDs = slices.Insert(ep.currentIDs, index, id)
	ep.touched = true
}

func (ep *CollectionEndPoint) remove(id domain.ObjectID) {
	if i := slices.Index(ep.currentIDs, id); i >= 0 {
		ep.currentIDs = slices.Delete(ep.currentIDs, i, i+1)
	}
	delete(ep.unsynchronized, id)
	ep.touched = true
}

func (ep *CollectionEndPoint) replaceAt(index int, id domain.ObjectID) {
	delete(ep.unsynchronized, ep.currentIDs[index])
	ep.currentIDs[index] = id
	ep.touched = true
}

// replaceCollection makes c the current collection. The previous collection
// keeps a stand-alone copy of its items.
func (ep *CollectionEndPoint) replaceCollection(tx *ClientTransaction, c *DomainObjectCollection, ids []domain.ObjectID) {
	if ep.collection != nil && ep.collection != c {
		ep.collection.detach()
	}
	c.associate(tx, ep)
	ep.collection = c
	ep.currentIDs = slices.Clone(ids)
	ep.touched = true
}

func (ep *CollectionEndPoint) clearData() {
	ep.currentIDs = nil
	ep.touched = true
}

func (ep *CollectionEndPoint) commit() {
	ep.originalIDs = slices.Clone(ep.currentIDs)
	ep.originalCollection = ep.collection
	ep.originalView = nil
	ep.touched = false
}

func (ep *CollectionEndPoint) rollback() {
	if ep.collection != ep.originalCollection {
		tx := ep.collection.tx
		ep.collection.detach()
		if ep.originalCollection != nil {
			ep.originalCollection.associate(tx, ep)
		}
		ep.collection = ep.originalCollection
	}
	ep.currentIDs = slices.Clone(ep.originalIDs)
	ep.touched = false
}
