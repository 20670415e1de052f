package core

import (
	"graphcore/pkg/domain"
	"graphcore/pkg/mapping"
)

// VirtualObjectEndPoint is the non-foreign-key side of a 1:1 relation. Its
// data is loaded lazily from the opposite objects' foreign keys.
type VirtualObjectEndPoint struct {
	endPointBase
	loadState domain.LoadState
	current   domain.ObjectID
	original  domain.ObjectID
	// unsynchronized is set when the loaded opposite object holds a foreign
	// key that points elsewhere in this transaction.
	unsynchronized bool
}

func newVirtualObjectEndPoint(id domain.RelationEndPointID, def *mapping.RelationEndPointDefinition) *VirtualObjectEndPoint {
	return &VirtualObjectEndPoint{
		endPointBase: endPointBase{id: id, def: def},
		loadState:    domain.LoadIncomplete,
	}
}

// OppositeObjectID returns the current related id.
func (ep *VirtualObjectEndPoint) OppositeObjectID() domain.ObjectID { return ep.current }

// OriginalOppositeObjectID returns the related id at load or last commit.
func (ep *VirtualObjectEndPoint) OriginalOppositeObjectID() domain.ObjectID { return ep.original }

// LoadState returns the lazy-load state.
func (ep *VirtualObjectEndPoint) LoadState() domain.LoadState { return ep.loadState }

// IsSynchronized reports whether the loaded data agrees with the opposite
// foreign key.
func (ep *VirtualObjectEndPoint) IsSynchronized() bool { return !ep.unsynchronized }

func (ep *VirtualObjectEndPoint) HasChanged() bool { return ep.current != ep.original }

func (ep *VirtualObjectEndPoint) IsDataComplete() bool { return ep.loadState == domain.LoadComplete }

func (ep *VirtualObjectEndPoint) markComplete(id domain.ObjectID) {
	ep.current = id
	ep.original = id
	ep.loadState = domain.LoadComplete
}

func (ep *VirtualObjectEndPoint) setOppositeObjectID(id domain.ObjectID) {
	ep.current = id
	ep.touched = true
}

func (ep *VirtualObjectEndPoint) commit() {
	ep.original = ep.current
	ep.touched = false
}

func (ep *VirtualObjectEndPoint) rollback() {
	ep.current = ep.original
	ep.touched = false
}
