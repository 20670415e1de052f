package core

import (
	"graphcore/pkg/domain"
	"graphcore/pkg/mapping"
)

// RealObjectEndPoint is the foreign-key side of a relation. Its data is the
// foreign-key property of the owning container.
type RealObjectEndPoint struct {
	endPointBase
	container *DataContainer
	sync      domain.SyncState
}

func newRealObjectEndPoint(dc *DataContainer, def *mapping.RelationEndPointDefinition) *RealObjectEndPoint {
	return &RealObjectEndPoint{
		endPointBase: endPointBase{id: domain.NewRelationEndPointID(dc.id, def.QualifiedName()), def: def},
		container:    dc,
		sync:         domain.SyncUnknown,
	}
}

// OppositeObjectID returns the related id currently held by the foreign key.
func (ep *RealObjectEndPoint) OppositeObjectID() domain.ObjectID {
	return ep.container.foreignKey(ep.def.PropertyName, ValueAccessCurrent)
}

// OriginalOppositeObjectID returns the related id held at load or last commit.
func (ep *RealObjectEndPoint) OriginalOppositeObjectID() domain.ObjectID {
	return ep.container.foreignKey(ep.def.PropertyName, ValueAccessOriginal)
}

// SyncState reports whether the foreign key agrees with the opposite end point.
func (ep *RealObjectEndPoint) SyncState() domain.SyncState { return ep.sync }

func (ep *RealObjectEndPoint) HasChanged() bool {
	return ep.container.HasValueChanged(ep.def.PropertyName)
}

func (ep *RealObjectEndPoint) IsDataComplete() bool { return true }

func (ep *RealObjectEndPoint) setOppositeObjectID(id domain.ObjectID) {
	ep.container.setForeignKey(ep.def.PropertyName, id)
	ep.touched = true
}

func (ep *RealObjectEndPoint) commit()   { ep.touched = false }
func (ep *RealObjectEndPoint) rollback() { ep.touched = false }
