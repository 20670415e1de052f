package core

import (
	"graphcore/pkg/domain"
	"graphcore/pkg/mapping"
)

// RelationEndPoint is one side of a relation on one object in one
// transaction. The variant set is closed: *RealObjectEndPoint,
// *VirtualObjectEndPoint, *CollectionEndPoint and *AnonymousEndPoint.
type RelationEndPoint interface {
	ID() domain.RelationEndPointID
	Definition() *mapping.RelationEndPointDefinition
	// HasBeenTouched is set by any write access and cleared only by commit
	// or rollback.
	HasBeenTouched() bool
	// HasChanged compares current and original data.
	HasChanged() bool
	IsDataComplete() bool
	Touch()

	commit()
	rollback()
	relationEndPoint()
}

var (
	_ RelationEndPoint = (*RealObjectEndPoint)(nil)
	_ RelationEndPoint = (*VirtualObjectEndPoint)(nil)
	_ RelationEndPoint = (*CollectionEndPoint)(nil)
	_ RelationEndPoint = (*AnonymousEndPoint)(nil)
)

type endPointBase struct {
	id      domain.RelationEndPointID
	def     *mapping.RelationEndPointDefinition
	touched bool
}

func (b *endPointBase) ID() domain.RelationEndPointID                   { return b.id }
func (b *endPointBase) Definition() *mapping.RelationEndPointDefinition { return b.def }
func (b *endPointBase) HasBeenTouched() bool                            { return b.touched }
func (b *endPointBase) Touch()                                          { b.touched = true }
func (b *endPointBase) relationEndPoint()                               {}

// AnonymousEndPoint is the non-navigable side of a unidirectional relation.
// It is never registered and never notified; commands use it to describe the
// opposite of a real end point.
type AnonymousEndPoint struct {
	endPointBase
}

func newAnonymousEndPoint(owner domain.ObjectID, def *mapping.RelationEndPointDefinition) *AnonymousEndPoint {
	return &AnonymousEndPoint{endPointBase{id: domain.NewRelationEndPointID(owner, ""), def: def}}
}

func (*AnonymousEndPoint) HasChanged() bool     { return false }
func (*AnonymousEndPoint) IsDataComplete() bool { return true }
func (*AnonymousEndPoint) commit()              {}
func (*AnonymousEndPoint) rollback()            {}
