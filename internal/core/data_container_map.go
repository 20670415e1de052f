package core

import (
	"fmt"

	"graphcore/pkg/domain"
)

// DataContainerMap is the identity map of one transaction. Iteration follows
// registration order.
type DataContainerMap struct {
	byID  map[domain.ObjectID]*DataContainer
	order []domain.ObjectID
}

func newDataContainerMap() *DataContainerMap {
	return &DataContainerMap{byID: make(map[domain.ObjectID]*DataContainer)}
}

// Get returns the container registered for id.
func (m *DataContainerMap) Get(id domain.ObjectID) (*DataContainer, bool) {
	dc, ok := m.byID[id]
	return dc, ok
}

// Len returns the number of registered containers.
func (m *DataContainerMap) Len() int { return len(m.byID) }

func (m *DataContainerMap) register(dc *DataContainer) error {
	if _, ok := m.byID[dc.id]; ok {
		return domain.InvalidOperationError{Message: fmt.Sprintf("a data container for %s is already registered", dc.id)}
	}
	m.byID[dc.id] = dc
	m.order = append(m.order, dc.id)
	return nil
}

func (m *DataContainerMap) remove(id domain.ObjectID) {
	if _, ok := m.byID[id]; !ok {
		return
	}
	delete(m.byID, id)
	for i, other := range m.order {
		if other == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// All returns the containers in registration order.
func (m *DataContainerMap) All() []*DataContainer {
	out := make([]*DataContainer, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.byID[id])
	}
	return out
}
