package core

import (
	"fmt"

	"graphcore/pkg/domain"
	"graphcore/pkg/mapping"
)

type propertyValue struct {
	current  any
	original any
	touched  bool
}

// DataContainer holds the property values and lifecycle state of one object
// in one transaction.
type DataContainer struct {
	id        domain.ObjectID
	class     *mapping.ClassDefinition
	values    map[string]*propertyValue
	timestamp int64

	isNew         bool
	isDeleted     bool
	isDiscarded   bool
	markedChanged bool
}

func newDataContainer(id domain.ObjectID, class *mapping.ClassDefinition) *DataContainer {
	return &DataContainer{id: id, class: class, values: make(map[string]*propertyValue, len(class.Properties()))}
}

// newLoadedDataContainer builds an Unchanged container from a storage record.
// Missing properties take their default values.
func newLoadedDataContainer(class *mapping.ClassDefinition, record domain.DataRecord) (*DataContainer, error) {
	dc := newDataContainer(record.ID, class)
	dc.timestamp = record.Timestamp
	for _, p := range class.Properties() {
		raw, ok := record.Values[p.Name]
		if !ok {
			raw = p.DefaultValue()
		}
		v, err := domain.NormalizeValue(p.Kind, raw)
		if err != nil {
			return nil, fmt.Errorf("load %s.%s: %w", record.ID, p.Name, err)
		}
		dc.values[p.Name] = &propertyValue{current: v, original: domain.CloneValue(v)}
	}
	return dc, nil
}

// newNewDataContainer builds a New container with default values.
func newNewDataContainer(id domain.ObjectID, class *mapping.ClassDefinition) *DataContainer {
	dc := newDataContainer(id, class)
	dc.isNew = true
	for _, p := range class.Properties() {
		v := p.DefaultValue()
		dc.values[p.Name] = &propertyValue{current: v, original: domain.CloneValue(v)}
	}
	return dc
}

// ID returns the object id.
func (dc *DataContainer) ID() domain.ObjectID { return dc.id }

// Class returns the class definition.
func (dc *DataContainer) Class() *mapping.ClassDefinition { return dc.class }

// Timestamp returns the optimistic-concurrency timestamp.
func (dc *DataContainer) Timestamp() int64 { return dc.timestamp }

// IsDiscarded reports whether the container has become invalid.
func (dc *DataContainer) IsDiscarded() bool { return dc.isDiscarded }

// State derives the lifecycle state from the flags and the values.
func (dc *DataContainer) State() domain.StateType {
	switch {
	case dc.isDiscarded:
		return domain.StateInvalid
	case dc.isDeleted:
		return domain.StateDeleted
	case dc.isNew:
		return domain.StateNew
	case dc.markedChanged || dc.hasChangedValues():
		return domain.StateChanged
	default:
		return domain.StateUnchanged
	}
}

func (dc *DataContainer) hasChangedValues() bool {
	for _, pv := range dc.values {
		if !domain.ValuesEqual(pv.current, pv.original) {
			return true
		}
	}
	return false
}

func (dc *DataContainer) property(name string) (*mapping.PropertyDefinition, *propertyValue, error) {
	if dc.isDiscarded {
		return nil, nil, domain.ObjectInvalidError{ID: dc.id}
	}
	p, ok := dc.class.Property(name)
	if !ok {
		return nil, nil, domain.ArgumentError{Argument: "propertyName", Message: fmt.Sprintf("class %s has no property %q", dc.class.ID, name)}
	}
	return p, dc.values[p.Name], nil
}

// Value returns the current or original value of a property.
func (dc *DataContainer) Value(name string, access ValueAccess) (any, error) {
	_, pv, err := dc.property(name)
	if err != nil {
		return nil, err
	}
	if access == ValueAccessOriginal {
		return domain.CloneValue(pv.original), nil
	}
	return domain.CloneValue(pv.current), nil
}

// SetValue normalizes and stores a value, marking the property touched.
func (dc *DataContainer) SetValue(name string, v any) error {
	p, pv, err := dc.property(name)
	if err != nil {
		return err
	}
	if dc.isDeleted {
		return domain.ObjectDeletedError{ID: dc.id}
	}
	nv, err := domain.NormalizeValue(p.Kind, v)
	if err != nil {
		return err
	}
	if nv == nil && !p.Nullable && !p.IsForeignKey() {
		return domain.ArgumentError{Argument: "value", Message: fmt.Sprintf("property %s is not nullable", p.QualifiedName())}
	}
	pv.current = nv
	pv.touched = true
	return nil
}

// HasValueChanged reports whether a property differs from its original value.
func (dc *DataContainer) HasValueChanged(name string) bool {
	_, pv, err := dc.property(name)
	if err != nil {
		return false
	}
	return !domain.ValuesEqual(pv.current, pv.original)
}

// HasValueBeenTouched reports whether a property was written since the last
// commit or rollback.
func (dc *DataContainer) HasValueBeenTouched(name string) bool {
	_, pv, err := dc.property(name)
	return err == nil && pv.touched
}

// MarkAsChanged forces the Changed state for an Unchanged container.
func (dc *DataContainer) MarkAsChanged() error {
	if dc.isDiscarded {
		return domain.ObjectInvalidError{ID: dc.id}
	}
	if dc.isNew || dc.isDeleted {
		return domain.InvalidOperationError{Message: fmt.Sprintf("only existing objects can be marked as changed, %s is %s", dc.id, dc.State())}
	}
	dc.markedChanged = true
	return nil
}

// foreignKey returns the current or original related id stored in a foreign
// key property.
func (dc *DataContainer) foreignKey(name string, access ValueAccess) domain.ObjectID {
	pv, ok := dc.values[name]
	if !ok {
		return domain.ObjectID{}
	}
	v := pv.current
	if access == ValueAccessOriginal {
		v = pv.original
	}
	id, _ := v.(domain.ObjectID)
	return id
}

// setForeignKey writes a foreign key without validation. Relation commands
// are the only writers.
func (dc *DataContainer) setForeignKey(name string, id domain.ObjectID) {
	pv, ok := dc.values[name]
	if !ok {
		return
	}
	if id.IsZero() {
		pv.current = nil
	} else {
		pv.current = id
	}
	pv.touched = true
}

func (dc *DataContainer) delete() {
	dc.isDeleted = true
}

func (dc *DataContainer) discard() {
	dc.isDiscarded = true
}

// commitState makes the current values the new originals.
func (dc *DataContainer) commitState() {
	for _, pv := range dc.values {
		pv.original = domain.CloneValue(pv.current)
		pv.touched = false
	}
	dc.isNew = false
	dc.markedChanged = false
}

// rollbackState restores the original values and undeletes the container.
func (dc *DataContainer) rollbackState() {
	for _, pv := range dc.values {
		pv.current = domain.CloneValue(pv.original)
		pv.touched = false
	}
	dc.isDeleted = false
	dc.markedChanged = false
}

// record returns the storage representation of the current values.
func (dc *DataContainer) record() domain.DataRecord {
	r := domain.DataRecord{ID: dc.id, Timestamp: dc.timestamp, Values: make(map[string]any, len(dc.values))}
	for _, p := range dc.class.Properties() {
		r.Values[p.Name] = domain.CloneValue(dc.values[p.Name].current)
	}
	return r
}

// changedProperties lists properties whose current value differs from the
// original, in declaration order.
func (dc *DataContainer) changedProperties() []*mapping.PropertyDefinition {
	var out []*mapping.PropertyDefinition
	for _, p := range dc.class.Properties() {
		pv := dc.values[p.Name]
		if !domain.ValuesEqual(pv.current, pv.original) {
			out = append(out, p)
		}
	}
	return out
}

func (dc *DataContainer) String() string {
	return fmt.Sprintf("DataContainer(%s, %s)", dc.id, dc.State())
}
