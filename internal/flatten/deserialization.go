package flatten

import (
	"fmt"

	"graphcore/pkg/domain"
)

// Factory re-creates one value from the streams. It is called right after the
// type name has been consumed and must read exactly what the matching
// SerializeIntoFlatStructure wrote.
type Factory func(info *DeserializationInfo) (any, error)

// Registry maps flat type names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory; registering a name twice is an error.
func (r *Registry) Register(typeName string, f Factory) error {
	if _, ok := r.factories[typeName]; ok {
		return domain.ArgumentError{Argument: "typeName", Message: fmt.Sprintf("factory for %q already registered", typeName)}
	}
	r.factories[typeName] = f
	return nil
}

type constructing struct{}

// DeserializationInfo reads a payload in the exact order it was written.
type DeserializationInfo struct {
	data     Data
	objPos   int
	intPos   int
	boolPos  int
	registry *Registry
	handles  []any
}

// NewDeserializationInfo returns a reader over data.
func NewDeserializationInfo(data Data, registry *Registry) *DeserializationInfo {
	return &DeserializationInfo{data: data, registry: registry}
}

// GetValue reads the next object-stream value.
func (d *DeserializationInfo) GetValue() (any, error) {
	if d.objPos >= len(d.data.Objects) {
		return nil, domain.SerializationError{Message: fmt.Sprintf("premature end of object stream at position %d", d.objPos)}
	}
	v := d.data.Objects[d.objPos]
	d.objPos++
	return v, nil
}

// GetValueAs reads the next object-stream value and checks its type. A nil
// value yields the zero value of T.
func GetValueAs[T any](d *DeserializationInfo) (T, error) {
	var zero T
	pos := d.objPos
	v, err := d.GetValue()
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, domain.SerializationError{Message: fmt.Sprintf("type mismatch at object position %d: expected %T, found %T", pos, zero, v)}
	}
	return typed, nil
}

// GetInt reads the next int-stream value.
func (d *DeserializationInfo) GetInt() (int, error) {
	if d.intPos >= len(d.data.Ints) {
		return 0, domain.SerializationError{Message: fmt.Sprintf("premature end of int stream at position %d", d.intPos)}
	}
	v := d.data.Ints[d.intPos]
	d.intPos++
	return v, nil
}

// GetBool reads the next bool-stream value.
func (d *DeserializationInfo) GetBool() (bool, error) {
	if d.boolPos >= len(d.data.Bools) {
		return false, domain.SerializationError{Message: fmt.Sprintf("premature end of bool stream at position %d", d.boolPos)}
	}
	v := d.data.Bools[d.boolPos]
	d.boolPos++
	return v, nil
}

// GetHandle reads a reference written by AddHandle. Repeated handles return
// the instance created for the first occurrence.
func (d *DeserializationInfo) GetHandle() (any, error) {
	h, err := d.GetInt()
	if err != nil {
		return nil, err
	}
	switch {
	case h == NullHandle:
		return nil, nil
	case h < 0 || h > len(d.handles):
		return nil, domain.SerializationError{Message: fmt.Sprintf("broken stream: handle %d out of sequence (next is %d)", h, len(d.handles))}
	case h < len(d.handles):
		if _, ok := d.handles[h].(constructing); ok {
			return nil, domain.SerializationError{Message: fmt.Sprintf("cycle not supported: handle %d is referenced while it is being deserialized", h)}
		}
		return d.handles[h], nil
	}
	typeName, err := GetValueAs[string](d)
	if err != nil {
		return nil, err
	}
	factory, ok := d.registry.factories[typeName]
	if !ok {
		return nil, domain.SerializationError{Message: fmt.Sprintf("no factory registered for type %q", typeName)}
	}
	d.handles = append(d.handles, constructing{})
	v, err := factory(d)
	if err != nil {
		return nil, fmt.Errorf("deserialize %s: %w", typeName, err)
	}
	d.handles[h] = v
	return v, nil
}

// GetHandleAs reads a reference and checks its type.
func GetHandleAs[T any](d *DeserializationInfo) (T, error) {
	var zero T
	v, err := d.GetHandle()
	if err != nil || v == nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, domain.SerializationError{Message: fmt.Sprintf("type mismatch for handle: expected %T, found %T", zero, v)}
	}
	return typed, nil
}

// GetCollection reads a collection written by AddCollection.
func GetCollection[T any](d *DeserializationInfo, get func() (T, error)) ([]T, error) {
	n, err := d.GetInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, domain.SerializationError{Message: fmt.Sprintf("broken stream: negative collection length %d", n)}
	}
	out := make([]T, 0, n)
	for range n {
		item, err := get()
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// SignalDeserializationFinished verifies that every stream was fully consumed.
func (d *DeserializationInfo) SignalDeserializationFinished() error {
	if d.objPos != len(d.data.Objects) || d.intPos != len(d.data.Ints) || d.boolPos != len(d.data.Bools) {
		return domain.SerializationError{Message: fmt.Sprintf(
			"broken stream: deserialization finished with unread values (objects %d/%d, ints %d/%d, bools %d/%d)",
			d.objPos, len(d.data.Objects), d.intPos, len(d.data.Ints), d.boolPos, len(d.data.Bools))}
	}
	return nil
}

// Deserialize reads the root handle of data and checks that the payload was
// consumed completely.
func Deserialize[T any](data Data, registry *Registry) (T, error) {
	d := NewDeserializationInfo(data, registry)
	v, err := GetHandleAs[T](d)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := d.SignalDeserializationFinished(); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}
