// Package flatten implements the handle-based flattened serialization used for
// engine-internal state. A payload is three parallel streams (objects, ints,
// bools); references to Serializable values are written once and repeated as
// integer handles so shared instances come back shared.
package flatten

import (
	"fmt"
	"time"

	"graphcore/pkg/domain"
)

// NullHandle marks a nil reference in the int stream.
const NullHandle = -1

// Serializable is implemented by pointer types that can write themselves into
// a flat structure. FlatTypeName selects the factory used to read them back.
type Serializable interface {
	FlatTypeName() string
	SerializeIntoFlatStructure(info *SerializationInfo) error
}

// Data is the serialized tri-stream package.
type Data struct {
	Objects []any
	Ints    []int
	Bools   []bool
}

// SerializationInfo accumulates the streams of one serialization run.
type SerializationInfo struct {
	objects    []any
	ints       []int
	bools      []bool
	handles    map[Serializable]int
	inProgress map[Serializable]bool
}

// NewSerializationInfo returns an empty writer.
func NewSerializationInfo() *SerializationInfo {
	return &SerializationInfo{
		handles:    make(map[Serializable]int),
		inProgress: make(map[Serializable]bool),
	}
}

// AddValue appends v to the object stream. Only plain values are accepted;
// references must go through AddHandle.
func (s *SerializationInfo) AddValue(v any) error {
	switch v.(type) {
	case nil, string, bool, int, int64, float64, time.Time, []byte, domain.ObjectID:
		s.objects = append(s.objects, v)
		return nil
	default:
		return domain.SerializationError{Message: fmt.Sprintf("values of type %T are not serializable", v)}
	}
}

// AddInt appends to the int stream.
func (s *SerializationInfo) AddInt(v int) {
	s.ints = append(s.ints, v)
}

// AddBool appends to the bool stream.
func (s *SerializationInfo) AddBool(v bool) {
	s.bools = append(s.bools, v)
}

// AddHandle writes a reference. The first occurrence of an instance gets the
// next handle and is serialized inline; later occurrences only repeat the
// handle. A reference back to an instance still being written is a cycle.
func (s *SerializationInfo) AddHandle(v Serializable) error {
	if v == nil {
		s.AddInt(NullHandle)
		return nil
	}
	if s.inProgress[v] {
		return domain.SerializationError{Message: fmt.Sprintf("cycle not supported: %s references itself through handles", v.FlatTypeName())}
	}
	if h, ok := s.handles[v]; ok {
		s.AddInt(h)
		return nil
	}
	h := len(s.handles)
	s.handles[v] = h
	s.AddInt(h)
	s.objects = append(s.objects, v.FlatTypeName())
	s.inProgress[v] = true
	defer delete(s.inProgress, v)
	return v.SerializeIntoFlatStructure(s)
}

// AddCollection writes the length of items followed by each item.
func AddCollection[T any](s *SerializationInfo, items []T, add func(T) error) error {
	s.AddInt(len(items))
	for _, item := range items {
		if err := add(item); err != nil {
			return err
		}
	}
	return nil
}

// Data returns the accumulated streams.
func (s *SerializationInfo) Data() Data {
	return Data{
		Objects: append([]any(nil), s.objects...),
		Ints:    append([]int(nil), s.ints...),
		Bools:   append([]bool(nil), s.bools...),
	}
}

// Serialize flattens root into a new payload.
func Serialize(root Serializable) (Data, error) {
	info := NewSerializationInfo()
	if err := info.AddHandle(root); err != nil {
		return Data{}, err
	}
	return info.Data(), nil
}
