package domain

import (
	"bytes"
	"cmp"
	"fmt"
	"strings"
	"time"
)

// ValueKind enumerates the property value kinds the engine can hold, compare,
// persist and flatten.
type ValueKind string

// Supported value kinds.
const (
	KindString   ValueKind = "string"
	KindInt      ValueKind = "int"
	KindFloat    ValueKind = "float"
	KindBool     ValueKind = "bool"
	KindTime     ValueKind = "time"
	KindBytes    ValueKind = "bytes"
	KindObjectID ValueKind = "object_id"
)

// NormalizeValue converts v into the canonical Go representation for kind:
// string, int64, float64, bool, time.Time (UTC), []byte or ObjectID. Nil is
// returned unchanged. Values that cannot represent kind yield an ArgumentError.
func NormalizeValue(kind ValueKind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	mismatch := func() error {
		return ArgumentError{Argument: "value", Message: fmt.Sprintf("value of type %T cannot be stored as %s", v, kind)}
	}
	switch kind {
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int8:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint8:
			return int64(n), nil
		case uint16:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		case float64:
			if n == float64(int64(n)) {
				return int64(n), nil
			}
		}
	case KindFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindTime:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, mismatch()
			}
			return parsed.UTC(), nil
		}
	case KindBytes:
		if b, ok := v.([]byte); ok {
			return append([]byte(nil), b...), nil
		}
	case KindObjectID:
		switch id := v.(type) {
		case ObjectID:
			if id.IsZero() {
				return nil, nil
			}
			return id, nil
		case string:
			parsed, err := ParseObjectID(id)
			if err != nil {
				return nil, mismatch()
			}
			return parsed, nil
		}
	default:
		return nil, ArgumentError{Argument: "kind", Message: fmt.Sprintf("unknown value kind %q", kind)}
	}
	return nil, mismatch()
}

// ValuesEqual compares two normalized values.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	default:
		return a == b
	}
}

// CloneValue copies values with shared backing storage.
func CloneValue(v any) any {
	if b, ok := v.([]byte); ok {
		return append([]byte(nil), b...)
	}
	return v
}

// CompareValues orders two normalized values of the same kind. Nil sorts
// first; values of different kinds compare by their kind name.
func CompareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case int64:
		if bv, ok := b.(int64); ok {
			return cmp.Compare(av, bv)
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return cmp.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			default:
				return 1
			}
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case []byte:
		if bv, ok := b.([]byte); ok {
			return bytes.Compare(av, bv)
		}
	case ObjectID:
		if bv, ok := b.(ObjectID); ok {
			return strings.Compare(av.String(), bv.String())
		}
	}
	return strings.Compare(fmt.Sprintf("%T", a), fmt.Sprintf("%T", b))
}
