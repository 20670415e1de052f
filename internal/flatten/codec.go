package flatten

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"graphcore/pkg/domain"
)

type taggedValue struct {
	T string          `json:"t"`
	V json.RawMessage `json:"v,omitempty"`
}

type wirePayload struct {
	Version int           `json:"version"`
	Objects []taggedValue `json:"objects"`
	Ints    []int         `json:"ints"`
	Bools   []bool        `json:"bools"`
}

const payloadVersion = 1

// Marshal encodes data as JSON. Object-stream values carry a type tag so they
// decode back to the same Go type.
func Marshal(data Data) ([]byte, error) {
	p := wirePayload{Version: payloadVersion, Ints: data.Ints, Bools: data.Bools}
	if p.Ints == nil {
		p.Ints = []int{}
	}
	if p.Bools == nil {
		p.Bools = []bool{}
	}
	p.Objects = make([]taggedValue, 0, len(data.Objects))
	for i, v := range data.Objects {
		tv, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", i, err)
		}
		p.Objects = append(p.Objects, tv)
	}
	return json.Marshal(p)
}

// Unmarshal decodes a payload produced by Marshal.
func Unmarshal(raw []byte) (Data, error) {
	var p wirePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Data{}, domain.SerializationError{Message: fmt.Sprintf("decode payload: %v", err)}
	}
	if p.Version != payloadVersion {
		return Data{}, domain.SerializationError{Message: fmt.Sprintf("unsupported payload version %d", p.Version)}
	}
	data := Data{Ints: p.Ints, Bools: p.Bools, Objects: make([]any, 0, len(p.Objects))}
	for i, tv := range p.Objects {
		v, err := decodeValue(tv)
		if err != nil {
			return Data{}, domain.SerializationError{Message: fmt.Sprintf("object %d: %v", i, err)}
		}
		data.Objects = append(data.Objects, v)
	}
	return data, nil
}

func encodeValue(v any) (taggedValue, error) {
	var (
		tag string
		raw any
	)
	switch x := v.(type) {
	case nil:
		return taggedValue{T: "nil"}, nil
	case string:
		tag, raw = "string", x
	case bool:
		tag, raw = "bool", x
	case int:
		tag, raw = "int", x
	case int64:
		tag, raw = "int64", x
	case float64:
		tag, raw = "float64", x
	case time.Time:
		tag, raw = "time", x.UTC().Format(time.RFC3339Nano)
	case []byte:
		tag, raw = "bytes", base64.StdEncoding.EncodeToString(x)
	case domain.ObjectID:
		if x.IsZero() {
			return taggedValue{T: "nil"}, nil
		}
		tag, raw = "oid", x.String()
	default:
		return taggedValue{}, domain.SerializationError{Message: fmt.Sprintf("values of type %T are not serializable", v)}
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return taggedValue{}, err
	}
	return taggedValue{T: tag, V: b}, nil
}

func decodeValue(tv taggedValue) (any, error) {
	switch tv.T {
	case "nil":
		return nil, nil
	case "string":
		var s string
		return s, json.Unmarshal(tv.V, &s)
	case "bool":
		var b bool
		return b, json.Unmarshal(tv.V, &b)
	case "int":
		var n int
		return n, json.Unmarshal(tv.V, &n)
	case "int64":
		var n int64
		return n, json.Unmarshal(tv.V, &n)
	case "float64":
		var f float64
		return f, json.Unmarshal(tv.V, &f)
	case "time":
		var s string
		if err := json.Unmarshal(tv.V, &s); err != nil {
			return nil, err
		}
		return time.Parse(time.RFC3339Nano, s)
	case "bytes":
		var s string
		if err := json.Unmarshal(tv.V, &s); err != nil {
			return nil, err
		}
		return base64.StdEncoding.DecodeString(s)
	case "oid":
		var s string
		if err := json.Unmarshal(tv.V, &s); err != nil {
			return nil, err
		}
		return domain.ParseObjectID(s)
	default:
		return nil, fmt.Errorf("unknown value tag %q", tv.T)
	}
}

// MarshalValues encodes a property-value map with the same type tags Marshal
// uses, so storage providers can round-trip record values through JSON.
func MarshalValues(values map[string]any) ([]byte, error) {
	out := make(map[string]taggedValue, len(values))
	for name, v := range values {
		tv, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
		out[name] = tv
	}
	return json.Marshal(out)
}

// UnmarshalValues decodes a map written by MarshalValues.
func UnmarshalValues(raw []byte) (map[string]any, error) {
	var in map[string]taggedValue
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, domain.SerializationError{Message: fmt.Sprintf("decode values: %v", err)}
	}
	out := make(map[string]any, len(in))
	for name, tv := range in {
		v, err := decodeValue(tv)
		if err != nil {
			return nil, domain.SerializationError{Message: fmt.Sprintf("property %s: %v", name, err)}
		}
		out[name] = v
	}
	return out, nil
}
