package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// RequestID is a JSON-RPC id. The protocol allows either a string or a
// number; the client additionally requires that an id round-trips through
// the wire unchanged so it can be used as a correlation key.
type RequestID struct {
	value any
}

// NewRequestID builds an id from a string or any integer/float value.
// Unsupported types yield a nil-valued id.
func NewRequestID(value any) *RequestID {
	switch v := value.(type) {
	case string:
		return &RequestID{value: v}
	case int:
		return &RequestID{value: int64(v)}
	case int8, int16, int32:
		return &RequestID{value: toInt64(v)}
	case int64:
		return &RequestID{value: v}
	case uint, uint8, uint16, uint32, uint64:
		return &RequestID{value: toInt64(v)}
	case float32:
		return &RequestID{value: float64(v)}
	case float64:
		return &RequestID{value: v}
	default:
		return &RequestID{value: nil}
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	}
	return 0
}

// String renders the id for use as a map key or log attribute. The numeric
// id 1 and the string id "1" render identically; callers that mix both in
// one session accept that collision.
func (id *RequestID) String() string {
	if id == nil || id.value == nil {
		return ""
	}
	switch v := id.value.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Value returns the underlying string, int64, or float64.
func (id *RequestID) Value() any {
	if id == nil {
		return nil
	}
	return id.value
}

// IsNil reports whether the id carries no value.
func (id *RequestID) IsNil() bool {
	return id == nil || id.value == nil
}

// Equal reports whether two ids correlate to the same request.
func (id *RequestID) Equal(other *RequestID) bool {
	if id.IsNil() || other.IsNil() {
		return id.IsNil() && other.IsNil()
	}
	return id.value == other.value
}

// MarshalJSON implements json.Marshaler.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id == nil || id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler. Integral numbers decode as
// int64 so that an id sent as 7 comes back as 7, not 7.0.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		if num == float64(int64(num)) {
			id.value = int64(num)
		} else {
			id.value = num
		}
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		id.value = str
		return nil
	}

	return fmt.Errorf("JSON-RPC id must be a string or number, got: %s", string(data))
}
