package serde

import (
	"encoding/json"
	"fmt"
)

// JSONSerializer is the default serializer. Values are encoded with
// encoding/json under the "json" tag; raw []byte payloads pass through
// untouched under the "bytes" tag.
type JSONSerializer struct{}

// NewJSONSerializer creates the default JSON serializer.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

// DumpsTyped serializes v into a tagged envelope.
func (s *JSONSerializer) DumpsTyped(v any) (string, []byte, error) {
	switch val := v.(type) {
	case []byte:
		return TypeBytes, val, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", nil, fmt.Errorf("failed to marshal value: %w", err)
		}
		return TypeJSON, data, nil
	}
}

// LoadsTyped decodes an envelope produced by DumpsTyped.
func (s *JSONSerializer) LoadsTyped(typ string, data []byte) (any, error) {
	switch typ {
	case TypeBytes:
		return data, nil
	case TypeJSON:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal value: %w", err)
		}
		return v, nil
	case TypeEmpty:
		return nil, ErrEmptyType
	default:
		return nil, &UnknownTypeError{Type: typ}
	}
}
