package serde

import (
	"errors"
	"fmt"
)

// Well-known type tags for the stored value envelope.
const (
	// TypeJSON tags values encoded with encoding/json.
	TypeJSON = "json"
	// TypeBytes tags raw byte payloads stored as-is.
	TypeBytes = "bytes"
	// TypeEmpty is a sentinel meaning "no value present". It is distinct
	// from a present null, which is encoded as JSON "null". Stores write it
	// for channels that have a version but no checkpointable value.
	TypeEmpty = "empty"
)

// ErrEmptyType is returned when a caller asks a serializer to decode the
// TypeEmpty sentinel, which carries no payload by definition.
var ErrEmptyType = errors.New("serde: cannot decode the empty sentinel")

// Serializer converts arbitrary in-memory values to and from a tagged byte
// envelope (type tag, payload). The tag selects the decoder on the way back,
// which lets a store mix encodings within one table and keep old payloads
// readable after the default encoding changes.
type Serializer interface {
	// DumpsTyped serializes a value, returning the envelope's type tag and
	// payload bytes.
	DumpsTyped(v any) (string, []byte, error)

	// LoadsTyped deserializes a value previously produced by DumpsTyped
	// (possibly by an older serializer release).
	LoadsTyped(typ string, data []byte) (any, error)
}

// UnknownTypeError is returned when a serializer does not recognize the type
// tag of a stored envelope.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("serde: unknown serialization type %q", e.Type)
}
