package serde

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"
)

// Legacy payloads are framed gob streams: a 0x80 prefix byte, the gob bytes,
// and a trailing '.'. The frame bytes never begin or end a JSON document, so
// sniffing them is unambiguous.
const (
	legacyPrefix = 0x80
	legacySuffix = '.'
)

func init() {
	// Concrete types the legacy writer stored inside its interface envelope.
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register(time.Time{})
}

// legacyEnvelope is the wire shape the legacy binary encoder used.
type legacyEnvelope struct {
	Value any
}

// CompatSerializer wraps another serializer and adds read support for the
// legacy binary encoding. Writes always use the wrapped serializer's current
// encoding, so legacy payloads are upgraded transparently the next time they
// are persisted.
type CompatSerializer struct {
	inner Serializer
}

// NewCompatSerializer wraps inner with legacy payload detection. A nil inner
// defaults to the JSON serializer.
func NewCompatSerializer(inner Serializer) *CompatSerializer {
	if inner == nil {
		inner = NewJSONSerializer()
	}
	return &CompatSerializer{inner: inner}
}

// DumpsTyped delegates to the wrapped serializer.
func (s *CompatSerializer) DumpsTyped(v any) (string, []byte, error) {
	return s.inner.DumpsTyped(v)
}

// LoadsTyped decodes data, routing legacy-framed payloads to the gob decoder
// regardless of their stored type tag.
func (s *CompatSerializer) LoadsTyped(typ string, data []byte) (any, error) {
	if IsLegacy(data) {
		return decodeLegacy(data)
	}
	return s.inner.LoadsTyped(typ, data)
}

// IsLegacy reports whether data carries the legacy binary frame signature.
func IsLegacy(data []byte) bool {
	return len(data) >= 2 && data[0] == legacyPrefix && data[len(data)-1] == legacySuffix
}

// DumpsLegacy encodes v in the legacy binary format. Retained for migration
// tooling and compatibility tests; new code must not persist this format.
func DumpsLegacy(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(legacyPrefix)
	if err := gob.NewEncoder(&buf).Encode(legacyEnvelope{Value: v}); err != nil {
		return nil, fmt.Errorf("failed to encode legacy payload: %w", err)
	}
	buf.WriteByte(legacySuffix)
	return buf.Bytes(), nil
}

func decodeLegacy(data []byte) (any, error) {
	var env legacyEnvelope
	body := data[1 : len(data)-1]
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode legacy payload: %w", err)
	}
	return env.Value, nil
}
