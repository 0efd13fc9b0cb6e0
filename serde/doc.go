// Package serde defines the tagged value envelope used by every checkpoint
// store and the serializers that produce it.
//
// Every persisted value is stored as a (type tag, bytes) pair. The tag picks
// the decoder when the value is read back, which keeps data written by older
// releases readable: the CompatSerializer detects the legacy binary frame by
// its byte signature and decodes it with gob, while all new writes use the
// current JSON encoding.
//
// The "empty" tag is a sentinel meaning "no value present" and carries no
// payload. It is not the same thing as a stored null, which is a perfectly
// valid JSON payload.
//
//	s := serde.NewCompatSerializer(nil)
//	typ, data, err := s.DumpsTyped(map[string]any{"count": 3})
//	// typ == "json"
//	v, err := s.LoadsTyped(typ, data)
package serde
