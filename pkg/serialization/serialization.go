// Package serialization provides the codecs used to turn cached values into
// bytes and back.
package serialization

import (
	"bytes"
	"io"
)

const (
	// JSONType represents the serialization type for JSON format.
	JSONType = "json"

	// GobType represents the serialization type for Gob format.
	GobType = "gob"
)

// Decoder reads one value.
type Decoder interface {
	Decode(v any) error
}

// Encoder writes one value.
type Encoder interface {
	Encode(v any) error
}

// Marshal encodes v into a fresh byte slice.
func Marshal(newEncoder func(io.Writer) Encoder, v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := newEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into v.
func Unmarshal(newDecoder func(io.Reader) Decoder, data []byte, v any) error {
	return newDecoder(bytes.NewReader(data)).Decode(v)
}
