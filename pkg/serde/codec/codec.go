// Package codec provides value codecs that turn items into the byte strings
// stored by record-oriented formats.
package codec

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

// Codec marshals values of type T.
type Codec[T any] interface {
	// Name identifies the codec in file headers.
	Name() string
	Marshal(v T) ([]byte, error)
	// Unmarshal decodes b. Implementations must not retain b.
	Unmarshal(b []byte) (T, error)
}

// Gob encodes values with encoding/gob. Each value is a standalone stream,
// so type information is repeated per record.
type Gob[T any] struct{}

func (Gob[T]) Name() string { return "gob" }

func (Gob[T]) Marshal(v T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (Gob[T]) Unmarshal(b []byte) (T, error) {
	var v T
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&v); err != nil {
		return v, fmt.Errorf("gob decode: %w", err)
	}
	return v, nil
}

// JSON encodes values with encoding/json.
type JSON[T any] struct{}

func (JSON[T]) Name() string { return "json" }

func (JSON[T]) Marshal(v T) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON[T]) Unmarshal(b []byte) (T, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("json decode: %w", err)
	}
	return v, nil
}

// MsgpType is satisfied by pointers to types with msgp generated methods.
type MsgpType[T any] interface {
	*T
	msgp.Marshaler
	msgp.Unmarshaler
}

// Msgp encodes values with their MessagePack methods.
type Msgp[T any, PT MsgpType[T]] struct{}

func (Msgp[T, PT]) Name() string { return "msgp" }

func (Msgp[T, PT]) Marshal(v T) ([]byte, error) {
	return PT(&v).MarshalMsg(nil)
}

func (Msgp[T, PT]) Unmarshal(b []byte) (T, error) {
	var v T
	rest, err := PT(&v).UnmarshalMsg(b)
	if err != nil {
		return v, fmt.Errorf("msgp decode: %w", err)
	}
	if len(rest) != 0 {
		return v, fmt.Errorf("msgp decode: %d trailing bytes", len(rest))
	}
	return v, nil
}

// Bytes stores byte slices as they are.
type Bytes struct{}

func (Bytes) Name() string { return "bytes" }

func (Bytes) Marshal(v []byte) ([]byte, error) { return v, nil }

func (Bytes) Unmarshal(b []byte) ([]byte, error) {
	return bytes.Clone(b), nil
}

// String stores strings as UTF-8 bytes.
type String struct{}

func (String) Name() string { return "string" }

func (String) Marshal(v string) ([]byte, error) { return []byte(v), nil }

func (String) Unmarshal(b []byte) (string, error) { return string(b), nil }
