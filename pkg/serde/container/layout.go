package container

import (
	"errors"

	"github.com/eunmann/batchio/pkg/serde/codec"
)

// Layout maps items to the key and value bytes of a record and back.
// Formats differ only in their layout, not in the container code.
type Layout[T any] struct {
	// KeyCodec and ValueCodec name the codecs in the file header.
	KeyCodec   string
	ValueCodec string
	// KeyOf extracts the record key. Nil means records have empty keys.
	KeyOf func(T) ([]byte, error)
	// ValueOf extracts the record value.
	ValueOf func(T) ([]byte, error)
	// Decode rebuilds an item. key and value are only valid during the call.
	Decode func(key, value []byte) (T, error)
}

// ValueOnly stores items as values with empty keys.
func ValueOnly[T any](values codec.Codec[T]) Layout[T] {
	return Layout[T]{
		ValueCodec: values.Name(),
		ValueOf:    values.Marshal,
		Decode: func(_, value []byte) (T, error) {
			return values.Unmarshal(value)
		},
	}
}

// Keyed stores items as values under a key derived from the item.
func Keyed[T, K any](keyOf func(T) K, keys codec.Codec[K], values codec.Codec[T]) Layout[T] {
	return Layout[T]{
		KeyCodec:   keys.Name(),
		ValueCodec: values.Name(),
		KeyOf: func(item T) ([]byte, error) {
			return keys.Marshal(keyOf(item))
		},
		ValueOf: values.Marshal,
		Decode: func(_, value []byte) (T, error) {
			return values.Unmarshal(value)
		},
	}
}

// Pair is a key/value record.
type Pair[K, V any] struct {
	Key   K
	Value V
}

// KeyValue stores pairs with separately encoded keys and values.
func KeyValue[K, V any](keys codec.Codec[K], values codec.Codec[V]) Layout[Pair[K, V]] {
	return Layout[Pair[K, V]]{
		KeyCodec:   keys.Name(),
		ValueCodec: values.Name(),
		KeyOf: func(p Pair[K, V]) ([]byte, error) {
			return keys.Marshal(p.Key)
		},
		ValueOf: func(p Pair[K, V]) ([]byte, error) {
			return values.Marshal(p.Value)
		},
		Decode: func(key, value []byte) (Pair[K, V], error) {
			var p Pair[K, V]
			var err error
			if p.Key, err = keys.Unmarshal(key); err != nil {
				return p, err
			}
			p.Value, err = values.Unmarshal(value)
			return p, err
		},
	}
}

func (l Layout[T]) validate(index bool) error {
	if l.ValueOf == nil || l.Decode == nil {
		return errors.New("container layout: ValueOf and Decode are required")
	}
	if index && l.KeyOf == nil {
		return errors.New("container layout: key index requires KeyOf")
	}
	return nil
}
