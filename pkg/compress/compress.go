// Package compress maps compression aliases to stream codecs.
//
// A codec is resolved either from an Environment (instances the host has
// already configured) or from the built-in set, which covers the usual
// Hadoop-style aliases:
//
//	gzip, deflate (default, zlib), zstd, snappy, s2, lz4, brotli
//
// The empty alias and "none" resolve to a nil codec, meaning no compression.
package compress

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrUnknownCodec is returned when an alias matches neither the environment
// nor a built-in codec.
var ErrUnknownCodec = errors.New("unknown compression codec")

// Codec creates compressing writers and decompressing readers.
type Codec interface {
	// Name is the canonical alias of the codec.
	Name() string
	// Extension is the default file extension, including the dot.
	Extension() string
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// Environment holds codec instances configured by the hosting process.
// It is built once with the codecs a format needs; there is no global
// registry to mutate.
type Environment struct {
	codecs map[string]Codec
}

// NewEnvironment builds an environment from explicit codec instances.
// Later codecs with the same name replace earlier ones.
func NewEnvironment(codecs ...Codec) *Environment {
	env := &Environment{codecs: make(map[string]Codec, len(codecs))}
	for _, c := range codecs {
		if c == nil {
			continue
		}
		env.codecs[normalize(c.Name())] = c
	}
	return env
}

// Lookup returns the configured codec for alias, if any.
func (e *Environment) Lookup(alias string) (Codec, bool) {
	if e == nil {
		return nil, false
	}
	c, ok := e.codecs[normalize(alias)]
	return c, ok
}

// Resolve maps alias to a codec. The environment is consulted first, then
// the built-in codecs. A nil codec with a nil error means no compression.
func Resolve(alias string, env *Environment) (Codec, error) {
	name := normalize(alias)
	if name == "" || name == "none" {
		return nil, nil
	}
	if c, ok := env.Lookup(name); ok {
		return c, nil
	}
	if factory, ok := builtins[name]; ok {
		return factory(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, alias)
}

// Names returns the aliases of the built-in codecs.
func Names() []string {
	return []string{"gzip", "deflate", "zstd", "snappy", "s2", "lz4", "brotli"}
}

func normalize(alias string) string {
	return strings.ToLower(strings.TrimSpace(alias))
}
