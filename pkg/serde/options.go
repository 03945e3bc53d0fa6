package serde

import (
	"github.com/eunmann/batchio/pkg/compress"
	"github.com/eunmann/batchio/pkg/fsys"
)

// Options are the settings shared by all formats.
type Options struct {
	// Extension overrides the default extension of the format.
	Extension string
	// Compression is a codec alias resolved with compress.Resolve.
	// Empty means no compression.
	Compression string
	// Env holds host-configured codecs consulted before the built-ins.
	Env *compress.Environment
	// LazyWriter defers opening a writer until the first Write.
	LazyWriter bool
	// LazyReader defers opening a reader until the first Read.
	LazyReader bool
}

// DefaultOptions returns options with lazy writers and readers.
func DefaultOptions() Options {
	return Options{
		LazyWriter: true,
		LazyReader: true,
	}
}

// ExtensionOr returns the configured extension, or def when none is set.
func (o Options) ExtensionOr(def string) string {
	if o.Extension != "" {
		return fsys.NormalizeExtension(o.Extension)
	}
	return fsys.NormalizeExtension(def)
}

// Codec resolves the compression alias. A nil codec means no compression.
func (o Options) Codec() (compress.Codec, error) {
	return compress.Resolve(o.Compression, o.Env)
}

// WithExtension returns a copy with the given extension.
func (o Options) WithExtension(ext string) Options {
	o.Extension = ext
	return o
}

// WithCompression returns a copy with the given compression alias.
func (o Options) WithCompression(alias string) Options {
	o.Compression = alias
	return o
}

// WithEnvironment returns a copy with the given codec environment.
func (o Options) WithEnvironment(env *compress.Environment) Options {
	o.Env = env
	return o
}

// WithLazyWriter returns a copy with LazyWriter set.
func (o Options) WithLazyWriter(lazy bool) Options {
	o.LazyWriter = lazy
	return o
}

// WithLazyReader returns a copy with LazyReader set.
func (o Options) WithLazyReader(lazy bool) Options {
	o.LazyReader = lazy
	return o
}
