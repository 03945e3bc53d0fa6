// Package columnar implements a self-describing columnar format on top of
// Parquet.
//
// Records are described by an explicit Schema and converted with a Mapper;
// rows are built with explicit repetition and definition levels instead of
// reflection. The writer closes a row group every RowGroupRows rows.
//
// Marks are row group indexes. A mark is crossed after the last row of a
// group is returned, so it sits after that record: LastMark starts at 0 and
// becomes g+1 once group g has been read completely.
package columnar

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/eunmann/batchio/pkg/compress"
	"github.com/eunmann/batchio/pkg/fsys"
	"github.com/eunmann/batchio/pkg/serde"
	"github.com/parquet-go/parquet-go"
)

// Extension is the default file extension.
const Extension = ".parquet"

// Options configures the columnar format.
type Options struct {
	serde.Options
	// RowGroupRows is the number of rows per row group. Default: 10000.
	RowGroupRows int
	// ReadBatch is the number of rows fetched per read call. Default: 256.
	ReadBatch int
}

// DefaultOptions returns the default columnar options.
func DefaultOptions() Options {
	return Options{
		Options:      serde.DefaultOptions(),
		RowGroupRows: 10000,
		ReadBatch:    256,
	}
}

// Validate fills zero values with defaults.
func (o *Options) Validate() {
	d := DefaultOptions()
	if o.RowGroupRows <= 0 {
		o.RowGroupRows = d.RowGroupRows
	}
	if o.ReadBatch <= 0 {
		o.ReadBatch = d.ReadBatch
	}
}

// WithRowGroupRows returns a copy with the given row group size.
func (o Options) WithRowGroupRows(n int) Options {
	o.RowGroupRows = n
	return o
}

// WithExtension returns a copy with the given extension.
func (o Options) WithExtension(ext string) Options {
	o.Options = o.Options.WithExtension(ext)
	return o
}

// WithCompression returns a copy with the given compression alias.
func (o Options) WithCompression(alias string) Options {
	o.Options = o.Options.WithCompression(alias)
	return o
}

// WithEnvironment returns a copy with the given codec environment.
func (o Options) WithEnvironment(env *compress.Environment) Options {
	o.Options = o.Options.WithEnvironment(env)
	return o
}

// WithLazyWriter returns a copy with LazyWriter set.
func (o Options) WithLazyWriter(lazy bool) Options {
	o.Options = o.Options.WithLazyWriter(lazy)
	return o
}

// WithLazyReader returns a copy with LazyReader set.
func (o Options) WithLazyReader(lazy bool) Options {
	o.Options = o.Options.WithLazyReader(lazy)
	return o
}

// Format is the serde.Format of the columnar format.
type Format[T any] struct {
	schema Schema
	mapper Mapper[T]
	opts   Options
}

// New creates a columnar format. The schema, the mapper and the compression
// alias are checked here.
func New[T any](schema Schema, mapper Mapper[T], opts Options) (*Format[T], error) {
	opts.Validate()
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if mapper.ToRecord == nil || mapper.FromRecord == nil {
		return nil, errors.New("columnar format: mapper needs ToRecord and FromRecord")
	}
	if _, err := compressionOptions(opts.Compression); err != nil {
		return nil, err
	}
	return &Format[T]{schema: schema, mapper: mapper, opts: opts}, nil
}

func (f *Format[T]) Extension() string {
	return f.opts.ExtensionOr(Extension)
}

func (f *Format[T]) NewWriter(ctx context.Context, out fsys.OutputStream) (serde.Writer[T], error) {
	w, err := NewWriter(ctx, out, f.schema, f.mapper, f.opts)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (f *Format[T]) NewReader(ctx context.Context, loader fsys.Loader, location string) (serde.Reader[T], error) {
	r, err := NewReader(ctx, loader, serde.Location[T](f, location), f.schema, f.mapper, f.opts)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// compressionOptions maps a compression alias to a parquet page codec.
// Parquet has no framing for the stream codecs of package compress, so only
// codecs parquet defines are accepted.
func compressionOptions(alias string) ([]parquet.WriterOption, error) {
	switch strings.ToLower(strings.TrimSpace(alias)) {
	case "", "none":
		return nil, nil
	case "gzip", "gz":
		return []parquet.WriterOption{parquet.Compression(&parquet.Gzip)}, nil
	case "snappy":
		return []parquet.WriterOption{parquet.Compression(&parquet.Snappy)}, nil
	case "zstd":
		return []parquet.WriterOption{parquet.Compression(&parquet.Zstd)}, nil
	case "lz4":
		return []parquet.WriterOption{parquet.Compression(&parquet.Lz4Raw)}, nil
	case "brotli":
		return []parquet.WriterOption{parquet.Compression(&parquet.Brotli)}, nil
	default:
		return nil, fmt.Errorf("%w: %q is not a parquet codec", compress.ErrUnknownCodec, alias)
	}
}
