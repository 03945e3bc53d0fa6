// Package rawcopy copies bytes between resources without record structure.
//
// The writer writes every item verbatim, through a stream codec when one is
// configured. The reader returns the data in chunks of BlockSize bytes.
// There are no marks, so a restarted copy replays from the start.
package rawcopy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/eunmann/batchio/internal/logctx"
	"github.com/eunmann/batchio/pkg/compress"
	"github.com/eunmann/batchio/pkg/fsys"
	"github.com/eunmann/batchio/pkg/humanfmt"
	"github.com/eunmann/batchio/pkg/serde"
)

// Options configures raw copies.
type Options struct {
	serde.Options
	// BlockSize is the size of the chunks returned by the reader.
	// Default: 64KB.
	BlockSize int
}

// DefaultOptions returns the default raw copy options.
func DefaultOptions() Options {
	return Options{
		Options:   serde.DefaultOptions(),
		BlockSize: 64 * 1024,
	}
}

// Validate fills zero values with defaults.
func (o *Options) Validate() {
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultOptions().BlockSize
	}
}

// WithBlockSize returns a copy that reads chunks of n bytes.
func (o Options) WithBlockSize(n int) Options {
	o.BlockSize = n
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

// Format is the serde.Format for raw bytes.
type Format struct {
	opts  Options
	codec compress.Codec
}

// New creates a raw copy format.
func New(opts Options) (*Format, error) {
	opts.Validate()
	codec, err := opts.Codec()
	if err != nil {
		return nil, fmt.Errorf("rawcopy format: %w", err)
	}
	return &Format{opts: opts, codec: codec}, nil
}

// Extension is the configured extension, or the extension of the codec.
// Uncompressed copies have no extension.
func (f *Format) Extension() string {
	if f.codec != nil {
		return f.opts.ExtensionOr(f.codec.Extension())
	}
	return f.opts.ExtensionOr("")
}

func (f *Format) NewWriter(ctx context.Context, out fsys.OutputStream) (serde.Writer[[]byte], error) {
	w := &writer{out: out, codec: f.codec}
	w.life = serde.NewLifecycle(w.open).Own(out)
	if !f.opts.LazyWriter {
		if err := w.Open(ctx); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (f *Format) NewReader(ctx context.Context, loader fsys.Loader, location string) (serde.Reader[[]byte], error) {
	r := &reader{
		loader:    loader,
		location:  serde.Location[[]byte](f, location),
		codec:     f.codec,
		blockSize: f.opts.BlockSize,
	}
	r.life = serde.NewLifecycle(r.open)
	if !f.opts.LazyReader {
		if err := r.Open(ctx); err != nil {
			return nil, err
		}
	}
	return r, nil
}

type writer struct {
	life  *serde.Lifecycle
	out   fsys.OutputStream
	codec compress.Codec
	w     io.Writer
	bytes int64
}

func (w *writer) Open(ctx context.Context) error {
	return w.life.Open(ctx)
}

func (w *writer) open(ctx context.Context) (io.Closer, error) {
	log := logctx.FromContext(ctx)
	closeOut := func() error {
		err := w.out.Close()
		log.Debug().Int64("bytes", w.bytes).Str("size", humanfmt.Bytes(w.bytes)).Msg("raw writer closed")
		return err
	}
	if w.codec == nil {
		w.w = w.out
		return serde.CloserFunc(closeOut), nil
	}

	cw, err := w.codec.NewWriter(w.out)
	if err != nil {
		return nil, fmt.Errorf("create %s writer: %w", w.codec.Name(), err)
	}
	w.w = cw
	log.Debug().Str("codec", w.codec.Name()).Msg("raw writer opened")
	return serde.CloserFunc(func() error {
		err := cw.Close()
		if cerr := closeOut(); err == nil {
			err = cerr
		}
		return err
	}), nil
}

func (w *writer) Write(ctx context.Context, b []byte) error {
	if err := w.life.Open(ctx); err != nil {
		return err
	}
	n, err := w.w.Write(b)
	w.bytes += int64(n)
	return err
}

func (w *writer) Close() error {
	return w.life.Close()
}

type reader struct {
	life      *serde.Lifecycle
	loader    fsys.Loader
	location  string
	codec     compress.Codec
	blockSize int
	br        *bufio.Reader
	done      bool
}

func (r *reader) Open(ctx context.Context) error {
	return r.life.Open(ctx)
}

func (r *reader) open(ctx context.Context) (io.Closer, error) {
	res, err := r.loader.Resource(r.location)
	if err != nil {
		return nil, &serde.OpenError{Location: r.location, Err: err}
	}
	in, err := res.Open(ctx)
	if err != nil {
		return nil, &serde.OpenError{Location: r.location, Err: err}
	}
	if r.codec == nil {
		r.br = bufio.NewReaderSize(in, r.blockSize)
		return in, nil
	}

	cr, err := r.codec.NewReader(in)
	if err != nil {
		in.Close()
		return nil, &serde.OpenError{Location: r.location, Err: err}
	}
	r.br = bufio.NewReaderSize(cr, r.blockSize)
	return serde.CloserFunc(func() error {
		err := cr.Close()
		if cerr := in.Close(); err == nil {
			err = cerr
		}
		return err
	}), nil
}

// Read returns the next chunk of at most blockSize bytes.
func (r *reader) Read(ctx context.Context) ([]byte, error) {
	if r.done {
		return nil, io.EOF
	}
	if err := r.life.Open(ctx); err != nil {
		return nil, err
	}

	buf := make([]byte, r.blockSize)
	n, err := io.ReadFull(r.br, buf)
	if n > 0 {
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return nil, err
		}
		return buf[:n], nil
	}
	if errors.Is(err, io.EOF) {
		r.done = true
		if cerr := r.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, io.EOF
	}
	return nil, err
}

func (r *reader) Close() error {
	return r.life.Close()
}

func (r *reader) Marks() serde.Marks {
	return serde.NoMarks()
}
