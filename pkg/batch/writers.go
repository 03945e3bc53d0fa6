package batch

import (
	"context"
	"fmt"
	"strconv"

	"github.com/eunmann/batchio/internal/logctx"
	"github.com/eunmann/batchio/pkg/fsys"
	"github.com/eunmann/batchio/pkg/serde"
	"github.com/rs/zerolog"
)

const (
	resourceIndexKey = "resource.index"
	writtenCountKey  = "written.count"
)

// SuffixFunc returns the suffix appended to the base location of a rotating
// writer for a chunk index.
type SuffixFunc func(index int) string

// SimpleSuffix returns "." followed by the index.
func SimpleSuffix(index int) string {
	return "." + strconv.Itoa(index)
}

// WriterOptions configures the chunk writers.
type WriterOptions struct {
	// Name prefixes the restart state keys.
	Name string
	// Suffix names rotated destinations. Default: SimpleSuffix.
	Suffix SuffixFunc
	// Metrics is optional.
	Metrics *Metrics
}

// DefaultWriterOptions returns options for a writer called name.
func DefaultWriterOptions(name string) WriterOptions {
	return WriterOptions{Name: name, Suffix: SimpleSuffix}
}

// Validate fills zero values with defaults.
func (o *WriterOptions) Validate() {
	if o.Suffix == nil {
		o.Suffix = SimpleSuffix
	}
}

// WithSuffix returns a copy with the given suffix function.
func (o WriterOptions) WithSuffix(fn SuffixFunc) WriterOptions {
	o.Suffix = fn
	return o
}

// WithMetrics returns a copy with the given metrics.
func (o WriterOptions) WithMetrics(m *Metrics) WriterOptions {
	o.Metrics = m
	return o
}

func newWriterTarget[T any](format serde.Format[T], loader fsys.Loader, location string, opts WriterOptions) error {
	switch {
	case format == nil:
		return fmt.Errorf("%w: chunk writer needs a serialization format", ErrMissingCollaborator)
	case loader == nil:
		return fmt.Errorf("%w: chunk writer needs a resource loader", ErrMissingCollaborator)
	case location == "":
		return fmt.Errorf("%w: chunk writer needs a destination", ErrMissingCollaborator)
	case opts.Name == "":
		return fmt.Errorf("%w: chunk writer needs a name", ErrMissingCollaborator)
	}
	return nil
}

// AggregatingWriter appends every chunk to one destination. The writer is
// created on the first Write and closed by Close. Items written before a
// failed chunk stay in the destination.
//
// A destination cannot be reopened for append, so Open fails with
// ErrNotRestartable when ec records committed items.
type AggregatingWriter[T any] struct {
	format   serde.Format[T]
	loader   fsys.Loader
	location string
	opts     WriterOptions

	writer  serde.Writer[T]
	path    string
	written int64
	log     zerolog.Logger
}

// NewAggregatingWriter creates a writer for location.
func NewAggregatingWriter[T any](format serde.Format[T], loader fsys.Loader, location string, opts WriterOptions) (*AggregatingWriter[T], error) {
	opts.Validate()
	if err := newWriterTarget(format, loader, location, opts); err != nil {
		return nil, err
	}
	return &AggregatingWriter[T]{format: format, loader: loader, location: location, opts: opts}, nil
}

func (w *AggregatingWriter[T]) Open(ctx context.Context, ec *ExecutionContext) error {
	w.log = logctx.FromContext(ctx)
	if ec == nil {
		return nil
	}
	if n, ok := ec.GetInt64(w.opts.Name + "." + writtenCountKey); ok && n > 0 {
		return fmt.Errorf("%w: %s already holds %d committed items; use a rotating writer to resume", ErrNotRestartable, serde.Location(w.format, w.location), n)
	}
	return nil
}

// Write writes items, creating the destination first if needed.
func (w *AggregatingWriter[T]) Write(ctx context.Context, items []T) error {
	if len(items) == 0 {
		return nil
	}
	if w.writer == nil {
		writer, path, err := serde.Create(ctx, w.format, w.loader, w.location)
		if err != nil {
			return err
		}
		w.writer, w.path = writer, path
		w.log.Info().Str("writer", w.opts.Name).Str("path", path).Msg("writing destination")
	}
	for i, item := range items {
		if err := w.writer.Write(ctx, item); err != nil {
			w.opts.Metrics.written(w.opts.Name, i)
			return fmt.Errorf("write item %d of chunk to %s: %w", i, w.path, err)
		}
	}
	w.written += int64(len(items))
	w.opts.Metrics.written(w.opts.Name, len(items))
	return nil
}

// Update records the committed item count. Writers that can sync their
// destination are synced first.
func (w *AggregatingWriter[T]) Update(ec *ExecutionContext) error {
	if s, ok := w.writer.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			return fmt.Errorf("sync %s: %w", w.path, err)
		}
	}
	if ec != nil {
		ec.Put(w.opts.Name+"."+writtenCountKey, w.written)
	}
	return nil
}

// Close closes the destination if one was created.
func (w *AggregatingWriter[T]) Close() error {
	if w.writer == nil {
		return nil
	}
	err := w.writer.Close()
	w.log.Debug().Str("writer", w.opts.Name).Str("path", w.path).Int64("items", w.written).Msg("destination closed")
	w.writer = nil
	return err
}

// Path returns the destination path once the first chunk was written.
func (w *AggregatingWriter[T]) Path() string {
	return w.path
}

// RotatingWriter writes every chunk to its own destination named
// base + Suffix(index). The index of the next destination is saved on
// Update, so a restarted step continues with the first index that was not
// committed.
type RotatingWriter[T any] struct {
	format serde.Format[T]
	loader fsys.Loader
	base   string
	opts   WriterOptions

	index int
	paths []string
	log   zerolog.Logger
}

// NewRotatingWriter creates a writer rotating under base.
func NewRotatingWriter[T any](format serde.Format[T], loader fsys.Loader, base string, opts WriterOptions) (*RotatingWriter[T], error) {
	opts.Validate()
	if err := newWriterTarget(format, loader, base, opts); err != nil {
		return nil, err
	}
	return &RotatingWriter[T]{format: format, loader: loader, base: base, opts: opts}, nil
}

func (w *RotatingWriter[T]) key() string {
	return w.opts.Name + "." + resourceIndexKey
}

// Open restores the rotation index from ec.
func (w *RotatingWriter[T]) Open(ctx context.Context, ec *ExecutionContext) error {
	w.log = logctx.FromContext(ctx)
	w.index = 0
	if ec != nil && ec.ContainsKey(w.key()) {
		idx, ok := ec.GetInt(w.key())
		if !ok || idx < 0 {
			return fmt.Errorf("%w: %s is not a valid index", ErrNotRestartable, w.key())
		}
		w.index = idx
		w.log.Info().Str("writer", w.opts.Name).Int("index", idx).Msg("resuming rotation")
	}
	return nil
}

// Write writes items to a fresh destination and closes it. An empty chunk
// creates nothing and keeps the index.
func (w *RotatingWriter[T]) Write(ctx context.Context, items []T) error {
	if len(items) == 0 {
		return nil
	}
	location := w.base + w.opts.Suffix(w.index)
	writer, path, err := serde.Create(ctx, w.format, w.loader, location)
	if err != nil {
		return err
	}
	for i, item := range items {
		if err := writer.Write(ctx, item); err != nil {
			writer.Close()
			w.opts.Metrics.written(w.opts.Name, i)
			return fmt.Errorf("write item %d of chunk to %s: %w", i, path, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	w.log.Debug().Str("writer", w.opts.Name).Int("index", w.index).Str("path", path).Int("items", len(items)).Msg("rotated")
	w.paths = append(w.paths, path)
	w.index++
	w.opts.Metrics.rotation(w.opts.Name)
	w.opts.Metrics.written(w.opts.Name, len(items))
	return nil
}

// Update saves the index of the next destination.
func (w *RotatingWriter[T]) Update(ec *ExecutionContext) error {
	if ec == nil {
		return fmt.Errorf("%w: nil execution context", ErrMissingCollaborator)
	}
	ec.Put(w.key(), w.index)
	return nil
}

// Close is a no-op: every destination is closed by the Write that created
// it.
func (w *RotatingWriter[T]) Close() error {
	return nil
}

// Index returns the index the next chunk will be written to.
func (w *RotatingWriter[T]) Index() int {
	return w.index
}

// Paths returns the destinations written since the writer was created.
func (w *RotatingWriter[T]) Paths() []string {
	return w.paths
}
