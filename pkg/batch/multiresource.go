package batch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/eunmann/batchio/internal/logctx"
	"github.com/eunmann/batchio/pkg/fsys"
	"github.com/eunmann/batchio/pkg/serde"
	"github.com/rs/zerolog"
)

const resourcePathKey = "resource.path"

// MultiResourceOptions configures a MultiResourceReader.
type MultiResourceOptions struct {
	// Name prefixes the restart state keys.
	Name string
	// Strict makes Open fail when the pattern matches nothing.
	Strict bool
	// MaxItemCount limits the items read from each resource. 0 means no
	// limit.
	MaxItemCount int
	// Metrics is optional.
	Metrics *Metrics
}

// DefaultMultiResourceOptions returns options for a reader called name.
func DefaultMultiResourceOptions(name string) MultiResourceOptions {
	return MultiResourceOptions{Name: name}
}

// WithStrict returns a copy with Strict set.
func (o MultiResourceOptions) WithStrict(strict bool) MultiResourceOptions {
	o.Strict = strict
	return o
}

// WithMaxItemCount returns a copy with the given per-resource limit.
func (o MultiResourceOptions) WithMaxItemCount(n int) MultiResourceOptions {
	o.MaxItemCount = n
	return o
}

// WithMetrics returns a copy with the given metrics.
func (o MultiResourceOptions) WithMetrics(m *Metrics) MultiResourceOptions {
	o.Metrics = m
	return o
}

// MultiResourceReader reads every resource matching a glob pattern, in
// path order, each through its own MarkReader. It saves the index and path
// of the current resource with the state of its MarkReader, so a restart
// resumes inside the resource it stopped in.
type MultiResourceReader[T any] struct {
	format  serde.Format[T]
	loader  fsys.Loader
	pattern string
	opts    MultiResourceOptions

	resources []fsys.Resource
	index     int
	current   *MarkReader[T]
	open      bool
	log       zerolog.Logger
}

// NewMultiResourceReader creates a reader over the resources matching
// pattern.
func NewMultiResourceReader[T any](format serde.Format[T], loader fsys.Loader, pattern string, opts MultiResourceOptions) (*MultiResourceReader[T], error) {
	switch {
	case format == nil:
		return nil, fmt.Errorf("%w: multi-resource reader needs a serialization format", ErrMissingCollaborator)
	case loader == nil:
		return nil, fmt.Errorf("%w: multi-resource reader needs a resource loader", ErrMissingCollaborator)
	case pattern == "":
		return nil, fmt.Errorf("%w: multi-resource reader needs a pattern", ErrMissingCollaborator)
	case opts.Name == "":
		return nil, fmt.Errorf("%w: multi-resource reader needs a name", ErrMissingCollaborator)
	case opts.MaxItemCount < 0:
		return nil, fmt.Errorf("multi-resource reader: negative MaxItemCount %d", opts.MaxItemCount)
	}
	return &MultiResourceReader[T]{format: format, loader: loader, pattern: pattern, opts: opts}, nil
}

func (r *MultiResourceReader[T]) key(suffix string) string {
	return r.opts.Name + "." + suffix
}

func (r *MultiResourceReader[T]) delegateName() string {
	return r.opts.Name + ".delegate"
}

// Open lists the resources and, when ec holds saved state, reopens the
// saved resource at the saved position.
func (r *MultiResourceReader[T]) Open(ctx context.Context, ec *ExecutionContext) error {
	if r.open {
		return nil
	}
	r.log = logctx.FromContext(ctx)

	resources, err := r.loader.Resources(ctx, r.pattern)
	if err != nil {
		return fmt.Errorf("list %s: %w", r.pattern, err)
	}
	if len(resources) == 0 && r.opts.Strict {
		return fmt.Errorf("%w: no resources match %s", fsys.ErrNotExist, r.pattern)
	}
	r.resources = resources
	r.index = 0
	r.log.Info().Str("reader", r.opts.Name).Str("pattern", r.pattern).Int("resources", len(resources)).Msg("listed resources")

	if ec == nil || !ec.ContainsKey(r.key(resourceIndexKey)) {
		r.open = true
		return nil
	}

	idx, ok := ec.GetInt(r.key(resourceIndexKey))
	if !ok || idx < 0 || idx > len(resources) {
		return fmt.Errorf("%w: saved resource index of %s is outside the %d matches of %s", ErrNotRestartable, r.opts.Name, len(resources), r.pattern)
	}
	if path, ok := ec.GetString(r.key(resourcePathKey)); ok && idx < len(resources) && resources[idx].Path() != path {
		return fmt.Errorf("%w: resource %d of %s was %s, now %s", ErrNotRestartable, idx, r.pattern, path, resources[idx].Path())
	}
	r.index = idx
	r.log.Info().Str("reader", r.opts.Name).Int("index", idx).Msg("resuming resources")
	if idx < len(resources) {
		if err := r.openDelegate(ctx, ec); err != nil {
			return err
		}
	}
	r.open = true
	return nil
}

func (r *MultiResourceReader[T]) openDelegate(ctx context.Context, ec *ExecutionContext) error {
	res := r.resources[r.index]
	reader, err := r.format.NewReader(ctx, r.loader, res.Path())
	if err != nil {
		return fmt.Errorf("new reader for %s: %w", res.Path(), err)
	}
	opts := DefaultMarkReaderOptions(r.delegateName()).
		WithMaxItemCount(r.opts.MaxItemCount).
		WithMetrics(r.opts.Metrics)
	delegate, err := NewMarkReader(reader, opts)
	if err != nil {
		return err
	}
	if err := delegate.Open(ctx, ec); err != nil {
		return fmt.Errorf("open %s: %w", res.Path(), err)
	}
	r.current = delegate
	r.log.Debug().Str("reader", r.opts.Name).Int("index", r.index).Str("path", res.Path()).Msg("opened resource")
	return nil
}

// Read returns the next item, moving on to the next resource when the
// current one is exhausted.
func (r *MultiResourceReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if !r.open {
		return zero, ErrNotOpen
	}
	for {
		if r.current == nil {
			if r.index >= len(r.resources) {
				return zero, io.EOF
			}
			if err := r.openDelegate(ctx, nil); err != nil {
				return zero, err
			}
		}
		item, err := r.current.Read(ctx)
		if errors.Is(err, io.EOF) {
			if err := r.current.Close(); err != nil {
				return zero, fmt.Errorf("close %s: %w", r.resources[r.index].Path(), err)
			}
			r.current = nil
			r.index++
			continue
		}
		return item, err
	}
}

// Update saves the current resource and its reader position.
func (r *MultiResourceReader[T]) Update(ec *ExecutionContext) error {
	if ec == nil {
		return fmt.Errorf("%w: nil execution context", ErrMissingCollaborator)
	}
	ec.Put(r.key(resourceIndexKey), r.index)
	if r.index < len(r.resources) {
		ec.Put(r.key(resourcePathKey), r.resources[r.index].Path())
	} else {
		ec.Remove(r.key(resourcePathKey))
	}
	if r.current == nil {
		clearState(ec, r.delegateName())
		return nil
	}
	return r.current.Update(ec)
}

// Close closes the current resource.
func (r *MultiResourceReader[T]) Close() error {
	r.open = false
	if r.current == nil {
		return nil
	}
	err := r.current.Close()
	r.current = nil
	return err
}

// Resources returns the resources listed by Open.
func (r *MultiResourceReader[T]) Resources() []fsys.Resource {
	return r.resources
}
