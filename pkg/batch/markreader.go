package batch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/eunmann/batchio/internal/logctx"
	"github.com/eunmann/batchio/pkg/serde"
)

// Restart state keys, prefixed with the reader name and a dot.
const (
	lastMarkKey       = "last.mark"
	itemsAfterMarkKey = "items.after.mark"
	readCountKey      = "read.count"
)

// MarkReaderOptions configures a MarkReader.
type MarkReaderOptions struct {
	// Name prefixes the restart state keys. Required when SaveState is set.
	Name string
	// SaveState enables saving and restoring restart state. Without it
	// every open reads from the start.
	SaveState bool
	// MaxItemCount stops reading after this many items. 0 means no limit.
	MaxItemCount int
	// Metrics is optional.
	Metrics *Metrics
}

// DefaultMarkReaderOptions returns options that save state under name.
func DefaultMarkReaderOptions(name string) MarkReaderOptions {
	return MarkReaderOptions{Name: name, SaveState: true}
}

// WithSaveState returns a copy with SaveState set.
func (o MarkReaderOptions) WithSaveState(save bool) MarkReaderOptions {
	o.SaveState = save
	return o
}

// WithMaxItemCount returns a copy with the given item limit.
func (o MarkReaderOptions) WithMaxItemCount(n int) MarkReaderOptions {
	o.MaxItemCount = n
	return o
}

// WithMetrics returns a copy with the given metrics.
func (o MarkReaderOptions) WithMetrics(m *Metrics) MarkReaderOptions {
	o.Metrics = m
	return o
}

// MarkReader is a restartable reader over a serde.Reader.
//
// It tracks the last sync mark of the underlying reader and the number of
// items read since that mark was crossed. When the mark changes on a read,
// the count becomes 1 if the mark sits before the record just read and 0 if
// it sits after it; otherwise each read adds one. On a restart the reader
// jumps to the saved mark and replays the saved count, so only the tail
// after the mark is read twice.
//
// Readers without marks keep LastMark at serde.NoMark: the count then covers
// everything read and a restart replays from the start.
type MarkReader[T any] struct {
	reader serde.Reader[T]
	marks  serde.Marks
	opts   MarkReaderOptions

	lastMark       int64
	itemsAfterMark int
	readCount      int
	open           bool
}

// NewMarkReader wraps reader. The mark capability of reader is resolved
// here, once.
func NewMarkReader[T any](reader serde.Reader[T], opts MarkReaderOptions) (*MarkReader[T], error) {
	if reader == nil {
		return nil, fmt.Errorf("%w: mark reader needs a serde reader", ErrMissingCollaborator)
	}
	if opts.SaveState && opts.Name == "" {
		return nil, fmt.Errorf("%w: mark reader needs a name to save state", ErrMissingCollaborator)
	}
	if opts.MaxItemCount < 0 {
		return nil, fmt.Errorf("mark reader: negative MaxItemCount %d", opts.MaxItemCount)
	}
	marks := reader.Marks()
	if marks == nil {
		marks = serde.NoMarks()
	}
	return &MarkReader[T]{
		reader:   reader,
		marks:    marks,
		opts:     opts,
		lastMark: serde.NoMark,
	}, nil
}

func (r *MarkReader[T]) key(suffix string) string {
	return r.opts.Name + "." + suffix
}

// Open opens the underlying reader and, when ec holds saved state, moves
// it back to the saved position. Opening an open reader is a no-op.
func (r *MarkReader[T]) Open(ctx context.Context, ec *ExecutionContext) error {
	if r.open {
		return nil
	}
	if err := r.reader.Open(ctx); err != nil {
		return err
	}

	log := logctx.FromContext(ctx)
	if !r.opts.SaveState || ec == nil || !ec.ContainsKey(r.key(lastMarkKey)) {
		r.lastMark = r.marks.LastMark()
		r.itemsAfterMark = 0
		r.readCount = 0
		r.open = true
		log.Debug().
			Str("reader", r.opts.Name).
			Bool("restart", false).
			Int64("last_mark", r.lastMark).
			Msg("mark reader opened")
		return nil
	}

	mark, ok := ec.GetInt64(r.key(lastMarkKey))
	if !ok {
		return fmt.Errorf("%w: %s is not an integer", serde.ErrInvalidMark, r.key(lastMarkKey))
	}
	items, ok := ec.GetInt(r.key(itemsAfterMarkKey))
	if !ok || items < 0 {
		return fmt.Errorf("%w: %s is missing or negative", serde.ErrInvalidMark, r.key(itemsAfterMarkKey))
	}
	readCount, _ := ec.GetInt(r.key(readCountKey))

	log.Info().
		Str("reader", r.opts.Name).
		Bool("restart", true).
		Int64("last_mark", mark).
		Int("replay", items).
		Msg("restarting mark reader")

	if err := r.marks.GotoMark(ctx, mark); err != nil {
		return fmt.Errorf("restart %s at mark %d: %w", r.opts.Name, mark, err)
	}
	r.lastMark = mark
	r.itemsAfterMark = 0
	for i := 0; i < items; i++ {
		if _, err := r.doRead(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: %s ended after %d of %d items past mark %d", serde.ErrInvalidMark, r.opts.Name, i, items, mark)
			}
			return fmt.Errorf("replay %s: %w", r.opts.Name, err)
		}
	}
	r.readCount = readCount
	r.open = true
	r.opts.Metrics.restart(r.opts.Name, items)

	log.Debug().
		Str("reader", r.opts.Name).
		Int("replayed", items).
		Msg("mark reader replay complete")
	return nil
}

// Read returns the next item, or io.EOF at the end of the data or once
// MaxItemCount items have been read.
func (r *MarkReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if !r.open {
		return zero, ErrNotOpen
	}
	if r.opts.MaxItemCount > 0 && r.readCount >= r.opts.MaxItemCount {
		return zero, io.EOF
	}
	item, err := r.doRead(ctx)
	if err != nil {
		return zero, err
	}
	r.readCount++
	r.opts.Metrics.read(r.opts.Name, 1)
	return item, nil
}

func (r *MarkReader[T]) doRead(ctx context.Context) (T, error) {
	item, err := r.reader.Read(ctx)
	if err != nil {
		return item, err
	}
	if mark := r.marks.LastMark(); mark == r.lastMark {
		r.itemsAfterMark++
	} else {
		r.lastMark = mark
		if r.marks.MarkAtRecordStart() {
			r.itemsAfterMark = 1
		} else {
			r.itemsAfterMark = 0
		}
	}
	return item, nil
}

// Update saves the current position when SaveState is set.
func (r *MarkReader[T]) Update(ec *ExecutionContext) error {
	if !r.opts.SaveState {
		return nil
	}
	if ec == nil {
		return fmt.Errorf("%w: nil execution context", ErrMissingCollaborator)
	}
	ec.Put(r.key(lastMarkKey), r.lastMark)
	ec.Put(r.key(itemsAfterMarkKey), r.itemsAfterMark)
	ec.Put(r.key(readCountKey), r.readCount)
	return nil
}

// Close closes the underlying reader and resets the position.
func (r *MarkReader[T]) Close() error {
	r.open = false
	r.lastMark = serde.NoMark
	r.itemsAfterMark = 0
	r.readCount = 0
	return r.reader.Close()
}

// State returns the last mark and the number of items read after it.
func (r *MarkReader[T]) State() (lastMark int64, itemsAfterMark int) {
	return r.lastMark, r.itemsAfterMark
}

// clearState removes the keys of a reader named name from ec.
func clearState(ec *ExecutionContext, name string) {
	for _, k := range []string{lastMarkKey, itemsAfterMarkKey, readCountKey} {
		ec.Remove(name + "." + k)
	}
}
