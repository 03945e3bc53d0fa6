package columnar

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/eunmann/batchio/internal/logctx"
	"github.com/eunmann/batchio/pkg/fsys"
	"github.com/eunmann/batchio/pkg/serde"
	"github.com/parquet-go/parquet-go"
)

// Reader reads items from a parquet file row group by row group. It
// implements serde.Marks with row group indexes as marks.
type Reader[T any] struct {
	life     *serde.Lifecycle
	loader   fsys.Loader
	location string
	schema   Schema
	mapper   Mapper[T]
	opts     Options

	byIndex map[int]column
	groups  []parquet.RowGroup
	group   int
	inGroup int64
	rows    parquet.Rows
	buf     []parquet.Row
	bufIdx  int
	bufLen  int
	mark    int64
	done    bool
}

// NewReader creates a reader of location.
func NewReader[T any](ctx context.Context, loader fsys.Loader, location string, schema Schema, mapper Mapper[T], opts Options) (*Reader[T], error) {
	opts.Validate()
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	r := &Reader[T]{
		loader:   loader,
		location: location,
		schema:   schema,
		mapper:   mapper,
		opts:     opts,
	}
	r.life = serde.NewLifecycle(r.open)
	if !opts.LazyReader {
		if err := r.Open(ctx); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Open opens the file and reads its footer.
func (r *Reader[T]) Open(ctx context.Context) error {
	return r.life.Open(ctx)
}

func (r *Reader[T]) open(ctx context.Context) (io.Closer, error) {
	res, err := r.loader.Resource(r.location)
	if err != nil {
		return nil, &serde.OpenError{Location: r.location, Err: err}
	}
	size, err := res.Size(ctx)
	if err != nil {
		return nil, &serde.OpenError{Location: r.location, Err: err}
	}
	in, err := res.Open(ctx)
	if err != nil {
		return nil, &serde.OpenError{Location: r.location, Err: err}
	}

	file, err := parquet.OpenFile(in, size)
	if err != nil {
		in.Close()
		return nil, &serde.OpenError{Location: r.location, Err: fmt.Errorf("%w: open parquet file: %v", serde.ErrCorrupt, err)}
	}
	cols, err := r.schema.columns(file.Schema())
	if err != nil {
		in.Close()
		return nil, &serde.OpenError{Location: r.location, Err: err}
	}

	r.byIndex = make(map[int]column, len(cols))
	for _, c := range cols {
		r.byIndex[c.index] = c
	}
	r.groups = r.groups[:0]
	for _, rg := range file.RowGroups() {
		if rg.NumRows() > 0 {
			r.groups = append(r.groups, rg)
		}
	}
	r.buf = make([]parquet.Row, r.opts.ReadBatch)

	log := logctx.FromContext(ctx)
	log.Debug().
		Str("path", r.location).
		Int64("rows", file.NumRows()).
		Int("row_groups", len(r.groups)).
		Msg("columnar reader opened")

	return serde.CloserFunc(func() error {
		r.closeRows()
		return in.Close()
	}), nil
}

// Read returns the next item or io.EOF.
func (r *Reader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if r.done {
		return zero, io.EOF
	}
	if err := r.life.Open(ctx); err != nil {
		return zero, err
	}

	for {
		if r.bufIdx < r.bufLen {
			row := r.buf[r.bufIdx]
			r.bufIdx++
			r.inGroup++
			item, err := r.mapper.FromRecord(decodeRow(row, r.byIndex))
			if r.inGroup == r.groups[r.group].NumRows() {
				r.mark = int64(r.group) + 1
			}
			if err != nil {
				return zero, fmt.Errorf("map row %d of group %d: %w", r.inGroup-1, r.group, err)
			}
			return item, nil
		}

		if r.rows == nil {
			if r.group >= len(r.groups) {
				r.done = true
				if err := r.Close(); err != nil {
					return zero, err
				}
				return zero, io.EOF
			}
			r.rows = r.groups[r.group].Rows()
		}

		n, err := r.rows.ReadRows(r.buf)
		if n > 0 {
			r.bufIdx, r.bufLen = 0, n
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return zero, fmt.Errorf("read parquet rows: %w", err)
		}
		r.closeRows()
		r.group++
		r.inGroup = 0
	}
}

func (r *Reader[T]) closeRows() {
	if r.rows != nil {
		r.rows.Close()
		r.rows = nil
	}
	r.bufIdx, r.bufLen = 0, 0
}

// Close releases the file.
func (r *Reader[T]) Close() error {
	return r.life.Close()
}

// Marks returns the reader itself.
func (r *Reader[T]) Marks() serde.Marks {
	return r
}

func (r *Reader[T]) Supported() bool { return true }

// LastMark is the number of row groups read completely.
func (r *Reader[T]) LastMark() int64 { return r.mark }

// MarkAtRecordStart is false: a mark is crossed after the last record of
// its group.
func (r *Reader[T]) MarkAtRecordStart() bool { return false }

// GotoMark positions the reader at the start of row group mark. NoMark is
// treated as 0 and len(groups) positions at the end.
func (r *Reader[T]) GotoMark(ctx context.Context, mark int64) error {
	if err := r.life.Open(ctx); err != nil {
		return err
	}
	if mark == serde.NoMark {
		mark = 0
	}
	if mark < 0 || mark > int64(len(r.groups)) {
		return fmt.Errorf("%w: row group %d of %s (has %d)", serde.ErrInvalidMark, mark, r.location, len(r.groups))
	}
	r.closeRows()
	r.group = int(mark)
	r.inGroup = 0
	r.mark = mark
	return nil
}

// RowGroups returns the number of non-empty row groups. The file must be
// open.
func (r *Reader[T]) RowGroups() int {
	return len(r.groups)
}
