package columnar

import (
	"context"
	"fmt"
	"io"

	"github.com/eunmann/batchio/internal/logctx"
	"github.com/eunmann/batchio/pkg/fsys"
	"github.com/eunmann/batchio/pkg/serde"
	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"
)

// Writer writes items as parquet rows.
type Writer[T any] struct {
	life   *serde.Lifecycle
	out    fsys.OutputStream
	schema Schema
	mapper Mapper[T]
	opts   Options
	log    zerolog.Logger

	pw      *parquet.Writer
	cols    []column
	row     parquet.Row
	pending int
	groups  int
	total   int64
}

// NewWriter creates a writer over out.
func NewWriter[T any](ctx context.Context, out fsys.OutputStream, schema Schema, mapper Mapper[T], opts Options) (*Writer[T], error) {
	opts.Validate()
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	w := &Writer[T]{out: out, schema: schema, mapper: mapper, opts: opts}
	w.life = serde.NewLifecycle(w.open).Own(out)
	if !opts.LazyWriter {
		if err := w.Open(ctx); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Open creates the parquet writer.
func (w *Writer[T]) Open(ctx context.Context) error {
	return w.life.Open(ctx)
}

func (w *Writer[T]) open(ctx context.Context) (io.Closer, error) {
	codecOpts, err := compressionOptions(w.opts.Compression)
	if err != nil {
		return nil, err
	}
	ps := w.schema.parquetSchema()
	cols, err := w.schema.columns(ps)
	if err != nil {
		return nil, err
	}

	opts := append([]parquet.WriterOption{ps}, codecOpts...)
	w.pw = parquet.NewWriter(w.out, opts...)
	w.cols = cols
	w.log = logctx.FromContext(ctx)
	w.log.Debug().
		Str("schema", w.schema.Name).
		Str("compression", w.opts.Compression).
		Int("row_group_rows", w.opts.RowGroupRows).
		Msg("columnar writer opened")
	return serde.CloserFunc(w.finish), nil
}

// Write appends one row, closing the row group when it is full.
func (w *Writer[T]) Write(ctx context.Context, item T) error {
	if err := w.life.Open(ctx); err != nil {
		return err
	}
	rec, err := w.mapper.ToRecord(item)
	if err != nil {
		return fmt.Errorf("map item: %w", err)
	}
	w.row, err = encodeRow(w.row[:0], w.cols, rec)
	if err != nil {
		return fmt.Errorf("schema %s: %w", w.schema.Name, err)
	}
	if _, err := w.pw.WriteRows([]parquet.Row{w.row}); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	w.pending++
	w.total++

	if w.pending >= w.opts.RowGroupRows {
		return w.flushGroup()
	}
	return nil
}

func (w *Writer[T]) flushGroup() error {
	if w.pending == 0 {
		return nil
	}
	if err := w.pw.Flush(); err != nil {
		return fmt.Errorf("flush row group: %w", err)
	}
	w.pending = 0
	w.groups++
	return nil
}

// Close writes the last row group and the footer before closing the stream.
func (w *Writer[T]) Close() error {
	return w.life.Close()
}

func (w *Writer[T]) finish() error {
	err := w.flushGroup()
	if cerr := w.pw.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close parquet writer: %w", cerr)
	}
	if sw, ok := w.out.(fsys.SyncWriter); ok && err == nil {
		err = sw.Sync()
	}
	if cerr := w.out.Close(); err == nil {
		err = cerr
	}
	w.log.Debug().
		Int64("rows", w.total).
		Int("row_groups", w.groups).
		Msg("columnar writer closed")
	w.pw = nil
	return err
}
