package container

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/eunmann/batchio/internal/logctx"
	"github.com/eunmann/batchio/pkg/compress"
	"github.com/eunmann/batchio/pkg/fsys"
	"github.com/eunmann/batchio/pkg/serde"
	"github.com/rs/zerolog"
)

// Writer writes items into container blocks. It needs an fsys.SyncWriter
// and fails on Open otherwise.
type Writer[T any] struct {
	life   *serde.Lifecycle
	out    fsys.OutputStream
	sw     fsys.SyncWriter
	layout Layout[T]
	opts   Options
	codec  compress.Codec
	log    zerolog.Logger

	bw      *bufio.Writer
	sync    [syncLen]byte
	offset  int64
	block   bytes.Buffer
	cbuf    bytes.Buffer
	scratch []byte
	records int
	blocks  int
	total   int64
	index   *indexBuilder
}

// NewWriter creates a writer over out. Unless opts.LazyWriter is set the
// header is written immediately.
func NewWriter[T any](ctx context.Context, out fsys.OutputStream, layout Layout[T], opts Options) (*Writer[T], error) {
	opts.Validate()
	if err := layout.validate(opts.Index); err != nil {
		return nil, err
	}
	codec, err := opts.Codec()
	if err != nil {
		return nil, fmt.Errorf("container writer: %w", err)
	}

	w := &Writer[T]{
		out:    out,
		layout: layout,
		opts:   opts,
		codec:  codec,
	}
	w.life = serde.NewLifecycle(w.open).Own(out)
	if !opts.LazyWriter {
		if err := w.Open(ctx); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Open writes the file header.
func (w *Writer[T]) Open(ctx context.Context) error {
	return w.life.Open(ctx)
}

func (w *Writer[T]) open(ctx context.Context) (io.Closer, error) {
	sw, ok := w.out.(fsys.SyncWriter)
	if !ok {
		return nil, fmt.Errorf("%w: container format needs a syncable stream, got %T", serde.ErrNotSyncable, w.out)
	}
	w.sw = sw
	w.log = logctx.FromContext(ctx)

	if _, err := rand.Read(w.sync[:]); err != nil {
		return nil, fmt.Errorf("generate sync marker: %w", err)
	}

	h := header{
		keyCodec:   w.layout.KeyCodec,
		valueCodec: w.layout.ValueCodec,
		sync:       w.sync,
	}
	if w.codec != nil {
		h.flags |= flagCompressed
		h.codec = w.codec.Name()
	}
	if w.opts.Index {
		h.flags |= flagIndexed
		w.index = newIndexBuilder()
	}

	w.bw = bufio.NewWriterSize(sw, w.opts.BufferSize)
	hdr := h.encode()
	if _, err := w.bw.Write(hdr); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	w.offset = int64(len(hdr))

	w.log.Debug().
		Str("codec", h.codec).
		Str("value_codec", h.valueCodec).
		Bool("index", w.opts.Index).
		Msg("container writer opened")
	return serde.CloserFunc(w.finish), nil
}

// Write appends item to the current block, writing the block out once it
// reaches the sync interval.
func (w *Writer[T]) Write(ctx context.Context, item T) error {
	if err := w.life.Open(ctx); err != nil {
		return err
	}

	var key []byte
	if w.layout.KeyOf != nil {
		k, err := w.layout.KeyOf(item)
		if err != nil {
			return fmt.Errorf("encode key: %w", err)
		}
		key = k
	}
	value, err := w.layout.ValueOf(item)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}

	if w.index != nil {
		w.index.add(key, w.offset, uint32(w.records))
	}
	w.appendField(key)
	w.appendField(value)
	w.records++
	w.total++

	if w.block.Len() >= w.opts.SyncInterval || (w.opts.SyncRecords > 0 && w.records >= w.opts.SyncRecords) {
		return w.flushBlock()
	}
	return nil
}

func (w *Writer[T]) appendField(b []byte) {
	w.scratch = binary.AppendUvarint(w.scratch[:0], uint64(len(b)))
	w.block.Write(w.scratch)
	w.block.Write(b)
}

// Sync writes the pending block and syncs the stream.
func (w *Writer[T]) Sync() error {
	if !w.life.IsOpen() {
		return nil
	}
	if err := w.flushBlock(); err != nil {
		return err
	}
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return w.sw.Sync()
}

// Close writes the pending block and the index, then flushes, syncs and
// closes the stream, in that order.
func (w *Writer[T]) Close() error {
	return w.life.Close()
}

func (w *Writer[T]) finish() error {
	err := w.flushBlock()
	if err == nil && w.index != nil {
		err = w.writeIndex()
	}
	if err == nil {
		err = w.bw.Flush()
	}
	if err == nil {
		err = w.sw.Sync()
	}
	if cerr := w.sw.Close(); err == nil {
		err = cerr
	}

	w.log.Debug().
		Int64("records", w.total).
		Int("blocks", w.blocks).
		Int64("bytes", w.offset).
		Msg("container writer closed")
	w.block.Reset()
	w.cbuf.Reset()
	w.index = nil
	return err
}

func (w *Writer[T]) flushBlock() error {
	if w.records == 0 {
		return nil
	}

	payload := w.block.Bytes()
	if w.codec != nil {
		w.cbuf.Reset()
		cw, err := w.codec.NewWriter(&w.cbuf)
		if err != nil {
			return fmt.Errorf("create %s writer: %w", w.codec.Name(), err)
		}
		if _, err := cw.Write(payload); err != nil {
			cw.Close()
			return fmt.Errorf("compress block: %w", err)
		}
		if err := cw.Close(); err != nil {
			return fmt.Errorf("compress block: %w", err)
		}
		payload = w.cbuf.Bytes()
	}

	var hdr [blockHeaderLen]byte
	binary.BigEndian.PutUint32(hdr[0:4], blockEscape)
	copy(hdr[4:4+syncLen], w.sync[:])
	binary.BigEndian.PutUint32(hdr[20:24], uint32(w.records))
	binary.BigEndian.PutUint32(hdr[24:28], uint32(len(payload)))

	if _, err := w.bw.Write(hdr[:]); err != nil {
		return fmt.Errorf("write block header: %w", err)
	}
	if _, err := w.bw.Write(payload); err != nil {
		return fmt.Errorf("write block: %w", err)
	}

	w.offset += blockHeaderLen + int64(len(payload))
	w.blocks++
	w.records = 0
	w.block.Reset()
	return nil
}

func (w *Writer[T]) writeIndex() error {
	section, err := w.index.encode(w.sync)
	if err != nil {
		return err
	}
	var trailer [indexTrailerLen]byte
	binary.BigEndian.PutUint64(trailer[0:8], uint64(w.offset))
	copy(trailer[8:], indexMagic)

	if _, err := w.bw.Write(section); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if _, err := w.bw.Write(trailer[:]); err != nil {
		return fmt.Errorf("write index trailer: %w", err)
	}
	w.offset += int64(len(section)) + indexTrailerLen
	return nil
}
