package container

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/eunmann/batchio/internal/logctx"
	"github.com/eunmann/batchio/pkg/compress"
	"github.com/eunmann/batchio/pkg/fsys"
	"github.com/eunmann/batchio/pkg/serde"
)

// Reader reads items from a container file. It implements serde.Marks: the
// mark of a record is the offset of the block holding it, and a mark always
// sits before the records of its block.
type Reader[T any] struct {
	life     *serde.Lifecycle
	loader   fsys.Loader
	location string
	layout   Layout[T]
	opts     Options

	in        fsys.InputStream
	hdr       header
	codec     compress.Codec
	dataStart int64
	size      int64
	index     *keyIndex

	pos       int64 // offset of the next block
	blockMark int64
	lastMark  int64
	rest      []byte
	remaining uint32
	done      bool

	raw     []byte
	inflate bytes.Buffer
	bh      [blockHeaderLen]byte
}

// NewReader creates a reader of location. Unless opts.LazyReader is set the
// location is opened immediately.
func NewReader[T any](ctx context.Context, loader fsys.Loader, location string, layout Layout[T], opts Options) (*Reader[T], error) {
	opts.Validate()
	if err := layout.validate(false); err != nil {
		return nil, err
	}

	r := &Reader[T]{
		loader:   loader,
		location: location,
		layout:   layout,
		opts:     opts,
		lastMark: serde.NoMark,
	}
	r.life = serde.NewLifecycle(r.open)
	if !opts.LazyReader {
		if err := r.Open(ctx); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Open opens the location and reads the header.
func (r *Reader[T]) Open(ctx context.Context) error {
	return r.life.Open(ctx)
}

func (r *Reader[T]) open(ctx context.Context) (io.Closer, error) {
	res, err := r.loader.Resource(r.location)
	if err != nil {
		return nil, &serde.OpenError{Location: r.location, Err: err}
	}
	in, err := res.Open(ctx)
	if err != nil {
		return nil, &serde.OpenError{Location: r.location, Err: err}
	}

	h, n, err := readHeader(in)
	if err == nil && h.valueCodec != r.layout.ValueCodec {
		err = fmt.Errorf("%w: value codec %q, reader expects %q", serde.ErrCorrupt, h.valueCodec, r.layout.ValueCodec)
	}
	var codec compress.Codec
	if err == nil && h.flags&flagCompressed != 0 {
		codec, err = compress.Resolve(h.codec, r.opts.Env)
	}
	var size int64
	if err == nil {
		size, err = streamSize(in, n)
	}
	if err != nil {
		in.Close()
		return nil, &serde.OpenError{Location: r.location, Err: err}
	}

	r.in = in
	r.size = size
	r.hdr = h
	r.codec = codec
	r.dataStart = n
	r.pos = n

	log := logctx.FromContext(ctx)
	log.Debug().
		Str("path", r.location).
		Str("codec", h.codec).
		Str("value_codec", h.valueCodec).
		Msg("container reader opened")
	return in, nil
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

	for r.remaining == 0 {
		if err := r.nextBlock(); err != nil {
			if errors.Is(err, io.EOF) {
				r.done = true
				if cerr := r.Close(); cerr != nil {
					return zero, cerr
				}
				return zero, io.EOF
			}
			return zero, err
		}
	}

	key, value, err := r.nextRecord()
	if err != nil {
		return zero, err
	}
	item, err := r.layout.Decode(key, value)
	if err != nil {
		return zero, fmt.Errorf("decode record in block %d: %w", r.blockMark, err)
	}
	r.lastMark = r.blockMark
	return item, nil
}

// Close releases the input stream.
func (r *Reader[T]) Close() error {
	err := r.life.Close()
	r.in = nil
	r.rest = nil
	r.remaining = 0
	return err
}

// Marks returns the reader itself.
func (r *Reader[T]) Marks() serde.Marks {
	return r
}

func (r *Reader[T]) Supported() bool { return true }

// LastMark is the offset of the block of the last record read, or NoMark
// before the first read.
func (r *Reader[T]) LastMark() int64 { return r.lastMark }

func (r *Reader[T]) MarkAtRecordStart() bool { return true }

// GotoMark positions the reader at the block starting at mark. NoMark
// rewinds to the first block.
func (r *Reader[T]) GotoMark(ctx context.Context, mark int64) error {
	if err := r.life.Open(ctx); err != nil {
		return err
	}

	target := mark
	if mark == serde.NoMark {
		target = r.dataStart
	} else {
		if mark < r.dataStart {
			return fmt.Errorf("%w: offset %d is inside the header of %s", serde.ErrInvalidMark, mark, r.location)
		}
		var probe [4 + syncLen]byte
		if _, err := r.in.ReadAt(probe[:], mark); err != nil {
			return fmt.Errorf("%w: offset %d of %s: %v", serde.ErrInvalidMark, mark, r.location, err)
		}
		if binary.BigEndian.Uint32(probe[0:4]) != blockEscape || !bytes.Equal(probe[4:], r.hdr.sync[:]) {
			return fmt.Errorf("%w: no sync marker at offset %d of %s", serde.ErrInvalidMark, mark, r.location)
		}
	}

	if _, err := r.in.Seek(target, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s to %d: %w", r.location, target, err)
	}
	r.pos = target
	r.rest = nil
	r.remaining = 0
	r.lastMark = mark
	return nil
}

// Seek positions the reader so the next Read returns the first record
// stored under key. The file must have been written with Options.Index.
func (r *Reader[T]) Seek(ctx context.Context, key []byte) error {
	if err := r.life.Open(ctx); err != nil {
		return err
	}
	if err := r.loadIndex(); err != nil {
		return err
	}

	mark, ordinal, ok := r.index.lookup(key)
	if !ok {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	if err := r.GotoMark(ctx, mark); err != nil {
		return err
	}
	if err := r.nextBlock(); err != nil {
		return fmt.Errorf("%w: index points past the data", serde.ErrCorrupt)
	}
	for i := uint32(0); i < ordinal; i++ {
		if _, _, err := r.nextRecord(); err != nil {
			return err
		}
	}

	rest, remaining := r.rest, r.remaining
	stored, _, err := r.nextRecord()
	if err != nil {
		return err
	}
	if !bytes.Equal(stored, key) {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	r.rest, r.remaining = rest, remaining
	r.lastMark = r.blockMark
	return nil
}

func (r *Reader[T]) loadIndex() error {
	if r.index != nil {
		return nil
	}
	if r.hdr.flags&flagIndexed == 0 {
		return ErrNoIndex
	}

	size := r.size
	var trailer [indexTrailerLen]byte
	if size < r.dataStart+indexTrailerLen {
		return fmt.Errorf("%w: missing key index trailer", serde.ErrCorrupt)
	}
	if _, err := r.in.ReadAt(trailer[:], size-indexTrailerLen); err != nil {
		return fmt.Errorf("read key index trailer: %w", err)
	}
	if string(trailer[8:]) != indexMagic {
		return fmt.Errorf("%w: missing key index trailer", serde.ErrCorrupt)
	}
	off := int64(binary.BigEndian.Uint64(trailer[0:8]))
	if off < r.dataStart || off > size-indexTrailerLen {
		return fmt.Errorf("%w: key index offset %d", serde.ErrCorrupt, off)
	}

	section := make([]byte, size-indexTrailerLen-off)
	if _, err := r.in.ReadAt(section, off); err != nil {
		return fmt.Errorf("read key index: %w", err)
	}
	idx, err := decodeKeyIndex(section, r.hdr.sync)
	if err != nil {
		return err
	}
	r.index = idx
	return nil
}

// nextBlock loads the block at r.pos. It returns io.EOF at the end of the
// data, including when the index section is reached.
func (r *Reader[T]) nextBlock() error {
	if _, err := io.ReadFull(r.in, r.bh[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("%w: truncated block header at offset %d: %v", serde.ErrCorrupt, r.pos, err)
	}

	escape := binary.BigEndian.Uint32(r.bh[0:4])
	if escape == indexEscape {
		return io.EOF
	}
	if escape != blockEscape || !bytes.Equal(r.bh[4:4+syncLen], r.hdr.sync[:]) {
		return fmt.Errorf("%w: sync marker mismatch at offset %d", serde.ErrCorrupt, r.pos)
	}
	records := binary.BigEndian.Uint32(r.bh[20:24])
	length := int64(binary.BigEndian.Uint32(r.bh[24:28]))
	if length > r.size-r.pos-blockHeaderLen {
		return fmt.Errorf("%w: block at offset %d claims %d bytes past the end of the data", serde.ErrCorrupt, r.pos, length)
	}
	size := int(length)

	if cap(r.raw) < size {
		r.raw = make([]byte, size)
	}
	r.raw = r.raw[:size]
	if _, err := io.ReadFull(r.in, r.raw); err != nil {
		return fmt.Errorf("%w: truncated block at offset %d: %v", serde.ErrCorrupt, r.pos, err)
	}

	payload := r.raw
	if r.codec != nil {
		cr, err := r.codec.NewReader(bytes.NewReader(r.raw))
		if err != nil {
			return fmt.Errorf("%w: block at offset %d: %v", serde.ErrCorrupt, r.pos, err)
		}
		r.inflate.Reset()
		_, err = r.inflate.ReadFrom(cr)
		cr.Close()
		if err != nil {
			return fmt.Errorf("%w: decompress block at offset %d: %v", serde.ErrCorrupt, r.pos, err)
		}
		payload = r.inflate.Bytes()
	}

	r.blockMark = r.pos
	r.pos += blockHeaderLen + int64(size)
	r.rest = payload
	r.remaining = records
	return nil
}

// streamSize returns the size of in and leaves it positioned at pos.
func streamSize(in fsys.InputStream, pos int64) (int64, error) {
	size, err := in.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("seek to end: %w", err)
	}
	if _, err := in.Seek(pos, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek to %d: %w", pos, err)
	}
	return size, nil
}

func (r *Reader[T]) nextRecord() (key, value []byte, err error) {
	if key, err = r.field(); err != nil {
		return nil, nil, err
	}
	if value, err = r.field(); err != nil {
		return nil, nil, err
	}
	r.remaining--
	return key, value, nil
}

func (r *Reader[T]) field() ([]byte, error) {
	n, k := binary.Uvarint(r.rest)
	if k <= 0 || uint64(len(r.rest)-k) < n {
		return nil, fmt.Errorf("%w: bad record in block at offset %d", serde.ErrCorrupt, r.blockMark)
	}
	b := r.rest[k : k+int(n)]
	r.rest = r.rest[k+int(n):]
	return b, nil
}
