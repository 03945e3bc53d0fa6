// Package container implements a record-oriented container format with sync
// markers, modeled on Hadoop sequence files.
//
// File layout:
//
//	header:  "BSEQ" | version u8 | flags u8 | metaLen u32 | meta
//	meta:    codec name | key codec name | value codec name | sync [16]
//	block:   0xFFFFFFFF | sync [16] | records u32 | payloadLen u32 | payload
//	payload: (uvarint keyLen | key | uvarint valueLen | value)*
//
// Names in meta are uvarint-length prefixed. When a compression codec is
// configured the payload of each block is compressed as one unit. The byte
// offset of a block escape is the mark of that block; a reader can jump to
// any mark and resume there.
//
// With Options.Index the writer appends a key index section after the last
// block, so Reader.Seek can position the reader at a keyed record.
package container

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/eunmann/batchio/pkg/compress"
	"github.com/eunmann/batchio/pkg/fsys"
	"github.com/eunmann/batchio/pkg/serde"
)

const (
	magic   = "BSEQ"
	version = 1

	flagCompressed = 1 << 0
	flagIndexed    = 1 << 1

	fixedHeaderLen = 10
	syncLen        = 16
	blockHeaderLen = 4 + syncLen + 4 + 4
	maxMetaLen     = 1 << 16

	blockEscape = 0xFFFFFFFF
	indexEscape = 0xFFFFFFFE

	// Extension is the default file extension.
	Extension = ".seq"
)

// Options configures the container format.
type Options struct {
	serde.Options
	// SyncInterval is the payload size in bytes at which a block is
	// written. Default: 2000.
	SyncInterval int
	// SyncRecords also ends a block after this many records. 0 disables it.
	SyncRecords int
	// BufferSize is the write buffer size. Default: 64KB.
	BufferSize int
	// Index appends a key index. Requires a keyed layout.
	Index bool
}

// DefaultOptions returns the default container options.
func DefaultOptions() Options {
	return Options{
		Options:      serde.DefaultOptions(),
		SyncInterval: 2000,
		BufferSize:   64 * 1024,
	}
}

// Validate fills zero values with defaults.
func (o *Options) Validate() {
	d := DefaultOptions()
	if o.SyncInterval <= 0 {
		o.SyncInterval = d.SyncInterval
	}
	if o.SyncRecords < 0 {
		o.SyncRecords = 0
	}
	if o.BufferSize <= 0 {
		o.BufferSize = d.BufferSize
	}
}

// WithSyncRecords returns a copy that ends blocks every n records.
func (o Options) WithSyncRecords(n int) Options {
	o.SyncRecords = n
	return o
}

// WithIndex returns a copy with the key index enabled or disabled.
func (o Options) WithIndex(index bool) Options {
	o.Index = index
	return o
}

// WithSyncInterval returns a copy that ends blocks at n payload bytes.
func (o Options) WithSyncInterval(n int) Options {
	o.SyncInterval = n
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

// Format is the serde.Format of the container.
type Format[T any] struct {
	layout Layout[T]
	opts   Options
}

// New creates a container format. Invalid layouts and unknown compression
// aliases are reported here rather than on first use.
func New[T any](layout Layout[T], opts Options) (*Format[T], error) {
	opts.Validate()
	if err := layout.validate(opts.Index); err != nil {
		return nil, err
	}
	if _, err := opts.Codec(); err != nil {
		return nil, fmt.Errorf("container format: %w", err)
	}
	return &Format[T]{layout: layout, opts: opts}, nil
}

func (f *Format[T]) Extension() string {
	return f.opts.ExtensionOr(Extension)
}

func (f *Format[T]) NewWriter(ctx context.Context, out fsys.OutputStream) (serde.Writer[T], error) {
	w, err := NewWriter(ctx, out, f.layout, f.opts)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (f *Format[T]) NewReader(ctx context.Context, loader fsys.Loader, location string) (serde.Reader[T], error) {
	r, err := NewReader(ctx, loader, serde.Location[T](f, location), f.layout, f.opts)
	if err != nil {
		return nil, err
	}
	return r, nil
}

type header struct {
	flags      byte
	codec      string
	keyCodec   string
	valueCodec string
	sync       [syncLen]byte
}

func (h header) encode() []byte {
	var meta []byte
	for _, s := range []string{h.codec, h.keyCodec, h.valueCodec} {
		meta = binary.AppendUvarint(meta, uint64(len(s)))
		meta = append(meta, s...)
	}
	meta = append(meta, h.sync[:]...)

	buf := make([]byte, fixedHeaderLen, fixedHeaderLen+len(meta))
	copy(buf, magic)
	buf[4] = version
	buf[5] = h.flags
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(meta)))
	return append(buf, meta...)
}

// readHeader reads the header and returns it with its encoded length.
func readHeader(r io.Reader) (header, int64, error) {
	var h header
	var fixed [fixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return h, 0, fmt.Errorf("%w: short header: %v", serde.ErrCorrupt, err)
	}
	if !bytes.Equal(fixed[:4], []byte(magic)) {
		return h, 0, fmt.Errorf("%w: got %q", serde.ErrMagicMismatch, fixed[:4])
	}
	if fixed[4] != version {
		return h, 0, fmt.Errorf("%w: got %d, want %d", serde.ErrVersionMismatch, fixed[4], version)
	}
	h.flags = fixed[5]

	metaLen := binary.BigEndian.Uint32(fixed[6:10])
	if metaLen < syncLen || metaLen > maxMetaLen {
		return h, 0, fmt.Errorf("%w: header meta length %d", serde.ErrCorrupt, metaLen)
	}
	meta := make([]byte, metaLen)
	if _, err := io.ReadFull(r, meta); err != nil {
		return h, 0, fmt.Errorf("%w: short header meta: %v", serde.ErrCorrupt, err)
	}

	names := meta[:len(meta)-syncLen]
	for _, dst := range []*string{&h.codec, &h.keyCodec, &h.valueCodec} {
		n, k := binary.Uvarint(names)
		if k <= 0 || uint64(len(names)-k) < n {
			return h, 0, fmt.Errorf("%w: bad header names", serde.ErrCorrupt)
		}
		*dst = string(names[k : k+int(n)])
		names = names[k+int(n):]
	}
	copy(h.sync[:], meta[len(meta)-syncLen:])
	return h, fixedHeaderLen + int64(metaLen), nil
}
