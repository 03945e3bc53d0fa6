package compress

import (
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

var builtins = map[string]func() Codec{
	"gzip":    func() Codec { return Gzip{Level: gzip.DefaultCompression} },
	"gz":      func() Codec { return Gzip{Level: gzip.DefaultCompression} },
	"deflate": func() Codec { return Deflate{Level: zlib.DefaultCompression} },
	"default": func() Codec { return Deflate{Level: zlib.DefaultCompression} },
	"zlib":    func() Codec { return Deflate{Level: zlib.DefaultCompression} },
	"zstd":    func() Codec { return Zstd{Level: zstd.SpeedDefault} },
	"snappy":  func() Codec { return S2{SnappyCompat: true} },
	"s2":      func() Codec { return S2{} },
	"lz4":     func() Codec { return LZ4{} },
	"brotli":  func() Codec { return Brotli{Quality: brotli.DefaultCompression} },
}

// Gzip is the gzip codec.
type Gzip struct {
	Level int
}

func (Gzip) Name() string      { return "gzip" }
func (Gzip) Extension() string { return ".gz" }

func (c Gzip) NewWriter(w io.Writer) (io.WriteCloser, error) {
	zw, err := gzip.NewWriterLevel(w, c.Level)
	if err != nil {
		return nil, fmt.Errorf("create gzip writer: %w", err)
	}
	return zw, nil
}

func (Gzip) NewReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	return zr, nil
}

// Deflate is the zlib-framed deflate codec, Hadoop's default codec.
type Deflate struct {
	Level int
}

func (Deflate) Name() string      { return "deflate" }
func (Deflate) Extension() string { return ".deflate" }

func (c Deflate) NewWriter(w io.Writer) (io.WriteCloser, error) {
	zw, err := zlib.NewWriterLevel(w, c.Level)
	if err != nil {
		return nil, fmt.Errorf("create deflate writer: %w", err)
	}
	return zw, nil
}

func (Deflate) NewReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create deflate reader: %w", err)
	}
	return zr, nil
}

// Zstd is the zstandard codec.
type Zstd struct {
	Level zstd.EncoderLevel
}

func (Zstd) Name() string      { return "zstd" }
func (Zstd) Extension() string { return ".zst" }

func (c Zstd) NewWriter(w io.Writer) (io.WriteCloser, error) {
	level := c.Level
	if level == 0 {
		level = zstd.SpeedDefault
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return enc, nil
}

func (Zstd) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return dec.IOReadCloser(), nil
}

// S2 is the s2 codec. With SnappyCompat it writes snappy-framed streams and
// is registered as "snappy".
type S2 struct {
	SnappyCompat bool
}

func (c S2) Name() string {
	if c.SnappyCompat {
		return "snappy"
	}
	return "s2"
}

func (c S2) Extension() string {
	if c.SnappyCompat {
		return ".snappy"
	}
	return ".s2"
}

func (c S2) NewWriter(w io.Writer) (io.WriteCloser, error) {
	if c.SnappyCompat {
		return s2.NewWriter(w, s2.WriterSnappyCompat()), nil
	}
	return s2.NewWriter(w), nil
}

func (S2) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(s2.NewReader(r)), nil
}

// LZ4 is the lz4 frame codec.
type LZ4 struct{}

func (LZ4) Name() string      { return "lz4" }
func (LZ4) Extension() string { return ".lz4" }

func (LZ4) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}

func (LZ4) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

// Brotli is the brotli codec.
type Brotli struct {
	Quality int
}

func (Brotli) Name() string      { return "brotli" }
func (Brotli) Extension() string { return ".br" }

func (c Brotli) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return brotli.NewWriterLevel(w, c.Quality), nil
}

func (Brotli) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(brotli.NewReader(r)), nil
}
