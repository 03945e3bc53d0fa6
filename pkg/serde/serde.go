// Package serde defines pluggable serialization formats for batch readers
// and writers.
//
// A Format is a stateless strategy that produces a Writer bound to an output
// stream and a Reader bound to a named location. Writers and readers are
// single-use and not safe for concurrent use: they open lazily on the first
// Write or Read, and Close is idempotent. A Read returning io.EOF closes the
// reader.
//
// Readers expose their synchronization marks through Marks. Formats without
// real marks return NoMarks(), whose only valid position is NoMark.
package serde

import (
	"context"
	"fmt"

	"github.com/eunmann/batchio/internal/logctx"
	"github.com/eunmann/batchio/pkg/fsys"
)

// Writer writes items to a single destination.
type Writer[T any] interface {
	// Open acquires the native resource. It is a no-op when already open.
	Open(ctx context.Context) error
	// Write writes one item, opening the writer first if needed.
	Write(ctx context.Context, item T) error
	// Close flushes and releases the resource. Closing twice is a no-op.
	Close() error
}

// Reader reads items from a single location.
type Reader[T any] interface {
	// Open acquires the native resource. It is a no-op when already open.
	Open(ctx context.Context) error
	// Read returns the next item, or io.EOF at the end of the data. The
	// reader is closed once io.EOF has been returned.
	Read(ctx context.Context) (T, error)
	// Close releases the resource. Closing twice is a no-op.
	Close() error
	// Marks returns the mark capability of the reader. It is fixed when the
	// reader is constructed.
	Marks() Marks
}

// Format creates writers and readers for one serialization format.
type Format[T any] interface {
	// Extension is the file extension of the format, including the dot.
	// It may be empty.
	Extension() string
	NewWriter(ctx context.Context, out fsys.OutputStream) (Writer[T], error)
	// NewReader canonicalizes location with Extension before opening it.
	NewReader(ctx context.Context, loader fsys.Loader, location string) (Reader[T], error)
}

// Location returns location with the format extension appended once.
func Location[T any](f Format[T], location string) string {
	return fsys.AppendExtension(location, f.Extension())
}

// Create canonicalizes location, creates the resource and returns a writer
// bound to it along with the final path. The output stream is owned by the
// writer; if the format rejects the stream it is aborted here.
func Create[T any](ctx context.Context, f Format[T], loader fsys.Loader, location string) (Writer[T], string, error) {
	path := Location(f, location)
	res, err := loader.Resource(path)
	if err != nil {
		return nil, "", &OpenError{Location: path, Err: err}
	}
	out, err := res.Create(ctx)
	if err != nil {
		return nil, "", &OpenError{Location: path, Err: err}
	}

	w, err := f.NewWriter(ctx, out)
	if err != nil {
		fsys.Abort(out)
		return nil, "", fmt.Errorf("new writer for %s: %w", path, err)
	}

	log := logctx.FromContext(ctx)
	log.Debug().Str("path", path).Msg("created destination")
	return w, path, nil
}
