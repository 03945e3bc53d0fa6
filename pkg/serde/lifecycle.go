package serde

import (
	"context"
	"io"

	"github.com/eunmann/batchio/pkg/fsys"
)

// OpenFunc acquires a native resource. The returned closer is released by
// Lifecycle.Close.
type OpenFunc func(ctx context.Context) (io.Closer, error)

// Lifecycle pairs exactly one open with exactly one close. Open is a no-op
// while open; Close is a no-op unless open. Once closed, Open returns
// ErrClosed since writers and readers are single-use.
//
// A writer hands its output stream to the lifecycle with Own. The stream
// belongs to the lifecycle until the open hook succeeds and to the returned
// handle afterwards. If the hook fails, or Close runs before any Open, the
// stream is aborted with fsys.Abort.
type Lifecycle struct {
	open   OpenFunc
	handle io.Closer
	owned  fsys.OutputStream
	closed bool
}

// NewLifecycle creates a lifecycle around open.
func NewLifecycle(open OpenFunc) *Lifecycle {
	return &Lifecycle{open: open}
}

// Own registers out as the stream released by the lifecycle until the open
// hook takes it over.
func (l *Lifecycle) Own(out fsys.OutputStream) *Lifecycle {
	l.owned = out
	return l
}

// Open runs the open hook once.
func (l *Lifecycle) Open(ctx context.Context) error {
	if l.handle != nil {
		return nil
	}
	if l.closed {
		return ErrClosed
	}
	h, err := l.open(ctx)
	if err != nil {
		l.release()
		return err
	}
	l.handle = h
	l.owned = nil
	return nil
}

// IsOpen reports whether the resource is held.
func (l *Lifecycle) IsOpen() bool {
	return l.handle != nil
}

// IsClosed reports whether Close has released the resource.
func (l *Lifecycle) IsClosed() bool {
	return l.closed
}

// Close releases the handle. The handle is dropped even if closing it fails.
func (l *Lifecycle) Close() error {
	if l.handle == nil {
		return l.release()
	}
	h := l.handle
	l.handle = nil
	l.closed = true
	return h.Close()
}

// release aborts a stream that was never taken over by the open hook.
func (l *Lifecycle) release() error {
	if l.owned == nil {
		return nil
	}
	out := l.owned
	l.owned = nil
	l.closed = true
	return fsys.Abort(out)
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

func (f CloserFunc) Close() error { return f() }
