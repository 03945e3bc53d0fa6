package serde

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/eunmann/batchio/pkg/fsys"
)

func TestNoMarks(t *testing.T) {
	m := NoMarks()
	if m.Supported() {
		t.Error("expected NoMarks to be unsupported")
	}
	if m.LastMark() != NoMark {
		t.Errorf("expected LastMark %d, got %d", NoMark, m.LastMark())
	}
	if err := m.GotoMark(context.Background(), NoMark); err != nil {
		t.Errorf("GotoMark(NoMark): %v", err)
	}
	if err := m.GotoMark(context.Background(), 42); !errors.Is(err, ErrInvalidMark) {
		t.Errorf("expected ErrInvalidMark, got %v", err)
	}
}

type countingCloser struct {
	closes int
}

func (c *countingCloser) Close() error {
	c.closes++
	return nil
}

func TestLifecycle_Idempotent(t *testing.T) {
	ctx := context.Background()
	handle := &countingCloser{}
	opens := 0
	l := NewLifecycle(func(context.Context) (io.Closer, error) {
		opens++
		return handle, nil
	})

	if err := l.Close(); err != nil {
		t.Fatalf("close before open: %v", err)
	}
	if handle.closes != 0 {
		t.Errorf("expected no close before open, got %d", handle.closes)
	}

	for i := 0; i < 2; i++ {
		if err := l.Open(ctx); err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
	}
	if opens != 1 {
		t.Errorf("expected 1 open, got %d", opens)
	}
	if !l.IsOpen() {
		t.Error("expected lifecycle to be open")
	}

	for i := 0; i < 2; i++ {
		if err := l.Close(); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}
	if handle.closes != 1 {
		t.Errorf("expected 1 close, got %d", handle.closes)
	}
	if err := l.Open(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed on reopen, got %v", err)
	}
}

func TestLifecycle_OpenErrorKeepsClosed(t *testing.T) {
	boom := errors.New("boom")
	l := NewLifecycle(func(context.Context) (io.Closer, error) {
		return nil, boom
	})
	if err := l.Open(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if l.IsOpen() {
		t.Error("expected lifecycle to stay closed")
	}
	if err := l.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

// ownedStream is an output stream that counts commits and aborts.
type ownedStream struct {
	closes, aborts int
}

func (s *ownedStream) Write(p []byte) (int, error) { return len(p), nil }
func (s *ownedStream) Close() error                { s.closes++; return nil }
func (s *ownedStream) Abort() error                { s.aborts++; return nil }

func TestLifecycle_OwnedStream(t *testing.T) {
	ctx := context.Background()

	t.Run("close before open aborts", func(t *testing.T) {
		out := &ownedStream{}
		l := NewLifecycle(func(context.Context) (io.Closer, error) {
			t.Fatal("open hook must not run")
			return nil, nil
		}).Own(out)
		for i := 0; i < 2; i++ {
			if err := l.Close(); err != nil {
				t.Fatalf("close %d: %v", i, err)
			}
		}
		if out.aborts != 1 || out.closes != 0 {
			t.Errorf("expected 1 abort and no close, got %d aborts, %d closes", out.aborts, out.closes)
		}
		if err := l.Open(ctx); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed after release, got %v", err)
		}
	})

	t.Run("failed open aborts", func(t *testing.T) {
		out := &ownedStream{}
		boom := errors.New("boom")
		l := NewLifecycle(func(context.Context) (io.Closer, error) {
			return nil, boom
		}).Own(out)
		if err := l.Open(ctx); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		if err := l.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		if out.aborts != 1 || out.closes != 0 {
			t.Errorf("expected 1 abort and no close, got %d aborts, %d closes", out.aborts, out.closes)
		}
	})

	t.Run("opened stream belongs to the handle", func(t *testing.T) {
		out := &ownedStream{}
		l := NewLifecycle(func(context.Context) (io.Closer, error) {
			return out, nil
		}).Own(out)
		if err := l.Open(ctx); err != nil {
			t.Fatalf("open: %v", err)
		}
		if err := l.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		if out.closes != 1 || out.aborts != 0 {
			t.Errorf("expected 1 close and no abort, got %d closes, %d aborts", out.closes, out.aborts)
		}
	})
}

func TestOpenError(t *testing.T) {
	err := error(&OpenError{Location: "/data/x.seq", Err: fsys.ErrNotExist})
	if !errors.Is(err, fsys.ErrNotExist) {
		t.Error("expected OpenError to unwrap to ErrNotExist")
	}
	var oe *OpenError
	if !errors.As(err, &oe) || oe.Location != "/data/x.seq" {
		t.Errorf("expected OpenError with location, got %v", err)
	}
}

func TestOptions(t *testing.T) {
	opts := DefaultOptions()
	if !opts.LazyReader || !opts.LazyWriter {
		t.Error("expected lazy defaults")
	}
	if got := opts.ExtensionOr("seq"); got != ".seq" {
		t.Errorf("expected .seq, got %q", got)
	}
	if got := opts.WithExtension("dat").ExtensionOr(".seq"); got != ".dat" {
		t.Errorf("expected .dat, got %q", got)
	}
	c, err := opts.Codec()
	if err != nil || c != nil {
		t.Errorf("expected no codec, got %v (%v)", c, err)
	}
	if _, err := opts.WithCompression("nope").Codec(); err == nil {
		t.Error("expected error for unknown codec")
	}
}

// lineFormat writes strings one per line; it exists to exercise Create.
type lineFormat struct{}

func (lineFormat) Extension() string { return ".txt" }

func (lineFormat) NewWriter(_ context.Context, out fsys.OutputStream) (Writer[string], error) {
	return &lineWriter{out: out}, nil
}

func (lineFormat) NewReader(context.Context, fsys.Loader, string) (Reader[string], error) {
	return nil, errors.New("not implemented")
}

type lineWriter struct {
	out fsys.OutputStream
}

func (w *lineWriter) Open(context.Context) error { return nil }

func (w *lineWriter) Write(_ context.Context, s string) error {
	_, err := io.WriteString(w.out, s+"\n")
	return err
}

func (w *lineWriter) Close() error { return w.out.Close() }

func TestCreate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	w, path, err := Create[string](ctx, lineFormat{}, fsys.NewLocal(), filepath.Join(dir, "out", "part"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if want := filepath.Join(dir, "out", "part.txt"); path != want {
		t.Errorf("expected path %s, got %s", want, path)
	}
	if err := w.Write(ctx, "a"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "a\n" {
		t.Errorf("expected %q, got %q", "a\n", data)
	}

	if got := Location[string](lineFormat{}, path); got != path {
		t.Errorf("expected extension to be appended once, got %s", got)
	}
	if got := Location[string](lineFormat{}, filepath.Join(dir, "PART.TXT")); got != filepath.Join(dir, "PART.TXT") {
		t.Errorf("expected case-insensitive match, got %s", got)
	}
}
