package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"

	"github.com/eunmann/batchio/pkg/fsys"
	"github.com/eunmann/batchio/pkg/serde"
	"github.com/eunmann/batchio/pkg/serde/codec"
	"github.com/eunmann/batchio/pkg/serde/container"
	"github.com/stretchr/testify/require"
)

// intFormat writes one block every 10 records.
func intFormat(t *testing.T) *container.Format[int] {
	t.Helper()
	f, err := container.New(container.ValueOnly[int](codec.JSON[int]{}), container.DefaultOptions().WithSyncRecords(10))
	require.NoError(t, err)
	return f
}

func stringFormat(t *testing.T) *container.Format[string] {
	t.Helper()
	f, err := container.New(container.ValueOnly[string](codec.String{}), container.DefaultOptions())
	require.NoError(t, err)
	return f
}

func seq(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

func writeItems[T any](t *testing.T, f serde.Format[T], location string, items []T) string {
	t.Helper()
	ctx := context.Background()
	w, path, err := serde.Create(ctx, f, fsys.NewLocal(), location)
	require.NoError(t, err)
	for _, item := range items {
		require.NoError(t, w.Write(ctx, item))
	}
	require.NoError(t, w.Close())
	return path
}

func readItems[T any](t *testing.T, f serde.Format[T], path string) []T {
	t.Helper()
	ctx := context.Background()
	r, err := f.NewReader(ctx, fsys.NewLocal(), path)
	require.NoError(t, err)
	defer r.Close()
	var out []T
	for {
		item, err := r.Read(ctx)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, item)
	}
}

func writeInts(t *testing.T, n int) (*container.Format[int], string) {
	t.Helper()
	f := intFormat(t)
	return f, writeItems[int](t, f, filepath.Join(t.TempDir(), "ints"), seq(0, n))
}

func newMarkReader[T any](t *testing.T, f serde.Format[T], path string, opts MarkReaderOptions) *MarkReader[T] {
	t.Helper()
	r, err := f.NewReader(context.Background(), fsys.NewLocal(), path)
	require.NoError(t, err)
	mr, err := NewMarkReader(r, opts)
	require.NoError(t, err)
	return mr
}

// readN reads n items, failing the test on any error.
func readN[T any](t *testing.T, r ItemReader[T], n int) []T {
	t.Helper()
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		item, err := r.Read(context.Background())
		require.NoError(t, err, "read %d", i)
		out = append(out, item)
	}
	return out
}

func readRest[T any](t *testing.T, r ItemReader[T]) []T {
	t.Helper()
	var out []T
	for {
		item, err := r.Read(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, item)
	}
}

// scriptedReader returns items with a preset mark after each read.
type scriptedReader struct {
	items   []int
	marks   []int64
	atStart bool
	pos     int
	last    int64
}

func newScriptedReader(marks []int64, atStart bool) *scriptedReader {
	return &scriptedReader{items: seq(0, len(marks)), marks: marks, atStart: atStart, last: serde.NoMark}
}

func (s *scriptedReader) Open(context.Context) error { return nil }
func (s *scriptedReader) Close() error               { return nil }
func (s *scriptedReader) Marks() serde.Marks         { return s }
func (s *scriptedReader) Supported() bool            { return true }
func (s *scriptedReader) LastMark() int64            { return s.last }
func (s *scriptedReader) MarkAtRecordStart() bool    { return s.atStart }

func (s *scriptedReader) Read(context.Context) (int, error) {
	if s.pos >= len(s.items) {
		return 0, io.EOF
	}
	item := s.items[s.pos]
	s.last = s.marks[s.pos]
	s.pos++
	return item, nil
}

func (s *scriptedReader) GotoMark(_ context.Context, mark int64) error {
	return fmt.Errorf("%w: scripted reader cannot seek to %d", serde.ErrInvalidMark, mark)
}
