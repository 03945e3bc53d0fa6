package container

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/eunmann/batchio/pkg/compress"
	"github.com/eunmann/batchio/pkg/fsys"
	"github.com/eunmann/batchio/pkg/serde"
	"github.com/eunmann/batchio/pkg/serde/codec"
)

type line struct {
	SKU  string
	Qty  int
	Tags []string
}

type order struct {
	ID       int
	Customer string
	Lines    []line
}

func makeOrder(i int) order {
	o := order{ID: i, Customer: fmt.Sprintf("customer-%d", i%17)}
	for j := 0; j < i%4; j++ {
		o.Lines = append(o.Lines, line{
			SKU:  fmt.Sprintf("sku-%d-%d", i, j),
			Qty:  j + 1,
			Tags: []string{"t" + fmt.Sprint(j), "x"},
		})
	}
	return o
}

func orderKey(o order) string {
	return fmt.Sprintf("order-%d", o.ID)
}

func writeAll[T any](t *testing.T, f serde.Format[T], path string, items []T) string {
	t.Helper()
	ctx := context.Background()
	w, p, err := serde.Create(ctx, f, fsys.NewLocal(), path)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	for i, item := range items {
		if err := w.Write(ctx, item); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return p
}

func readAll[T any](t *testing.T, r serde.Reader[T]) []T {
	t.Helper()
	var out []T
	for {
		item, err := r.Read(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("read %d: %v", len(out), err)
		}
		out = append(out, item)
	}
}

func TestRoundTrip_DeflateNestedLists(t *testing.T) {
	ctx := context.Background()
	f, err := New(ValueOnly[order](codec.Gob[order]{}), DefaultOptions().WithCompression("deflate"))
	if err != nil {
		t.Fatalf("new format: %v", err)
	}

	want := make([]order, 5000)
	for i := range want {
		want[i] = makeOrder(i)
	}
	base := filepath.Join(t.TempDir(), "orders")
	path := writeAll[order](t, f, base, want)

	if path != base+".seq" {
		t.Errorf("expected path %s.seq, got %s", base, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected destination to exist: %v", err)
	}

	r, err := f.NewReader(ctx, fsys.NewLocal(), base)
	if err != nil {
		t.Fatalf("create reader: %v", err)
	}
	got := readAll(t, r)
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	if !reflect.DeepEqual(got, want) {
		t.Error("records read back differ from records written")
	}
}

func TestRoundTrip_Compression(t *testing.T) {
	ctx := context.Background()
	aliases := append([]string{""}, compress.Names()...)
	want := make([]string, 300)
	for i := range want {
		want[i] = strings.Repeat(fmt.Sprint(i), i%9+1)
	}

	for _, alias := range aliases {
		t.Run("codec="+alias, func(t *testing.T) {
			f, err := New(ValueOnly[string](codec.String{}), DefaultOptions().WithCompression(alias))
			if err != nil {
				t.Fatalf("new format: %v", err)
			}
			path := writeAll[string](t, f, filepath.Join(t.TempDir(), "s"), want)
			r, err := f.NewReader(ctx, fsys.NewLocal(), path)
			if err != nil {
				t.Fatalf("create reader: %v", err)
			}
			if got := readAll(t, r); !reflect.DeepEqual(got, want) {
				t.Errorf("expected %d strings back unchanged, got %d", len(want), len(got))
			}
		})
	}
}

func TestRoundTrip_KeyValue(t *testing.T) {
	ctx := context.Background()
	f, err := New(KeyValue[string, int64](codec.String{}, codec.JSON[int64]{}), DefaultOptions())
	if err != nil {
		t.Fatalf("new format: %v", err)
	}
	want := []Pair[string, int64]{{"a", 1}, {"b", -2}, {"", 3}}
	path := writeAll[Pair[string, int64]](t, f, filepath.Join(t.TempDir(), "kv"), want)

	r, err := f.NewReader(ctx, fsys.NewLocal(), path)
	if err != nil {
		t.Fatalf("create reader: %v", err)
	}
	if got := readAll(t, r); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(Layout[int]{}, DefaultOptions()); err == nil {
		t.Error("expected error for empty layout")
	}
	if _, err := New(ValueOnly[int](codec.JSON[int]{}), DefaultOptions().WithIndex(true)); err == nil {
		t.Error("expected error for index without keys")
	}
	if _, err := New(ValueOnly[int](codec.JSON[int]{}), DefaultOptions().WithCompression("rar")); !errors.Is(err, compress.ErrUnknownCodec) {
		t.Errorf("expected ErrUnknownCodec, got %v", err)
	}
}

// plainStream cannot sync. It records whether it was committed or aborted.
type plainStream struct {
	bytes.Buffer
	closes, aborts int
}

func (s *plainStream) Close() error { s.closes++; return nil }
func (s *plainStream) Abort() error { s.aborts++; return nil }

func TestWriter_RequiresSyncWriter(t *testing.T) {
	ctx := context.Background()
	layout := ValueOnly[string](codec.String{})

	lazy := &plainStream{}
	w, err := NewWriter(ctx, lazy, layout, DefaultOptions())
	if err != nil {
		t.Fatalf("lazy writer should not open: %v", err)
	}
	err = w.Write(ctx, "x")
	if !errors.Is(err, serde.ErrNotSyncable) {
		t.Fatalf("expected ErrNotSyncable, got %v", err)
	}
	if !strings.Contains(err.Error(), "plainStream") {
		t.Errorf("expected error to name the stream type, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("close after failed open: %v", err)
	}
	if lazy.aborts != 1 || lazy.closes != 0 {
		t.Errorf("expected the stream aborted once and never committed, got %d aborts, %d closes", lazy.aborts, lazy.closes)
	}

	eager := &plainStream{}
	if _, err := NewWriter(ctx, eager, layout, DefaultOptions().WithLazyWriter(false)); !errors.Is(err, serde.ErrNotSyncable) {
		t.Errorf("expected eager open to fail with ErrNotSyncable, got %v", err)
	}
	if eager.aborts != 1 || eager.closes != 0 {
		t.Errorf("expected eager failure to abort the stream, got %d aborts, %d closes", eager.aborts, eager.closes)
	}
}

func TestWriter_CloseUnopened(t *testing.T) {
	s := &recordingStream{}
	w, err := NewWriter(context.Background(), s, ValueOnly[string](codec.String{}), DefaultOptions())
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := w.Close(); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}
	if !reflect.DeepEqual(s.events, []string{"close"}) {
		t.Errorf("expected the unopened stream to be released once, got %v", s.events)
	}
	if s.Len() != 0 {
		t.Errorf("expected nothing written, got %d bytes", s.Len())
	}
	if err := w.Write(context.Background(), "late"); !errors.Is(err, serde.ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
}

func TestCreate_UnopenedLeavesNoFile(t *testing.T) {
	ctx := context.Background()
	f, err := New(ValueOnly[string](codec.String{}), DefaultOptions())
	if err != nil {
		t.Fatalf("new format: %v", err)
	}
	w, path, err := serde.Create[string](ctx, f, fsys.NewLocal(), filepath.Join(t.TempDir(), "empty"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected %s to be removed, got %v", path, err)
	}
}

type recordingStream struct {
	bytes.Buffer
	events []string
}

func (s *recordingStream) Write(p []byte) (int, error) {
	s.events = append(s.events, "write")
	return s.Buffer.Write(p)
}

func (s *recordingStream) Sync() error {
	s.events = append(s.events, "sync")
	return nil
}

func (s *recordingStream) Close() error {
	s.events = append(s.events, "close")
	return nil
}

func TestWriter_CloseOrder(t *testing.T) {
	ctx := context.Background()
	s := &recordingStream{}
	opts := DefaultOptions().WithCompression("gzip")
	w, err := NewWriter(ctx, s, ValueOnly[string](codec.String{}), opts)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	if err := w.Write(ctx, "only record"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(s.events) != 0 {
		t.Errorf("expected buffered writes before close, got %v", s.events)
	}
	for i := 0; i < 2; i++ {
		if err := w.Close(); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}

	n := len(s.events)
	if n < 3 || s.events[n-2] != "sync" || s.events[n-1] != "close" {
		t.Fatalf("expected writes then sync then close, got %v", s.events)
	}
	for _, e := range s.events[:n-2] {
		if e != "write" {
			t.Fatalf("expected only writes before sync, got %v", s.events)
		}
	}

	if _, _, err := readHeader(bytes.NewReader(s.Bytes())); err != nil {
		t.Errorf("expected a valid header, got %v", err)
	}
	if int64(s.Len()) <= blockHeaderLen {
		t.Errorf("expected header and one block, got %d bytes", s.Len())
	}
	if err := w.Write(ctx, "late"); !errors.Is(err, serde.ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
}

func TestReader_Marks(t *testing.T) {
	ctx := context.Background()
	f, err := New(ValueOnly[int](codec.JSON[int]{}), DefaultOptions().WithSyncRecords(10))
	if err != nil {
		t.Fatalf("new format: %v", err)
	}
	items := make([]int, 35)
	for i := range items {
		items[i] = i
	}
	path := writeAll[int](t, f, filepath.Join(t.TempDir(), "ints"), items)

	r, err := NewReader(ctx, fsys.NewLocal(), path, ValueOnly[int](codec.JSON[int]{}), DefaultOptions())
	if err != nil {
		t.Fatalf("create reader: %v", err)
	}
	if !r.Marks().Supported() || r.Marks().LastMark() != serde.NoMark {
		t.Fatalf("expected supported marks starting at NoMark, got %d", r.Marks().LastMark())
	}

	marks := make([]int64, 0, len(items))
	for range items {
		if _, err := r.Read(ctx); err != nil {
			t.Fatalf("read: %v", err)
		}
		if !r.MarkAtRecordStart() {
			t.Fatal("expected marks at record start")
		}
		marks = append(marks, r.LastMark())
	}

	distinct := 0
	for i, m := range marks {
		if i == 0 || m != marks[i-1] {
			distinct++
		}
		if i > 0 && m < marks[i-1] {
			t.Fatalf("marks decreased at %d: %d < %d", i, m, marks[i-1])
		}
	}
	if distinct != 4 {
		t.Errorf("expected 4 blocks, got %d", distinct)
	}
	if marks[9] != marks[0] || marks[10] == marks[9] {
		t.Errorf("expected a new mark every 10 records, got %v", marks[:12])
	}

	if err := r.GotoMark(ctx, marks[20]); err != nil {
		t.Fatalf("goto mark: %v", err)
	}
	if v, err := r.Read(ctx); err != nil || v != 20 {
		t.Errorf("expected 20 after GotoMark, got %d (%v)", v, err)
	}

	if err := r.GotoMark(ctx, serde.NoMark); err != nil {
		t.Fatalf("goto NoMark: %v", err)
	}
	if v, err := r.Read(ctx); err != nil || v != 0 {
		t.Errorf("expected 0 after rewind, got %d (%v)", v, err)
	}

	for _, bad := range []int64{marks[20] + 1, 3, 1 << 40} {
		if err := r.GotoMark(ctx, bad); !errors.Is(err, serde.ErrInvalidMark) {
			t.Errorf("GotoMark(%d): expected ErrInvalidMark, got %v", bad, err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestReader_KeyIndex(t *testing.T) {
	ctx := context.Background()
	layout := Keyed(orderKey, codec.String{}, codec.Gob[order]{})
	f, err := New(layout, DefaultOptions().WithIndex(true).WithSyncRecords(7))
	if err != nil {
		t.Fatalf("new format: %v", err)
	}
	items := make([]order, 100)
	for i := range items {
		items[i] = makeOrder(i)
	}
	path := writeAll[order](t, f, filepath.Join(t.TempDir(), "indexed"), items)

	r, err := NewReader(ctx, fsys.NewLocal(), path, layout, DefaultOptions())
	if err != nil {
		t.Fatalf("create reader: %v", err)
	}
	defer r.Close()

	if err := r.Seek(ctx, []byte("order-57")); err != nil {
		t.Fatalf("seek: %v", err)
	}
	for _, want := range []int{57, 58} {
		o, err := r.Read(ctx)
		if err != nil || o.ID != want {
			t.Fatalf("expected order %d, got %d (%v)", want, o.ID, err)
		}
	}

	if err := r.Seek(ctx, []byte("order-3")); err != nil {
		t.Fatalf("seek back: %v", err)
	}
	if o, _ := r.Read(ctx); o.ID != 3 {
		t.Errorf("expected order 3, got %d", o.ID)
	}

	if err := r.Seek(ctx, []byte("order-999")); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}

	full, err := f.NewReader(ctx, fsys.NewLocal(), path)
	if err != nil {
		t.Fatalf("create reader: %v", err)
	}
	if got := readAll(t, full); len(got) != len(items) {
		t.Errorf("expected index section to be skipped, read %d records", len(got))
	}
}

func TestReader_SeekWithoutIndex(t *testing.T) {
	ctx := context.Background()
	layout := ValueOnly[string](codec.String{})
	f, _ := New(layout, DefaultOptions())
	path := writeAll[string](t, f, filepath.Join(t.TempDir(), "plain"), []string{"a"})

	r, err := NewReader(ctx, fsys.NewLocal(), path, layout, DefaultOptions())
	if err != nil {
		t.Fatalf("create reader: %v", err)
	}
	defer r.Close()
	if err := r.Seek(ctx, []byte("a")); !errors.Is(err, ErrNoIndex) {
		t.Errorf("expected ErrNoIndex, got %v", err)
	}
}

func TestReader_OpenErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	layout := ValueOnly[string](codec.String{})

	t.Run("missing", func(t *testing.T) {
		r, _ := NewReader(ctx, fsys.NewLocal(), filepath.Join(dir, "missing.seq"), layout, DefaultOptions())
		_, err := r.Read(ctx)
		var oe *serde.OpenError
		if !errors.As(err, &oe) || !errors.Is(err, fsys.ErrNotExist) {
			t.Errorf("expected OpenError wrapping ErrNotExist, got %v", err)
		}
	})

	t.Run("magic", func(t *testing.T) {
		path := filepath.Join(dir, "garbage.seq")
		if err := os.WriteFile(path, []byte("definitely not a container"), 0o644); err != nil {
			t.Fatal(err)
		}
		opts := DefaultOptions()
		opts.LazyReader = false
		if _, err := NewReader(ctx, fsys.NewLocal(), path, layout, opts); !errors.Is(err, serde.ErrMagicMismatch) {
			t.Errorf("expected ErrMagicMismatch, got %v", err)
		}
	})

	t.Run("value codec", func(t *testing.T) {
		f, _ := New(layout, DefaultOptions())
		path := writeAll[string](t, f, filepath.Join(dir, "strings"), []string{"a"})
		r, _ := NewReader(ctx, fsys.NewLocal(), path, ValueOnly[int](codec.JSON[int]{}), DefaultOptions())
		if _, err := r.Read(ctx); !errors.Is(err, serde.ErrCorrupt) {
			t.Errorf("expected ErrCorrupt for codec mismatch, got %v", err)
		}
	})

	t.Run("block length", func(t *testing.T) {
		f, _ := New(layout, DefaultOptions())
		path := writeAll[string](t, f, filepath.Join(dir, "oversized"), []string{"a", "b"})
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		_, start, err := readHeader(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		binary.BigEndian.PutUint32(data[start+24:start+28], 0xFFFFFFF0)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}

		r, _ := NewReader(ctx, fsys.NewLocal(), path, layout, DefaultOptions())
		defer r.Close()
		if _, err := r.Read(ctx); !errors.Is(err, serde.ErrCorrupt) {
			t.Errorf("expected ErrCorrupt for a block longer than the file, got %v", err)
		}
	})
}

func TestReader_EOFCloses(t *testing.T) {
	ctx := context.Background()
	layout := ValueOnly[string](codec.String{})
	f, _ := New(layout, DefaultOptions())
	path := writeAll[string](t, f, filepath.Join(t.TempDir(), "one"), []string{"a"})

	r, _ := NewReader(ctx, fsys.NewLocal(), path, layout, DefaultOptions())
	if err := r.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := r.Open(ctx); err != nil {
		t.Fatalf("second open: %v", err)
	}
	if _, err := r.Read(ctx); err != nil {
		t.Fatalf("read: %v", err)
	}
	if _, err := r.Read(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	if r.life.IsOpen() {
		t.Error("expected reader to close at EOF")
	}
	if err := r.Close(); err != nil {
		t.Errorf("close after EOF: %v", err)
	}
}
