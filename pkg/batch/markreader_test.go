package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eunmann/batchio/pkg/serde"
	"github.com/eunmann/batchio/pkg/serde/columnar"
	"github.com/eunmann/batchio/pkg/serde/rawcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMarkReader_Errors(t *testing.T) {
	_, err := NewMarkReader[int](nil, DefaultMarkReaderOptions("r"))
	assert.ErrorIs(t, err, ErrMissingCollaborator)

	_, err = NewMarkReader[int](newScriptedReader(nil, true), MarkReaderOptions{SaveState: true})
	assert.ErrorIs(t, err, ErrMissingCollaborator)

	_, err = NewMarkReader[int](newScriptedReader(nil, true), DefaultMarkReaderOptions("r").WithMaxItemCount(-1))
	assert.Error(t, err)

	_, err = NewMarkReader[int](newScriptedReader(nil, true), MarkReaderOptions{})
	assert.NoError(t, err, "a reader that saves no state needs no name")
}

func TestMarkReader_Bookkeeping(t *testing.T) {
	tests := []struct {
		name    string
		atStart bool
		marks   []int64
		want    []int
	}{
		{
			name:    "mark before record",
			atStart: true,
			marks:   []int64{0, 0, 5, 5, 5, 9},
			want:    []int{1, 2, 1, 2, 3, 1},
		},
		{
			name:    "mark after record",
			atStart: false,
			marks:   []int64{-1, -1, 1, 1, 2},
			want:    []int{1, 2, 0, 1, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			r, err := NewMarkReader[int](newScriptedReader(tt.marks, tt.atStart), DefaultMarkReaderOptions("r"))
			require.NoError(t, err)
			require.NoError(t, r.Open(ctx, NewExecutionContext()))

			for i, want := range tt.want {
				_, err := r.Read(ctx)
				require.NoError(t, err)
				mark, items := r.State()
				assert.Equal(t, tt.marks[i], mark, "mark after read %d", i)
				assert.Equal(t, want, items, "items after mark after read %d", i)
			}
			_, err = r.Read(ctx)
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestMarkReader_UpdateKeys(t *testing.T) {
	ctx := context.Background()
	r, err := NewMarkReader[int](newScriptedReader([]int64{0, 0, 7}, true), DefaultMarkReaderOptions("orders"))
	require.NoError(t, err)
	require.NoError(t, r.Open(ctx, nil))
	readN[int](t, r, 3)

	ec := NewExecutionContext()
	require.NoError(t, r.Update(ec))
	assert.Equal(t, []string{"orders.items.after.mark", "orders.last.mark", "orders.read.count"}, ec.Keys())
	mark, _ := ec.GetInt64("orders.last.mark")
	items, _ := ec.GetInt("orders.items.after.mark")
	count, _ := ec.GetInt("orders.read.count")
	assert.Equal(t, int64(7), mark)
	assert.Equal(t, 1, items)
	assert.Equal(t, 3, count)

	noState, err := NewMarkReader[int](newScriptedReader([]int64{0}, true), MarkReaderOptions{})
	require.NoError(t, err)
	require.NoError(t, noState.Open(ctx, ec))
	fresh := NewExecutionContext()
	require.NoError(t, noState.Update(fresh))
	assert.Zero(t, fresh.Len())
}

// restartAt reads n items with one reader, saves its state and returns the
// items a second reader restarted from that state produces.
func restartAt[T any](t *testing.T, f serde.Format[T], path string, n int) (first, rest []T, ec *ExecutionContext) {
	t.Helper()
	ctx := context.Background()

	r1 := newMarkReader[T](t, f, path, DefaultMarkReaderOptions("in"))
	require.NoError(t, r1.Open(ctx, NewExecutionContext()))
	first = readN[T](t, r1, n)
	ec = NewExecutionContext()
	require.NoError(t, r1.Update(ec))
	require.NoError(t, r1.Close())

	r2 := newMarkReader[T](t, f, path, DefaultMarkReaderOptions("in"))
	require.NoError(t, r2.Open(ctx, ec.Clone()))
	rest = readRest[T](t, r2)
	require.NoError(t, r2.Close())
	return first, rest, ec
}

func TestMarkReader_RestartContainer(t *testing.T) {
	f, path := writeInts(t, 35)

	tests := []struct {
		name      string
		n         int
		wantItems int
	}{
		{"before first read", 0, 0},
		{"inside first block", 4, 4},
		{"inside third block", 25, 5},
		{"at block boundary", 20, 10},
		{"at end", 35, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, rest, ec := restartAt[int](t, f, path, tt.n)
			assert.Equal(t, seq(0, tt.n), first)
			if tt.n == 35 {
				assert.Empty(t, rest)
			} else {
				assert.Equal(t, seq(tt.n, 35), rest)
			}
			items, _ := ec.GetInt("in.items.after.mark")
			assert.Equal(t, tt.wantItems, items)
		})
	}
}

func TestMarkReader_RestartColumnar(t *testing.T) {
	schema := columnar.Schema{Name: "n", Fields: []columnar.Field{{Name: "n", Type: columnar.Int64}}}
	mapper := columnar.Mapper[int64]{
		ToRecord:   func(n int64) (columnar.Record, error) { return columnar.Record{"n": n}, nil },
		FromRecord: func(rec columnar.Record) (int64, error) { return rec.Int64("n"), nil },
	}
	f, err := columnar.New(schema, mapper, columnar.DefaultOptions().WithRowGroupRows(10))
	require.NoError(t, err)

	all := make([]int64, 25)
	for i := range all {
		all[i] = int64(i)
	}
	path := writeItems[int64](t, f, filepath.Join(t.TempDir(), "nums"), all)

	tests := []struct {
		n         int
		wantMark  int64
		wantItems int
	}{
		{5, 0, 5},
		{10, 1, 0},
		{13, 1, 3},
		{20, 2, 0},
		{25, 3, 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.n), func(t *testing.T) {
			first, rest, ec := restartAt[int64](t, f, path, tt.n)
			assert.Equal(t, all[:tt.n], first)
			assert.Equal(t, len(all)-tt.n, len(rest))
			if len(rest) > 0 {
				assert.Equal(t, all[tt.n:], rest)
			}
			mark, _ := ec.GetInt64("in.last.mark")
			items, _ := ec.GetInt("in.items.after.mark")
			assert.Equal(t, tt.wantMark, mark)
			assert.Equal(t, tt.wantItems, items)
		})
	}
}

func TestMarkReader_RestartRawCopy(t *testing.T) {
	f, err := rawcopy.New(rawcopy.DefaultOptions().WithBlockSize(4).WithCompression("gzip"))
	require.NoError(t, err)

	data := []byte("abcdefghijklmnopqrstuvwxyz")
	path := writeItems[[]byte](t, f, filepath.Join(t.TempDir(), "letters"), [][]byte{data[:10], data[10:]})

	first, rest, ec := restartAt[[]byte](t, f, path, 3)
	var got strings.Builder
	for _, b := range append(first, rest...) {
		got.Write(b)
	}
	assert.Equal(t, string(data), got.String())
	assert.Equal(t, []byte("mnop"), rest[0])

	mark, _ := ec.GetInt64("in.last.mark")
	items, _ := ec.GetInt("in.items.after.mark")
	assert.Equal(t, serde.NoMark, mark, "readers without marks save NoMark")
	assert.Equal(t, 3, items, "readers without marks count every item")
}

func TestMarkReader_InvalidState(t *testing.T) {
	f, path := writeInts(t, 35)
	ctx := context.Background()

	t.Run("replay past end", func(t *testing.T) {
		ec := NewExecutionContext()
		ec.Put("in.last.mark", serde.NoMark)
		ec.Put("in.items.after.mark", 100)
		r := newMarkReader[int](t, f, path, DefaultMarkReaderOptions("in"))
		err := r.Open(ctx, ec)
		assert.ErrorIs(t, err, serde.ErrInvalidMark)
	})

	t.Run("no sync marker", func(t *testing.T) {
		ec := NewExecutionContext()
		ec.Put("in.last.mark", int64(3))
		ec.Put("in.items.after.mark", 0)
		r := newMarkReader[int](t, f, path, DefaultMarkReaderOptions("in"))
		err := r.Open(ctx, ec)
		assert.ErrorIs(t, err, serde.ErrInvalidMark)
	})

	t.Run("malformed state", func(t *testing.T) {
		ec := NewExecutionContext()
		ec.Put("in.last.mark", "soon")
		r := newMarkReader[int](t, f, path, DefaultMarkReaderOptions("in"))
		err := r.Open(ctx, ec)
		assert.ErrorIs(t, err, serde.ErrInvalidMark)
	})
}

func TestMarkReader_Lifecycle(t *testing.T) {
	f, path := writeInts(t, 5)
	ctx := context.Background()
	r := newMarkReader[int](t, f, path, DefaultMarkReaderOptions("in"))

	_, err := r.Read(ctx)
	assert.ErrorIs(t, err, ErrNotOpen)

	require.NoError(t, r.Open(ctx, nil))
	require.NoError(t, r.Open(ctx, nil), "second open is a no-op")
	assert.Equal(t, []int{0, 1}, readN[int](t, r, 2))

	require.NoError(t, r.Close())
	require.NoError(t, r.Close(), "second close is a no-op")
	mark, items := r.State()
	assert.Equal(t, serde.NoMark, mark)
	assert.Zero(t, items)

	_, err = r.Read(ctx)
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestMarkReader_MaxItemCount(t *testing.T) {
	f, path := writeInts(t, 35)
	ctx := context.Background()
	opts := DefaultMarkReaderOptions("in").WithMaxItemCount(7)

	r1 := newMarkReader[int](t, f, path, opts)
	require.NoError(t, r1.Open(ctx, nil))
	assert.Equal(t, seq(0, 4), readN[int](t, r1, 4))
	ec := NewExecutionContext()
	require.NoError(t, r1.Update(ec))
	require.NoError(t, r1.Close())

	r2 := newMarkReader[int](t, f, path, opts)
	require.NoError(t, r2.Open(ctx, ec))
	assert.Equal(t, seq(4, 7), readRest[int](t, r2))
	_, err := r2.Read(ctx)
	assert.True(t, errors.Is(err, io.EOF))
}
