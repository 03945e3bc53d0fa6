package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/eunmann/batchio/pkg/fsys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeParts writes three files of 12 items each; file p holds
// p*100 .. p*100+11.
func writeParts(t *testing.T) (string, []int) {
	t.Helper()
	dir := t.TempDir()
	f := intFormat(t)
	var all []int
	for p := 0; p < 3; p++ {
		items := seq(p*100, p*100+12)
		writeItems[int](t, f, filepath.Join(dir, fmt.Sprintf("in.%d", p)), items)
		all = append(all, items...)
	}
	return filepath.Join(dir, "in.*.seq"), all
}

func newMultiReader(t *testing.T, pattern string) *MultiResourceReader[int] {
	t.Helper()
	r, err := NewMultiResourceReader[int](intFormat(t), fsys.NewLocal(), pattern, DefaultMultiResourceOptions("mr"))
	require.NoError(t, err)
	return r
}

func TestMultiResourceReader_ReadsAll(t *testing.T) {
	pattern, all := writeParts(t)
	r := newMultiReader(t, pattern)
	require.NoError(t, r.Open(context.Background(), nil))
	assert.Len(t, r.Resources(), 3)
	assert.Equal(t, all, readRest[int](t, r))
	require.NoError(t, r.Close())
}

func TestMultiResourceReader_Restart(t *testing.T) {
	pattern, all := writeParts(t)
	ctx := context.Background()

	for _, n := range []int{0, 5, 12, 17, 30, 36} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			r1 := newMultiReader(t, pattern)
			require.NoError(t, r1.Open(ctx, NewExecutionContext()))
			assert.Equal(t, all[:n], readN[int](t, r1, n))
			ec := NewExecutionContext()
			require.NoError(t, r1.Update(ec))
			require.NoError(t, r1.Close())

			r2 := newMultiReader(t, pattern)
			require.NoError(t, r2.Open(ctx, ec))
			rest := readRest[int](t, r2)
			assert.Equal(t, len(all)-n, len(rest))
			if n < len(all) {
				assert.Equal(t, all[n:], rest)
			}
		})
	}
}

func TestMultiResourceReader_StateKeys(t *testing.T) {
	pattern, _ := writeParts(t)
	ctx := context.Background()
	r := newMultiReader(t, pattern)
	require.NoError(t, r.Open(ctx, nil))

	readN[int](t, r, 15)
	ec := NewExecutionContext()
	require.NoError(t, r.Update(ec))
	idx, _ := ec.GetInt("mr.resource.index")
	assert.Equal(t, 1, idx)
	assert.True(t, ec.ContainsKey("mr.delegate.last.mark"))
	items, _ := ec.GetInt("mr.delegate.items.after.mark")
	assert.Equal(t, 3, items)

	readRest[int](t, r)
	require.NoError(t, r.Update(ec))
	idx, _ = ec.GetInt("mr.resource.index")
	assert.Equal(t, 3, idx)
	assert.False(t, ec.ContainsKey("mr.delegate.last.mark"), "delegate state is cleared once every resource is read")
	assert.False(t, ec.ContainsKey("mr.resource.path"))
}

func TestMultiResourceReader_Errors(t *testing.T) {
	ctx := context.Background()
	_, err := NewMultiResourceReader[int](intFormat(t), fsys.NewLocal(), "", DefaultMultiResourceOptions("mr"))
	assert.ErrorIs(t, err, ErrMissingCollaborator)

	empty := filepath.Join(t.TempDir(), "*.seq")
	lenient := newMultiReader(t, empty)
	require.NoError(t, lenient.Open(ctx, nil))
	assert.Empty(t, readRest[int](t, lenient))

	strict, err := NewMultiResourceReader[int](intFormat(t), fsys.NewLocal(), empty, DefaultMultiResourceOptions("mr").WithStrict(true))
	require.NoError(t, err)
	assert.ErrorIs(t, strict.Open(ctx, nil), fsys.ErrNotExist)

	pattern, _ := writeParts(t)
	ec := NewExecutionContext()
	ec.Put("mr.resource.index", 7)
	assert.ErrorIs(t, newMultiReader(t, pattern).Open(ctx, ec), ErrNotRestartable)

	ec = NewExecutionContext()
	ec.Put("mr.resource.index", 1)
	ec.Put("mr.resource.path", "/elsewhere/in.1.seq")
	assert.ErrorIs(t, newMultiReader(t, pattern).Open(ctx, ec), ErrNotRestartable)
}
