package query

import (
	"context"
	"testing"

	"github.com/gridstore/gridstore"
	"github.com/gridstore/gridstore/domain"
	"github.com/gridstore/gridstore/fragment"
	"github.com/gridstore/gridstore/order"
	"github.com/gridstore/gridstore/pkg/storage"
	"github.com/gridstore/gridstore/tile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	engine   *storage.Memory
	accessor *tile.Accessor
	schema   *gridstore.Schema
	uri      *storage.URI
}

func newEnv(t *testing.T, schema *gridstore.Schema) *testEnv {
	t.Helper()
	engine := storage.NewMemory()
	accessor, err := tile.NewAccessor(engine)
	require.NoError(t, err)
	return &testEnv{
		engine:   engine,
		accessor: accessor,
		schema:   schema,
		uri:      storage.MustParseURI("arrays/test"),
	}
}

// denseSchema is the 2-D array used throughout: domain [1,4]x[1,4],
// 2x2 tiles, row-major, int32 attribute "a" with fill -1.
func denseSchema(t *testing.T, attrs ...*gridstore.Attribute) *gridstore.Schema {
	t.Helper()
	if attrs == nil {
		attrs = []*gridstore.Attribute{{
			Name: "a",
			Type: gridstore.Int32,
			Fill: domain.AsBytes([]int32{-1}),
		}}
	}
	schema, err := gridstore.NewSchema(2, gridstore.Int32,
		domain.AsBytes([]int32{1, 4, 1, 4}),
		domain.AsBytes([]int32{2, 2}),
		order.RowMajor, order.RowMajor, true, attrs)
	require.NoError(t, err)
	return schema
}

func sparseSchema(t *testing.T, attrs ...*gridstore.Attribute) *gridstore.Schema {
	t.Helper()
	schema, err := gridstore.NewSchema(1, gridstore.Int32,
		domain.AsBytes([]int32{1, 100}),
		domain.AsBytes([]int32{10}),
		order.RowMajor, order.RowMajor, false, attrs)
	require.NoError(t, err)
	return schema
}

func (e *testEnv) write(t *testing.T, layout order.Layout, subarray []byte, attrs []string, buffers [][]byte) {
	t.Helper()
	q, err := New(e.engine, e.accessor, e.schema, nil, Write, layout, subarray, attrs, buffers, "", WithArrayURI(e.uri))
	require.NoError(t, err)
	require.NoError(t, q.Write(context.Background()))
	require.Equal(t, Completed, q.Status())
	require.NotNil(t, q.LastFragmentURI())
}

func (e *testEnv) fragments(t *testing.T) []*fragment.Metadata {
	t.Helper()
	frags, err := fragment.List(context.Background(), e.engine, e.uri)
	require.NoError(t, err)
	return frags
}

func (e *testEnv) read(t *testing.T, layout order.Layout, subarray []byte, attrs []string, buffers [][]byte) *Query {
	t.Helper()
	q, err := New(e.engine, e.accessor, e.schema, e.fragments(t), Read, layout, subarray, attrs, buffers, "")
	require.NoError(t, err)
	require.NoError(t, q.Read(context.Background()))
	return q
}

func int32s(b []byte, size uint64) []int32 {
	return domain.AsSlice[int32](b[:size])
}

func TestDenseReadWithFill(t *testing.T) {
	env := newEnv(t, denseSchema(t))
	env.write(t, order.GlobalOrder,
		domain.AsBytes([]int32{1, 2, 1, 2}), []string{"a"},
		[][]byte{domain.AsBytes([]int32{1, 2, 3, 4})})

	buf := make([]byte, 64)
	q := env.read(t, order.RowMajor, domain.AsBytes([]int32{1, 2, 1, 4}), []string{"a"}, [][]byte{buf})
	assert.Equal(t, Completed, q.Status())
	assert.Equal(t, []int32{1, 2, -1, -1, 3, 4, -1, -1}, int32s(buf, q.BufferSizes()[0]))
}

func TestDenseRecency(t *testing.T) {
	env := newEnv(t, denseSchema(t))
	env.write(t, order.GlobalOrder,
		domain.AsBytes([]int32{1, 1, 1, 1}), []string{"a"},
		[][]byte{domain.AsBytes([]int32{10})})
	env.write(t, order.GlobalOrder,
		domain.AsBytes([]int32{1, 1, 1, 2}), []string{"a"},
		[][]byte{domain.AsBytes([]int32{20, 21})})

	buf := make([]byte, 64)
	q := env.read(t, order.RowMajor, domain.AsBytes([]int32{1, 1, 1, 2}), []string{"a"}, [][]byte{buf})
	assert.Equal(t, Completed, q.Status())
	assert.Equal(t, []int32{20, 21}, int32s(buf, q.BufferSizes()[0]))
}

func TestDenseDisjointFragments(t *testing.T) {
	env := newEnv(t, denseSchema(t))
	env.write(t, order.GlobalOrder,
		domain.AsBytes([]int32{1, 2, 1, 2}), []string{"a"},
		[][]byte{domain.AsBytes([]int32{1, 2, 3, 4})})
	env.write(t, order.GlobalOrder,
		domain.AsBytes([]int32{3, 4, 3, 4}), []string{"a"},
		[][]byte{domain.AsBytes([]int32{5, 6, 7, 8})})

	buf := make([]byte, 64)
	q := env.read(t, order.RowMajor, nil, []string{"a"}, [][]byte{buf})
	assert.Equal(t, Completed, q.Status())
	assert.Equal(t, []int32{
		1, 2, -1, -1,
		3, 4, -1, -1,
		-1, -1, 5, 6,
		-1, -1, 7, 8,
	}, int32s(buf, q.BufferSizes()[0]))
}

func TestDenseColMajorRead(t *testing.T) {
	env := newEnv(t, denseSchema(t))
	env.write(t, order.GlobalOrder,
		domain.AsBytes([]int32{1, 2, 1, 2}), []string{"a"},
		[][]byte{domain.AsBytes([]int32{1, 2, 3, 4})})

	buf := make([]byte, 64)
	q := env.read(t, order.ColMajor, domain.AsBytes([]int32{1, 2, 1, 4}), []string{"a"}, [][]byte{buf})
	assert.Equal(t, Completed, q.Status())
	assert.Equal(t, []int32{1, 3, 2, 4, -1, -1, -1, -1}, int32s(buf, q.BufferSizes()[0]))
}

func TestDenseGlobalOrderRead(t *testing.T) {
	env := newEnv(t, denseSchema(t))
	env.write(t, order.GlobalOrder,
		domain.AsBytes([]int32{1, 2, 1, 2}), []string{"a"},
		[][]byte{domain.AsBytes([]int32{1, 2, 3, 4})})

	buf := make([]byte, 64)
	q := env.read(t, order.GlobalOrder, domain.AsBytes([]int32{1, 2, 1, 4}), []string{"a"}, [][]byte{buf})
	assert.Equal(t, Completed, q.Status())
	assert.Equal(t, []int32{1, 2, 3, 4, -1, -1, -1, -1}, int32s(buf, q.BufferSizes()[0]))
}

func TestDenseOverflow(t *testing.T) {
	env := newEnv(t, denseSchema(t))
	env.write(t, order.GlobalOrder,
		domain.AsBytes([]int32{1, 2, 1, 2}), []string{"a"},
		[][]byte{domain.AsBytes([]int32{1, 2, 3, 4})})

	buf := make([]byte, 8) // room for two cells
	q := env.read(t, order.RowMajor, domain.AsBytes([]int32{1, 2, 1, 4}), []string{"a"}, [][]byte{buf})
	assert.Equal(t, Incomplete, q.Status())
	assert.True(t, q.Overflow())
	over, err := q.OverflowAttr("a")
	require.NoError(t, err)
	assert.True(t, over)
	assert.Equal(t, uint64(8), q.BufferSizes()[0])
	assert.Equal(t, []int32{1, 2}, int32s(buf, 8))

	// Resubmit with a big enough buffer.
	big := make([]byte, 64)
	require.NoError(t, q.SetBuffers([]string{"a"}, [][]byte{big}))
	require.NoError(t, q.Read(context.Background()))
	assert.Equal(t, Completed, q.Status())
	assert.False(t, q.Overflow())
	assert.Equal(t, []int32{1, 2, -1, -1, 3, 4, -1, -1}, int32s(big, q.BufferSizes()[0]))
}

func TestOverflowPrefixConsistency(t *testing.T) {
	schema := denseSchema(t,
		&gridstore.Attribute{Name: "a", Type: gridstore.Int32, Fill: domain.AsBytes([]int32{-1})},
		&gridstore.Attribute{Name: "b", Type: gridstore.Int64, Fill: domain.AsBytes([]int64{-9})},
	)
	env := newEnv(t, schema)
	env.write(t, order.GlobalOrder,
		domain.AsBytes([]int32{1, 2, 1, 2}), []string{"a", "b"},
		[][]byte{
			domain.AsBytes([]int32{1, 2, 3, 4}),
			domain.AsBytes([]int64{10, 20, 30, 40}),
		})

	abuf := make([]byte, 8)   // two cells of a
	bbuf := make([]byte, 128) // plenty for b
	q := env.read(t, order.RowMajor, domain.AsBytes([]int32{1, 2, 1, 4}), []string{"a", "b"}, [][]byte{abuf, bbuf})
	assert.Equal(t, Incomplete, q.Status())
	// Both attributes report the same number of cells.
	assert.Equal(t, uint64(8), q.BufferSizes()[0])
	assert.Equal(t, uint64(16), q.BufferSizes()[1])
	assert.Equal(t, []int32{1, 2}, int32s(abuf, 8))
	assert.Equal(t, []int64{10, 20}, domain.AsSlice[int64](bbuf[:16]))
	aover, err := q.OverflowAttr("a")
	require.NoError(t, err)
	assert.True(t, aover)
	bover, err := q.OverflowAttr("b")
	require.NoError(t, err)
	assert.False(t, bover)
}

func TestSparseReadDedup(t *testing.T) {
	env := newEnv(t, sparseSchema(t, &gridstore.Attribute{Name: "a", Type: gridstore.Uint8}))
	env.write(t, order.GlobalOrder, nil,
		[]string{gridstore.Coords, "a"},
		[][]byte{domain.AsBytes([]int32{5, 10, 10, 15}), []byte("abcd")})
	env.write(t, order.GlobalOrder, nil,
		[]string{gridstore.Coords, "a"},
		[][]byte{domain.AsBytes([]int32{10, 20}), []byte("BD")})

	buf := make([]byte, 16)
	q := env.read(t, order.RowMajor, nil, []string{"a"}, [][]byte{buf})
	assert.Equal(t, Completed, q.Status())
	assert.Equal(t, uint64(4), q.BufferSizes()[0])
	assert.Equal(t, []byte("aBdD"), buf[:4])
}

func TestSparseReadCoords(t *testing.T) {
	env := newEnv(t, sparseSchema(t, &gridstore.Attribute{Name: "a", Type: gridstore.Uint8}))
	env.write(t, order.GlobalOrder, nil,
		[]string{gridstore.Coords, "a"},
		[][]byte{domain.AsBytes([]int32{5, 10, 10, 15}), []byte("abcd")})
	env.write(t, order.GlobalOrder, nil,
		[]string{gridstore.Coords, "a"},
		[][]byte{domain.AsBytes([]int32{10, 20}), []byte("BD")})

	cbuf := make([]byte, 32)
	abuf := make([]byte, 16)
	q := env.read(t, order.RowMajor, nil, []string{gridstore.Coords, "a"}, [][]byte{cbuf, abuf})
	assert.Equal(t, Completed, q.Status())
	assert.Equal(t, []int32{5, 10, 15, 20}, int32s(cbuf, q.BufferSizes()[0]))
	assert.Equal(t, []byte("aBdD"), abuf[:q.BufferSizes()[1]])
}

func TestSparseReadSubarray(t *testing.T) {
	env := newEnv(t, sparseSchema(t, &gridstore.Attribute{Name: "a", Type: gridstore.Uint8}))
	env.write(t, order.GlobalOrder, nil,
		[]string{gridstore.Coords, "a"},
		[][]byte{domain.AsBytes([]int32{5, 10, 15, 20}), []byte("abcd")})

	buf := make([]byte, 16)
	q := env.read(t, order.RowMajor, domain.AsBytes([]int32{8, 16}), []string{"a"}, [][]byte{buf})
	assert.Equal(t, Completed, q.Status())
	assert.Equal(t, []byte("bc"), buf[:q.BufferSizes()[0]])
}

func TestSparseVarRead(t *testing.T) {
	env := newEnv(t, sparseSchema(t, &gridstore.Attribute{Name: "s", Type: gridstore.Char, Var: true}))
	env.write(t, order.GlobalOrder, nil,
		[]string{gridstore.Coords, "s"},
		[][]byte{
			domain.AsBytes([]int32{1, 2, 3}),
			domain.AsBytes([]uint64{0, 1, 3}),
			[]byte("xyyzzz"),
		})

	offBuf := make([]byte, 64)
	valBuf := make([]byte, 64)
	q := env.read(t, order.RowMajor, nil, []string{"s"}, [][]byte{offBuf, valBuf})
	assert.Equal(t, Completed, q.Status())
	assert.Equal(t, uint64(24), q.BufferSizes()[0])
	assert.Equal(t, []uint64{0, 1, 3}, domain.AsSlice[uint64](offBuf[:24]))
	assert.Equal(t, []byte("xyyzzz"), valBuf[:q.BufferSizes()[1]])
}

func TestDenseVarRead(t *testing.T) {
	schema := denseSchema(t, &gridstore.Attribute{
		Name: "s",
		Type: gridstore.Char,
		Var:  true,
		Fill: []byte("-"),
	})
	env := newEnv(t, schema)
	env.write(t, order.GlobalOrder,
		domain.AsBytes([]int32{1, 2, 1, 2}), []string{"s"},
		[][]byte{
			domain.AsBytes([]uint64{0, 1, 3, 5}),
			[]byte("pqqrrs"),
		})

	offBuf := make([]byte, 128)
	valBuf := make([]byte, 64)
	q := env.read(t, order.RowMajor, domain.AsBytes([]int32{1, 2, 1, 4}), []string{"s"}, [][]byte{offBuf, valBuf})
	assert.Equal(t, Completed, q.Status())
	assert.Equal(t, uint64(64), q.BufferSizes()[0])
	assert.Equal(t, []uint64{0, 1, 3, 4, 5, 7, 8, 9}, domain.AsSlice[uint64](offBuf[:64]))
	assert.Equal(t, []byte("pqq--rrs--"), valBuf[:q.BufferSizes()[1]])
}

func TestSparseVarOverflow(t *testing.T) {
	env := newEnv(t, sparseSchema(t, &gridstore.Attribute{Name: "s", Type: gridstore.Char, Var: true}))
	env.write(t, order.GlobalOrder, nil,
		[]string{gridstore.Coords, "s"},
		[][]byte{
			domain.AsBytes([]int32{1, 2, 3}),
			domain.AsBytes([]uint64{0, 1, 3}),
			[]byte("xyyzzz"),
		})

	offBuf := make([]byte, 64)
	valBuf := make([]byte, 2) // too small for the second value
	q := env.read(t, order.RowMajor, nil, []string{"s"}, [][]byte{offBuf, valBuf})
	assert.Equal(t, Incomplete, q.Status())
	over, err := q.OverflowAttr("s")
	require.NoError(t, err)
	assert.True(t, over)
	// All three cells form one contiguous range, so the common
	// fully-copied prefix is empty.
	assert.Equal(t, uint64(0), q.BufferSizes()[0])
	assert.Equal(t, uint64(0), q.BufferSizes()[1])
}

func TestInvalidSubarray(t *testing.T) {
	env := newEnv(t, denseSchema(t))
	buf := make([]byte, 64)
	_, err := New(env.engine, env.accessor, env.schema, nil, Read, order.RowMajor,
		domain.AsBytes([]int32{5, 6, 5, 6}), []string{"a"}, [][]byte{buf}, "")
	assert.ErrorIs(t, err, gridstore.ErrInvalidSubarray)

	q, err := New(env.engine, env.accessor, env.schema, nil, Read, order.RowMajor,
		nil, []string{"a"}, [][]byte{buf}, "")
	require.NoError(t, err)
	assert.ErrorIs(t, q.SetSubarray(domain.AsBytes([]int32{0, 2, 1, 2})), gridstore.ErrInvalidSubarray)
	assert.ErrorIs(t, q.SetSubarray(domain.AsBytes([]int32{3, 2, 1, 2})), gridstore.ErrInvalidSubarray)
}

func TestValidationErrors(t *testing.T) {
	env := newEnv(t, denseSchema(t))
	buf := make([]byte, 64)

	_, err := New(env.engine, env.accessor, env.schema, nil, Read, order.RowMajor,
		nil, []string{"nope"}, [][]byte{buf}, "")
	assert.ErrorIs(t, err, gridstore.ErrInvalidAttribute)

	_, err = New(env.engine, env.accessor, env.schema, nil, Read, order.RowMajor,
		nil, []string{"a", "a"}, [][]byte{buf, buf}, "")
	assert.ErrorIs(t, err, gridstore.ErrInvalidAttribute)

	_, err = New(env.engine, env.accessor, env.schema, nil, Read, order.RowMajor,
		nil, []string{"a"}, [][]byte{buf, buf}, "")
	assert.ErrorIs(t, err, gridstore.ErrBufferMismatch)

	_, err = New(env.engine, env.accessor, env.schema, nil, Read, order.Unordered,
		nil, []string{"a"}, [][]byte{buf}, "")
	assert.ErrorIs(t, err, gridstore.ErrUnsupportedLayout)

	_, err = New(env.engine, env.accessor, env.schema, nil, Read, order.RowMajor,
		nil, []string{gridstore.Coords}, [][]byte{buf}, "")
	assert.ErrorIs(t, err, gridstore.ErrInvalidAttribute)
}

func TestKeyValueLayoutFixed(t *testing.T) {
	schema := denseSchema(t)
	schema.SetKeyValue(true)
	env := newEnv(t, schema)
	buf := make([]byte, 64)
	q, err := New(env.engine, env.accessor, env.schema, nil, Read, order.RowMajor,
		nil, []string{"a"}, [][]byte{buf}, "")
	require.NoError(t, err)
	assert.ErrorIs(t, q.SetLayout(order.ColMajor), gridstore.ErrUnsupportedLayout)
}

func TestComputeSubarrays(t *testing.T) {
	env := newEnv(t, denseSchema(t))
	buf := make([]byte, 8) // two int32 cells
	q, err := New(env.engine, env.accessor, env.schema, nil, Read, order.RowMajor,
		nil, []string{"a"}, [][]byte{buf}, "")
	require.NoError(t, err)
	pieces, err := q.ComputeSubarrays()
	require.NoError(t, err)
	var cells uint64
	for _, piece := range pieces {
		sub := domain.AsSlice[int32](piece)
		require.Len(t, sub, 4)
		n := uint64(sub[1]-sub[0]+1) * uint64(sub[3]-sub[2]+1)
		assert.LessOrEqual(t, n*4, uint64(len(buf)))
		cells += n
	}
	assert.Equal(t, uint64(16), cells)
}

func TestAsyncProcess(t *testing.T) {
	env := newEnv(t, denseSchema(t))
	env.write(t, order.GlobalOrder,
		domain.AsBytes([]int32{1, 2, 1, 2}), []string{"a"},
		[][]byte{domain.AsBytes([]int32{1, 2, 3, 4})})

	buf := make([]byte, 64)
	q, err := New(env.engine, env.accessor, env.schema, env.fragments(t), Read, order.RowMajor,
		domain.AsBytes([]int32{1, 2, 1, 2}), []string{"a"}, [][]byte{buf}, "")
	require.NoError(t, err)
	done := make(chan error, 1)
	q.AsyncProcess(context.Background(), func(q *Query, err error) {
		done <- err
	})
	require.NoError(t, <-done)
	assert.Equal(t, Completed, q.Status())
	assert.Equal(t, []int32{1, 2, 3, 4}, int32s(buf, q.BufferSizes()[0]))
}

func TestCancellation(t *testing.T) {
	env := newEnv(t, denseSchema(t))
	env.write(t, order.GlobalOrder,
		domain.AsBytes([]int32{1, 2, 1, 2}), []string{"a"},
		[][]byte{domain.AsBytes([]int32{1, 2, 3, 4})})

	buf := make([]byte, 64)
	q, err := New(env.engine, env.accessor, env.schema, env.fragments(t), Read, order.RowMajor,
		nil, []string{"a"}, [][]byte{buf}, "")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, q.Read(ctx))
	assert.Equal(t, Failed, q.Status())
}

func TestStateMachine(t *testing.T) {
	env := newEnv(t, denseSchema(t))
	buf := make([]byte, 64)
	q, err := New(env.engine, env.accessor, env.schema, nil, Read, order.RowMajor,
		nil, []string{"a"}, [][]byte{buf}, "")
	require.NoError(t, err)
	assert.Equal(t, InProgress, q.Status())
	require.NoError(t, q.Read(context.Background()))
	assert.Equal(t, Completed, q.Status())
	// A completed query must be resubmitted through SetBuffers.
	assert.Error(t, q.Read(context.Background()))
	require.NoError(t, q.SetBuffers([]string{"a"}, [][]byte{buf}))
	require.NoError(t, q.Read(context.Background()))
}

func TestFinalizeBorrowedFragments(t *testing.T) {
	env := newEnv(t, denseSchema(t))
	env.write(t, order.GlobalOrder,
		domain.AsBytes([]int32{1, 2, 1, 2}), []string{"a"},
		[][]byte{domain.AsBytes([]int32{1, 2, 3, 4})})
	frags := env.fragments(t)

	buf := make([]byte, 64)
	q, err := New(env.engine, env.accessor, env.schema, frags, Read, order.RowMajor,
		nil, []string{"a"}, [][]byte{buf}, "", WithBorrowedFragments())
	require.NoError(t, err)
	require.NoError(t, q.Finalize())
	assert.Equal(t, 1, q.FragmentNum())

	q2, err := New(env.engine, env.accessor, env.schema, frags, Read, order.RowMajor,
		nil, []string{"a"}, [][]byte{buf}, "")
	require.NoError(t, err)
	require.NoError(t, q2.Finalize())
	assert.Equal(t, 0, q2.FragmentNum())
}

func TestFragmentURIs(t *testing.T) {
	env := newEnv(t, denseSchema(t))
	env.write(t, order.GlobalOrder,
		domain.AsBytes([]int32{1, 2, 1, 2}), []string{"a"},
		[][]byte{domain.AsBytes([]int32{1, 2, 3, 4})})
	env.write(t, order.GlobalOrder,
		domain.AsBytes([]int32{3, 4, 3, 4}), []string{"a"},
		[][]byte{domain.AsBytes([]int32{5, 6, 7, 8})})

	buf := make([]byte, 64)
	q, err := New(env.engine, env.accessor, env.schema, env.fragments(t), Read, order.RowMajor,
		nil, []string{"a"}, [][]byte{buf}, "")
	require.NoError(t, err)
	uris := q.FragmentURIs()
	require.Len(t, uris, 2)
	assert.NotEqual(t, uris[0].String(), uris[1].String())
}
