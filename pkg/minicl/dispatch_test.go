package minicl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/orneryd/minicl/pkg/gpu/host"
)

func TestSimpleAddScenario(t *testing.T) {
	c := newHostContext(t)

	k, err := c.RegisterKernel("simple_add")
	require.NoError(t, err)

	id, err := Register(c, filled(64, int32(12)))
	require.NoError(t, err)

	require.NoError(t, c.BindArgument(k, 0, id))
	require.NoError(t, c.BindArgument(k, 1, Scalar[int32](1000)))
	require.NoError(t, c.Dispatch(k, 64, 16))

	v, err := Map[int32](c, id)
	require.NoError(t, err)
	assert.Equal(t, filled(64, int32(1012)), v)

	_, err = Unmap(c, v)
	require.NoError(t, err)
	require.NoError(t, c.BindAllAndDispatch(k, 64, 16, id, Scalar[int32](1000)))

	v, err = Map[int32](c, id)
	require.NoError(t, err)
	assert.Equal(t, filled(64, int32(2012)), v)

	stats, err := c.KernelStats(k)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Dispatches)
	assert.Equal(t, uint64(128), stats.WorkItems)
	assert.Equal(t, uint64(2), c.Stats().Dispatches)
}

func TestPartitioning(t *testing.T) {
	c := newHostContext(t)
	k, err := c.RegisterKernel("simple_add")
	require.NoError(t, err)

	id, err := Register(c, make([]int32, 100))
	require.NoError(t, err)
	require.NoError(t, c.BindArgument(k, 0, id))
	require.NoError(t, c.BindArgument(k, 1, Scalar[int32](1)))

	assert.ErrorIs(t, c.Dispatch(k, 100, 16), ErrInvalidPartitioning)
	assert.ErrorIs(t, c.Dispatch(k, 0, 16), ErrInvalidPartitioning)
	assert.ErrorIs(t, c.Dispatch(k, 96, 0), ErrInvalidPartitioning)
	assert.ErrorIs(t, c.Dispatch(k, -16, 16), ErrInvalidPartitioning)
	assert.ErrorIs(t, c.BindAllAndDispatch(k, 100, 16, id, Scalar[int32](1)), ErrInvalidPartitioning)

	require.NoError(t, c.Dispatch(k, 96, 16))

	v, err := Map[int32](c, id)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v[95])
	assert.Equal(t, int32(0), v[96], "items past the global size are untouched")
}

func TestBindStateGuard(t *testing.T) {
	c := newHostContext(t)
	k, err := c.RegisterKernel("simple_add")
	require.NoError(t, err)

	id, err := Register(c, make([]int32, 16))
	require.NoError(t, err)
	v, err := Map[int32](c, id)
	require.NoError(t, err)

	err = c.BindArgument(k, 0, id)
	assert.ErrorIs(t, err, ErrBufferStateViolation)
	assert.ErrorContains(t, err, "cannot bind a host-owned buffer to a kernel")

	err = c.BindAllAndDispatch(k, 16, 16, id, Scalar[int32](1))
	assert.ErrorIs(t, err, ErrBufferStateViolation)

	_, err = Unmap(c, v)
	require.NoError(t, err)
	assert.NoError(t, c.BindArgument(k, 0, id))
}

func TestDispatchRevalidatesBuffers(t *testing.T) {
	c := newHostContext(t)
	k, err := c.RegisterKernel("simple_add")
	require.NoError(t, err)

	id, err := Register(c, make([]int32, 16))
	require.NoError(t, err)
	require.NoError(t, c.BindArgument(k, 0, id))
	require.NoError(t, c.BindArgument(k, 1, Scalar[int32](1)))

	t.Run("mapped after binding", func(t *testing.T) {
		v, err := Map[int32](c, id)
		require.NoError(t, err)
		assert.ErrorIs(t, c.Dispatch(k, 16, 16), ErrBufferStateViolation)
		_, err = Unmap(c, v)
		require.NoError(t, err)
		assert.NoError(t, c.Dispatch(k, 16, 16))
	})

	t.Run("released after binding", func(t *testing.T) {
		require.NoError(t, c.Release(id))
		assert.ErrorIs(t, c.Dispatch(k, 16, 16), ErrStaleBuffer)
	})
}

func TestUnboundArgument(t *testing.T) {
	c := newHostContext(t)
	k, err := c.RegisterKernel("add_buffer")
	require.NoError(t, err)

	a, err := Register(c, make([]float32, 8))
	require.NoError(t, err)
	out, err := Register(c, make([]float32, 8))
	require.NoError(t, err)

	require.NoError(t, c.BindArgument(k, 0, a))
	require.NoError(t, c.BindArgument(k, 2, out), "bindings need not be contiguous")

	err = c.Dispatch(k, 8, 8)
	assert.ErrorIs(t, err, ErrUnboundArgument)
	var unbound *UnboundArgumentError
	require.ErrorAs(t, err, &unbound)
	assert.Equal(t, KernelID("add_buffer"), unbound.Kernel)
	assert.Equal(t, 1, unbound.Index)

	err = c.BindAllAndDispatch(k, 8, 8, a)
	require.ErrorAs(t, err, &unbound, "too few arguments")
	assert.Equal(t, 1, unbound.Index)

	t.Run("index out of range", func(t *testing.T) {
		assert.ErrorIs(t, c.BindArgument(k, 3, a), ErrInvalidArgument)
		assert.ErrorIs(t, c.BindArgument(k, -1, a), ErrInvalidArgument)
		assert.ErrorIs(t, c.BindArgument(k, 0, nil), ErrInvalidArgument)
		assert.ErrorIs(t, c.BindAllAndDispatch(k, 8, 8, a, a, out, out), ErrInvalidArgument)
	})
}

func TestBindAllAndDispatchKeepsBindingsOnFailure(t *testing.T) {
	c := newHostContext(t)
	k, err := c.RegisterKernel("simple_add")
	require.NoError(t, err)

	id, err := Register(c, filled(16, int32(0)))
	require.NoError(t, err)
	other, err := Register(c, filled(16, int32(0)))
	require.NoError(t, err)
	require.NoError(t, c.BindAllAndDispatch(k, 16, 16, id, Scalar[int32](1)))

	t.Run("too few arguments", func(t *testing.T) {
		err := c.BindAllAndDispatch(k, 16, 16, other)
		var unbound *UnboundArgumentError
		require.ErrorAs(t, err, &unbound)
		assert.Equal(t, 1, unbound.Index)
		require.NoError(t, c.Dispatch(k, 16, 16), "earlier bindings still complete")
	})

	t.Run("device rejects a later argument", func(t *testing.T) {
		// The buffer binds, then the 8-byte scalar is refused for an int parameter.
		err := c.BindAllAndDispatch(k, 16, 16, other, Scalar[int64](100))
		require.Error(t, err)
		require.NoError(t, c.Dispatch(k, 16, 16))
	})

	v, err := Reclaim[int32](c, id)
	require.NoError(t, err)
	assert.Equal(t, filled(16, int32(3)), v, "three dispatches on the first buffer")

	w, err := Reclaim[int32](c, other)
	require.NoError(t, err)
	assert.Equal(t, filled(16, int32(0)), w, "the rejected buffer was never dispatched")
}

func TestBindOverwrites(t *testing.T) {
	c := newHostContext(t)
	k, err := c.RegisterKernel("scale")
	require.NoError(t, err)

	id, err := Register(c, filled(8, float32(3)))
	require.NoError(t, err)
	require.NoError(t, c.BindArgument(k, 0, id))
	require.NoError(t, c.BindArgument(k, 1, Scalar[float32](10)))
	require.NoError(t, c.BindArgument(k, 1, Scalar[float32](2)))
	require.NoError(t, c.Dispatch(k, 8, 4))

	v, err := Reclaim[float32](c, id)
	require.NoError(t, err)
	assert.Equal(t, filled(8, float32(6)), v)

	t.Run("scalar size checked by the device", func(t *testing.T) {
		err := c.BindArgument(k, 1, Scalar[float64](2))
		assert.Error(t, err)
	})
}

func TestLocalMemory(t *testing.T) {
	c := newHostContext(t)
	k, err := c.RegisterKernel("group_sum")
	require.NoError(t, err)

	in, err := Register(c, filled(256, int32(2)))
	require.NoError(t, err)
	out, err := Register(c, make([]int32, 8))
	require.NoError(t, err)

	assert.ErrorIs(t, c.BindAllAndDispatch(k, 256, 32, in, out, Local(0)), ErrInvalidArgument)
	require.NoError(t, c.BindAllAndDispatch(k, 256, 32, in, out, Local(4)))

	sums, err := Map[int32](c, out)
	require.NoError(t, err)
	assert.Equal(t, filled(8, int32(64)), sums)
}

func TestHalfScalar(t *testing.T) {
	lib := host.DefaultLibrary().MustRegister(host.KernelSpec{
		Name:  "scale_half",
		Arity: 2,
		Fn: func(wi host.WorkItem, args host.Args) {
			v := host.Slice[float32](args, 0)
			v[wi.GlobalID] *= host.Scalar[float16.Float16](args, 1).Float32()
		},
	})
	cfg := hostConfig()
	cfg.Library = lib

	src := "__kernel void scale_half(__global float *v, half s) { v[get_global_id(0)] *= s; }\n"
	c, err := New(src, 0, WithConfig(cfg))
	require.NoError(t, err)
	defer c.Close()

	k, err := c.RegisterKernel("scale_half")
	require.NoError(t, err)
	id, err := Register(c, filled(4, float32(8)))
	require.NoError(t, err)
	require.NoError(t, c.BindAllAndDispatch(k, 4, 2, id, Half(0.5)))

	v, err := Map[float32](c, id)
	require.NoError(t, err)
	assert.Equal(t, filled(4, float32(4)), v)
}

func TestScalarWidths(t *testing.T) {
	type celsius float32
	tests := []struct {
		arg  Arg
		size int
	}{
		{Scalar(int8(-1)), 1},
		{Scalar(uint16(7)), 2},
		{Scalar(int32(1000)), 4},
		{Scalar(uint64(1)), 8},
		{Scalar(float32(0.5)), 4},
		{Scalar(float64(0.5)), 8},
		{Scalar(celsius(21)), 4},
		{Half(0.5), 2},
	}
	for _, tt := range tests {
		t.Run(tt.arg.String(), func(t *testing.T) {
			s, ok := tt.arg.(scalarArg)
			require.True(t, ok)
			assert.Len(t, s.bytes, tt.size)
		})
	}
}

func TestProfileSink(t *testing.T) {
	sink := &sliceSink{}
	c := newHostContext(t, WithProfileSink(sink))
	k, err := c.RegisterKernel("simple_add")
	require.NoError(t, err)
	id, err := Register(c, make([]int32, 32))
	require.NoError(t, err)

	require.NoError(t, c.BindAllAndDispatch(k, 32, 8, id, Scalar[int32](1)))
	require.NoError(t, c.BindAllAndDispatch(k, 32, 16, id, Scalar[int32](1)))
	assert.Error(t, c.Dispatch(k, 30, 16), "rejected dispatches are not recorded")

	require.Len(t, sink.records, 2)
	first := sink.records[0]
	assert.Equal(t, c.ID(), first.ContextID)
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, "simple_add", first.Kernel)
	assert.Equal(t, "host", first.Backend)
	assert.Equal(t, 32, first.GlobalSize)
	assert.Equal(t, 8, first.LocalSize)
	assert.Empty(t, first.Err)
	assert.Equal(t, uint64(2), sink.records[1].Seq)

	t.Run("failing sink does not fail the dispatch", func(t *testing.T) {
		sink.err = errInjected
		assert.NoError(t, c.Dispatch(k, 32, 32))
		assert.Len(t, sink.records, 3)
	})

	t.Run("device failures are recorded", func(t *testing.T) {
		small, err := Register(c, make([]int32, 4))
		require.NoError(t, err)
		err = c.BindAllAndDispatch(k, 8, 4, small, Scalar[int32](1))
		require.Error(t, err, "kernel indexes past the buffer")
		last := sink.records[len(sink.records)-1]
		assert.Contains(t, last.Err, "panicked")
	})
}
