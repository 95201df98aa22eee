package minicl

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferRoundTrip(t *testing.T) {
	c := newHostContext(t)

	data := []int32{1, 2, 3, 4, 5, 6, 7, 8}
	addr := unsafe.SliceData(data)

	id, err := Register(c, data)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Buffers())

	state, err := c.State(id)
	require.NoError(t, err)
	assert.Equal(t, DeviceOwned, state)

	n, err := c.Len(id)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	v, err := Map[int32](c, id)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 3, 4, 5, 6, 7, 8}, v)
	assert.Equal(t, addr, unsafe.SliceData(v), "map returns the registered memory")

	state, _ = c.State(id)
	assert.Equal(t, HostOwned, state)

	v[0] = 100
	back, err := Unmap(c, v)
	require.NoError(t, err)
	assert.Equal(t, id, back)

	state, _ = c.State(id)
	assert.Equal(t, DeviceOwned, state)

	v, err = Map[int32](c, id)
	require.NoError(t, err)
	assert.Equal(t, int32(100), v[0])
}

func TestBufferStateExclusivity(t *testing.T) {
	c := newHostContext(t)

	id, err := Register(c, make([]float32, 16))
	require.NoError(t, err)

	v, err := Map[float32](c, id)
	require.NoError(t, err)

	_, err = Map[float32](c, id)
	assert.ErrorIs(t, err, ErrBufferStateViolation, "second map")

	_, err = Unmap(c, v)
	require.NoError(t, err)

	_, err = Unmap(c, v)
	assert.ErrorIs(t, err, ErrBufferStateViolation, "second unmap")

	state, err := c.State(id)
	require.NoError(t, err)
	assert.Equal(t, DeviceOwned, state, "failed calls leave the state alone")
}

func TestRegister(t *testing.T) {
	c := newHostContext(t)

	t.Run("empty", func(t *testing.T) {
		_, err := Register(c, []int32{})
		assert.ErrorIs(t, err, ErrEmptyBuffer)
		_, err = Register[int32](c, nil)
		assert.ErrorIs(t, err, ErrEmptyBuffer)
	})

	t.Run("same address twice", func(t *testing.T) {
		data := make([]int64, 4)
		_, err := Register(c, data)
		require.NoError(t, err)

		_, err = Register(c, data)
		assert.ErrorIs(t, err, ErrBufferAlreadyRegistered)

		_, err = Register(c, data[:2])
		assert.ErrorIs(t, err, ErrBufferAlreadyRegistered)
	})

	t.Run("overlapping memory", func(t *testing.T) {
		v := make([]int32, 64)
		parent, err := Register(c, v)
		require.NoError(t, err)
		live := c.Buffers()

		for name, part := range map[string][]int32{
			"tail":   v[8:],
			"middle": v[10:20],
			"last":   v[63:],
		} {
			_, err := Register(c, part)
			assert.ErrorIs(t, err, ErrBufferAlreadyRegistered, name)
		}
		assert.Equal(t, live, c.Buffers())

		state, err := c.State(parent)
		require.NoError(t, err)
		assert.Equal(t, DeviceOwned, state)

		// Once released the memory may be registered again, in part.
		require.NoError(t, c.Release(parent))
		_, err = Register(c, v[8:])
		assert.NoError(t, err)
	})

	t.Run("adjacent memory", func(t *testing.T) {
		v := make([]int32, 16)
		_, err := Register(c, v[:8])
		require.NoError(t, err)
		_, err = Register(c, v[8:])
		assert.NoError(t, err)
	})

	t.Run("distinct ids", func(t *testing.T) {
		a, err := Register(c, make([]uint8, 3))
		require.NoError(t, err)
		b, err := Register(c, make([]uint8, 3))
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})
}

func TestBufferIDs(t *testing.T) {
	c := newHostContext(t)

	first, err := Register(c, make([]int32, 4))
	require.NoError(t, err)
	require.NoError(t, c.Release(first))

	t.Run("released id is stale", func(t *testing.T) {
		_, err := c.State(first)
		assert.ErrorIs(t, err, ErrStaleBuffer)
		_, err = Map[int32](c, first)
		assert.ErrorIs(t, err, ErrStaleBuffer)
		assert.ErrorIs(t, c.Release(first), ErrStaleBuffer)
	})

	t.Run("reused slot keeps old id stale", func(t *testing.T) {
		second, err := Register(c, make([]int32, 4))
		require.NoError(t, err)
		assert.Equal(t, first.slot, second.slot)
		assert.NotEqual(t, first, second)

		_, err = c.State(first)
		assert.ErrorIs(t, err, ErrStaleBuffer)
		state, err := c.State(second)
		require.NoError(t, err)
		assert.Equal(t, DeviceOwned, state)
	})

	t.Run("never issued id", func(t *testing.T) {
		_, err := c.State(BufferID{})
		assert.ErrorIs(t, err, ErrUnknownBuffer)
		_, err = c.State(BufferID{slot: 99, gen: 1})
		assert.ErrorIs(t, err, ErrUnknownBuffer)
	})

	t.Run("unmap of unknown memory", func(t *testing.T) {
		_, err := Unmap(c, make([]int32, 4))
		assert.ErrorIs(t, err, ErrUnknownBuffer)
		_, err = Unmap(c, []int32{})
		assert.ErrorIs(t, err, ErrUnknownBuffer)
	})
}

func TestElementMismatch(t *testing.T) {
	c := newHostContext(t)

	id, err := Register(c, make([]float64, 8))
	require.NoError(t, err)

	_, err = Map[float32](c, id)
	assert.ErrorIs(t, err, ErrElementMismatch)

	v, err := Map[float64](c, id)
	require.NoError(t, err)

	_, err = Unmap(c, v[:4])
	assert.ErrorIs(t, err, ErrElementMismatch, "partial view")

	same := unsafe.Slice((*int64)(unsafe.Pointer(unsafe.SliceData(v))), len(v))
	_, err = Unmap(c, same)
	require.NoError(t, err, "same size elements at the same address")

	_, err = Reclaim[int16](c, id)
	assert.ErrorIs(t, err, ErrElementMismatch)
}

func TestRelease(t *testing.T) {
	c := newHostContext(t)

	t.Run("device owned", func(t *testing.T) {
		data := filled(32, int32(7))
		id, err := Register(c, data)
		require.NoError(t, err)

		require.NoError(t, c.Release(id))
		assert.Zero(t, c.Buffers())
		// The memory is an ordinary allocation again.
		assert.Equal(t, int32(7), data[31])
	})

	t.Run("host owned", func(t *testing.T) {
		id, err := Register(c, filled(32, int32(7)))
		require.NoError(t, err)
		v, err := Map[int32](c, id)
		require.NoError(t, err)

		require.NoError(t, c.Release(id))
		assert.Zero(t, c.Buffers())

		_, err = Unmap(c, v)
		assert.ErrorIs(t, err, ErrUnknownBuffer, "released memory is no longer tracked")

		again, err := Register(c, v)
		require.NoError(t, err, "the memory can be registered again")
		assert.NotEqual(t, id, again)
	})
}

func TestReclaim(t *testing.T) {
	c := newHostContext(t)
	k, err := c.RegisterKernel("simple_add")
	require.NoError(t, err)

	id, err := Register(c, filled(16, int32(1)))
	require.NoError(t, err)
	require.NoError(t, c.BindAllAndDispatch(k, 16, 4, id, Scalar[int32](41)))

	v, err := Reclaim[int32](c, id)
	require.NoError(t, err)
	assert.Equal(t, filled(16, int32(42)), v)
	assert.Zero(t, c.Buffers())

	_, err = c.State(id)
	assert.ErrorIs(t, err, ErrStaleBuffer)

	t.Run("host owned", func(t *testing.T) {
		id, err := Register(c, filled(4, uint16(9)))
		require.NoError(t, err)
		mapped, err := Map[uint16](c, id)
		require.NoError(t, err)

		v, err := Reclaim[uint16](c, id)
		require.NoError(t, err)
		assert.Equal(t, unsafe.SliceData(mapped), unsafe.SliceData(v))
	})
}

func TestAddressMoved(t *testing.T) {
	c, err := NewWithDevice(&movingDevice{Device: openHostDevice(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	id, err := Register(c, make([]int32, 8))
	require.NoError(t, err)

	_, err = Map[int32](c, id)
	assert.ErrorIs(t, err, ErrAddressMoved)

	state, err := c.State(id)
	require.NoError(t, err)
	assert.Equal(t, DeviceOwned, state)
}

func TestStats(t *testing.T) {
	c := newHostContext(t)
	_, err := c.RegisterKernel("scale")
	require.NoError(t, err)

	a, err := Register(c, make([]float32, 8))
	require.NoError(t, err)
	_, err = Register(c, make([]float64, 8))
	require.NoError(t, err)
	_, err = Map[float32](c, a)
	require.NoError(t, err)

	s := c.Stats()
	assert.Equal(t, 1, s.Kernels)
	assert.Equal(t, 2, s.Buffers)
	assert.Equal(t, 1, s.DeviceOwned)
	assert.Equal(t, 1, s.HostOwned)
	assert.Equal(t, int64(32+64), s.Bytes)
}
