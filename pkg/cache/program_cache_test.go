package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	src := "__kernel void k(__global int* v) {}"

	assert.Equal(t, Key("host", "-w", src), Key("host", "-w", src))
	assert.NotEqual(t, Key("host", "-w", src), Key("host", "", src), "options are part of the key")
	assert.NotEqual(t, Key("host", "-w", src), Key("opencl", "-w", src), "backend is part of the key")
	assert.NotEqual(t, Key("ab", "c", src), Key("a", "bc", src), "fields are separated")
}

func TestProgramCache_GetPut(t *testing.T) {
	c := NewProgramCache(4, 0)
	k := Key("host", "", "a")

	_, ok := c.Get(k)
	assert.False(t, ok)

	c.Put(k, "program-a")
	v, ok := c.Get(k)
	require.True(t, ok)
	assert.Equal(t, "program-a", v)

	c.Put(k, "program-a2")
	v, _ = c.Get(k)
	assert.Equal(t, "program-a2", v)
	assert.Equal(t, 1, c.Len())

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 66.6, stats.HitRate, 0.1)
}

func TestProgramCache_LRUEviction(t *testing.T) {
	c := NewProgramCache(2, 0)
	a, b, d := Key("host", "", "a"), Key("host", "", "b"), Key("host", "", "d")

	c.Put(a, 1)
	c.Put(b, 2)
	_, _ = c.Get(a) // a becomes most recent
	c.Put(d, 3)     // evicts b

	_, ok := c.Get(b)
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Get(a)
	assert.True(t, ok)
	_, ok = c.Get(d)
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestProgramCache_TTL(t *testing.T) {
	c := NewProgramCache(2, 10*time.Millisecond)
	k := Key("host", "", "a")
	c.Put(k, 1)

	time.Sleep(25 * time.Millisecond)

	_, ok := c.Get(k)
	assert.False(t, ok, "expired entry must miss")
	assert.Equal(t, 0, c.Len())
}

func TestProgramCache_Disabled(t *testing.T) {
	c := NewProgramCache(2, 0)
	k := Key("host", "", "a")
	c.Put(k, 1)

	c.SetEnabled(false)
	assert.Equal(t, 0, c.Len())

	c.Put(k, 1)
	_, ok := c.Get(k)
	assert.False(t, ok)

	c.SetEnabled(true)
	c.Put(k, 1)
	_, ok = c.Get(k)
	assert.True(t, ok)
}
