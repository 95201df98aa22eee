package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetScratch(t *testing.T) {
	t.Run("exact size and zeroed", func(t *testing.T) {
		buf := GetScratch(128)
		assert.Len(t, buf, 128)
		for i := range buf {
			buf[i] = 0xFF
		}
		PutScratch(buf)

		again := GetScratch(64)
		assert.Len(t, again, 64)
		for _, b := range again {
			if b != 0 {
				t.Fatal("recycled scratch must be zeroed")
			}
		}
		PutScratch(again)
	})

	t.Run("zero size", func(t *testing.T) {
		assert.Nil(t, GetScratch(0))
		PutScratch(nil)
	})

	t.Run("larger than pooled capacity", func(t *testing.T) {
		buf := GetScratch(defaultScratchCap * 4)
		assert.Len(t, buf, defaultScratchCap*4)
		PutScratch(buf)
	})
}

func TestConfigure(t *testing.T) {
	defer Configure(PoolConfig{Enabled: true, MaxBytes: 1 << 20})

	Configure(PoolConfig{Enabled: false})
	assert.False(t, IsEnabled())
	buf := GetScratch(16)
	assert.Len(t, buf, 16)
	PutScratch(buf)

	Configure(PoolConfig{Enabled: true, MaxBytes: 8})
	assert.True(t, IsEnabled())
	big := GetScratch(32)
	PutScratch(big) // dropped, over MaxBytes
	assert.Len(t, GetScratch(32), 32)
}
