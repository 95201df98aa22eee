// Package pool provides scratch-memory pooling for the minicl host device.
//
// Every work-group the host device executes may need a block of work-group local
// memory (the OpenCL __local address space). Dispatching a kernel over thousands of
// groups would otherwise allocate and discard one block per group. Scratch blocks are
// recycled through a sync.Pool instead.
//
// Usage:
//
//	buf := pool.GetScratch(4096)
//	defer pool.PutScratch(buf)
//
//	// buf has length 4096 and is zeroed
package pool

import (
	"sync"
)

// PoolConfig configures pooling behavior.
//
// Fields:
//   - Enabled: Controls whether pooling is active (disable for debugging)
//   - MaxBytes: Largest scratch block kept for reuse; bigger blocks are dropped
//
// Example:
//
//	pool.Configure(pool.PoolConfig{
//		Enabled:  true,
//		MaxBytes: 1 << 20,
//	})
type PoolConfig struct {
	// Enabled controls whether pooling is active
	Enabled bool

	// MaxBytes limits the capacity of blocks returned to the pool
	MaxBytes int
}

const defaultScratchCap = 4096

var globalConfig = PoolConfig{
	Enabled:  true,
	MaxBytes: 1 << 20,
}

var scratchPool = newScratchPool()

// Configure sets the global pool configuration.
//
// Call it once during initialization, before dispatching kernels. Reconfiguring
// drops every pooled block.
func Configure(config PoolConfig) {
	if config.MaxBytes <= 0 {
		config.MaxBytes = 1 << 20
	}
	globalConfig = config
	scratchPool = newScratchPool()
}

// IsEnabled returns whether scratch blocks are reused.
func IsEnabled() bool {
	return globalConfig.Enabled
}

func newScratchPool() *sync.Pool {
	return &sync.Pool{
		New: func() any {
			b := make([]byte, 0, defaultScratchCap)
			return &b
		},
	}
}

// GetScratch returns a zeroed block of exactly size bytes.
//
// Local memory has no defined initial contents on real devices; zeroing keeps host
// runs reproducible.
func GetScratch(size int) []byte {
	if size <= 0 {
		return nil
	}
	if !globalConfig.Enabled {
		return make([]byte, size)
	}

	bp := scratchPool.Get().(*[]byte)
	b := *bp
	if cap(b) < size {
		scratchPool.Put(bp)
		return make([]byte, size)
	}
	b = b[:size]
	clear(b)
	return b
}

// PutScratch returns a block obtained from GetScratch. Blocks larger than
// PoolConfig.MaxBytes are left to the garbage collector.
func PutScratch(buf []byte) {
	if !globalConfig.Enabled || buf == nil {
		return
	}
	if cap(buf) > globalConfig.MaxBytes {
		return
	}
	b := buf[:0]
	scratchPool.Put(&b)
}
