//go:build !opencl
// +build !opencl

package opencl

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orneryd/minicl/pkg/gpu/driver"
)

func TestBackendStub(t *testing.T) {
	b := NewBackend()

	assert.Equal(t, "opencl", b.Name())
	assert.False(t, b.Available(), "Available() should return false on stub")

	devs, err := b.Devices()
	assert.Empty(t, devs)
	assert.ErrorIs(t, err, driver.ErrNotAvailable)

	dev, err := b.Open(0, "__kernel void k() {}", "-w")
	assert.Nil(t, dev)
	assert.ErrorIs(t, err, driver.ErrNotAvailable)
}

func TestBackendImplementsDriver(t *testing.T) {
	var _ driver.Backend = NewBackend()
}
