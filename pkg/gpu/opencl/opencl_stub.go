//go:build !opencl
// +build !opencl

package opencl

import (
	"github.com/pkg/errors"

	"github.com/orneryd/minicl/pkg/gpu/driver"
)

// ErrOpenCLNotAvailable is returned by every stub operation.
var ErrOpenCLNotAvailable = errors.Wrap(driver.ErrNotAvailable, "opencl: built without the opencl tag")

// Backend is the stub OpenCL backend for builds without cgo/OpenCL.
type Backend struct{}

// NewBackend returns the stub backend.
func NewBackend() *Backend { return &Backend{} }

func (b *Backend) Name() string { return BackendName }

// Available returns false on builds without OpenCL.
func (b *Backend) Available() bool { return false }

// Devices returns ErrOpenCLNotAvailable.
func (b *Backend) Devices() ([]driver.DeviceInfo, error) {
	return nil, ErrOpenCLNotAvailable
}

// Open returns ErrOpenCLNotAvailable.
func (b *Backend) Open(selector int, source, options string) (driver.Device, error) {
	return nil, ErrOpenCLNotAvailable
}
