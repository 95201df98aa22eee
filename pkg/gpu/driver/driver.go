// Package driver defines the device-level contract that every minicl backend implements.
//
// A backend is a thin adapter over a compute API (OpenCL, or the pure-Go host device). It knows
// nothing about ownership states: it creates buffers over caller memory, maps and unmaps them,
// sets kernel arguments, enqueues kernels and releases resources when asked. The state machine
// that decides when each of those calls is legal lives in package minicl.
//
// Backends:
//   - host: software device running kernels implemented in Go (always available)
//   - opencl: OpenCL through cgo (build with -tags opencl)
package driver

import (
	"errors"
	"fmt"
)

// Errors returned by backends. Callers match them with errors.Is.
var (
	ErrNoDevice      = errors.New("driver: no device for selector")
	ErrUnknownKernel = errors.New("driver: unknown kernel name")
	ErrNotAvailable  = errors.New("driver: backend not available")
	ErrReleased      = errors.New("driver: resource already released")
	ErrForeignObject = errors.New("driver: object belongs to another device")
)

// BuildError carries the compiler diagnostic log of a failed program build.
type BuildError struct {
	Backend string
	Log     string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("driver: %s program build failed:\n%s", e.Backend, e.Log)
}

// DeviceInfo describes one enumerated device.
type DeviceInfo struct {
	Backend          string
	Index            int
	Platform         string
	Name             string
	Vendor           string
	MemoryBytes      uint64
	MaxWorkGroupSize int
}

// Backend enumerates devices and opens them with a compiled program.
type Backend interface {
	// Name is the short backend identifier used in configuration ("host", "opencl").
	Name() string

	// Available reports whether the backend can open any device on this system.
	Available() bool

	// Devices lists the selectable devices in selector order.
	Devices() ([]DeviceInfo, error)

	// Open selects a device, creates its queue and builds source with options.
	// A compile failure is returned as *BuildError.
	Open(selector int, source, options string) (Device, error)
}

// Memory is a device-resident allocation backed by host memory.
type Memory interface {
	// Size returns the allocation size in bytes.
	Size() int
}

// Kernel is a compiled, invocable entry point.
type Kernel interface {
	Name() string

	// NumArgs returns the declared argument count, or 0 if unknown.
	NumArgs() int

	SetArg(index int, value []byte) error
	SetArgMemory(index int, mem Memory) error
	SetArgLocal(index int, size int) error
}

// Device is an opened device with its command queue and compiled program.
//
// Implementations are used from a single goroutine at a time.
type Device interface {
	Info() DeviceInfo

	// BuildLog returns the diagnostics of the successful build (warnings), possibly empty.
	// Backends whose binding cannot query the log of a successful build return "".
	BuildLog() string

	CreateKernel(name string) (Kernel, error)

	// CreateBuffer creates a device buffer that uses host as its backing store (no copy).
	// The caller guarantees host stays at the same address until ReleaseMemory.
	CreateBuffer(host []byte) (Memory, error)

	// Map blocks until pending work on mem completes and returns a host view of its bytes.
	Map(mem Memory) ([]byte, error)

	// Unmap hands a mapped view back to the device.
	Unmap(mem Memory, host []byte) error

	// Enqueue submits kernel over global work items grouped by local. It may return
	// before the device finishes.
	Enqueue(kernel Kernel, global, local int) error

	// Finish blocks until every enqueued command has completed.
	Finish() error

	ReleaseMemory(mem Memory) error
	ReleaseKernel(kernel Kernel) error
	ReleaseQueue() error
	ReleaseProgram() error
	ReleaseDevice() error
	ReleaseContext() error
}
