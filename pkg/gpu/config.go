package gpu

import (
	"time"

	"github.com/orneryd/minicl/pkg/gpu/host"
)

// Backend names accepted in Config.Backend.
const (
	BackendAuto   = "auto"
	BackendOpenCL = "opencl"
	BackendHost   = host.BackendName
)

// Config selects and opens a compute device.
type Config struct {
	// Backend is "auto", "opencl" or "host". Auto prefers OpenCL and falls back to host.
	Backend string

	// Selector indexes the device list of the chosen backend.
	Selector int

	// BuildOptions is passed to the program compiler.
	BuildOptions string

	// FallbackOnError lets the opencl backend fall back to the host device when
	// OpenCL is not available. The selector is never changed: a selector without a
	// device is an error, and a build failure is never masked by a fallback.
	FallbackOnError bool

	// Library holds the Go kernel implementations for the host backend.
	// Nil means host.DefaultLibrary.
	Library *host.Library

	// CacheEntries and CacheTTL size the host program cache.
	CacheEntries int
	CacheTTL     time.Duration

	// DisableCache compiles every Open from scratch and empties the host program cache.
	DisableCache bool
}

// DefaultConfig returns the default configuration: auto backend, first device, "-w".
func DefaultConfig() *Config {
	return &Config{
		Backend:         BackendAuto,
		Selector:        0,
		BuildOptions:    "-w",
		FallbackOnError: true,
		CacheEntries:    64,
	}
}
