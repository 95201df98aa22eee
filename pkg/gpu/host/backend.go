package host

import (
	"runtime"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/orneryd/minicl/pkg/cache"
	"github.com/orneryd/minicl/pkg/gpu/driver"
)

// BackendName is the configuration name of the host backend.
const BackendName = "host"

// MaxWorkGroupSize is the largest local size the host device accepts.
const MaxWorkGroupSize = 1024

// Backend opens host devices that link kernel source against a Library.
type Backend struct {
	lib      *Library
	programs *cache.ProgramCache
}

// NewBackend returns a host backend over lib. A nil lib means DefaultLibrary and a
// nil programs cache means a private cache of default size.
func NewBackend(lib *Library, programs *cache.ProgramCache) *Backend {
	if lib == nil {
		lib = DefaultLibrary()
	}
	if programs == nil {
		programs = cache.NewProgramCache(0, 0)
	}
	return &Backend{lib: lib, programs: programs}
}

func (b *Backend) Name() string { return BackendName }

// Available is always true: the host device needs nothing beyond the Go runtime.
func (b *Backend) Available() bool { return true }

// Library returns the kernel implementations this backend links against.
func (b *Backend) Library() *Library { return b.lib }

// Programs returns the cache of built programs.
func (b *Backend) Programs() *cache.ProgramCache { return b.programs }

func (b *Backend) Devices() ([]driver.DeviceInfo, error) {
	return []driver.DeviceInfo{deviceInfo()}, nil
}

func deviceInfo() driver.DeviceInfo {
	return driver.DeviceInfo{
		Backend:          BackendName,
		Index:            0,
		Platform:         "minicl host",
		Name:             runtime.GOARCH + " software device",
		Vendor:           "minicl",
		MaxWorkGroupSize: MaxWorkGroupSize,
	}
}

func (b *Backend) Open(selector int, source, options string) (driver.Device, error) {
	if selector != 0 {
		return nil, errors.Wrapf(driver.ErrNoDevice, "host: selector %d (only device 0 exists)", selector)
	}

	key := cache.Key(BackendName, options, source)
	if cached, ok := b.programs.Get(key); ok {
		klog.V(2).Infof("host: program cache hit")
		return newDevice(deviceInfo(), cached.(*program)), nil
	}

	prog, log, ok := compile(source, options, b.lib)
	if !ok {
		return nil, &driver.BuildError{Backend: BackendName, Log: log}
	}
	b.programs.Put(key, prog)
	klog.V(2).Infof("host: built program with %d kernel(s)", len(prog.kernels))
	return newDevice(deviceInfo(), prog), nil
}
