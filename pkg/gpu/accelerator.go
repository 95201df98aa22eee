// Package gpu selects a compute backend and opens a device on it.
//
// Backends are tried in preference order, the same way for every caller:
//   - opencl: real devices through OpenCL (binary built with -tags opencl)
//   - host: the pure-Go software device, always available
//
// Usage:
//
//	dev, err := gpu.Open(gpu.DefaultConfig(), source)
//	if err != nil {
//		var buildErr *driver.BuildError
//		if errors.As(err, &buildErr) {
//			fmt.Println(buildErr.Log)
//		}
//		return err
//	}
//	fmt.Println(dev.Info().Name)
package gpu

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"

	"github.com/orneryd/minicl/pkg/cache"
	"github.com/orneryd/minicl/pkg/gpu/driver"
	"github.com/orneryd/minicl/pkg/gpu/host"
	"github.com/orneryd/minicl/pkg/gpu/opencl"
)

var (
	// ErrNoBackend is returned when no backend could open a device.
	ErrNoBackend = errors.New("gpu: no compute backend available")

	// ErrUnknownBackend is returned for a backend name Open does not know.
	ErrUnknownBackend = errors.New("gpu: unknown backend")
)

var (
	hostMu       sync.Mutex
	hostBackends = map[*host.Library]*host.Backend{}
	defaultLib   = host.DefaultLibrary()
)

// hostBackend returns the host backend for lib. Backends are shared per library so
// repeated opens over the same source hit the program cache.
func hostBackend(cfg *Config) *host.Backend {
	lib := cfg.Library
	if lib == nil {
		lib = defaultLib
	}

	hostMu.Lock()
	defer hostMu.Unlock()

	b, ok := hostBackends[lib]
	if !ok {
		b = host.NewBackend(lib, cache.NewProgramCache(cfg.CacheEntries, cfg.CacheTTL))
		hostBackends[lib] = b
	}
	b.Programs().SetEnabled(!cfg.DisableCache)
	return b
}

// Backends lists every registered backend in preference order, available or not.
func Backends() []driver.Backend {
	return []driver.Backend{opencl.NewBackend(), hostBackend(DefaultConfig())}
}

// Devices lists the devices of every available backend.
func Devices() ([]driver.DeviceInfo, error) {
	var (
		all  []driver.DeviceInfo
		errs error
	)
	for _, b := range Backends() {
		if !b.Available() {
			continue
		}
		devs, err := b.Devices()
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "gpu: %s devices", b.Name()))
			continue
		}
		all = append(all, devs...)
	}
	return all, errs
}

// Open builds source on the configured device.
//
// Every candidate backend opens cfg.Selector. A backend that is not available is
// skipped in favor of the next one when the backend is "auto" or FallbackOnError is
// set. A selector the chosen backend has no device for (driver.ErrNoDevice) and a
// *driver.BuildError both stop the search.
func Open(cfg *Config, source string) (driver.Device, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var candidates []string
	switch cfg.Backend {
	case BackendAuto, "":
		candidates = []string{BackendOpenCL, BackendHost}
	case BackendOpenCL:
		candidates = []string{BackendOpenCL}
		if cfg.FallbackOnError {
			candidates = append(candidates, BackendHost)
		}
	case BackendHost:
		candidates = []string{BackendHost}
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", cfg.Backend)
	}

	var errs error
	for i, name := range candidates {
		dev, err := tryBackend(name, cfg, cfg.Selector, source)
		if err == nil {
			klog.V(1).Infof("gpu: opened %s device %d %q", name, cfg.Selector, dev.Info().Name)
			return dev, nil
		}

		var buildErr *driver.BuildError
		if errors.As(err, &buildErr) {
			return nil, err
		}
		errs = multierr.Append(errs, err)

		if !errors.Is(err, driver.ErrNotAvailable) {
			break
		}
		if i+1 < len(candidates) {
			klog.V(1).Infof("gpu: %s unavailable (%v), trying %s", name, err, candidates[i+1])
		}
	}

	return nil, errors.Wrap(multierr.Append(ErrNoBackend, errs), "gpu: open")
}

// tryBackend attempts to open a device on a specific backend.
func tryBackend(name string, cfg *Config, selector int, source string) (driver.Device, error) {
	var b driver.Backend
	switch name {
	case BackendOpenCL:
		b = opencl.NewBackend()
	case BackendHost:
		b = hostBackend(cfg)
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q", name)
	}

	if !b.Available() {
		return nil, errors.Wrapf(driver.ErrNotAvailable, "gpu: %s", name)
	}
	return b.Open(selector, source, cfg.BuildOptions)
}
