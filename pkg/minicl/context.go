package minicl

import (
	"runtime"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/orneryd/minicl/pkg/gpu"
	"github.com/orneryd/minicl/pkg/gpu/driver"
)

// Context is an opened device with its kernel and buffer registries.
//
// Create one with New, release it with Close. Every operation on a closed context
// returns ErrContextClosed.
type Context struct {
	id   uuid.UUID
	dev  driver.Device
	info driver.DeviceInfo

	kernels     map[KernelID]*kernelEntry
	kernelOrder []KernelID
	buffers     bufferTable

	sink ProfileSink
	seq  uint64

	created    time.Time
	dispatches uint64
	closed     bool
}

// Stats summarizes a context's registries and dispatch activity.
type Stats struct {
	Kernels     int
	Buffers     int
	DeviceOwned int
	HostOwned   int
	Bytes       int64
	Dispatches  uint64
	Uptime      time.Duration
}

type options struct {
	cfg          *gpu.Config
	sink         ProfileSink
	buildOptions *string
}

// Option configures New and NewWithDevice.
type Option func(*options)

// WithConfig selects backend, fallback and cache settings. The selector argument of
// New overrides cfg.Selector.
func WithConfig(cfg *gpu.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithProfileSink records one DispatchRecord per dispatch into sink.
func WithProfileSink(sink ProfileSink) Option {
	return func(o *options) { o.sink = sink }
}

// WithBuildOptions overrides the compiler options (default "-w").
func WithBuildOptions(opts string) Option {
	return func(o *options) { o.buildOptions = &opts }
}

// New compiles source on the device chosen by selector and returns a ready context.
//
// A compile failure is returned as *BuildError carrying the compiler log. Any other
// failure to obtain a device (no platform, selector out of range) wraps
// ErrDeviceUnavailable.
func New(source string, selector int, opts ...Option) (*Context, error) {
	o := applyOptions(opts)

	cfg := *gpu.DefaultConfig()
	if o.cfg != nil {
		cfg = *o.cfg
	}
	cfg.Selector = selector
	if o.buildOptions != nil {
		cfg.BuildOptions = *o.buildOptions
	}

	dev, err := gpu.Open(&cfg, source)
	if err != nil {
		var buildErr *driver.BuildError
		if errors.As(err, &buildErr) {
			klog.V(1).Infof("minicl: build failed on %s:\n%s", buildErr.Backend, buildErr.Log)
			return nil, &BuildError{Log: buildErr.Log}
		}
		return nil, errors.Wrapf(ErrDeviceUnavailable, "selector %d: %v", selector, err)
	}

	return newContext(dev, o), nil
}

// NewWithDevice wraps an already opened device. The context takes ownership of dev
// and releases it on Close.
func NewWithDevice(dev driver.Device, opts ...Option) (*Context, error) {
	if dev == nil {
		return nil, errors.Wrap(ErrDeviceUnavailable, "nil device")
	}
	return newContext(dev, applyOptions(opts)), nil
}

func applyOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func newContext(dev driver.Device, o *options) *Context {
	c := &Context{
		id:      uuid.New(),
		dev:     dev,
		info:    dev.Info(),
		kernels: make(map[KernelID]*kernelEntry),
		buffers: newBufferTable(),
		sink:    o.sink,
		created: time.Now(),
	}

	if log := dev.BuildLog(); log != "" {
		klog.V(1).Infof("minicl: build messages:\n%s", log)
	}
	klog.V(1).Infof("minicl: context %s created on %s device %q", c.id, c.info.Backend, c.info.Name)

	runtime.SetFinalizer(c, func(c *Context) {
		if c.closed {
			return
		}
		klog.Warningf("minicl: context %s was never closed; releasing it", c.id)
		if err := c.Close(); err != nil {
			klog.Warningf("minicl: context %s: %v", c.id, err)
		}
	})
	return c
}

func (c *Context) checkOpen() error {
	if c.closed {
		return errors.WithStack(ErrContextClosed)
	}
	return nil
}

// ID is the process-unique identifier of the context, used in logs and profile records.
func (c *Context) ID() string { return c.id.String() }

// Device describes the device the context runs on.
func (c *Context) Device() driver.DeviceInfo { return c.info }

// BuildLog returns the compiler messages of the successful build, usually empty.
func (c *Context) BuildLog() string {
	if c.closed {
		return ""
	}
	return c.dev.BuildLog()
}

// Kernels lists the registered kernels in registration order.
func (c *Context) Kernels() []KernelID {
	return slices.Clone(c.kernelOrder)
}

// Buffers returns the number of live buffer records.
func (c *Context) Buffers() int {
	return c.buffers.live
}

func (c *Context) Stats() Stats {
	s := Stats{
		Kernels:    len(c.kernels),
		Buffers:    c.buffers.live,
		Dispatches: c.dispatches,
		Uptime:     time.Since(c.created),
	}
	c.buffers.each(func(rec *bufferRecord) {
		switch rec.state {
		case DeviceOwned:
			s.DeviceOwned++
		case HostOwned:
			s.HostOwned++
		}
		s.Bytes += int64(len(rec.host))
	})
	return s
}
