//go:build opencl
// +build opencl

package opencl

import (
	"unsafe"

	"github.com/jgillich/go-opencl/cl"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/orneryd/minicl/pkg/gpu/driver"
)

// Backend opens OpenCL devices through the system ICD loader.
type Backend struct{}

// NewBackend returns the OpenCL backend.
func NewBackend() *Backend { return &Backend{} }

func (b *Backend) Name() string { return BackendName }

// Available reports whether at least one OpenCL device is visible.
func (b *Backend) Available() bool {
	devs, err := b.Devices()
	return err == nil && len(devs) > 0
}

type selectable struct {
	platform *cl.Platform
	device   *cl.Device
}

// enumerate flattens every platform's devices into selector order.
func enumerate() ([]selectable, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		return nil, errors.Wrap(err, "opencl: get platforms")
	}

	var all []selectable
	for _, p := range platforms {
		devices, err := p.GetDevices(cl.DeviceTypeAll)
		if err != nil {
			if err != cl.ErrDeviceNotFound {
				klog.V(2).Infof("opencl: platform %q: %v", p.Name(), err)
			}
			continue
		}
		for _, d := range devices {
			all = append(all, selectable{platform: p, device: d})
		}
	}
	return all, nil
}

func info(index int, s selectable) driver.DeviceInfo {
	return driver.DeviceInfo{
		Backend:          BackendName,
		Index:            index,
		Platform:         s.platform.Name(),
		Name:             s.device.Name(),
		Vendor:           s.device.Vendor(),
		MemoryBytes:      uint64(s.device.GlobalMemSize()),
		MaxWorkGroupSize: s.device.MaxWorkGroupSize(),
	}
}

func (b *Backend) Devices() ([]driver.DeviceInfo, error) {
	all, err := enumerate()
	if err != nil {
		return nil, err
	}
	infos := make([]driver.DeviceInfo, len(all))
	for i, s := range all {
		infos[i] = info(i, s)
	}
	return infos, nil
}

func (b *Backend) Open(selector int, source, options string) (driver.Device, error) {
	all, err := enumerate()
	if err != nil {
		return nil, err
	}
	if selector < 0 || selector >= len(all) {
		return nil, errors.Wrapf(driver.ErrNoDevice, "opencl: selector %d (%d device(s))", selector, len(all))
	}
	sel := all[selector]

	d := &Device{info: info(selector, sel), device: sel.device}
	ok := false
	defer func() {
		if !ok {
			d.abandon()
		}
	}()

	if d.context, err = cl.CreateContext([]*cl.Device{sel.device}); err != nil {
		return nil, errors.Wrap(err, "opencl: create context")
	}
	if d.queue, err = d.context.CreateCommandQueue(sel.device, 0); err != nil {
		return nil, errors.Wrap(err, "opencl: create command queue")
	}
	if d.program, err = d.context.CreateProgramWithSource([]string{source}); err != nil {
		return nil, errors.Wrap(err, "opencl: create program")
	}
	if err := d.program.BuildProgram([]*cl.Device{sel.device}, options); err != nil {
		if buildErr, isBuild := err.(cl.BuildError); isBuild {
			return nil, &driver.BuildError{Backend: BackendName, Log: string(buildErr)}
		}
		return nil, errors.Wrap(err, "opencl: build program")
	}

	ok = true
	return d, nil
}

// Device is an opened OpenCL device with one in-order command queue.
type Device struct {
	info    driver.DeviceInfo
	device  *cl.Device
	context *cl.Context
	queue   *cl.CommandQueue
	program *cl.Program
}

// abandon releases whatever a failed Open managed to create.
func (d *Device) abandon() {
	if d.program != nil {
		d.program.Release()
	}
	if d.queue != nil {
		d.queue.Release()
	}
	if d.context != nil {
		d.context.Release()
	}
}

func (d *Device) Info() driver.DeviceInfo { return d.info }

// BuildLog is always empty: go-opencl only exposes the log of a failed build,
// which Open returns as a *driver.BuildError.
func (d *Device) BuildLog() string { return "" }

type kernel struct {
	dev  *Device
	name string
	k    *cl.Kernel
}

func (k *kernel) Name() string { return k.name }

func (k *kernel) NumArgs() int {
	if k.k == nil {
		return 0
	}
	n, err := k.k.NumArgs()
	if err != nil {
		return 0
	}
	return n
}

func (k *kernel) SetArg(index int, value []byte) error {
	if k.k == nil {
		return errors.Wrapf(driver.ErrReleased, "opencl: kernel %s", k.name)
	}
	if len(value) == 0 {
		return errors.Errorf("opencl: empty value for argument %d", index)
	}
	return errors.Wrapf(k.k.SetArgUnsafe(index, len(value), unsafe.Pointer(&value[0])),
		"opencl: kernel %s argument %d", k.name, index)
}

func (k *kernel) SetArgMemory(index int, mem driver.Memory) error {
	if k.k == nil {
		return errors.Wrapf(driver.ErrReleased, "opencl: kernel %s", k.name)
	}
	m, err := k.dev.memory(mem)
	if err != nil {
		return err
	}
	return errors.Wrapf(k.k.SetArgBuffer(index, m.obj), "opencl: kernel %s argument %d", k.name, index)
}

func (k *kernel) SetArgLocal(index int, size int) error {
	if k.k == nil {
		return errors.Wrapf(driver.ErrReleased, "opencl: kernel %s", k.name)
	}
	return errors.Wrapf(k.k.SetArgLocal(index, size), "opencl: kernel %s argument %d", k.name, index)
}

type memory struct {
	dev    *Device
	obj    *cl.MemObject
	host   []byte
	mapped *cl.MappedMemObject
}

func (m *memory) Size() int { return len(m.host) }

func (d *Device) memory(mem driver.Memory) (*memory, error) {
	m, ok := mem.(*memory)
	if !ok || m == nil || m.dev != d {
		return nil, errors.WithStack(driver.ErrForeignObject)
	}
	if m.obj == nil {
		return nil, errors.Wrap(driver.ErrReleased, "opencl: memory")
	}
	return m, nil
}

func (d *Device) CreateKernel(name string) (driver.Kernel, error) {
	if d.program == nil {
		return nil, errors.Wrap(driver.ErrReleased, "opencl: program")
	}
	k, err := d.program.CreateKernel(name)
	if err != nil {
		return nil, errors.Wrapf(driver.ErrUnknownKernel, "opencl: %q: %v", name, err)
	}
	return &kernel{dev: d, name: name, k: k}, nil
}

// CreateBuffer wraps host with CL_MEM_USE_HOST_PTR. The implementation may cache the
// contents on the device; Map synchronizes them back into host.
func (d *Device) CreateBuffer(host []byte) (driver.Memory, error) {
	if d.context == nil {
		return nil, errors.Wrap(driver.ErrReleased, "opencl: context")
	}
	if len(host) == 0 {
		return nil, errors.New("opencl: cannot create a zero-length buffer")
	}
	obj, err := d.context.CreateBufferUnsafe(cl.MemReadWrite|cl.MemUseHostPtr, len(host), unsafe.Pointer(&host[0]))
	if err != nil {
		return nil, errors.Wrap(err, "opencl: create buffer")
	}
	return &memory{dev: d, obj: obj, host: host}, nil
}

func (d *Device) Map(mem driver.Memory) ([]byte, error) {
	m, err := d.memory(mem)
	if err != nil {
		return nil, err
	}
	mapped, event, err := d.queue.EnqueueMapBuffer(m.obj, true, cl.MapFlagRead|cl.MapFlagWrite, 0, len(m.host), nil)
	if err != nil {
		return nil, errors.Wrap(err, "opencl: map buffer")
	}
	if event != nil {
		event.Release()
	}
	m.mapped = mapped
	return unsafe.Slice((*byte)(mapped.Ptr()), len(m.host)), nil
}

func (d *Device) Unmap(mem driver.Memory, host []byte) error {
	m, err := d.memory(mem)
	if err != nil {
		return err
	}
	if m.mapped == nil {
		return errors.New("opencl: memory is not mapped")
	}
	if len(host) != len(m.host) || unsafe.Pointer(unsafe.SliceData(host)) != m.mapped.Ptr() {
		return errors.New("opencl: unmap view does not match the mapped region")
	}
	event, err := d.queue.EnqueueUnmapMemObject(m.obj, m.mapped, nil)
	if err != nil {
		return errors.Wrap(err, "opencl: unmap buffer")
	}
	if event != nil {
		event.Release()
	}
	m.mapped = nil
	return nil
}

func (d *Device) Enqueue(k driver.Kernel, global, local int) error {
	if d.queue == nil {
		return errors.Wrap(driver.ErrReleased, "opencl: queue")
	}
	kk, ok := k.(*kernel)
	if !ok || kk == nil || kk.dev != d {
		return errors.WithStack(driver.ErrForeignObject)
	}
	if kk.k == nil {
		return errors.Wrapf(driver.ErrReleased, "opencl: kernel %s", kk.name)
	}
	event, err := d.queue.EnqueueNDRangeKernel(kk.k, nil, []int{global}, []int{local}, nil)
	if err != nil {
		return errors.Wrapf(err, "opencl: enqueue %s", kk.name)
	}
	if event != nil {
		event.Release()
	}
	return nil
}

func (d *Device) Finish() error {
	if d.queue == nil {
		return errors.Wrap(driver.ErrReleased, "opencl: queue")
	}
	return errors.Wrap(d.queue.Finish(), "opencl: finish")
}

func (d *Device) ReleaseMemory(mem driver.Memory) error {
	m, err := d.memory(mem)
	if err != nil {
		return err
	}
	var unmapErr error
	if m.mapped != nil && d.queue != nil {
		event, err := d.queue.EnqueueUnmapMemObject(m.obj, m.mapped, nil)
		if err != nil {
			unmapErr = errors.Wrap(err, "opencl: unmap before release")
		} else if event != nil {
			event.Release()
		}
	}
	m.obj.Release()
	m.obj = nil
	m.mapped = nil
	return unmapErr
}

func (d *Device) ReleaseKernel(k driver.Kernel) error {
	kk, ok := k.(*kernel)
	if !ok || kk == nil || kk.dev != d {
		return errors.WithStack(driver.ErrForeignObject)
	}
	if kk.k == nil {
		return errors.Wrapf(driver.ErrReleased, "opencl: kernel %s", kk.name)
	}
	kk.k.Release()
	kk.k = nil
	return nil
}

func (d *Device) ReleaseQueue() error {
	if d.queue == nil {
		return errors.Wrap(driver.ErrReleased, "opencl: queue")
	}
	d.queue.Release()
	d.queue = nil
	return nil
}

func (d *Device) ReleaseProgram() error {
	if d.program == nil {
		return errors.Wrap(driver.ErrReleased, "opencl: program")
	}
	d.program.Release()
	d.program = nil
	return nil
}

// ReleaseDevice drops the device handle. Root devices are owned by the platform and
// need no clReleaseDevice.
func (d *Device) ReleaseDevice() error {
	if d.device == nil {
		return errors.Wrap(driver.ErrReleased, "opencl: device")
	}
	d.device = nil
	return nil
}

func (d *Device) ReleaseContext() error {
	if d.context == nil {
		return errors.Wrap(driver.ErrReleased, "opencl: context")
	}
	d.context.Release()
	d.context = nil
	return nil
}
