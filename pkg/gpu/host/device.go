package host

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/orneryd/minicl/pkg/gpu/driver"
	"github.com/orneryd/minicl/pkg/pool"
)

type argKind int

const (
	argUnset argKind = iota
	argScalar
	argMemory
	argLocal
)

type argValue struct {
	kind  argKind
	bytes []byte
	mem   *memory
	local int
}

// memory is a host-device buffer. The device works directly on the caller's bytes.
type memory struct {
	dev      *Device
	host     []byte
	mapped   bool
	released bool
}

func (m *memory) Size() int { return len(m.host) }

type kernel struct {
	dev      *Device
	decl     *kernelDecl
	args     []argValue
	released bool
}

func (k *kernel) Name() string { return k.decl.name }

func (k *kernel) NumArgs() int { return len(k.decl.params) }

func (k *kernel) param(index int) (param, error) {
	if k.released {
		return param{}, errors.Wrapf(driver.ErrReleased, "host: kernel %s", k.decl.name)
	}
	if index < 0 || index >= len(k.decl.params) {
		return param{}, errors.Errorf("host: kernel %s has no argument %d (declares %d)",
			k.decl.name, index, len(k.decl.params))
	}
	return k.decl.params[index], nil
}

func (k *kernel) SetArg(index int, value []byte) error {
	p, err := k.param(index)
	if err != nil {
		return err
	}
	if p.kind != paramScalar {
		return errors.Errorf("host: kernel %s argument %d is a %s pointer, not a scalar",
			k.decl.name, index, p.kind)
	}
	if p.size != 0 && len(value) != p.size {
		return errors.Errorf("host: kernel %s argument %d is %s (%d bytes), got %d bytes",
			k.decl.name, index, p.typ, p.size, len(value))
	}
	k.args[index] = argValue{kind: argScalar, bytes: append([]byte(nil), value...)}
	return nil
}

func (k *kernel) SetArgMemory(index int, mem driver.Memory) error {
	p, err := k.param(index)
	if err != nil {
		return err
	}
	m, err := k.dev.memory(mem)
	if err != nil {
		return err
	}
	if p.kind != paramGlobal {
		return errors.Errorf("host: kernel %s argument %d is a %s parameter, not a global buffer",
			k.decl.name, index, p.kind)
	}
	k.args[index] = argValue{kind: argMemory, mem: m}
	return nil
}

func (k *kernel) SetArgLocal(index int, size int) error {
	p, err := k.param(index)
	if err != nil {
		return err
	}
	if p.kind != paramLocal {
		return errors.Errorf("host: kernel %s argument %d is a %s parameter, not local memory",
			k.decl.name, index, p.kind)
	}
	if size <= 0 {
		return errors.Errorf("host: local argument %d needs a positive size, got %d", index, size)
	}
	k.args[index] = argValue{kind: argLocal, local: size}
	return nil
}

func (p paramKind) String() string {
	switch p {
	case paramGlobal:
		return "global"
	case paramLocal:
		return "local"
	default:
		return "scalar"
	}
}

// batch is one enqueued dispatch. Batches run in submission order.
type batch struct {
	done chan struct{}
	err  error
}

// Device is the host software device.
//
// Enqueue returns immediately; the dispatch runs on background goroutines. Each
// work-group runs on its own goroutine (bounded by GOMAXPROCS) and the items of a
// group run in LocalID order. Finish and Map wait for everything submitted so far.
type Device struct {
	info driver.DeviceInfo
	prog *program

	mu      sync.Mutex
	pending []*batch

	queueReleased   bool
	programReleased bool
	deviceReleased  bool
	contextReleased bool
}

func newDevice(info driver.DeviceInfo, prog *program) *Device {
	return &Device{info: info, prog: prog}
}

func (d *Device) Info() driver.DeviceInfo { return d.info }

func (d *Device) BuildLog() string { return d.prog.log }

func (d *Device) CreateKernel(name string) (driver.Kernel, error) {
	if d.programReleased {
		return nil, errors.Wrap(driver.ErrReleased, "host: program")
	}
	decl, ok := d.prog.kernels[name]
	if !ok {
		return nil, errors.Wrapf(driver.ErrUnknownKernel, "host: %q", name)
	}
	return &kernel{dev: d, decl: decl, args: make([]argValue, len(decl.params))}, nil
}

func (d *Device) CreateBuffer(host []byte) (driver.Memory, error) {
	if d.contextReleased {
		return nil, errors.Wrap(driver.ErrReleased, "host: context")
	}
	if len(host) == 0 {
		return nil, errors.New("host: cannot create a zero-length buffer")
	}
	return &memory{dev: d, host: host}, nil
}

func (d *Device) memory(mem driver.Memory) (*memory, error) {
	m, ok := mem.(*memory)
	if !ok || m == nil || m.dev != d {
		return nil, errors.WithStack(driver.ErrForeignObject)
	}
	if m.released {
		return nil, errors.Wrap(driver.ErrReleased, "host: memory")
	}
	return m, nil
}

func (d *Device) Map(mem driver.Memory) ([]byte, error) {
	m, err := d.memory(mem)
	if err != nil {
		return nil, err
	}
	if err := d.drain(); err != nil {
		return nil, err
	}
	m.mapped = true
	return m.host, nil
}

func (d *Device) Unmap(mem driver.Memory, host []byte) error {
	m, err := d.memory(mem)
	if err != nil {
		return err
	}
	if !m.mapped {
		return errors.New("host: memory is not mapped")
	}
	if len(host) != len(m.host) || unsafe.SliceData(host) != unsafe.SliceData(m.host) {
		return errors.New("host: unmap view does not match the mapped region")
	}
	m.mapped = false
	return nil
}

func (d *Device) Enqueue(k driver.Kernel, global, local int) error {
	if d.queueReleased {
		return errors.Wrap(driver.ErrReleased, "host: queue")
	}
	kk, ok := k.(*kernel)
	if !ok || kk == nil || kk.dev != d {
		return errors.WithStack(driver.ErrForeignObject)
	}
	if kk.released {
		return errors.Wrapf(driver.ErrReleased, "host: kernel %s", kk.decl.name)
	}
	if global <= 0 || local <= 0 || global%local != 0 {
		return errors.Errorf("host: invalid work size global=%d local=%d", global, local)
	}
	if local > MaxWorkGroupSize {
		return errors.Errorf("host: local size %d exceeds the maximum work-group size %d", local, MaxWorkGroupSize)
	}

	args := make([]argValue, len(kk.args))
	copy(args, kk.args)
	for i, a := range args {
		switch {
		case a.kind == argUnset:
			return errors.Errorf("host: kernel %s argument %d is not set", kk.decl.name, i)
		case a.kind == argMemory && a.mem.released:
			return errors.Wrapf(driver.ErrReleased, "host: kernel %s argument %d memory", kk.decl.name, i)
		}
	}

	d.mu.Lock()
	var prev *batch
	if n := len(d.pending); n > 0 {
		prev = d.pending[n-1]
	}
	b := &batch{done: make(chan struct{})}
	d.pending = append(d.pending, b)
	d.mu.Unlock()

	go func() {
		defer close(b.done)
		if prev != nil {
			<-prev.done
		}
		b.err = run(kk.decl, args, global, local)
	}()
	return nil
}

// run executes one dispatch and returns the first work-group failure.
func run(decl *kernelDecl, values []argValue, global, local int) error {
	numGroups := global / local

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for group := 0; group < numGroups; group++ {
		group := group
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errors.Errorf("host: kernel %s panicked in group %d: %v", decl.name, group, r)
				}
			}()

			args := Args{values: values, locals: make([][]byte, len(values))}
			for i, v := range values {
				if v.kind == argLocal {
					args.locals[i] = pool.GetScratch(v.local)
					defer pool.PutScratch(args.locals[i])
				}
			}

			wi := WorkItem{GroupID: group, GlobalSize: global, LocalSize: local, NumGroups: numGroups}
			for lid := 0; lid < local; lid++ {
				wi.LocalID = lid
				wi.GlobalID = group*local + lid
				decl.spec.Fn(wi, args)
			}
			return nil
		})
	}
	return g.Wait()
}

// drain waits for every pending batch and returns their combined errors.
func (d *Device) drain() error {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	var err error
	for _, b := range pending {
		<-b.done
		err = multierr.Append(err, b.err)
	}
	return err
}

func (d *Device) Finish() error {
	if d.queueReleased {
		return errors.Wrap(driver.ErrReleased, "host: queue")
	}
	return d.drain()
}

func (d *Device) ReleaseMemory(mem driver.Memory) error {
	m, err := d.memory(mem)
	if err != nil {
		return err
	}
	m.released = true
	m.mapped = false
	return nil
}

func (d *Device) ReleaseKernel(k driver.Kernel) error {
	kk, ok := k.(*kernel)
	if !ok || kk == nil || kk.dev != d {
		return errors.WithStack(driver.ErrForeignObject)
	}
	if kk.released {
		return errors.Wrapf(driver.ErrReleased, "host: kernel %s", kk.decl.name)
	}
	kk.released = true
	kk.args = nil
	return nil
}

func (d *Device) ReleaseQueue() error {
	if d.queueReleased {
		return errors.Wrap(driver.ErrReleased, "host: queue")
	}
	// Releasing a queue flushes it.
	err := d.drain()
	d.queueReleased = true
	return err
}

func (d *Device) ReleaseProgram() error {
	return release(&d.programReleased, "program")
}

func (d *Device) ReleaseDevice() error {
	return release(&d.deviceReleased, "device")
}

func (d *Device) ReleaseContext() error {
	return release(&d.contextReleased, "context")
}

func release(flag *bool, what string) error {
	if *flag {
		return errors.Wrap(driver.ErrReleased, fmt.Sprintf("host: %s", what))
	}
	*flag = true
	return nil
}
