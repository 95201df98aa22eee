package minicl

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"

	"github.com/orneryd/minicl/pkg/gpu/driver"
)

// BufferState is the ownership state of a registered buffer.
type BufferState int

const (
	// DeviceOwned buffers may be bound to kernels; the host must not touch them.
	DeviceOwned BufferState = iota + 1
	// HostOwned buffers are mapped for host access and cannot be bound.
	HostOwned
)

func (s BufferState) String() string {
	switch s {
	case DeviceOwned:
		return "DeviceOwned"
	case HostOwned:
		return "HostOwned"
	default:
		return fmt.Sprintf("BufferState(%d)", int(s))
	}
}

// BufferID identifies one registered allocation. IDs of released buffers are
// rejected with ErrStaleBuffer even after their slot is reused.
type BufferID struct {
	slot uint32
	gen  uint32
}

func (id BufferID) String() string {
	return fmt.Sprintf("buffer#%d.%d", id.slot, id.gen)
}

type bufferRecord struct {
	id     BufferID
	addr   uintptr
	stride int
	state  BufferState

	// host views the registered memory as bytes; it keeps the array reachable.
	host   []byte
	mem    driver.Memory
	pinner runtime.Pinner
}

type bufferSlot struct {
	gen uint32
	rec *bufferRecord
}

// bufferTable is a generational slot table with an address index for Unmap.
type bufferTable struct {
	slots  []bufferSlot
	free   []uint32
	byAddr map[uintptr]BufferID
	live   int
}

func newBufferTable() bufferTable {
	return bufferTable{byAddr: make(map[uintptr]BufferID)}
}

func (t *bufferTable) insert(rec *bufferRecord) BufferID {
	var slot uint32
	if n := len(t.free); n > 0 {
		slot = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		slot = uint32(len(t.slots))
		t.slots = append(t.slots, bufferSlot{})
	}

	s := &t.slots[slot]
	s.gen++
	s.rec = rec
	rec.id = BufferID{slot: slot, gen: s.gen}
	t.byAddr[rec.addr] = rec.id
	t.live++
	return rec.id
}

func (t *bufferTable) lookup(id BufferID) (*bufferRecord, error) {
	if id.gen == 0 || int(id.slot) >= len(t.slots) {
		return nil, errors.Wrapf(ErrUnknownBuffer, "%s", id)
	}
	s := t.slots[id.slot]
	if s.gen != id.gen || s.rec == nil {
		return nil, errors.Wrapf(ErrStaleBuffer, "%s", id)
	}
	return s.rec, nil
}

func (t *bufferTable) lookupAddr(addr uintptr) (*bufferRecord, bool) {
	id, ok := t.byAddr[addr]
	if !ok {
		return nil, false
	}
	rec, err := t.lookup(id)
	return rec, err == nil
}

// overlapping returns a live record sharing any byte of [addr, addr+size).
func (t *bufferTable) overlapping(addr uintptr, size int) (*bufferRecord, bool) {
	end := addr + uintptr(size)
	for i := range t.slots {
		rec := t.slots[i].rec
		if rec != nil && addr < rec.addr+uintptr(len(rec.host)) && rec.addr < end {
			return rec, true
		}
	}
	return nil, false
}

func (t *bufferTable) remove(rec *bufferRecord) {
	s := &t.slots[rec.id.slot]
	if s.rec != rec {
		return
	}
	s.rec = nil
	delete(t.byAddr, rec.addr)
	t.free = append(t.free, rec.id.slot)
	t.live--
}

// each visits live records in slot order.
func (t *bufferTable) each(fn func(*bufferRecord)) {
	for i := range t.slots {
		if rec := t.slots[i].rec; rec != nil {
			fn(rec)
		}
	}
}

func sizeOf[T Element]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

func asBytes[T Element](data []T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(data))), len(data)*sizeOf[T]())
}

func addrOf[T Element](data []T) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(data)))
}

// Register moves data into the context and returns its BufferID. The new buffer is
// DeviceOwned and backed by the same memory; no copy is made.
//
// The caller must not use data afterwards. Map returns a slice over the same memory
// once the device is done with it.
func Register[T Element](c *Context, data []T) (BufferID, error) {
	if err := c.checkOpen(); err != nil {
		return BufferID{}, err
	}
	if len(data) == 0 {
		return BufferID{}, errors.WithStack(ErrEmptyBuffer)
	}

	addr := addrOf(data)
	size := len(data) * sizeOf[T]()
	if rec, exists := c.buffers.overlapping(addr, size); exists {
		return BufferID{}, errors.Wrapf(ErrBufferAlreadyRegistered, "[%#x, %#x) overlaps %s at [%#x, %#x)",
			addr, addr+uintptr(size), rec.id, rec.addr, rec.addr+uintptr(len(rec.host)))
	}

	rec := &bufferRecord{
		addr:   addr,
		stride: sizeOf[T](),
		state:  DeviceOwned,
		host:   asBytes(data),
	}
	rec.pinner.Pin(unsafe.SliceData(data))

	mem, err := c.dev.CreateBuffer(rec.host)
	if err != nil {
		rec.pinner.Unpin()
		return BufferID{}, errors.Wrapf(err, "minicl: create device buffer of %s", humanize.IBytes(uint64(len(rec.host))))
	}
	rec.mem = mem

	id := c.buffers.insert(rec)
	klog.V(2).Infof("minicl: registered %s: %d x %d-byte elements (%s)",
		id, len(data), rec.stride, humanize.IBytes(uint64(len(rec.host))))
	return id, nil
}

// Map waits for the device to finish with buffer id and hands its memory to the
// host. The returned slice covers the registered memory; the buffer becomes HostOwned.
func Map[T Element](c *Context, id BufferID) ([]T, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	rec, err := c.buffers.lookup(id)
	if err != nil {
		return nil, err
	}
	if size := sizeOf[T](); size != rec.stride {
		return nil, errors.Wrapf(ErrElementMismatch, "%s holds %d-byte elements, mapped as %d-byte", id, rec.stride, size)
	}
	if rec.state != DeviceOwned {
		return nil, errors.Wrapf(ErrBufferStateViolation, "%s is already mapped (%s)", id, rec.state)
	}

	view, err := c.mapRecord(rec)
	if err != nil {
		return nil, err
	}
	rec.state = HostOwned
	klog.V(3).Infof("minicl: mapped %s", id)
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(view))), len(view)/rec.stride), nil
}

// mapRecord maps rec and checks the device handed back the registered memory.
func (c *Context) mapRecord(rec *bufferRecord) ([]byte, error) {
	view, err := c.dev.Map(rec.mem)
	if err != nil {
		return nil, errors.Wrapf(err, "minicl: map %s", rec.id)
	}
	if uintptr(unsafe.Pointer(unsafe.SliceData(view))) != rec.addr || len(view) != len(rec.host) {
		undo := c.dev.Unmap(rec.mem, view)
		return nil, multierr.Append(
			errors.Wrapf(ErrAddressMoved, "%s: registered %#x, mapped %p", rec.id, rec.addr, unsafe.SliceData(view)),
			undo)
	}
	return view, nil
}

// Unmap hands a slice obtained from Map back to the device. The buffer is found by
// the slice's data address and becomes DeviceOwned again.
func Unmap[T Element](c *Context, data []T) (BufferID, error) {
	if err := c.checkOpen(); err != nil {
		return BufferID{}, err
	}
	if len(data) == 0 {
		return BufferID{}, errors.WithStack(ErrUnknownBuffer)
	}
	rec, ok := c.buffers.lookupAddr(addrOf(data))
	if !ok {
		return BufferID{}, errors.Wrapf(ErrUnknownBuffer, "no buffer registered at %p", unsafe.SliceData(data))
	}
	if size := sizeOf[T](); size != rec.stride || len(data)*size != len(rec.host) {
		return BufferID{}, errors.Wrapf(ErrElementMismatch, "%s is %d bytes of %d-byte elements, got %d x %d-byte",
			rec.id, len(rec.host), rec.stride, len(data), size)
	}
	if rec.state != HostOwned {
		return BufferID{}, errors.Wrapf(ErrBufferStateViolation, "%s is not mapped (%s)", rec.id, rec.state)
	}

	if err := c.dev.Unmap(rec.mem, rec.host); err != nil {
		return BufferID{}, errors.Wrapf(err, "minicl: unmap %s", rec.id)
	}
	rec.state = DeviceOwned
	klog.V(3).Infof("minicl: unmapped %s", rec.id)
	return rec.id, nil
}

// Release removes buffer id from the context and frees its device allocation.
// DeviceOwned memory is synchronized back to the host first. Either way the memory
// is afterwards an ordinary Go allocation; the ID becomes stale.
func (c *Context) Release(id BufferID) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	rec, err := c.buffers.lookup(id)
	if err != nil {
		return err
	}
	return c.releaseRecord(rec)
}

// releaseRecord reclaims rec. The record is removed even when the driver fails.
func (c *Context) releaseRecord(rec *bufferRecord) error {
	var errs error
	if rec.state == DeviceOwned {
		if view, err := c.mapRecord(rec); err != nil {
			errs = multierr.Append(errs, err)
		} else if err := c.dev.Unmap(rec.mem, view); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "minicl: unmap %s", rec.id))
		}
	}
	rec.pinner.Unpin()
	if err := c.dev.ReleaseMemory(rec.mem); err != nil {
		errs = multierr.Append(errs, errors.Wrapf(err, "minicl: release device memory of %s", rec.id))
	}
	c.buffers.remove(rec)
	klog.V(2).Infof("minicl: released %s (%s)", rec.id, rec.state)
	return errs
}

// Reclaim maps buffer id if needed and releases it, returning its contents as an
// ordinary slice the context no longer tracks.
func Reclaim[T Element](c *Context, id BufferID) ([]T, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	rec, err := c.buffers.lookup(id)
	if err != nil {
		return nil, err
	}

	var data []T
	if rec.state == DeviceOwned {
		if data, err = Map[T](c, id); err != nil {
			return nil, err
		}
	} else {
		if size := sizeOf[T](); size != rec.stride {
			return nil, errors.Wrapf(ErrElementMismatch, "%s holds %d-byte elements, reclaimed as %d-byte", id, rec.stride, size)
		}
		data = unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(rec.host))), len(rec.host)/rec.stride)
	}
	return data, c.releaseRecord(rec)
}

// State reports the ownership state of buffer id.
func (c *Context) State(id BufferID) (BufferState, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	rec, err := c.buffers.lookup(id)
	if err != nil {
		return 0, err
	}
	return rec.state, nil
}

// Len returns the element count of buffer id.
func (c *Context) Len(id BufferID) (int, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	rec, err := c.buffers.lookup(id)
	if err != nil {
		return 0, err
	}
	return len(rec.host) / rec.stride, nil
}
