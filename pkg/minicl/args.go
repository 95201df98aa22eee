package minicl

import (
	"fmt"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"

	"github.com/orneryd/minicl/pkg/gpu/driver"
)

// Element is a fixed-width numeric type usable as buffer element or scalar argument.
// int, uint and uintptr are excluded: their width depends on the platform while an
// OpenCL parameter's does not. float16.Float16 satisfies it through its uint16
// representation.
type Element interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		constraints.Float
}

// Arg is a kernel argument: a Scalar, a registered BufferID or a Local reservation.
type Arg interface {
	// check validates the argument against the context without side effects.
	check(c *Context) error
	// bind sets the argument on the driver kernel.
	bind(c *Context, k driver.Kernel, index int) error
	fmt.Stringer
}

type scalarArg struct {
	bytes []byte
	typ   string
}

// Scalar encodes v's bit pattern and size as a by-value kernel argument.
func Scalar[T Element](v T) Arg {
	b := make([]byte, unsafe.Sizeof(v))
	copy(b, unsafe.Slice((*byte)(unsafe.Pointer(&v)), len(b)))
	return scalarArg{bytes: b, typ: fmt.Sprintf("%T", v)}
}

// Half encodes f as an IEEE 754 half-precision scalar (OpenCL half).
func Half(f float32) Arg {
	return Scalar(float16.Fromfloat32(f))
}

func (a scalarArg) check(*Context) error { return nil }

func (a scalarArg) bind(_ *Context, k driver.Kernel, index int) error {
	return k.SetArg(index, a.bytes)
}

func (a scalarArg) String() string {
	return fmt.Sprintf("%s(%d bytes)", a.typ, len(a.bytes))
}

type localArg int

// Local reserves size bytes of work-group local memory (an OpenCL __local argument).
func Local(size int) Arg { return localArg(size) }

func (a localArg) check(*Context) error {
	if a <= 0 {
		return errors.Wrapf(ErrInvalidArgument, "local memory size %d", int(a))
	}
	return nil
}

func (a localArg) bind(_ *Context, k driver.Kernel, index int) error {
	return k.SetArgLocal(index, int(a))
}

func (a localArg) String() string { return fmt.Sprintf("local(%d bytes)", int(a)) }

func (id BufferID) check(c *Context) error {
	rec, err := c.buffers.lookup(id)
	if err != nil {
		return err
	}
	if rec.state != DeviceOwned {
		return errors.Wrapf(ErrBufferStateViolation, "cannot bind a host-owned buffer to a kernel (%s)", id)
	}
	return nil
}

func (id BufferID) bind(c *Context, k driver.Kernel, index int) error {
	if err := id.check(c); err != nil {
		return err
	}
	rec, _ := c.buffers.lookup(id)
	return k.SetArgMemory(index, rec.mem)
}
