package host

import (
	"fmt"
	"sort"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
)

// WorkItem identifies one invocation within a dispatch, mirroring the OpenCL
// get_global_id / get_local_id / get_group_id built-ins for a 1-D range.
type WorkItem struct {
	GlobalID   int
	LocalID    int
	GroupID    int
	GlobalSize int
	LocalSize  int
	NumGroups  int
}

// KernelFunc is the Go body of a kernel, called once per work item.
//
// Work items of one group run sequentially on the same goroutine, in LocalID order,
// so local memory written by item n is visible to item n+1. Groups run concurrently.
type KernelFunc func(wi WorkItem, args Args)

// KernelSpec binds an entry-point name to its Go implementation.
type KernelSpec struct {
	Name  string
	Arity int
	Fn    KernelFunc
}

// Args gives a kernel body access to the values bound for the current dispatch.
type Args struct {
	values []argValue
	locals [][]byte
}

// Len returns the number of bound arguments.
func (a Args) Len() int { return len(a.values) }

// Bytes returns the raw bytes of argument i: the buffer contents for a global
// buffer, the encoded value for a scalar and the group's block for a local argument.
func (a Args) Bytes(i int) []byte {
	v := a.values[i]
	switch v.kind {
	case argMemory:
		return v.mem.host
	case argLocal:
		return a.locals[i]
	default:
		return v.bytes
	}
}

// Slice reinterprets buffer (or local) argument i as a slice of T.
func Slice[T any](a Args, i int) []T {
	b := a.Bytes(i)
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(b) == 0 || size == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), len(b)/size)
}

// Scalar decodes scalar argument i as T. It panics when the bound value has a
// different size; the host device reports the panic as a dispatch failure.
func Scalar[T any](a Args, i int) T {
	var v T
	b := a.Bytes(i)
	if len(b) != int(unsafe.Sizeof(v)) {
		panic(fmt.Sprintf("argument %d: %d bytes bound, kernel reads %d", i, len(b), unsafe.Sizeof(v)))
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&v)), len(b)), b)
	return v
}

// Library is the set of Go kernel implementations a host program can link against.
type Library struct {
	mu    sync.RWMutex
	specs map[string]KernelSpec
}

// NewLibrary returns an empty library.
func NewLibrary() *Library {
	return &Library{specs: make(map[string]KernelSpec)}
}

// Register adds a kernel implementation. Names are unique within a library.
func (l *Library) Register(spec KernelSpec) error {
	if spec.Name == "" || spec.Fn == nil {
		return errors.New("host: kernel spec needs a name and a function")
	}
	if spec.Arity < 0 {
		return errors.Errorf("host: kernel %q has negative arity", spec.Name)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.specs[spec.Name]; exists {
		return errors.Errorf("host: kernel %q already in library", spec.Name)
	}
	l.specs[spec.Name] = spec
	return nil
}

// MustRegister is Register for package-level setup.
func (l *Library) MustRegister(spec KernelSpec) *Library {
	if err := l.Register(spec); err != nil {
		panic(err)
	}
	return l
}

// Lookup returns the implementation registered under name.
func (l *Library) Lookup(name string) (KernelSpec, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	spec, ok := l.specs[name]
	return spec, ok
}

// Names lists the registered kernels in sorted order.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.specs))
	for name := range l.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
