// Package host implements a software compute device that runs kernels written in Go.
//
// The host backend is always available and is what minicl falls back to when no
// OpenCL platform is present. It accepts the same OpenCL C source the opencl backend
// builds: the source is checked for structural errors, its __kernel entry points are
// extracted, and each one is linked against a Go implementation of the same name in
// a Library.
//
// # Execution Model
//
// A dispatch of global items in groups of local runs global/local work-groups. Groups
// execute concurrently (at most GOMAXPROCS at a time); the items of one group execute
// sequentially in LocalID order on one goroutine and share a zeroed block of local
// memory for every __local argument. Barriers are therefore implicit: a kernel body
// observes the writes of all earlier items of its group.
//
// # Memory
//
// Buffers wrap the caller's bytes without copying. Map returns the very same slice
// after waiting for pending dispatches.
//
// Example:
//
//	lib := host.DefaultLibrary()
//	lib.MustRegister(host.KernelSpec{
//		Name:  "negate",
//		Arity: 1,
//		Fn: func(wi host.WorkItem, args host.Args) {
//			v := host.Slice[float32](args, 0)
//			v[wi.GlobalID] = -v[wi.GlobalID]
//		},
//	})
//
//	dev, err := host.NewBackend(lib, nil).Open(0, src, "-w")
package host
