// Package minicl is a safety boundary around a compute-offload device.
//
// A Context owns one device, its command queue and one compiled program, plus two
// registries: kernels by name and buffers by BufferID. Client code hands host memory
// to the context, runs kernels against it and later takes the memory back. The
// context enforces that the host and the device never use the same memory at the
// same time, that every registered buffer is reclaimed exactly once, and that no
// kernel argument references a buffer the host currently owns.
//
// # Buffer Ownership
//
// Every buffer is in one of two states:
//
//	              Register
//	                 │
//	                 ▼
//	 ┌──────────► DeviceOwned ───────┐
//	 │                               │ Map (waits for the device)
//	 │ Unmap                         ▼
//	 └─────────────────────────── HostOwned
//
// Register takes ownership of a slice. Go cannot revoke the caller's slice header,
// so the contract is a move: after Register the caller must not read or write the
// slice until Map hands a slice over the same memory back. Unmap is the reverse
// move. The backing array is pinned while the device may reference it.
//
// Release (or Close) reclaims a buffer in either state. DeviceOwned memory is
// synchronized back to the host before it is unpinned.
//
// # Example
//
//	ctx, err := minicl.New(source, 0)
//	if err != nil {
//		var buildErr *minicl.BuildError
//		if errors.As(err, &buildErr) {
//			fmt.Println(buildErr.Log)
//		}
//		return err
//	}
//	defer ctx.Close()
//
//	add, _ := ctx.RegisterKernel("simple_add")
//	buf, _ := minicl.Register(ctx, make([]int32, 64))
//
//	if err := ctx.BindAllAndDispatch(add, 64, 16, buf, minicl.Scalar[int32](1000)); err != nil {
//		return err
//	}
//
//	v, _ := minicl.Map[int32](ctx, buf) // every element is 1000
//
// A Context is not safe for concurrent use.
package minicl
