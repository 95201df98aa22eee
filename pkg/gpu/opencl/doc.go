// Package opencl runs minicl programs on OpenCL devices.
//
// # Requirements
//
// For AMD GPUs on Linux:
//   - ROCm (Radeon Open Compute): https://rocm.docs.amd.com/
//   - Or AMD GPU drivers with OpenCL support
//
// For Intel GPUs:
//   - Intel oneAPI or Intel OpenCL runtime
//
// For NVIDIA GPUs:
//   - NVIDIA drivers with OpenCL support
//
// For CPUs:
//   - PoCL (Portable Computing Language)
//
// # Build Tags
//
// The real backend is only compiled when the "opencl" build tag is present:
//
//	go build -tags opencl
//
// Without the tag the package provides a stub Backend whose Available method
// returns false, and the host backend is used instead.
//
// # Devices
//
// Devices of all platforms are flattened into one list in platform order; the
// selector indexes that list. Buffers are created with CL_MEM_USE_HOST_PTR over the
// caller's memory, and mapping them returns a view derived from that same pointer.
//
// # Build Log
//
// go-opencl has no clGetProgramBuildInfo wrapper. The compiler log is only reachable
// through the cl.BuildError a failed build returns, which Open surfaces as a
// *driver.BuildError carrying that log. After a successful build Device.BuildLog
// is always empty, even when the compiler emitted warnings.
//
// # Example
//
//	b := opencl.NewBackend()
//	if !b.Available() {
//		return driver.ErrNotAvailable
//	}
//	dev, err := b.Open(0, source, "-w")
//	if err != nil {
//		return err
//	}
//	defer dev.ReleaseContext()
package opencl

// BackendName is the configuration name of the OpenCL backend.
const BackendName = "opencl"
