package host

// DefaultSource is OpenCL C for the kernels in DefaultLibrary. It builds unchanged on
// the opencl backend, so examples can switch devices without touching the source.
const DefaultSource = `// minicl built-in kernels
__kernel void simple_add(__global int *v, int x) {
    int i = get_global_id(0);
    v[i] += x;
}

__kernel void add_buffer(__global const float *a, __global const float *b, __global float *c) {
    int i = get_global_id(0);
    c[i] = a[i] + b[i];
}

__kernel void scale(__global float *v, float s) {
    int i = get_global_id(0);
    v[i] *= s;
}

__kernel void group_sum(__global const int *in, __global int *out, __local int *acc) {
    int lid = get_local_id(0);
    if (lid == 0) {
        acc[0] = 0;
    }
    barrier(CLK_LOCAL_MEM_FENCE);
    atomic_add(&acc[0], in[get_global_id(0)]);
    barrier(CLK_LOCAL_MEM_FENCE);
    if (lid == 0) {
        out[get_group_id(0)] = acc[0];
    }
}
`

// DefaultLibrary returns a fresh library holding the Go bodies of DefaultSource.
func DefaultLibrary() *Library {
	return NewLibrary().
		MustRegister(KernelSpec{Name: "simple_add", Arity: 2, Fn: simpleAdd}).
		MustRegister(KernelSpec{Name: "add_buffer", Arity: 3, Fn: addBuffer}).
		MustRegister(KernelSpec{Name: "scale", Arity: 2, Fn: scale}).
		MustRegister(KernelSpec{Name: "group_sum", Arity: 3, Fn: groupSum})
}

func simpleAdd(wi WorkItem, args Args) {
	v := Slice[int32](args, 0)
	v[wi.GlobalID] += Scalar[int32](args, 1)
}

func addBuffer(wi WorkItem, args Args) {
	a, b, c := Slice[float32](args, 0), Slice[float32](args, 1), Slice[float32](args, 2)
	c[wi.GlobalID] = a[wi.GlobalID] + b[wi.GlobalID]
}

func scale(wi WorkItem, args Args) {
	v := Slice[float32](args, 0)
	v[wi.GlobalID] *= Scalar[float32](args, 1)
}

// groupSum relies on items of a group running in LocalID order.
func groupSum(wi WorkItem, args Args) {
	in, out, acc := Slice[int32](args, 0), Slice[int32](args, 1), Slice[int32](args, 2)
	if wi.LocalID == 0 {
		acc[0] = 0
	}
	acc[0] += in[wi.GlobalID]
	if wi.LocalID == wi.LocalSize-1 {
		out[wi.GroupID] = acc[0]
	}
}
