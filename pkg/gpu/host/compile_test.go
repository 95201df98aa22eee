package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	lib := DefaultLibrary()

	t.Run("default source", func(t *testing.T) {
		prog, log, ok := compile(DefaultSource, "-w", lib)
		require.True(t, ok, log)
		assert.Empty(t, log)
		assert.Len(t, prog.kernels, 4)

		add := prog.kernels["simple_add"]
		require.NotNil(t, add)
		require.Len(t, add.params, 2)
		assert.Equal(t, paramGlobal, add.params[0].kind)
		assert.Equal(t, "int", add.params[0].typ)
		assert.Equal(t, paramScalar, add.params[1].kind)
		assert.Equal(t, 4, add.params[1].size)

		sum := prog.kernels["group_sum"]
		require.NotNil(t, sum)
		assert.Equal(t, paramLocal, sum.params[2].kind)
	})

	t.Run("unbalanced braces", func(t *testing.T) {
		src := "__kernel void simple_add(__global int *v, int x) {\n    v[0] += x;\n"
		prog, log, ok := compile(src, "-w", lib)
		assert.False(t, ok)
		assert.Nil(t, prog)
		assert.Contains(t, log, "<source>:1: error: '{' is never closed")
		assert.Contains(t, log, "1 error(s) generated.")
	})

	t.Run("unmatched closer reports its line", func(t *testing.T) {
		src := "__kernel void simple_add(__global int *v, int x) {\n}\n}\n"
		_, log, ok := compile(src, "", lib)
		assert.False(t, ok)
		assert.Contains(t, log, "<source>:3: error: unmatched '}'")
	})

	t.Run("missing implementation", func(t *testing.T) {
		src := "__kernel void nope(__global int *v) {}\n"
		_, log, ok := compile(src, "-w", lib)
		assert.False(t, ok)
		assert.Contains(t, log, "kernel 'nope' has no host implementation")
		assert.Contains(t, log, "library provides: add_buffer, group_sum, scale, simple_add")
	})

	t.Run("arity mismatch", func(t *testing.T) {
		src := "kernel void simple_add(global int *v) {}\n"
		_, log, ok := compile(src, "-w", lib)
		assert.False(t, ok)
		assert.Contains(t, log, "declares 1 parameter(s), host implementation takes 2")
	})

	t.Run("redefinition", func(t *testing.T) {
		src := "__kernel void scale(__global float *v, float s) {}\n" +
			"__kernel void scale(__global float *v, float s) {}\n"
		_, log, ok := compile(src, "-w", lib)
		assert.False(t, ok)
		assert.Contains(t, log, "<source>:2: error: redefinition of kernel 'scale' (previous definition at line 1)")
	})

	t.Run("commented kernels are ignored", func(t *testing.T) {
		src := "/* __kernel void nope(int x) {} */\n// __kernel void nope2(int x) {}\n" +
			"__kernel void scale(__global float *v, float s) {}\n"
		prog, log, ok := compile(src, "-w", lib)
		require.True(t, ok, log)
		assert.Len(t, prog.kernels, 1)
		assert.Equal(t, 3, prog.kernels["scale"].line)
	})

	t.Run("warnings suppressed by -w", func(t *testing.T) {
		src := "// nothing here\n"
		_, log, ok := compile(src, "-w", lib)
		assert.True(t, ok)
		assert.Empty(t, log)

		_, log, ok = compile(src, "", lib)
		assert.True(t, ok)
		assert.Contains(t, log, "warning: program declares no kernels")
	})
}

func TestParseParams(t *testing.T) {
	params := parseParams("__global const float *a, unsigned int n, __local int* acc, my_struct s")
	require.Len(t, params, 4)

	assert.Equal(t, param{kind: paramGlobal, typ: "float"}, params[0])
	assert.Equal(t, param{kind: paramScalar, typ: "uint", size: 4}, params[1])
	assert.Equal(t, param{kind: paramLocal, typ: "int"}, params[2])
	assert.Equal(t, param{kind: paramScalar, typ: "my_struct"}, params[3])

	assert.Empty(t, parseParams("void"))
	assert.Empty(t, parseParams("  "))
}
