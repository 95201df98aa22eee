package host

import (
	"fmt"
	"regexp"
	"strings"
)

// paramKind classifies a kernel parameter by address space.
type paramKind int

const (
	paramScalar paramKind = iota
	paramGlobal
	paramLocal
)

type param struct {
	kind paramKind
	typ  string
	// size is the scalar byte size, 0 when unknown (structs, vectors, typedefs).
	size int
}

type kernelDecl struct {
	name   string
	line   int
	params []param
	spec   KernelSpec
}

// program is the result of a successful host build.
type program struct {
	kernels map[string]*kernelDecl
	log     string
}

var kernelDeclRe = regexp.MustCompile(`(?:__kernel|\bkernel)\s+void\s+([A-Za-z_]\w*)\s*\(([^)]*)\)`)

var scalarSizes = map[string]int{
	"char": 1, "uchar": 1, "bool": 1,
	"short": 2, "ushort": 2, "half": 2,
	"int": 4, "uint": 4, "float": 4,
	"long": 8, "ulong": 8, "double": 8, "size_t": 8,
}

var qualifiers = map[string]bool{
	"const": true, "restrict": true, "volatile": true,
	"__global": true, "global": true, "__constant": true, "constant": true,
	"__local": true, "local": true, "__private": true, "private": true,
	"__read_only": true, "__write_only": true,
}

// diagnostics accumulates compiler-style messages.
type diagnostics struct {
	lines    []string
	errors   int
	warnings bool
}

func (d *diagnostics) errorf(line int, format string, args ...any) {
	d.lines = append(d.lines, fmt.Sprintf("<source>:%d: error: %s", line, fmt.Sprintf(format, args...)))
	d.errors++
}

func (d *diagnostics) warnf(line int, format string, args ...any) {
	if !d.warnings {
		return
	}
	d.lines = append(d.lines, fmt.Sprintf("<source>:%d: warning: %s", line, fmt.Sprintf(format, args...)))
}

func (d *diagnostics) String() string {
	if len(d.lines) == 0 {
		return ""
	}
	summary := fmt.Sprintf("%d error(s) generated.", d.errors)
	if d.errors == 0 {
		return strings.Join(d.lines, "\n")
	}
	return strings.Join(d.lines, "\n") + "\n" + summary
}

// compile checks source and links every declared kernel against lib.
//
// The host device does not translate OpenCL C. It verifies the source is
// structurally sound, extracts the kernel signatures and pairs each one with a Go
// implementation of the same name and arity.
func compile(source, options string, lib *Library) (*program, string, bool) {
	diag := &diagnostics{warnings: !hasOption(options, "-w")}

	checkDelimiters(source, diag)

	prog := &program{kernels: make(map[string]*kernelDecl)}
	code := stripComments(source)

	for _, m := range kernelDeclRe.FindAllStringSubmatchIndex(code, -1) {
		name := code[m[2]:m[3]]
		line := 1 + strings.Count(code[:m[0]], "\n")
		params := parseParams(code[m[4]:m[5]])

		if prev, dup := prog.kernels[name]; dup {
			diag.errorf(line, "redefinition of kernel '%s' (previous definition at line %d)", name, prev.line)
			continue
		}

		spec, ok := lib.Lookup(name)
		if !ok {
			diag.errorf(line, "kernel '%s' has no host implementation (library provides: %s)",
				name, strings.Join(lib.Names(), ", "))
			continue
		}
		if spec.Arity != len(params) {
			diag.errorf(line, "kernel '%s' declares %d parameter(s), host implementation takes %d",
				name, len(params), spec.Arity)
			continue
		}
		for i, p := range params {
			if p.kind == paramScalar && p.size == 0 {
				diag.warnf(line, "kernel '%s' parameter %d has type '%s' of unknown size", name, i, p.typ)
			}
		}

		prog.kernels[name] = &kernelDecl{name: name, line: line, params: params, spec: spec}
	}

	if len(prog.kernels) == 0 && diag.errors == 0 {
		diag.warnf(1, "program declares no kernels")
	}

	log := diag.String()
	if diag.errors > 0 {
		return nil, log, false
	}
	prog.log = log
	return prog, log, true
}

func hasOption(options, opt string) bool {
	for _, f := range strings.Fields(options) {
		if f == opt {
			return true
		}
	}
	return false
}

func parseParams(list string) []param {
	list = strings.TrimSpace(list)
	if list == "" || list == "void" {
		return nil
	}

	var params []param
	for _, raw := range strings.Split(list, ",") {
		raw = strings.TrimSpace(raw)
		p := param{kind: paramScalar}

		pointer := strings.Contains(raw, "*")
		fields := strings.Fields(strings.ReplaceAll(raw, "*", " "))

		var typeWords []string
		for i, f := range fields {
			switch {
			case f == "__local" || f == "local":
				p.kind = paramLocal
			case qualifiers[f]:
			case i == len(fields)-1 && len(typeWords) > 0:
				// parameter name
			default:
				typeWords = append(typeWords, f)
			}
		}

		if pointer && p.kind != paramLocal {
			p.kind = paramGlobal
		}
		p.typ = normalizeType(typeWords)
		if p.kind == paramScalar {
			p.size = scalarSizes[p.typ]
		}
		params = append(params, p)
	}
	return params
}

func normalizeType(words []string) string {
	if len(words) == 2 && words[0] == "unsigned" {
		switch words[1] {
		case "char", "short", "int", "long":
			return "u" + words[1]
		}
	}
	if len(words) == 1 && words[0] == "unsigned" {
		return "uint"
	}
	return strings.Join(words, " ")
}

// stripComments blanks out comments while preserving newlines so offsets keep
// their line numbers.
func stripComments(src string) string {
	out := []byte(src)
	for i := 0; i < len(out); i++ {
		switch {
		case out[i] == '/' && i+1 < len(out) && out[i+1] == '/':
			for ; i < len(out) && out[i] != '\n'; i++ {
				out[i] = ' '
			}
		case out[i] == '/' && i+1 < len(out) && out[i+1] == '*':
			out[i], out[i+1] = ' ', ' '
			i += 2
			for ; i < len(out); i++ {
				if out[i] == '*' && i+1 < len(out) && out[i+1] == '/' {
					out[i], out[i+1] = ' ', ' '
					i++
					break
				}
				if out[i] != '\n' {
					out[i] = ' '
				}
			}
		case out[i] == '"' || out[i] == '\'':
			quote := out[i]
			for i++; i < len(out) && out[i] != quote && out[i] != '\n'; i++ {
				if out[i] == '\\' {
					i++
				}
			}
		}
	}
	return string(out)
}

func checkDelimiters(source string, diag *diagnostics) {
	type open struct {
		ch   byte
		line int
	}
	closers := map[byte]byte{')': '(', ']': '[', '}': '{'}

	code := stripComments(source)
	var stack []open
	line := 1
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch c {
		case '\n':
			line++
		case '"', '\'':
			for i++; i < len(code) && code[i] != c && code[i] != '\n'; i++ {
				if code[i] == '\\' {
					i++
				}
			}
			if i < len(code) && code[i] == '\n' {
				line++
			}
		case '(', '[', '{':
			stack = append(stack, open{ch: c, line: line})
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1].ch != closers[c] {
				diag.errorf(line, "unmatched '%c'", c)
				continue
			}
			stack = stack[:len(stack)-1]
		}
	}
	for _, o := range stack {
		diag.errorf(o.line, "'%c' is never closed", o.ch)
	}
}
