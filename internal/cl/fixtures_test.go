package cl

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// squareSig matches
//
//	__kernel void square(__global float* input, __global float* output, const unsigned int count)
var squareSig = KernelSignature{
	Name: "square",
	Args: []ArgSignature{
		{Name: "input", TypeName: "float*", Address: AddressGlobal, Access: AccessNone, Size: 8},
		{Name: "output", TypeName: "float*", Address: AddressGlobal, Access: AccessNone, Size: 8},
		{Name: "count", TypeName: "uint", Address: AddressPrivate, Access: AccessNone, TypeQualifiers: TypeConst, Size: 4},
	},
	PrivateMemSize: 16,
}

var squareCpySig = KernelSignature{
	Name:       "square_cpy",
	Attributes: "reqd_work_group_size(8,4,1)",
	Args: []ArgSignature{
		{Name: "input", TypeName: "float*", Address: AddressConstant, Access: AccessNone, TypeQualifiers: TypeConst, Size: 8},
		{Name: "output", TypeName: "float*", Address: AddressGlobal, Access: AccessNone, TypeQualifiers: TypeRestrict, Size: 8},
		{Name: "scratch", TypeName: "float*", Address: AddressLocal, Access: AccessNone, Size: 8},
		{Name: "count", TypeName: "uint", Address: AddressPrivate, Access: AccessNone, Size: 4},
	},
	CompileWorkGroupSize: [3]uint64{8, 4, 1},
	LocalMemSize:         256,
}

var testDevice = DeviceSpec{
	Name:                           "sim0",
	Vendor:                         "test",
	Version:                        "OpenCL 1.2",
	Type:                           "GPU",
	MaxComputeUnits:                8,
	MaxWorkGroupSize:               256,
	PreferredWorkGroupSizeMultiple: 64,
	LocalMemSize:                   32 << 10,
}

// stubCompiler maps source text to prepared binaries.
type stubCompiler struct {
	binaries map[string]*Binary
}

type stubBuildError struct{ log string }

func (e *stubBuildError) Error() string    { return "build failed" }
func (e *stubBuildError) BuildLog() string { return e.log }

func (c *stubCompiler) Compile(source, options string) (*Binary, error) {
	b, ok := c.binaries[source]
	if !ok {
		return nil, &stubBuildError{log: fmt.Sprintf("1:1: error: unknown source %q", source)}
	}
	out := b.clone()
	out.ArgInfo = b.ArgInfo || strings.Contains(options, "-cl-kernel-arg-info")
	return out, nil
}

func newStubCompiler() *stubCompiler {
	return &stubCompiler{binaries: map[string]*Binary{
		"square":     {Kernels: []KernelSignature{squareSig}, ArgInfo: true},
		"both":       {Kernels: []KernelSignature{squareSig, squareCpySig}, ArgInfo: true},
		"stripped":   {Kernels: []KernelSignature{squareSig}},
		"no-kernels": {ArgInfo: true},
		"square_cpy": {Kernels: []KernelSignature{squareCpySig}, ArgInfo: true},
	}}
}

type fixture struct {
	rt      *Runtime
	ctx     Context
	devices []Device
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rt := New(newStubCompiler())
	ctx, devices, err := rt.CreateContext(testDevice)
	if err != nil {
		t.Fatalf("CreateContext failed: %v", err)
	}
	return &fixture{rt: rt, ctx: ctx, devices: devices}
}

// program builds the named stub source.
func (f *fixture) program(t *testing.T, source, options string) Program {
	t.Helper()
	p, err := f.rt.CreateProgramWithSource(f.ctx, source)
	if err != nil {
		t.Fatalf("CreateProgramWithSource failed: %v", err)
	}
	if err := f.rt.BuildProgram(p, options); err != nil {
		t.Fatalf("BuildProgram(%q) failed: %v", source, err)
	}
	return p
}

func (f *fixture) kernel(t *testing.T, source, name string) Kernel {
	t.Helper()
	k, err := f.rt.CreateKernel(f.program(t, source, ""), name)
	if err != nil {
		t.Fatalf("CreateKernel(%q) failed: %v", name, err)
	}
	return k
}

func wantCode(t *testing.T, err error, sentinel *Error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v, got nil", sentinel.Code)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected %v, got %v", sentinel.Code, err)
	}
}

func mustUint(t *testing.T, v Value, err error) uint64 {
	t.Helper()
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	n, ok := v.Uint()
	if !ok {
		t.Fatalf("expected uint value, got %s", v.Kind())
	}
	return n
}

func mustStr(t *testing.T, v Value, err error) string {
	t.Helper()
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	s, ok := v.Str()
	if !ok {
		t.Fatalf("expected string value, got %s", v.Kind())
	}
	return s
}
