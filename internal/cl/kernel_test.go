package cl

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCreateKernelNumArgs(t *testing.T) {
	f := newFixture(t)
	p := f.program(t, "both", "")

	for _, sig := range []KernelSignature{squareSig, squareCpySig} {
		k, err := f.rt.CreateKernel(p, sig.Name)
		if err != nil {
			t.Fatalf("CreateKernel(%q) failed: %v", sig.Name, err)
		}
		if k == 0 {
			t.Fatalf("CreateKernel(%q) returned zero handle", sig.Name)
		}
		v, err := f.rt.GetKernelInfo(k, KernelNumArgs)
		if got := mustUint(t, v, err); got != uint64(len(sig.Args)) {
			t.Errorf("%s: num args = %d, want %d", sig.Name, got, len(sig.Args))
		}
		v, err = f.rt.GetKernelInfo(k, KernelFunctionName)
		if got := mustStr(t, v, err); got != sig.Name {
			t.Errorf("function name = %q, want %q", got, sig.Name)
		}
	}
}

func TestCreateKernelNotFound(t *testing.T) {
	f := newFixture(t)
	p := f.program(t, "square", "")

	for _, name := range []string{"nonexistent", "Square", "squar", "square "} {
		_, err := f.rt.CreateKernel(p, name)
		wantCode(t, err, ErrKernelNotFound)
	}
}

func TestCreateKernelValidationOrder(t *testing.T) {
	f := newFixture(t)

	// Unknown handle.
	_, err := f.rt.CreateKernel(Program(9999), "square")
	wantCode(t, err, ErrInvalidProgram)

	// Not built yet; the empty name is not looked at.
	unbuilt, err := f.rt.CreateProgramWithSource(f.ctx, "square")
	if err != nil {
		t.Fatalf("CreateProgramWithSource failed: %v", err)
	}
	_, err = f.rt.CreateKernel(unbuilt, "")
	wantCode(t, err, ErrInvalidProgram)

	// Failed build.
	broken, err := f.rt.CreateProgramWithSource(f.ctx, "garbage")
	if err != nil {
		t.Fatalf("CreateProgramWithSource failed: %v", err)
	}
	wantCode(t, f.rt.BuildProgram(broken, ""), ErrBuildFailure)
	_, err = f.rt.CreateKernel(broken, "square")
	wantCode(t, err, ErrInvalidProgram)

	// Built program, empty name.
	p := f.program(t, "square", "")
	_, err = f.rt.CreateKernel(p, "")
	wantCode(t, err, ErrInvalidValue)

	// Context gone.
	if err := f.rt.ReleaseContext(f.ctx); err != nil {
		t.Fatalf("ReleaseContext failed: %v", err)
	}
	_, err = f.rt.CreateKernel(p, "square")
	wantCode(t, err, ErrInvalidProgram)
	_, err = f.rt.CreateKernelsInProgram(p, 0)
	wantCode(t, err, ErrInvalidProgram)
}

func TestCreateKernelsInProgram(t *testing.T) {
	f := newFixture(t)
	p := f.program(t, "both", "")

	for _, hint := range []int{-1, 0, 1, 2, 10} {
		kernels, err := f.rt.CreateKernelsInProgram(p, hint)
		if err != nil {
			t.Fatalf("CreateKernelsInProgram(hint=%d) failed: %v", hint, err)
		}
		if len(kernels) != 2 {
			t.Fatalf("hint=%d: got %d kernels, want 2", hint, len(kernels))
		}

		var names []string
		for _, k := range kernels {
			if k == 0 {
				t.Fatal("zero kernel handle in batch")
			}
			v, err := f.rt.GetKernelInfo(k, KernelFunctionName)
			names = append(names, mustStr(t, v, err))
			v, err = f.rt.GetKernelInfo(k, KernelReferenceCount)
			if n := mustUint(t, v, err); n != 1 {
				t.Errorf("fresh kernel has refcount %d", n)
			}
		}
		if diff := cmp.Diff([]string{"square", "square_cpy"}, names); diff != "" {
			t.Errorf("kernel order mismatch (-want +got):\n%s", diff)
		}

		for _, k := range kernels {
			if err := f.rt.ReleaseKernel(k); err != nil {
				t.Fatalf("ReleaseKernel failed: %v", err)
			}
		}
	}
	if got := f.rt.Stats().Kernels; got != 0 {
		t.Errorf("live kernels after release = %d", got)
	}
}

func TestCreateKernelsInProgramEmpty(t *testing.T) {
	f := newFixture(t)
	p := f.program(t, "no-kernels", "")

	kernels, err := f.rt.CreateKernelsInProgram(p, 4)
	wantCode(t, err, ErrInvalidProgram)
	if kernels != nil {
		t.Errorf("expected no kernels on failure, got %v", kernels)
	}
	if got := f.rt.Stats().Kernels; got != 0 {
		t.Errorf("failed batch left %d kernels alive", got)
	}
}

func TestRetainIncrementsReferenceCount(t *testing.T) {
	f := newFixture(t)
	k := f.kernel(t, "square", "square")

	for i := 0; i < 5; i++ {
		v, err := f.rt.GetKernelInfo(k, KernelReferenceCount)
		before := mustUint(t, v, err)
		if err := f.rt.RetainKernel(k); err != nil {
			t.Fatalf("RetainKernel failed: %v", err)
		}
		v, err = f.rt.GetKernelInfo(k, KernelReferenceCount)
		if after := mustUint(t, v, err); after != before+1 {
			t.Fatalf("refcount went from %d to %d after retain", before, after)
		}
	}
}

func TestReleaseToZeroInvalidatesHandle(t *testing.T) {
	f := newFixture(t)
	k := f.kernel(t, "square", "square")

	if err := f.rt.RetainKernel(k); err != nil {
		t.Fatalf("RetainKernel failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := f.rt.ReleaseKernel(k); err != nil {
			t.Fatalf("release %d failed: %v", i, err)
		}
	}

	_, err := f.rt.GetKernelInfo(k, KernelFunctionName)
	wantCode(t, err, ErrInvalidKernel)
	_, err = f.rt.GetKernelArgInfo(k, 0, KernelArgName)
	wantCode(t, err, ErrInvalidKernel)
	_, err = f.rt.GetKernelWorkGroupInfo(k, f.devices[0], KernelWorkGroupSize)
	wantCode(t, err, ErrInvalidKernel)
	wantCode(t, f.rt.RetainKernel(k), ErrInvalidKernel)
	wantCode(t, f.rt.ReleaseKernel(k), ErrInvalidKernel)
	wantCode(t, f.rt.SetKernelArg(k, 2, 4, []byte{1, 0, 0, 0}), ErrInvalidKernel)
}

func TestKernelDoesNotRetainProgram(t *testing.T) {
	f := newFixture(t)
	p := f.program(t, "square", "")
	k, err := f.rt.CreateKernel(p, "square")
	if err != nil {
		t.Fatalf("CreateKernel failed: %v", err)
	}
	if err := f.rt.ReleaseProgram(p); err != nil {
		t.Fatalf("ReleaseProgram failed: %v", err)
	}

	// The kernel outlives its program and still reports the dangling back-reference.
	v, err := f.rt.GetKernelInfo(k, KernelProgram)
	if err != nil {
		t.Fatalf("GetKernelInfo(program) failed: %v", err)
	}
	if h, _ := v.Handle(); Program(h) != p {
		t.Errorf("program back-reference = %v, want %v", h, p)
	}
	_, err = f.rt.CreateKernel(p, "square")
	wantCode(t, err, ErrInvalidProgram)
}

func TestHandlesAreNotReused(t *testing.T) {
	f := newFixture(t)
	p := f.program(t, "square", "")

	seen := map[Kernel]bool{}
	for i := 0; i < 50; i++ {
		k, err := f.rt.CreateKernel(p, "square")
		if err != nil {
			t.Fatalf("CreateKernel failed: %v", err)
		}
		if seen[k] {
			t.Fatalf("handle %v issued twice", k)
		}
		seen[k] = true
		if err := f.rt.ReleaseKernel(k); err != nil {
			t.Fatalf("ReleaseKernel failed: %v", err)
		}
	}
}

func TestWrongKindHandleIsInvalid(t *testing.T) {
	f := newFixture(t)
	p := f.program(t, "square", "")

	_, err := f.rt.GetKernelInfo(Kernel(p), KernelNumArgs)
	wantCode(t, err, ErrInvalidKernel)
	_, err = f.rt.CreateKernel(Program(f.devices[0]), "square")
	wantCode(t, err, ErrInvalidProgram)
}

func TestErrorMessages(t *testing.T) {
	f := newFixture(t)
	p := f.program(t, "square", "")

	_, err := f.rt.CreateKernel(p, "missing")
	var clErr *Error
	if !errors.As(err, &clErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if clErr.Code != CodeKernelNotFound {
		t.Errorf("code = %v", clErr.Code)
	}
	want := "cl: create kernel: kernel not found in program: missing"
	if err.Error() != want {
		t.Errorf("message = %q, want %q", err.Error(), want)
	}
	if errors.Is(err, ErrInvalidProgram) {
		t.Error("kernel-not-found must not match invalid-program")
	}
	if !strings.Contains(clErr.Code.String(), "CL_INVALID_KERNEL_NAME") {
		t.Errorf("status = %s", clErr.Code.String())
	}
}
