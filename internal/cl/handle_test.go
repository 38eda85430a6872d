package cl

import "testing"

func TestRegistryLifecycle(t *testing.T) {
	reg := newRegistry()
	freed := 0
	h := reg.add(kindProgram, "data", func() { freed++ })

	if h == 0 {
		t.Fatal("registry issued the zero handle")
	}
	if n, ok := reg.retain(h, kindProgram); !ok || n != 2 {
		t.Fatalf("retain = %d, %v", n, ok)
	}
	if _, ok := reg.retain(h, kindKernel); ok {
		t.Fatal("retain with wrong kind succeeded")
	}
	if n, ok := reg.release(h, kindProgram); !ok || n != 1 {
		t.Fatalf("release = %d, %v", n, ok)
	}
	if freed != 0 {
		t.Fatal("freed before count reached zero")
	}
	if n, ok := reg.release(h, kindProgram); !ok || n != 0 {
		t.Fatalf("final release = %d, %v", n, ok)
	}
	if freed != 1 {
		t.Fatalf("free hook ran %d times", freed)
	}
	if _, ok := reg.release(h, kindProgram); ok {
		t.Fatal("release past zero succeeded")
	}
	if reg.view(h, kindProgram, func(any) { t.Fatal("view ran on destroyed object") }) {
		t.Fatal("view reported a destroyed object as live")
	}
	if reg.live(kindProgram) != 0 {
		t.Fatal("destroyed object still registered")
	}
}

func TestRegistryDestroy(t *testing.T) {
	reg := newRegistry()
	freed := 0
	h := reg.add(kindDevice, nil, func() { freed++ })
	reg.retain(h, kindDevice)

	if !reg.destroy(h, kindDevice) {
		t.Fatal("destroy failed")
	}
	if reg.destroy(h, kindDevice) {
		t.Fatal("second destroy succeeded")
	}
	if freed != 1 {
		t.Fatalf("free hook ran %d times", freed)
	}
	if _, ok := reg.refCount(h, kindDevice); ok {
		t.Fatal("destroyed object has a live count")
	}
}

func TestProgramBuild(t *testing.T) {
	f := newFixture(t)

	_, err := f.rt.CreateProgramWithSource(Context(999), "square")
	wantCode(t, err, ErrInvalidContext)
	_, err = f.rt.CreateProgramWithSource(f.ctx, "")
	wantCode(t, err, ErrInvalidValue)

	p, err := f.rt.CreateProgramWithSource(f.ctx, "nope")
	if err != nil {
		t.Fatalf("CreateProgramWithSource failed: %v", err)
	}
	wantCode(t, f.rt.BuildProgram(p, ""), ErrBuildFailure)
	log, err := f.rt.ProgramBuildLog(p)
	if err != nil {
		t.Fatalf("ProgramBuildLog failed: %v", err)
	}
	if log == "" {
		t.Error("failed build kept no log")
	}
	_, err = f.rt.ProgramKernelNames(p)
	wantCode(t, err, ErrInvalidProgram)

	built := f.program(t, "both", "")
	wantCode(t, f.rt.BuildProgram(built, ""), ErrInvalidValue)
	names, err := f.rt.ProgramKernelNames(built)
	if err != nil || len(names) != 2 {
		t.Fatalf("ProgramKernelNames = %v, %v", names, err)
	}

	noCompiler := New(nil)
	ctx, _, err := noCompiler.CreateContext(testDevice)
	if err != nil {
		t.Fatalf("CreateContext failed: %v", err)
	}
	src, err := noCompiler.CreateProgramWithSource(ctx, "square")
	if err != nil {
		t.Fatalf("CreateProgramWithSource failed: %v", err)
	}
	wantCode(t, noCompiler.BuildProgram(src, ""), ErrInvalidValue)

	bin, err := noCompiler.CreateProgramWithBinary(ctx, &Binary{Kernels: []KernelSignature{squareSig}, ArgInfo: true})
	if err != nil {
		t.Fatalf("CreateProgramWithBinary failed: %v", err)
	}
	if _, err := noCompiler.CreateKernel(bin, "square"); err != nil {
		t.Errorf("CreateKernel on binary program failed: %v", err)
	}
}

func TestCreateContextValidation(t *testing.T) {
	rt := New(nil)
	_, _, err := rt.CreateContext()
	wantCode(t, err, ErrInvalidValue)

	_, _, err = rt.CreateContext(DeviceSpec{Name: "broken"})
	wantCode(t, err, ErrInvalidValue)

	ctx, devs, err := rt.CreateContext(testDevice, testDevice)
	if err != nil {
		t.Fatalf("CreateContext failed: %v", err)
	}
	got, err := rt.ContextDevices(ctx)
	if err != nil || len(got) != 2 || got[0] != devs[0] || got[1] != devs[1] {
		t.Fatalf("ContextDevices = %v, %v", got, err)
	}
	spec, err := rt.DeviceSpecOf(devs[1])
	if err != nil || spec.Name != testDevice.Name {
		t.Fatalf("DeviceSpecOf = %+v, %v", spec, err)
	}
}
