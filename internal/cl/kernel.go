package cl

import (
	"log/slog"
)

// argSlot is the binding state of one argument.
type argSlot struct {
	set   bool
	size  uint64
	value []byte
}

type kernelData struct {
	program Program
	ctx     Context
	sig     KernelSignature
	argInfo bool
	slots   []argSlot
}

// localArgBytes sums the sizes bound to __local arguments.
func (k *kernelData) localArgBytes() uint64 {
	var n uint64
	for i, a := range k.sig.Args {
		if a.Address == AddressLocal && k.slots[i].set {
			n += k.slots[i].size
		}
	}
	return n
}

// programSnapshot is what kernel creation needs from a program.
type programSnapshot struct {
	ctx     Context
	kernels []KernelSignature
	argInfo bool
}

// builtProgram validates p for kernel creation: live, built and owned by
// a live context.
func (rt *Runtime) builtProgram(p Program, op string) (programSnapshot, error) {
	var (
		snap  programSnapshot
		state buildState
	)
	if !rt.reg.view(Handle(p), kindProgram, func(d any) {
		pd := d.(*programData)
		state = pd.state
		snap.ctx = pd.ctx
		if pd.binary != nil {
			snap.kernels = pd.binary.Kernels
			snap.argInfo = pd.binary.ArgInfo
		}
	}) {
		return snap, newError(CodeInvalidProgram, op)
	}
	if state != buildSuccess {
		return snap, newErrorf(CodeInvalidProgram, op, "program not built")
	}
	if !rt.contextLive(snap.ctx) {
		return snap, newErrorf(CodeInvalidProgram, op, "program context destroyed")
	}
	return snap, nil
}

func (rt *Runtime) addKernel(p Program, snap programSnapshot, sig KernelSignature) Kernel {
	sig.Args = append([]ArgSignature(nil), sig.Args...)
	data := &kernelData{
		program: p,
		ctx:     snap.ctx,
		sig:     sig,
		argInfo: snap.argInfo,
		slots:   make([]argSlot, len(sig.Args)),
	}
	var k Kernel
	k = Kernel(rt.reg.add(kindKernel, data, func() { logFreed(kindKernel, Handle(k)) }))
	Logger().Debug("kernel created",
		slog.String("kernel", k.String()),
		slog.String("name", sig.Name),
		slog.String("program", p.String()))
	return k
}

// CreateKernel creates a kernel for the entry point called name. The
// match is exact and case-sensitive. The kernel starts with a reference
// count of one and does not keep the program alive.
func (rt *Runtime) CreateKernel(p Program, name string) (Kernel, error) {
	const op = "create kernel"
	snap, err := rt.builtProgram(p, op)
	if err != nil {
		return 0, err
	}
	if name == "" {
		return 0, newErrorf(CodeInvalidValue, op, "empty kernel name")
	}
	for _, sig := range snap.kernels {
		if sig.Name == name {
			return rt.addKernel(p, snap, sig), nil
		}
	}
	return 0, newErrorf(CodeKernelNotFound, op, name)
}

// CreateKernelsInProgram creates one kernel per entry point, in compiled
// order. expectedCount only sizes the result; it never truncates or pads.
//
// The call is all-or-nothing: every check happens before any kernel is
// created, and on failure no kernel from this call is left alive.
func (rt *Runtime) CreateKernelsInProgram(p Program, expectedCount int) ([]Kernel, error) {
	const op = "create kernels in program"
	snap, err := rt.builtProgram(p, op)
	if err != nil {
		return nil, err
	}
	if len(snap.kernels) == 0 {
		return nil, newErrorf(CodeInvalidProgram, op, "program has no kernels")
	}
	if expectedCount < len(snap.kernels) {
		expectedCount = len(snap.kernels)
	}
	kernels := make([]Kernel, 0, expectedCount)
	for _, sig := range snap.kernels {
		kernels = append(kernels, rt.addKernel(p, snap, sig))
	}
	return kernels, nil
}

// RetainKernel adds one reference to k.
func (rt *Runtime) RetainKernel(k Kernel) error {
	n, ok := rt.reg.retain(Handle(k), kindKernel)
	if !ok {
		return newError(CodeInvalidKernel, "retain kernel")
	}
	Logger().Debug("kernel retained", slog.String("kernel", k.String()), slog.Uint64("refs", uint64(n)))
	return nil
}

// ReleaseKernel drops one reference from k. The kernel is destroyed when
// the count reaches zero; releasing a destroyed kernel fails.
func (rt *Runtime) ReleaseKernel(k Kernel) error {
	n, ok := rt.reg.release(Handle(k), kindKernel)
	if !ok {
		return newError(CodeInvalidKernel, "release kernel")
	}
	Logger().Debug("kernel released", slog.String("kernel", k.String()), slog.Uint64("refs", uint64(n)))
	return nil
}

// viewKernel runs fn on a live kernel under its read lock.
func (rt *Runtime) viewKernel(k Kernel, op string, fn func(*kernelData)) error {
	if !rt.reg.view(Handle(k), kindKernel, func(d any) { fn(d.(*kernelData)) }) {
		return newError(CodeInvalidKernel, op)
	}
	return nil
}
