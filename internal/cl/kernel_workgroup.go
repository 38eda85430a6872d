package cl

// GlobalWorkSizeDetail is the fixed diagnostic returned for
// KernelGlobalWorkSize queries.
const GlobalWorkSizeDetail = "global work size requires a command queue"

// GetKernelWorkGroupInfo answers device-specific sizing queries for k.
// KernelCompileWorkGroupSize returns a Size3; every other supported kind
// returns a Uint. KernelGlobalWorkSize always fails with ErrInvalidValue
// before the device is consulted.
func (rt *Runtime) GetKernelWorkGroupInfo(k Kernel, dev Device, kind KernelWorkGroupInfo) (Value, error) {
	const op = "get kernel work-group info"
	var (
		ctx      Context
		sig      KernelSignature
		localArg uint64
	)
	if err := rt.viewKernel(k, op, func(kd *kernelData) {
		ctx = kd.ctx
		sig = kd.sig
		localArg = kd.localArgBytes()
	}); err != nil {
		return Value{}, err
	}
	if !kind.Valid() {
		return Value{}, newErrorf(CodeInvalidQueryKind, op, kind.String())
	}
	if kind == KernelGlobalWorkSize {
		return Value{}, newErrorf(CodeInvalidValue, op, GlobalWorkSizeDetail)
	}

	var (
		spec    DeviceSpec
		devCtx  Context
		devLive = rt.reg.view(Handle(dev), kindDevice, func(d any) {
			dd := d.(*deviceData)
			spec, devCtx = dd.spec, dd.ctx
		})
	)
	if !devLive || devCtx != ctx {
		return Value{}, newError(CodeInvalidDevice, op)
	}

	wg := workGroupSize(spec, sig)
	switch kind {
	case KernelWorkGroupSize:
		return uintValue(wg), nil
	case KernelCompileWorkGroupSize:
		return size3Value(sig.CompileWorkGroupSize), nil
	case KernelLocalMemSize:
		return uintValue(sig.LocalMemSize + localArg), nil
	case KernelPreferredWorkGroupSizeMultiple:
		return uintValue(min(spec.PreferredWorkGroupSizeMultiple, wg)), nil
	default: // KernelPrivateMemSize
		return uintValue(sig.PrivateMemSize), nil
	}
}

// workGroupSize is the device limit, capped by a declared compile-time size.
func workGroupSize(spec DeviceSpec, sig KernelSignature) uint64 {
	wg := spec.MaxWorkGroupSize
	if sig.HasCompileWorkGroupSize() {
		n := uint64(1)
		for _, d := range sig.CompileWorkGroupSize {
			n *= max(d, 1)
		}
		wg = min(wg, n)
	}
	return wg
}
