package cl

// GetKernelInfo returns kernel-scoped metadata. The shape of the Value is
// fixed by kind: strings for the name and attributes, Uint for counts and
// Handle for the context and program back-references. Back-references are
// not retained and may name destroyed objects.
func (rt *Runtime) GetKernelInfo(k Kernel, kind KernelInfo) (Value, error) {
	const op = "get kernel info"
	var (
		v    Value
		refs uint32
	)
	o := rt.reg.lookup(Handle(k), kindKernel)
	if o == nil {
		return Value{}, newError(CodeInvalidKernel, op)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.refs == 0 {
		return Value{}, newError(CodeInvalidKernel, op)
	}
	refs = o.refs
	kd := o.data.(*kernelData)

	switch kind {
	case KernelFunctionName:
		v = stringValue(kd.sig.Name)
	case KernelNumArgs:
		v = uintValue(uint64(len(kd.sig.Args)))
	case KernelReferenceCount:
		v = uintValue(uint64(refs))
	case KernelContext:
		v = handleValue(Handle(kd.ctx))
	case KernelProgram:
		v = handleValue(Handle(kd.program))
	case KernelAttributes:
		v = stringValue(kd.sig.Attributes)
	default:
		return Value{}, newErrorf(CodeInvalidQueryKind, op, kind.String())
	}
	return v, nil
}

// KernelSignatureOf returns a copy of the compiled signature of k.
func (rt *Runtime) KernelSignatureOf(k Kernel) (KernelSignature, error) {
	var sig KernelSignature
	err := rt.viewKernel(k, "kernel signature", func(kd *kernelData) {
		sig = kd.sig
		sig.Args = append([]ArgSignature(nil), kd.sig.Args...)
		if !kd.argInfo {
			for i := range sig.Args {
				sig.Args[i].Name, sig.Args[i].TypeName = "", ""
			}
		}
	})
	return sig, err
}
