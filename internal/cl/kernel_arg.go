package cl

import (
	"fmt"
	"log/slog"
)

// GetKernelArgInfo returns metadata for argument index of k. Qualifier
// queries return Uint values of AddressQualifier, AccessQualifier and
// TypeQualifier. The name and type-name queries need argument metadata and
// fail with ErrArgInfoUnavailable when the program was built without it.
func (rt *Runtime) GetKernelArgInfo(k Kernel, index int, kind KernelArgInfo) (Value, error) {
	const op = "get kernel arg info"
	var (
		v   Value
		err error
	)
	if verr := rt.viewKernel(k, op, func(kd *kernelData) {
		if !kind.Valid() {
			err = newErrorf(CodeInvalidQueryKind, op, kind.String())
			return
		}
		if index < 0 || index >= len(kd.sig.Args) {
			err = newErrorf(CodeInvalidArgIndex, op, fmt.Sprintf("index %d, kernel has %d args", index, len(kd.sig.Args)))
			return
		}
		if kind.needsMetadata() && !kd.argInfo {
			err = newErrorf(CodeArgInfoUnavailable, op, kind.String())
			return
		}
		a := kd.sig.Args[index]
		switch kind {
		case KernelArgAddressQualifier:
			v = uintValue(uint64(a.Address))
		case KernelArgAccessQualifier:
			v = uintValue(uint64(a.Access))
		case KernelArgTypeQualifier:
			v = uintValue(uint64(a.TypeQualifiers))
		case KernelArgTypeName:
			v = stringValue(a.TypeName)
		case KernelArgName:
			v = stringValue(a.Name)
		}
	}); verr != nil {
		return Value{}, verr
	}
	if err != nil {
		return Value{}, err
	}
	return v, nil
}

// SetKernelArg binds argument index of k. A __local argument is bound by
// size alone and value must be nil. Any other argument needs exactly size
// bytes, matching the compiled slot size when it is known.
func (rt *Runtime) SetKernelArg(k Kernel, index int, size uint64, value []byte) error {
	const op = "set kernel arg"
	var err error
	if verr := rt.updateKernel(k, op, func(kd *kernelData) {
		if index < 0 || index >= len(kd.sig.Args) {
			err = newErrorf(CodeInvalidArgIndex, op, fmt.Sprintf("index %d, kernel has %d args", index, len(kd.sig.Args)))
			return
		}
		a := kd.sig.Args[index]
		if a.Address == AddressLocal {
			if value != nil {
				err = newErrorf(CodeInvalidValue, op, "local argument takes no value")
				return
			}
			if size == 0 {
				err = newErrorf(CodeInvalidValue, op, "local argument size must be positive")
				return
			}
			kd.slots[index] = argSlot{set: true, size: size}
			return
		}
		if uint64(len(value)) != size {
			err = newErrorf(CodeInvalidValue, op, fmt.Sprintf("value has %d bytes, size is %d", len(value), size))
			return
		}
		if size == 0 || (a.Size != 0 && a.Size != size) {
			err = newErrorf(CodeInvalidValue, op, fmt.Sprintf("argument %d expects %d bytes, got %d", index, a.Size, size))
			return
		}
		kd.slots[index] = argSlot{set: true, size: size, value: append([]byte(nil), value...)}
	}); verr != nil {
		return verr
	}
	if err != nil {
		return err
	}
	Logger().Debug("kernel arg set", slog.String("kernel", k.String()), slog.Int("index", index), slog.Uint64("size", size))
	return nil
}

// KernelArgsBound reports whether every argument of k has been set.
func (rt *Runtime) KernelArgsBound(k Kernel) (bool, error) {
	bound := true
	err := rt.viewKernel(k, "kernel args bound", func(kd *kernelData) {
		for _, s := range kd.slots {
			if !s.set {
				bound = false
				return
			}
		}
	})
	return bound, err
}

func (rt *Runtime) updateKernel(k Kernel, op string, fn func(*kernelData)) error {
	if !rt.reg.update(Handle(k), kindKernel, func(d any) { fn(d.(*kernelData)) }) {
		return newError(CodeInvalidKernel, op)
	}
	return nil
}
