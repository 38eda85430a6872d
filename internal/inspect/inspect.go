// Package inspect runs every kernel query against a built program and
// collects the answers into a Report.
package inspect

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/clkernel/internal/cl"
	"github.com/cwbudde/clkernel/internal/dispatch"
	"github.com/cwbudde/clkernel/internal/opt"
)

// Options tune an inspection.
type Options struct {
	// Name labels the report, usually the source file name.
	Name string
	// GlobalSize, when non-zero, adds a suggested local size per device.
	GlobalSize uint64
	// Optimizer drives the local-size search. Nil selects the dispatch default.
	Optimizer opt.Optimizer
}

// Inspect creates one kernel per entry point of p, queries it on every
// device and releases it again. p must be built.
func Inspect(rt *cl.Runtime, p cl.Program, devices []cl.Device, opts Options) (*Report, error) {
	names, err := rt.ProgramKernelNames(p)
	if err != nil {
		return nil, fmt.Errorf("failed to list kernels: %w", err)
	}
	buildLog, err := rt.ProgramBuildLog(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read build log: %w", err)
	}

	report := &Report{
		ID:        uuid.New().String(),
		Name:      opts.Name,
		CreatedAt: time.Now(),
		Program: ProgramReport{
			Handle:      p.String(),
			BuildLog:    buildLog,
			KernelNames: names,
		},
		GlobalSize: opts.GlobalSize,
		Kernels:    []KernelReport{},
	}

	queues := make([]*dispatch.Queue, len(devices))
	for i, dev := range devices {
		spec, err := rt.DeviceSpecOf(dev)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", dev, err)
		}
		report.Devices = append(report.Devices, spec)
		if opts.GlobalSize > 0 {
			if queues[i], err = dispatch.NewQueue(rt, dev, opts.Optimizer); err != nil {
				return nil, fmt.Errorf("device %s: %w", dev, err)
			}
		}
	}

	if len(names) == 0 {
		return report, nil
	}
	kernels, err := rt.CreateKernelsInProgram(p, len(names))
	if err != nil {
		return nil, fmt.Errorf("failed to create kernels: %w", err)
	}
	defer func() {
		for _, k := range kernels {
			if err := rt.ReleaseKernel(k); err != nil {
				slog.Warn("Failed to release kernel", "kernel", k.String(), "error", err)
			}
		}
	}()

	for _, k := range kernels {
		kr, err := inspectKernel(rt, k, devices, queues, opts.GlobalSize)
		if err != nil {
			return nil, err
		}
		report.Kernels = append(report.Kernels, kr)
	}
	return report, nil
}

// InspectSource builds source in ctx and inspects the result. The program
// is released before returning. A failed build is returned as is so the
// caller can read the cl.ErrBuildFailure detail.
func InspectSource(rt *cl.Runtime, ctx cl.Context, devices []cl.Device, source, options string, opts Options) (*Report, error) {
	p, err := rt.CreateProgramWithSource(ctx, source)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rt.ReleaseProgram(p); err != nil {
			slog.Warn("Failed to release program", "program", p.String(), "error", err)
		}
	}()

	if err := rt.BuildProgram(p, options); err != nil {
		if log, lerr := rt.ProgramBuildLog(p); lerr == nil && log != "" {
			return nil, &BuildFailedError{Err: err, Log: log}
		}
		return nil, err
	}

	report, err := Inspect(rt, p, devices, opts)
	if err != nil {
		return nil, err
	}
	report.Program.Options = options
	return report, nil
}

// BuildFailedError carries the full build log of a failed InspectSource.
type BuildFailedError struct {
	Err error
	Log string
}

func (e *BuildFailedError) Error() string { return e.Err.Error() }
func (e *BuildFailedError) Unwrap() error { return e.Err }

func inspectKernel(rt *cl.Runtime, k cl.Kernel, devices []cl.Device, queues []*dispatch.Queue, globalSize uint64) (KernelReport, error) {
	var kr KernelReport
	info := func(kind cl.KernelInfo) (cl.Value, error) {
		v, err := rt.GetKernelInfo(k, kind)
		if err != nil {
			return v, fmt.Errorf("kernel %s: %w", k, err)
		}
		return v, nil
	}

	v, err := info(cl.KernelFunctionName)
	if err != nil {
		return kr, err
	}
	kr.Name, _ = v.Str()
	if v, err = info(cl.KernelAttributes); err != nil {
		return kr, err
	}
	kr.Attributes, _ = v.Str()
	if v, err = info(cl.KernelNumArgs); err != nil {
		return kr, err
	}
	kr.NumArgs, _ = v.Uint()
	if v, err = info(cl.KernelReferenceCount); err != nil {
		return kr, err
	}
	kr.RefCount, _ = v.Uint()

	kr.Args = make([]ArgReport, 0, kr.NumArgs)
	for i := 0; i < int(kr.NumArgs); i++ {
		a, err := inspectArg(rt, k, i)
		if err != nil {
			return kr, fmt.Errorf("kernel %s arg %d: %w", kr.Name, i, err)
		}
		kr.Args = append(kr.Args, a)
	}

	kr.WorkGroup = make([]WorkGroupReport, 0, len(devices))
	for i, dev := range devices {
		wg, err := inspectWorkGroup(rt, k, dev)
		if err != nil {
			return kr, fmt.Errorf("kernel %s on %s: %w", kr.Name, dev, err)
		}
		if q := queues[i]; q != nil {
			local, err := q.LocalSize(k, globalSize)
			if err != nil {
				wg.LocalSizeError = err.Error()
			} else {
				wg.LocalSize = local
			}
		}
		kr.WorkGroup = append(kr.WorkGroup, wg)
	}
	return kr, nil
}

func inspectArg(rt *cl.Runtime, k cl.Kernel, index int) (ArgReport, error) {
	a := ArgReport{Index: index}
	qualifier := func(kind cl.KernelArgInfo) (uint64, error) {
		v, err := rt.GetKernelArgInfo(k, index, kind)
		if err != nil {
			return 0, err
		}
		n, _ := v.Uint()
		return n, nil
	}

	addr, err := qualifier(cl.KernelArgAddressQualifier)
	if err != nil {
		return a, err
	}
	access, err := qualifier(cl.KernelArgAccessQualifier)
	if err != nil {
		return a, err
	}
	quals, err := qualifier(cl.KernelArgTypeQualifier)
	if err != nil {
		return a, err
	}
	a.Address = cl.AddressQualifier(addr).String()
	a.Access = cl.AccessQualifier(access).String()
	a.TypeQualifiers = cl.TypeQualifier(quals).String()

	name, err := rt.GetKernelArgInfo(k, index, cl.KernelArgName)
	if errors.Is(err, cl.ErrArgInfoUnavailable) {
		return a, nil
	}
	if err != nil {
		return a, err
	}
	typeName, err := rt.GetKernelArgInfo(k, index, cl.KernelArgTypeName)
	if err != nil {
		return a, err
	}
	a.Name, _ = name.Str()
	a.TypeName, _ = typeName.Str()
	a.Metadata = true
	return a, nil
}

func inspectWorkGroup(rt *cl.Runtime, k cl.Kernel, dev cl.Device) (WorkGroupReport, error) {
	wg := WorkGroupReport{Device: dev.String()}
	if spec, err := rt.DeviceSpecOf(dev); err == nil && spec.Name != "" {
		wg.Device = spec.Name
	}
	for _, q := range []struct {
		kind cl.KernelWorkGroupInfo
		dst  *uint64
	}{
		{cl.KernelWorkGroupSize, &wg.WorkGroupSize},
		{cl.KernelLocalMemSize, &wg.LocalMemSize},
		{cl.KernelPreferredWorkGroupSizeMultiple, &wg.PreferredMultiple},
		{cl.KernelPrivateMemSize, &wg.PrivateMemSize},
	} {
		v, err := rt.GetKernelWorkGroupInfo(k, dev, q.kind)
		if err != nil {
			return wg, err
		}
		*q.dst, _ = v.Uint()
	}
	v, err := rt.GetKernelWorkGroupInfo(k, dev, cl.KernelCompileWorkGroupSize)
	if err != nil {
		return wg, err
	}
	wg.CompileWorkGroupSize, _ = v.Size3()
	return wg, nil
}
