package cl

import (
	"fmt"
	"log/slog"
)

// DeviceSpec describes the limits of a device the runtime exposes.
type DeviceSpec struct {
	Name                           string `json:"name"`
	Vendor                         string `json:"vendor"`
	Version                        string `json:"version"`
	Type                           string `json:"type"`
	MaxComputeUnits                uint32 `json:"maxComputeUnits"`
	MaxWorkGroupSize               uint64 `json:"maxWorkGroupSize"`
	PreferredWorkGroupSizeMultiple uint64 `json:"preferredWorkGroupSizeMultiple"`
	LocalMemSize                   uint64 `json:"localMemSize"`
}

type contextData struct {
	devices []Device
}

type deviceData struct {
	ctx  Context
	spec DeviceSpec
}

// CreateContext creates a context owning one device per spec. The devices
// belong to the context and are destroyed with it.
func (rt *Runtime) CreateContext(specs ...DeviceSpec) (Context, []Device, error) {
	const op = "create context"
	if len(specs) == 0 {
		return 0, nil, newErrorf(CodeInvalidValue, op, "no devices")
	}
	for i, s := range specs {
		if s.MaxWorkGroupSize == 0 {
			return 0, nil, newErrorf(CodeInvalidValue, op, fmt.Sprintf("device %d: max work-group size must be positive", i))
		}
	}

	data := &contextData{}
	var ctx Context
	h := rt.reg.add(kindContext, data, func() {
		for _, d := range data.devices {
			rt.reg.destroy(Handle(d), kindDevice)
		}
		logFreed(kindContext, Handle(ctx))
	})
	ctx = Context(h)

	devices := make([]Device, len(specs))
	for i, s := range specs {
		devices[i] = Device(rt.reg.add(kindDevice, &deviceData{ctx: ctx, spec: s}, nil))
	}
	rt.reg.update(h, kindContext, func(any) { data.devices = devices })

	Logger().Debug("context created", slog.String("context", ctx.String()), slog.Int("devices", len(devices)))
	return ctx, append([]Device(nil), devices...), nil
}

func (rt *Runtime) RetainContext(ctx Context) error {
	if _, ok := rt.reg.retain(Handle(ctx), kindContext); !ok {
		return newError(CodeInvalidContext, "retain context")
	}
	return nil
}

func (rt *Runtime) ReleaseContext(ctx Context) error {
	if _, ok := rt.reg.release(Handle(ctx), kindContext); !ok {
		return newError(CodeInvalidContext, "release context")
	}
	return nil
}

// ContextDevices returns the devices of a live context in creation order.
func (rt *Runtime) ContextDevices(ctx Context) ([]Device, error) {
	var devices []Device
	ok := rt.reg.view(Handle(ctx), kindContext, func(d any) {
		devices = append(devices, d.(*contextData).devices...)
	})
	if !ok {
		return nil, newError(CodeInvalidContext, "context devices")
	}
	return devices, nil
}

// DeviceSpecOf returns the description a device was created from.
func (rt *Runtime) DeviceSpecOf(dev Device) (DeviceSpec, error) {
	var spec DeviceSpec
	ok := rt.reg.view(Handle(dev), kindDevice, func(d any) {
		spec = d.(*deviceData).spec
	})
	if !ok {
		return DeviceSpec{}, newError(CodeInvalidDevice, "device spec")
	}
	return spec, nil
}

func (rt *Runtime) contextLive(ctx Context) bool {
	return rt.reg.view(Handle(ctx), kindContext, func(any) {})
}
