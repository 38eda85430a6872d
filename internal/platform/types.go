// Package platform describes the platforms and devices kernels run on.
// Devices come from an HCL manifest of simulated hardware or, when built
// with the gpu tag, from the installed OpenCL drivers.
package platform

import (
	"fmt"
	"strings"

	"github.com/cwbudde/clkernel/internal/cl"
)

// DeviceType describes the class of an OpenCL device.
type DeviceType string

const (
	DeviceTypeGPU         DeviceType = "GPU"
	DeviceTypeCPU         DeviceType = "CPU"
	DeviceTypeAccelerator DeviceType = "Accelerator"
	DeviceTypeDefault     DeviceType = "Default"
	DeviceTypeUnknown     DeviceType = "Unknown"
)

// ParseDeviceType accepts a device type name in any case.
func ParseDeviceType(s string) (DeviceType, error) {
	for _, t := range []DeviceType{DeviceTypeGPU, DeviceTypeCPU, DeviceTypeAccelerator, DeviceTypeDefault} {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return DeviceTypeUnknown, fmt.Errorf("unknown device type %q", s)
}

// DeviceInfo captures metadata about a device.
type DeviceInfo struct {
	Name                           string     `json:"name"`
	Vendor                         string     `json:"vendor"`
	Version                        string     `json:"version"`
	Type                           DeviceType `json:"type"`
	MaxComputeUnits                uint32     `json:"maxComputeUnits"`
	MaxWorkGroupSize               uint64     `json:"maxWorkGroupSize"`
	PreferredWorkGroupSizeMultiple uint64     `json:"preferredWorkGroupSizeMultiple"`
	LocalMemSize                   uint64     `json:"localMemSize"`
}

// Spec converts the device description for cl.Runtime.CreateContext.
func (d DeviceInfo) Spec() cl.DeviceSpec {
	return cl.DeviceSpec{
		Name:                           d.Name,
		Vendor:                         d.Vendor,
		Version:                        d.Version,
		Type:                           string(d.Type),
		MaxComputeUnits:                d.MaxComputeUnits,
		MaxWorkGroupSize:               d.MaxWorkGroupSize,
		PreferredWorkGroupSizeMultiple: d.PreferredWorkGroupSizeMultiple,
		LocalMemSize:                   d.LocalMemSize,
	}
}

// PlatformInfo captures metadata about a platform and its devices.
type PlatformInfo struct {
	Name    string       `json:"name"`
	Vendor  string       `json:"vendor"`
	Version string       `json:"version"`
	Devices []DeviceInfo `json:"devices"`
}

// Specs flattens the devices of every platform, optionally keeping only
// those whose name contains one of the filters.
func Specs(platforms []PlatformInfo, filters ...string) []cl.DeviceSpec {
	var out []cl.DeviceSpec
	for _, p := range platforms {
		for _, d := range p.Devices {
			if matches(d.Name, filters) {
				out = append(out, d.Spec())
			}
		}
	}
	return out
}

func matches(name string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f != "" && strings.Contains(strings.ToLower(name), strings.ToLower(f)) {
			return true
		}
	}
	return false
}
