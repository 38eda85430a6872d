package platform

import (
	_ "embed"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

//go:embed default.hcl
var defaultManifest []byte

type hclManifest struct {
	Platforms []*hclPlatform `hcl:"platform,block"`
}

type hclPlatform struct {
	Name    string       `hcl:"name,label"`
	Vendor  string       `hcl:"vendor,optional"`
	Version string       `hcl:"version,optional"`
	Devices []*hclDevice `hcl:"device,block"`
}

type hclDevice struct {
	Name                           string  `hcl:"name,label"`
	Vendor                         *string `hcl:"vendor,optional"`
	Version                        *string `hcl:"version,optional"`
	Type                           string  `hcl:"type,optional"`
	ComputeUnits                   uint32  `hcl:"compute_units,optional"`
	MaxWorkGroupSize               uint64  `hcl:"max_work_group_size"`
	PreferredWorkGroupSizeMultiple uint64  `hcl:"preferred_work_group_size_multiple,optional"`
	LocalMemSize                   uint64  `hcl:"local_mem_size,optional"`
}

// evalContext exposes size units so manifests can write 48 * KiB.
func evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"KiB": cty.NumberIntVal(1 << 10),
			"MiB": cty.NumberIntVal(1 << 20),
			"GiB": cty.NumberIntVal(1 << 30),
		},
	}
}

// LoadManifest parses the platform manifest at path.
func LoadManifest(path string) ([]PlatformInfo, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, diags)
	}
	return decodeManifest(file, path)
}

// ParseManifest parses manifest source. filename is used in diagnostics.
func ParseManifest(src []byte, filename string) ([]PlatformInfo, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", filename, diags)
	}
	return decodeManifest(file, filename)
}

// DefaultPlatforms returns the built-in simulated platform.
func DefaultPlatforms() []PlatformInfo {
	platforms, err := ParseManifest(defaultManifest, "default.hcl")
	if err != nil {
		panic(fmt.Sprintf("platform: embedded manifest is invalid: %v", err))
	}
	return platforms
}

func decodeManifest(file *hcl.File, filename string) ([]PlatformInfo, error) {
	var m hclManifest
	if diags := gohcl.DecodeBody(file.Body, evalContext(), &m); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", filename, diags)
	}

	platforms := make([]PlatformInfo, 0, len(m.Platforms))
	seen := map[string]bool{}
	for _, p := range m.Platforms {
		info := PlatformInfo{Name: p.Name, Vendor: p.Vendor, Version: p.Version}
		for _, d := range p.Devices {
			if seen[d.Name] {
				return nil, fmt.Errorf("manifest %s: duplicate device %q", filename, d.Name)
			}
			seen[d.Name] = true
			dev, err := d.info(p)
			if err != nil {
				return nil, fmt.Errorf("manifest %s: device %q: %w", filename, d.Name, err)
			}
			info.Devices = append(info.Devices, dev)
		}
		platforms = append(platforms, info)
	}
	return platforms, nil
}

func (d *hclDevice) info(p *hclPlatform) (DeviceInfo, error) {
	dt := DeviceTypeDefault
	if d.Type != "" {
		t, err := ParseDeviceType(d.Type)
		if err != nil {
			return DeviceInfo{}, err
		}
		dt = t
	}
	if d.MaxWorkGroupSize == 0 {
		return DeviceInfo{}, fmt.Errorf("max_work_group_size must be positive")
	}
	multiple := d.PreferredWorkGroupSizeMultiple
	if multiple == 0 {
		multiple = 1
	}
	if multiple > d.MaxWorkGroupSize {
		return DeviceInfo{}, fmt.Errorf("preferred_work_group_size_multiple %d exceeds max_work_group_size %d", multiple, d.MaxWorkGroupSize)
	}

	info := DeviceInfo{
		Name:                           d.Name,
		Vendor:                         p.Vendor,
		Version:                        p.Version,
		Type:                           dt,
		MaxComputeUnits:                max(d.ComputeUnits, 1),
		MaxWorkGroupSize:               d.MaxWorkGroupSize,
		PreferredWorkGroupSizeMultiple: multiple,
		LocalMemSize:                   d.LocalMemSize,
	}
	if d.Vendor != nil {
		info.Vendor = *d.Vendor
	}
	if d.Version != nil {
		info.Version = *d.Version
	}
	return info, nil
}
