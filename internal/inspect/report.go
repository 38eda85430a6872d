package inspect

import (
	"fmt"
	"time"

	"github.com/cwbudde/clkernel/internal/cl"
)

// Report is the persisted result of inspecting one program on a set of
// devices.
type Report struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`

	Program    ProgramReport   `json:"program"`
	Devices    []cl.DeviceSpec `json:"devices"`
	Kernels    []KernelReport  `json:"kernels"`
	GlobalSize uint64          `json:"globalSize,omitempty"`
}

// ProgramReport summarizes the program the kernels came from.
type ProgramReport struct {
	Handle      string   `json:"handle"`
	Options     string   `json:"options,omitempty"`
	BuildLog    string   `json:"buildLog,omitempty"`
	KernelNames []string `json:"kernelNames"`
}

// KernelReport holds every kernel-scoped query result.
type KernelReport struct {
	Name       string            `json:"name"`
	Attributes string            `json:"attributes,omitempty"`
	NumArgs    uint64            `json:"numArgs"`
	RefCount   uint64            `json:"refCount"`
	Args       []ArgReport       `json:"args"`
	WorkGroup  []WorkGroupReport `json:"workGroup"`
}

// ArgReport describes one argument. Name and TypeName are empty and
// Metadata is false when the program was built without argument info.
type ArgReport struct {
	Index          int    `json:"index"`
	Name           string `json:"name,omitempty"`
	TypeName       string `json:"typeName,omitempty"`
	Address        string `json:"address"`
	Access         string `json:"access"`
	TypeQualifiers string `json:"typeQualifiers"`
	Metadata       bool   `json:"metadata"`
}

// WorkGroupReport holds the device-specific sizing of a kernel.
type WorkGroupReport struct {
	Device               string    `json:"device"`
	WorkGroupSize        uint64    `json:"workGroupSize"`
	CompileWorkGroupSize [3]uint64 `json:"compileWorkGroupSize"`
	LocalMemSize         uint64    `json:"localMemSize"`
	PreferredMultiple    uint64    `json:"preferredMultiple"`
	PrivateMemSize       uint64    `json:"privateMemSize"`
	LocalSize            uint64    `json:"localSize,omitempty"`
	LocalSizeError       string    `json:"localSizeError,omitempty"`
}

// ReportInfo is the listing view of a report.
type ReportInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Kernels   int       `json:"kernels"`
	Devices   int       `json:"devices"`
}

// ToInfo converts a full Report to ReportInfo.
func (r *Report) ToInfo() ReportInfo {
	return ReportInfo{
		ID:        r.ID,
		Name:      r.Name,
		CreatedAt: r.CreatedAt,
		Kernels:   len(r.Kernels),
		Devices:   len(r.Devices),
	}
}

// Validate checks that the report is complete enough to persist.
func (r *Report) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "ID", Reason: "cannot be empty"}
	}
	if r.CreatedAt.IsZero() {
		return &ValidationError{Field: "CreatedAt", Reason: "cannot be zero"}
	}
	if len(r.Kernels) != len(r.Program.KernelNames) {
		return &ValidationError{
			Field:  "Kernels",
			Reason: fmt.Sprintf("has %d entries for %d kernel names", len(r.Kernels), len(r.Program.KernelNames)),
		}
	}
	for i, k := range r.Kernels {
		if k.Name == "" {
			return &ValidationError{Field: fmt.Sprintf("Kernels[%d].Name", i), Reason: "cannot be empty"}
		}
		if uint64(len(k.Args)) != k.NumArgs {
			return &ValidationError{
				Field:  fmt.Sprintf("Kernels[%d].Args", i),
				Reason: fmt.Sprintf("length mismatch: expected %d args", k.NumArgs),
			}
		}
		if len(k.WorkGroup) != len(r.Devices) {
			return &ValidationError{
				Field:  fmt.Sprintf("Kernels[%d].WorkGroup", i),
				Reason: fmt.Sprintf("length mismatch: expected %d devices", len(r.Devices)),
			}
		}
	}
	return nil
}

// ValidationError represents a report validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
