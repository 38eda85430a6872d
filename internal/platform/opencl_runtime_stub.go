//go:build !gpu

package platform

import (
	"errors"

	"github.com/cwbudde/clkernel/internal/cl"
)

// Runtime is a placeholder when OpenCL support is not compiled.
type Runtime struct {
	Platform PlatformInfo
	Device   DeviceInfo
}

// ErrNotBuilt indicates the binary was built without OpenCL support.
var ErrNotBuilt = errors.New("opencl support requires building with '-tags gpu'")

// InitOpenCL returns ErrNotBuilt when OpenCL support is not compiled in.
func InitOpenCL() (*Runtime, error) {
	return nil, ErrNotBuilt
}

// Close is a no-op without OpenCL support.
func (r *Runtime) Close() {}

// Compile returns ErrNotBuilt.
func (r *Runtime) Compile(source, options string) (*cl.Binary, error) {
	return nil, ErrNotBuilt
}

// EnumeratePlatforms returns ErrNotBuilt when OpenCL support is not compiled in.
func EnumeratePlatforms() ([]PlatformInfo, error) {
	return nil, ErrNotBuilt
}
