package cl

import "log/slog"

// Runtime owns a handle registry and the compiler used to build programs.
// All methods are safe for concurrent use.
type Runtime struct {
	reg      *registry
	compiler Compiler
}

// New creates a runtime. compiler may be nil, in which case programs can
// only be created from already compiled binaries.
func New(compiler Compiler) *Runtime {
	return &Runtime{reg: newRegistry(), compiler: compiler}
}

// Stats reports the number of live objects of each kind.
type Stats struct {
	Contexts int `json:"contexts"`
	Devices  int `json:"devices"`
	Programs int `json:"programs"`
	Kernels  int `json:"kernels"`
}

func (rt *Runtime) Stats() Stats {
	return Stats{
		Contexts: rt.reg.live(kindContext),
		Devices:  rt.reg.live(kindDevice),
		Programs: rt.reg.live(kindProgram),
		Kernels:  rt.reg.live(kindKernel),
	}
}

func logFreed(kind objectKind, h Handle) {
	Logger().Debug("object freed", slog.String("kind", kind.String()), slog.String("handle", h.String()))
}
