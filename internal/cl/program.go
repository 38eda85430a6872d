package cl

import (
	"errors"
	"log/slog"
	"time"
)

// ArgSignature is the compiled description of one kernel parameter.
// Name and TypeName are debug metadata; the rest derives from the type.
type ArgSignature struct {
	Name           string           `json:"name,omitempty"`
	TypeName       string           `json:"typeName,omitempty"`
	Address        AddressQualifier `json:"address"`
	Access         AccessQualifier  `json:"access"`
	TypeQualifiers TypeQualifier    `json:"typeQualifiers"`
	// Size of the argument slot in bytes. Zero when unknown.
	Size uint64 `json:"size"`
}

// KernelSignature is the compiled description of one entry point.
type KernelSignature struct {
	Name                 string         `json:"name"`
	Attributes           string         `json:"attributes,omitempty"`
	Args                 []ArgSignature `json:"args"`
	CompileWorkGroupSize [3]uint64      `json:"compileWorkGroupSize"`
	LocalMemSize         uint64         `json:"localMemSize"`
	PrivateMemSize       uint64         `json:"privateMemSize"`
}

// HasCompileWorkGroupSize reports whether the source fixed a work-group size.
func (s KernelSignature) HasCompileWorkGroupSize() bool {
	return s.CompileWorkGroupSize != [3]uint64{}
}

// Binary is a compiled program: its entry points in compiled order and
// whether argument debug metadata was retained.
type Binary struct {
	Kernels []KernelSignature `json:"kernels"`
	ArgInfo bool              `json:"argInfo"`
	Log     string            `json:"log,omitempty"`
}

func (b *Binary) clone() *Binary {
	out := &Binary{ArgInfo: b.ArgInfo, Log: b.Log, Kernels: make([]KernelSignature, len(b.Kernels))}
	for i, k := range b.Kernels {
		k.Args = append([]ArgSignature(nil), k.Args...)
		out.Kernels[i] = k
	}
	return out
}

// Compiler turns program source into a Binary. A failed build returns an
// error; if that error carries a log (see BuildLogger) it is kept as the
// program's build log.
type Compiler interface {
	Compile(source, options string) (*Binary, error)
}

// BuildLogger is implemented by compiler errors that carry a build log.
type BuildLogger interface {
	BuildLog() string
}

type buildState uint8

const (
	buildNone buildState = iota
	buildSuccess
	buildError
)

type programData struct {
	ctx     Context
	source  string
	state   buildState
	binary  *Binary
	options string
	log     string
}

// CreateProgramWithSource creates an unbuilt program in ctx.
func (rt *Runtime) CreateProgramWithSource(ctx Context, source string) (Program, error) {
	const op = "create program"
	if !rt.contextLive(ctx) {
		return 0, newError(CodeInvalidContext, op)
	}
	if source == "" {
		return 0, newErrorf(CodeInvalidValue, op, "empty source")
	}
	return rt.addProgram(&programData{ctx: ctx, source: source}), nil
}

// CreateProgramWithBinary creates an already built program from b.
// The binary is copied.
func (rt *Runtime) CreateProgramWithBinary(ctx Context, b *Binary) (Program, error) {
	const op = "create program"
	if !rt.contextLive(ctx) {
		return 0, newError(CodeInvalidContext, op)
	}
	if b == nil {
		return 0, newErrorf(CodeInvalidValue, op, "nil binary")
	}
	return rt.addProgram(&programData{ctx: ctx, state: buildSuccess, binary: b.clone(), log: b.Log}), nil
}

func (rt *Runtime) addProgram(data *programData) Program {
	var p Program
	p = Program(rt.reg.add(kindProgram, data, func() { logFreed(kindProgram, Handle(p)) }))
	Logger().Debug("program created", slog.String("program", p.String()), slog.String("context", data.ctx.String()))
	return p
}

// BuildProgram compiles a source program with the runtime's compiler.
// On failure the program is marked failed, its log kept, and a
// build-failure error returned. A program cannot be rebuilt once built.
func (rt *Runtime) BuildProgram(p Program, options string) error {
	const op = "build program"
	var (
		source string
		ctx    Context
		state  buildState
	)
	if !rt.reg.view(Handle(p), kindProgram, func(d any) {
		pd := d.(*programData)
		source, ctx, state = pd.source, pd.ctx, pd.state
	}) {
		return newError(CodeInvalidProgram, op)
	}
	if !rt.contextLive(ctx) {
		return newError(CodeInvalidContext, op)
	}
	if state == buildSuccess {
		return newErrorf(CodeInvalidValue, op, "program already built")
	}
	if rt.compiler == nil {
		return newErrorf(CodeInvalidValue, op, "runtime has no compiler")
	}

	start := time.Now()
	bin, cerr := rt.compiler.Compile(source, options)
	if cerr == nil && bin == nil {
		cerr = errors.New("compiler returned no binary")
	}

	var log string
	if cerr != nil {
		var bl BuildLogger
		if errors.As(cerr, &bl) {
			log = bl.BuildLog()
		} else {
			log = cerr.Error()
		}
	} else {
		bin = bin.clone()
		log = bin.Log
	}

	if !rt.reg.update(Handle(p), kindProgram, func(d any) {
		pd := d.(*programData)
		pd.options = options
		pd.log = log
		if cerr != nil {
			pd.state, pd.binary = buildError, nil
			return
		}
		pd.state, pd.binary = buildSuccess, bin
	}) {
		return newError(CodeInvalidProgram, op)
	}
	if cerr != nil {
		return &Error{Code: CodeBuildFailure, Op: op, Detail: firstLine(log)}
	}
	Logger().Debug("program built",
		slog.String("program", p.String()),
		slog.Int("kernels", len(bin.Kernels)),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// ProgramBuildLog returns the log of the last build attempt.
func (rt *Runtime) ProgramBuildLog(p Program) (string, error) {
	var log string
	if !rt.reg.view(Handle(p), kindProgram, func(d any) { log = d.(*programData).log }) {
		return "", newError(CodeInvalidProgram, "program build log")
	}
	return log, nil
}

// ProgramKernelNames lists the entry points of a built program in
// compiled order.
func (rt *Runtime) ProgramKernelNames(p Program) ([]string, error) {
	const op = "program kernel names"
	var (
		names []string
		built bool
	)
	if !rt.reg.view(Handle(p), kindProgram, func(d any) {
		pd := d.(*programData)
		if pd.state != buildSuccess {
			return
		}
		built = true
		for _, k := range pd.binary.Kernels {
			names = append(names, k.Name)
		}
	}) {
		return nil, newError(CodeInvalidProgram, op)
	}
	if !built {
		return nil, newErrorf(CodeInvalidProgram, op, "program not built")
	}
	return names, nil
}

// ProgramContext returns the context a program was created in.
func (rt *Runtime) ProgramContext(p Program) (Context, error) {
	var ctx Context
	if !rt.reg.view(Handle(p), kindProgram, func(d any) { ctx = d.(*programData).ctx }) {
		return 0, newError(CodeInvalidProgram, "program context")
	}
	return ctx, nil
}

func (rt *Runtime) RetainProgram(p Program) error {
	if _, ok := rt.reg.retain(Handle(p), kindProgram); !ok {
		return newError(CodeInvalidProgram, "retain program")
	}
	return nil
}

func (rt *Runtime) ReleaseProgram(p Program) error {
	if _, ok := rt.reg.release(Handle(p), kindProgram); !ok {
		return newError(CodeInvalidProgram, "release program")
	}
	return nil
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
