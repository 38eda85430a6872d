// Package clc is a small OpenCL C front end. It does not generate code; it
// extracts what the host API needs from kernel source: entry points,
// argument signatures, attributes and static memory use.
package clc

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cwbudde/clkernel/internal/cl"
)

// ArgInfoOption is the build option that asks for argument metadata.
const ArgInfoOption = "-cl-kernel-arg-info"

// Compiler implements cl.Compiler.
type Compiler struct {
	// StrictArgInfo keeps argument names and type names only when the
	// build options contain ArgInfoOption. Otherwise they are always kept.
	StrictArgInfo bool
	// Filename is used in diagnostics.
	Filename string
}

func New() *Compiler {
	return &Compiler{Filename: "<source>"}
}

// Options are the build options clc understands. Everything else is
// accepted and ignored.
type Options struct {
	Defines map[string]uint64
	ArgInfo bool
}

// ParseOptions reads -D and -cl-kernel-arg-info from a build option string.
func ParseOptions(options string) (Options, error) {
	opts := Options{Defines: map[string]uint64{}}
	fields := strings.Fields(options)
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		switch {
		case f == ArgInfoOption:
			opts.ArgInfo = true
		case f == "-D":
			if i+1 >= len(fields) {
				return opts, errors.New("option -D requires a macro")
			}
			i++
			define(opts.Defines, fields[i])
		case strings.HasPrefix(f, "-D"):
			define(opts.Defines, f[2:])
		}
	}
	return opts, nil
}

func define(defines map[string]uint64, macro string) {
	name, value, found := strings.Cut(macro, "=")
	if !found {
		defines[name] = 1
		return
	}
	if n, err := parseInt(value); err == nil {
		defines[name] = n
	}
}

// Compile parses source and returns the kernels it defines in source order.
func (c *Compiler) Compile(source, options string) (*cl.Binary, error) {
	opts, err := ParseOptions(options)
	if err != nil {
		return nil, &BuildError{Diagnostics: []Diagnostic{{Msg: err.Error()}}}
	}
	filename := c.Filename
	if filename == "" {
		filename = "<source>"
	}

	defines := opts.Defines
	src := preprocess(source, defines)

	toks, diags := tokenize(filename, src)
	p := &parser{toks: toks, defines: defines, typedefs: map[string]uint64{}, diags: diags}
	kernels := p.parseFile()
	if len(p.diags) > 0 {
		return nil, &BuildError{Diagnostics: p.diags}
	}

	bin := &cl.Binary{
		Kernels: kernels,
		ArgInfo: !c.StrictArgInfo || opts.ArgInfo,
		Log:     fmt.Sprintf("%s: %d kernel(s)", filename, len(kernels)),
	}
	cl.Logger().Debug("source compiled",
		slog.String("file", filename),
		slog.Int("kernels", len(kernels)),
		slog.Bool("argInfo", bin.ArgInfo))
	return bin, nil
}
