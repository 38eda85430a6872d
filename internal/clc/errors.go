package clc

import (
	"fmt"
	"strings"
	"text/scanner"
)

// Diagnostic is one compiler message.
type Diagnostic struct {
	Line int
	Col  int
	Msg  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%d:%d: error: %s", d.Line, d.Col, d.Msg)
}

// BuildError is returned when a source fails to compile.
type BuildError struct {
	Diagnostics []Diagnostic
}

func (e *BuildError) Error() string {
	if len(e.Diagnostics) == 1 {
		return "clc: " + e.Diagnostics[0].String()
	}
	return fmt.Sprintf("clc: %d errors, first: %s", len(e.Diagnostics), e.Diagnostics[0])
}

// BuildLog renders one diagnostic per line.
func (e *BuildError) BuildLog() string {
	var b strings.Builder
	for _, d := range e.Diagnostics {
		b.WriteString(d.String())
		b.WriteByte('\n')
	}
	return b.String()
}

func diagAt(pos scanner.Position, format string, args ...any) Diagnostic {
	return Diagnostic{Line: pos.Line, Col: pos.Column, Msg: fmt.Sprintf(format, args...)}
}
