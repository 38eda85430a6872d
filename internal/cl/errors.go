package cl

import "strconv"

// Code identifies one failure class. Every operation in this package fails
// with an *Error carrying exactly one Code.
type Code int

const (
	CodeInvalidProgram Code = iota + 1
	CodeKernelNotFound
	CodeInvalidKernel
	CodeInvalidQueryKind
	CodeInvalidArgIndex
	CodeArgInfoUnavailable
	CodeInvalidDevice
	CodeInvalidValue

	// Used by the context/program collaborators only.
	CodeInvalidContext
	CodeBuildFailure
)

type codeInfo struct {
	message string
	status  string
	number  int32
}

// Status names and numbers follow the OpenCL 1.2 headers. Invalid query
// kinds have no dedicated OpenCL status; they are reported as CL_INVALID_VALUE
// on the wire but keep their own Code here.
var codes = map[Code]codeInfo{
	CodeInvalidProgram:     {"invalid program", "CL_INVALID_PROGRAM_EXECUTABLE", -45},
	CodeKernelNotFound:     {"kernel not found in program", "CL_INVALID_KERNEL_NAME", -46},
	CodeInvalidKernel:      {"invalid kernel", "CL_INVALID_KERNEL", -48},
	CodeInvalidQueryKind:   {"invalid query kind", "CL_INVALID_VALUE", -30},
	CodeInvalidArgIndex:    {"invalid argument index", "CL_INVALID_ARG_INDEX", -49},
	CodeArgInfoUnavailable: {"kernel argument info not available", "CL_KERNEL_ARG_INFO_NOT_AVAILABLE", -19},
	CodeInvalidDevice:      {"invalid device", "CL_INVALID_DEVICE", -33},
	CodeInvalidValue:       {"invalid value", "CL_INVALID_VALUE", -30},
	CodeInvalidContext:     {"invalid context", "CL_INVALID_CONTEXT", -34},
	CodeBuildFailure:       {"program build failure", "CL_BUILD_PROGRAM_FAILURE", -11},
}

// Message returns the fixed human-readable message for the code.
func (c Code) Message() string {
	if info, ok := codes[c]; ok {
		return info.message
	}
	return "unknown error"
}

// Status returns the OpenCL status name and number the code maps to.
func (c Code) Status() (string, int32) {
	if info, ok := codes[c]; ok {
		return info.status, info.number
	}
	return "CL_UNKNOWN_ERROR", 0
}

func (c Code) String() string {
	name, number := c.Status()
	return name + " (" + strconv.Itoa(int(number)) + ")"
}

// Error is the single error type returned by this package.
// Use errors.Is with the Err* sentinels to test for a code.
type Error struct {
	Code   Code
	Op     string
	Detail string
}

func (e *Error) Error() string {
	msg := "cl: "
	if e.Op != "" {
		msg += e.Op + ": "
	}
	msg += e.Code.Message()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidProgram     = &Error{Code: CodeInvalidProgram}
	ErrKernelNotFound     = &Error{Code: CodeKernelNotFound}
	ErrInvalidKernel      = &Error{Code: CodeInvalidKernel}
	ErrInvalidQueryKind   = &Error{Code: CodeInvalidQueryKind}
	ErrInvalidArgIndex    = &Error{Code: CodeInvalidArgIndex}
	ErrArgInfoUnavailable = &Error{Code: CodeArgInfoUnavailable}
	ErrInvalidDevice      = &Error{Code: CodeInvalidDevice}
	ErrInvalidValue       = &Error{Code: CodeInvalidValue}
	ErrInvalidContext     = &Error{Code: CodeInvalidContext}
	ErrBuildFailure       = &Error{Code: CodeBuildFailure}
)

func newError(code Code, op string) *Error {
	return &Error{Code: code, Op: op}
}

func newErrorf(code Code, op, detail string) *Error {
	return &Error{Code: code, Op: op, Detail: detail}
}
