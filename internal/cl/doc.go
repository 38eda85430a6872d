// Package cl implements the kernel object of an OpenCL-style host API:
// kernel creation from built programs, reference-counted lifetime,
// argument binding, and the kernel, argument and work-group info queries.
//
// Contexts, devices and programs are provided by the same Runtime as
// thin collaborators so kernels have something to be created from.
// Program compilation is delegated to a Compiler.
//
// Every object is addressed by an opaque handle. Create returns a handle
// with one reference; Retain adds one and Release drops one, destroying the
// object at zero. A destroyed handle fails every later operation. Objects
// never retain each other: a kernel does not keep its program alive.
//
// Query kinds and qualifiers use the numeric values of the OpenCL 1.2
// headers (see EnumVersion).
package cl
