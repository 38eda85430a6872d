//go:build gpu

package platform

/*
#cgo LDFLAGS: -lOpenCL
#define CL_TARGET_OPENCL_VERSION 120
#define CL_USE_DEPRECATED_OPENCL_1_2_APIS
#include <stdlib.h>
#include <CL/cl.h>

static const char* clk_error_string(cl_int status) {
	switch (status) {
	case CL_SUCCESS: return "CL_SUCCESS";
	case CL_DEVICE_NOT_FOUND: return "CL_DEVICE_NOT_FOUND";
	case CL_DEVICE_NOT_AVAILABLE: return "CL_DEVICE_NOT_AVAILABLE";
	case CL_COMPILER_NOT_AVAILABLE: return "CL_COMPILER_NOT_AVAILABLE";
	case CL_MEM_OBJECT_ALLOCATION_FAILURE: return "CL_MEM_OBJECT_ALLOCATION_FAILURE";
	case CL_OUT_OF_RESOURCES: return "CL_OUT_OF_RESOURCES";
	case CL_OUT_OF_HOST_MEMORY: return "CL_OUT_OF_HOST_MEMORY";
	case CL_PROFILING_INFO_NOT_AVAILABLE: return "CL_PROFILING_INFO_NOT_AVAILABLE";
	case CL_MEM_COPY_OVERLAP: return "CL_MEM_COPY_OVERLAP";
	case CL_IMAGE_FORMAT_MISMATCH: return "CL_IMAGE_FORMAT_MISMATCH";
	case CL_IMAGE_FORMAT_NOT_SUPPORTED: return "CL_IMAGE_FORMAT_NOT_SUPPORTED";
	case CL_BUILD_PROGRAM_FAILURE: return "CL_BUILD_PROGRAM_FAILURE";
	case CL_MAP_FAILURE: return "CL_MAP_FAILURE";
	case CL_COMPILE_PROGRAM_FAILURE: return "CL_COMPILE_PROGRAM_FAILURE";
	case CL_KERNEL_ARG_INFO_NOT_AVAILABLE: return "CL_KERNEL_ARG_INFO_NOT_AVAILABLE";
	case CL_INVALID_VALUE: return "CL_INVALID_VALUE";
	case CL_INVALID_DEVICE_TYPE: return "CL_INVALID_DEVICE_TYPE";
	case CL_INVALID_PLATFORM: return "CL_INVALID_PLATFORM";
	case CL_INVALID_DEVICE: return "CL_INVALID_DEVICE";
	case CL_INVALID_CONTEXT: return "CL_INVALID_CONTEXT";
	case CL_INVALID_QUEUE_PROPERTIES: return "CL_INVALID_QUEUE_PROPERTIES";
	case CL_INVALID_COMMAND_QUEUE: return "CL_INVALID_COMMAND_QUEUE";
	case CL_INVALID_HOST_PTR: return "CL_INVALID_HOST_PTR";
	case CL_INVALID_MEM_OBJECT: return "CL_INVALID_MEM_OBJECT";
	case CL_INVALID_IMAGE_FORMAT_DESCRIPTOR: return "CL_INVALID_IMAGE_FORMAT_DESCRIPTOR";
	case CL_INVALID_IMAGE_SIZE: return "CL_INVALID_IMAGE_SIZE";
	case CL_INVALID_SAMPLER: return "CL_INVALID_SAMPLER";
	case CL_INVALID_BINARY: return "CL_INVALID_BINARY";
	case CL_INVALID_BUILD_OPTIONS: return "CL_INVALID_BUILD_OPTIONS";
	case CL_INVALID_PROGRAM: return "CL_INVALID_PROGRAM";
	case CL_INVALID_PROGRAM_EXECUTABLE: return "CL_INVALID_PROGRAM_EXECUTABLE";
	case CL_INVALID_KERNEL_NAME: return "CL_INVALID_KERNEL_NAME";
	case CL_INVALID_KERNEL_DEFINITION: return "CL_INVALID_KERNEL_DEFINITION";
	case CL_INVALID_KERNEL: return "CL_INVALID_KERNEL";
	case CL_INVALID_ARG_INDEX: return "CL_INVALID_ARG_INDEX";
	case CL_INVALID_ARG_VALUE: return "CL_INVALID_ARG_VALUE";
	case CL_INVALID_ARG_SIZE: return "CL_INVALID_ARG_SIZE";
	case CL_INVALID_KERNEL_ARGS: return "CL_INVALID_KERNEL_ARGS";
	case CL_INVALID_WORK_DIMENSION: return "CL_INVALID_WORK_DIMENSION";
	case CL_INVALID_WORK_GROUP_SIZE: return "CL_INVALID_WORK_GROUP_SIZE";
	case CL_INVALID_WORK_ITEM_SIZE: return "CL_INVALID_WORK_ITEM_SIZE";
	case CL_INVALID_GLOBAL_OFFSET: return "CL_INVALID_GLOBAL_OFFSET";
	case CL_INVALID_EVENT_WAIT_LIST: return "CL_INVALID_EVENT_WAIT_LIST";
	case CL_INVALID_EVENT: return "CL_INVALID_EVENT";
	case CL_INVALID_OPERATION: return "CL_INVALID_OPERATION";
	case CL_INVALID_GL_OBJECT: return "CL_INVALID_GL_OBJECT";
	case CL_INVALID_BUFFER_SIZE: return "CL_INVALID_BUFFER_SIZE";
	case CL_INVALID_MIP_LEVEL: return "CL_INVALID_MIP_LEVEL";
	default: return "CL_UNKNOWN_ERROR";
	}
}

static cl_program clk_create_program(cl_context ctx, const char *src, cl_int *status) {
	return clCreateProgramWithSource(ctx, 1, &src, NULL, status);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unsafe"

	"github.com/cwbudde/clkernel/internal/cl"
)

// Runtime owns an OpenCL context on one device and compiles kernel
// source with its driver.
type Runtime struct {
	platformID C.cl_platform_id
	deviceID   C.cl_device_id
	context    C.cl_context
	Platform   PlatformInfo
	Device     DeviceInfo
}

// ErrNoDevices indicates that no usable OpenCL devices were found.
var ErrNoDevices = errors.New("no OpenCL devices found")

// BuildError carries the driver build log of a failed compile.
type BuildError struct {
	Status string
	Log    string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("clBuildProgram: %s", e.Status)
}

func (e *BuildError) BuildLog() string { return e.Log }

// InitOpenCL selects a device (GPU preferred, then CPU) and creates a context.
func InitOpenCL() (*Runtime, error) {
	records, err := enumeratePlatformRecords()
	if err != nil {
		return nil, err
	}

	type selection struct {
		platform platformRecord
		device   deviceRecord
	}
	var chosen *selection
	for _, want := range []DeviceType{DeviceTypeGPU, DeviceTypeCPU, ""} {
		for _, platform := range records {
			for _, device := range platform.devices {
				if want == "" || device.info.Type == want {
					chosen = &selection{platform: platform, device: device}
					break
				}
			}
			if chosen != nil {
				break
			}
		}
		if chosen != nil {
			break
		}
	}
	if chosen == nil {
		return nil, ErrNoDevices
	}

	var status C.cl_int
	context := C.clCreateContext(nil, 1, &chosen.device.id, nil, nil, &status)
	if status != C.CL_SUCCESS {
		return nil, statusError("clCreateContext", status)
	}

	cl.Logger().Debug("opencl device selected",
		slog.String("platform", chosen.platform.info.Name),
		slog.String("device", chosen.device.info.Name))
	return &Runtime{
		platformID: chosen.platform.id,
		deviceID:   chosen.device.id,
		context:    context,
		Platform:   chosen.platform.info,
		Device:     chosen.device.info,
	}, nil
}

// Close releases OpenCL resources.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	if r.context != nil {
		C.clReleaseContext(r.context)
		r.context = nil
	}
}

// Compile builds source on the selected device and reads back every
// kernel's signature. It implements cl.Compiler. Argument metadata is
// always requested.
func (r *Runtime) Compile(source, options string) (*cl.Binary, error) {
	csrc := C.CString(source)
	defer C.free(unsafe.Pointer(csrc))

	var status C.cl_int
	program := C.clk_create_program(r.context, csrc, &status)
	if status != C.CL_SUCCESS {
		return nil, statusError("clCreateProgramWithSource", status)
	}
	defer C.clReleaseProgram(program)

	copts := C.CString(strings.TrimSpace(options + " -cl-kernel-arg-info"))
	defer C.free(unsafe.Pointer(copts))

	status = C.clBuildProgram(program, 1, &r.deviceID, copts, nil, nil)
	buildLog, logErr := r.buildLog(program)
	if status != C.CL_SUCCESS {
		if status == C.CL_BUILD_PROGRAM_FAILURE {
			return nil, &BuildError{Status: C.GoString(C.clk_error_string(status)), Log: buildLog}
		}
		return nil, statusError("clBuildProgram", status)
	}
	if logErr != nil {
		return nil, logErr
	}

	namesRaw, err := getProgramString(program, C.CL_PROGRAM_KERNEL_NAMES)
	if err != nil {
		return nil, err
	}

	bin := &cl.Binary{ArgInfo: true, Log: buildLog}
	for _, name := range strings.Split(namesRaw, ";") {
		if name == "" {
			continue
		}
		sig, argInfo, err := r.kernelSignature(program, name)
		if err != nil {
			return nil, fmt.Errorf("kernel %s: %w", name, err)
		}
		bin.ArgInfo = bin.ArgInfo && argInfo
		bin.Kernels = append(bin.Kernels, sig)
	}
	return bin, nil
}

func (r *Runtime) buildLog(program C.cl_program) (string, error) {
	var size C.size_t
	status := C.clGetProgramBuildInfo(program, r.deviceID, C.CL_PROGRAM_BUILD_LOG, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetProgramBuildInfo(size)", status)
	}
	if size == 0 {
		return "", nil
	}
	buf := make([]byte, int(size))
	status = C.clGetProgramBuildInfo(program, r.deviceID, C.CL_PROGRAM_BUILD_LOG, size, unsafe.Pointer(&buf[0]), nil)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetProgramBuildInfo(value)", status)
	}
	return trimNull(buf), nil
}

func (r *Runtime) kernelSignature(program C.cl_program, name string) (cl.KernelSignature, bool, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	var status C.cl_int
	kernel := C.clCreateKernel(program, cname, &status)
	if status != C.CL_SUCCESS {
		return cl.KernelSignature{}, false, statusError("clCreateKernel", status)
	}
	defer C.clReleaseKernel(kernel)

	sig := cl.KernelSignature{Name: name}
	sig.Attributes, _ = getKernelString(kernel, C.CL_KERNEL_ATTRIBUTES)

	var numArgs C.cl_uint
	status = C.clGetKernelInfo(kernel, C.CL_KERNEL_NUM_ARGS, C.size_t(unsafe.Sizeof(numArgs)), unsafe.Pointer(&numArgs), nil)
	if status != C.CL_SUCCESS {
		return sig, false, statusError("clGetKernelInfo(numArgs)", status)
	}

	argInfo := true
	sig.Args = make([]cl.ArgSignature, int(numArgs))
	for i := range sig.Args {
		idx := C.cl_uint(i)
		var (
			addr   C.cl_kernel_arg_address_qualifier
			access C.cl_kernel_arg_access_qualifier
			quals  C.cl_kernel_arg_type_qualifier
		)
		status = C.clGetKernelArgInfo(kernel, idx, C.CL_KERNEL_ARG_ADDRESS_QUALIFIER, C.size_t(unsafe.Sizeof(addr)), unsafe.Pointer(&addr), nil)
		if status == C.CL_KERNEL_ARG_INFO_NOT_AVAILABLE {
			argInfo = false
			continue
		}
		if status != C.CL_SUCCESS {
			return sig, false, statusError("clGetKernelArgInfo(address)", status)
		}
		C.clGetKernelArgInfo(kernel, idx, C.CL_KERNEL_ARG_ACCESS_QUALIFIER, C.size_t(unsafe.Sizeof(access)), unsafe.Pointer(&access), nil)
		C.clGetKernelArgInfo(kernel, idx, C.CL_KERNEL_ARG_TYPE_QUALIFIER, C.size_t(unsafe.Sizeof(quals)), unsafe.Pointer(&quals), nil)
		typeName, _ := getKernelArgString(kernel, idx, C.CL_KERNEL_ARG_TYPE_NAME)
		argName, _ := getKernelArgString(kernel, idx, C.CL_KERNEL_ARG_NAME)

		a := cl.ArgSignature{
			Name:           argName,
			TypeName:       typeName,
			Address:        cl.AddressQualifier(addr),
			Access:         cl.AccessQualifier(access),
			TypeQualifiers: cl.TypeQualifier(quals),
		}
		if strings.HasSuffix(typeName, "*") || strings.HasPrefix(typeName, "image") {
			a.Size = uint64(unsafe.Sizeof(uintptr(0)))
		}
		sig.Args[i] = a
	}

	var (
		compileSize [3]C.size_t
		localMem    C.cl_ulong
		privateMem  C.cl_ulong
	)
	status = C.clGetKernelWorkGroupInfo(kernel, r.deviceID, C.CL_KERNEL_COMPILE_WORK_GROUP_SIZE, C.size_t(unsafe.Sizeof(compileSize)), unsafe.Pointer(&compileSize[0]), nil)
	if status != C.CL_SUCCESS {
		return sig, false, statusError("clGetKernelWorkGroupInfo(compileSize)", status)
	}
	C.clGetKernelWorkGroupInfo(kernel, r.deviceID, C.CL_KERNEL_LOCAL_MEM_SIZE, C.size_t(unsafe.Sizeof(localMem)), unsafe.Pointer(&localMem), nil)
	C.clGetKernelWorkGroupInfo(kernel, r.deviceID, C.CL_KERNEL_PRIVATE_MEM_SIZE, C.size_t(unsafe.Sizeof(privateMem)), unsafe.Pointer(&privateMem), nil)
	for i, d := range compileSize {
		sig.CompileWorkGroupSize[i] = uint64(d)
	}
	sig.LocalMemSize = uint64(localMem)
	sig.PrivateMemSize = uint64(privateMem)
	return sig, argInfo, nil
}

// EnumeratePlatforms returns discovered platforms with their devices.
func EnumeratePlatforms() ([]PlatformInfo, error) {
	records, err := enumeratePlatformRecords()
	if err != nil {
		return nil, err
	}
	out := make([]PlatformInfo, len(records))
	for i, platform := range records {
		out[i] = platform.info
	}
	return out, nil
}

type platformRecord struct {
	id      C.cl_platform_id
	info    PlatformInfo
	devices []deviceRecord
}

type deviceRecord struct {
	id   C.cl_device_id
	info DeviceInfo
}

func enumeratePlatformRecords() ([]platformRecord, error) {
	var count C.cl_uint
	status := C.clGetPlatformIDs(0, nil, &count)
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetPlatformIDs(count)", status)
	}
	if count == 0 {
		return nil, nil
	}

	platformIDs := make([]C.cl_platform_id, int(count))
	status = C.clGetPlatformIDs(count, &platformIDs[0], nil)
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetPlatformIDs(list)", status)
	}

	records := make([]platformRecord, 0, int(count))
	for _, pid := range platformIDs {
		var info PlatformInfo
		for _, field := range []struct {
			param C.cl_platform_info
			dst   *string
		}{
			{C.CL_PLATFORM_NAME, &info.Name},
			{C.CL_PLATFORM_VENDOR, &info.Vendor},
			{C.CL_PLATFORM_VERSION, &info.Version},
		} {
			v, err := getPlatformString(pid, field.param)
			if err != nil {
				return nil, err
			}
			*field.dst = v
		}

		rec := platformRecord{id: pid, info: info}
		devices, err := enumerateDevices(pid)
		if err != nil && !errors.Is(err, ErrNoDevices) {
			return nil, err
		}
		rec.devices = devices
		for _, device := range devices {
			rec.info.Devices = append(rec.info.Devices, device.info)
		}
		records = append(records, rec)
	}
	return records, nil
}

func enumerateDevices(platform C.cl_platform_id) ([]deviceRecord, error) {
	var count C.cl_uint
	status := C.clGetDeviceIDs(platform, C.CL_DEVICE_TYPE_ALL, 0, nil, &count)
	if status == C.CL_DEVICE_NOT_FOUND || (status == C.CL_SUCCESS && count == 0) {
		return nil, ErrNoDevices
	}
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetDeviceIDs(count)", status)
	}

	deviceIDs := make([]C.cl_device_id, int(count))
	status = C.clGetDeviceIDs(platform, C.CL_DEVICE_TYPE_ALL, count, &deviceIDs[0], nil)
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetDeviceIDs(list)", status)
	}

	devices := make([]deviceRecord, 0, int(count))
	for _, id := range deviceIDs {
		info, err := buildDeviceInfo(id)
		if err != nil {
			return nil, err
		}
		devices = append(devices, deviceRecord{id: id, info: info})
	}
	return devices, nil
}

func buildDeviceInfo(id C.cl_device_id) (DeviceInfo, error) {
	name, err := getDeviceString(id, C.CL_DEVICE_NAME)
	if err != nil {
		return DeviceInfo{}, err
	}
	vendor, err := getDeviceString(id, C.CL_DEVICE_VENDOR)
	if err != nil {
		return DeviceInfo{}, err
	}
	version, err := getDeviceString(id, C.CL_DEVICE_VERSION)
	if err != nil {
		return DeviceInfo{}, err
	}

	var (
		rawType      C.cl_device_type
		computeUnits C.cl_uint
		maxGroup     C.size_t
		localMem     C.cl_ulong
	)
	for _, q := range []struct {
		param C.cl_device_info
		size  uintptr
		dst   unsafe.Pointer
		name  string
	}{
		{C.CL_DEVICE_TYPE, unsafe.Sizeof(rawType), unsafe.Pointer(&rawType), "type"},
		{C.CL_DEVICE_MAX_COMPUTE_UNITS, unsafe.Sizeof(computeUnits), unsafe.Pointer(&computeUnits), "computeUnits"},
		{C.CL_DEVICE_MAX_WORK_GROUP_SIZE, unsafe.Sizeof(maxGroup), unsafe.Pointer(&maxGroup), "maxWorkGroupSize"},
		{C.CL_DEVICE_LOCAL_MEM_SIZE, unsafe.Sizeof(localMem), unsafe.Pointer(&localMem), "localMemSize"},
	} {
		status := C.clGetDeviceInfo(id, q.param, C.size_t(q.size), q.dst, nil)
		if status != C.CL_SUCCESS {
			return DeviceInfo{}, statusError("clGetDeviceInfo("+q.name+")", status)
		}
	}

	dt := mapDeviceType(rawType)
	return DeviceInfo{
		Name:                           name,
		Vendor:                         vendor,
		Version:                        version,
		Type:                           dt,
		MaxComputeUnits:                uint32(computeUnits),
		MaxWorkGroupSize:               uint64(maxGroup),
		PreferredWorkGroupSizeMultiple: preferredMultiple(dt, vendor, uint64(maxGroup)),
		LocalMemSize:                   uint64(localMem),
	}, nil
}

// preferredMultiple approximates the SIMD width. OpenCL 1.2 only reports
// it per kernel, so devices get the usual width for their vendor.
func preferredMultiple(dt DeviceType, vendor string, maxGroup uint64) uint64 {
	if dt != DeviceTypeGPU {
		return 1
	}
	m := uint64(32)
	if v := strings.ToLower(vendor); strings.Contains(v, "amd") || strings.Contains(v, "advanced micro") {
		m = 64
	}
	return min(m, max(maxGroup, 1))
}

func getPlatformString(id C.cl_platform_id, param C.cl_platform_info) (string, error) {
	var size C.size_t
	status := C.clGetPlatformInfo(id, param, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetPlatformInfo(size)", status)
	}
	if size == 0 {
		return "", nil
	}
	buf := make([]byte, int(size))
	status = C.clGetPlatformInfo(id, param, size, unsafe.Pointer(&buf[0]), nil)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetPlatformInfo(value)", status)
	}
	return trimNull(buf), nil
}

func getDeviceString(id C.cl_device_id, param C.cl_device_info) (string, error) {
	var size C.size_t
	status := C.clGetDeviceInfo(id, param, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetDeviceInfo(size)", status)
	}
	if size == 0 {
		return "", nil
	}
	buf := make([]byte, int(size))
	status = C.clGetDeviceInfo(id, param, size, unsafe.Pointer(&buf[0]), nil)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetDeviceInfo(value)", status)
	}
	return trimNull(buf), nil
}

func getProgramString(program C.cl_program, param C.cl_program_info) (string, error) {
	var size C.size_t
	status := C.clGetProgramInfo(program, param, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetProgramInfo(size)", status)
	}
	if size == 0 {
		return "", nil
	}
	buf := make([]byte, int(size))
	status = C.clGetProgramInfo(program, param, size, unsafe.Pointer(&buf[0]), nil)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetProgramInfo(value)", status)
	}
	return trimNull(buf), nil
}

func getKernelString(kernel C.cl_kernel, param C.cl_kernel_info) (string, error) {
	var size C.size_t
	status := C.clGetKernelInfo(kernel, param, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetKernelInfo(size)", status)
	}
	if size == 0 {
		return "", nil
	}
	buf := make([]byte, int(size))
	status = C.clGetKernelInfo(kernel, param, size, unsafe.Pointer(&buf[0]), nil)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetKernelInfo(value)", status)
	}
	return trimNull(buf), nil
}

func getKernelArgString(kernel C.cl_kernel, idx C.cl_uint, param C.cl_kernel_arg_info) (string, error) {
	var size C.size_t
	status := C.clGetKernelArgInfo(kernel, idx, param, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetKernelArgInfo(size)", status)
	}
	if size == 0 {
		return "", nil
	}
	buf := make([]byte, int(size))
	status = C.clGetKernelArgInfo(kernel, idx, param, size, unsafe.Pointer(&buf[0]), nil)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetKernelArgInfo(value)", status)
	}
	return trimNull(buf), nil
}

func trimNull(buf []byte) string {
	if len(buf) > 0 && buf[len(buf)-1] == 0 {
		buf = buf[:len(buf)-1]
	}
	return string(buf)
}

func mapDeviceType(dt C.cl_device_type) DeviceType {
	switch {
	case dt&C.CL_DEVICE_TYPE_GPU != 0:
		return DeviceTypeGPU
	case dt&C.CL_DEVICE_TYPE_CPU != 0:
		return DeviceTypeCPU
	case dt&C.CL_DEVICE_TYPE_ACCELERATOR != 0:
		return DeviceTypeAccelerator
	case dt&C.CL_DEVICE_TYPE_DEFAULT != 0:
		return DeviceTypeDefault
	default:
		return DeviceTypeUnknown
	}
}

func statusError(prefix string, status C.cl_int) error {
	return fmt.Errorf("%s: %s (%d)", prefix, C.GoString(C.clk_error_string(status)), int(status))
}
