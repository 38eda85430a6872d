package cl

import (
	"fmt"
	"strings"
)

// EnumVersion names the revision of the query and qualifier enumerations.
// Values are those of the OpenCL 1.2 headers and never change within a revision.
const EnumVersion = "opencl-1.2"

// KernelInfo selects a kernel-scoped query for GetKernelInfo.
type KernelInfo uint32

const (
	KernelFunctionName   KernelInfo = 0x1190
	KernelNumArgs        KernelInfo = 0x1191
	KernelReferenceCount KernelInfo = 0x1192
	KernelContext        KernelInfo = 0x1193
	KernelProgram        KernelInfo = 0x1194
	KernelAttributes     KernelInfo = 0x1195
)

var kernelInfoNames = map[KernelInfo]string{
	KernelFunctionName:   "KERNEL_FUNCTION_NAME",
	KernelNumArgs:        "KERNEL_NUM_ARGS",
	KernelReferenceCount: "KERNEL_REFERENCE_COUNT",
	KernelContext:        "KERNEL_CONTEXT",
	KernelProgram:        "KERNEL_PROGRAM",
	KernelAttributes:     "KERNEL_ATTRIBUTES",
}

// KernelInfoKinds lists every KernelInfo value in numeric order.
func KernelInfoKinds() []KernelInfo {
	return []KernelInfo{
		KernelFunctionName, KernelNumArgs, KernelReferenceCount,
		KernelContext, KernelProgram, KernelAttributes,
	}
}

func (k KernelInfo) Valid() bool {
	_, ok := kernelInfoNames[k]
	return ok
}

func (k KernelInfo) String() string {
	return enumName(kernelInfoNames, k)
}

// KernelArgInfo selects a per-argument query for GetKernelArgInfo.
type KernelArgInfo uint32

const (
	KernelArgAddressQualifier KernelArgInfo = 0x1196
	KernelArgAccessQualifier  KernelArgInfo = 0x1197
	KernelArgTypeName         KernelArgInfo = 0x1198
	KernelArgTypeQualifier    KernelArgInfo = 0x1199
	KernelArgName             KernelArgInfo = 0x119A
)

var kernelArgInfoNames = map[KernelArgInfo]string{
	KernelArgAddressQualifier: "KERNEL_ARG_ADDRESS_QUALIFIER",
	KernelArgAccessQualifier:  "KERNEL_ARG_ACCESS_QUALIFIER",
	KernelArgTypeName:         "KERNEL_ARG_TYPE_NAME",
	KernelArgTypeQualifier:    "KERNEL_ARG_TYPE_QUALIFIER",
	KernelArgName:             "KERNEL_ARG_NAME",
}

// KernelArgInfoKinds lists every KernelArgInfo value in numeric order.
func KernelArgInfoKinds() []KernelArgInfo {
	return []KernelArgInfo{
		KernelArgAddressQualifier, KernelArgAccessQualifier, KernelArgTypeName,
		KernelArgTypeQualifier, KernelArgName,
	}
}

func (k KernelArgInfo) Valid() bool {
	_, ok := kernelArgInfoNames[k]
	return ok
}

func (k KernelArgInfo) String() string {
	return enumName(kernelArgInfoNames, k)
}

// needsMetadata reports whether the query reads debug metadata rather than
// the type signature.
func (k KernelArgInfo) needsMetadata() bool {
	return k == KernelArgName || k == KernelArgTypeName
}

// KernelWorkGroupInfo selects a device-specific query for GetKernelWorkGroupInfo.
type KernelWorkGroupInfo uint32

const (
	KernelWorkGroupSize                  KernelWorkGroupInfo = 0x11B0
	KernelCompileWorkGroupSize           KernelWorkGroupInfo = 0x11B1
	KernelLocalMemSize                   KernelWorkGroupInfo = 0x11B2
	KernelPreferredWorkGroupSizeMultiple KernelWorkGroupInfo = 0x11B3
	KernelPrivateMemSize                 KernelWorkGroupInfo = 0x11B4
	KernelGlobalWorkSize                 KernelWorkGroupInfo = 0x11B5
)

var kernelWorkGroupInfoNames = map[KernelWorkGroupInfo]string{
	KernelWorkGroupSize:                  "KERNEL_WORK_GROUP_SIZE",
	KernelCompileWorkGroupSize:           "KERNEL_COMPILE_WORK_GROUP_SIZE",
	KernelLocalMemSize:                   "KERNEL_LOCAL_MEM_SIZE",
	KernelPreferredWorkGroupSizeMultiple: "KERNEL_PREFERRED_WORK_GROUP_SIZE_MULTIPLE",
	KernelPrivateMemSize:                 "KERNEL_PRIVATE_MEM_SIZE",
	KernelGlobalWorkSize:                 "KERNEL_GLOBAL_WORK_SIZE",
}

// KernelWorkGroupInfoKinds lists every KernelWorkGroupInfo value in numeric order.
func KernelWorkGroupInfoKinds() []KernelWorkGroupInfo {
	return []KernelWorkGroupInfo{
		KernelWorkGroupSize, KernelCompileWorkGroupSize, KernelLocalMemSize,
		KernelPreferredWorkGroupSizeMultiple, KernelPrivateMemSize, KernelGlobalWorkSize,
	}
}

func (k KernelWorkGroupInfo) Valid() bool {
	_, ok := kernelWorkGroupInfoNames[k]
	return ok
}

func (k KernelWorkGroupInfo) String() string {
	return enumName(kernelWorkGroupInfoNames, k)
}

// AddressQualifier is the memory region a kernel argument lives in.
type AddressQualifier uint32

const (
	AddressGlobal   AddressQualifier = 0x119B
	AddressLocal    AddressQualifier = 0x119C
	AddressConstant AddressQualifier = 0x119D
	AddressPrivate  AddressQualifier = 0x119E
)

var addressNames = map[AddressQualifier]string{
	AddressGlobal:   "global",
	AddressLocal:    "local",
	AddressConstant: "constant",
	AddressPrivate:  "private",
}

func (a AddressQualifier) Valid() bool {
	_, ok := addressNames[a]
	return ok
}

func (a AddressQualifier) String() string {
	return enumName(addressNames, a)
}

// AccessQualifier is the read/write capability of an image argument.
// Non-image arguments always report AccessNone.
type AccessQualifier uint32

const (
	AccessReadOnly  AccessQualifier = 0x11A0
	AccessWriteOnly AccessQualifier = 0x11A1
	AccessReadWrite AccessQualifier = 0x11A2
	AccessNone      AccessQualifier = 0x11A3
)

var accessNames = map[AccessQualifier]string{
	AccessReadOnly:  "read_only",
	AccessWriteOnly: "write_only",
	AccessReadWrite: "read_write",
	AccessNone:      "none",
}

func (a AccessQualifier) Valid() bool {
	_, ok := accessNames[a]
	return ok
}

func (a AccessQualifier) String() string {
	return enumName(accessNames, a)
}

// TypeQualifier is a bitset of the qualifiers applied to an argument type.
type TypeQualifier uint32

const (
	TypeNone     TypeQualifier = 0
	TypeConst    TypeQualifier = 1 << 0
	TypeRestrict TypeQualifier = 1 << 1
	TypeVolatile TypeQualifier = 1 << 2
)

const typeQualifierMask = TypeConst | TypeRestrict | TypeVolatile

func (q TypeQualifier) Valid() bool {
	return q&^typeQualifierMask == 0
}

func (q TypeQualifier) Has(flag TypeQualifier) bool {
	return q&flag == flag && flag != 0
}

func (q TypeQualifier) String() string {
	if q == TypeNone {
		return "none"
	}
	var parts []string
	if q.Has(TypeConst) {
		parts = append(parts, "const")
	}
	if q.Has(TypeRestrict) {
		parts = append(parts, "restrict")
	}
	if q.Has(TypeVolatile) {
		parts = append(parts, "volatile")
	}
	if rest := q &^ typeQualifierMask; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

func enumName[K ~uint32](names map[K]string, k K) string {
	if name, ok := names[k]; ok {
		return name
	}
	return fmt.Sprintf("0x%X", uint32(k))
}
