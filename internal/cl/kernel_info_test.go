package cl

import (
	"encoding/json"
	"testing"
)

func TestGetKernelInfoShapes(t *testing.T) {
	f := newFixture(t)
	p := f.program(t, "square_cpy", "")
	k, err := f.rt.CreateKernel(p, "square_cpy")
	if err != nil {
		t.Fatalf("CreateKernel failed: %v", err)
	}

	tests := []struct {
		kind KernelInfo
		want ValueKind
		str  string
	}{
		{KernelFunctionName, ValueString, "square_cpy"},
		{KernelNumArgs, ValueUint, "4"},
		{KernelReferenceCount, ValueUint, "1"},
		{KernelContext, ValueHandle, Handle(f.ctx).String()},
		{KernelProgram, ValueHandle, Handle(p).String()},
		{KernelAttributes, ValueString, "reqd_work_group_size(8,4,1)"},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			v, err := f.rt.GetKernelInfo(k, tt.kind)
			if err != nil {
				t.Fatalf("GetKernelInfo failed: %v", err)
			}
			if v.Kind() != tt.want {
				t.Errorf("kind = %s, want %s", v.Kind(), tt.want)
			}
			if v.String() != tt.str {
				t.Errorf("value = %q, want %q", v.String(), tt.str)
			}
		})
	}
}

func TestGetKernelInfoEmptyAttributes(t *testing.T) {
	f := newFixture(t)
	k := f.kernel(t, "square", "square")

	v, err := f.rt.GetKernelInfo(k, KernelAttributes)
	if got := mustStr(t, v, err); got != "" {
		t.Errorf("attributes = %q, want empty", got)
	}
}

func TestGetKernelInfoInvalidKind(t *testing.T) {
	f := newFixture(t)
	k := f.kernel(t, "square", "square")

	for _, kind := range []KernelInfo{0, 0x118F, 0x1196, 0xFFFF} {
		_, err := f.rt.GetKernelInfo(k, kind)
		wantCode(t, err, ErrInvalidQueryKind)
	}

	// The handle is checked before the kind.
	_, err := f.rt.GetKernelInfo(Kernel(4242), 0x1)
	wantCode(t, err, ErrInvalidKernel)
}

func TestValueMarshalJSON(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{stringValue("square"), `"square"`},
		{uintValue(3), `3`},
		{size3Value([3]uint64{8, 4, 1}), `[8,4,1]`},
		{handleValue(7), `7`},
		{Value{}, `null`},
	}
	for _, tt := range tests {
		b, err := json.Marshal(tt.v)
		if err != nil {
			t.Fatalf("Marshal(%s) failed: %v", tt.v.Kind(), err)
		}
		if string(b) != tt.want {
			t.Errorf("Marshal(%s) = %s, want %s", tt.v.Kind(), b, tt.want)
		}
	}
}

func TestValueAccessorsRejectOtherShapes(t *testing.T) {
	v := uintValue(5)
	if _, ok := v.Str(); ok {
		t.Error("Str on uint value reported ok")
	}
	if _, ok := v.Size3(); ok {
		t.Error("Size3 on uint value reported ok")
	}
	if _, ok := v.Handle(); ok {
		t.Error("Handle on uint value reported ok")
	}
	if n, ok := v.Uint(); !ok || n != 5 {
		t.Errorf("Uint = %d, %v", n, ok)
	}
}

func TestEnumValuesAreStable(t *testing.T) {
	tests := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"KernelFunctionName", uint32(KernelFunctionName), 0x1190},
		{"KernelAttributes", uint32(KernelAttributes), 0x1195},
		{"KernelArgAddressQualifier", uint32(KernelArgAddressQualifier), 0x1196},
		{"KernelArgName", uint32(KernelArgName), 0x119A},
		{"AddressGlobal", uint32(AddressGlobal), 0x119B},
		{"AddressPrivate", uint32(AddressPrivate), 0x119E},
		{"AccessReadOnly", uint32(AccessReadOnly), 0x11A0},
		{"AccessNone", uint32(AccessNone), 0x11A3},
		{"TypeVolatile", uint32(TypeVolatile), 4},
		{"KernelWorkGroupSize", uint32(KernelWorkGroupSize), 0x11B0},
		{"KernelGlobalWorkSize", uint32(KernelGlobalWorkSize), 0x11B5},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = 0x%X, want 0x%X", tt.name, tt.got, tt.want)
		}
	}

	if s := (TypeConst | TypeVolatile).String(); s != "const|volatile" {
		t.Errorf("TypeQualifier string = %q", s)
	}
	if KernelInfo(0x1).Valid() {
		t.Error("unknown KernelInfo reported valid")
	}
	if len(KernelWorkGroupInfoKinds()) != 6 {
		t.Error("expected six work-group kinds")
	}
}
