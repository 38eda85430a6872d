package clc

import (
	"strconv"
	"strings"
)

// Sizes assume a 64-bit device address space.
const pointerSize = 8

var scalarSizes = map[string]uint64{
	"bool":      1,
	"char":      1,
	"uchar":     1,
	"short":     2,
	"ushort":    2,
	"half":      2,
	"int":       4,
	"uint":      4,
	"float":     4,
	"long":      8,
	"ulong":     8,
	"double":    8,
	"size_t":    8,
	"ptrdiff_t": 8,
	"intptr_t":  8,
	"uintptr_t": 8,
}

var opaqueSizes = map[string]uint64{
	"image1d_t":        pointerSize,
	"image1d_buffer_t": pointerSize,
	"image1d_array_t":  pointerSize,
	"image2d_t":        pointerSize,
	"image2d_array_t":  pointerSize,
	"image3d_t":        pointerSize,
	"sampler_t":        pointerSize,
	"event_t":          pointerSize,
}

func isImage(name string) bool {
	return strings.HasPrefix(name, "image") && strings.HasSuffix(name, "_t")
}

// typeSize returns the size of a named type, including vector types such
// as float4. Three-component vectors occupy four slots.
func typeSize(name string, typedefs map[string]uint64) (uint64, bool) {
	if n, ok := scalarSizes[name]; ok {
		return n, true
	}
	if n, ok := opaqueSizes[name]; ok {
		return n, true
	}
	if n, ok := typedefs[name]; ok {
		return n, true
	}
	if strings.HasPrefix(name, "struct ") || strings.HasPrefix(name, "union ") {
		return 0, true
	}
	if strings.HasPrefix(name, "enum ") {
		return 4, true
	}
	for _, width := range []string{"16", "8", "4", "3", "2"} {
		base, found := strings.CutSuffix(name, width)
		if !found {
			continue
		}
		elem, ok := scalarSizes[base]
		if !ok || base == "bool" || base == "size_t" {
			continue
		}
		n, _ := strconv.ParseUint(width, 10, 64)
		if n == 3 {
			n = 4
		}
		return elem * n, true
	}
	return 0, false
}

var typeWords = map[string]bool{
	"unsigned": true, "signed": true,
	"char": true, "short": true, "int": true, "long": true,
}

// normalizeType folds multi-word C integer spellings into OpenCL names:
// "unsigned int" becomes "uint", "long int" becomes "long".
func normalizeType(words []string) string {
	if len(words) == 0 {
		return ""
	}
	if words[0] == "struct" || words[0] == "union" || words[0] == "enum" {
		return strings.Join(words, " ")
	}
	unsigned := false
	var base string
	for _, w := range words {
		switch w {
		case "unsigned":
			unsigned = true
		case "signed":
		case "int":
			if base == "" {
				base = "int"
			}
		case "long", "short", "char":
			base = w
		default:
			base = w
		}
	}
	if base == "" {
		base = "int"
	}
	if unsigned {
		switch base {
		case "char", "short", "int", "long":
			return "u" + base
		}
	}
	return base
}
