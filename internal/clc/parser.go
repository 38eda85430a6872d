package clc

import (
	"errors"
	"math/bits"
	"strconv"
	"strings"
	"text/scanner"

	"github.com/cwbudde/clkernel/internal/cl"
)

var (
	errNotConstant = errors.New("not an integer constant")
	errTooLarge    = errors.New("value does not fit in 64 bits")
)

// mul returns a*b and false when the product overflows.
func mul(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi == 0
}

// add returns a+b and false when the sum overflows.
func add(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}

var addressWords = map[string]cl.AddressQualifier{
	"__global": cl.AddressGlobal, "global": cl.AddressGlobal,
	"__local": cl.AddressLocal, "local": cl.AddressLocal,
	"__constant": cl.AddressConstant, "constant": cl.AddressConstant,
	"__private": cl.AddressPrivate, "private": cl.AddressPrivate,
}

var accessWords = map[string]cl.AccessQualifier{
	"__read_only": cl.AccessReadOnly, "read_only": cl.AccessReadOnly,
	"__write_only": cl.AccessWriteOnly, "write_only": cl.AccessWriteOnly,
	"__read_write": cl.AccessReadWrite, "read_write": cl.AccessReadWrite,
}

type parser struct {
	toks     []token
	pos      int
	defines  map[string]uint64
	typedefs map[string]uint64
	diags    []Diagnostic
}

func (p *parser) errorf(pos scanner.Position, format string, args ...any) {
	p.diags = append(p.diags, diagAt(pos, format, args...))
}

// parseFile walks file-scope declarations and returns the kernels in
// source order. Bodies of non-kernel functions are skipped.
func (p *parser) parseFile() []cl.KernelSignature {
	var (
		kernels []cl.KernelSignature
		seen    = map[string]scanner.Position{}
		decl    []token
	)
	for p.pos < len(p.toks) {
		t := p.toks[p.pos]
		switch {
		case t.is(";"):
			p.declaration(decl)
			decl = nil
			p.pos++
		case t.is("{"):
			body, ok := p.block()
			if !ok {
				return kernels
			}
			if isAggregate(decl) {
				decl = append(decl, token{text: "{}", pos: t.pos})
				continue
			}
			if isKernel(decl) {
				if sig, ok := p.kernel(decl, body); ok {
					if prev, dup := seen[sig.Name]; dup {
						p.errorf(decl[0].pos, "redefinition of kernel %q (previous definition at %d:%d)", sig.Name, prev.Line, prev.Column)
					} else {
						seen[sig.Name] = decl[0].pos
						kernels = append(kernels, sig)
					}
				}
			}
			decl = nil
		case t.is("}"):
			p.errorf(t.pos, "unexpected '}'")
			p.pos++
		default:
			decl = append(decl, t)
			p.pos++
		}
	}
	if len(decl) > 0 {
		p.errorf(decl[len(decl)-1].pos, "expected ';' or function body")
	}
	return kernels
}

// block consumes a braced block starting at p.pos and returns its contents.
func (p *parser) block() ([]token, bool) {
	open := p.toks[p.pos]
	depth := 0
	for i := p.pos; i < len(p.toks); i++ {
		switch p.toks[i].text {
		case "{":
			depth++
		case "}":
			depth--
			if depth == 0 {
				body := p.toks[p.pos+1 : i]
				p.pos = i + 1
				return body, true
			}
		}
	}
	p.errorf(open.pos, "unbalanced '{'")
	p.pos = len(p.toks)
	return nil, false
}

func isAggregate(decl []token) bool {
	if len(decl) == 0 || decl[len(decl)-1].is(")") {
		return false
	}
	for _, t := range decl {
		if t.is("struct") || t.is("union") || t.is("enum") {
			return true
		}
	}
	return false
}

func isKernel(decl []token) bool {
	for _, t := range decl {
		if t.is("__kernel") || t.is("kernel") {
			return true
		}
	}
	return false
}

// declaration records file-scope typedefs so they can name argument types.
func (p *parser) declaration(decl []token) {
	if len(decl) < 3 || !decl[0].is("typedef") {
		return
	}
	name := decl[len(decl)-1]
	if name.kind != scanner.Ident {
		return
	}
	var (
		words []string
		ptr   bool
		agg   bool
	)
	for _, t := range decl[1 : len(decl)-1] {
		switch {
		case t.is("*"):
			ptr = true
		case t.is("{}"):
			agg = true
		case t.is("const") || t.is("volatile"):
		default:
			words = append(words, t.text)
		}
	}
	switch {
	case ptr:
		p.typedefs[name.text] = pointerSize
	case agg:
		p.typedefs[name.text] = 0
	default:
		if n, ok := typeSize(normalizeType(words), p.typedefs); ok {
			p.typedefs[name.text] = n
		} else {
			p.errorf(name.pos, "unknown type in typedef %q", name.text)
		}
	}
}

// kernel parses a kernel header and body into a signature.
func (p *parser) kernel(header, body []token) (cl.KernelSignature, bool) {
	errs := len(p.diags)
	attrs, header := p.attributes(header)
	if len(header) == 0 {
		return cl.KernelSignature{}, false
	}

	open := -1
	for i, t := range header {
		if t.is("(") {
			open = i
			break
		}
	}
	if open < 1 || !header[len(header)-1].is(")") {
		p.errorf(header[0].pos, "malformed kernel declaration")
		return cl.KernelSignature{}, false
	}
	nameTok := header[open-1]
	if nameTok.kind != scanner.Ident {
		p.errorf(nameTok.pos, "expected kernel name")
		return cl.KernelSignature{}, false
	}

	var ret []string
	for _, t := range header[:open-1] {
		switch t.text {
		case "__kernel", "kernel", "static", "inline":
		default:
			ret = append(ret, t.text)
		}
	}
	if len(ret) != 1 || ret[0] != "void" {
		p.errorf(nameTok.pos, "kernel %q must return void", nameTok.text)
	}

	sig := cl.KernelSignature{Name: nameTok.text}
	for _, group := range splitTopLevel(header[open+1 : len(header)-1]) {
		if len(group) == 0 {
			continue
		}
		if len(group) == 1 && group[0].is("void") {
			continue
		}
		if arg, ok := p.param(group); ok {
			sig.Args = append(sig.Args, arg)
		}
	}
	if sig.Args == nil {
		sig.Args = []cl.ArgSignature{}
	}

	var texts []string
	for _, a := range attrs {
		texts = append(texts, render(p.expand(a)))
		if a[0].is("reqd_work_group_size") {
			sig.CompileWorkGroupSize = p.workGroupSize(a)
		}
	}
	sig.Attributes = strings.Join(texts, " ")
	sig.LocalMemSize, sig.PrivateMemSize = p.bodyMemory(body)
	return sig, len(p.diags) == errs
}

// attributes removes __attribute__((...)) groups from a header and
// returns each attribute as its own token list.
func (p *parser) attributes(header []token) ([][]token, []token) {
	var (
		attrs [][]token
		rest  []token
	)
	for i := 0; i < len(header); i++ {
		t := header[i]
		if !t.is("__attribute__") {
			rest = append(rest, t)
			continue
		}
		end := matchParen(header, i+1)
		if end < 0 || end-i < 5 || !header[i+2].is("(") || !header[end-2].is(")") {
			p.errorf(t.pos, "malformed __attribute__")
			return attrs, rest
		}
		for _, a := range splitTopLevel(header[i+3 : end-2]) {
			if len(a) > 0 {
				attrs = append(attrs, a)
			}
		}
		i = end - 1
	}
	return attrs, rest
}

func (p *parser) workGroupSize(attr []token) [3]uint64 {
	var dims [3]uint64
	if len(attr) < 3 || !attr[1].is("(") || !attr[len(attr)-1].is(")") {
		p.errorf(attr[0].pos, "malformed reqd_work_group_size")
		return dims
	}
	groups := splitTopLevel(attr[2 : len(attr)-1])
	if len(groups) != 3 {
		p.errorf(attr[0].pos, "reqd_work_group_size takes 3 arguments, got %d", len(groups))
		return dims
	}
	for i, g := range groups {
		n, err := p.constant(g)
		if errors.Is(err, errTooLarge) {
			p.errorf(attr[0].pos, "reqd_work_group_size argument %d is too large", i+1)
			return [3]uint64{}
		}
		if err != nil || n == 0 {
			p.errorf(attr[0].pos, "reqd_work_group_size argument %d must be a positive integer constant", i+1)
			return [3]uint64{}
		}
		dims[i] = n
	}
	return dims
}

// constant evaluates an integer literal, a macro, or a product of them.
func (p *parser) constant(toks []token) (uint64, error) {
	if len(toks) == 0 {
		return 0, errNotConstant
	}
	result := uint64(1)
	expectOperand := true
	for _, t := range toks {
		if !expectOperand {
			if !t.is("*") {
				return 0, errNotConstant
			}
			expectOperand = true
			continue
		}
		var n uint64
		switch t.kind {
		case scanner.Int:
			v, err := parseInt(t.text)
			if err != nil {
				return 0, errNotConstant
			}
			n = v
		case scanner.Ident:
			v, ok := p.defines[t.text]
			if !ok {
				return 0, errNotConstant
			}
			n = v
		default:
			return 0, errNotConstant
		}
		var ok bool
		if result, ok = mul(result, n); !ok {
			return 0, errTooLarge
		}
		expectOperand = false
	}
	if expectOperand {
		return 0, errNotConstant
	}
	return result, nil
}

// param parses one kernel parameter.
func (p *parser) param(toks []token) (cl.ArgSignature, bool) {
	last := toks[len(toks)-1]
	if last.kind != scanner.Ident || len(toks) < 2 || isTypeWord(last.text, p.typedefs) {
		p.errorf(last.pos, "expected parameter name")
		return cl.ArgSignature{}, false
	}

	var (
		arg       = cl.ArgSignature{Name: last.text, Access: cl.AccessNone}
		words     []string
		addr      cl.AddressQualifier
		access    cl.AccessQualifier
		ptrDepth  int
		qualifier cl.TypeQualifier
	)
	for i := 0; i < len(toks)-1; i++ {
		t := toks[i]
		if a, ok := addressWords[t.text]; ok {
			if addr != 0 {
				p.errorf(t.pos, "multiple address spaces on %q", arg.Name)
			}
			addr = a
			continue
		}
		if a, ok := accessWords[t.text]; ok {
			if access != 0 {
				p.errorf(t.pos, "multiple access qualifiers on %q", arg.Name)
			}
			access = a
			continue
		}
		switch {
		case t.is("const"):
			if ptrDepth == 0 {
				qualifier |= cl.TypeConst
			}
		case t.is("volatile"):
			if ptrDepth == 0 {
				qualifier |= cl.TypeVolatile
			}
		case t.is("restrict") || t.is("__restrict"):
			if ptrDepth == 0 {
				p.errorf(t.pos, "restrict requires a pointer type")
			}
			qualifier |= cl.TypeRestrict
		case t.is("*"):
			ptrDepth++
		case t.is("struct") || t.is("union") || t.is("enum"):
			if i+1 >= len(toks)-1 || toks[i+1].kind != scanner.Ident {
				p.errorf(t.pos, "expected %s tag", t.text)
				return cl.ArgSignature{}, false
			}
			words = append(words, t.text, toks[i+1].text)
			i++
		case t.kind == scanner.Ident && ptrDepth == 0:
			words = append(words, t.text)
		default:
			p.errorf(t.pos, "unexpected %q in parameter %q", t.text, arg.Name)
			return cl.ArgSignature{}, false
		}
	}
	if len(words) == 0 {
		p.errorf(last.pos, "parameter %q has no type", arg.Name)
		return cl.ArgSignature{}, false
	}

	base := normalizeType(words)
	size, known := typeSize(base, p.typedefs)
	if !known {
		p.errorf(last.pos, "unknown type %q for parameter %q", base, arg.Name)
		return cl.ArgSignature{}, false
	}
	arg.TypeName = base + strings.Repeat("*", ptrDepth)

	switch {
	case ptrDepth > 0:
		if addr == 0 || addr == cl.AddressPrivate {
			p.errorf(last.pos, "pointer parameter %q must be declared __global, __local or __constant", arg.Name)
		}
		arg.Address, arg.Size = addr, pointerSize
	case isImage(base):
		if addr != 0 && addr != cl.AddressGlobal {
			p.errorf(last.pos, "image parameter %q must be in the global address space", arg.Name)
		}
		if access == 0 {
			access = cl.AccessReadOnly
		}
		arg.Address, arg.Access, arg.Size = cl.AddressGlobal, access, size
	default:
		if addr != 0 && addr != cl.AddressPrivate {
			p.errorf(last.pos, "%s qualifier on parameter %q requires a pointer", addr, arg.Name)
		}
		arg.Address, arg.Size = cl.AddressPrivate, size
	}
	if access != 0 && !isImage(base) {
		p.errorf(last.pos, "access qualifier %s applies only to image parameters", access)
	}
	if addr == cl.AddressConstant {
		qualifier |= cl.TypeConst
	}
	arg.TypeQualifiers = qualifier
	return arg, true
}

func isTypeWord(s string, typedefs map[string]uint64) bool {
	if typeWords[s] {
		return true
	}
	_, ok := typeSize(s, typedefs)
	return ok
}

// bodyMemory sums static __local declarations and private arrays.
func (p *parser) bodyMemory(body []token) (local, private uint64) {
	for i := 0; i < len(body); i++ {
		t := body[i]
		if a, ok := addressWords[t.text]; ok && a == cl.AddressLocal {
			n, next := p.variables(body, i+1, false)
			if local, ok = add(local, n); !ok {
				p.errorf(t.pos, "local memory use does not fit in 64 bits")
				return 0, private
			}
			i = next
			continue
		}
		if !isTypeWord(t.text, p.typedefs) {
			continue
		}
		if i > 0 {
			switch body[i-1].text {
			case ";", "{", "}", "const", "volatile", "__private", "private":
			default:
				continue
			}
		}
		n, next := p.variables(body, i, true)
		var ok bool
		if private, ok = add(private, n); !ok {
			p.errorf(t.pos, "private memory use does not fit in 64 bits")
			return local, 0
		}
		i = next
	}
	return local, private
}

// variables reads a declaration starting at the type at index i and
// returns the storage it declares and the index of its last token. With
// arraysOnly set, plain scalars contribute nothing.
func (p *parser) variables(body []token, i int, arraysOnly bool) (uint64, int) {
	var words []string
scanType:
	for i < len(body) {
		t := body[i]
		switch {
		case t.is("const") || t.is("volatile"):
		case t.is("struct") || t.is("union"):
			if i+1 < len(body) {
				words = append(words, t.text, body[i+1].text)
				i++
			}
		case t.kind == scanner.Ident && isTypeWord(t.text, p.typedefs):
			words = append(words, t.text)
		default:
			break scanType
		}
		i++
	}
	elem, ok := typeSize(normalizeType(words), p.typedefs)
	if len(words) == 0 || !ok {
		return 0, i - 1
	}

	var total uint64
	for i < len(body) {
		pointer := false
		for i < len(body) && body[i].is("*") {
			pointer = true
			i++
		}
		if i >= len(body) || body[i].kind != scanner.Ident {
			return total, i
		}
		name := body[i]
		i++
		count, dims := uint64(1), 0
		for i < len(body) && body[i].is("[") {
			end := i + 1
			for end < len(body) && !body[end].is("]") {
				end++
			}
			if end >= len(body) {
				p.errorf(name.pos, "unterminated array size for %q", name.text)
				return total, end
			}
			n, err := p.constant(body[i+1 : end])
			switch {
			case errors.Is(err, errTooLarge):
				p.errorf(name.pos, "array %q is too large", name.text)
				n = 0
			case err != nil:
				p.errorf(name.pos, "array size of %q must be an integer constant", name.text)
				n = 0
			}
			var ok bool
			if count, ok = mul(count, n); !ok {
				p.errorf(name.pos, "array %q is too large", name.text)
				count = 0
			}
			dims++
			i = end + 1
		}
		if !pointer && (dims > 0 || !arraysOnly) {
			size, ok := mul(elem, count)
			if ok {
				total, ok = add(total, size)
			}
			if !ok {
				p.errorf(name.pos, "array %q is too large", name.text)
				return total, i
			}
		}
		// Skip an initializer up to the next declarator or the end.
		depth := 0
		for i < len(body) {
			t := body[i]
			switch {
			case t.is("(") || t.is("{") || t.is("["):
				depth++
			case t.is(")") || t.is("}") || t.is("]"):
				depth--
			}
			if depth <= 0 && (t.is(",") || t.is(";")) {
				break
			}
			if depth < 0 {
				return total, i
			}
			i++
		}
		if i >= len(body) || body[i].is(";") {
			return total, i
		}
		i++ // ','
	}
	return total, i
}

// splitTopLevel splits tokens on commas outside any parentheses.
func splitTopLevel(toks []token) [][]token {
	var (
		groups [][]token
		cur    []token
		depth  int
	)
	for _, t := range toks {
		switch {
		case t.is("(") || t.is("["):
			depth++
		case t.is(")") || t.is("]"):
			depth--
		case t.is(",") && depth == 0:
			groups = append(groups, cur)
			cur = nil
			continue
		}
		cur = append(cur, t)
	}
	return append(groups, cur)
}

// matchParen returns the index just past the parenthesis closing the one
// at index i, or -1.
func matchParen(toks []token, i int) int {
	if i >= len(toks) || !toks[i].is("(") {
		return -1
	}
	depth := 0
	for j := i; j < len(toks); j++ {
		switch {
		case toks[j].is("("):
			depth++
		case toks[j].is(")"):
			depth--
			if depth == 0 {
				return j + 1
			}
		}
	}
	return -1
}

// expand replaces integer macros with their values.
func (p *parser) expand(toks []token) []token {
	out := make([]token, len(toks))
	for i, t := range toks {
		if n, ok := p.defines[t.text]; ok && t.kind == scanner.Ident {
			t = token{kind: scanner.Int, text: strconv.FormatUint(n, 10), pos: t.pos}
		}
		out[i] = t
	}
	return out
}

// render prints tokens compactly, separating adjacent words with a space.
func render(toks []token) string {
	var b strings.Builder
	for i, t := range toks {
		if i > 0 && isWord(toks[i-1]) && isWord(t) {
			b.WriteByte(' ')
		}
		b.WriteString(t.text)
	}
	return b.String()
}

func isWord(t token) bool {
	switch t.kind {
	case scanner.Ident, scanner.Int, scanner.Float:
		return true
	}
	return false
}
