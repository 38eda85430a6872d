package clc

import (
	"strconv"
	"strings"
	"text/scanner"
)

type token struct {
	kind rune
	text string
	pos  scanner.Position
}

func (t token) is(text string) bool { return t.text == text }

// preprocess blanks out directive lines, keeping line numbers stable, and
// collects object-like macros whose body is a single integer.
func preprocess(src string, defines map[string]uint64) string {
	lines := strings.Split(src, "\n")
	cont := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if cont || strings.HasPrefix(trimmed, "#") {
			if !cont {
				recordDefine(trimmed, defines)
			}
			cont = strings.HasSuffix(trimmed, "\\")
			lines[i] = ""
		}
	}
	return strings.Join(lines, "\n")
}

func recordDefine(directive string, defines map[string]uint64) {
	fields := strings.Fields(strings.TrimSpace(strings.TrimPrefix(directive, "#")))
	if len(fields) != 3 || fields[0] != "define" {
		return
	}
	if n, err := parseInt(fields[2]); err == nil {
		defines[fields[1]] = n
	}
}

// parseInt accepts C integer literals including hex, octal and u/l suffixes.
func parseInt(s string) (uint64, error) {
	s = strings.TrimRight(strings.ToLower(s), "ul")
	if len(s) > 1 && s[0] == '(' && s[len(s)-1] == ')' {
		s = s[1 : len(s)-1]
	}
	return strconv.ParseUint(s, 0, 64)
}

func tokenize(filename, src string) ([]token, []Diagnostic) {
	var (
		s     scanner.Scanner
		toks  []token
		diags []Diagnostic
	)
	s.Init(strings.NewReader(src))
	s.Filename = filename
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats |
		scanner.ScanChars | scanner.ScanStrings | scanner.ScanComments | scanner.SkipComments
	s.Error = func(s *scanner.Scanner, msg string) {
		diags = append(diags, Diagnostic{Line: s.Pos().Line, Col: s.Pos().Column, Msg: msg})
	}
	for tok := s.Scan(); tok != scanner.EOF; tok = s.Scan() {
		toks = append(toks, token{kind: tok, text: s.TokenText(), pos: s.Position})
	}
	return toks, diags
}
