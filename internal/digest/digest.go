// Package digest produces a condensed, body-free summary of a source
// file's public surface: the declarations a sibling task's prompt needs
// to call into a dependency's output, without the token cost (or
// implementation-detail leakage) of the dependency's full source.
//
// Extraction is regex-based rather than a real parser, because the
// source text handed to Digest may be Go, TypeScript/JavaScript, or
// Python depending on what the Builder generated — devengine has no
// business embedding a parser per target language. The patterns below
// favor precision over completeness: a signature that isn't recognized
// is simply omitted, which degrades gracefully into a shorter digest
// rather than a wrong one.
package digest

import (
	"regexp"
	"sort"
	"strings"
)

// SymbolKind groups a Symbol for the kind-ordered digest output.
type SymbolKind string

const (
	KindType      SymbolKind = "type"
	KindInterface SymbolKind = "interface"
	KindEnum      SymbolKind = "enum"
	KindClass     SymbolKind = "class"
	KindFunction  SymbolKind = "function"
	KindVariable  SymbolKind = "variable"
)

// kindOrder fixes the output grouping: types, then interfaces, enums,
// classes, functions, variables — downstream prompts read top-down, so
// the broad shape of a dependency comes before its entry points.
var kindOrder = []SymbolKind{KindType, KindInterface, KindEnum, KindClass, KindFunction, KindVariable}

// Symbol is one exported declaration reduced to its signature.
type Symbol struct {
	Kind      SymbolKind
	Name      string
	Signature string // the declaration line(s), body-free
}

// Options narrows what Digest/DigestSymbols include.
type Options struct {
	// IncludeUnexported keeps lowerCamelCase / leading-underscore
	// declarations that would otherwise be dropped. Off by default:
	// a dependent task only ever needs the public surface.
	IncludeUnexported bool
	// MaxSymbols caps the number of symbols returned, 0 means unbounded.
	MaxSymbols int
}

type extractor struct {
	kind SymbolKind
	re   *regexp.Regexp
	// name is the index of the submatch holding the declared name.
	name int
}

// extractors covers Go, TypeScript/JavaScript, and Python declaration
// shapes. Order within a kind does not matter; overall grouping is
// imposed afterward by kindOrder.
var extractors = []extractor{
	// Go
	{KindType, regexp.MustCompile(`(?m)^type\s+(\w+)\s+struct\b`), 1},
	{KindInterface, regexp.MustCompile(`(?m)^type\s+(\w+)\s+interface\b`), 1},
	{KindFunction, regexp.MustCompile(`(?m)^func\s+(?:\([^)]*\)\s*)?(\w+)\s*\(`), 1},
	{KindVariable, regexp.MustCompile(`(?m)^(?:var|const)\s+(\w+)\b`), 1},

	// TypeScript / JavaScript
	{KindInterface, regexp.MustCompile(`(?m)^export\s+interface\s+(\w+)`), 1},
	{KindType, regexp.MustCompile(`(?m)^export\s+type\s+(\w+)`), 1},
	{KindEnum, regexp.MustCompile(`(?m)^export\s+enum\s+(\w+)`), 1},
	{KindClass, regexp.MustCompile(`(?m)^export\s+(?:default\s+)?class\s+(\w+)`), 1},
	{KindFunction, regexp.MustCompile(`(?m)^export\s+(?:default\s+)?(?:async\s+)?function\s+(\w+)\s*\(`), 1},
	{KindVariable, regexp.MustCompile(`(?m)^export\s+const\s+(\w+)\s*=`), 1},

	// Python
	{KindClass, regexp.MustCompile(`(?m)^class\s+(\w+)\s*[:\(]`), 1},
	{KindFunction, regexp.MustCompile(`(?m)^def\s+(\w+)\s*\(`), 1},
}

// DigestSymbols extracts every recognized declaration from sourceText.
func DigestSymbols(sourceText string, opts Options) []Symbol {
	var out []Symbol
	for _, ex := range extractors {
		for _, m := range ex.re.FindAllStringSubmatchIndex(sourceText, -1) {
			name := sourceText[m[2*ex.name]:m[2*ex.name+1]]
			if !opts.IncludeUnexported && !strings.HasPrefix(sourceText[m[0]:m[1]], "export") && isUnexported(name) {
				continue
			}
			out = append(out, Symbol{
				Kind:      ex.kind,
				Name:      name,
				Signature: strings.TrimSpace(sourceText[m[0]:m[1]]),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		oi, oj := kindRank(out[i].Kind), kindRank(out[j].Kind)
		if oi != oj {
			return oi < oj
		}
		return out[i].Name < out[j].Name
	})
	if opts.MaxSymbols > 0 && len(out) > opts.MaxSymbols {
		out = out[:opts.MaxSymbols]
	}
	return out
}

// Digest renders the condensed summary text a dependent task's prompt
// receives: declarations grouped by kind, one signature per line.
func Digest(sourceText string, opts Options) string {
	syms := DigestSymbols(sourceText, opts)
	if len(syms) == 0 {
		return ""
	}
	var b strings.Builder
	lastKind := SymbolKind("")
	for _, s := range syms {
		if s.Kind != lastKind {
			if lastKind != "" {
				b.WriteByte('\n')
			}
			b.WriteString(string(s.Kind))
			b.WriteString(":\n")
			lastKind = s.Kind
		}
		b.WriteString("  ")
		b.WriteString(s.Signature)
		b.WriteByte('\n')
	}
	return b.String()
}

func kindRank(k SymbolKind) int {
	for i, kk := range kindOrder {
		if kk == k {
			return i
		}
	}
	return len(kindOrder)
}

// isUnexported reports whether name starts with a lowercase letter or an
// underscore. DigestSymbols applies it only to the Go/Python extractors:
// the TS/JS extractors match `export` declarations only, and those are
// kept whatever the case of their name.
func isUnexported(name string) bool {
	if name == "" {
		return true
	}
	r := rune(name[0])
	if r == '_' {
		return true
	}
	return r >= 'a' && r <= 'z'
}
