package digest

import "testing"

func TestDigestSymbols_GoExportedOnly(t *testing.T) {
	src := `package widget

type Widget struct {
	Name string
}

type helper struct{}

func NewWidget(name string) *Widget {
	return &Widget{Name: name}
}

func internalHelper() {}

var DefaultName = "widget"
`
	syms := DigestSymbols(src, Options{})
	names := map[string]SymbolKind{}
	for _, s := range syms {
		names[s.Name] = s.Kind
	}
	if _, ok := names["helper"]; ok {
		t.Fatalf("unexported type %q should be omitted by default", "helper")
	}
	if _, ok := names["internalHelper"]; ok {
		t.Fatalf("unexported func %q should be omitted by default", "internalHelper")
	}
	if k, ok := names["Widget"]; !ok || k != KindType {
		t.Fatalf("expected Widget as a type symbol, got %v ok=%v", k, ok)
	}
	if k, ok := names["NewWidget"]; !ok || k != KindFunction {
		t.Fatalf("expected NewWidget as a function symbol, got %v ok=%v", k, ok)
	}
}

func TestDigest_GroupsByKindInOrder(t *testing.T) {
	src := `package x

func Do() {}

type T struct{}
`
	out := Digest(src, Options{})
	typeIdx := indexOf(out, "type:")
	funcIdx := indexOf(out, "function:")
	if typeIdx == -1 || funcIdx == -1 {
		t.Fatalf("expected both type: and function: headers in digest, got %q", out)
	}
	if typeIdx > funcIdx {
		t.Fatalf("expected type: group before function: group, got %q", out)
	}
}

func TestDigest_EmptyWhenNothingRecognized(t *testing.T) {
	if got := Digest("// just a comment\n", Options{}); got != "" {
		t.Fatalf("expected empty digest, got %q", got)
	}
}

func TestDigestSymbols_MaxSymbolsCaps(t *testing.T) {
	src := "func A(){}\nfunc B(){}\nfunc C(){}\n"
	syms := DigestSymbols(src, Options{MaxSymbols: 2})
	if len(syms) != 2 {
		t.Fatalf("got %d symbols, want 2", len(syms))
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
