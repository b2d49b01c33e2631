package prompts

import "testing"

func TestStripFences_RemovesFenceAndLanguageTag(t *testing.T) {
	in := "```json\n{\"a\":1}\n```"
	got := StripFences(in)
	if got != `{"a":1}` {
		t.Fatalf("got %q, want %q", got, `{"a":1}`)
	}
}

func TestStripFences_NoFencePassesThrough(t *testing.T) {
	in := "plain text"
	if got := StripFences(in); got != "plain text" {
		t.Fatalf("got %q, want unchanged input", got)
	}
}

func TestStripFences_RemovesThinkBlock(t *testing.T) {
	in := "<think>reasoning here</think>the answer"
	if got := StripFences(in); got != "the answer" {
		t.Fatalf("got %q, want %q", got, "the answer")
	}
}

func TestStripFences_UnclosedThinkBlockDropsToEnd(t *testing.T) {
	in := "<think>still thinking with no closing tag"
	if got := StripFences(in); got != "" {
		t.Fatalf("got %q, want empty string for an unclosed think block", got)
	}
}

func TestBuilderUserPrompt_IncludesDependencyContextWhenPresent(t *testing.T) {
	got := BuilderUserPrompt("write a widget", "widget.go", "type Widget struct{}")
	if !contains(got, "widget.go") || !contains(got, "Widget struct") {
		t.Fatalf("got %q, want file path and dependency context included", got)
	}
}

func TestBuilderUserPrompt_OmitsDependencySectionWhenEmpty(t *testing.T) {
	got := BuilderUserPrompt("write a widget", "widget.go", "")
	if contains(got, "Dependency interfaces") {
		t.Fatalf("got %q, want no dependency section for empty context", got)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (needle == "" || indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
