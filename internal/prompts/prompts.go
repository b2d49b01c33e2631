// Package prompts holds the fixed prompt templates the Orchestrator and
// Verification Loop issue to the Model port: Architect (planning),
// Builder (code generation), Auditor (test generation), Fixer (targeted
// repair), and Scribe (documentation).
//
// The const-block-of-role-prompts shape and the fence-stripping helper
// are grounded on the reference shell's role prompts and llm.StripFences
// — devengine's teacher has no LLM role of its own to draw from, so this
// package is enriched from that sibling example instead.
package prompts

import "strings"

const architectSystemPrompt = `You are the Architect. Given a goal and optional existing-codebase context, produce a complete task plan to accomplish it.

Respond with JSON only: {"architectureReasoning": "...", "tasks": [{"id": "...", "filePath": "...", "description": "...", "type": "code|test|config|docs", "priority": 0, "dependencies": ["..."]}]}

Rules:
- Every task id is unique and referenced dependencies must be declared task ids.
- Break work into the smallest units that can be verified independently.
- Prefer explicit dependencies over incidental file-path ordering.
- No markdown, no prose, no code fences — JSON only.`

// ArchitectSystemPrompt is the Architect role's fixed instructions.
func ArchitectSystemPrompt() string { return architectSystemPrompt }

// ArchitectUserPrompt composes the planning request from the run's goal
// and whatever best-effort codebase context was gathered.
func ArchitectUserPrompt(goal, codebaseContext string) string {
	var b strings.Builder
	b.WriteString("Goal:\n")
	b.WriteString(goal)
	b.WriteString("\n\n")
	if codebaseContext == "" {
		b.WriteString("Existing codebase: No existing codebase found.\n")
	} else {
		b.WriteString("Existing codebase (condensed interface digest):\n")
		b.WriteString(codebaseContext)
		b.WriteString("\n")
	}
	return b.String()
}

const builderSystemPrompt = `You are the Builder. Write the complete contents of exactly one file to satisfy the given task description.

Rules:
- Output the raw file contents only — no markdown, no prose, no code fences.
- Use the supplied dependency context for the exported surface of files this task depends on; do not invent signatures that contradict it.
- The file must be syntactically complete and self-contained given its declared dependencies.`

// BuilderSystemPrompt is the Builder role's fixed instructions.
func BuilderSystemPrompt() string { return builderSystemPrompt }

// BuilderUserPrompt composes a generation request for one task.
func BuilderUserPrompt(description, filePath, depContext string) string {
	var b strings.Builder
	b.WriteString("File to produce: ")
	b.WriteString(filePath)
	b.WriteString("\n\nTask:\n")
	b.WriteString(description)
	b.WriteString("\n")
	if depContext != "" {
		b.WriteString("\nDependency interfaces:\n")
		b.WriteString(depContext)
	}
	return b.String()
}

const auditorSystemPrompt = `You are the Auditor. Given a source file and the task it was meant to satisfy, write a test file that verifies it.

Rules:
- Output the raw test file contents only — no markdown, no prose, no code fences.
- Exercise the behavior described by the task, not incidental implementation details.
- Use the dependency context only to avoid testing against a contradicted interface.`

// AuditorSystemPrompt is the Auditor role's fixed instructions.
func AuditorSystemPrompt() string { return auditorSystemPrompt }

// AuditorUserPrompt composes a test-generation request for one task's
// current source.
func AuditorUserPrompt(description, filePath, depContext, source string) string {
	var b strings.Builder
	b.WriteString("Source under test (")
	b.WriteString(filePath)
	b.WriteString("):\n")
	b.WriteString(source)
	b.WriteString("\n\nTask it must satisfy:\n")
	b.WriteString(description)
	b.WriteString("\n")
	if depContext != "" {
		b.WriteString("\nDependency interfaces:\n")
		b.WriteString(depContext)
	}
	return b.String()
}

const fixerSystemPrompt = `You are the Fixer. A generated source file failed its test. Diagnose the failure and return a corrected version of the source file.

Rules:
- Output the raw corrected file contents only — no markdown, no prose, no code fences.
- If the test itself appears to encode the wrong expectation, say so is not an option here: still return a corrected source file that satisfies the task's intent as best you can.
- Apply the fix strategy given below; it names the failure category the output was classified under.`

// FixerSystemPrompt is the Fixer role's fixed instructions.
func FixerSystemPrompt() string { return fixerSystemPrompt }

// FixerUserPrompt composes a repair request given the failing source,
// the raw failure output, and the classifier's category-specific fix
// strategy fragment.
func FixerUserPrompt(description, filePath, depContext, source, failureOutput, fixStrategy string) string {
	var b strings.Builder
	b.WriteString("File: ")
	b.WriteString(filePath)
	b.WriteString("\n\nTask:\n")
	b.WriteString(description)
	b.WriteString("\n\nCurrent source:\n")
	b.WriteString(source)
	b.WriteString("\n\nFailure output:\n")
	b.WriteString(failureOutput)
	b.WriteString("\n\nFix strategy:\n")
	b.WriteString(fixStrategy)
	b.WriteString("\n")
	if depContext != "" {
		b.WriteString("\nDependency interfaces:\n")
		b.WriteString(depContext)
	}
	return b.String()
}

const scribeSystemPrompt = `You are the Scribe. Given a completed plan and its produced files, write a README.md describing what was built and how to use it.

Rules:
- Output raw markdown only — no surrounding code fences.
- Describe the goal, the resulting file layout, and how to run or verify the result.`

// ScribeSystemPrompt is the Scribe role's fixed instructions.
func ScribeSystemPrompt() string { return scribeSystemPrompt }

// ScribeUserPrompt composes the documentation request from the run's
// goal, its architecture reasoning, and the final task list.
func ScribeUserPrompt(goal, architectureReasoning string, filePaths []string) string {
	var b strings.Builder
	b.WriteString("Goal:\n")
	b.WriteString(goal)
	b.WriteString("\n\nArchitecture reasoning:\n")
	b.WriteString(architectureReasoning)
	b.WriteString("\n\nFiles produced:\n")
	for _, p := range filePaths {
		b.WriteString("- ")
		b.WriteString(p)
		b.WriteString("\n")
	}
	return b.String()
}

// StripThinkBlocks removes <think>...</think> reasoning spans some
// models emit ahead of their actual answer.
func StripThinkBlocks(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}
		rest := s[start:]
		end := strings.Index(rest, "</think>")
		if end == -1 {
			s = s[:start]
			break
		}
		s = s[:start] + rest[end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}

// StripFences removes a single leading/trailing markdown code fence (and
// any think-block prefix) from raw model output.
func StripFences(s string) string {
	s = StripThinkBlocks(strings.TrimSpace(s))
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if i := strings.LastIndex(s, "```"); i != -1 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
