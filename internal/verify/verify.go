// Package verify implements the Verification/Self-Heal Loop: the
// per-task generate -> test -> classify -> fix cycle the Scheduler
// invokes through a dag.ExecutorFunc.
//
// The loop's shape — ask the model, strip its markdown fences, run the
// result, and feed a structured failure back into the next prompt — is
// carried over from the teacher's role cycle (builder/auditor prompts
// driving a shell-exec/classify retry loop), generalized from a single
// build-cache task to the arbitrary Task.Type values the scheduler now
// carries.
package verify

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"devengine/internal/classifier"
	"devengine/internal/dag"
	"devengine/internal/digest"
	"devengine/internal/ports"
	"devengine/internal/prompts"
)

// sourceExtensions is the set of file extensions the loop treats as
// verifiable source, as opposed to config/docs/data the Builder may also
// be asked to produce.
var sourceExtensions = map[string]bool{
	".go":   true,
	".ts":   true,
	".tsx":  true,
	".js":   true,
	".jsx":  true,
	".py":   true,
	".java": true,
	".rb":   true,
}

// VerificationExhaustedError is returned when the inner cycle runs out
// of attempts without a passing test. The Scheduler surfaces this as an
// ordinary task failure, subject to its own outer retry/skip logic.
type VerificationExhaustedError struct {
	TaskID   string
	Attempts int
	LastErr  string
}

func (e *VerificationExhaustedError) Error() string {
	return fmt.Sprintf("verification exhausted for task %s after %d attempt(s): %s", e.TaskID, e.Attempts, e.LastErr)
}

// Options configures the loop's behavior; zero-value Options falls back
// to DefaultOptions' fields at construction.
type Options struct {
	MaxRetries  int
	TaskTimeout time.Duration
}

// DefaultOptions mirrors the Scheduler's own defaults: 3 inner attempts,
// a 300s ceiling per test invocation.
func DefaultOptions() Options {
	return Options{MaxRetries: 3, TaskTimeout: 300 * time.Second}
}

// Loop wires a Model, FS, and Shell into the Scheduler's executor
// callback shape.
type Loop struct {
	model      ports.Model
	fs         ports.FS
	shell      ports.Shell
	classifier *classifier.Classifier
	logger     ports.Logger
	opts       Options
}

// New builds a Loop. logger may be nil, in which case a NopLogger is
// used.
func New(model ports.Model, fs ports.FS, shell ports.Shell, logger ports.Logger, opts Options) *Loop {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultOptions().MaxRetries
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = DefaultOptions().TaskTimeout
	}
	if logger == nil {
		logger = ports.NopLogger{}
	}
	return &Loop{
		model:      model,
		fs:         fs,
		shell:      shell,
		classifier: classifier.Default(),
		logger:     logger,
		opts:       opts,
	}
}

// Execute is a dag.ExecutorFunc: it is what the Orchestrator hands the
// Scheduler as the per-task callback.
func (l *Loop) Execute(ctx context.Context, task dag.Task, depResults map[string]string) (string, error) {
	depContext := l.buildDependencyContext(depResults)

	source, err := l.generate(ctx, task, depContext)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if err := l.fs.Write(ctx, task.FilePath, []byte(source)); err != nil {
		return "", fmt.Errorf("write %s: %w", task.FilePath, err)
	}

	if !l.shouldVerify(task.FilePath) {
		return source, nil
	}

	return l.verifyCycle(ctx, task, depContext, source)
}

// buildDependencyContext reduces each completed dependency's raw result
// through the Interface Digest so the Builder/Auditor/Fixer prompts only
// ever see a dependency's public surface, never its full body.
func (l *Loop) buildDependencyContext(depResults map[string]string) string {
	if len(depResults) == 0 {
		return ""
	}
	var b strings.Builder
	for id, result := range depResults {
		d := digest.Digest(result, digest.Options{})
		if d == "" {
			continue
		}
		fmt.Fprintf(&b, "// from %s\n%s\n\n", id, d)
	}
	return b.String()
}

func (l *Loop) generate(ctx context.Context, task dag.Task, depContext string) (string, error) {
	req := ports.GenerateRequest{
		SystemPrompt: prompts.BuilderSystemPrompt(),
		UserPrompt:   prompts.BuilderUserPrompt(task.Description, task.FilePath, depContext),
	}
	raw, err := l.model.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return prompts.StripFences(raw), nil
}

func (l *Loop) shouldVerify(path string) bool {
	if isTestFile(path) {
		return false
	}
	return sourceExtensions[filepath.Ext(path)]
}

func isTestFile(path string) bool {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return strings.HasSuffix(stem, ".test") || strings.HasSuffix(stem, "_test")
}

// testFilePath inserts ".test" before the extension, per the loop's
// contract for deriving an audit file's location from the source path.
func testFilePath(sourcePath string) string {
	ext := filepath.Ext(sourcePath)
	stem := strings.TrimSuffix(sourcePath, ext)
	return stem + ".test" + ext
}

func (l *Loop) verifyCycle(ctx context.Context, task dag.Task, depContext, source string) (string, error) {
	testPath := testFilePath(task.FilePath)
	runner := l.shell.GetTestRunner()

	var lastErr string
	for attempt := 1; attempt <= l.opts.MaxRetries; attempt++ {
		testSrc, err := l.generateTest(ctx, task, depContext, source)
		if err != nil {
			return "", fmt.Errorf("generate test: %w", err)
		}
		if err := l.fs.Write(ctx, testPath, []byte(testSrc)); err != nil {
			return "", fmt.Errorf("write test %s: %w", testPath, err)
		}

		result, err := runner.Run(ctx, testPath, ports.RunOptions{Timeout: l.opts.TaskTimeout})
		if err != nil {
			lastErr = err.Error()
			l.logger.Warn("test runner invocation failed", ports.F("task", task.ID), ports.F("attempt", attempt), ports.F("error", err))
		} else if result.Passed {
			return source, nil
		} else {
			lastErr = result.RawOutput
		}

		classified := l.classifier.Classify(lastErr, 1)
		fixPrompt := l.classifier.GetFixStrategy(classified.Category)

		l.logger.Info("verification attempt failed, regenerating source",
			ports.F("task", task.ID), ports.F("attempt", attempt), ports.F("category", classified.Category))

		fixed, err := l.fix(ctx, task, depContext, source, lastErr, fixPrompt)
		if err != nil {
			return "", fmt.Errorf("fix: %w", err)
		}
		source = fixed
		if err := l.fs.Write(ctx, task.FilePath, []byte(source)); err != nil {
			return "", fmt.Errorf("overwrite %s: %w", task.FilePath, err)
		}
	}

	return "", &VerificationExhaustedError{TaskID: task.ID, Attempts: l.opts.MaxRetries, LastErr: lastErr}
}

func (l *Loop) generateTest(ctx context.Context, task dag.Task, depContext, source string) (string, error) {
	req := ports.GenerateRequest{
		SystemPrompt: prompts.AuditorSystemPrompt(),
		UserPrompt:   prompts.AuditorUserPrompt(task.Description, task.FilePath, depContext, source),
	}
	raw, err := l.model.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return prompts.StripFences(raw), nil
}

func (l *Loop) fix(ctx context.Context, task dag.Task, depContext, source, failureOutput, fixStrategy string) (string, error) {
	req := ports.GenerateRequest{
		SystemPrompt: prompts.FixerSystemPrompt(),
		UserPrompt:   prompts.FixerUserPrompt(task.Description, task.FilePath, depContext, source, failureOutput, fixStrategy),
	}
	raw, err := l.model.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return prompts.StripFences(raw), nil
}
