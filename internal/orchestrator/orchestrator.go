// Package orchestrator drives the top-level phase state machine:
// planning -> executing -> documenting -> completed, with an absorbing
// failed phase. It owns the only long-lived Scheduler instance for a
// run and is responsible for checkpointing state at every transition.
//
// The phase-sequencing and checkpoint-cadence shape is grounded on the
// teacher's own run/checkpoint lifecycle (internal/recovery/state),
// generalized from "checkpoint after each build-cache task" to
// "checkpoint after each phase and each task transition" per this
// engine's broader lifecycle.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"devengine/internal/bus"
	"devengine/internal/dag"
	"devengine/internal/digest"
	"devengine/internal/ports"
	"devengine/internal/prompts"
	"devengine/internal/state"
	"devengine/internal/trace"
)

const (
	maxContextFiles = 200
	maxContextDepth = 6
)

// PlanInvalidError reports that the Architect's response could not be
// parsed into a task plan.
type PlanInvalidError struct {
	RawPrefix string
	Cause     error
}

func (e *PlanInvalidError) Error() string {
	return fmt.Sprintf("plan invalid: %v (response prefix: %q)", e.Cause, e.RawPrefix)
}

func (e *PlanInvalidError) Unwrap() error { return e.Cause }

// Result is what Execute returns to a library caller.
type Result struct {
	Success   bool
	Output    string
	Artifacts []string
	Error     string
	Metadata  map[string]any
}

// Options configures an Orchestrator.
type Options struct {
	MaxConcurrency     int
	DefaultMaxAttempts int
	TaskTimeout        time.Duration
	RetryDelay         time.Duration
}

// DefaultOptions mirrors the Scheduler's and verification Loop's own
// defaults.
func DefaultOptions() Options {
	return Options{
		MaxConcurrency:     3,
		DefaultMaxAttempts: 3,
		TaskTimeout:        300 * time.Second,
		RetryDelay:         time.Second,
	}
}

// Executor is the per-task callback the Orchestrator hands to the
// Scheduler; in production this is verify.Loop.Execute.
type Executor = dag.ExecutorFunc

// Orchestrator wires Model, FS, Store, Bus, and a task Executor into one
// run of the phase state machine.
type Orchestrator struct {
	model    ports.Model
	fs       ports.FS
	store    *state.Store
	bus      *bus.Bus
	logger   ports.Logger
	executor Executor
	opts     Options

	scheduler *dag.Scheduler
	recorder  *trace.Recorder
}

// New builds an Orchestrator. logger may be nil.
func New(model ports.Model, fs ports.FS, store *state.Store, b *bus.Bus, executor Executor, logger ports.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = ports.NopLogger{}
	}
	return &Orchestrator{model: model, fs: fs, store: store, bus: b, logger: logger, executor: executor, opts: opts, recorder: trace.NewRecorder()}
}

// Run executes goal end to end: fresh, or resumed if resume is true and
// a non-complete checkpoint for this goal exists. planOverride, if
// non-nil, is used as-is instead of calling the Architect model —
// the CLI's --plan-file escape hatch surfaces here.
func (o *Orchestrator) Run(ctx context.Context, goal, repoPath string, resume bool, planOverride *dag.Plan) (Result, error) {
	if resume {
		if existing, err := o.store.FindLatestForGoal(goal); err == nil && existing != nil && !existing.IsComplete() {
			return o.resumeExecution(ctx, *existing, repoPath)
		}
	}
	return o.freshRun(ctx, goal, repoPath, planOverride)
}

func (o *Orchestrator) freshRun(ctx context.Context, goal, repoPath string, planOverride *dag.Plan) (Result, error) {
	now := time.Now().UTC()
	st := state.ExecutionState{
		PlanID:    state.NewPlanID(goal, now),
		Goal:      goal,
		Phase:     state.PhasePlanning,
		StartedAt: now,
	}
	o.checkpoint(&st)
	o.emitPhase("phase:start", st.Phase)

	var plan dag.Plan
	if planOverride != nil {
		plan = *planOverride
		o.bus.Emit("plan:overridden", map[string]any{"planId": st.PlanID, "taskCount": len(plan.Tasks)})
	} else {
		codebaseContext := o.gatherContext(ctx, repoPath)
		generated, err := o.plan(ctx, goal, codebaseContext)
		if err != nil {
			return o.fail(&st, err)
		}
		plan = generated
	}
	st.ArchitectureReasoning = plan.ArchitectureReasoning
	st.Tasks = plan.Tasks
	o.checkpoint(&st)
	o.emitPhase("phase:complete", state.PhasePlanning)

	return o.executeAndDocument(ctx, &st, nil, nil)
}

func (o *Orchestrator) resumeExecution(ctx context.Context, st state.ExecutionState, repoPath string) (Result, error) {
	o.bus.Emit("checkpoint:restored", map[string]any{"planId": st.PlanID})
	completedIDs, results := st.CompletedResults()
	if st.Phase == state.PhaseDocumenting {
		return o.executeAndDocument(ctx, &st, completedIDs, results)
	}
	return o.executeAndDocument(ctx, &st, completedIDs, results)
}

// executeAndDocument runs phase 3 (execution) then phase 4
// (documentation), checkpointing at every task transition and phase
// change, and is shared by both the fresh and resumed paths.
func (o *Orchestrator) executeAndDocument(ctx context.Context, st *state.ExecutionState, resumeCompletedIDs []string, resumeResults map[string]string) (Result, error) {
	st.Phase = state.PhaseExecuting
	o.checkpoint(st)
	o.emitPhase("phase:start", st.Phase)

	schedOpts := dag.DefaultOptions()
	if o.opts.MaxConcurrency > 0 {
		schedOpts.MaxConcurrency = o.opts.MaxConcurrency
	}
	if o.opts.DefaultMaxAttempts > 0 {
		schedOpts.DefaultMaxAttempts = o.opts.DefaultMaxAttempts
	}
	if o.opts.TaskTimeout > 0 {
		schedOpts.TaskTimeout = o.opts.TaskTimeout
	}
	if o.opts.RetryDelay > 0 {
		schedOpts.RetryDelay = o.opts.RetryDelay
	}

	o.scheduler = dag.NewScheduler(o.executor, o.logger, o.bus, schedOpts)
	if err := o.scheduler.LoadPlan(st.Tasks); err != nil {
		return o.fail(st, err)
	}
	if len(resumeCompletedIDs) > 0 {
		o.scheduler.ResumeFrom(resumeCompletedIDs, resumeResults)
	}

	unsubComplete := o.bus.On("task:complete", func(map[string]any) { o.checkpointFromScheduler(st) })
	unsubFailed := o.bus.On("task:failed", func(map[string]any) { o.checkpointFromScheduler(st) })
	unsubTrace := o.subscribeTrace()
	defer unsubComplete()
	defer unsubFailed()
	defer unsubTrace()

	runErr := o.scheduler.Run(ctx)
	o.checkpointFromScheduler(st)
	o.persistTrace(ctx, st)
	if runErr != nil {
		return o.fail(st, runErr)
	}
	o.emitPhase("phase:complete", state.PhaseExecuting)

	st.Phase = state.PhaseDocumenting
	o.checkpoint(st)
	o.emitPhase("phase:start", st.Phase)

	readme, err := o.document(ctx, st)
	if err != nil {
		return o.fail(st, err)
	}
	if err := o.fs.Write(ctx, "README.md", []byte(readme)); err != nil {
		return o.fail(st, fmt.Errorf("write README.md: %w", err))
	}
	o.emitPhase("phase:complete", st.Phase)

	st.Phase = state.PhaseCompleted
	o.checkpoint(st)

	return Result{
		Success:   true,
		Output:    readme,
		Artifacts: taskFilePaths(st.Tasks),
		Metadata:  map[string]any{"planId": st.PlanID},
	}, nil
}

// checkpointFromScheduler pulls the Scheduler's current task snapshot
// back into st before persisting, so a checkpoint written mid-run
// reflects the latest known task statuses/results.
func (o *Orchestrator) checkpointFromScheduler(st *state.ExecutionState) {
	if o.scheduler == nil {
		return
	}
	snapshot, _ := o.scheduler.GetStatus()
	for i, t := range st.Tasks {
		if updated, ok := snapshot[t.ID]; ok {
			st.Tasks[i] = updated
		}
	}
	o.checkpoint(st)
}

// subscribeTrace records the task:* events the Scheduler emits as
// trace.TraceEvents, independent of the checkpointing subscriptions
// above. It returns an unsubscribe func covering all four listeners.
func (o *Orchestrator) subscribeTrace() func() {
	unsub := []func(){
		o.bus.On("task:start", func(data map[string]any) {
			taskID, _ := data["taskId"].(string)
			o.recorder.Record(trace.TraceEvent{Kind: trace.EventTaskStarted, TaskID: taskID})
		}),
		o.bus.On("task:retry", func(data map[string]any) {
			taskID, _ := data["taskId"].(string)
			errMsg, _ := data["error"].(string)
			o.recorder.Record(trace.TraceEvent{Kind: trace.EventTaskRetried, TaskID: taskID, Reason: truncate(errMsg, 200)})
		}),
		o.bus.On("task:complete", func(data map[string]any) {
			taskID, _ := data["taskId"].(string)
			var artifacts []string
			if fp, ok := data["filePath"].(string); ok && fp != "" {
				artifacts = append(artifacts, fp)
			}
			o.recorder.Record(trace.TraceEvent{Kind: trace.EventTaskCompleted, TaskID: taskID, Artifacts: artifacts})
		}),
		o.bus.On("task:failed", func(data map[string]any) {
			taskID, _ := data["taskId"].(string)
			errMsg, _ := data["error"].(string)
			o.recorder.Record(trace.TraceEvent{Kind: trace.EventTaskFailed, TaskID: taskID, Reason: truncate(errMsg, 200)})
		}),
	}
	return func() {
		for _, fn := range unsub {
			fn()
		}
	}
}

// persistTrace writes the run's canonical execution trace alongside
// its checkpoints. This is best-effort: a trace is an audit aid, not
// state required to resume, so a write failure only gets logged.
func (o *Orchestrator) persistTrace(ctx context.Context, st *state.ExecutionState) {
	graphHash := trace.GraphHash(taskIDs(st.Tasks), dependenciesByID(st.Tasks))
	tr := o.recorder.Trace(graphHash)
	b, err := tr.CanonicalJSON()
	if err != nil {
		o.logger.Warn("trace canonicalize failed", ports.F("planId", st.PlanID), ports.F("error", err))
		return
	}
	path := fmt.Sprintf(".devengine/trace/%s.json", st.PlanID)
	if err := o.fs.Write(ctx, path, b); err != nil {
		o.logger.Warn("trace write failed", ports.F("planId", st.PlanID), ports.F("error", err))
		return
	}
	o.bus.Emit("trace:saved", map[string]any{"planId": st.PlanID, "graphHash": graphHash})
}

func taskIDs(tasks []dag.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func dependenciesByID(tasks []dag.Task) map[string][]string {
	out := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		out[t.ID] = t.Dependencies
	}
	return out
}

func (o *Orchestrator) checkpoint(st *state.ExecutionState) {
	if err := o.store.Save(*st); err != nil {
		o.logger.Warn("checkpoint save failed", ports.F("planId", st.PlanID), ports.F("error", err))
		return
	}
	o.bus.Emit("checkpoint:saved", map[string]any{"planId": st.PlanID})
}

func (o *Orchestrator) fail(st *state.ExecutionState, cause error) (Result, error) {
	st.Phase = state.PhaseFailed
	o.checkpoint(st)
	o.bus.Emit("engine:error", map[string]any{"error": cause.Error()})
	return Result{Success: false, Error: cause.Error(), Metadata: map[string]any{"planId": st.PlanID}}, cause
}

func (o *Orchestrator) emitPhase(eventType string, phase state.Phase) {
	o.bus.Emit(eventType, map[string]any{"phase": string(phase)})
}

// gatherContext best-effort lists and digests existing source files
// under repoPath. Any error here is swallowed: an Architect working
// against an empty or unreadable repo simply plans from scratch.
func (o *Orchestrator) gatherContext(ctx context.Context, repoPath string) string {
	if repoPath == "" {
		return ""
	}
	files, err := o.fs.List(ctx, repoPath, ports.ListOptions{Recursive: true, MaxDepth: maxContextDepth})
	if err != nil || len(files) == 0 {
		return "No existing codebase found."
	}
	var b strings.Builder
	count := 0
	for _, f := range files {
		if f.IsDir || count >= maxContextFiles {
			continue
		}
		data, err := o.fs.Read(ctx, f.Path)
		if err != nil {
			continue
		}
		d := digest.Digest(string(data), digest.Options{})
		if d == "" {
			continue
		}
		fmt.Fprintf(&b, "// %s\n%s\n\n", f.Path, d)
		count++
	}
	if b.Len() == 0 {
		return "No existing codebase found."
	}
	return b.String()
}

type architectResponse struct {
	ArchitectureReasoning string          `json:"architectureReasoning"`
	Tasks                 []architectTask `json:"tasks"`
}

type architectTask struct {
	ID           string   `json:"id"`
	FilePath     string   `json:"filePath"`
	Description  string   `json:"description"`
	Type         string   `json:"type"`
	Priority     int      `json:"priority"`
	Dependencies []string `json:"dependencies"`
}

func (o *Orchestrator) plan(ctx context.Context, goal, codebaseContext string) (dag.Plan, error) {
	req := ports.GenerateRequest{
		SystemPrompt:   prompts.ArchitectSystemPrompt(),
		UserPrompt:     prompts.ArchitectUserPrompt(goal, codebaseContext),
		ResponseFormat: ports.ResponseFormatJSON,
	}
	raw, err := o.model.Generate(ctx, req)
	if err != nil {
		return dag.Plan{}, fmt.Errorf("architect model call: %w", err)
	}
	stripped := prompts.StripFences(raw)

	var resp architectResponse
	if err := json.Unmarshal([]byte(stripped), &resp); err != nil {
		return dag.Plan{}, &PlanInvalidError{RawPrefix: truncate(stripped, 200), Cause: err}
	}
	if len(resp.Tasks) == 0 {
		return dag.Plan{}, &PlanInvalidError{RawPrefix: truncate(stripped, 200), Cause: fmt.Errorf("no tasks in architect response")}
	}

	tasks := make([]dag.Task, 0, len(resp.Tasks))
	for _, t := range resp.Tasks {
		tasks = append(tasks, dag.Task{
			ID:           t.ID,
			FilePath:     t.FilePath,
			Description:  t.Description,
			Type:         dag.TaskType(t.Type),
			Priority:     t.Priority,
			Dependencies: t.Dependencies,
			MaxAttempts:  o.opts.DefaultMaxAttempts,
		})
	}
	return dag.Plan{Tasks: tasks, ArchitectureReasoning: resp.ArchitectureReasoning}, nil
}

func (o *Orchestrator) document(ctx context.Context, st *state.ExecutionState) (string, error) {
	req := ports.GenerateRequest{
		SystemPrompt: prompts.ScribeSystemPrompt(),
		UserPrompt:   prompts.ScribeUserPrompt(st.Goal, st.ArchitectureReasoning, taskFilePaths(st.Tasks)),
	}
	raw, err := o.model.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("scribe model call: %w", err)
	}
	return prompts.StripFences(raw), nil
}

func taskFilePaths(tasks []dag.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.FilePath
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
