// Package devengine is the embeddable library surface over the engine:
// an Entry wires together the Event Bus, the State Store, a Model/FS/
// Shell port triple, and the Orchestrator, then exposes Execute/
// Validate/EstimateCost plus accessors to the bus and a derived,
// read-only progress view. The run's arguments are given to New.
package devengine

import (
	"context"
	"fmt"
	"time"

	"devengine/internal/bus"
	"devengine/internal/dag"
	"devengine/internal/orchestrator"
	"devengine/internal/planfile"
	"devengine/internal/ports"
	"devengine/internal/state"
	"devengine/internal/verify"
)

// CostEstimate is estimateCost's result: a token-count heuristic over
// the prompt lengths the Architect/Builder/Auditor/Fixer/Scribe cycle
// would issue for the given task count, times an illustrative per-token
// price. It is advisory only — the actual token spend depends on the
// model's own tokenizer and the size of generated files.
type CostEstimate struct {
	Tokens int
	Cost   float64
}

// costPerThousandTokens is an illustrative, provider-agnostic rate used
// only to give estimateCost a non-zero Cost; callers needing an exact
// figure should consult their provider's own pricing.
const costPerThousandTokens = 0.002

// Entry is the library's single embeddable unit of work: one Entry per
// goal/run.
type Entry struct {
	goal     string
	repoPath string
	resume   bool

	bus          *bus.Bus
	store        *state.Store
	orchestrator *orchestrator.Orchestrator
	planOverride *dag.Plan
}

// Config supplies the ports an Entry needs. Logger may be nil.
// PlanFile, if set, names a YAML file (internal/planfile) supplying a
// hand-authored Plan that bypasses the Architect model call entirely.
type Config struct {
	Model      ports.Model
	FS         ports.FS
	Shell      ports.Shell
	Logger     ports.Logger
	StateDir   string
	PlanFile   string
	Options    orchestrator.Options
	VerifyOpts verify.Options
}

// New constructs an Entry for one run of goal against an optional
// repoPath, configured per cfg. resume requests resumeExecution against
// the latest non-complete checkpoint for this goal, if any exists.
func New(goal, repoPath string, resume bool, cfg Config) (*Entry, error) {
	if goal == "" {
		return nil, fmt.Errorf("devengine: goal is required")
	}

	store, err := state.NewStore(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("devengine: open state store: %w", err)
	}
	b := bus.New()

	loop := verify.New(cfg.Model, cfg.FS, cfg.Shell, cfg.Logger, cfg.VerifyOpts)
	orch := orchestrator.New(cfg.Model, cfg.FS, store, b, loop.Execute, cfg.Logger, cfg.Options)

	var planOverride *dag.Plan
	if cfg.PlanFile != "" {
		plan, err := planfile.Load(cfg.PlanFile)
		if err != nil {
			return nil, fmt.Errorf("devengine: load plan file: %w", err)
		}
		planOverride = &plan
	}

	return &Entry{
		goal:         goal,
		repoPath:     repoPath,
		resume:       resume,
		bus:          b,
		store:        store,
		orchestrator: orch,
		planOverride: planOverride,
	}, nil
}

// Execute runs the engine end to end and reports a library-facing
// result.
func (e *Entry) Execute(ctx context.Context) (orchestrator.Result, error) {
	e.bus.Emit("engine:start", map[string]any{"taskCount": 0})
	result, err := e.orchestrator.Run(ctx, e.goal, e.repoPath, e.resume, e.planOverride)
	completed, failed := 0, 0
	if result.Metadata != nil {
		if planID, ok := result.Metadata["planId"].(string); ok {
			if st, loadErr := e.store.Load(planID); loadErr == nil && st != nil {
				for _, task := range st.Tasks {
					switch task.Status {
					case dag.StatusCompleted:
						completed++
					case dag.StatusFailed:
						failed++
					}
				}
			}
		}
	}
	e.bus.Emit("engine:complete", map[string]any{"completed": completed, "failed": failed})
	return result, err
}

// Validate runs cheap, pre-flight checks and returns every problem
// found; an empty slice means the Entry is ready to Execute.
func (e *Entry) Validate(ctx context.Context) []string {
	var problems []string
	if e.goal == "" {
		problems = append(problems, "goal is required")
	}
	return problems
}

// EstimateCost heuristically sizes the prompt volume a run of this
// goal's complexity would issue, as a token count and an illustrative
// dollar cost.
func (e *Entry) EstimateCost(ctx context.Context) CostEstimate {
	// Architect and Scribe issue one prompt each per run; Builder,
	// Auditor and (possibly) Fixer issue roughly one each per task.
	// Without a materialized plan yet, approximate task count from the
	// goal's own length as a proxy for described scope.
	approxTasks := len(e.goal)/40 + 1
	tokensPerPrompt := 800
	rolesPerTask := 3 // Builder + Auditor + (possible) Fixer
	tokens := tokensPerPrompt*(1+approxTasks*rolesPerTask) + tokensPerPrompt // + Scribe
	return CostEstimate{
		Tokens: tokens,
		Cost:   float64(tokens) / 1000 * costPerThousandTokens,
	}
}

// Bus returns the run's Event Bus itself, so callers can subscribe to
// its events.
func (e *Entry) Bus() *bus.Bus { return e.bus }

// Progress derives a point-in-time progress snapshot from the bus's
// retained task:* event history: a read-only aggregation, not a
// separately tracked counter.
func (e *Entry) Progress() ProgressSnapshot {
	return snapshotFromHistory(e.bus.GetHistory())
}

// ProgressSnapshot is a read-only aggregation over task:* events.
type ProgressSnapshot struct {
	Total     int
	Started   int
	Completed int
	Failed    int
	Retried   int
	ByTask    map[string]TaskProgress
}

// TaskProgress is one task's derived state from the event history.
type TaskProgress struct {
	Attempts    int
	LastStatus  string
	LastUpdated time.Time
}

func snapshotFromHistory(events []bus.Event) ProgressSnapshot {
	snap := ProgressSnapshot{ByTask: make(map[string]TaskProgress)}
	for _, e := range events {
		taskID, _ := e.Data["taskId"].(string)
		if taskID == "" {
			continue
		}
		tp := snap.ByTask[taskID]
		switch e.Type {
		case "task:start":
			snap.Started++
			tp.Attempts++
			tp.LastStatus = "running"
		case "task:complete":
			snap.Completed++
			tp.LastStatus = "completed"
		case "task:failed":
			snap.Failed++
			tp.LastStatus = "failed"
		case "task:retry":
			snap.Retried++
			tp.LastStatus = "retrying"
		}
		snap.ByTask[taskID] = tp
	}
	snap.Total = len(snap.ByTask)
	return snap
}
