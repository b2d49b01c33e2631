// Package state implements the Checkpoint/Resume State Machine: a durable,
// JSON-encoded snapshot of an in-progress run (the ExecutionState) that
// lets a crashed engine resume from the last committed checkpoint instead
// of starting over.
//
// The on-disk discipline — atomic temp-file-then-rename writes, directory
// fsync, strict JSON decoding that rejects unknown fields and trailing
// content — is carried over unchanged from the teacher's recovery/state
// store; only the shape of what gets persisted (ExecutionState rather
// than a build-cache Run/Checkpoint pair) differs.
package state

import (
	"errors"
	"time"

	"devengine/internal/dag"
)

// Phase is the Orchestrator's place in the planning -> executing ->
// documenting -> completed lifecycle, with absorbing failed.
type Phase string

const (
	PhasePlanning    Phase = "planning"
	PhaseExecuting   Phase = "executing"
	PhaseDocumenting Phase = "documenting"
	PhaseCompleted   Phase = "completed"
	PhaseFailed      Phase = "failed"
)

// ExecutionState is the checkpoint unit: everything needed to resume a
// run without re-asking the model to re-plan.
type ExecutionState struct {
	PlanID                string         `json:"planId"`
	Goal                  string         `json:"goal"`
	Phase                 Phase          `json:"phase"`
	Tasks                 []dag.Task     `json:"tasks"`
	ArchitectureReasoning string         `json:"architectureReasoning"`
	StartedAt             time.Time      `json:"startedAt"`
	LastCheckpoint        time.Time      `json:"lastCheckpoint"`
	Metadata              map[string]any `json:"metadata,omitempty"`
}

// Validate accumulates every structural problem with the state rather
// than failing on the first one, the same way the teacher's Run/
// Checkpoint/Failure types do.
func (s ExecutionState) Validate() error {
	var errs []error
	if s.PlanID == "" {
		errs = append(errs, errors.New("planId is required"))
	}
	if s.Goal == "" {
		errs = append(errs, errors.New("goal is required"))
	}
	switch s.Phase {
	case PhasePlanning, PhaseExecuting, PhaseDocumenting, PhaseCompleted, PhaseFailed:
	default:
		errs = append(errs, errors.New("phase must be one of planning/executing/documenting/completed/failed"))
	}
	if s.StartedAt.IsZero() {
		errs = append(errs, errors.New("startedAt is required"))
	}
	return errors.Join(errs...)
}

// IsComplete reports whether the run needs no further work: either the
// phase has been explicitly marked completed, or every task already
// reached COMPLETED.
func (s ExecutionState) IsComplete() bool {
	if s.Phase == PhaseCompleted {
		return true
	}
	if len(s.Tasks) == 0 {
		return false
	}
	for _, t := range s.Tasks {
		if t.Status != dag.StatusCompleted {
			return false
		}
	}
	return true
}

// IsFatallyFailed reports whether the run has given up for good: phase
// failed and at least one task exhausted its attempt budget.
func (s ExecutionState) IsFatallyFailed() bool {
	if s.Phase != PhaseFailed {
		return false
	}
	for _, t := range s.Tasks {
		if t.Status == dag.StatusFailed && t.Attempts >= 3 {
			return true
		}
	}
	return false
}

// CompletedResults returns every COMPLETED task's id -> Result, the shape
// Scheduler.ResumeFrom expects.
func (s ExecutionState) CompletedResults() (ids []string, results map[string]string) {
	results = make(map[string]string)
	for _, t := range s.Tasks {
		if t.Status == dag.StatusCompleted && t.Result != "" {
			ids = append(ids, t.ID)
			results[t.ID] = t.Result
		}
	}
	return ids, results
}
