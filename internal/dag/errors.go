package dag

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCyclicDependency is returned by LoadPlan when the dependency graph
	// contains a cycle. Fatal: run() must never be called afterward.
	ErrCyclicDependency = errors.New("Circular dependency detected")
	// ErrNoReadyTask is returned by Run when the plan loaded but no task has
	// indegree 0. LoadPlan's cycle check should already have caught this;
	// this exists as a second, independent guard.
	ErrNoReadyTask = errors.New("No tasks are ready to execute")
	// ErrDuplicateTaskID is returned by LoadPlan when two tasks in the same
	// plan declare the same id. Rejected outright rather than silently
	// keeping the last one, since a caller relying on a dropped duplicate's
	// result would fail confusingly far from the actual mistake.
	ErrDuplicateTaskID = errors.New("Duplicate task id in plan")
)

// SchedulerError wraps a sentinel Kind with task-specific detail, following
// the same typed-error-plus-Unwrap shape used for the graph's sibling
// failure types elsewhere in this module.
type SchedulerError struct {
	Kind error
	Msg  string
}

func (e *SchedulerError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *SchedulerError) Unwrap() error { return e.Kind }

func cycleError(path []string) error {
	msg := ""
	if len(path) > 0 {
		msg = strings.Join(path, " -> ")
	}
	return &SchedulerError{Kind: ErrCyclicDependency, Msg: msg}
}

func duplicateTaskIDError(id string) error {
	return &SchedulerError{Kind: ErrDuplicateTaskID, Msg: id}
}

// TasksFailedError reports the set of task ids that ended FAILED or SKIPPED
// when run() completes unsuccessfully.
type TasksFailedError struct {
	IDs []string
}

func (e *TasksFailedError) Error() string {
	return fmt.Sprintf("%d task(s) failed: %s", len(e.IDs), strings.Join(e.IDs, ", "))
}
