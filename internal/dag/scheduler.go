package dag

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"devengine/internal/ports"
)

// Emitter is the narrow slice of the Event Bus the Scheduler needs: a
// fire-and-forget announcement that must never block or fail execution.
// internal/bus.Bus satisfies this directly.
type Emitter interface {
	Emit(eventType string, data map[string]any)
}

type nopEmitter struct{}

func (nopEmitter) Emit(string, map[string]any) {}

// ExecutorFunc produces a Task's artifact. depResults carries, for every
// completed dependency, that dependency's raw result; reducing it to
// Interface-Digest context is the executor callback's job (see internal/verify), not the Scheduler's; the Scheduler
// only ever hands over raw completed results keyed by dependency id.
type ExecutorFunc func(ctx context.Context, task Task, depResults map[string]string) (string, error)

// Options configures Scheduler behavior. The zero value is not directly
// usable; call DefaultOptions and override as needed.
type Options struct {
	MaxConcurrency     int
	DefaultMaxAttempts int
	TaskTimeout        time.Duration
	RetryDelay         time.Duration
}

// DefaultOptions matches the spec-mandated defaults: 3-way concurrency,
// 3 attempts per task, a 5-minute per-task timeout, and a 1-second delay
// between retries.
func DefaultOptions() Options {
	return Options{
		MaxConcurrency:     3,
		DefaultMaxAttempts: 3,
		TaskTimeout:        300 * time.Second,
		RetryDelay:         time.Second,
	}
}

// Scheduler owns the dependency graph and all Task runtime state. It is
// the single writer of every Task's Status, Attempts, timing fields,
// Result, and Error; callers observe through GetTaskResult/GetAllResults/
// GetStatus, which always return copies.
type Scheduler struct {
	logger   ports.Logger
	emitter  Emitter
	executor ExecutorFunc
	opts     Options

	sem *semaphore.Weighted

	mu    sync.Mutex
	tasks map[string]*Task
	graph *graph

	wg sync.WaitGroup // one Done() per task, exactly once, on reaching a terminal status

	failedMu sync.Mutex
	failed   []string
}

// NewScheduler constructs a Scheduler. logger and emitter may be nil, in
// which case logging and event emission are no-ops.
func NewScheduler(executor ExecutorFunc, logger ports.Logger, emitter Emitter, opts Options) *Scheduler {
	if logger == nil {
		logger = ports.NopLogger{}
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultOptions().MaxConcurrency
	}
	if opts.DefaultMaxAttempts <= 0 {
		opts.DefaultMaxAttempts = DefaultOptions().DefaultMaxAttempts
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = DefaultOptions().TaskTimeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultOptions().RetryDelay
	}
	return &Scheduler{
		executor: executor,
		logger:   logger,
		emitter:  emitter,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrency)),
	}
}

// LoadPlan resets Scheduler state and installs tasks. It drops dangling
// dependency edges (logging a warning) and rejects a cyclic graph before
// any executor is ever invoked.
func (s *Scheduler) LoadPlan(tasks []Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, err := buildGraph(tasks, s.logger)
	if err != nil {
		return err
	}

	s.tasks = make(map[string]*Task, len(tasks))
	for i := range tasks {
		t := tasks[i].Clone()
		t.Status = StatusPending
		t.Attempts = 0
		if t.MaxAttempts <= 0 {
			t.MaxAttempts = s.opts.DefaultMaxAttempts
		}
		s.tasks[t.ID] = &t
	}
	s.graph = g
	s.failed = nil
	s.wg = sync.WaitGroup{}
	s.wg.Add(len(tasks))
	return nil
}

// LoadPlanFromPlan is a convenience wrapper over LoadPlan for callers
// holding a Plan rather than a bare task slice.
func (s *Scheduler) LoadPlanFromPlan(p Plan) error {
	return s.LoadPlan(p.Tasks)
}

// ResumeFrom marks each named task COMPLETED with the given result and
// clears its dependents' indegree accordingly, so that Run treats already-
// satisfied children as ready instead of re-executing completed work.
// It must be called after LoadPlan and before Run.
func (s *Scheduler) ResumeFrom(completedIDs []string, results map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range completedIDs {
		t, ok := s.tasks[id]
		if !ok || t.Status == StatusCompleted {
			continue
		}
		t.Status = StatusCompleted
		t.Result = results[id]
		now := time.Now().UTC()
		t.CompletedAt = &now
		s.wg.Done()

		for _, child := range s.graph.dependents[id] {
			if s.graph.indegree[child] > 0 {
				s.graph.indegree[child]--
			}
		}
	}
}

// Run executes the loaded plan to completion: it returns nil once every
// task has reached a terminal status, or a *TasksFailedError /
// ErrNoReadyTask naming what went wrong. Completion is signaled by a
// WaitGroup rather than polling, so Run returns exactly when the last
// task transitions out of a non-terminal status — no fixed poll interval
// to tune, no risk of missing a transition between polls.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.tasks == nil {
		s.mu.Unlock()
		return fmt.Errorf("dag: Run called before LoadPlan")
	}
	s.emitter.Emit("engine:start", map[string]any{"taskCount": len(s.tasks)})

	ready := s.readyLocked()
	if len(ready) == 0 {
		allTerminal := true
		for _, t := range s.tasks {
			if nonTerminal(t.Status) {
				allTerminal = false
				break
			}
		}
		s.mu.Unlock()
		if allTerminal {
			return nil // everything was already resumed-complete
		}
		return ErrNoReadyTask
	}
	s.mu.Unlock()

	for _, id := range ready {
		s.scheduleTask(ctx, id)
	}

	s.wg.Wait()

	s.failedMu.Lock()
	failedIDs := append([]string(nil), s.failed...)
	s.failedMu.Unlock()

	if len(failedIDs) > 0 {
		sort.Strings(failedIDs)
		return &TasksFailedError{IDs: failedIDs}
	}
	s.emitter.Emit("engine:complete", map[string]any{"completed": len(s.tasks) - len(failedIDs), "failed": len(failedIDs)})
	return nil
}

// readyLocked returns PENDING tasks with indegree 0, sorted by priority
// descending with insertion order as the stable tie-break. Callers must
// hold s.mu.
func (s *Scheduler) readyLocked() []string {
	var ready []string
	for id, t := range s.tasks {
		if t.Status == StatusPending && s.graph.indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		a, b := s.tasks[ready[i]], s.tasks[ready[j]]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return s.graph.insertion[ready[i]] < s.graph.insertion[ready[j]]
	})
	return ready
}

// scheduleTask marks the task QUEUED, then acquires one concurrency
// permit and runs it, releasing the permit in a guaranteed epilogue even
// if executeTask panics partway through (the defer runs regardless of
// how the goroutine unwinds, short of a process crash).
func (s *Scheduler) scheduleTask(ctx context.Context, id string) {
	s.mu.Lock()
	s.tasks[id].Status = StatusQueued
	s.mu.Unlock()

	go func() {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.failTask(id, err.Error())
			return
		}
		defer s.sem.Release(1)
		s.executeTask(ctx, id)
	}()
}

func (s *Scheduler) executeTask(ctx context.Context, id string) {
	s.mu.Lock()
	t := s.tasks[id]
	t.Status = StatusRunning
	now := time.Now().UTC()
	t.StartedAt = &now
	t.Attempts++
	attempt := t.Attempts
	depResults := s.dependencyResultsLocked(t)
	taskCopy := t.Clone()
	s.mu.Unlock()

	s.emitter.Emit("task:start", map[string]any{"taskId": id, "filePath": taskCopy.FilePath, "attempt": attempt})

	runCtx, cancel := context.WithTimeout(ctx, s.opts.TaskTimeout)
	defer cancel()

	type outcome struct {
		result string
		err    error
	}
	resCh := make(chan outcome, 1)
	go func() {
		r, err := s.executor(runCtx, taskCopy, depResults)
		resCh <- outcome{result: r, err: err}
	}()

	var out outcome
	select {
	case out = <-resCh:
	case <-runCtx.Done():
		out = outcome{err: fmt.Errorf("Task %s timed out after %dms", id, s.opts.TaskTimeout.Milliseconds())}
	}

	if out.err == nil {
		s.completeTask(ctx, id, out.result, now)
		return
	}

	s.mu.Lock()
	t = s.tasks[id]
	exhausted := t.Attempts >= t.MaxAttempts
	s.mu.Unlock()

	if !exhausted {
		s.emitter.Emit("task:retry", map[string]any{"taskId": id, "attempt": attempt, "error": out.err.Error()})
		time.Sleep(s.opts.RetryDelay)

		s.mu.Lock()
		t = s.tasks[id]
		t.Status = StatusPending
		s.mu.Unlock()

		s.scheduleTask(ctx, id)
		return
	}

	s.failTask(id, out.err.Error())
}

func (s *Scheduler) completeTask(ctx context.Context, id, result string, started time.Time) {
	s.mu.Lock()
	t := s.tasks[id]
	t.Status = StatusCompleted
	t.Result = result
	completed := time.Now().UTC()
	t.CompletedAt = &completed
	dependents := append([]string(nil), s.graph.dependents[id]...)
	s.mu.Unlock()

	s.wg.Done()
	s.emitter.Emit("task:complete", map[string]any{"taskId": id, "duration": completed.Sub(started).Milliseconds()})

	s.onTaskCompleted(ctx, dependents)
}

// onTaskCompleted releases blocked children: each child's indegree is
// decremented, and a child that reaches 0 while still PENDING is
// scheduled fire-and-forget so siblings run in parallel rather than
// waiting on this call to return.
func (s *Scheduler) onTaskCompleted(ctx context.Context, dependents []string) {
	for _, child := range dependents {
		s.mu.Lock()
		s.graph.indegree[child]--
		ready := s.graph.indegree[child] == 0 && s.tasks[child].Status == StatusPending
		s.mu.Unlock()
		if ready {
			s.scheduleTask(ctx, child)
		}
	}
}

func (s *Scheduler) failTask(id, errMsg string) {
	s.mu.Lock()
	t := s.tasks[id]
	t.Status = StatusFailed
	t.Error = errMsg
	attempts := t.Attempts
	skipped := skipDependentTasks(s.tasks, s.graph.dependents, id)
	s.mu.Unlock()

	s.emitter.Emit("task:failed", map[string]any{"taskId": id, "error": errMsg, "attempts": attempts})

	s.failedMu.Lock()
	s.failed = append(s.failed, id)
	s.failed = append(s.failed, skipped...)
	s.failedMu.Unlock()

	s.wg.Done()
	for range skipped {
		s.wg.Done()
	}
}

// dependencyResultsLocked collects the completed Result of every declared
// dependency. Callers must hold s.mu. A dependency not yet COMPLETED
// cannot happen here: the child only becomes ready once every parent has
// completed successfully.
func (s *Scheduler) dependencyResultsLocked(t *Task) map[string]string {
	if len(t.Dependencies) == 0 {
		return nil
	}
	out := make(map[string]string, len(t.Dependencies))
	for _, dep := range t.Dependencies {
		if p, ok := s.tasks[dep]; ok && p.Status == StatusCompleted {
			out[dep] = p.Result
		}
	}
	return out
}

// GetTaskResult returns the named task's current Result and whether the
// task exists.
func (s *Scheduler) GetTaskResult(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return "", false
	}
	return t.Result, true
}

// GetAllResults returns every COMPLETED task's id -> Result.
func (s *Scheduler) GetAllResults() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for id, t := range s.tasks {
		if t.Status == StatusCompleted {
			out[id] = t.Result
		}
	}
	return out
}

// GetStatus returns a snapshot of every task plus the aggregate summary.
func (s *Scheduler) GetStatus() (map[string]Task, StatusSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := make(map[string]Task, len(s.tasks))
	var sum StatusSummary
	for id, t := range s.tasks {
		tasks[id] = t.Clone()
		switch t.Status {
		case StatusPending:
			sum.Pending++
		case StatusQueued:
			sum.Queued++
		case StatusRunning:
			sum.Running++
		case StatusCompleted:
			sum.Completed++
		case StatusFailed:
			sum.Failed++
		case StatusSkipped:
			sum.Skipped++
		}
	}
	return tasks, sum
}
