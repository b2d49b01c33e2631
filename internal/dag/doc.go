// Package dag defines the Task/Plan domain model and the bounded-concurrency
// Scheduler that executes it.
//
// It is split into:
//   - Graph bookkeeping (graph): dependency adjacency built once by
//     LoadPlan, plus per-task indegree counters that ResumeFrom and task
//     completion decrement.
//   - Mutable runtime state carried on the Task values themselves (status,
//     attempts, timing, result) and owned exclusively by the Scheduler.
package dag
