package dag

import (
	"errors"
	"testing"
)

func TestBuildGraph_DanglingEdgeDropped(t *testing.T) {
	tasks := []Task{mkTask("a", "missing")}
	g, err := buildGraph(tasks, nil)
	if err != nil {
		t.Fatalf("buildGraph: %v", err)
	}
	if g.indegree["a"] != 0 {
		t.Fatalf("got indegree %d for a, want 0 (dangling edge should be dropped)", g.indegree["a"])
	}
}

func TestBuildGraph_SelfLoopIsCycle(t *testing.T) {
	tasks := []Task{mkTask("a", "a")}
	if _, err := buildGraph(tasks, nil); err == nil {
		t.Fatalf("expected a self-loop to be reported as a cycle")
	}
}

func TestBuildGraph_DuplicateTaskIDRejected(t *testing.T) {
	tasks := []Task{mkTask("a"), mkTask("a")}
	_, err := buildGraph(tasks, nil)
	if !errors.Is(err, ErrDuplicateTaskID) {
		t.Fatalf("got err=%v, want ErrDuplicateTaskID", err)
	}
}

func TestBuildGraph_DiamondHasNoCycle(t *testing.T) {
	tasks := []Task{mkTask("a"), mkTask("b", "a"), mkTask("c", "a"), mkTask("d", "b", "c")}
	g, err := buildGraph(tasks, nil)
	if err != nil {
		t.Fatalf("buildGraph: %v", err)
	}
	if g.indegree["d"] != 2 {
		t.Fatalf("got indegree %d for d, want 2", g.indegree["d"])
	}
}
