package trace

import (
	"bytes"
	"testing"
)

func TestCanonicalTraceStability_ByteForByte(t *testing.T) {
	trace1 := ExecutionTrace{
		GraphHash: "graph-abc",
		Events: []TraceEvent{
			{Kind: EventTaskCompleted, TaskID: "b"},
			{Kind: EventTaskStarted, TaskID: "a"},
			{Kind: EventTaskSkipped, TaskID: "c", Reason: "DependencyFailed", CauseTaskID: "b"},
		},
	}

	trace2 := ExecutionTrace{
		GraphHash: "graph-abc",
		Events: []TraceEvent{
			{Kind: EventTaskSkipped, TaskID: "c", CauseTaskID: "b", Reason: "DependencyFailed"},
			{Kind: EventTaskStarted, TaskID: "a"},
			{Kind: EventTaskCompleted, TaskID: "b"},
		},
	}

	b1, err := trace1.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (1): %v", err)
	}
	b2, err := trace2.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (2): %v", err)
	}

	if !bytes.Equal(b1, b2) {
		t.Fatalf("expected identical bytes\n1=%s\n2=%s", string(b1), string(b2))
	}
}

func TestCanonicalOrdering_SortsByTaskID(t *testing.T) {
	tr := ExecutionTrace{
		GraphHash: "graph-abc",
		Events: []TraceEvent{
			{Kind: EventTaskCompleted, TaskID: "b"},
			{Kind: EventTaskCompleted, TaskID: "a"},
		},
	}
	b, err := tr.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	expected := `{"graphHash":"graph-abc","events":[{"kind":"TaskCompleted","taskId":"a"},{"kind":"TaskCompleted","taskId":"b"}]}`
	if string(b) != expected {
		t.Fatalf("unexpected canonical bytes\nexpected=%s\nactual  =%s", expected, string(b))
	}
}

func TestHash_Deterministic(t *testing.T) {
	tr1 := ExecutionTrace{GraphHash: "g", Events: []TraceEvent{{Kind: EventTaskStarted, TaskID: "a"}}}
	tr2 := ExecutionTrace{GraphHash: "g", Events: []TraceEvent{{Kind: EventTaskStarted, TaskID: "a"}}}

	h1, err := tr1.Hash()
	if err != nil {
		t.Fatalf("hash (1): %v", err)
	}
	h2, err := tr2.Hash()
	if err != nil {
		t.Fatalf("hash (2): %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected identical hash, got %q != %q", h1, h2)
	}
}

func TestHash_IgnoresInsertionOrder_WhenSemanticallyEquivalent(t *testing.T) {
	tr1 := ExecutionTrace{
		GraphHash: "g",
		Events: []TraceEvent{
			{Kind: EventTaskCompleted, TaskID: "b", Reason: "VerifiedOnFirstAttempt"},
			{Kind: EventTaskStarted, TaskID: "a", Reason: "Scheduled"},
		},
	}
	tr2 := ExecutionTrace{
		GraphHash: "g",
		Events: []TraceEvent{
			{Kind: EventTaskStarted, TaskID: "a", Reason: "Scheduled"},
			{Kind: EventTaskCompleted, TaskID: "b", Reason: "VerifiedOnFirstAttempt"},
		},
	}

	h1, err := tr1.Hash()
	if err != nil {
		t.Fatalf("hash (1): %v", err)
	}
	h2, err := tr2.Hash()
	if err != nil {
		t.Fatalf("hash (2): %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected equal hash for semantically equivalent traces, got %q != %q", h1, h2)
	}
}

func TestEventArtifacts_CanonicalizedAndOmittedWhenEmpty(t *testing.T) {
	tr := ExecutionTrace{
		GraphHash: "g",
		Events: []TraceEvent{{
			Kind:      EventTaskCompleted,
			TaskID:    "a",
			Artifacts: []string{"z.go", "a.go"},
		}},
	}
	b, err := tr.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	expected := `{"graphHash":"g","events":[{"kind":"TaskCompleted","taskId":"a","artifacts":["a.go","z.go"]}]}`
	if string(b) != expected {
		t.Fatalf("unexpected canonical bytes\nexpected=%s\nactual  =%s", expected, string(b))
	}

	tr2 := ExecutionTrace{GraphHash: "g", Events: []TraceEvent{{Kind: EventTaskStarted, TaskID: "a", Artifacts: []string{}}}}
	b2, err := tr2.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	expected2 := `{"graphHash":"g","events":[{"kind":"TaskStarted","taskId":"a"}]}`
	if string(b2) != expected2 {
		t.Fatalf("unexpected canonical bytes\nexpected=%s\nactual  =%s", expected2, string(b2))
	}
}

func TestRecorder_TraceBuildsCanonicalSnapshot(t *testing.T) {
	r := NewRecorder()
	r.Record(TraceEvent{Kind: EventTaskStarted, TaskID: "b"})
	r.Record(TraceEvent{Kind: EventTaskStarted, TaskID: "a"})
	r.Record(TraceEvent{Kind: EventTaskCompleted, TaskID: "a"})

	tr := r.Trace("graph-xyz")
	if tr.GraphHash != "graph-xyz" {
		t.Fatalf("got GraphHash=%q, want graph-xyz", tr.GraphHash)
	}
	if len(tr.Events) != 3 {
		t.Fatalf("got %d events, want 3", len(tr.Events))
	}
	if tr.Events[0].TaskID != "a" || tr.Events[1].TaskID != "a" || tr.Events[2].TaskID != "b" {
		t.Fatalf("got events %+v, want task a's events before task b's", tr.Events)
	}
}

func TestGraphHash_StableRegardlessOfDependencyOrder(t *testing.T) {
	h1 := GraphHash([]string{"a", "b"}, map[string][]string{"b": {"x", "a"}})
	h2 := GraphHash([]string{"a", "b"}, map[string][]string{"b": {"a", "x"}})
	if h1 != h2 {
		t.Fatalf("expected GraphHash to ignore dependency slice order, got %q != %q", h1, h2)
	}
}

func TestSafeRecord_NilSinkIsNoop(t *testing.T) {
	SafeRecord(nil, TraceEvent{Kind: EventTaskStarted, TaskID: "a"})
}
