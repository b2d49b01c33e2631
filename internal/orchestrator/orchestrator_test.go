package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"devengine/internal/bus"
	"devengine/internal/dag"
	"devengine/internal/ports"
	"devengine/internal/state"
)

type fakeFS struct {
	files map[string]string
}

func newFakeFS() *fakeFS { return &fakeFS{files: make(map[string]string)} }

func (f *fakeFS) Read(_ context.Context, path string) ([]byte, error) { return []byte(f.files[path]), nil }
func (f *fakeFS) Write(_ context.Context, path string, data []byte) error {
	f.files[path] = string(data)
	return nil
}
func (f *fakeFS) Exists(_ context.Context, path string) (bool, error) { _, ok := f.files[path]; return ok, nil }
func (f *fakeFS) Mkdir(context.Context, string, bool) error           { return nil }
func (f *fakeFS) Delete(context.Context, string) error                { return nil }
func (f *fakeFS) Stat(context.Context, string) (ports.FileInfo, error) { return ports.FileInfo{}, nil }
func (f *fakeFS) List(context.Context, string, ports.ListOptions) ([]ports.FileInfo, error) {
	return nil, nil
}

// fakeModel serves one canned response per call in order, keyed only by
// call count (the system prompt content distinguishes Architect/Scribe
// calls for a human reader, but the fake just walks the list).
type fakeModel struct {
	responses []string
	calls     int
}

func (m *fakeModel) Generate(_ context.Context, _ ports.GenerateRequest) (string, error) {
	r := m.responses[m.calls]
	m.calls++
	return r, nil
}
func (m *fakeModel) GenerateWithMeta(ctx context.Context, req ports.GenerateRequest) (ports.GenerateMeta, error) {
	s, err := m.Generate(ctx, req)
	return ports.GenerateMeta{Content: s}, err
}
func (m *fakeModel) GenerateStream(context.Context, ports.GenerateRequest) (<-chan ports.StreamChunk, error) {
	return nil, ports.ErrStreamingUnsupported
}

func echoExecutor(_ context.Context, task dag.Task, _ map[string]string) (string, error) {
	return "generated:" + task.ID, nil
}

func TestOrchestrator_FreshRunProducesReadmeAndCompletesCheckpoint(t *testing.T) {
	dir := t.TempDir()
	st, err := state.NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	b := bus.New()
	fs := newFakeFS()
	planJSON := `{"architectureReasoning":"two independent files","tasks":[` +
		`{"id":"a","filePath":"a.go","description":"write a","type":"code","priority":0,"dependencies":[]},` +
		`{"id":"b","filePath":"b.go","description":"write b","type":"code","priority":0,"dependencies":[]}]}`
	model := &fakeModel{responses: []string{planJSON, "# Widget\n\nDocs."}}

	o := New(model, fs, st, b, echoExecutor, nil, DefaultOptions())
	result, err := o.Run(context.Background(), "build a widget", "", false, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("got Success=false, error=%q", result.Error)
	}
	if fs.files["README.md"] == "" {
		t.Fatalf("expected README.md to have been written")
	}

	planID, _ := result.Metadata["planId"].(string)
	loaded, err := st.Load(planID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil || loaded.Phase != state.PhaseCompleted {
		t.Fatalf("got %+v, want a completed checkpoint", loaded)
	}
}

func TestOrchestrator_FreshRunPersistsExecutionTrace(t *testing.T) {
	dir := t.TempDir()
	st, _ := state.NewStore(dir)
	b := bus.New()
	fs := newFakeFS()
	planJSON := `{"architectureReasoning":"one file","tasks":[` +
		`{"id":"a","filePath":"a.go","description":"write a","type":"code","priority":0,"dependencies":[]}]}`
	model := &fakeModel{responses: []string{planJSON, "# Widget"}}

	o := New(model, fs, st, b, echoExecutor, nil, DefaultOptions())
	result, err := o.Run(context.Background(), "build a widget", "", false, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	planID, _ := result.Metadata["planId"].(string)

	raw, ok := fs.files[".devengine/trace/"+planID+".json"]
	if !ok || raw == "" {
		t.Fatalf("expected an execution trace to have been written for plan %q", planID)
	}
}

func TestOrchestrator_PlanOverrideSkipsArchitectCall(t *testing.T) {
	dir := t.TempDir()
	st, _ := state.NewStore(dir)
	b := bus.New()
	fs := newFakeFS()
	// Only one canned response: the Scribe call. If the Orchestrator
	// called the Architect too, it would run out of responses and panic.
	model := &fakeModel{responses: []string{"# Widget"}}

	override := &dag.Plan{
		ArchitectureReasoning: "hand-authored",
		Tasks: []dag.Task{
			{ID: "a", FilePath: "a.go", Description: "write a", Type: dag.TaskTypeCode, MaxAttempts: 3},
		},
	}

	o := New(model, fs, st, b, echoExecutor, nil, DefaultOptions())
	result, err := o.Run(context.Background(), "build a widget", "", false, override)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("got Success=false, error=%q", result.Error)
	}
	if model.calls != 1 {
		t.Fatalf("got %d model calls, want exactly 1 (Scribe only)", model.calls)
	}
}

func TestOrchestrator_InvalidArchitectJSONFailsRun(t *testing.T) {
	dir := t.TempDir()
	st, _ := state.NewStore(dir)
	b := bus.New()
	fs := newFakeFS()
	model := &fakeModel{responses: []string{"not json at all"}}

	o := New(model, fs, st, b, echoExecutor, nil, DefaultOptions())
	result, err := o.Run(context.Background(), "build something", "", false, nil)
	if err == nil {
		t.Fatalf("expected an error for unparseable architect output")
	}
	if result.Success {
		t.Fatalf("expected Success=false")
	}
	var planErr *PlanInvalidError
	if !errorsAs(err, &planErr) {
		t.Fatalf("got err=%v, want *PlanInvalidError", err)
	}
}

func TestOrchestrator_GatherContextSwallowsEmptyRepo(t *testing.T) {
	dir := t.TempDir()
	st, _ := state.NewStore(dir)
	b := bus.New()
	fs := newFakeFS()
	model := &fakeModel{responses: []string{
		`{"architectureReasoning":"r","tasks":[{"id":"a","filePath":"a.go","description":"d","type":"code","priority":0,"dependencies":[]}]}`,
		"docs",
	}}
	o := New(model, fs, st, b, echoExecutor, nil, DefaultOptions())
	got := o.gatherContext(context.Background(), filepath.Join(dir, "repo"))
	if got != "No existing codebase found." {
		t.Fatalf("got %q, want the no-codebase fallback", got)
	}
}

func errorsAs(err error, target **PlanInvalidError) bool {
	for err != nil {
		if v, ok := err.(*PlanInvalidError); ok {
			*target = v
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
