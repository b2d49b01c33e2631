// Package planfile reads a hand-written Plan override from a YAML
// file, the CLI's --plan-file escape hatch: a user who already knows
// the task breakdown they want can hand it to the Scheduler directly,
// bypassing the Architect model call entirely, while still running
// through the same Task/Plan types and the same Scheduler the
// Orchestrator would otherwise build one for.
package planfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"devengine/internal/dag"
)

// document is the on-disk shape; it mirrors dag.Plan/dag.Task but with
// yaml tags and only the fields a human author should set (runtime
// fields like Status/Attempts/Result are the Scheduler's to manage).
type document struct {
	ArchitectureReasoning string         `yaml:"architectureReasoning"`
	Tasks                 []taskDocument `yaml:"tasks"`
}

type taskDocument struct {
	ID           string `yaml:"id"`
	FilePath     string `yaml:"filePath"`
	Description  string `yaml:"description"`
	Type         string `yaml:"type"`
	Priority     int    `yaml:"priority"`
	Dependencies []string `yaml:"dependencies"`
	MaxAttempts  int    `yaml:"maxAttempts"`
}

// Load parses path into a dag.Plan. An empty Tasks list or a task
// missing its id/filePath is rejected up front; the Scheduler's own
// LoadPlan does not check for either.
func Load(path string) (dag.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return dag.Plan{}, fmt.Errorf("planfile: read %s: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return dag.Plan{}, fmt.Errorf("planfile: parse %s: %w", path, err)
	}
	if len(doc.Tasks) == 0 {
		return dag.Plan{}, fmt.Errorf("planfile: %s declares no tasks", path)
	}

	tasks := make([]dag.Task, 0, len(doc.Tasks))
	for i, t := range doc.Tasks {
		if t.ID == "" {
			return dag.Plan{}, fmt.Errorf("planfile: %s: tasks[%d] is missing id", path, i)
		}
		if t.FilePath == "" {
			return dag.Plan{}, fmt.Errorf("planfile: %s: task %q is missing filePath", path, t.ID)
		}
		maxAttempts := t.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = 3
		}
		tasks = append(tasks, dag.Task{
			ID:           t.ID,
			FilePath:     t.FilePath,
			Description:  t.Description,
			Type:         dag.TaskType(t.Type),
			Priority:     t.Priority,
			Dependencies: t.Dependencies,
			MaxAttempts:  maxAttempts,
		})
	}

	return dag.Plan{Tasks: tasks, ArchitectureReasoning: doc.ArchitectureReasoning}, nil
}
