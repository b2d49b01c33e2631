package dag

import (
	"sort"

	"devengine/internal/ports"
)

// graph is the adjacency bookkeeping LoadPlan builds once from a Plan's
// declared Task.Dependencies. Its adjacency never changes after
// construction; indegree is decremented as dependencies complete (and
// by ResumeFrom for already-completed tasks).
type graph struct {
	dependents map[string][]string // parent -> sorted children
	indegree   map[string]int
	insertion  map[string]int // original Plan order, for stable priority tie-break
}

// buildGraph wires parent->child adjacency from each task's declared
// dependencies, rejects a plan with duplicate task ids outright, drops
// dangling edges (a dependency id absent from the plan) with a logged
// warning rather than blocking the dependent, and rejects cycles with a
// deterministic witness path.
func buildGraph(tasks []Task, log ports.Logger) (*graph, error) {
	ids := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if _, dup := ids[t.ID]; dup {
			return nil, duplicateTaskIDError(t.ID)
		}
		ids[t.ID] = struct{}{}
	}

	g := &graph{
		dependents: make(map[string][]string),
		indegree:   make(map[string]int, len(tasks)),
		insertion:  make(map[string]int, len(tasks)),
	}
	for i, t := range tasks {
		g.indegree[t.ID] = 0
		g.insertion[t.ID] = i
	}

	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, ok := ids[dep]; !ok {
				if log != nil {
					log.Warn("dropping dangling dependency edge",
						ports.F("task", t.ID), ports.F("missingDependency", dep))
				}
				continue
			}
			g.dependents[dep] = append(g.dependents[dep], t.ID)
			g.indegree[t.ID]++
		}
	}
	for parent := range g.dependents {
		sort.Strings(g.dependents[parent])
	}

	if cyclePath := findCycle(tasks, g.dependents); cyclePath != nil {
		return nil, cycleError(cyclePath)
	}

	return g, nil
}

// findCycle runs a three-color (white/gray/black) DFS over dependents and
// returns one cycle path if found, nil otherwise. Traversal order is the
// plan's declared task order, so the witness is deterministic.
func findCycle(tasks []Task, dependents map[string][]string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))
	parent := make(map[string]string, len(tasks))
	for _, t := range tasks {
		color[t.ID] = white
	}

	var cycle []string
	var dfs func(u string) bool
	dfs = func(u string) bool {
		color[u] = gray
		for _, v := range dependents[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				cycle = append(cycle, v)
				cur := u
				for cur != "" && cur != v {
					cycle = append(cycle, cur)
					cur = parent[cur]
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for _, t := range tasks {
		if color[t.ID] == white {
			if dfs(t.ID) {
				break
			}
		}
	}
	if len(cycle) == 0 {
		return nil
	}
	out := make([]string, len(cycle))
	for i, id := range cycle {
		out[len(cycle)-1-i] = id
	}
	return out
}
