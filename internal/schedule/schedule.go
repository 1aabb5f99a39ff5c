// Package schedule turns a task graph into a deterministic execution order.
package schedule

import (
	"sort"

	"github.com/korahq/kora/internal/fault"
	"github.com/korahq/kora/internal/ir"
)

// TaskMap indexes a graph's tasks by id.
func TaskMap(g *ir.Graph) map[string]*ir.Task {
	m := make(map[string]*ir.Task, len(g.Tasks))
	for i := range g.Tasks {
		m[g.Tasks[i].ID] = &g.Tasks[i]
	}
	return m
}

// TopoSort returns the task ids in dependency order using Kahn's algorithm.
// The ready frontier is drained in lexicographic order so the result is
// stable across runs. A graph that cannot be fully ordered contains a cycle.
func TopoSort(g *ir.Graph) ([]string, error) {
	indegree := make(map[string]int, len(g.Tasks))
	dependents := make(map[string][]string, len(g.Tasks))
	for _, t := range g.Tasks {
		if _, ok := indegree[t.ID]; !ok {
			indegree[t.ID] = 0
		}
		for _, dep := range t.Deps {
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	frontier := make([]string, 0, len(indegree))
	for id, deg := range indegree {
		if deg == 0 {
			frontier = append(frontier, id)
		}
	}
	sort.Strings(frontier)

	order := make([]string, 0, len(indegree))
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		order = append(order, id)

		released := dependents[id]
		next := make([]string, 0, len(released))
		for _, d := range released {
			indegree[d]--
			if indegree[d] == 0 {
				next = append(next, d)
			}
		}
		if len(next) > 0 {
			frontier = append(frontier, next...)
			sort.Strings(frontier)
		}
	}

	if len(order) != len(indegree) {
		return nil, fault.New(fault.TypeDAGInvalid, fault.StageScheduler,
			"graph contains cycle; cannot compute topological order")
	}
	return order, nil
}

// HasCycle reports whether the graph cannot be topologically ordered.
func HasCycle(g *ir.Graph) bool {
	_, err := TopoSort(g)
	return err != nil
}
