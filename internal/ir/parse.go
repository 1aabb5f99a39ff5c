package ir

import (
	"os"

	"github.com/korahq/kora/internal/fault"
)

// Parse decodes a graph document. Unknown fields, unknown union
// discriminators, and out-of-range enum values are rejected; document-level
// defaults (graph budget, on_fail, empty input maps) are applied so callers
// see a fully shaped graph.
func Parse(data []byte) (*Graph, error) {
	var g Graph
	if err := strictUnmarshal(data, &g); err != nil {
		return nil, fault.Wrap(fault.TypeInvalidTask, fault.StageIR, err, "graph parse failed: %v", err)
	}
	if err := applyParseDefaults(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

// ParseFile reads and parses a graph document from disk.
func ParseFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.TypeInvalidTask, fault.StageIR, err, "graph read failed: %v", err)
	}
	return Parse(data)
}

func applyParseDefaults(g *Graph) error {
	if g.Version != Version {
		return fault.New(fault.TypeInvalidTask, fault.StageIR, "unsupported graph version %q (want %q)", g.Version, Version)
	}
	if g.GraphID == "" {
		return fault.New(fault.TypeInvalidTask, fault.StageIR, "graph_id is required")
	}
	if g.Root == "" {
		return fault.New(fault.TypeInvalidTask, fault.StageIR, "root is required")
	}
	if len(g.Tasks) == 0 {
		return fault.New(fault.TypeInvalidTask, fault.StageIR, "graph must declare at least one task")
	}
	if g.Defaults.Budget == nil {
		b := DefaultBudget()
		g.Defaults.Budget = &b
	}
	for i := range g.Tasks {
		t := &g.Tasks[i]
		if t.ID == "" {
			return fault.New(fault.TypeInvalidTask, fault.StageIR, "task %d is missing an id", i)
		}
		switch t.Policy.OnFail {
		case "", OnFailRetry, OnFailFail, OnFailEscalate:
		default:
			return fault.New(fault.TypeInvalidTask, fault.StageIR, "task %q has unknown on_fail %q", t.ID, t.Policy.OnFail)
		}
		if t.Policy.OnFail == "" {
			t.Policy.OnFail = OnFailFail
		}
		if a := t.Policy.Adaptive; a != nil {
			switch a.RoutingProfile {
			case "", ProfileLatency, ProfileCost, ProfileReliability, ProfileBalanced:
			default:
				return fault.New(fault.TypeInvalidTask, fault.StageIR, "task %q has unknown routing_profile %q", t.ID, a.RoutingProfile)
			}
			if a.RetrievalStrategy != "" && a.RetrievalStrategy != "exact" {
				return fault.New(fault.TypeInvalidTask, fault.StageIR, "task %q has unknown retrieval_strategy %q", t.ID, a.RetrievalStrategy)
			}
		}
		if t.In == nil {
			t.In = map[string]any{}
		}
		if t.Deps == nil {
			t.Deps = []string{}
		}
		if t.Verify != nil && t.Verify.Rules == nil {
			t.Verify.Rules = []Rule{}
		}
	}
	return nil
}
