package ir

import (
	"reflect"
	"testing"
)

// A nil policy resolves to the base defaults.
func TestAdaptive_Resolved_BaseDefaults(t *testing.T) {
	var a *Adaptive
	r := a.Resolved()

	if r.MinConfidenceToStop != 0.85 {
		t.Errorf("min_confidence_to_stop = %v, want 0.85", r.MinConfidenceToStop)
	}
	if r.MinVoiToEscalate != 0.2 {
		t.Errorf("min_voi_to_escalate = %v, want 0.2", r.MinVoiToEscalate)
	}
	if r.MaxEscalations != 2 {
		t.Errorf("max_escalations = %v, want 2", r.MaxEscalations)
	}
	if want := []string{"mini", "gate", "full"}; !reflect.DeepEqual(r.EscalationOrder, want) {
		t.Errorf("escalation_order = %v, want %v", r.EscalationOrder, want)
	}
	if want := map[string]float64{"mini": 1, "gate": 3, "full": 10}; !reflect.DeepEqual(r.StageCosts, want) {
		t.Errorf("stage_costs = %v, want %v", r.StageCosts, want)
	}
	if !r.UseVoi || r.EnableGateRetrieval {
		t.Errorf("use_voi=%v enable_gate_retrieval=%v", r.UseVoi, r.EnableGateRetrieval)
	}
	if r.RetrievalStrategy != "exact" || r.RetrievalTTLSeconds != 600 || r.RetrievalMaxEntries != 256 {
		t.Errorf("retrieval knobs = %q/%d/%d", r.RetrievalStrategy, r.RetrievalTTLSeconds, r.RetrievalMaxEntries)
	}
}

// Each routing profile overlays its documented deltas onto the base.
func TestAdaptive_Resolved_Profiles(t *testing.T) {
	t.Run("latency", func(t *testing.T) {
		r := (&Adaptive{RoutingProfile: ProfileLatency}).Resolved()
		if r.UseVoi {
			t.Error("latency profile should disable voi")
		}
		if r.SelfConsistencyEnabled {
			t.Error("latency profile should disable self-consistency")
		}
		if r.MaxEscalations != 0 {
			t.Errorf("max_escalations = %d, want 0", r.MaxEscalations)
		}
		if r.MinConfidenceToStop != 0.75 {
			t.Errorf("min_confidence_to_stop = %v, want 0.75", r.MinConfidenceToStop)
		}
	})

	t.Run("reliability", func(t *testing.T) {
		r := (&Adaptive{RoutingProfile: ProfileReliability}).Resolved()
		if r.MinVoiToEscalate != 0.1 {
			t.Errorf("min_voi_to_escalate = %v, want 0.1", r.MinVoiToEscalate)
		}
		if r.MinConfidenceToStop != 0.9 {
			t.Errorf("min_confidence_to_stop = %v, want 0.9", r.MinConfidenceToStop)
		}
		if r.SelfConsistencySamples != 3 || r.SelfConsistencyMaxTokens != 96 {
			t.Errorf("sc samples/tokens = %d/%d", r.SelfConsistencySamples, r.SelfConsistencyMaxTokens)
		}
	})

	t.Run("cost", func(t *testing.T) {
		r := (&Adaptive{RoutingProfile: ProfileCost}).Resolved()
		if !r.UseVoi || !r.SelfConsistencyEnabled {
			t.Errorf("use_voi=%v sc=%v", r.UseVoi, r.SelfConsistencyEnabled)
		}
		if r.MaxEscalations != 2 {
			t.Errorf("max_escalations = %d, want 2", r.MaxEscalations)
		}
	})
}

// An explicit knob wins over its profile override.
func TestAdaptive_Resolved_ExplicitBeatsProfile(t *testing.T) {
	a := &Adaptive{
		RoutingProfile:      ProfileLatency,
		MinConfidenceToStop: floatPtr(0.99),
		UseVoi:              boolPtr(true),
		EscalationOrder:     []string{"full"},
	}
	r := a.Resolved()
	if r.MinConfidenceToStop != 0.99 {
		t.Errorf("min_confidence_to_stop = %v, want explicit 0.99", r.MinConfidenceToStop)
	}
	if !r.UseVoi {
		t.Error("explicit use_voi not honored")
	}
	if !reflect.DeepEqual(r.EscalationOrder, []string{"full"}) {
		t.Errorf("escalation_order = %v", r.EscalationOrder)
	}
	// Unset knobs still follow the profile.
	if r.MaxEscalations != 0 {
		t.Errorf("max_escalations = %d, want profile's 0", r.MaxEscalations)
	}
}

// Resolved returns copies of the order slice and cost map.
func TestAdaptive_Resolved_CopiesCollections(t *testing.T) {
	a := &Adaptive{}
	r := a.Resolved()
	r.EscalationOrder[0] = "tampered"
	r.StageCosts["mini"] = 999

	again := a.Resolved()
	if again.EscalationOrder[0] != "mini" || again.StageCosts["mini"] != 1 {
		t.Error("Resolved shares collections between calls")
	}
}

// fill writes the resolved values into unset knobs and is stable on reapply.
func TestAdaptive_Fill(t *testing.T) {
	a := &Adaptive{RoutingProfile: ProfileReliability}
	a.fill()
	if a.MinConfidenceToStop == nil || *a.MinConfidenceToStop != 0.9 {
		t.Fatalf("min_confidence_to_stop not filled: %+v", a.MinConfidenceToStop)
	}
	if a.RetrievalStrategy != "exact" {
		t.Errorf("retrieval_strategy = %q", a.RetrievalStrategy)
	}

	before := a.clone()
	a.fill()
	if *before.MinVoiToEscalate != *a.MinVoiToEscalate || *before.MaxEscalations != *a.MaxEscalations {
		t.Error("second fill changed values")
	}

	// An explicit empty escalation order survives fill.
	e := &Adaptive{EscalationOrder: []string{}}
	e.fill()
	if len(e.EscalationOrder) != 0 {
		t.Errorf("explicit empty order overwritten: %v", e.EscalationOrder)
	}
}
