package telemetry

import "testing"

// EstimateCost prices both directions against the built-in table.
func TestEstimateCost_KnownModel(t *testing.T) {
	got := EstimateCost("gpt-4o-mini", 1000, 1000, nil)
	if got != 0.00075 {
		t.Fatalf("cost = %v, want 0.00075", got)
	}
}

// Unknown models without an override price at zero rather than erroring.
func TestEstimateCost_UnknownModelZero(t *testing.T) {
	if got := EstimateCost("mystery-model", 5000, 5000, nil); got != 0 {
		t.Fatalf("cost = %v, want 0", got)
	}
}

// An override replaces both table rates.
func TestEstimateCost_OverrideRates(t *testing.T) {
	p := &Pricing{InputPer1K: 0.001, OutputPer1K: 0.002}
	got := EstimateCost("mystery-model", 500, 250, p)
	if got != 0.001 {
		t.Fatalf("cost = %v, want 0.001", got)
	}
}

// Negative token counts clamp to zero instead of producing refunds.
func TestEstimateCost_ClampsNegativeTokens(t *testing.T) {
	got := EstimateCost("gpt-4o-mini", -50, 1000, nil)
	if got != 0.0006 {
		t.Fatalf("cost = %v, want 0.0006", got)
	}
}

// ResolvePricing merges per-direction overrides over the table and reports
// whether any rate source existed.
func TestResolvePricing(t *testing.T) {
	half := 0.5

	p, ok := ResolvePricing("gpt-4o-mini", nil, nil)
	if !ok || p.InputPer1K != 0.00015 || p.OutputPer1K != 0.0006 {
		t.Fatalf("table rates = %+v ok=%v, want built-in gpt-4o-mini rates", p, ok)
	}

	p, ok = ResolvePricing("gpt-4o-mini", &half, nil)
	if !ok || p.InputPer1K != 0.5 || p.OutputPer1K != 0.0006 {
		t.Fatalf("merged rates = %+v ok=%v, want input override with table output", p, ok)
	}

	p, ok = ResolvePricing("mystery-model", nil, &half)
	if !ok || p.InputPer1K != 0 || p.OutputPer1K != 0.5 {
		t.Fatalf("override rates = %+v ok=%v, want zero input with output override", p, ok)
	}

	if _, ok := ResolvePricing("mystery-model", nil, nil); ok {
		t.Fatal("ok = true for an unknown model with no overrides")
	}
}

// ComputeSavings reports the delta and a percentage that guards division by
// a non-positive direct cost.
func TestComputeSavings(t *testing.T) {
	s := ComputeSavings(0.01, 0.0025)
	if s.DirectCostUSD != 0.01 || s.KoraCostUSD != 0.0025 {
		t.Fatalf("costs = %v/%v, want 0.01/0.0025", s.DirectCostUSD, s.KoraCostUSD)
	}
	if s.SavingsUSD != 0.0075 {
		t.Fatalf("SavingsUSD = %v, want 0.0075", s.SavingsUSD)
	}
	if s.SavingsPercent != 75 {
		t.Fatalf("SavingsPercent = %v, want 75", s.SavingsPercent)
	}

	if s := ComputeSavings(0, 0.001); s.SavingsPercent != 0 {
		t.Fatalf("SavingsPercent = %v, want 0 when direct cost is zero", s.SavingsPercent)
	}
}

// SummarizeWithCost attaches model and spend when the model is priceable and
// omits both otherwise.
func TestSummarizeWithCost(t *testing.T) {
	obj := map[string]any{
		"model":      "gpt-4o-mini",
		"tokens_in":  float64(2000),
		"tokens_out": float64(1000),
	}
	s := SummarizeWithCost(obj, nil)
	if s.Model != "gpt-4o-mini" {
		t.Fatalf("Model = %q, want gpt-4o-mini", s.Model)
	}
	if s.EstimatedCostUSD == nil || *s.EstimatedCostUSD != 0.0009 {
		t.Fatalf("EstimatedCostUSD = %v, want 0.0009", s.EstimatedCostUSD)
	}

	// Missing model falls back to the default.
	s = SummarizeWithCost(map[string]any{"tokens_in": float64(1000)}, nil)
	if s.Model != DefaultModel || s.EstimatedCostUSD == nil {
		t.Fatalf("summary = %+v, want default model with cost attached", s)
	}

	// Unknown model without an override omits cost entirely.
	s = SummarizeWithCost(map[string]any{"model": "mystery-model"}, nil)
	if s.EstimatedCostUSD != nil || s.Model != "" {
		t.Fatalf("summary = %+v, want cost omitted for unknown model", s)
	}

	// An override makes any model priceable.
	s = SummarizeWithCost(map[string]any{
		"model":     "mystery-model",
		"tokens_in": float64(1000),
	}, &Pricing{InputPer1K: 0.01})
	if s.Model != "mystery-model" || s.EstimatedCostUSD == nil || *s.EstimatedCostUSD != 0.01 {
		t.Fatalf("summary = %+v, want overridden cost 0.01", s)
	}
}
