package telemetry

import "math"

// DefaultModel is assumed when a report does not name the model it ran on.
const DefaultModel = "gpt-4o-mini"

// Pricing holds per-1k-token rates in USD for one model.
type Pricing struct {
	InputPer1K  float64 `json:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k"`
}

// ModelPricing is the built-in rate table.
var ModelPricing = map[string]Pricing{
	"gpt-4o-mini": {InputPer1K: 0.00015, OutputPer1K: 0.0006},
}

// Savings compares a direct single-call spend against a graph run spend.
type Savings struct {
	DirectCostUSD  float64 `json:"direct_cost_usd"`
	KoraCostUSD    float64 `json:"kora_cost_usd"`
	SavingsUSD     float64 `json:"savings_usd"`
	SavingsPercent float64 `json:"savings_percent"`
}

// EstimateCost prices a token count against the built-in table, or against
// override when non-nil. Unknown models without an override price at zero.
// Negative token counts clamp to zero; the result is rounded to 8 decimals.
func EstimateCost(model string, tokensIn, tokensOut int, override *Pricing) float64 {
	p := ModelPricing[model]
	if override != nil {
		p = *override
	}
	cost := float64(max(tokensIn, 0))/1000*p.InputPer1K +
		float64(max(tokensOut, 0))/1000*p.OutputPer1K
	return roundTo(cost, 8)
}

// ResolvePricing merges per-direction rate overrides over the model table.
// ok reports whether any rate source existed: a known model or at least one
// override. Callers omit cost entirely when ok is false rather than report a
// spurious zero.
func ResolvePricing(model string, priceInput, priceOutput *float64) (p Pricing, ok bool) {
	p, known := ModelPricing[model]
	if priceInput != nil {
		p.InputPer1K = *priceInput
	}
	if priceOutput != nil {
		p.OutputPer1K = *priceOutput
	}
	return p, known || priceInput != nil || priceOutput != nil
}

// ComputeSavings reports the spend delta between a direct call and a graph
// run. Percent is zero when the direct cost is not positive.
func ComputeSavings(direct, kora float64) Savings {
	diff := direct - kora
	percent := 0.0
	if direct > 0 {
		percent = diff / direct * 100
	}
	return Savings{
		DirectCostUSD:  roundTo(direct, 8),
		KoraCostUSD:    roundTo(kora, 8),
		SavingsUSD:     roundTo(diff, 8),
		SavingsPercent: roundTo(percent, 4),
	}
}

// SummarizeWithCost summarizes obj and attaches the estimated spend. The
// model comes from obj's "model" field, defaulting to DefaultModel. Cost is
// omitted when the model is unknown and no override was given.
func SummarizeWithCost(obj map[string]any, override *Pricing) Summary {
	s := Summarize(obj)
	model := DefaultModel
	if m := asString(obj["model"]); m != "" {
		model = m
	}
	if _, known := ModelPricing[model]; !known && override == nil {
		return s
	}
	cost := EstimateCost(model, s.TokensIn, s.TokensOut, override)
	s.EstimatedCostUSD = &cost
	s.Model = model
	return s
}

func roundTo(x float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(x*scale) / scale
}
