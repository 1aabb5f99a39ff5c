package ir

// RoutingProfile names a preset bundle of adaptive knob values.
type RoutingProfile string

const (
	ProfileLatency     RoutingProfile = "latency"
	ProfileCost        RoutingProfile = "cost"
	ProfileReliability RoutingProfile = "reliability"
	ProfileBalanced    RoutingProfile = "balanced"
)

// Adaptive holds the escalation routing knobs. Every knob is optional in the
// document; Resolved fills the unset ones from the profile table and then the
// base defaults, so set-vs-absent must stay observable here (hence the
// pointer fields).
//
// The self-consistency knobs are configuration only and drive no runtime
// behavior yet.
type Adaptive struct {
	RoutingProfile                    RoutingProfile     `json:"routing_profile,omitempty"`
	MinConfidenceToStop               *float64           `json:"min_confidence_to_stop,omitempty"`
	MinVoiToEscalate                  *float64           `json:"min_voi_to_escalate,omitempty"`
	MaxEscalations                    *int               `json:"max_escalations,omitempty"`
	EscalationOrder                   []string           `json:"escalation_order,omitempty"`
	StageCosts                        map[string]float64 `json:"stage_costs,omitempty"`
	UseVoi                            *bool              `json:"use_voi,omitempty"`
	EnableGateRetrieval               *bool              `json:"enable_gate_retrieval,omitempty"`
	RetrievalStrategy                 string             `json:"retrieval_strategy,omitempty"`
	RetrievalTTLSeconds               *int               `json:"retrieval_ttl_seconds,omitempty"`
	RetrievalMaxEntries               *int               `json:"retrieval_max_entries,omitempty"`
	SelfConsistencySamples            *int               `json:"self_consistency_samples,omitempty"`
	SelfConsistencyEnabled            *bool              `json:"self_consistency_enabled,omitempty"`
	SelfConsistencyMaxTokens          *int               `json:"self_consistency_max_tokens,omitempty"`
	SelfConsistencyMinNextCost        *float64           `json:"self_consistency_min_next_cost,omitempty"`
	SelfConsistencyMinRemainingBudget *float64           `json:"self_consistency_min_remaining_budget,omitempty"`
}

// ResolvedAdaptive is the concrete-valued configuration the escalation
// controller consumes.
type ResolvedAdaptive struct {
	Profile                           RoutingProfile
	MinConfidenceToStop               float64
	MinVoiToEscalate                  float64
	MaxEscalations                    int
	EscalationOrder                   []string
	StageCosts                        map[string]float64
	UseVoi                            bool
	EnableGateRetrieval               bool
	RetrievalStrategy                 string
	RetrievalTTLSeconds               int
	RetrievalMaxEntries               int
	SelfConsistencySamples            int
	SelfConsistencyEnabled            bool
	SelfConsistencyMaxTokens          int
	SelfConsistencyMinNextCost        float64
	SelfConsistencyMinRemainingBudget float64
}

// Per-profile overrides. A knob missing here falls through to the base
// defaults in Resolved.
var profileOverrides = map[RoutingProfile]Adaptive{
	ProfileLatency: {
		UseVoi:                 boolPtr(false),
		SelfConsistencyEnabled: boolPtr(false),
		MaxEscalations:         intPtr(0),
		MinConfidenceToStop:    floatPtr(0.75),
	},
	ProfileCost: {
		UseVoi:                   boolPtr(true),
		MinVoiToEscalate:         floatPtr(0.2),
		SelfConsistencyEnabled:   boolPtr(true),
		SelfConsistencySamples:   intPtr(2),
		SelfConsistencyMaxTokens: intPtr(64),
		MaxEscalations:           intPtr(2),
	},
	ProfileReliability: {
		UseVoi:                   boolPtr(true),
		MinVoiToEscalate:         floatPtr(0.1),
		SelfConsistencyEnabled:   boolPtr(true),
		SelfConsistencySamples:   intPtr(3),
		SelfConsistencyMaxTokens: intPtr(96),
		MaxEscalations:           intPtr(2),
		MinConfidenceToStop:      floatPtr(0.9),
	},
	ProfileBalanced: {
		UseVoi:                   boolPtr(true),
		MinVoiToEscalate:         floatPtr(0.2),
		SelfConsistencyEnabled:   boolPtr(true),
		SelfConsistencySamples:   intPtr(2),
		SelfConsistencyMaxTokens: intPtr(64),
		MaxEscalations:           intPtr(2),
	},
}

// Resolved materializes the configuration: explicitly set knobs win, then the
// profile's overrides, then the base defaults. Safe on a nil receiver, which
// yields the balanced profile's resolution.
func (a *Adaptive) Resolved() ResolvedAdaptive {
	src := a
	if src == nil {
		src = &Adaptive{}
	}
	profile := src.RoutingProfile
	if profile == "" {
		profile = ProfileBalanced
	}
	over := profileOverrides[profile]

	r := ResolvedAdaptive{
		Profile:                           profile,
		MinConfidenceToStop:               pickFloat(src.MinConfidenceToStop, over.MinConfidenceToStop, 0.85),
		MinVoiToEscalate:                  pickFloat(src.MinVoiToEscalate, over.MinVoiToEscalate, 0.2),
		MaxEscalations:                    pickInt(src.MaxEscalations, over.MaxEscalations, 2),
		UseVoi:                            pickBool(src.UseVoi, over.UseVoi, true),
		EnableGateRetrieval:               pickBool(src.EnableGateRetrieval, over.EnableGateRetrieval, false),
		RetrievalStrategy:                 src.RetrievalStrategy,
		RetrievalTTLSeconds:               pickInt(src.RetrievalTTLSeconds, over.RetrievalTTLSeconds, 600),
		RetrievalMaxEntries:               pickInt(src.RetrievalMaxEntries, over.RetrievalMaxEntries, 256),
		SelfConsistencySamples:            pickInt(src.SelfConsistencySamples, over.SelfConsistencySamples, 2),
		SelfConsistencyEnabled:            pickBool(src.SelfConsistencyEnabled, over.SelfConsistencyEnabled, true),
		SelfConsistencyMaxTokens:          pickInt(src.SelfConsistencyMaxTokens, over.SelfConsistencyMaxTokens, 64),
		SelfConsistencyMinNextCost:        pickFloat(src.SelfConsistencyMinNextCost, over.SelfConsistencyMinNextCost, 200),
		SelfConsistencyMinRemainingBudget: pickFloat(src.SelfConsistencyMinRemainingBudget, over.SelfConsistencyMinRemainingBudget, 500),
	}
	if r.RetrievalStrategy == "" {
		r.RetrievalStrategy = "exact"
	}

	if src.EscalationOrder != nil {
		r.EscalationOrder = append([]string(nil), src.EscalationOrder...)
	} else if over.EscalationOrder != nil {
		r.EscalationOrder = append([]string(nil), over.EscalationOrder...)
	} else {
		r.EscalationOrder = []string{"mini", "gate", "full"}
	}

	costs := src.StageCosts
	if costs == nil {
		costs = over.StageCosts
	}
	if costs == nil {
		costs = map[string]float64{"mini": 1, "gate": 3, "full": 10}
	}
	r.StageCosts = make(map[string]float64, len(costs))
	for k, v := range costs {
		r.StageCosts[k] = v
	}
	return r
}

// fill writes the resolved values back into any unset knob so normalized
// graphs serialize fully specified. Calling fill twice is a no-op.
func (a *Adaptive) fill() {
	r := a.Resolved()
	a.RoutingProfile = r.Profile
	if a.MinConfidenceToStop == nil {
		a.MinConfidenceToStop = &r.MinConfidenceToStop
	}
	if a.MinVoiToEscalate == nil {
		a.MinVoiToEscalate = &r.MinVoiToEscalate
	}
	if a.MaxEscalations == nil {
		a.MaxEscalations = &r.MaxEscalations
	}
	if a.EscalationOrder == nil {
		a.EscalationOrder = r.EscalationOrder
	}
	if a.StageCosts == nil {
		a.StageCosts = r.StageCosts
	}
	if a.UseVoi == nil {
		a.UseVoi = &r.UseVoi
	}
	if a.EnableGateRetrieval == nil {
		a.EnableGateRetrieval = &r.EnableGateRetrieval
	}
	if a.RetrievalStrategy == "" {
		a.RetrievalStrategy = r.RetrievalStrategy
	}
	if a.RetrievalTTLSeconds == nil {
		a.RetrievalTTLSeconds = &r.RetrievalTTLSeconds
	}
	if a.RetrievalMaxEntries == nil {
		a.RetrievalMaxEntries = &r.RetrievalMaxEntries
	}
	if a.SelfConsistencySamples == nil {
		a.SelfConsistencySamples = &r.SelfConsistencySamples
	}
	if a.SelfConsistencyEnabled == nil {
		a.SelfConsistencyEnabled = &r.SelfConsistencyEnabled
	}
	if a.SelfConsistencyMaxTokens == nil {
		a.SelfConsistencyMaxTokens = &r.SelfConsistencyMaxTokens
	}
	if a.SelfConsistencyMinNextCost == nil {
		a.SelfConsistencyMinNextCost = &r.SelfConsistencyMinNextCost
	}
	if a.SelfConsistencyMinRemainingBudget == nil {
		a.SelfConsistencyMinRemainingBudget = &r.SelfConsistencyMinRemainingBudget
	}
}

func (a Adaptive) clone() Adaptive {
	out := a
	out.MinConfidenceToStop = copyFloat(a.MinConfidenceToStop)
	out.MinVoiToEscalate = copyFloat(a.MinVoiToEscalate)
	out.MaxEscalations = copyInt(a.MaxEscalations)
	out.EscalationOrder = append([]string(nil), a.EscalationOrder...)
	if a.StageCosts != nil {
		out.StageCosts = make(map[string]float64, len(a.StageCosts))
		for k, v := range a.StageCosts {
			out.StageCosts[k] = v
		}
	}
	out.UseVoi = copyBool(a.UseVoi)
	out.EnableGateRetrieval = copyBool(a.EnableGateRetrieval)
	out.RetrievalTTLSeconds = copyInt(a.RetrievalTTLSeconds)
	out.RetrievalMaxEntries = copyInt(a.RetrievalMaxEntries)
	out.SelfConsistencySamples = copyInt(a.SelfConsistencySamples)
	out.SelfConsistencyEnabled = copyBool(a.SelfConsistencyEnabled)
	out.SelfConsistencyMaxTokens = copyInt(a.SelfConsistencyMaxTokens)
	out.SelfConsistencyMinNextCost = copyFloat(a.SelfConsistencyMinNextCost)
	out.SelfConsistencyMinRemainingBudget = copyFloat(a.SelfConsistencyMinRemainingBudget)
	return out
}

func pickFloat(set, prof *float64, base float64) float64 {
	if set != nil {
		return *set
	}
	if prof != nil {
		return *prof
	}
	return base
}

func pickInt(set, prof *int, base int) int {
	if set != nil {
		return *set
	}
	if prof != nil {
		return *prof
	}
	return base
}

func pickBool(set, prof *bool, base bool) bool {
	if set != nil {
		return *set
	}
	if prof != nil {
		return *prof
	}
	return base
}

func boolPtr(v bool) *bool        { return &v }
func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func copyBool(p *bool) *bool {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
