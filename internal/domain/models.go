package domain

import (
	"time"
)

// Core Enums and Types

// AdverseEventType represents the cell-therapy adverse event categories
// tracked by the engine.
type AdverseEventType string

const (
	CRS    AdverseEventType = "CRS"
	ICANS  AdverseEventType = "ICANS"
	HLH    AdverseEventType = "HLH"
	ICAHS  AdverseEventType = "ICAHS"
	LICATS AdverseEventType = "LICATS"
)

// KnownAdverseEventTypes lists every supported adverse event category.
var KnownAdverseEventTypes = []AdverseEventType{CRS, ICANS, HLH, ICAHS, LICATS}

// Valid reports whether the adverse event type is one of the supported categories.
func (t AdverseEventType) Valid() bool {
	switch t {
	case CRS, ICANS, HLH, ICAHS, LICATS:
		return true
	}
	return false
}

// EvidenceLevel grades the clinical evidence behind a mitigation strategy.
type EvidenceLevel string

const (
	EVIDENCE_STRONG   EvidenceLevel = "STRONG"
	EVIDENCE_MODERATE EvidenceLevel = "MODERATE"
	EVIDENCE_LIMITED  EvidenceLevel = "LIMITED"
)

// SignalTier represents the strength of a disproportionality signal.
type SignalTier string

const (
	SIGNAL_STRONG   SignalTier = "STRONG"
	SIGNAL_MODERATE SignalTier = "MODERATE"
	SIGNAL_WEAK     SignalTier = "WEAK"
	SIGNAL_NONE     SignalTier = "NONE"
	// SIGNAL_UNAVAILABLE marks a failed external query; it is never
	// conflated with a true zero-signal result.
	SIGNAL_UNAVAILABLE SignalTier = "UNAVAILABLE"
)

// EstimatorMethod identifies one of the registered point/interval estimators.
type EstimatorMethod string

const (
	METHOD_CLOPPER_PEARSON EstimatorMethod = "clopper_pearson"
	METHOD_WILSON          EstimatorMethod = "wilson"
	METHOD_RANDOM_EFFECTS  EstimatorMethod = "random_effects"
	METHOD_EB_SHRINKAGE    EstimatorMethod = "eb_shrinkage"
	METHOD_KAPLAN_MEIER    EstimatorMethod = "kaplan_meier"
	METHOD_PREDICTIVE      EstimatorMethod = "predictive"
	METHOD_BETA_BINOMIAL   EstimatorMethod = "beta_binomial"
)

// Core Data Models

// Observation is a count-based adverse event record for one study timepoint.
// Immutable once recorded; produced by the external ingestion feed.
type Observation struct {
	Events    int              `json:"events"`
	N         int              `json:"n"`
	EventType AdverseEventType `json:"adverse_event_type"`
	StudyID   string           `json:"study_id"`
	Timepoint int              `json:"timepoint"`
	Date      *time.Time       `json:"date,omitempty"`
}

// Validate checks the structural invariants of an observation.
func (o Observation) Validate() error {
	if o.N <= 0 {
		return NewValidationError("n", "patient count must be positive", o.N)
	}
	if o.Events < 0 {
		return NewValidationError("events", "event count cannot be negative", o.Events)
	}
	if o.Events > o.N {
		return NewValidationError("events", "event count cannot exceed patient count", o.Events)
	}
	if !o.EventType.Valid() {
		return NewValidationError("adverse_event_type", "unknown adverse event type", string(o.EventType))
	}
	return nil
}

// TimeToOnset is a per-patient onset record for time-to-event estimation.
type TimeToOnset struct {
	Days     float64 `json:"days"`
	Observed bool    `json:"observed"` // false means censored at Days
}

// Prior is a versioned Beta prior specification for one adverse event type.
// A prior is never edited in place; a change produces a new Version.
type Prior struct {
	Alpha      float64 `json:"alpha" mapstructure:"alpha"`
	Beta       float64 `json:"beta" mapstructure:"beta"`
	Provenance string  `json:"provenance" mapstructure:"provenance"`
	Version    string  `json:"version" mapstructure:"version"`
}

// EffectiveSampleSize returns the information content of the prior in
// pseudo-patient units.
func (p Prior) EffectiveSampleSize() float64 {
	return p.Alpha + p.Beta
}

// Mean returns the prior mean rate.
func (p Prior) Mean() float64 {
	return p.Alpha / (p.Alpha + p.Beta)
}

// Validate rejects non-positive prior parameters.
func (p Prior) Validate() error {
	if p.Alpha <= 0 {
		return NewValidationError("alpha", "prior alpha must be positive", p.Alpha)
	}
	if p.Beta <= 0 {
		return NewValidationError("beta", "prior beta must be positive", p.Beta)
	}
	return nil
}

// Posterior is the conjugate Beta posterior derived from a prior and
// cumulative observations. Recomputed on every query, never stored.
type Posterior struct {
	AlphaPost float64 `json:"alpha_post"`
	BetaPost  float64 `json:"beta_post"`
	Mean      float64 `json:"mean"`
	// Interval fields populated by CredibleInterval.
	Lower          float64 `json:"lower"`
	Upper          float64 `json:"upper"`
	Level          float64 `json:"level"`
	Approximate    bool    `json:"approximate"`
	IntervalMethod string  `json:"interval_method"`
	PriorVersion   string  `json:"prior_version,omitempty"`
}

// AccrualPoint is one entry in an evidence accrual sequence: the posterior
// summary at a cumulative enrolment point, or a forward projection.
type AccrualPoint struct {
	Timepoint        int     `json:"timepoint"`
	CumulativeEvents int     `json:"cumulative_events"`
	CumulativeN      int     `json:"cumulative_n"`
	Mean             float64 `json:"mean"`
	Lower            float64 `json:"lower"`
	Upper            float64 `json:"upper"`
	Width            float64 `json:"ci_width"`
	Projected        bool    `json:"is_projected"`
}

// BoundaryStep is one step of a Bayesian stopping boundary: the maximum
// tolerable cumulative event count at sample size N. MaxEvents is -1 when
// even zero events breach the posterior probability cap.
type BoundaryStep struct {
	N         int `json:"n"`
	MaxEvents int `json:"max_tolerable_events"`
}

// ContingencyTable is a 2x2 spontaneous-report table for one drug-event pair.
// A: drug and event, B: drug not event, C: event not drug, D: neither.
type ContingencyTable struct {
	A int `json:"a"`
	B int `json:"b"`
	C int `json:"c"`
	D int `json:"d"`
}

// Total returns the database size represented by the table.
func (t ContingencyTable) Total() int {
	return t.A + t.B + t.C + t.D
}

// Validate rejects tables with negative cells, which indicate inconsistent
// source counts rather than a sparse-data condition.
func (t ContingencyTable) Validate() error {
	if t.A < 0 || t.B < 0 || t.C < 0 || t.D < 0 {
		return NewDataInconsistencyError(
			"contingency table has a negative cell; source counts are inconsistent")
	}
	return nil
}

// MitigationStrategy describes one risk-mitigating intervention and the
// relative risk it confers on its target adverse events.
type MitigationStrategy struct {
	ID                 string             `json:"id" mapstructure:"id"`
	Name               string             `json:"name" mapstructure:"name"`
	RelativeRisk       float64            `json:"relative_risk" mapstructure:"relative_risk"`
	CILow              float64            `json:"ci_low" mapstructure:"ci_low"`
	CIHigh             float64            `json:"ci_high" mapstructure:"ci_high"`
	TargetEvents       []AdverseEventType `json:"target_adverse_events" mapstructure:"target_adverse_events"`
	EvidenceLevel      EvidenceLevel      `json:"evidence_level" mapstructure:"evidence_level"`
	MechanisticPathway string             `json:"mechanistic_pathway,omitempty" mapstructure:"mechanistic_pathway"`
}

// Targets reports whether the strategy targets the given adverse event type.
func (s MitigationStrategy) Targets(t AdverseEventType) bool {
	for _, target := range s.TargetEvents {
		if target == t {
			return true
		}
	}
	return false
}

// UncertainBenefit reports whether the strategy's RR confidence interval
// spans 1.0, meaning a risk increase is not excluded.
func (s MitigationStrategy) UncertainBenefit() bool {
	return s.CILow <= 1.0 && s.CIHigh >= 1.0
}

// Validate checks the RR and interval invariants.
func (s MitigationStrategy) Validate() error {
	if s.RelativeRisk <= 0 {
		return NewValidationError("relative_risk", "relative risk must be positive", s.RelativeRisk)
	}
	if s.CILow <= 0 || s.CIHigh <= 0 {
		return NewValidationError("confidence_interval", "interval bounds must be positive", []float64{s.CILow, s.CIHigh})
	}
	if s.CILow > s.RelativeRisk || s.RelativeRisk > s.CIHigh {
		return NewValidationError("confidence_interval", "interval must contain the point estimate", []float64{s.CILow, s.CIHigh})
	}
	return nil
}

// Estimate is the common output of every registered estimator.
type Estimate struct {
	Point       float64         `json:"point_estimate"`
	Lower       float64         `json:"lower"`
	Upper       float64         `json:"upper"`
	Level       float64         `json:"level"`
	Method      EstimatorMethod `json:"method_name"`
	Diagnostics Diagnostics     `json:"diagnostics"`
}

// Diagnostics makes every response self-describing: which method produced
// it, what inputs it consumed, and whether any approximation or fallback
// path was taken. Traceability is a hard requirement of the contract.
type Diagnostics struct {
	Method        string            `json:"method"`
	Inputs        map[string]string `json:"inputs,omitempty"`
	Approximation bool              `json:"approximation"`
	Fallbacks     []string          `json:"fallbacks,omitempty"`
	Warnings      []string          `json:"warnings,omitempty"`
	Seed          *uint64           `json:"seed,omitempty"`
	SourceFetched *time.Time        `json:"source_fetched_at,omitempty"`
	SourceCached  bool              `json:"source_cached"`
	Unavailable   bool              `json:"source_unavailable"`
	GeneratedAt   time.Time         `json:"generated_at"`
}

// AddWarning appends a human-readable degradation note.
func (d *Diagnostics) AddWarning(w string) {
	d.Warnings = append(d.Warnings, w)
}

// AddFallback records a degraded computation path and marks the result
// approximate.
func (d *Diagnostics) AddFallback(f string) {
	d.Fallbacks = append(d.Fallbacks, f)
	d.Approximation = true
}

// SignalResult is the output of a disproportionality screen for one
// drug-event pair.
type SignalResult struct {
	Drug        string           `json:"drug"`
	Event       string           `json:"event"`
	Table       ContingencyTable `json:"contingency"`
	PRR         float64          `json:"prr"`
	PRRLow      float64          `json:"prr_ci_low"`
	PRRHigh     float64          `json:"prr_ci_high"`
	ROR         float64          `json:"ror"`
	RORLow      float64          `json:"ror_ci_low"`
	RORHigh     float64          `json:"ror_ci_high"`
	EBGM        float64          `json:"ebgm"`
	EB05        float64          `json:"eb05"`
	Tier        SignalTier       `json:"tier"`
	Suppressed  bool             `json:"weber_suppressed"`
	Diagnostics Diagnostics      `json:"diagnostics"`
}

// PairCorrection records one pairwise combination step of the mitigation
// combiner, including the correlation applied and whether it was assumed.
type PairCorrection struct {
	StrategyA          string  `json:"strategy_a"`
	StrategyB          string  `json:"strategy_b"`
	Rho                float64 `json:"rho"`
	AssumedIndependent bool    `json:"assumed_independent"`
	CombinedRR         float64 `json:"combined_rr"`
}

// CombinedMitigation is the output of combining several concurrent
// interventions against one target adverse event.
type CombinedMitigation struct {
	TargetEvent      AdverseEventType `json:"target_adverse_event"`
	CombinedRR       float64          `json:"combined_rr"`
	BaselineMean     float64          `json:"baseline_mean"`
	ResidualRisk     float64          `json:"residual_risk"`
	Lower            float64          `json:"lower"`
	Upper            float64          `json:"upper"`
	Level            float64          `json:"level"`
	PairDetail       []PairCorrection `json:"per_pair_correction_detail"`
	UncertainBenefit []string         `json:"uncertain_benefit_flags,omitempty"`
	Diagnostics      Diagnostics      `json:"diagnostics"`
}
