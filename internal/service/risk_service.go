// Package service orchestrates the estimation components behind the HTTP
// surface: posterior updates, the estimator registry, disproportionality
// screening and mitigation combination.
package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/cart-safety-engine/internal/domain"
	"github.com/cart-safety-engine/internal/evidence"
	"github.com/cart-safety-engine/internal/mitigation"
	"github.com/cart-safety-engine/internal/registry"
	"github.com/cart-safety-engine/internal/signal"
)

// RiskService is the single entry point for risk estimation operations.
// Every estimate it returns carries the clinical configuration version it
// was computed under.
type RiskService struct {
	engine   *evidence.Engine
	registry *registry.Registry
	detector *signal.Detector
	combiner *mitigation.Combiner
	clinical domain.ClinicalConfig
	analysis domain.AnalysisConfig
	logger   *logrus.Logger
}

// NewRiskService wires the estimation components together.
func NewRiskService(
	engine *evidence.Engine,
	reg *registry.Registry,
	detector *signal.Detector,
	combiner *mitigation.Combiner,
	clinical domain.ClinicalConfig,
	analysis domain.AnalysisConfig,
	logger *logrus.Logger,
) *RiskService {
	return &RiskService{
		engine:   engine,
		registry: reg,
		detector: detector,
		combiner: combiner,
		clinical: clinical,
		analysis: analysis,
		logger:   logger,
	}
}

// EstimateRequest selects an estimator and carries its inputs.
type EstimateRequest struct {
	Method       domain.EstimatorMethod  `json:"method"`
	EventType    domain.AdverseEventType `json:"adverse_event_type"`
	Observations []domain.Observation    `json:"observations"`
	Level        float64                 `json:"level,omitempty"`
	// Horizon is the future cohort size for the predictive method.
	Horizon int `json:"horizon,omitempty"`
	// ShrinkageWeight optionally overrides the empirical-Bayes weight.
	ShrinkageWeight *float64 `json:"shrinkage_weight,omitempty"`
	// OnsetTimes and OnsetHorizonDays feed the time-to-onset method.
	OnsetTimes       []domain.TimeToOnset `json:"onset_times,omitempty"`
	OnsetHorizonDays float64              `json:"onset_horizon_days,omitempty"`
}

// EstimateRisk dispatches to the named estimator with the versioned prior
// for the event type.
func (s *RiskService) EstimateRisk(req EstimateRequest) (*domain.Estimate, error) {
	prior, err := s.clinical.PriorFor(req.EventType)
	if err != nil && requiresPrior(req.Method) {
		return nil, err
	}
	level, err := s.level(req.Level)
	if err != nil {
		return nil, err
	}

	opts := registry.Options{
		Level:               level,
		Prior:               prior,
		Horizon:             req.Horizon,
		ShrinkageWeight:     req.ShrinkageWeight,
		OnsetTimes:          req.OnsetTimes,
		OnsetHorizonDays:    req.OnsetHorizonDays,
		HeterogeneityPolicy: s.analysis.HeterogeneityPolicy,
		HeterogeneityI2Max:  s.analysis.HeterogeneityI2Max,
	}

	estimate, err := s.registry.Estimate(req.Method, req.Observations, req.EventType, opts)
	if err != nil {
		return nil, err
	}
	s.stamp(&estimate.Diagnostics)
	return estimate, nil
}

// AccrualRequest carries a cumulative enrolment sequence.
type AccrualRequest struct {
	EventType domain.AdverseEventType    `json:"adverse_event_type"`
	Points    []evidence.CumulativePoint `json:"points"`
	// Horizon adds a forward projection for this many further patients.
	Horizon int     `json:"horizon,omitempty"`
	Level   float64 `json:"level,omitempty"`
}

// EvidenceAccrual tracks the posterior across an enrolment sequence,
// optionally projecting it forward.
func (s *RiskService) EvidenceAccrual(req AccrualRequest) ([]domain.AccrualPoint, error) {
	prior, err := s.clinical.PriorFor(req.EventType)
	if err != nil {
		return nil, err
	}
	level, err := s.level(req.Level)
	if err != nil {
		return nil, err
	}
	return s.engine.Accrual(prior, req.Points, req.Horizon, level)
}

// BoundaryRequest parameterizes a Bayesian stopping boundary.
type BoundaryRequest struct {
	EventType     domain.AdverseEventType `json:"adverse_event_type"`
	MaxN          int                     `json:"max_n"`
	RateThreshold float64                 `json:"rate_threshold"`
	ProbCap       float64                 `json:"prob_cap"`
}

// StoppingBoundary tabulates, per enrolment count, the maximum event count
// that keeps the posterior exceedance probability under the cap.
func (s *RiskService) StoppingBoundary(req BoundaryRequest) ([]domain.BoundaryStep, error) {
	prior, err := s.clinical.PriorFor(req.EventType)
	if err != nil {
		return nil, err
	}
	return s.engine.StoppingBoundary(prior, req.MaxN, req.RateThreshold, req.ProbCap)
}

// DetectSignal screens one product-reaction pair against the spontaneous
// report database.
func (s *RiskService) DetectSignal(ctx context.Context, req signal.DetectRequest) (*domain.SignalResult, error) {
	result, err := s.detector.Detect(ctx, req)
	if err != nil {
		return nil, err
	}
	s.stamp(&result.Diagnostics)
	return result, nil
}

// CalibrateDetector fits the shrinkage prior over a surveillance panel.
func (s *RiskService) CalibrateDetector(ctx context.Context, panel []signal.DrugEventPair) error {
	return s.detector.Calibrate(ctx, panel)
}

// CombineRequest names the strategies to fold against one event, with the
// trial counts the baseline posterior is updated from.
type CombineRequest struct {
	StrategyIDs []string                `json:"strategy_ids"`
	EventType   domain.AdverseEventType `json:"adverse_event_type"`
	Events      int                     `json:"events"`
	N           int                     `json:"n"`
	Level       float64                 `json:"level,omitempty"`
	Seed        *uint64                 `json:"seed,omitempty"`
}

// CombineMitigations folds the named strategies' relative risks into a
// residual risk against the baseline posterior for the event type.
func (s *RiskService) CombineMitigations(req CombineRequest) (*domain.CombinedMitigation, error) {
	prior, err := s.clinical.PriorFor(req.EventType)
	if err != nil {
		return nil, err
	}
	baseline, err := s.engine.Update(prior, req.Events, req.N)
	if err != nil {
		return nil, err
	}
	level, err := s.level(req.Level)
	if err != nil {
		return nil, err
	}

	result, err := s.combiner.Combine(mitigation.Request{
		StrategyIDs: req.StrategyIDs,
		EventType:   req.EventType,
		Baseline:    baseline,
		Level:       level,
		Seed:        req.Seed,
	})
	if err != nil {
		return nil, err
	}
	s.stamp(&result.Diagnostics)
	return result, nil
}

// Methods lists the registered estimator methods.
func (s *RiskService) Methods() []domain.EstimatorMethod {
	return s.registry.Methods()
}

// ConfigVersion returns the clinical configuration version in force.
func (s *RiskService) ConfigVersion() string {
	return s.clinical.Version()
}

// level resolves the requested credible level. Zero means unset and falls
// back to the configured default; anything else outside (0,1) is rejected
// rather than substituted.
func (s *RiskService) level(requested float64) (float64, error) {
	if requested == 0 {
		return s.analysis.CredibleLevel, nil
	}
	if requested <= 0 || requested >= 1 {
		return 0, domain.NewValidationError("level", "credible level must be in (0,1)", requested)
	}
	return requested, nil
}

// stamp records the clinical configuration version on a result's
// diagnostics so any estimate can be traced to the inputs that shaped it.
func (s *RiskService) stamp(d *domain.Diagnostics) {
	if d.Inputs == nil {
		d.Inputs = make(map[string]string)
	}
	d.Inputs["config_version"] = s.clinical.Version()
}

// requiresPrior reports whether a method needs a configured prior at all.
// The frequentist methods run without one.
func requiresPrior(method domain.EstimatorMethod) bool {
	switch method {
	case domain.METHOD_BETA_BINOMIAL, domain.METHOD_PREDICTIVE:
		return true
	default:
		return false
	}
}
