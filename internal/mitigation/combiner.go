// Package mitigation combines the relative-risk effects of concurrent
// interventions against one adverse event, with explicit handling of
// mechanistic overlap between strategies.
package mitigation

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cart-safety-engine/internal/domain"
)

// Options tunes the combiner.
type Options struct {
	// Samples is the Monte Carlo sample count for the residual-risk interval.
	Samples int
	// DefaultLevel is used when a request does not name a credible level.
	DefaultLevel float64
}

// Combiner resolves mitigation strategies from the clinical configuration
// and folds their relative risks into a residual-risk estimate.
type Combiner struct {
	cfg    domain.ClinicalConfig
	logger *logrus.Logger
	opts   Options
}

// NewCombiner creates a combiner over the given clinical configuration.
func NewCombiner(cfg domain.ClinicalConfig, logger *logrus.Logger, opts Options) *Combiner {
	if opts.Samples <= 0 {
		opts.Samples = 10000
	}
	if opts.DefaultLevel <= 0 || opts.DefaultLevel >= 1 {
		opts.DefaultLevel = 0.95
	}
	return &Combiner{cfg: cfg, logger: logger, opts: opts}
}

// Request names the strategies to combine against one adverse event, with
// the baseline posterior the residual risk is computed from.
type Request struct {
	StrategyIDs []string
	EventType   domain.AdverseEventType
	Baseline    *domain.Posterior
	Level       float64
	// Seed fixes the Monte Carlo stream; when nil a clock-derived seed is
	// used and recorded in diagnostics either way.
	Seed *uint64
}

// foldStep is one resolved combination step, reused by the Monte Carlo
// sampler so the sampled fold matches the point fold exactly.
type foldStep struct {
	partner            string
	rho                float64
	assumedIndependent bool
}

// Combine folds the named strategies against the target event. Strategies
// combine pairwise in lexical ID order: each new strategy joins the running
// product through a geometric interpolation between independence and full
// mechanistic overlap with its most correlated predecessor.
func (c *Combiner) Combine(req Request) (*domain.CombinedMitigation, error) {
	if !req.EventType.Valid() {
		return nil, domain.NewValidationError("event_type", "unknown adverse event type", string(req.EventType))
	}
	if req.Baseline == nil || req.Baseline.AlphaPost <= 0 || req.Baseline.BetaPost <= 0 {
		return nil, domain.NewValidationError("baseline", "a baseline posterior with positive parameters is required", req.Baseline)
	}
	if len(req.StrategyIDs) == 0 {
		return nil, domain.NewValidationError("strategy_ids", "at least one strategy is required", req.StrategyIDs)
	}
	level := req.Level
	if level == 0 {
		level = c.opts.DefaultLevel
	}
	if level <= 0 || level >= 1 {
		return nil, domain.NewValidationError("level", "credible level must be in (0, 1)", level)
	}

	strategies, err := c.resolve(req.StrategyIDs, req.EventType)
	if err != nil {
		return nil, err
	}

	result := &domain.CombinedMitigation{
		TargetEvent:  req.EventType,
		BaselineMean: req.Baseline.Mean,
		Level:        level,
		Diagnostics: domain.Diagnostics{
			Method: "mitigation_combiner",
			Inputs: map[string]string{
				"strategies":     strings.Join(idsOf(strategies), ","),
				"samples":        fmt.Sprintf("%d", c.opts.Samples),
				"config_version": c.cfg.Version(),
			},
			GeneratedAt: time.Now().UTC(),
		},
	}

	combined, steps := c.fold(strategies, result)
	result.CombinedRR = combined
	result.ResidualRisk = math.Min(1, req.Baseline.Mean*combined)

	for _, s := range strategies {
		if s.UncertainBenefit() {
			result.UncertainBenefit = append(result.UncertainBenefit, s.ID)
			result.Diagnostics.AddWarning(fmt.Sprintf(
				"strategy %s has an interval spanning RR 1.0; a risk increase is not excluded", s.ID))
		}
	}

	lower, upper, seed := c.residualInterval(req.Baseline, strategies, steps, level, req.Seed)
	result.Lower = lower
	result.Upper = upper
	result.Diagnostics.Seed = &seed

	c.logger.WithFields(logrus.Fields{
		"event":       req.EventType,
		"strategies":  len(strategies),
		"combined_rr": result.CombinedRR,
		"residual":    result.ResidualRisk,
	}).Info("Combined mitigation strategies")

	return result, nil
}

// resolve looks up, validates and orders the requested strategies.
func (c *Combiner) resolve(ids []string, event domain.AdverseEventType) ([]domain.MitigationStrategy, error) {
	seen := make(map[string]bool, len(ids))
	strategies := make([]domain.MitigationStrategy, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, domain.NewValidationError("strategy_ids", "duplicate strategy", id)
		}
		seen[id] = true

		s, err := c.cfg.Strategy(id)
		if err != nil {
			return nil, err
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if !s.Targets(event) {
			return nil, domain.NewValidationError("strategy_ids",
				fmt.Sprintf("strategy %s does not target %s", id, event), id)
		}
		strategies = append(strategies, s)
	}

	// Lexical order makes the fold deterministic regardless of request order.
	sort.Slice(strategies, func(i, j int) bool { return strategies[i].ID < strategies[j].ID })
	return strategies, nil
}

// fold combines the strategies' point relative risks, recording one
// correction entry per joining strategy.
func (c *Combiner) fold(strategies []domain.MitigationStrategy, result *domain.CombinedMitigation) (float64, []foldStep) {
	combined := strategies[0].RelativeRisk
	steps := make([]foldStep, 0, len(strategies)-1)

	for i := 1; i < len(strategies); i++ {
		s := strategies[i]
		step := c.correlationFor(strategies[:i], s)
		combined = interpolate(combined, s.RelativeRisk, step.rho)
		steps = append(steps, step)

		result.PairDetail = append(result.PairDetail, domain.PairCorrection{
			StrategyA:          step.partner,
			StrategyB:          s.ID,
			Rho:                step.rho,
			AssumedIndependent: step.assumedIndependent,
			CombinedRR:         combined,
		})
		if step.assumedIndependent {
			result.Diagnostics.AddWarning(fmt.Sprintf(
				"no correlation configured for %s and %s despite a shared pathway; assumed independent",
				step.partner, s.ID))
		}
	}
	return combined, steps
}

// correlationFor picks the strongest configured correlation between the
// joining strategy and any already folded one. Without a configured value
// the pair is treated as independent, flagged when a shared mechanistic
// pathway suggests the assumption is optimistic.
func (c *Combiner) correlationFor(prior []domain.MitigationStrategy, s domain.MitigationStrategy) foldStep {
	step := foldStep{partner: prior[0].ID}
	found := false
	for _, p := range prior {
		if rho, explicit := c.cfg.Correlation(p.ID, s.ID); explicit && (!found || rho > step.rho) {
			step.partner = p.ID
			step.rho = rho
			found = true
		}
	}
	if found {
		return step
	}
	for _, p := range prior {
		if p.MechanisticPathway != "" && p.MechanisticPathway == s.MechanisticPathway {
			step.partner = p.ID
			step.assumedIndependent = true
			break
		}
	}
	return step
}

// interpolate blends the independent product and the fully overlapping
// floor. At rho 0 the effects multiply; at rho 1 only the stronger of the
// two reductions counts.
func interpolate(a, b, rho float64) float64 {
	if rho <= 0 {
		return a * b
	}
	if rho >= 1 {
		return math.Min(a, b)
	}
	return math.Pow(a*b, 1-rho) * math.Pow(math.Min(a, b), rho)
}

func idsOf(strategies []domain.MitigationStrategy) []string {
	ids := make([]string, len(strategies))
	for i, s := range strategies {
		ids[i] = s.ID
	}
	return ids
}
