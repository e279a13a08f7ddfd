package registry

import (
	"fmt"

	"github.com/cart-safety-engine/internal/domain"
	"github.com/cart-safety-engine/internal/evidence"
)

// betaBinomialEstimator delegates the conjugate posterior update and
// credible interval to the evidence engine.
type betaBinomialEstimator struct {
	engine *evidence.Engine
}

func (e *betaBinomialEstimator) Method() domain.EstimatorMethod {
	return domain.METHOD_BETA_BINOMIAL
}

func (e *betaBinomialEstimator) Estimate(obs []domain.Observation, eventType domain.AdverseEventType, opts Options) (*domain.Estimate, error) {
	if len(obs) == 0 {
		return nil, domain.NewValidationError("observations", "at least one observation is required", nil)
	}
	events, n := pool(obs)

	post, err := e.engine.Update(opts.Prior, events, n)
	if err != nil {
		return nil, err
	}
	if err := e.engine.CredibleInterval(post, opts.Level); err != nil {
		return nil, err
	}

	diag := domain.Diagnostics{
		Inputs: baseInputs(events, n, len(obs)),
	}
	diag.Inputs["prior_alpha"] = fmt.Sprintf("%.4f", opts.Prior.Alpha)
	diag.Inputs["prior_beta"] = fmt.Sprintf("%.4f", opts.Prior.Beta)
	diag.Inputs["prior_version"] = opts.Prior.Version
	if post.Approximate {
		diag.AddFallback(post.IntervalMethod)
	}

	return &domain.Estimate{
		Point:       post.Mean,
		Lower:       post.Lower,
		Upper:       post.Upper,
		Diagnostics: diag,
	}, nil
}

// predictiveEstimator summarises the Beta-Binomial predictive distribution
// for a future cohort as an event rate with a central interval.
type predictiveEstimator struct {
	engine *evidence.Engine
}

func (e *predictiveEstimator) Method() domain.EstimatorMethod {
	return domain.METHOD_PREDICTIVE
}

func (e *predictiveEstimator) Estimate(obs []domain.Observation, eventType domain.AdverseEventType, opts Options) (*domain.Estimate, error) {
	if len(obs) == 0 {
		return nil, domain.NewValidationError("observations", "at least one observation is required", nil)
	}
	if opts.Horizon <= 0 {
		return nil, domain.NewValidationError("horizon", "predictive estimation requires a positive future cohort size", opts.Horizon)
	}
	events, n := pool(obs)

	post, err := e.engine.Update(opts.Prior, events, n)
	if err != nil {
		return nil, err
	}
	mean, lowerK, upperK, err := e.engine.PredictiveSummary(post, opts.Horizon, opts.Level)
	if err != nil {
		return nil, err
	}

	m := float64(opts.Horizon)
	diag := domain.Diagnostics{
		Inputs: baseInputs(events, n, len(obs)),
	}
	diag.Inputs["future_cohort"] = fmt.Sprintf("%d", opts.Horizon)
	diag.Inputs["expected_events"] = fmt.Sprintf("%.3f", mean)
	diag.Inputs["prior_version"] = opts.Prior.Version

	return &domain.Estimate{
		Point:       mean / m,
		Lower:       float64(lowerK) / m,
		Upper:       float64(upperK) / m,
		Diagnostics: diag,
	}, nil
}
