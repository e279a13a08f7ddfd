package registry

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cart-safety-engine/internal/domain"
)

// clopperPearsonEstimator computes the exact binomial interval. Exact
// coverage makes it the appropriate choice for regulatory reporting.
type clopperPearsonEstimator struct{}

func (e *clopperPearsonEstimator) Method() domain.EstimatorMethod {
	return domain.METHOD_CLOPPER_PEARSON
}

func (e *clopperPearsonEstimator) Estimate(obs []domain.Observation, eventType domain.AdverseEventType, opts Options) (*domain.Estimate, error) {
	if len(obs) == 0 {
		return nil, domain.NewValidationError("observations", "at least one observation is required", nil)
	}
	events, n := pool(obs)
	tail := (1 - opts.Level) / 2

	x, nn := float64(events), float64(n)
	var lower, upper float64
	if events == 0 {
		lower = 0
	} else {
		lower = distuv.Beta{Alpha: x, Beta: nn - x + 1}.Quantile(tail)
	}
	if events == n {
		upper = 1
	} else {
		upper = distuv.Beta{Alpha: x + 1, Beta: nn - x}.Quantile(1 - tail)
	}

	return &domain.Estimate{
		Point: x / nn,
		Lower: lower,
		Upper: upper,
		Diagnostics: domain.Diagnostics{
			Inputs: baseInputs(events, n, len(obs)),
		},
	}, nil
}

// wilsonEstimator computes the Wilson score interval, which behaves better
// than the Wald interval at small n or rates near 0 and 1.
type wilsonEstimator struct{}

func (e *wilsonEstimator) Method() domain.EstimatorMethod {
	return domain.METHOD_WILSON
}

func (e *wilsonEstimator) Estimate(obs []domain.Observation, eventType domain.AdverseEventType, opts Options) (*domain.Estimate, error) {
	if len(obs) == 0 {
		return nil, domain.NewValidationError("observations", "at least one observation is required", nil)
	}
	events, n := pool(obs)

	z := distuv.UnitNormal.Quantile(1 - (1-opts.Level)/2)
	p := float64(events) / float64(n)
	nn := float64(n)
	z2 := z * z

	denom := 1 + z2/nn
	center := (p + z2/(2*nn)) / denom
	margin := z * math.Sqrt(p*(1-p)/nn+z2/(4*nn*nn)) / denom

	return &domain.Estimate{
		Point: p,
		Lower: math.Max(0, center-margin),
		Upper: math.Min(1, center+margin),
		Diagnostics: domain.Diagnostics{
			Inputs: baseInputs(events, n, len(obs)),
		},
	}, nil
}
