package evidence

import (
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cart-safety-engine/internal/domain"
)

// StoppingBoundary computes, for each sample size 1..maxN, the maximum
// cumulative event count whose posterior keeps P(true rate > rateThreshold)
// at or below probCap. The boundary is a monotone non-decreasing step
// function of n; a step of -1 means even zero events breach the cap at that
// sample size.
func (e *Engine) StoppingBoundary(prior domain.Prior, maxN int, rateThreshold, probCap float64) ([]domain.BoundaryStep, error) {
	if err := prior.Validate(); err != nil {
		return nil, err
	}
	if maxN <= 0 {
		return nil, domain.NewValidationError("max_n", "maximum sample size must be positive", maxN)
	}
	if rateThreshold <= 0 || rateThreshold >= 1 {
		return nil, domain.NewValidationError("rate_threshold", "clinical rate threshold must be in (0,1)", rateThreshold)
	}
	if probCap <= 0 || probCap >= 1 {
		return nil, domain.NewValidationError("probability_threshold", "posterior probability cap must be in (0,1)", probCap)
	}

	steps := make([]domain.BoundaryStep, 0, maxN)
	prev := 0
	for n := 1; n <= maxN; n++ {
		// The boundary never decreases with n, so resume the scan from the
		// previous step instead of restarting at zero.
		boundary := -1
		for events := prev; events <= n; events++ {
			if exceedProbability(prior, events, n, rateThreshold) <= probCap {
				boundary = events
			} else {
				break
			}
		}
		steps = append(steps, domain.BoundaryStep{N: n, MaxEvents: boundary})
		if boundary > prev {
			prev = boundary
		}
	}
	return steps, nil
}

// exceedProbability returns P(p > threshold) under the posterior
// Beta(alpha+events, beta+n-events).
func exceedProbability(prior domain.Prior, events, n int, threshold float64) float64 {
	dist := distuv.Beta{
		Alpha: prior.Alpha + float64(events),
		Beta:  prior.Beta + float64(n-events),
	}
	return 1 - dist.CDF(threshold)
}
