package evidence

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/cart-safety-engine/internal/domain"
)

// CumulativePoint is one entry of an ordered accrual sequence: cumulative
// event and patient counts at a timepoint.
type CumulativePoint struct {
	Timepoint int
	Events    int
	N         int
}

// Accrual produces, for each cumulative timepoint, the posterior mean and
// credible interval under the given prior. When horizon > 0 one additional
// projected point is appended for a future cohort of that size, computed
// from the same prior and the most recent cumulative counts, never from a
// re-estimated prior. The projection is labeled distinct from observed
// timepoints.
func (e *Engine) Accrual(prior domain.Prior, points []CumulativePoint, horizon int, level float64) ([]domain.AccrualPoint, error) {
	if err := prior.Validate(); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, domain.NewValidationError("observations", "accrual requires at least one timepoint", nil)
	}
	if horizon < 0 {
		return nil, domain.NewValidationError("projection_horizon", "projection horizon cannot be negative", horizon)
	}

	out := make([]domain.AccrualPoint, 0, len(points)+1)
	prevEvents, prevN := -1, -1
	for _, p := range points {
		if p.Events < prevEvents || p.N < prevN {
			return nil, domain.NewDataInconsistencyError(
				"cumulative counts decreased across the accrual sequence")
		}
		prevEvents, prevN = p.Events, p.N

		post, err := e.Update(prior, p.Events, p.N)
		if err != nil {
			return nil, err
		}
		if err := e.CredibleInterval(post, level); err != nil {
			return nil, err
		}
		out = append(out, domain.AccrualPoint{
			Timepoint:        p.Timepoint,
			CumulativeEvents: p.Events,
			CumulativeN:      p.N,
			Mean:             post.Mean,
			Lower:            post.Lower,
			Upper:            post.Upper,
			Width:            post.Upper - post.Lower,
			Projected:        false,
		})
	}

	if horizon > 0 {
		last := points[len(points)-1]
		current, err := e.Update(prior, last.Events, last.N)
		if err != nil {
			return nil, err
		}
		// Project additional events at the current posterior mean rate.
		projEvents := last.Events + int(math.Round(current.Mean*float64(horizon)))
		projN := last.N + horizon

		post, err := e.Update(prior, projEvents, projN)
		if err != nil {
			return nil, err
		}
		if err := e.CredibleInterval(post, level); err != nil {
			return nil, err
		}
		out = append(out, domain.AccrualPoint{
			Timepoint:        last.Timepoint + 1,
			CumulativeEvents: projEvents,
			CumulativeN:      projN,
			Mean:             post.Mean,
			Lower:            post.Lower,
			Upper:            post.Upper,
			Width:            post.Upper - post.Lower,
			Projected:        true,
		})

		e.logger.WithFields(logrus.Fields{
			"horizon":     horizon,
			"projected_n": projN,
		}).Debug("Appended forward projection to accrual sequence")
	}

	return out, nil
}
