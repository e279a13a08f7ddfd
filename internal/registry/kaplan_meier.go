package registry

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cart-safety-engine/internal/domain"
)

// kaplanMeierEstimator computes the product-limit estimate of adverse event
// onset probability by a horizon, with right-censoring. At-risk counts are
// maintained incrementally while walking the sorted records once, not
// rescanned per event time.
type kaplanMeierEstimator struct{}

func (e *kaplanMeierEstimator) Method() domain.EstimatorMethod {
	return domain.METHOD_KAPLAN_MEIER
}

func (e *kaplanMeierEstimator) Estimate(obs []domain.Observation, eventType domain.AdverseEventType, opts Options) (*domain.Estimate, error) {
	times := opts.OnsetTimes
	if len(times) == 0 {
		return nil, domain.NewValidationError("onset_times", "kaplan_meier requires time-to-onset records", nil)
	}
	horizon := opts.OnsetHorizonDays
	if horizon <= 0 {
		return nil, domain.NewValidationError("onset_horizon_days", "onset horizon must be positive", horizon)
	}
	for _, rec := range times {
		if rec.Days < 0 {
			return nil, domain.NewValidationError("onset_times", "onset time cannot be negative", rec.Days)
		}
	}

	sorted := make([]domain.TimeToOnset, len(times))
	copy(sorted, times)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Days != sorted[j].Days {
			return sorted[i].Days < sorted[j].Days
		}
		// Events precede censorings at tied times.
		return sorted[i].Observed && !sorted[j].Observed
	})

	survival := 1.0
	// Greenwood accumulator: sum of d / (r (r - d)) over event times.
	var greenwood float64
	atRisk := len(sorted)
	events := 0

	i := 0
	for i < len(sorted) && sorted[i].Days <= horizon {
		t := sorted[i].Days
		d, c := 0, 0
		for i < len(sorted) && sorted[i].Days == t {
			if sorted[i].Observed {
				d++
			} else {
				c++
			}
			i++
		}
		if d > 0 && atRisk > 0 {
			survival *= 1 - float64(d)/float64(atRisk)
			if atRisk > d {
				greenwood += float64(d) / (float64(atRisk) * float64(atRisk-d))
			}
			events += d
		}
		atRisk -= d + c
	}

	point := 1 - survival // cumulative onset probability by the horizon

	lower, upper := loglogInterval(survival, greenwood, opts.Level)

	diag := domain.Diagnostics{
		Inputs: map[string]string{
			"subjects":     fmt.Sprintf("%d", len(times)),
			"onset_events": fmt.Sprintf("%d", events),
			"horizon_days": fmt.Sprintf("%.1f", horizon),
		},
	}
	if events == 0 {
		diag.AddWarning("no onset events before the horizon; estimate is zero with a degenerate interval")
	}

	return &domain.Estimate{
		Point:       point,
		Lower:       lower,
		Upper:       upper,
		Diagnostics: diag,
	}, nil
}

// loglogInterval converts a Greenwood variance into a complementary
// log-log interval for the cumulative incidence, which stays inside [0,1]
// without clipping. Returns the interval on the incidence scale.
func loglogInterval(survival, greenwood, level float64) (float64, float64) {
	if survival <= 0 {
		return 0, 1
	}
	if survival >= 1 || greenwood == 0 {
		return 0, 0
	}
	z := distuv.UnitNormal.Quantile(1 - (1-level)/2)
	logS := math.Log(survival)
	se := math.Sqrt(greenwood) / math.Abs(logS)
	// Bounds on the survival scale via S^exp(±z se).
	sLow := math.Pow(survival, math.Exp(z*se))
	sHigh := math.Pow(survival, math.Exp(-z*se))
	return 1 - sHigh, 1 - sLow
}
