package registry

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cart-safety-engine/internal/domain"
)

// shrinkageEstimator borrows strength across adverse event types by
// shrinking the target type's observed rate toward the cross-type grand
// mean. The shrinkage weight comes from a method-of-moments between-type
// variance estimate, or from an explicit manual override when the caller
// supplies one.
type shrinkageEstimator struct {
	logger *logrus.Logger
}

func (e *shrinkageEstimator) Method() domain.EstimatorMethod {
	return domain.METHOD_EB_SHRINKAGE
}

func (e *shrinkageEstimator) Estimate(obs []domain.Observation, eventType domain.AdverseEventType, opts Options) (*domain.Estimate, error) {
	if len(obs) == 0 {
		return nil, domain.NewValidationError("observations", "shrinkage requires observations", nil)
	}

	// Pool per event type; borrowing strength needs the other types too.
	type pooled struct{ events, n int }
	byType := make(map[domain.AdverseEventType]*pooled)
	for _, o := range obs {
		p, ok := byType[o.EventType]
		if !ok {
			p = &pooled{}
			byType[o.EventType] = p
		}
		p.events += o.Events
		p.n += o.N
	}

	target, ok := byType[eventType]
	if !ok {
		return nil, domain.NewValidationError("observations",
			fmt.Sprintf("no observations for target event type %s", eventType), nil)
	}

	targetRate := float64(target.events) / float64(target.n)
	targetSE2 := rateVariance(target.events, target.n)

	// Grand mean and between-type variance across all pooled types.
	var rates []float64
	var meanSE2 float64
	for _, p := range byType {
		rates = append(rates, float64(p.events)/float64(p.n))
		meanSE2 += rateVariance(p.events, p.n)
	}
	meanSE2 /= float64(len(rates))

	var grand float64
	for _, r := range rates {
		grand += r
	}
	grand /= float64(len(rates))

	var betweenVar float64
	if len(rates) > 1 {
		for _, r := range rates {
			betweenVar += (r - grand) * (r - grand)
		}
		betweenVar /= float64(len(rates) - 1)
		betweenVar = math.Max(0, betweenVar-meanSE2)
	}

	// Shrinkage weight toward the grand mean: 1 - tau2/(tau2+se2).
	var weight float64
	manual := false
	if opts.ShrinkageWeight != nil {
		weight = *opts.ShrinkageWeight
		manual = true
		if weight < 0 || weight > 1 {
			return nil, domain.NewValidationError("shrinkage_weight",
				"manual shrinkage weight must be in [0,1]", weight)
		}
	} else if betweenVar+targetSE2 > 0 {
		weight = targetSE2 / (betweenVar + targetSE2)
	} else {
		weight = 1
	}

	point := (1-weight)*targetRate + weight*grand

	// Interval on the logit scale so small shrunk rates keep positive bounds.
	se := math.Sqrt((1-weight)*targetSE2 + weight*weight*betweenVar/math.Max(1, float64(len(rates))))
	lower, upper := logitInterval(point, se, opts.Level)

	diag := domain.Diagnostics{
		Inputs: baseInputs(target.events, target.n, len(obs)),
	}
	diag.Inputs["event_types"] = fmt.Sprintf("%d", len(byType))
	diag.Inputs["shrinkage_weight"] = fmt.Sprintf("%.4f", weight)
	diag.Inputs["grand_mean"] = fmt.Sprintf("%.6f", grand)
	if manual {
		diag.AddWarning("shrinkage weight manually overridden by caller")
	}
	if len(byType) == 1 {
		diag.AddWarning("only one event type observed; no strength borrowed")
	}

	e.logger.WithFields(logrus.Fields{
		"event_type": eventType,
		"weight":     weight,
		"manual":     manual,
	}).Debug("Empirical-Bayes shrinkage applied")

	return &domain.Estimate{
		Point:       point,
		Lower:       lower,
		Upper:       upper,
		Diagnostics: diag,
	}, nil
}

func rateVariance(events, n int) float64 {
	// Small continuity stabilizer keeps the variance positive at 0 events.
	p := (float64(events) + 0.5) / (float64(n) + 1)
	return p * (1 - p) / float64(n)
}

// logitInterval builds a two-sided interval for a rate on the logit scale.
func logitInterval(p, se float64, level float64) (float64, float64) {
	if p <= 0 {
		return 0, math.Min(1, p+se)
	}
	if p >= 1 {
		return math.Max(0, p-se), 1
	}
	z := distuv.UnitNormal.Quantile(1 - (1-level)/2)
	theta := math.Log(p / (1 - p))
	sd := se / (p * (1 - p))
	lo := 1 / (1 + math.Exp(-(theta - z*sd)))
	hi := 1 / (1 + math.Exp(-(theta + z*sd)))
	return lo, hi
}
