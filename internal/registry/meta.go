package registry

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cart-safety-engine/internal/domain"
)

// randomEffectsEstimator pools proportions across studies with a
// Freeman-Tukey double-arcsine transform and DerSimonian-Laird
// heterogeneity estimation. Heterogeneity metrics are always reported:
// omitting them when pooling clinically heterogeneous products is a defect.
type randomEffectsEstimator struct {
	logger *logrus.Logger
}

func (e *randomEffectsEstimator) Method() domain.EstimatorMethod {
	return domain.METHOD_RANDOM_EFFECTS
}

func (e *randomEffectsEstimator) Estimate(obs []domain.Observation, eventType domain.AdverseEventType, opts Options) (*domain.Estimate, error) {
	if len(obs) == 0 {
		return nil, domain.NewValidationError("observations", "meta-analysis requires at least one study", nil)
	}

	k := len(obs)
	transformed := make([]float64, k)
	variances := make([]float64, k)
	var harmonicSum float64
	for i, o := range obs {
		transformed[i] = freemanTukey(o.Events, o.N)
		variances[i] = 1 / (float64(o.N) + 0.5)
		harmonicSum += 1 / float64(o.N)
	}
	harmonicN := float64(k) / harmonicSum

	// Fixed-effect weights for the Q statistic.
	var sumW, sumWT, sumW2 float64
	for i := range transformed {
		w := 1 / variances[i]
		sumW += w
		sumWT += w * transformed[i]
		sumW2 += w * w
	}
	fixedMean := sumWT / sumW

	var q float64
	for i := range transformed {
		diff := transformed[i] - fixedMean
		q += (1 / variances[i]) * diff * diff
	}

	df := float64(k - 1)
	tau2 := 0.0
	i2 := 0.0
	if k > 1 {
		c := sumW - sumW2/sumW
		if c > 0 {
			tau2 = math.Max(0, (q-df)/c)
		}
		if q > 0 {
			i2 = math.Max(0, (q-df)/q) * 100
		}
	}

	// Random-effects pooling with DL tau^2 folded into the weights.
	var sumWStar, sumWStarT float64
	for i := range transformed {
		w := 1 / (variances[i] + tau2)
		sumWStar += w
		sumWStarT += w * transformed[i]
	}
	pooledT := sumWStarT / sumWStar
	pooledSE := math.Sqrt(1 / sumWStar)

	z := distuv.UnitNormal.Quantile(1 - (1-opts.Level)/2)
	point := millerInverse(pooledT, harmonicN)
	lower := millerInverse(pooledT-z*pooledSE, harmonicN)
	upper := millerInverse(pooledT+z*pooledSE, harmonicN)

	events, n := pool(obs)
	diag := domain.Diagnostics{
		Inputs: baseInputs(events, n, k),
	}
	diag.Inputs["tau2"] = fmt.Sprintf("%.6f", tau2)
	diag.Inputs["i2"] = fmt.Sprintf("%.2f", i2)
	diag.Inputs["q"] = fmt.Sprintf("%.4f", q)

	i2Max := opts.HeterogeneityI2Max
	if i2Max == 0 {
		i2Max = 75
	}
	if k > 1 && i2 > i2Max {
		if opts.HeterogeneityPolicy == domain.HETEROGENEITY_REJECT {
			return nil, domain.NewEngineError(domain.ErrEstimation,
				fmt.Sprintf("heterogeneity I2=%.1f%% exceeds the configured pooling limit of %.1f%%", i2, i2Max),
				"studies are too heterogeneous to pool under the reject policy", "")
		}
		diag.AddWarning(fmt.Sprintf(
			"high heterogeneity (I2=%.1f%%, tau2=%.4f); pooled estimate spans clinically heterogeneous studies", i2, tau2))
		e.logger.WithFields(logrus.Fields{
			"i2":   i2,
			"tau2": tau2,
			"k":    k,
		}).Warn("Pooling under high heterogeneity")
	}

	return &domain.Estimate{
		Point:       point,
		Lower:       lower,
		Upper:       upper,
		Diagnostics: diag,
	}, nil
}

// freemanTukey applies the variance-stabilizing double-arcsine transform.
func freemanTukey(events, n int) float64 {
	x, nn := float64(events), float64(n)
	return math.Asin(math.Sqrt(x/(nn+1))) + math.Asin(math.Sqrt((x+1)/(nn+1)))
}

// millerInverse back-transforms a pooled double-arcsine value using the
// harmonic mean sample size (Miller 1978). The radicand is guarded against
// floating-point excursions just outside [0,1] at the domain edges.
func millerInverse(t, harmonicN float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= math.Pi {
		return 1
	}
	s := math.Sin(t)
	inner := s + (s-1/s)/harmonicN
	radicand := 1 - inner*inner
	if radicand < 0 {
		radicand = 0
	}
	p := 0.5 * (1 - sign(math.Cos(t))*math.Sqrt(radicand))
	return math.Min(1, math.Max(0, p))
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}
