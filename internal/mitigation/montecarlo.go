package mitigation

import (
	"math"
	"sort"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cart-safety-engine/internal/domain"
)

// residualInterval estimates the residual-risk credible interval by Monte
// Carlo: baseline draws from the Beta posterior, per-strategy relative
// risks from lognormals matched to their reported intervals, folded with
// the same correlation steps as the point estimate.
func (c *Combiner) residualInterval(
	baseline *domain.Posterior,
	strategies []domain.MitigationStrategy,
	steps []foldStep,
	level float64,
	requested *uint64,
) (lower, upper float64, seed uint64) {
	seed = uint64(time.Now().UnixNano())
	if requested != nil {
		seed = *requested
	}
	src := rand.NewSource(seed)

	baselineDist := distuv.Beta{Alpha: baseline.AlphaPost, Beta: baseline.BetaPost, Src: src}
	rrDists := make([]distuv.LogNormal, len(strategies))
	for i, s := range strategies {
		rrDists[i] = distuv.LogNormal{Mu: math.Log(s.RelativeRisk), Sigma: rrSigma(s), Src: src}
	}

	samples := make([]float64, c.opts.Samples)
	for n := range samples {
		combined := sampleRR(rrDists[0])
		for i := 1; i < len(rrDists); i++ {
			combined = interpolate(combined, sampleRR(rrDists[i]), steps[i-1].rho)
		}
		samples[n] = math.Min(1, baselineDist.Rand()*combined)
	}
	sort.Float64s(samples)

	tail := (1 - level) / 2
	return quantile(samples, tail), quantile(samples, 1-tail), seed
}

// rrSigma backs the lognormal scale out of the strategy's reported 95%
// interval. A degenerate interval collapses to the point estimate.
func rrSigma(s domain.MitigationStrategy) float64 {
	if s.CIHigh <= s.CILow {
		return 0
	}
	z := distuv.UnitNormal.Quantile(0.975)
	return (math.Log(s.CIHigh) - math.Log(s.CILow)) / (2 * z)
}

func sampleRR(d distuv.LogNormal) float64 {
	if d.Sigma <= 0 {
		return math.Exp(d.Mu)
	}
	return d.Rand()
}

// quantile reads the empirical q-th quantile from a sorted sample.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Round(q * float64(len(sorted)-1)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
