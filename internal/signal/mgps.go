package signal

import (
	"math"

	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cart-safety-engine/internal/domain"
)

// PairObservation is one drug-event pair: its observed report count and its
// expected count under independence (drug total x event total / N).
type PairObservation struct {
	Count    int
	Expected float64
}

// MixturePrior is the two-component Gamma prior of the Gamma-Poisson
// Shrinker. Components use shape/rate parameterisation; W is the weight of
// the first component.
type MixturePrior struct {
	Alpha1 float64
	Beta1  float64
	Alpha2 float64
	Beta2  float64
	W      float64
}

// DefaultMixturePrior returns the conventional MGPS starting prior.
func DefaultMixturePrior() MixturePrior {
	return MixturePrior{Alpha1: 0.2, Beta1: 0.1, Alpha2: 2.0, Beta2: 4.0, W: 1.0 / 3.0}
}

// PairSignal is the empirical-Bayes shrinkage result for one pair.
type PairSignal struct {
	EBGM float64
	EB05 float64
	// Q1 is the posterior weight of the first mixture component.
	Q1 float64
}

// FitMixture estimates the mixture prior by maximum likelihood over all
// drug-event pairs of the dataset, not just the pair of interest. The
// marginal of a Poisson count under a Gamma(alpha, beta) rate is negative
// binomial, so the objective is a mixture of two negative binomial
// likelihoods, optimised in an unconstrained transform of the parameters.
func FitMixture(data []PairObservation) (MixturePrior, error) {
	if len(data) < 2 {
		return MixturePrior{}, domain.NewValidationError("pairs",
			"mixture fit requires at least two drug-event pairs", len(data))
	}
	for _, p := range data {
		if p.Count < 0 {
			return MixturePrior{}, domain.NewValidationError("pairs", "pair count cannot be negative", p.Count)
		}
		if p.Expected <= 0 {
			return MixturePrior{}, domain.NewValidationError("pairs", "expected count must be positive", p.Expected)
		}
	}

	start := DefaultMixturePrior()
	x0 := []float64{
		math.Log(start.Alpha1), math.Log(start.Beta1),
		math.Log(start.Alpha2), math.Log(start.Beta2),
		math.Log(start.W / (1 - start.W)),
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			prior := decodeMixture(x)
			return -mixtureLogLikelihood(prior, data)
		},
	}

	result, err := optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
	if err != nil {
		// A failed fit falls back to the starting prior; the caller flags
		// the degradation in diagnostics.
		return start, domain.NewEngineError(domain.ErrNumericalDegrade,
			"mixture maximum-likelihood fit did not converge", err.Error(), "")
	}
	return decodeMixture(result.X), nil
}

func decodeMixture(x []float64) MixturePrior {
	return MixturePrior{
		Alpha1: math.Exp(x[0]),
		Beta1:  math.Exp(x[1]),
		Alpha2: math.Exp(x[2]),
		Beta2:  math.Exp(x[3]),
		W:      1 / (1 + math.Exp(-x[4])),
	}
}

func mixtureLogLikelihood(prior MixturePrior, data []PairObservation) float64 {
	var ll float64
	for _, p := range data {
		l1 := logNegBinom(p.Count, prior.Alpha1, prior.Beta1, p.Expected)
		l2 := logNegBinom(p.Count, prior.Alpha2, prior.Beta2, p.Expected)
		ll += logSumExp(math.Log(prior.W)+l1, math.Log(1-prior.W)+l2)
	}
	return ll
}

// logNegBinom is the log marginal probability of count a with expected
// baseline E under a Gamma(alpha, beta) mixing distribution.
func logNegBinom(a int, alpha, beta, expected float64) float64 {
	af := float64(a)
	lg1, _ := math.Lgamma(alpha + af)
	lg2, _ := math.Lgamma(alpha)
	lg3, _ := math.Lgamma(af + 1)
	return lg1 - lg2 - lg3 +
		alpha*math.Log(beta/(beta+expected)) +
		af*math.Log(expected/(beta+expected))
}

// logSumExp combines log-domain terms without underflow.
func logSumExp(a, b float64) float64 {
	m := math.Max(a, b)
	if math.IsInf(m, -1) {
		return m
	}
	return m + math.Log(math.Exp(a-m)+math.Exp(b-m))
}

// Shrink computes EBGM and EB05 for one pair under the fitted prior. The
// posterior is a weighted mixture of two Gamma posteriors; EBGM is the
// geometric mean exp(E[ln lambda]) evaluated in log space, and EB05 is the
// 5th percentile of the mixture itself obtained by root-finding on the
// mixture CDF. A weighted average of the component percentiles is provably
// not a percentile of the mixture and is not used.
func Shrink(prior MixturePrior, count int, expected float64) (PairSignal, error) {
	if count < 0 {
		return PairSignal{}, domain.NewValidationError("count", "pair count cannot be negative", count)
	}
	if expected <= 0 {
		return PairSignal{}, domain.NewValidationError("expected", "expected count must be positive", expected)
	}

	af := float64(count)
	// Posterior component weights from the marginal likelihoods, in log space.
	l1 := math.Log(prior.W) + logNegBinom(count, prior.Alpha1, prior.Beta1, expected)
	l2 := math.Log(1-prior.W) + logNegBinom(count, prior.Alpha2, prior.Beta2, expected)
	norm := logSumExp(l1, l2)
	q1 := math.Exp(l1 - norm)
	q2 := 1 - q1

	g1 := distuv.Gamma{Alpha: prior.Alpha1 + af, Beta: prior.Beta1 + expected}
	g2 := distuv.Gamma{Alpha: prior.Alpha2 + af, Beta: prior.Beta2 + expected}

	// E[ln lambda] for a Gamma(alpha, beta) is digamma(alpha) - ln(beta).
	meanLog := q1*(mathext.Digamma(g1.Alpha)-math.Log(g1.Beta)) +
		q2*(mathext.Digamma(g2.Alpha)-math.Log(g2.Beta))
	ebgm := math.Exp(meanLog)

	eb05 := mixtureQuantile(0.05, q1, g1, g2)

	return PairSignal{EBGM: ebgm, EB05: eb05, Q1: q1}, nil
}

// mixtureQuantile finds the p-quantile of the two-component Gamma mixture
// by bisection on its CDF; the mixture quantile has no closed form.
func mixtureQuantile(p, q1 float64, g1, g2 distuv.Gamma) float64 {
	cdf := func(x float64) float64 {
		return q1*g1.CDF(x) + (1-q1)*g2.CDF(x)
	}

	lo := 0.0
	hi := math.Max(g1.Quantile(0.999), g2.Quantile(0.999))
	for cdf(hi) < p {
		hi *= 2
	}
	for i := 0; i < 200; i++ {
		mid := (lo + hi) / 2
		if cdf(mid) < p {
			lo = mid
		} else {
			hi = mid
		}
		if hi-lo < 1e-12*math.Max(1, hi) {
			break
		}
	}
	return (lo + hi) / 2
}
