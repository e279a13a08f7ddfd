package evidence

import (
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cart-safety-engine/internal/domain"
)

// Engine performs conjugate Beta-Binomial inference: posterior updates,
// credible intervals, evidence accrual, stopping boundaries and the
// predictive distribution for future cohorts. All methods are pure functions
// of their inputs.
type Engine struct {
	logger *logrus.Logger
}

// NewEngine creates a new evidence engine.
func NewEngine(logger *logrus.Logger) *Engine {
	return &Engine{logger: logger}
}

// Update computes the Beta posterior for a prior and cumulative observation
// counts. Invalid priors and events > n are hard validation failures, never
// silently clamped.
func (e *Engine) Update(prior domain.Prior, events, n int) (*domain.Posterior, error) {
	if err := prior.Validate(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, domain.NewValidationError("n", "patient count must be positive", n)
	}
	if events < 0 {
		return nil, domain.NewValidationError("events", "event count cannot be negative", events)
	}
	if events > n {
		return nil, domain.NewValidationError("events", "event count cannot exceed patient count", events)
	}

	alphaPost := prior.Alpha + float64(events)
	betaPost := prior.Beta + float64(n-events)

	return &domain.Posterior{
		AlphaPost:    alphaPost,
		BetaPost:     betaPost,
		Mean:         alphaPost / (alphaPost + betaPost),
		PriorVersion: prior.Version,
	}, nil
}

// CredibleInterval fills the interval fields of a posterior at the given
// level. The primary path uses the exact Beta inverse CDF. If the exact
// quantile is not finite, a logit-transformed normal approximation is used
// instead of a symmetric normal one, which misbehaves badly on the skewed
// posteriors that arise when alpha+beta < 5 or either parameter is below 1.
// Taking the fallback logs a degraded-precision warning and marks the
// posterior approximate.
func (e *Engine) CredibleInterval(post *domain.Posterior, level float64) error {
	if post == nil {
		return domain.NewValidationError("posterior", "posterior is required", nil)
	}
	if level <= 0 || level >= 1 {
		return domain.NewValidationError("level", "credible level must be in (0,1)", level)
	}

	tail := (1 - level) / 2
	dist := distuv.Beta{Alpha: post.AlphaPost, Beta: post.BetaPost}
	lower := dist.Quantile(tail)
	upper := dist.Quantile(1 - tail)

	if isUsableInterval(lower, upper) {
		post.Lower = lower
		post.Upper = upper
		post.Level = level
		post.IntervalMethod = "beta_exact"
		post.Approximate = false
		return nil
	}

	lower, upper = logitNormalInterval(post.AlphaPost, post.BetaPost, level)
	post.Lower = lower
	post.Upper = upper
	post.Level = level
	post.IntervalMethod = "logit_normal"
	post.Approximate = true

	e.logger.WithFields(logrus.Fields{
		"alpha_post": post.AlphaPost,
		"beta_post":  post.BetaPost,
		"level":      level,
	}).Warn("Exact Beta quantile unusable; falling back to logit-normal interval (degraded precision)")

	return nil
}

// isUsableInterval checks that exact quantiles came back finite and ordered.
func isUsableInterval(lower, upper float64) bool {
	if math.IsNaN(lower) || math.IsNaN(upper) || math.IsInf(lower, 0) || math.IsInf(upper, 0) {
		return false
	}
	return lower >= 0 && upper <= 1 && lower <= upper
}

// logitNormalInterval approximates a Beta credible interval on the logit
// scale. The logit transform keeps bounds inside (0,1) without clipping,
// unlike a symmetric normal approximation on the rate scale.
func logitNormalInterval(alpha, beta, level float64) (float64, float64) {
	mean := alpha / (alpha + beta)
	variance := alpha * beta / ((alpha + beta) * (alpha + beta) * (alpha + beta + 1))

	theta := math.Log(mean / (1 - mean))
	// Delta method: Var(logit p) = Var(p) / (p(1-p))^2.
	sd := math.Sqrt(variance) / (mean * (1 - mean))

	z := distuv.UnitNormal.Quantile(1 - (1-level)/2)
	lo := invLogit(theta - z*sd)
	hi := invLogit(theta + z*sd)
	return lo, hi
}

func invLogit(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
