package evidence

import (
	"math"

	"github.com/cart-safety-engine/internal/domain"
)

// Predictive returns the Beta-Binomial probability mass function over event
// counts 0..m for a future cohort of size m under the current posterior.
// The pmf is computed in log space to avoid underflow at the small rates
// typical of adverse event data.
func (e *Engine) Predictive(post *domain.Posterior, m int) ([]float64, error) {
	if post == nil {
		return nil, domain.NewValidationError("posterior", "posterior is required", nil)
	}
	if post.AlphaPost <= 0 || post.BetaPost <= 0 {
		return nil, domain.NewValidationError("posterior", "posterior parameters must be positive", nil)
	}
	if m <= 0 {
		return nil, domain.NewValidationError("cohort_size", "future cohort size must be positive", m)
	}

	a, b := post.AlphaPost, post.BetaPost
	logDenom := lbeta(a, b)

	pmf := make([]float64, m+1)
	for k := 0; k <= m; k++ {
		logChoose := lchoose(m, k)
		logNum := lbeta(a+float64(k), b+float64(m-k))
		pmf[k] = math.Exp(logChoose + logNum - logDenom)
	}
	return pmf, nil
}

// PredictiveSummary reduces the predictive pmf to the expected event count
// and a central interval at the given level.
func (e *Engine) PredictiveSummary(post *domain.Posterior, m int, level float64) (mean float64, lower, upper int, err error) {
	pmf, err := e.Predictive(post, m)
	if err != nil {
		return 0, 0, 0, err
	}
	if level <= 0 || level >= 1 {
		return 0, 0, 0, domain.NewValidationError("level", "interval level must be in (0,1)", level)
	}

	// The mean is accumulated over the full pmf; stopping at the upper tail
	// bound would drop the tail mass and understate the expected count.
	tail := (1 - level) / 2
	var cum float64
	lower, upper = 0, m
	lowerSet, upperSet := false, false
	for k, p := range pmf {
		mean += float64(k) * p
		cum += p
		if !lowerSet && cum >= tail {
			lower = k
			lowerSet = true
		}
		if !upperSet && cum >= 1-tail {
			upper = k
			upperSet = true
		}
	}
	return mean, lower, upper, nil
}

func lbeta(a, b float64) float64 {
	la, _ := math.Lgamma(a)
	lb, _ := math.Lgamma(b)
	lab, _ := math.Lgamma(a + b)
	return la + lb - lab
}

func lchoose(n, k int) float64 {
	ln, _ := math.Lgamma(float64(n + 1))
	lk, _ := math.Lgamma(float64(k + 1))
	lnk, _ := math.Lgamma(float64(n - k + 1))
	return ln - lk - lnk
}
