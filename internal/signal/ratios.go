package signal

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cart-safety-engine/internal/domain"
)

// RatioResult holds a log-scale ratio estimator with its confidence
// interval and whether a continuity correction was applied.
type RatioResult struct {
	Value     float64
	Lower     float64
	Upper     float64
	Corrected bool
}

// PRR computes the proportional reporting ratio with a delta-method
// confidence interval on the log scale. A Haldane-Anscombe 0.5 correction
// is applied to every cell when any cell is zero.
func PRR(table domain.ContingencyTable, level float64) (RatioResult, error) {
	if err := table.Validate(); err != nil {
		return RatioResult{}, err
	}
	a, b, c, d, corrected := corrected(table)

	prr := (a / (a + b)) / (c / (c + d))
	logPRR := math.Log(prr)
	// Delta-method variance of ln PRR.
	se := math.Sqrt(1/a - 1/(a+b) + 1/c - 1/(c+d))

	z := distuv.UnitNormal.Quantile(1 - (1-level)/2)
	return RatioResult{
		Value:     prr,
		Lower:     math.Exp(logPRR - z*se),
		Upper:     math.Exp(logPRR + z*se),
		Corrected: corrected,
	}, nil
}

// ROR computes the reporting odds ratio with a delta-method confidence
// interval on the log scale, with the same zero-cell correction as PRR.
func ROR(table domain.ContingencyTable, level float64) (RatioResult, error) {
	if err := table.Validate(); err != nil {
		return RatioResult{}, err
	}
	a, b, c, d, corrected := corrected(table)

	ror := (a * d) / (b * c)
	logROR := math.Log(ror)
	se := math.Sqrt(1/a + 1/b + 1/c + 1/d)

	z := distuv.UnitNormal.Quantile(1 - (1-level)/2)
	return RatioResult{
		Value:     ror,
		Lower:     math.Exp(logROR - z*se),
		Upper:     math.Exp(logROR + z*se),
		Corrected: corrected,
	}, nil
}

// corrected returns the table cells as floats, adding 0.5 to every cell
// when any cell is zero (Haldane-Anscombe).
func corrected(t domain.ContingencyTable) (a, b, c, d float64, applied bool) {
	a, b, c, d = float64(t.A), float64(t.B), float64(t.C), float64(t.D)
	if t.A == 0 || t.B == 0 || t.C == 0 || t.D == 0 {
		return a + 0.5, b + 0.5, c + 0.5, d + 0.5, true
	}
	return a, b, c, d, false
}
