package signal

import (
	"github.com/cart-safety-engine/internal/domain"
)

// Thresholds are the composite tier criteria. A strong signal requires
// simultaneous disproportionality on the frequentist and empirical-Bayes
// scales plus a minimum case count; no single statistic promotes a pair on
// its own.
type Thresholds struct {
	StrongPRR      float64
	StrongPRRLow   float64
	StrongMinCases int
	StrongEB05     float64
	ModerateEB05   float64
}

// DefaultThresholds returns the conventional screening thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StrongPRR:      2,
		StrongPRRLow:   1,
		StrongMinCases: 3,
		StrongEB05:     2,
		ModerateEB05:   1,
	}
}

// Classify assigns a signal tier from the combined statistics.
func Classify(th Thresholds, table domain.ContingencyTable, prr RatioResult, shrink PairSignal) domain.SignalTier {
	strong := prr.Value >= th.StrongPRR &&
		prr.Lower > th.StrongPRRLow &&
		table.A >= th.StrongMinCases &&
		shrink.EB05 >= th.StrongEB05

	if strong {
		return domain.SIGNAL_STRONG
	}
	if prr.Value >= th.StrongPRR && table.A >= th.StrongMinCases && shrink.EB05 >= th.ModerateEB05 {
		return domain.SIGNAL_MODERATE
	}
	if prr.Value > 1 && shrink.EBGM > 1 && table.A > 0 {
		return domain.SIGNAL_WEAK
	}
	return domain.SIGNAL_NONE
}
