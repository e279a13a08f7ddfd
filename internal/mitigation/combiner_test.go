package mitigation

import (
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cart-safety-engine/internal/domain"
)

type stubConfig struct {
	strategies   map[string]domain.MitigationStrategy
	correlations map[string]float64
}

func (s *stubConfig) Version() string { return "test-v1" }

func (s *stubConfig) PriorFor(eventType domain.AdverseEventType) (domain.Prior, error) {
	return domain.Prior{Alpha: 0.21, Beta: 1.29, Version: "test-v1"}, nil
}

func (s *stubConfig) Strategy(id string) (domain.MitigationStrategy, error) {
	strategy, ok := s.strategies[id]
	if !ok {
		return domain.MitigationStrategy{}, domain.NewValidationError("strategy_id", "unknown strategy", id)
	}
	return strategy, nil
}

func (s *stubConfig) Correlation(a, b string) (float64, bool) {
	if rho, ok := s.correlations[a+"|"+b]; ok {
		return rho, true
	}
	rho, ok := s.correlations[b+"|"+a]
	return rho, ok
}

func strategy(id string, rr, low, high float64, pathway string) domain.MitigationStrategy {
	return domain.MitigationStrategy{
		ID:                 id,
		Name:               id,
		RelativeRisk:       rr,
		CILow:              low,
		CIHigh:             high,
		TargetEvents:       []domain.AdverseEventType{domain.CRS},
		EvidenceLevel:      domain.EVIDENCE_STRONG,
		MechanisticPathway: pathway,
	}
}

func baseline() *domain.Posterior {
	return &domain.Posterior{AlphaPost: 5.21, BetaPost: 43.29, Mean: 5.21 / 48.5}
}

func newTestCombiner(cfg domain.ClinicalConfig) *Combiner {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewCombiner(cfg, logger, Options{Samples: 4000})
}

func seedPtr(v uint64) *uint64 { return &v }

func TestCombine_IndependentStrategiesMultiply(t *testing.T) {
	cfg := &stubConfig{strategies: map[string]domain.MitigationStrategy{
		"toci": strategy("toci", 0.5, 0.3, 0.8, "il6"),
		"dex":  strategy("dex", 0.6, 0.4, 0.9, "steroid"),
	}}
	c := newTestCombiner(cfg)

	result, err := c.Combine(Request{
		StrategyIDs: []string{"toci", "dex"},
		EventType:   domain.CRS,
		Baseline:    baseline(),
		Seed:        seedPtr(1),
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.30, result.CombinedRR, 1e-12)
	require.Len(t, result.PairDetail, 1)
	assert.Zero(t, result.PairDetail[0].Rho)
	assert.False(t, result.PairDetail[0].AssumedIndependent, "distinct pathways need no flag")
}

func TestCombine_FullOverlapTakesTheStrongerEffect(t *testing.T) {
	cfg := &stubConfig{
		strategies: map[string]domain.MitigationStrategy{
			"toci": strategy("toci", 0.5, 0.3, 0.8, "il6"),
			"sili": strategy("sili", 0.6, 0.4, 0.9, "il6"),
		},
		correlations: map[string]float64{"toci|sili": 1.0},
	}
	c := newTestCombiner(cfg)

	result, err := c.Combine(Request{
		StrategyIDs: []string{"sili", "toci"},
		EventType:   domain.CRS,
		Baseline:    baseline(),
		Seed:        seedPtr(1),
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.5, result.CombinedRR, 1e-12)
}

func TestCombine_PartialOverlapInterpolatesGeometrically(t *testing.T) {
	cfg := &stubConfig{
		strategies: map[string]domain.MitigationStrategy{
			"toci": strategy("toci", 0.5, 0.3, 0.8, "il6"),
			"dex":  strategy("dex", 0.6, 0.4, 0.9, "steroid"),
		},
		correlations: map[string]float64{"dex|toci": 0.5},
	}
	c := newTestCombiner(cfg)

	result, err := c.Combine(Request{
		StrategyIDs: []string{"toci", "dex"},
		EventType:   domain.CRS,
		Baseline:    baseline(),
		Seed:        seedPtr(1),
	})
	require.NoError(t, err)

	// (0.5*0.6)^0.5 * 0.5^0.5
	assert.InDelta(t, 0.3872983346, result.CombinedRR, 1e-9)
	assert.InDelta(t, 0.5, result.PairDetail[0].Rho, 1e-12)
}

func TestCombine_SharedPathwayWithoutConfiguredRho(t *testing.T) {
	cfg := &stubConfig{strategies: map[string]domain.MitigationStrategy{
		"toci": strategy("toci", 0.5, 0.3, 0.8, "il6"),
		"sili": strategy("sili", 0.6, 0.4, 0.9, "il6"),
	}}
	c := newTestCombiner(cfg)

	result, err := c.Combine(Request{
		StrategyIDs: []string{"toci", "sili"},
		EventType:   domain.CRS,
		Baseline:    baseline(),
		Seed:        seedPtr(1),
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.30, result.CombinedRR, 1e-12, "independence is still the default")
	require.Len(t, result.PairDetail, 1)
	assert.True(t, result.PairDetail[0].AssumedIndependent)
	assert.NotEmpty(t, result.Diagnostics.Warnings)
}

func TestCombine_RequestOrderDoesNotMatter(t *testing.T) {
	cfg := &stubConfig{
		strategies: map[string]domain.MitigationStrategy{
			"a": strategy("a", 0.4, 0.3, 0.6, "p1"),
			"b": strategy("b", 0.7, 0.5, 0.95, "p2"),
			"c": strategy("c", 0.9, 0.8, 0.99, "p3"),
		},
		correlations: map[string]float64{"a|c": 0.4},
	}
	c := newTestCombiner(cfg)

	forward, err := c.Combine(Request{
		StrategyIDs: []string{"a", "b", "c"},
		EventType:   domain.CRS, Baseline: baseline(), Seed: seedPtr(9),
	})
	require.NoError(t, err)
	reversed, err := c.Combine(Request{
		StrategyIDs: []string{"c", "b", "a"},
		EventType:   domain.CRS, Baseline: baseline(), Seed: seedPtr(9),
	})
	require.NoError(t, err)

	assert.Equal(t, forward.CombinedRR, reversed.CombinedRR)
	assert.Equal(t, forward.Lower, reversed.Lower)
	assert.Equal(t, forward.Upper, reversed.Upper)
	assert.Equal(t, forward.PairDetail, reversed.PairDetail)
}

func TestCombine_UncertainBenefitFlagged(t *testing.T) {
	cfg := &stubConfig{strategies: map[string]domain.MitigationStrategy{
		"anakinra": strategy("anakinra", 0.8, 0.5, 1.3, "il1"),
	}}
	c := newTestCombiner(cfg)

	result, err := c.Combine(Request{
		StrategyIDs: []string{"anakinra"},
		EventType:   domain.CRS,
		Baseline:    baseline(),
		Seed:        seedPtr(1),
	})
	require.NoError(t, err)

	assert.Contains(t, result.UncertainBenefit, "anakinra")
	assert.NotEmpty(t, result.Diagnostics.Warnings)
}

func TestCombine_ResidualRiskAndInterval(t *testing.T) {
	cfg := &stubConfig{strategies: map[string]domain.MitigationStrategy{
		"toci": strategy("toci", 0.5, 0.3, 0.8, "il6"),
	}}
	c := newTestCombiner(cfg)

	base := baseline()
	result, err := c.Combine(Request{
		StrategyIDs: []string{"toci"},
		EventType:   domain.CRS,
		Baseline:    base,
		Seed:        seedPtr(42),
	})
	require.NoError(t, err)

	assert.InDelta(t, base.Mean*0.5, result.ResidualRisk, 1e-12)
	assert.Less(t, result.Lower, result.ResidualRisk)
	assert.Greater(t, result.Upper, result.ResidualRisk)
	assert.GreaterOrEqual(t, result.Lower, 0.0)
	assert.LessOrEqual(t, result.Upper, 1.0)
}

func TestCombine_SeededRunsAreReproducible(t *testing.T) {
	cfg := &stubConfig{strategies: map[string]domain.MitigationStrategy{
		"toci": strategy("toci", 0.5, 0.3, 0.8, "il6"),
		"dex":  strategy("dex", 0.6, 0.4, 0.9, "steroid"),
	}}
	c := newTestCombiner(cfg)
	req := Request{
		StrategyIDs: []string{"toci", "dex"},
		EventType:   domain.CRS,
		Baseline:    baseline(),
		Seed:        seedPtr(7),
	}

	a, err := c.Combine(req)
	require.NoError(t, err)
	b, err := c.Combine(req)
	require.NoError(t, err)

	assert.Equal(t, a.Lower, b.Lower)
	assert.Equal(t, a.Upper, b.Upper)
	require.NotNil(t, a.Diagnostics.Seed)
	assert.Equal(t, uint64(7), *a.Diagnostics.Seed)
}

func TestCombine_Validation(t *testing.T) {
	cfg := &stubConfig{strategies: map[string]domain.MitigationStrategy{
		"toci": strategy("toci", 0.5, 0.3, 0.8, "il6"),
	}}
	c := newTestCombiner(cfg)

	tests := []struct {
		name string
		req  Request
	}{
		{"unknown event type", Request{StrategyIDs: []string{"toci"}, EventType: "GVHD", Baseline: baseline()}},
		{"missing baseline", Request{StrategyIDs: []string{"toci"}, EventType: domain.CRS}},
		{"no strategies", Request{EventType: domain.CRS, Baseline: baseline()}},
		{"unknown strategy", Request{StrategyIDs: []string{"ghost"}, EventType: domain.CRS, Baseline: baseline()}},
		{"duplicate strategy", Request{StrategyIDs: []string{"toci", "toci"}, EventType: domain.CRS, Baseline: baseline()}},
		{"wrong target event", Request{StrategyIDs: []string{"toci"}, EventType: domain.ICANS, Baseline: baseline()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Combine(tt.req)
			assert.True(t, domain.IsValidationError(err), fmt.Sprintf("got %v", err))
		})
	}
}
