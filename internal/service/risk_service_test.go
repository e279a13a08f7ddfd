package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cart-safety-engine/internal/domain"
	"github.com/cart-safety-engine/internal/evidence"
	"github.com/cart-safety-engine/internal/mitigation"
	"github.com/cart-safety-engine/internal/registry"
	"github.com/cart-safety-engine/internal/signal"
)

type stubClinical struct{}

func (stubClinical) Version() string { return "clinical-v7" }

func (stubClinical) PriorFor(eventType domain.AdverseEventType) (domain.Prior, error) {
	if !eventType.Valid() {
		return domain.Prior{}, domain.NewValidationError("event_type", "no prior configured", string(eventType))
	}
	return domain.Prior{Alpha: 0.21, Beta: 1.29, Provenance: "test", Version: "clinical-v7"}, nil
}

func (stubClinical) Strategy(id string) (domain.MitigationStrategy, error) {
	if id != "toci" {
		return domain.MitigationStrategy{}, domain.NewValidationError("strategy_id", "unknown strategy", id)
	}
	return domain.MitigationStrategy{
		ID: "toci", Name: "tocilizumab", RelativeRisk: 0.5, CILow: 0.3, CIHigh: 0.8,
		TargetEvents: []domain.AdverseEventType{domain.CRS},
	}, nil
}

func (stubClinical) Correlation(a, b string) (float64, bool) { return 0, false }

type stubSource struct {
	counts *domain.ReportCounts
	err    error
}

func (s *stubSource) Counts(ctx context.Context, drug, event string) (*domain.ReportCounts, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.counts, nil
}

func newTestService(t *testing.T, source domain.ReportSource) *RiskService {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	engine := evidence.NewEngine(logger)
	reg, err := registry.NewRegistry(logger, engine)
	require.NoError(t, err)

	clinical := stubClinical{}
	analysis := domain.AnalysisConfig{
		ConfigVersion:       "clinical-v7",
		CredibleLevel:       0.95,
		MonteCarloSamples:   2000,
		HeterogeneityPolicy: domain.HETEROGENEITY_ANNOTATE,
		HeterogeneityI2Max:  75,
	}

	detector := signal.NewDetector(source, logger, signal.DetectorOptions{})
	combiner := mitigation.NewCombiner(clinical, logger, mitigation.Options{Samples: analysis.MonteCarloSamples})

	return NewRiskService(engine, reg, detector, combiner, clinical, analysis, logger)
}

func TestEstimateRisk_StampsConfigVersion(t *testing.T) {
	s := newTestService(t, &stubSource{})

	estimate, err := s.EstimateRisk(EstimateRequest{
		Method:    domain.METHOD_BETA_BINOMIAL,
		EventType: domain.CRS,
		Observations: []domain.Observation{
			{Events: 0, N: 47, EventType: domain.CRS},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "clinical-v7", estimate.Diagnostics.Inputs["config_version"])
	assert.InDelta(t, 0.21/48.5, estimate.Point, 1e-12)
	assert.Equal(t, 0.95, estimate.Level, "default credible level applies")
}

func TestEstimateRisk_InvalidLevelRejected(t *testing.T) {
	// An out-of-range credible level is an input error; it must not be
	// silently replaced with the configured default.
	s := newTestService(t, &stubSource{})

	for _, level := range []float64{-0.2, 1.0, 1.5} {
		_, err := s.EstimateRisk(EstimateRequest{
			Method:    domain.METHOD_BETA_BINOMIAL,
			EventType: domain.CRS,
			Level:     level,
			Observations: []domain.Observation{
				{Events: 0, N: 47, EventType: domain.CRS},
			},
		})
		require.Error(t, err, "level %v accepted", level)
		assert.True(t, domain.IsValidationError(err))
	}

	_, err := s.EvidenceAccrual(AccrualRequest{
		EventType: domain.CRS,
		Points:    []evidence.CumulativePoint{{Timepoint: 0, Events: 0, N: 10}},
		Level:     1.5,
	})
	require.Error(t, err)
	assert.True(t, domain.IsValidationError(err))
}

func TestEstimateRisk_FrequentistMethodsNeedNoPrior(t *testing.T) {
	s := newTestService(t, &stubSource{})

	estimate, err := s.EstimateRisk(EstimateRequest{
		Method:    domain.METHOD_CLOPPER_PEARSON,
		EventType: domain.ICANS,
		Observations: []domain.Observation{
			{Events: 3, N: 50, EventType: domain.ICANS},
		},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.06, estimate.Point, 1e-12)
}

func TestEstimateRisk_UnknownEventTypeRejectedForBayesian(t *testing.T) {
	s := newTestService(t, &stubSource{})

	_, err := s.EstimateRisk(EstimateRequest{
		Method:    domain.METHOD_BETA_BINOMIAL,
		EventType: "GVHD",
		Observations: []domain.Observation{
			{Events: 1, N: 10, EventType: "GVHD"},
		},
	})
	assert.True(t, domain.IsValidationError(err))
}

func TestEvidenceAccrual_ProjectionUsesConfiguredPrior(t *testing.T) {
	s := newTestService(t, &stubSource{})

	points, err := s.EvidenceAccrual(AccrualRequest{
		EventType: domain.CRS,
		Points: []evidence.CumulativePoint{
			{Timepoint: 1, Events: 0, N: 10},
			{Timepoint: 2, Events: 1, N: 25},
		},
		Horizon: 50,
	})
	require.NoError(t, err)

	require.Len(t, points, 3)
	assert.False(t, points[0].Projected)
	assert.False(t, points[1].Projected)
	assert.True(t, points[2].Projected)
	assert.Equal(t, 75, points[2].CumulativeN)
}

func TestStoppingBoundary_Monotone(t *testing.T) {
	s := newTestService(t, &stubSource{})

	steps, err := s.StoppingBoundary(BoundaryRequest{
		EventType:     domain.CRS,
		MaxN:          40,
		RateThreshold: 0.15,
		ProbCap:       0.8,
	})
	require.NoError(t, err)
	require.Len(t, steps, 40)

	for i := 1; i < len(steps); i++ {
		assert.GreaterOrEqual(t, steps[i].MaxEvents, steps[i-1].MaxEvents)
	}
}

func TestDetectSignal_UnavailableSourceStamped(t *testing.T) {
	s := newTestService(t, &stubSource{err: domain.NewUnavailableError("reporting source", "down")})

	result, err := s.DetectSignal(context.Background(), signal.DetectRequest{Drug: "axi-cel", Event: "CRS"})
	require.NoError(t, err)

	assert.Equal(t, domain.SIGNAL_UNAVAILABLE, result.Tier)
	assert.Equal(t, "clinical-v7", result.Diagnostics.Inputs["config_version"])
}

func TestDetectSignal_EndToEnd(t *testing.T) {
	s := newTestService(t, &stubSource{counts: &domain.ReportCounts{
		PairCount: 10, DrugTotal: 1000, EventTotal: 50, NTotal: 100000, FetchedAt: time.Now(),
	}})

	result, err := s.DetectSignal(context.Background(), signal.DetectRequest{Drug: "cilta-cel", Event: "parkinsonism"})
	require.NoError(t, err)
	assert.Equal(t, domain.SIGNAL_STRONG, result.Tier)
}

func TestCombineMitigations_EndToEnd(t *testing.T) {
	s := newTestService(t, &stubSource{})
	seed := uint64(11)

	result, err := s.CombineMitigations(CombineRequest{
		StrategyIDs: []string{"toci"},
		EventType:   domain.CRS,
		Events:      5,
		N:           48,
		Seed:        &seed,
	})
	require.NoError(t, err)

	baselineMean := (0.21 + 5) / (0.21 + 1.29 + 48)
	assert.InDelta(t, baselineMean, result.BaselineMean, 1e-12)
	assert.InDelta(t, baselineMean*0.5, result.ResidualRisk, 1e-12)
	assert.Equal(t, "clinical-v7", result.Diagnostics.Inputs["config_version"])
}
