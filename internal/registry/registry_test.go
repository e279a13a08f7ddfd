package registry

import (
	"io"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cart-safety-engine/internal/domain"
	"github.com/cart-safety-engine/internal/evidence"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	r, err := NewRegistry(logger, evidence.NewEngine(logger))
	require.NoError(t, err)
	return r
}

func obsOf(events, n int, eventType domain.AdverseEventType, study string) domain.Observation {
	return domain.Observation{Events: events, N: n, EventType: eventType, StudyID: study}
}

func TestRegistry_UnknownMethod(t *testing.T) {
	r := testRegistry(t)
	_, err := r.Estimate("bootstrap", []domain.Observation{obsOf(1, 10, domain.CRS, "s1")}, domain.CRS, Options{})
	require.Error(t, err)
	assert.True(t, domain.IsValidationError(err))
}

func TestRegistry_RejectsForeignEventType(t *testing.T) {
	// ICANS counts must never feed a CRS estimate.
	r := testRegistry(t)
	_, err := r.Estimate(domain.METHOD_WILSON,
		[]domain.Observation{obsOf(3, 50, domain.ICANS, "s1")}, domain.CRS, Options{})
	require.Error(t, err)
	assert.True(t, domain.IsValidationError(err))
}

func TestRegistry_DuplicateRegistrationFailsLoudly(t *testing.T) {
	r := &Registry{estimators: make(map[domain.EstimatorMethod]Estimator)}
	require.NoError(t, r.register(&wilsonEstimator{}))
	err := r.register(&wilsonEstimator{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestClopperPearson_ZeroEvents(t *testing.T) {
	r := testRegistry(t)
	est, err := r.Estimate(domain.METHOD_CLOPPER_PEARSON,
		[]domain.Observation{obsOf(0, 47, domain.CRS, "s1")}, domain.CRS, Options{})
	require.NoError(t, err)

	assert.Zero(t, est.Point)
	assert.Zero(t, est.Lower)
	// Exact upper bound at 0/47: 1 - 0.025^(1/47).
	want := 1 - math.Pow(0.025, 1.0/47)
	assert.InDelta(t, want, est.Upper, 1e-6)
	assert.Equal(t, domain.METHOD_CLOPPER_PEARSON, est.Method)
}

func TestClopperPearson_AllEvents(t *testing.T) {
	r := testRegistry(t)
	est, err := r.Estimate(domain.METHOD_CLOPPER_PEARSON,
		[]domain.Observation{obsOf(10, 10, domain.HLH, "s1")}, domain.HLH, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, est.Point)
	assert.Equal(t, 1.0, est.Upper)
	assert.Greater(t, est.Lower, 0.6)
}

func TestWilson_BoundsAndPoint(t *testing.T) {
	r := testRegistry(t)
	est, err := r.Estimate(domain.METHOD_WILSON,
		[]domain.Observation{obsOf(2, 40, domain.CRS, "s1")}, domain.CRS, Options{})
	require.NoError(t, err)

	assert.InDelta(t, 0.05, est.Point, 1e-12)
	assert.Greater(t, est.Lower, 0.0, "Wilson lower bound stays positive for nonzero events")
	assert.Less(t, est.Upper, 1.0)
	assert.Less(t, est.Lower, est.Point)
	assert.Greater(t, est.Upper, est.Point)
}

func TestRandomEffects_SingleStudyReducesToOwnInterval(t *testing.T) {
	r := testRegistry(t)
	obs := []domain.Observation{obsOf(4, 60, domain.ICANS, "s1")}

	est, err := r.Estimate(domain.METHOD_RANDOM_EFFECTS, obs, domain.ICANS, Options{})
	require.NoError(t, err)

	// With k=1 the pooled transform equals the study's own FT value and the
	// interval collapses to the single-study interval.
	tVal := freemanTukey(4, 60)
	se := math.Sqrt(1 / (60 + 0.5))
	z := distuv.UnitNormal.Quantile(0.975)

	assert.InDelta(t, millerInverse(tVal, 60), est.Point, 1e-9)
	assert.InDelta(t, millerInverse(tVal-z*se, 60), est.Lower, 1e-9)
	assert.InDelta(t, millerInverse(tVal+z*se, 60), est.Upper, 1e-9)
	assert.Equal(t, "0.000000", est.Diagnostics.Inputs["tau2"])
}

func TestRandomEffects_HeterogeneityReported(t *testing.T) {
	r := testRegistry(t)
	obs := []domain.Observation{
		obsOf(1, 100, domain.CRS, "s1"),
		obsOf(45, 100, domain.CRS, "s2"),
		obsOf(2, 120, domain.CRS, "s3"),
	}

	est, err := r.Estimate(domain.METHOD_RANDOM_EFFECTS, obs, domain.CRS, Options{})
	require.NoError(t, err)

	assert.Contains(t, est.Diagnostics.Inputs, "i2")
	assert.Contains(t, est.Diagnostics.Inputs, "tau2")
	assert.NotEmpty(t, est.Diagnostics.Warnings, "high heterogeneity must be annotated")
}

func TestRandomEffects_RejectPolicy(t *testing.T) {
	r := testRegistry(t)
	obs := []domain.Observation{
		obsOf(1, 100, domain.CRS, "s1"),
		obsOf(45, 100, domain.CRS, "s2"),
	}

	_, err := r.Estimate(domain.METHOD_RANDOM_EFFECTS, obs, domain.CRS, Options{
		HeterogeneityPolicy: domain.HETEROGENEITY_REJECT,
		HeterogeneityI2Max:  50,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heterogeneity")
}

func TestShrinkage_ManualOverrideFullyWired(t *testing.T) {
	r := testRegistry(t)
	obs := []domain.Observation{
		obsOf(5, 100, domain.CRS, "s1"),
		obsOf(1, 100, domain.ICANS, "s1"),
		obsOf(0, 100, domain.HLH, "s1"),
	}

	zero := 0.0
	est, err := r.Estimate(domain.METHOD_EB_SHRINKAGE, obs, domain.CRS, Options{ShrinkageWeight: &zero})
	require.NoError(t, err)
	// Weight zero means no shrinkage: the raw CRS rate.
	assert.InDelta(t, 0.05, est.Point, 1e-9)

	one := 1.0
	est, err = r.Estimate(domain.METHOD_EB_SHRINKAGE, obs, domain.CRS, Options{ShrinkageWeight: &one})
	require.NoError(t, err)
	// Weight one collapses to the grand mean across types.
	grand := (0.05 + 0.01 + 0.0) / 3
	assert.InDelta(t, grand, est.Point, 1e-9)
	assert.Contains(t, est.Diagnostics.Warnings[0], "manually overridden")
}

func TestShrinkage_WeightOutOfRange(t *testing.T) {
	r := testRegistry(t)
	obs := []domain.Observation{obsOf(5, 100, domain.CRS, "s1")}
	w := 1.5
	_, err := r.Estimate(domain.METHOD_EB_SHRINKAGE, obs, domain.CRS, Options{ShrinkageWeight: &w})
	require.Error(t, err)
}

func TestShrinkage_EstimatedWeightBetweenRawAndGrand(t *testing.T) {
	r := testRegistry(t)
	obs := []domain.Observation{
		obsOf(8, 100, domain.CRS, "s1"),
		obsOf(1, 100, domain.ICANS, "s1"),
		obsOf(2, 100, domain.HLH, "s1"),
	}

	est, err := r.Estimate(domain.METHOD_EB_SHRINKAGE, obs, domain.CRS, Options{})
	require.NoError(t, err)

	raw := 0.08
	grand := (0.08 + 0.01 + 0.02) / 3
	assert.Less(t, est.Point, raw)
	assert.Greater(t, est.Point, grand)
}

func TestKaplanMeier_KnownProductLimit(t *testing.T) {
	r := testRegistry(t)
	opts := Options{
		OnsetTimes: []domain.TimeToOnset{
			{Days: 5, Observed: true},
			{Days: 7, Observed: false},
			{Days: 10, Observed: true},
			{Days: 30, Observed: false},
		},
		OnsetHorizonDays: 30,
	}

	est, err := r.Estimate(domain.METHOD_KAPLAN_MEIER,
		[]domain.Observation{obsOf(2, 4, domain.CRS, "s1")}, domain.CRS, opts)
	require.NoError(t, err)

	// S = (3/4)(1/2) = 0.375, onset probability 0.625.
	assert.InDelta(t, 0.625, est.Point, 1e-9)
	assert.Less(t, est.Lower, est.Point)
	assert.Greater(t, est.Upper, est.Point)
	assert.LessOrEqual(t, est.Upper, 1.0)
}

func TestKaplanMeier_RequiresOnsetData(t *testing.T) {
	r := testRegistry(t)
	_, err := r.Estimate(domain.METHOD_KAPLAN_MEIER,
		[]domain.Observation{obsOf(2, 4, domain.CRS, "s1")}, domain.CRS, Options{})
	require.Error(t, err)
}

func TestBetaBinomial_DelegatesToEvidenceEngine(t *testing.T) {
	r := testRegistry(t)
	obs := []domain.Observation{obsOf(0, 47, domain.LICATS, "s1")}

	est, err := r.Estimate(domain.METHOD_BETA_BINOMIAL, obs, domain.LICATS, Options{
		Prior: domain.Prior{Alpha: 0.21, Beta: 1.29, Version: "v1"},
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.21/48.5, est.Point, 1e-12)
	assert.Equal(t, "v1", est.Diagnostics.Inputs["prior_version"])
}

func TestPredictive_PointMatchesPosteriorMean(t *testing.T) {
	r := testRegistry(t)
	obs := []domain.Observation{obsOf(2, 50, domain.CRS, "s1")}
	prior := domain.Prior{Alpha: 1, Beta: 9}

	est, err := r.Estimate(domain.METHOD_PREDICTIVE, obs, domain.CRS, Options{
		Prior:   prior,
		Horizon: 100,
	})
	require.NoError(t, err)

	postMean := (1.0 + 2) / (1 + 9 + 50)
	assert.InDelta(t, postMean, est.Point, 1e-9)
	assert.Equal(t, "100", est.Diagnostics.Inputs["future_cohort"])
}
