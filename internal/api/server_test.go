package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cart-safety-engine/internal/domain"
	"github.com/cart-safety-engine/internal/evidence"
	"github.com/cart-safety-engine/internal/mitigation"
	"github.com/cart-safety-engine/internal/registry"
	"github.com/cart-safety-engine/internal/service"
	"github.com/cart-safety-engine/internal/signal"
)

type stubClinical struct{}

func (stubClinical) Version() string { return "clinical-v7" }

func (stubClinical) PriorFor(eventType domain.AdverseEventType) (domain.Prior, error) {
	if !eventType.Valid() {
		return domain.Prior{}, domain.NewValidationError("event_type", "no prior configured", string(eventType))
	}
	return domain.Prior{Alpha: 0.21, Beta: 1.29, Version: "clinical-v7"}, nil
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

func newTestServer(t *testing.T, source domain.ReportSource) *Server {
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
		MonteCarloSamples:   1000,
		HeterogeneityPolicy: domain.HETEROGENEITY_ANNOTATE,
		HeterogeneityI2Max:  75,
	}

	riskService := service.NewRiskService(
		engine, reg,
		signal.NewDetector(source, logger, signal.DetectorOptions{}),
		mitigation.NewCombiner(clinical, logger, mitigation.Options{Samples: 1000}),
		clinical, analysis, logger,
	)

	cfg := &domain.Config{Logging: domain.LoggingConfig{Level: "info"}}
	return NewServer(cfg, riskService, logger)
}

func doJSON(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	server := newTestServer(t, &stubSource{})
	w := doJSON(t, server, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "clinical-v7", body["config_version"])
}

func TestMethodsEndpoint(t *testing.T) {
	server := newTestServer(t, &stubSource{})
	w := doJSON(t, server, http.MethodGet, "/api/v1/methods", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Methods []string `json:"methods"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Methods, 7)
}

func TestEstimate_Success(t *testing.T) {
	server := newTestServer(t, &stubSource{})
	w := doJSON(t, server, http.MethodPost, "/api/v1/estimate", `{
		"method": "beta_binomial",
		"adverse_event_type": "CRS",
		"observations": [{"events": 0, "n": 47, "adverse_event_type": "CRS"}]
	}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var estimate domain.Estimate
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &estimate))
	assert.InDelta(t, 0.21/48.5, estimate.Point, 1e-9)
	assert.Greater(t, estimate.Upper, estimate.Point)
}

func TestEstimate_MalformedBody(t *testing.T) {
	server := newTestServer(t, &stubSource{})
	w := doJSON(t, server, http.MethodPost, "/api/v1/estimate", `{"method": `)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEstimate_InvalidObservation(t *testing.T) {
	server := newTestServer(t, &stubSource{})
	w := doJSON(t, server, http.MethodPost, "/api/v1/estimate", `{
		"method": "clopper_pearson",
		"adverse_event_type": "CRS",
		"observations": [{"events": 50, "n": 47, "adverse_event_type": "CRS"}]
	}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, domain.ErrInvalidInput, body["code"])
	assert.NotEmpty(t, body["request_id"])
}

func TestAccrual_DecreasingCountsRejected(t *testing.T) {
	server := newTestServer(t, &stubSource{})
	w := doJSON(t, server, http.MethodPost, "/api/v1/accrual", `{
		"adverse_event_type": "CRS",
		"points": [
			{"Timepoint": 1, "Events": 5, "N": 20},
			{"Timepoint": 2, "Events": 3, "N": 25}
		]
	}`)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, domain.ErrInconsistency, body["code"])
}

func TestBoundary_Success(t *testing.T) {
	server := newTestServer(t, &stubSource{})
	w := doJSON(t, server, http.MethodPost, "/api/v1/boundary", `{
		"adverse_event_type": "CRS",
		"max_n": 20,
		"rate_threshold": 0.15,
		"prob_cap": 0.8
	}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Boundary []domain.BoundaryStep `json:"boundary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Boundary, 20)
}

func TestDetectSignal_UnavailableSourceIsLabeled(t *testing.T) {
	server := newTestServer(t, &stubSource{err: domain.NewUnavailableError("reporting source", "down")})
	w := doJSON(t, server, http.MethodPost, "/api/v1/signal/detect", `{
		"drug": "axi-cel",
		"event": "CRS"
	}`)

	require.Equal(t, http.StatusOK, w.Code, "unavailability is a labeled result, not a transport failure")
	var result domain.SignalResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, domain.SIGNAL_UNAVAILABLE, result.Tier)
}

func TestDetectSignal_Success(t *testing.T) {
	server := newTestServer(t, &stubSource{counts: &domain.ReportCounts{
		PairCount: 10, DrugTotal: 1000, EventTotal: 50, NTotal: 100000, FetchedAt: time.Now(),
	}})
	w := doJSON(t, server, http.MethodPost, "/api/v1/signal/detect", `{
		"drug": "cilta-cel",
		"event": "parkinsonism"
	}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result domain.SignalResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, domain.SIGNAL_STRONG, result.Tier)
}

func TestCombine_UnknownStrategy(t *testing.T) {
	server := newTestServer(t, &stubSource{})
	w := doJSON(t, server, http.MethodPost, "/api/v1/mitigation/combine", `{
		"strategy_ids": ["ghost"],
		"adverse_event_type": "CRS",
		"events": 5,
		"n": 48
	}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCombine_Success(t *testing.T) {
	server := newTestServer(t, &stubSource{})
	w := doJSON(t, server, http.MethodPost, "/api/v1/mitigation/combine", `{
		"strategy_ids": ["toci"],
		"adverse_event_type": "CRS",
		"events": 5,
		"n": 48,
		"seed": 3
	}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result domain.CombinedMitigation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, domain.CRS, result.TargetEvent)
	assert.InDelta(t, 0.5, result.CombinedRR, 1e-12)
}
