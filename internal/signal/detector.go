package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cart-safety-engine/internal/domain"
)

// DrugEventPair identifies one pair of the surveillance panel.
type DrugEventPair struct {
	Drug  string `json:"drug"`
	Event string `json:"event"`
}

// DetectRequest carries one disproportionality query. ApprovalDate, when
// supplied, enables Weber-effect handling: early post-approval reporting is
// systematically inflated independent of true risk.
type DetectRequest struct {
	Drug         string     `json:"drug"`
	Event        string     `json:"event"`
	AsOf         time.Time  `json:"as_of,omitempty"`
	ApprovalDate *time.Time `json:"approval_date,omitempty"`
}

// DetectorOptions configures the detector.
type DetectorOptions struct {
	Level         float64
	Thresholds    Thresholds
	WeberWindow   time.Duration
	WeberSuppress bool
	// CalibrationWorkers bounds concurrent panel queries so external
	// latency cannot stall other estimations.
	CalibrationWorkers int
}

// Detector screens drug-event pairs for disproportionality signals. The
// external source is the only blocking dependency; everything else is a
// pure function of the fetched counts.
type Detector struct {
	source domain.ReportSource
	logger *logrus.Logger
	opts   DetectorOptions

	mu         sync.RWMutex
	prior      MixturePrior
	calibrated bool
}

// NewDetector creates a detector over the given report source. Until
// Calibrate succeeds, pairs are shrunk toward the conventional default
// prior and every result is flagged accordingly.
func NewDetector(source domain.ReportSource, logger *logrus.Logger, opts DetectorOptions) *Detector {
	if opts.Level == 0 {
		opts.Level = 0.95
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	if opts.CalibrationWorkers <= 0 {
		opts.CalibrationWorkers = 4
	}
	return &Detector{
		source: source,
		logger: logger,
		opts:   opts,
		prior:  DefaultMixturePrior(),
	}
}

// Calibrate fits the Gamma mixture prior by maximum likelihood over the
// whole surveillance panel, not just a pair of interest. Panel queries run
// on a bounded worker pool and honour the caller's context.
func (d *Detector) Calibrate(ctx context.Context, panel []DrugEventPair) error {
	if len(panel) < 2 {
		return domain.NewValidationError("panel", "calibration requires at least two pairs", len(panel))
	}

	type fetched struct {
		obs PairObservation
		err error
	}
	results := make([]fetched, len(panel))

	sem := make(chan struct{}, d.opts.CalibrationWorkers)
	var wg sync.WaitGroup
	for i, pair := range panel {
		wg.Add(1)
		go func(i int, pair DrugEventPair) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			counts, err := d.source.Counts(ctx, pair.Drug, pair.Event)
			if err != nil {
				results[i] = fetched{err: err}
				return
			}
			expected := expectedCount(counts)
			if expected <= 0 {
				results[i] = fetched{err: domain.NewDataInconsistencyError(
					fmt.Sprintf("zero expected count for %s/%s", pair.Drug, pair.Event))}
				return
			}
			results[i] = fetched{obs: PairObservation{Count: counts.PairCount, Expected: expected}}
		}(i, pair)
	}
	wg.Wait()

	data := make([]PairObservation, 0, len(panel))
	failures := 0
	for _, r := range results {
		if r.err != nil {
			failures++
			continue
		}
		data = append(data, r.obs)
	}
	if len(data) < 2 {
		return domain.NewUnavailableError("reporting source",
			fmt.Sprintf("calibration fetched %d of %d panel pairs", len(data), len(panel)))
	}
	if failures > 0 {
		d.logger.WithFields(logrus.Fields{
			"failed": failures,
			"total":  len(panel),
		}).Warn("Calibration proceeding with partial panel")
	}

	prior, err := FitMixture(data)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.prior = prior
	d.calibrated = true
	d.mu.Unlock()

	d.logger.WithFields(logrus.Fields{
		"pairs":  len(data),
		"alpha1": prior.Alpha1,
		"alpha2": prior.Alpha2,
		"w":      prior.W,
	}).Info("Fitted MGPS mixture prior over surveillance panel")
	return nil
}

// Detect screens one drug-event pair. A failed or timed-out source query
// degrades to an explicitly labeled unavailable result rather than a
// silent zero-signal one.
func (d *Detector) Detect(ctx context.Context, req DetectRequest) (*domain.SignalResult, error) {
	if req.Drug == "" || req.Event == "" {
		return nil, domain.NewValidationError("request", "drug and event are required", req)
	}

	result := &domain.SignalResult{
		Drug:  req.Drug,
		Event: req.Event,
		Diagnostics: domain.Diagnostics{
			Method:      "disproportionality",
			GeneratedAt: time.Now().UTC(),
			Inputs: map[string]string{
				"drug":  req.Drug,
				"event": req.Event,
			},
		},
	}

	counts, err := d.source.Counts(ctx, req.Drug, req.Event)
	if err != nil {
		if domain.IsUnavailable(err) || ctx.Err() != nil {
			result.Tier = domain.SIGNAL_UNAVAILABLE
			result.Diagnostics.Unavailable = true
			result.Diagnostics.AddWarning(fmt.Sprintf("external source query failed: %v", err))
			d.logger.WithError(err).WithFields(logrus.Fields{
				"drug":  req.Drug,
				"event": req.Event,
			}).Warn("Signal detection degraded to unavailable result")
			return result, nil
		}
		return nil, err
	}
	result.Diagnostics.SourceFetched = &counts.FetchedAt
	result.Diagnostics.SourceCached = counts.FromCache

	table, err := BuildTable(counts)
	if err != nil {
		return nil, err
	}
	result.Table = table

	prr, err := PRR(table, d.opts.Level)
	if err != nil {
		return nil, err
	}
	ror, err := ROR(table, d.opts.Level)
	if err != nil {
		return nil, err
	}
	if prr.Corrected {
		result.Diagnostics.AddWarning("zero cell; Haldane-Anscombe continuity correction applied")
	}

	d.mu.RLock()
	prior := d.prior
	calibrated := d.calibrated
	d.mu.RUnlock()
	if !calibrated {
		result.Diagnostics.AddFallback("uncalibrated default mixture prior")
	}

	shrink, err := Shrink(prior, table.A, expectedCount(counts))
	if err != nil {
		return nil, err
	}

	result.PRR, result.PRRLow, result.PRRHigh = prr.Value, prr.Lower, prr.Upper
	result.ROR, result.RORLow, result.RORHigh = ror.Value, ror.Lower, ror.Upper
	result.EBGM = shrink.EBGM
	result.EB05 = shrink.EB05
	result.Tier = Classify(d.opts.Thresholds, table, prr, shrink)

	d.applyWeber(req, result)

	return result, nil
}

// applyWeber annotates or suppresses signals for recently approved
// products, where stimulated reporting inflates counts.
func (d *Detector) applyWeber(req DetectRequest, result *domain.SignalResult) {
	if req.ApprovalDate == nil || d.opts.WeberWindow <= 0 {
		return
	}
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	if asOf.Sub(*req.ApprovalDate) >= d.opts.WeberWindow {
		return
	}

	result.Diagnostics.AddWarning(fmt.Sprintf(
		"product approved within the last %s; early post-approval reporting is systematically inflated",
		d.opts.WeberWindow))
	if d.opts.WeberSuppress && result.Tier != domain.SIGNAL_NONE {
		result.Diagnostics.AddWarning(fmt.Sprintf("tier %s suppressed by early-approval policy", result.Tier))
		result.Suppressed = true
		result.Tier = domain.SIGNAL_NONE
	}
}

// expectedCount is the expected pair count under independence.
func expectedCount(c *domain.ReportCounts) float64 {
	return float64(c.DrugTotal) * float64(c.EventTotal) / float64(c.NTotal)
}
