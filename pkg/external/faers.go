package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/cart-safety-engine/internal/domain"
)

// ReportClient handles interactions with the spontaneous adverse-event
// report database (openFDA FAERS API). Every query consumes the shared
// request budget, so callers should sit behind the resilient wrapper.
type ReportClient struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	limiter      *rate.Limiter
	retryCount   int
	retryBackoff time.Duration
	logger       *logrus.Logger
}

// NewReportClient creates a new FAERS API client.
func NewReportClient(config domain.ReportingConfig, logger *logrus.Logger) *ReportClient {
	window := config.RateWindow
	if window <= 0 {
		window = time.Minute
	}
	perSecond := float64(config.RateLimit) / window.Seconds()
	if perSecond <= 0 {
		perSecond = 4
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}

	return &ReportClient{
		baseURL: strings.TrimSuffix(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter:      rate.NewLimiter(rate.Limit(perSecond), burst),
		retryCount:   config.RetryCount,
		retryBackoff: config.RetryBackoff,
		logger:       logger,
	}
}

// totalResponse is the envelope of an openFDA query; only the match total
// is consumed.
type totalResponse struct {
	Meta struct {
		Results struct {
			Total int `json:"total"`
		} `json:"results"`
	} `json:"meta"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Counts fetches the four contingency totals for one product and reaction
// term: reports mentioning both, reports mentioning the product, reports
// mentioning the reaction, and the grand total of the database. The grand
// total query deliberately carries no filter at all so the denominator is
// the whole reporting universe, not a filtered slice of it.
func (r *ReportClient) Counts(ctx context.Context, drug, event string) (*domain.ReportCounts, error) {
	if strings.TrimSpace(drug) == "" {
		return nil, domain.NewValidationError("drug", "product name is required", drug)
	}
	if strings.TrimSpace(event) == "" {
		return nil, domain.NewValidationError("event", "reaction term is required", event)
	}

	drugClause := fmt.Sprintf(`patient.drug.medicinalproduct:%q`, drug)
	eventClause := fmt.Sprintf(`patient.reaction.reactionmeddrapt:%q`, event)

	pair, err := r.total(ctx, drugClause+" AND "+eventClause)
	if err != nil {
		return nil, fmt.Errorf("pair count query failed: %w", err)
	}
	drugTotal, err := r.total(ctx, drugClause)
	if err != nil {
		return nil, fmt.Errorf("product total query failed: %w", err)
	}
	eventTotal, err := r.total(ctx, eventClause)
	if err != nil {
		return nil, fmt.Errorf("reaction total query failed: %w", err)
	}
	nTotal, err := r.total(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("database total query failed: %w", err)
	}

	return &domain.ReportCounts{
		PairCount:  pair,
		DrugTotal:  drugTotal,
		EventTotal: eventTotal,
		NTotal:     nTotal,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

// total runs one count query against the drug event endpoint and returns
// the number of matching reports. A 404 from openFDA means no report
// matched, which is a legitimate zero rather than a failure.
func (r *ReportClient) total(ctx context.Context, search string) (int, error) {
	params := url.Values{}
	params.Set("limit", "1")
	if search != "" {
		params.Set("search", search)
	}
	if r.apiKey != "" {
		params.Set("api_key", r.apiKey)
	}
	queryURL := fmt.Sprintf("%s/drug/event.json?%s", r.baseURL, params.Encode())

	var lastErr error
	for attempt := 0; attempt <= r.retryCount; attempt++ {
		if attempt > 0 {
			backoff := r.retryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return 0, err
		}

		total, retryable, err := r.fetchTotal(ctx, queryURL)
		if err == nil {
			return total, nil
		}
		lastErr = err
		if !retryable {
			return 0, err
		}
		r.logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"error":   err.Error(),
		}).Warn("Report count query failed, retrying")
	}

	return 0, fmt.Errorf("query failed after %d attempts: %w", r.retryCount+1, lastErr)
}

func (r *ReportClient) fetchTotal(ctx context.Context, queryURL string) (total int, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, true, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// Parsed below.
	case resp.StatusCode == http.StatusNotFound:
		return 0, false, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return 0, true, domain.NewEngineError(domain.ErrRateLimit,
			"report database rejected the request rate", "", "")
	case resp.StatusCode >= 500:
		return 0, true, domain.NewEngineError(domain.ErrExternalAPI,
			fmt.Sprintf("report database returned status %d", resp.StatusCode), "", "")
	default:
		body, _ := io.ReadAll(resp.Body)
		return 0, false, domain.NewEngineError(domain.ErrExternalAPI,
			fmt.Sprintf("report database returned status %d", resp.StatusCode), string(body), "")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, true, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed totalResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, false, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error.Code != "" {
		return 0, false, domain.NewEngineError(domain.ErrExternalAPI,
			fmt.Sprintf("report database error: %s", parsed.Error.Message), parsed.Error.Code, "")
	}

	return parsed.Meta.Results.Total, false, nil
}
