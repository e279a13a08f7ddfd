package domain

import (
	"context"
	"time"
)

// ReportCounts holds the raw counts obtained from the spontaneous-report
// database for one drug-event pair: the pair count, the drug and event
// marginals, and the unrestricted total report count. NTotal must come from
// a filter-free count query, never from a proxy multiplier.
type ReportCounts struct {
	PairCount  int       `json:"pair_count"`
	DrugTotal  int       `json:"drug_total"`
	EventTotal int       `json:"event_total"`
	NTotal     int       `json:"n_total"`
	FetchedAt  time.Time `json:"fetched_at"`
	FromCache  bool      `json:"from_cache"`
}

// ReportSource is the queryable external reporting-database endpoint.
// Implementations must honour context cancellation and an explicit request
// budget, and return a typed UnavailableError on timeout or exhaustion.
type ReportSource interface {
	Counts(ctx context.Context, drug, event string) (*ReportCounts, error)
}

// ClinicalConfig resolves the versioned clinical configuration: priors per
// adverse event type, mitigation strategies and pairwise correlations.
// Implementations are immutable snapshots; a change produces a new version.
type ClinicalConfig interface {
	Version() string
	PriorFor(eventType AdverseEventType) (Prior, error)
	Strategy(id string) (MitigationStrategy, error)
	Correlation(strategyA, strategyB string) (rho float64, explicit bool)
}
