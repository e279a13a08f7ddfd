package external

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/cart-safety-engine/internal/domain"
)

// ResilientReportSource implements domain.ReportSource over the FAERS
// client with two cache tiers and a circuit breaker. Lookup order is
// in-process cache, then Redis, then the network; a tripped breaker
// surfaces as a typed unavailable error so callers can distinguish
// "could not query" from "queried and found nothing".
type ResilientReportSource struct {
	client  *ReportClient
	redis   *ReportCache // nil when Redis is not configured
	memory  *MemoryCache
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// NewResilientReportSource wires the report client to its caches and
// circuit breaker. The Redis tier is optional.
func NewResilientReportSource(client *ReportClient, redisCache *ReportCache, memory *MemoryCache, logger *logrus.Logger) *ResilientReportSource {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "FAERS",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &ResilientReportSource{
		client:  client,
		redis:   redisCache,
		memory:  memory,
		breaker: breaker,
		logger:  logger,
	}
}

// Counts returns the contingency totals for one product-reaction pair,
// serving from cache when possible.
func (r *ResilientReportSource) Counts(ctx context.Context, drug, event string) (*domain.ReportCounts, error) {
	if strings.TrimSpace(drug) == "" {
		return nil, domain.NewValidationError("drug", "product name is required", drug)
	}
	if strings.TrimSpace(event) == "" {
		return nil, domain.NewValidationError("event", "reaction term is required", event)
	}

	if cached, found := r.memory.Get(drug, event); found {
		return asCached(cached), nil
	}

	if r.redis != nil {
		if cached, found, err := r.redis.Get(ctx, drug, event); err == nil && found {
			r.memory.Set(drug, event, cached)
			return asCached(cached), nil
		} else if err != nil {
			r.logger.WithField("error", err.Error()).Warn("Redis lookup failed, falling through to network")
		}
	}

	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.client.Counts(ctx, drug, event)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.NewUnavailableError("reporting source", "circuit breaker open")
		}
		if domain.IsValidationError(err) {
			return nil, err
		}
		return nil, domain.NewUnavailableError("reporting source", err.Error())
	}

	counts := result.(*domain.ReportCounts)

	r.memory.Set(drug, event, counts)
	if r.redis != nil {
		if cacheErr := r.redis.Set(ctx, drug, event, counts, 0); cacheErr != nil {
			r.logger.WithField("error", cacheErr.Error()).Warn("Failed to cache report counts")
		}
	}

	return counts, nil
}

// BreakerState exposes the breaker state for health reporting.
func (r *ResilientReportSource) BreakerState() gobreaker.State {
	return r.breaker.State()
}

// asCached copies the counts with the cache flag set so diagnostics can
// report data age honestly.
func asCached(counts *domain.ReportCounts) *domain.ReportCounts {
	copied := *counts
	copied.FromCache = true
	return &copied
}
