package config

import (
	"fmt"
	"strings"

	"github.com/cart-safety-engine/internal/domain"
)

// clinicalSnapshot is an immutable resolution of the versioned clinical
// configuration. Lookups never mutate it; a reload builds a new snapshot.
type clinicalSnapshot struct {
	version      string
	priors       map[domain.AdverseEventType]domain.Prior
	strategies   map[string]domain.MitigationStrategy
	correlations map[string]float64
}

// buildClinical resolves the analysis section into a snapshot, failing
// loudly on duplicates and invalid entries. A silently shadowed prior or
// correlation would change estimates without anyone noticing.
func buildClinical(cfg domain.AnalysisConfig) (*clinicalSnapshot, error) {
	s := &clinicalSnapshot{
		version:      cfg.ConfigVersion,
		priors:       make(map[domain.AdverseEventType]domain.Prior, len(cfg.Priors)),
		strategies:   make(map[string]domain.MitigationStrategy, len(cfg.Strategies)),
		correlations: make(map[string]float64, len(cfg.Correlations)),
	}

	for _, entry := range cfg.Priors {
		if !entry.EventType.Valid() {
			return nil, fmt.Errorf("prior for unknown adverse event type %q", entry.EventType)
		}
		if _, dup := s.priors[entry.EventType]; dup {
			return nil, fmt.Errorf("duplicate prior for %s", entry.EventType)
		}
		prior := entry.Prior
		if prior.Version == "" {
			prior.Version = cfg.ConfigVersion
		}
		if err := prior.Validate(); err != nil {
			return nil, fmt.Errorf("prior for %s: %w", entry.EventType, err)
		}
		s.priors[entry.EventType] = prior
	}

	for _, strategy := range cfg.Strategies {
		if strategy.ID == "" {
			return nil, fmt.Errorf("mitigation strategy without an ID")
		}
		if _, dup := s.strategies[strategy.ID]; dup {
			return nil, fmt.Errorf("duplicate mitigation strategy %s", strategy.ID)
		}
		if err := strategy.Validate(); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", strategy.ID, err)
		}
		if len(strategy.TargetEvents) == 0 {
			return nil, fmt.Errorf("strategy %s targets no adverse event", strategy.ID)
		}
		s.strategies[strategy.ID] = strategy
	}

	for _, corr := range cfg.Correlations {
		if corr.StrategyA == corr.StrategyB {
			return nil, fmt.Errorf("self correlation for %s", corr.StrategyA)
		}
		if corr.Rho < 0 || corr.Rho > 1 {
			return nil, fmt.Errorf("correlation for %s and %s out of [0, 1]: %f",
				corr.StrategyA, corr.StrategyB, corr.Rho)
		}
		key := pairKey(corr.StrategyA, corr.StrategyB)
		if _, dup := s.correlations[key]; dup {
			return nil, fmt.Errorf("duplicate correlation for %s and %s", corr.StrategyA, corr.StrategyB)
		}
		s.correlations[key] = corr.Rho
	}

	return s, nil
}

// Version returns the clinical configuration version stamped on every
// estimate derived from this snapshot.
func (s *clinicalSnapshot) Version() string {
	return s.version
}

// PriorFor resolves the versioned prior for an adverse event type.
func (s *clinicalSnapshot) PriorFor(eventType domain.AdverseEventType) (domain.Prior, error) {
	prior, ok := s.priors[eventType]
	if !ok {
		return domain.Prior{}, domain.NewValidationError("event_type",
			"no prior configured for adverse event type", string(eventType))
	}
	return prior, nil
}

// Strategy resolves a mitigation strategy by ID.
func (s *clinicalSnapshot) Strategy(id string) (domain.MitigationStrategy, error) {
	strategy, ok := s.strategies[id]
	if !ok {
		return domain.MitigationStrategy{}, domain.NewValidationError("strategy_id",
			"unknown mitigation strategy", id)
	}
	return strategy, nil
}

// Correlation returns the configured mechanistic-overlap coefficient for a
// strategy pair, and whether one was configured at all.
func (s *clinicalSnapshot) Correlation(strategyA, strategyB string) (float64, bool) {
	rho, ok := s.correlations[pairKey(strategyA, strategyB)]
	return rho, ok
}

// pairKey builds an order-insensitive key for a strategy pair.
func pairKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "|" + b
}
