package registry

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cart-safety-engine/internal/domain"
	"github.com/cart-safety-engine/internal/evidence"
)

// Options carries caller-side estimator configuration. Method selection is a
// caller decision; the registry never picks an estimator heuristically.
type Options struct {
	Level float64
	// Prior is required by the Bayesian estimators.
	Prior domain.Prior
	// Horizon is the future cohort size for the predictive estimator.
	Horizon int
	// ShrinkageWeight, when set, manually overrides the empirical-Bayes
	// shrinkage weight toward the cross-type grand mean.
	ShrinkageWeight *float64
	// OnsetTimes and OnsetHorizonDays feed the Kaplan-Meier estimator.
	OnsetTimes       []domain.TimeToOnset
	OnsetHorizonDays float64
	// HeterogeneityPolicy controls pooling of heterogeneous studies.
	HeterogeneityPolicy domain.HeterogeneityPolicy
	HeterogeneityI2Max  float64
}

// Estimator is the single contract every registered method implements.
type Estimator interface {
	Method() domain.EstimatorMethod
	Estimate(obs []domain.Observation, eventType domain.AdverseEventType, opts Options) (*domain.Estimate, error)
}

// Registry dispatches among the registered point/interval estimators.
type Registry struct {
	logger     *logrus.Logger
	estimators map[domain.EstimatorMethod]Estimator
}

// NewRegistry creates a registry with all seven estimators registered. The
// Bayesian variants delegate to the evidence engine.
func NewRegistry(logger *logrus.Logger, engine *evidence.Engine) (*Registry, error) {
	r := &Registry{
		logger:     logger,
		estimators: make(map[domain.EstimatorMethod]Estimator),
	}

	all := []Estimator{
		&clopperPearsonEstimator{},
		&wilsonEstimator{},
		&randomEffectsEstimator{logger: logger},
		&shrinkageEstimator{logger: logger},
		&kaplanMeierEstimator{},
		&predictiveEstimator{engine: engine},
		&betaBinomialEstimator{engine: engine},
	}
	for _, est := range all {
		if err := r.register(est); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// register adds an estimator, failing loudly on duplicate method names
// rather than silently overwriting.
func (r *Registry) register(est Estimator) error {
	method := est.Method()
	if _, exists := r.estimators[method]; exists {
		return fmt.Errorf("duplicate estimator registration for method %q", method)
	}
	r.estimators[method] = est
	return nil
}

// Methods returns the registered method names.
func (r *Registry) Methods() []domain.EstimatorMethod {
	out := make([]domain.EstimatorMethod, 0, len(r.estimators))
	for m := range r.estimators {
		out = append(out, m)
	}
	return out
}

// Estimate runs the named estimator over the observations for one adverse
// event type. Observations for a different event type are rejected: reusing
// another type's counts is a correctness defect, not a convenience.
func (r *Registry) Estimate(method domain.EstimatorMethod, obs []domain.Observation, eventType domain.AdverseEventType, opts Options) (*domain.Estimate, error) {
	est, ok := r.estimators[method]
	if !ok {
		return nil, domain.NewValidationError("method", "unknown estimator method", string(method))
	}
	if !eventType.Valid() {
		return nil, domain.NewValidationError("adverse_event_type", "unknown adverse event type", string(eventType))
	}
	if opts.Level == 0 {
		opts.Level = 0.95
	}
	if opts.Level <= 0 || opts.Level >= 1 {
		return nil, domain.NewValidationError("level", "interval level must be in (0,1)", opts.Level)
	}

	for _, o := range obs {
		if err := o.Validate(); err != nil {
			return nil, err
		}
		// The shrinkage estimator borrows strength across types and is the
		// only one allowed to see other event types' observations.
		if method != domain.METHOD_EB_SHRINKAGE && o.EventType != eventType {
			return nil, domain.NewValidationError("observations",
				fmt.Sprintf("observation for %s passed to an estimate of %s", o.EventType, eventType),
				o.StudyID)
		}
	}

	result, err := est.Estimate(obs, eventType, opts)
	if err != nil {
		return nil, err
	}
	result.Method = method
	result.Level = opts.Level
	result.Diagnostics.Method = string(method)
	result.Diagnostics.GeneratedAt = time.Now().UTC()

	r.logger.WithFields(logrus.Fields{
		"method":     method,
		"event_type": eventType,
		"point":      result.Point,
	}).Debug("Estimator completed")

	return result, nil
}

// pool sums events and patients across observations.
func pool(obs []domain.Observation) (events, n int) {
	for _, o := range obs {
		events += o.Events
		n += o.N
	}
	return events, n
}

// baseInputs builds the input echo included in every diagnostics block.
func baseInputs(events, n, studies int) map[string]string {
	return map[string]string{
		"events":  fmt.Sprintf("%d", events),
		"n":       fmt.Sprintf("%d", n),
		"studies": fmt.Sprintf("%d", studies),
	}
}
