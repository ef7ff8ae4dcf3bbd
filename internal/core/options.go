package core

import (
	"time"

	"clonefreq/pkg/domain"

	"github.com/google/uuid"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger; nil keeps the no-op logger.
func WithLogger(l Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder; nil keeps the no-op recorder.
func WithMetrics(m MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides the time source.
func WithClock(c Clock) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithRetry sets the per-clonotype retry policy.
func WithRetry(p RetryPolicy) ServiceOption {
	return func(s *Service) { s.retry = p }
}

// WithRegistry replaces the built-in study registry.
func WithRegistry(r *domain.StudyRegistry) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithIDGenerator overrides the frequency record id source.
func WithIDGenerator(fn func() string) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func defaultID() string { return uuid.NewString() }
