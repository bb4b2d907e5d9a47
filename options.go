package herald

import (
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/store"
)

// Option configures a Herald instance.
type Option func(*Herald) error

// WithStore sets the persistence backend. Required.
func WithStore(s store.Store) Option {
	return func(h *Herald) error {
		h.store = s
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Herald) error {
		if logger != nil {
			h.logger = logger
		}
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(h *Herald) error {
		h.config = cfg
		return nil
	}
}

// WithConcurrency sets the number of delivery goroutines.
func WithConcurrency(n int) Option {
	return func(h *Herald) error {
		if n < 1 {
			return errors.New("herald: concurrency must be positive")
		}
		h.config.Concurrency = n
		return nil
	}
}

// WithQueueSize bounds the dispatch queue.
func WithQueueSize(n int) Option {
	return func(h *Herald) error {
		if n < 1 {
			return errors.New("herald: queue size must be positive")
		}
		h.config.QueueSize = n
		return nil
	}
}

// WithRequestTimeout sets the per-attempt HTTP timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Herald) error {
		h.config.RequestTimeout = d
		return nil
	}
}

// WithMaxAttempts sets the attempt ceiling.
func WithMaxAttempts(n int) Option {
	return func(h *Herald) error {
		if n < 1 {
			return errors.New("herald: max attempts must be positive")
		}
		h.config.MaxAttempts = n
		return nil
	}
}

// WithBackoff sets the first retry wait and its cap.
func WithBackoff(initial, maxBackoff time.Duration) Option {
	return func(h *Herald) error {
		h.config.InitialBackoff = initial
		h.config.MaxBackoff = maxBackoff
		return nil
	}
}

// WithRedrive configures the stale-delivery sweep. An interval of zero
// disables it.
func WithRedrive(interval, staleAfter time.Duration) Option {
	return func(h *Herald) error {
		h.config.RedriveInterval = interval
		h.config.RedriveStaleAfter = staleAfter
		return nil
	}
}

// WithPayloadValidation toggles schema validation of event data.
func WithPayloadValidation(enabled bool) Option {
	return func(h *Herald) error {
		h.config.ValidatePayloads = enabled
		return nil
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Herald) error {
		h.metrics = m
		return nil
	}
}

// WithTracer enables OpenTelemetry spans.
func WithTracer(t *observability.Tracer) Option {
	return func(h *Herald) error {
		h.tracer = t
		return nil
	}
}

// WithAttemptLog records every delivery attempt. Stores that implement
// delivery.AttemptLog are used automatically.
func WithAttemptLog(l delivery.AttemptLog) Option {
	return func(h *Herald) error {
		h.attempts = l
		return nil
	}
}
