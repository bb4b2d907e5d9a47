package herald

import (
	"time"

	"github.com/xraph/herald/delivery"
)

// Config holds the tunables of a Herald instance.
type Config struct {
	// Concurrency is the number of delivery goroutines.
	Concurrency int

	// QueueSize bounds deliveries waiting for a free goroutine. Emit leaves
	// deliveries pending (for the redrive sweep) when it is full.
	QueueSize int

	// RequestTimeout is the hard limit on one HTTP attempt.
	RequestTimeout time.Duration

	// MaxAttempts is the attempt ceiling per delivery, the first included.
	MaxAttempts int

	// InitialBackoff is the wait after the first failure; it doubles after
	// each further failure up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	UserAgent string

	// ValidatePayloads checks event data against the catalog schemas.
	ValidatePayloads bool

	// RedriveInterval is how often stale pending deliveries are swept.
	// Zero disables the sweep.
	RedriveInterval time.Duration

	// RedriveStaleAfter is how long a pending delivery must sit untouched
	// before the sweep takes it over.
	RedriveStaleAfter time.Duration

	// RedriveBatchSize caps deliveries handled per sweep.
	RedriveBatchSize int

	// ShutdownTimeout bounds Stop when the caller's context has no deadline.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the defaults: three attempts with 1s and 2s waits
// and a 10s request timeout.
func DefaultConfig() Config {
	return Config{
		Concurrency:       16,
		QueueSize:         1024,
		RequestTimeout:    10 * time.Second,
		MaxAttempts:       3,
		InitialBackoff:    time.Second,
		MaxBackoff:        time.Minute,
		UserAgent:         delivery.DefaultUserAgent,
		ValidatePayloads:  true,
		RedriveInterval:   time.Minute,
		RedriveStaleAfter: 5 * time.Minute,
		RedriveBatchSize:  100,
		ShutdownTimeout:   30 * time.Second,
	}
}
