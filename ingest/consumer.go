// Package ingest feeds producer events from Kafka into Herald.
//
// Producers publish one JSON message per event:
//
//	{"owner_id": "u_123", "event": "link_click", "data": {...},
//	 "visitor": {"country": "DE"}, "ip": "203.0.113.7"}
//
// A raw ip is replaced by its salted hash before the event is emitted; the
// address itself never reaches a subscriber.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/xraph/herald"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/observability"
)

// Results recorded on the ingest metric.
const (
	ResultEmitted   = "emitted"
	ResultMalformed = "malformed"
	ResultRejected  = "rejected"
	ResultPartial   = "partial"
	ResultFailed    = "failed"
)

// Emitter is implemented by *herald.Herald.
type Emitter interface {
	Emit(ctx context.Context, ownerID string, kind event.Kind, data any, visitor *event.Visitor) (*herald.Emission, error)
}

// Message is the producer wire format.
type Message struct {
	OwnerID string          `json:"owner_id"`
	Event   string          `json:"event"`
	Data    any             `json:"data"`
	Visitor *event.Visitor  `json:"visitor,omitempty"`
	IP      string          `json:"ip,omitempty"`
}

// Config configures a Consumer.
type Config struct {
	// IPSalt salts the hash of raw visitor addresses.
	IPSalt string

	// MaxRetries bounds retries of transient emit failures. Default 3.
	MaxRetries int

	// RetryBackoff is the first retry delay, doubled per retry. Default 500ms.
	RetryBackoff time.Duration
}

// Consumer reads producer messages and emits them. Every message is
// committed once handled, including those that could not be emitted, so
// one bad message never blocks the partition.
type Consumer struct {
	reader  Reader
	emitter Emitter
	config  Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewConsumer returns a Consumer. metrics may be nil.
func NewConsumer(r Reader, e Emitter, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	return &Consumer{
		reader:  r,
		emitter: e,
		config:  cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Run consumes until ctx is cancelled or the reader fails. It returns nil
// on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "ingest consumer started")
	defer c.logger.InfoContext(ctx, "ingest consumer stopped")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ingest: fetch: %w", err)
		}

		result := c.handle(ctx, msg)
		if ctx.Err() != nil {
			// Left uncommitted so the next member of the group re-reads it.
			return nil
		}
		c.count(result)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ingest: commit offset %d: %w", msg.Offset, err)
		}
	}
}

// Close closes the reader.
func (c *Consumer) Close() error { return c.reader.Close() }

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) string {
	m, kind, err := c.decode(msg.Value)
	if err != nil {
		c.logger.WarnContext(ctx, "ingest: malformed message",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		return ResultMalformed
	}

	visitor := m.Visitor
	if m.IP != "" {
		if visitor == nil {
			visitor = &event.Visitor{}
		}
		visitor.IPHash = event.HashIP(m.IP, c.config.IPSalt)
	}

	backoff := c.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		em, err := c.emitter.Emit(ctx, m.OwnerID, kind, m.Data, visitor)
		switch {
		case err == nil:
			return ResultEmitted

		case em != nil:
			// Some deliveries exist; emitting again would duplicate them.
			c.logger.ErrorContext(ctx, "ingest: event partially emitted",
				"owner_id", m.OwnerID, "event", kind.String(),
				"deliveries", len(em.Deliveries), "error", err)
			return ResultPartial

		case permanent(err):
			c.logger.WarnContext(ctx, "ingest: event rejected",
				"owner_id", m.OwnerID, "event", kind.String(), "error", err)
			return ResultRejected

		case attempt >= c.config.MaxRetries:
			c.logger.ErrorContext(ctx, "ingest: emit failed, giving up",
				"owner_id", m.OwnerID, "event", kind.String(),
				"retries", attempt, "error", err)
			return ResultFailed
		}

		c.logger.WarnContext(ctx, "ingest: emit failed, retrying",
			"owner_id", m.OwnerID, "event", kind.String(),
			"retry", attempt+1, "delay", backoff, "error", err)

		select {
		case <-ctx.Done():
			return ResultFailed
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (c *Consumer) decode(b []byte) (*Message, event.Kind, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, 0, err
	}
	if m.OwnerID == "" {
		return nil, 0, errors.New("owner_id is required")
	}
	kind, err := event.ParseKind(m.Event)
	if err != nil {
		return nil, 0, err
	}
	return &m, kind, nil
}

// permanent reports errors that retrying cannot fix.
func permanent(err error) bool {
	return errors.Is(err, herald.ErrPayloadValidationFailed) ||
		errors.Is(err, event.ErrUnknownKind)
}

func (c *Consumer) count(result string) {
	if c.metrics != nil {
		c.metrics.IngestMessages.WithLabelValues(result).Inc()
	}
}
