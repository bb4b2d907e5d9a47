package herald

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/codes"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/store"
	"github.com/xraph/herald/subscription"
)

// Herald is the root webhook notification engine.
type Herald struct {
	config   Config
	store    store.Store
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	attempts delivery.AttemptLog

	catalog       *catalog.Catalog
	subscriptions *subscription.Service
	worker        *delivery.Worker

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	sweeper sync.WaitGroup
}

// New creates a Herald instance with the given options.
func New(opts ...Option) (*Herald, error) {
	h := &Herald{
		config: DefaultConfig(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}

	if h.store == nil {
		return nil, ErrNoStore
	}

	if err := h.wireServices(); err != nil {
		return nil, err
	}

	return h, nil
}

func (h *Herald) wireServices() error {
	cat, err := catalog.Load()
	if err != nil {
		return fmt.Errorf("herald: load catalog: %w", err)
	}
	h.catalog = cat

	if h.attempts == nil {
		if l, ok := h.store.(delivery.AttemptLog); ok {
			h.attempts = l
		}
	}

	h.subscriptions = subscription.NewService(h.store, h.logger)
	h.worker = delivery.NewWorker(h.store, delivery.WorkerConfig{
		Concurrency:    h.config.Concurrency,
		QueueSize:      h.config.QueueSize,
		RequestTimeout: h.config.RequestTimeout,
		MaxAttempts:    h.config.MaxAttempts,
		InitialBackoff: h.config.InitialBackoff,
		MaxBackoff:     h.config.MaxBackoff,
		UserAgent:      h.config.UserAgent,
		Metrics:        h.metrics,
		Tracer:         h.tracer,
		AttemptLog:     h.attempts,
	}, h.logger)

	return nil
}

// Start launches the delivery pool and, when configured, the redrive sweep.
func (h *Herald) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return
	}
	h.started = true

	h.worker.Start(ctx)

	if h.config.RedriveInterval > 0 {
		sctx, cancel := context.WithCancel(ctx)
		h.cancel = cancel
		h.sweeper.Add(1)
		go func() {
			defer h.sweeper.Done()
			h.runRedrive(sctx)
		}()
	}

	h.logger.InfoContext(ctx, "herald started",
		"concurrency", h.config.Concurrency,
		"max_attempts", h.config.MaxAttempts,
		"redrive_interval", h.config.RedriveInterval,
	)
}

// Stop halts the sweep and shuts the worker down. Deliveries that were
// waiting for a retry stay pending; the next process picks them up through
// Redrive. When ctx carries no deadline, Config.ShutdownTimeout applies.
func (h *Herald) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.mu.Unlock()
	h.sweeper.Wait()

	if _, ok := ctx.Deadline(); !ok && h.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.ShutdownTimeout)
		defer cancel()
	}

	err := h.worker.Stop(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "herald stopped with deliveries in flight", "error", err)
		return err
	}

	h.logger.InfoContext(ctx, "herald stopped")
	return nil
}

// Emission describes the fan-out of one emitted event.
type Emission struct {
	EventID    id.ID   `json:"eventId"`
	Deliveries []id.ID `json:"deliveries"`
}

// Emit notifies every active subscription of ownerID that listens to kind.
// It returns once delivery records exist; HTTP attempts happen in the
// background and their failures never reach the caller.
//
// The flow is:
//  1. Check the kind and validate data against its schema
//  2. Resolve the owner's active subscriptions for the kind
//  3. Build and canonicalize the envelope once
//  4. Persist a pending delivery per subscription and hand it to the worker
//
// A resolve failure returns ErrResolveFailed and creates nothing. A failed
// delivery insert skips that subscription only; the joined errors are
// returned alongside the deliveries that were created.
func (h *Herald) Emit(ctx context.Context, ownerID string, kind event.Kind, data any, visitor *event.Visitor) (*Emission, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", event.ErrUnknownKind, uint8(kind))
	}

	ctx, end := h.startEmitSpan(ctx, ownerID, kind)
	em, err := h.emit(ctx, ownerID, kind, data, visitor)
	end(err)

	return em, err
}

func (h *Herald) emit(ctx context.Context, ownerID string, kind event.Kind, data any, visitor *event.Visitor) (*Emission, error) {
	// Step 1: validate. Missing data is sent as {} and checked as such.
	if data == nil {
		data = map[string]any{}
	}
	if h.config.ValidatePayloads {
		if err := h.catalog.Validate(kind, data); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPayloadValidationFailed, err)
		}
	}

	// Step 2: resolve.
	subs, err := h.store.FindActive(ctx, ownerID, kind)
	if err != nil {
		h.logger.ErrorContext(ctx, "resolve subscriptions failed",
			"owner_id", ownerID, "event", kind.String(), "error", err)
		return nil, fmt.Errorf("%w: %w", ErrResolveFailed, err)
	}

	em := &Emission{EventID: id.NewEventID()}

	if h.metrics != nil {
		h.metrics.EventsEmitted.WithLabelValues(kind.String()).Inc()
	}

	if len(subs) == 0 {
		h.logger.DebugContext(ctx, "no subscriptions for event",
			"owner_id", ownerID, "event", kind.String())
		return em, nil
	}

	// Step 3: one payload shared by every delivery.
	payload, err := event.NewEnvelope(kind, data, visitor).Payload()
	if err != nil {
		return nil, fmt.Errorf("herald: encode envelope: %w", err)
	}

	// Step 4: fan out.
	var errs []error
	for _, sub := range subs {
		d := delivery.New(sub.ID, em.EventID, kind, payload)
		if err := h.store.CreateDelivery(ctx, d); err != nil {
			h.logger.ErrorContext(ctx, "create delivery failed",
				"subscription_id", sub.ID.String(), "event_id", em.EventID.String(), "error", err)
			errs = append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
			continue
		}
		em.Deliveries = append(em.Deliveries, d.ID)
		if h.metrics != nil {
			h.metrics.DeliveriesCreated.Inc()
		}

		h.dispatch(ctx, d, sub)
	}

	h.logger.DebugContext(ctx, "event emitted",
		"owner_id", ownerID, "event", kind.String(),
		"event_id", em.EventID.String(), "deliveries", len(em.Deliveries))

	return em, errors.Join(errs...)
}

// dispatch hands d to the worker. A rejected hand-off leaves the record
// pending for the redrive sweep and reports false.
func (h *Herald) dispatch(ctx context.Context, d *delivery.Delivery, sub *subscription.Subscription) bool {
	err := h.worker.Deliver(delivery.Job{
		DeliveryID:     d.ID,
		SubscriptionID: sub.ID,
		EventID:        d.EventID,
		Kind:           d.Kind,
		URL:            sub.URL,
		Secret:         sub.Secret,
		Payload:        d.Payload,
		Attempt:        nextAttempt(d),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "delivery left pending",
			"delivery_id", d.ID.String(), "subscription_id", sub.ID.String(), "error", err)
		return false
	}
	return true
}

// SendTest emits a profile_updated test event to the owner's matching
// subscriptions.
func (h *Herald) SendTest(ctx context.Context, ownerID string) (*Emission, error) {
	data := map[string]any{
		"test":    true,
		"message": "This is a test webhook from Herald",
	}
	visitor := &event.Visitor{IPHash: "test-ip", Browser: "Herald-Test"}

	return h.Emit(ctx, ownerID, event.KindProfileUpdated, data, visitor)
}

func (h *Herald) startEmitSpan(ctx context.Context, ownerID string, kind event.Kind) (context.Context, func(error)) {
	if h.tracer == nil {
		return ctx, func(error) {}
	}

	ctx, span := h.tracer.StartEmitSpan(ctx, ownerID, kind.String())
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// Subscriptions returns the subscription service.
func (h *Herald) Subscriptions() *subscription.Service { return h.subscriptions }

// Catalog returns the event kind catalog.
func (h *Herald) Catalog() *catalog.Catalog { return h.catalog }

// Store returns the underlying store.
func (h *Herald) Store() store.Store { return h.store }

// Worker returns the delivery worker.
func (h *Herald) Worker() *delivery.Worker { return h.worker }

// Attempts returns the attempt log, or nil when none is configured.
func (h *Herald) Attempts() delivery.AttemptLog { return h.attempts }

// Config returns the effective configuration.
func (h *Herald) Config() Config { return h.config }
