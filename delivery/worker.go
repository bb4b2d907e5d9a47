package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/observability"
)

// Dispatch errors. The delivery record stays pending in every case.
var (
	ErrQueueFull       = errors.New("delivery: worker queue is full")
	ErrWorkerStopped   = errors.New("delivery: worker is stopped")
	ErrAlreadyInFlight = errors.New("delivery: delivery is already in flight")
)

// storeTimeout bounds the bookkeeping writes after an attempt.
const storeTimeout = 5 * time.Second

// Job is everything needed to attempt one delivery.
type Job struct {
	DeliveryID     id.ID
	SubscriptionID id.ID
	EventID        id.ID
	Kind           event.Kind
	URL            string
	Secret         string
	Payload        []byte

	// Attempt is the 1-based number of the next attempt.
	Attempt int
}

// WorkerStore is what the worker writes to.
type WorkerStore interface {
	UpdateDelivery(ctx context.Context, delID id.ID, u Update) error
	TouchLastTriggered(ctx context.Context, subID id.ID, at time.Time) error
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	Concurrency    int
	QueueSize      int
	RequestTimeout time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	UserAgent      string

	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
	AttemptLog AttemptLog
}

// Worker performs deliveries on a bounded pool. Retries wait on timers,
// not goroutines, and attempt k+1 of a delivery is only scheduled after
// the outcome of attempt k has been stored.
type Worker struct {
	store   WorkerStore
	sender  *Sender
	retrier *Retrier
	config  WorkerConfig
	logger  *slog.Logger
	pool    *pool[Job]

	mu       sync.Mutex
	started  bool
	stopped  bool
	ctx      context.Context
	cancel   context.CancelFunc
	inflight map[string]struct{}
	timers   map[string]*time.Timer
}

// NewWorker returns a Worker. Jobs handed to Deliver before Start wait in
// the queue.
func NewWorker(store WorkerStore, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}

	w := &Worker{
		store:    store,
		sender:   NewSender(cfg.RequestTimeout, cfg.UserAgent),
		retrier:  NewRetrier(cfg.MaxAttempts, cfg.InitialBackoff, cfg.MaxBackoff),
		config:   cfg,
		logger:   logger,
		inflight: make(map[string]struct{}),
		timers:   make(map[string]*time.Timer),
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.pool = newPool(cfg.QueueSize, w.process)

	return w
}

// Retrier exposes the retry policy.
func (w *Worker) Retrier() *Retrier { return w.retrier }

// Start launches the pool. Cancelling ctx aborts in-flight attempts.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.stopped {
		return
	}
	w.started = true

	parent := w.cancel
	w.ctx, w.cancel = context.WithCancel(ctx)
	parent()

	w.pool.start(w.ctx, w.config.Concurrency)
}

// Stop cancels pending retry timers, lets the pool finish queued jobs and
// waits for in-flight attempts. When ctx expires first, in-flight attempts
// are aborted and left pending. Deliveries whose retries were cancelled
// also stay pending. A worker stopped before Start sends nothing: queued
// jobs are released and their records stay pending.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	for key, t := range w.timers {
		t.Stop()
		delete(w.timers, key)
		w.releaseKeyLocked(key)
	}
	if !w.started {
		for _, job := range w.pool.discard() {
			w.releaseLocked(job.DeliveryID)
		}
		w.mu.Unlock()
		w.cancel()
		return nil
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.pool.drain()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		w.cancel()
		<-done
	}
	w.cancel()

	return err
}

// Deliver queues the first (or a re-driven) attempt of a delivery. It never
// blocks on the network.
func (w *Worker) Deliver(job Job) error {
	if job.Attempt < 1 {
		job.Attempt = 1
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return ErrWorkerStopped
	}
	if _, busy := w.inflight[job.DeliveryID.String()]; busy {
		return ErrAlreadyInFlight
	}
	if !w.pool.submit(job) {
		if m := w.config.Metrics; m != nil {
			m.DispatchRejected.Inc()
		}
		return ErrQueueFull
	}

	w.inflight[job.DeliveryID.String()] = struct{}{}
	if m := w.config.Metrics; m != nil {
		m.Inflight.Inc()
	}

	return nil
}

// InFlight reports whether the worker owns the delivery: queued, sending
// or waiting for a retry.
func (w *Worker) InFlight(delID id.ID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.inflight[delID.String()]
	return ok
}

// Pending returns the number of deliveries the worker owns.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inflight)
}

func (w *Worker) process(ctx context.Context, job Job) {
	var span trace.Span
	if w.config.Tracer != nil {
		ctx, span = w.config.Tracer.StartAttemptSpan(ctx, job.DeliveryID.String(), job.SubscriptionID.String(), job.Attempt)
	}

	res := w.sender.Send(ctx, job)

	if span != nil {
		w.config.Tracer.EndAttemptSpan(span, res.StatusCode, res.LatencyMs, res.Error)
	}

	if res.StatusCode == 0 && ctx.Err() != nil {
		// Shutdown cut the attempt short; the record stays pending.
		w.logger.WarnContext(ctx, "delivery attempt aborted by shutdown",
			"delivery_id", job.DeliveryID.String(), "attempt", job.Attempt)
		w.release(job.DeliveryID)
		return
	}

	decision := w.retrier.Decide(res, job.Attempt)
	now := entity.Now()

	u := Update{
		StatusCode:   res.StatusCode,
		Response:     res.Detail(),
		AttemptCount: job.Attempt,
	}

	var delay time.Duration
	switch decision {
	case Delivered:
		u.Status = StatusSuccess
		u.DeliveredAt = &now
	case Retry:
		delay = w.retrier.Backoff(job.Attempt)
		next := now.Add(delay)
		u.Status = StatusPending
		u.NextAttemptAt = &next
	case Fail:
		u.Status = StatusFailed
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	if m := w.config.Metrics; m != nil {
		m.RecordAttempt(decision.String(), float64(res.LatencyMs)/1000)
	}
	w.recordAttempt(wctx, job, res, decision, now)

	if err := w.store.UpdateDelivery(wctx, job.DeliveryID, u); err != nil {
		// Without a stored outcome the chain cannot continue; the sweep
		// will pick the record up again.
		w.logger.ErrorContext(ctx, "update delivery failed",
			"delivery_id", job.DeliveryID.String(), "attempt", job.Attempt, "error", err)
		w.release(job.DeliveryID)
		return
	}

	switch decision {
	case Delivered:
		w.logger.DebugContext(ctx, "delivered",
			"delivery_id", job.DeliveryID.String(), "status", res.StatusCode,
			"attempt", job.Attempt, "latency_ms", res.LatencyMs)
		if err := w.store.TouchLastTriggered(wctx, job.SubscriptionID, now); err != nil {
			w.logger.ErrorContext(ctx, "touch subscription failed",
				"subscription_id", job.SubscriptionID.String(), "error", err)
		}
		w.release(job.DeliveryID)

	case Retry:
		w.logger.DebugContext(ctx, "retry scheduled",
			"delivery_id", job.DeliveryID.String(), "attempt", job.Attempt,
			"status", res.StatusCode, "error", res.Error, "delay", delay)
		next := job
		next.Attempt++
		w.schedule(next, delay)

	case Fail:
		w.logger.WarnContext(ctx, "delivery failed permanently",
			"delivery_id", job.DeliveryID.String(), "attempts", job.Attempt,
			"status", res.StatusCode, "error", res.Error)
		w.release(job.DeliveryID)
	}
}

func (w *Worker) recordAttempt(ctx context.Context, job Job, res Result, d Decision, at time.Time) {
	if w.config.AttemptLog == nil {
		return
	}
	a := &Attempt{
		DeliveryID:     job.DeliveryID,
		SubscriptionID: job.SubscriptionID,
		EventID:        job.EventID,
		Kind:           job.Kind.String(),
		Attempt:        job.Attempt,
		StatusCode:     res.StatusCode,
		Error:          res.Error,
		LatencyMs:      res.LatencyMs,
		Outcome:        d.String(),
		At:             at,
	}
	if err := w.config.AttemptLog.RecordAttempt(ctx, a); err != nil {
		w.logger.WarnContext(ctx, "record attempt failed",
			"delivery_id", job.DeliveryID.String(), "error", err)
	}
}

// schedule arms the retry timer for job.
func (w *Worker) schedule(job Job, delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		w.releaseLocked(job.DeliveryID)
		return
	}
	w.timers[job.DeliveryID.String()] = time.AfterFunc(delay, func() { w.fire(job) })
}

// fire moves a due retry onto the queue, re-arming the timer while the
// queue is full.
func (w *Worker) fire(job Job) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.timers, job.DeliveryID.String())
	if w.stopped {
		w.releaseLocked(job.DeliveryID)
		return
	}
	if w.pool.submit(job) {
		return
	}

	if m := w.config.Metrics; m != nil {
		m.DispatchRejected.Inc()
	}
	w.logger.Warn("worker queue full, retry postponed",
		"delivery_id", job.DeliveryID.String(), "attempt", job.Attempt)

	delay := w.retrier.Backoff(1)
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	w.timers[job.DeliveryID.String()] = time.AfterFunc(delay, func() { w.fire(job) })
}

func (w *Worker) release(delID id.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.releaseLocked(delID)
}

func (w *Worker) releaseLocked(delID id.ID) {
	w.releaseKeyLocked(delID.String())
}

func (w *Worker) releaseKeyLocked(key string) {
	if _, ok := w.inflight[key]; !ok {
		return
	}
	delete(w.inflight, key)
	if m := w.config.Metrics; m != nil {
		m.Inflight.Dec()
	}
}
