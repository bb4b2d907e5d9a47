package herald

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/subscription"
)

// Redrive re-dispatches pending deliveries that nothing has touched for
// staleAfter: records orphaned by a restart, a full queue or a failed
// bookkeeping write. Deliveries the worker still owns are skipped. A
// delivery whose subscription is gone or inactive, or whose attempts are
// spent, is marked failed. It returns the number of deliveries handed back
// to the worker.
func (h *Herald) Redrive(ctx context.Context, staleAfter time.Duration) (int, error) {
	before := entity.Now().Add(-staleAfter)

	pending, err := h.store.ListPending(ctx, before, h.config.RedriveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("herald: list pending deliveries: %w", err)
	}

	subs := make(map[string]*subscription.Subscription)
	redriven := 0

	for _, d := range pending {
		if ctx.Err() != nil {
			return redriven, ctx.Err()
		}
		if h.worker.InFlight(d.ID) {
			continue
		}

		key := d.SubscriptionID.String()
		sub, seen := subs[key]
		if !seen {
			sub, err = h.store.GetSubscription(ctx, d.SubscriptionID)
			if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
				h.logger.ErrorContext(ctx, "redrive: load subscription failed",
					"subscription_id", key, "error", err)
				continue
			}
			subs[key] = sub
		}

		switch {
		case sub == nil:
			h.abandon(ctx, d, "subscription deleted")
			continue
		case !sub.Active:
			h.abandon(ctx, d, "subscription inactive")
			continue
		case nextAttempt(d) > h.worker.Retrier().MaxAttempts():
			h.abandon(ctx, d, "")
			continue
		}

		if h.dispatch(ctx, d, sub) {
			redriven++
			if h.metrics != nil {
				h.metrics.Redriven.Inc()
			}
		}
	}

	if redriven > 0 {
		h.logger.InfoContext(ctx, "redrove stale deliveries", "count", redriven)
	}

	return redriven, nil
}

// nextAttempt is the number of the attempt d is waiting for. A delivery
// whose first attempt never completed has no status code yet.
func nextAttempt(d *delivery.Delivery) int {
	if d.StatusCode == nil {
		return max(d.AttemptCount, 1)
	}
	return d.AttemptCount + 1
}

// abandon marks d failed without another attempt. reason replaces the
// stored response when set.
func (h *Herald) abandon(ctx context.Context, d *delivery.Delivery, reason string) {
	u := delivery.Update{
		Status:       delivery.StatusFailed,
		Response:     d.Response,
		AttemptCount: d.AttemptCount,
	}
	if d.StatusCode != nil {
		u.StatusCode = *d.StatusCode
	}
	if reason != "" {
		u.Response = reason
	}

	if err := h.store.UpdateDelivery(ctx, d.ID, u); err != nil {
		h.logger.ErrorContext(ctx, "redrive: mark delivery failed",
			"delivery_id", d.ID.String(), "error", err)
		return
	}

	h.logger.WarnContext(ctx, "redrive: delivery abandoned",
		"delivery_id", d.ID.String(), "reason", u.Response)
}

func (h *Herald) runRedrive(ctx context.Context) {
	ticker := time.NewTicker(h.config.RedriveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := h.Redrive(ctx, h.config.RedriveStaleAfter); err != nil && ctx.Err() == nil {
				h.logger.ErrorContext(ctx, "redrive sweep failed", "error", err)
			}
		}
	}
}
