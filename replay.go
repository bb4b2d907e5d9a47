package herald

import (
	"context"
	"fmt"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/id"
)

// Replay sends a failed delivery again. It creates a new pending delivery
// for the same event and payload, so the receiver sees the original event
// id, and hands it to the worker with the subscription's current URL and
// secret. The failed record is left as it is.
func (h *Herald) Replay(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	old, err := h.store.GetDelivery(ctx, delID)
	if err != nil {
		return nil, err
	}
	if old.Status != delivery.StatusFailed {
		return nil, fmt.Errorf("%w: status is %s", ErrNotReplayable, old.Status)
	}

	sub, err := h.store.GetSubscription(ctx, old.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if !sub.Active {
		return nil, fmt.Errorf("%w: subscription is inactive", ErrNotReplayable)
	}

	d := delivery.New(sub.ID, old.EventID, old.Kind, old.Payload)
	if err := h.store.CreateDelivery(ctx, d); err != nil {
		return nil, fmt.Errorf("herald: create replay delivery: %w", err)
	}
	if h.metrics != nil {
		h.metrics.DeliveriesCreated.Inc()
	}

	h.logger.InfoContext(ctx, "delivery replayed",
		"delivery_id", d.ID.String(), "replay_of", old.ID.String(),
		"subscription_id", sub.ID.String())

	h.dispatch(ctx, d, sub)
	return d, nil
}
