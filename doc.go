// Package herald notifies third-party systems about profile events over
// signed webhooks.
//
// Producers call Emit with an owner, an event kind and its data. Herald
// finds the owner's active subscriptions for that kind, records one pending
// delivery per subscription and hands each to a bounded worker pool, which
// POSTs the canonical JSON envelope signed with the subscription secret
// (X-Webhook-Signature: sha256=<hex>). Failed attempts are retried with
// exponential backoff up to a fixed ceiling; every outcome is stored on the
// delivery record. Delivery is at-least-once, so receivers should
// deduplicate by the X-Webhook-Event-ID header.
//
// Quick start:
//
//	h, err := herald.New(herald.WithStore(memory.New()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	h.Start(ctx)
//	defer h.Stop(ctx)
//
//	sub, _ := h.Subscriptions().Create(ctx, "user_123", subscription.Input{
//	    URL:    "https://example.com/hooks",
//	    Events: []string{"link_click"},
//	})
//
//	h.Emit(ctx, "user_123", event.KindLinkClick,
//	    map[string]any{"profileId": "p_1", "linkId": "l_9"}, nil)
package herald
