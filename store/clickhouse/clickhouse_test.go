package clickhouse

import (
	"testing"
	"time"

	"github.com/xraph/herald/id"
)

func TestAttemptRowConversion(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	row := attemptRow{
		DeliveryID:     id.NewDeliveryID().String(),
		Attempt:        2,
		SubscriptionID: id.NewSubscriptionID().String(),
		EventID:        id.NewEventID().String(),
		Event:          "link_click",
		StatusCode:     503,
		LatencyMs:      42,
		Outcome:        "retry",
		At:             at,
	}

	a, err := row.toAttempt()
	if err != nil {
		t.Fatalf("toAttempt: %v", err)
	}
	if a.Attempt != 2 || a.StatusCode != 503 || a.LatencyMs != 42 {
		t.Errorf("attempt = %+v", a)
	}
	if a.DeliveryID.String() != row.DeliveryID {
		t.Errorf("delivery id = %s, want %s", a.DeliveryID, row.DeliveryID)
	}
	if !a.At.Equal(at) {
		t.Errorf("at = %v, want %v", a.At, at)
	}
}

func TestAttemptRowRejectsWrongPrefix(t *testing.T) {
	row := attemptRow{
		DeliveryID:     id.NewSubscriptionID().String(),
		SubscriptionID: id.NewSubscriptionID().String(),
		EventID:        id.NewEventID().String(),
	}
	if _, err := row.toAttempt(); err == nil {
		t.Fatal("expected error for a subscription id in the delivery column")
	}
}
