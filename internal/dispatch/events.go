package dispatch

import (
	"time"

	"notifyd/internal/delivery"
)

const (
	EventSubmitted     = "delivery.submitted"
	EventAttemptFailed = "delivery.attempt_failed"
	EventSent          = "delivery.sent"
	EventFailed        = "delivery.failed"
)

// DeliveryEvent is published on the event bus for lifecycle transitions.
// Keep it small; subscribers may log or serialize it.
type DeliveryEvent struct {
	ID        string           `json:"id"`
	Channel   delivery.Channel `json:"channel"`
	Recipient string           `json:"recipient"`
	Attempt   int              `json:"attempt,omitempty"`
	Status    delivery.Status  `json:"status"`
	Error     string           `json:"error,omitempty"`
	At        time.Time        `json:"at"`
}
