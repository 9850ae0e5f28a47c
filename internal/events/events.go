package events

import (
	"time"
)

// Trigger identifies which writer applied a payment transition.
const (
	TriggerWebhook        = "webhook"
	TriggerReconciliation = "reconciliation"
)

// PaymentStatusChangedEvent is published exactly once per effective payment
// transition. Consumers (bot notifier, dashboard) key on event_id for dedup.
type PaymentStatusChangedEvent struct {
	EventID        string    `json:"event_id"`
	OrderID        string    `json:"order_id"`
	OrderNumber    string    `json:"order_number,omitempty"`
	PaymentID      string    `json:"payment_id"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	OrderStatus    string    `json:"order_status"`
	Reason         string    `json:"reason,omitempty"`
	Trigger        string    `json:"trigger"`
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"request_id,omitempty"`
}
