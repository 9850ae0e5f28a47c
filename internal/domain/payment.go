package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusSuccess   PaymentStatus = "SUCCESS"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusTimeout   PaymentStatus = "TIMEOUT"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// IsTerminal reports whether a payment in this status may never transition
// again. Only PENDING payments are eligible for resolution.
func (s PaymentStatus) IsTerminal() bool {
	return s != PaymentStatusPending
}

type Payment struct {
	PaymentID      string          `json:"payment_id"`
	OrderID        string          `json:"order_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	ExternalID     string          `json:"external_id"`
	Provider       string          `json:"provider"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         PaymentStatus   `json:"status"`
	// ProviderRef is empty until the provider accepts the collection request.
	ProviderRef     string    `json:"provider_ref,omitempty"`
	Phone           string    `json:"phone"`
	ProviderPayload string    `json:"provider_payload,omitempty"`
	WebhookPayload  string    `json:"webhook_payload,omitempty"`
	FailureReason   string    `json:"failure_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Age is how long the payment has been waiting since creation.
func (p *Payment) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}
