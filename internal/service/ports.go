package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fulplan/Shattawale/internal/domain"
	"github.com/fulplan/Shattawale/internal/events"
	"github.com/fulplan/Shattawale/internal/gateway"
	"github.com/fulplan/Shattawale/internal/repository"
)

// OrderStore is the ledger surface for orders.
type OrderStore interface {
	NextOrderNumber(ctx context.Context, now time.Time) (string, error)
	CreateCheckout(ctx context.Context, order *domain.Order, payment *domain.Payment) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) error
}

// PaymentStore is the ledger surface for payments.
type PaymentStore interface {
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	GetPendingPayments(ctx context.Context) ([]*domain.Payment, error)
	GetPaymentByReference(ctx context.Context, referenceID string) (*domain.Payment, error)
	GetPaymentByExternalID(ctx context.Context, externalID string) (*domain.Payment, error)
	GetPaymentByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error)
	AttachProviderRef(ctx context.Context, id, referenceID, rawPayload string) error
	ResolvePayment(ctx context.Context, id string, status domain.PaymentStatus, fields repository.ResolveFields) error
}

// Gateway is the provider-facing surface the services need.
type Gateway interface {
	RequestToPay(ctx context.Context, amount decimal.Decimal, phone, externalID, note string) (gateway.CollectionResult, error)
	CheckStatus(ctx context.Context, referenceID string) gateway.StatusResult
	ValidateSignature(raw []byte, signatureHeader string) bool
}

// EventPublisher emits lifecycle events to downstream consumers.
type EventPublisher interface {
	PublishPaymentStatusChanged(event events.PaymentStatusChangedEvent) error
}
