package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fulplan/Shattawale/internal/domain"
	"github.com/fulplan/Shattawale/internal/events"
	"github.com/fulplan/Shattawale/internal/gateway"
	"github.com/fulplan/Shattawale/internal/repository"
)

// Resolver applies payment state transitions. It is the single transition
// path shared by the webhook receiver and the reconciliation engine, so the
// two writers can never diverge in how they interpret a provider status.
//
// Every terminal write is conditional on the payment still being PENDING;
// whichever writer loses a race sees no write, no order cascade, and no
// event.
type Resolver struct {
	orders   OrderStore
	payments PaymentStore
	producer EventPublisher
	logger   *zap.Logger
}

func NewResolver(orders OrderStore, payments PaymentStore, producer EventPublisher, logger *zap.Logger) *Resolver {
	return &Resolver{
		orders:   orders,
		payments: payments,
		producer: producer,
		logger:   logger,
	}
}

// ResolveTimeout expires a payment that outlived the collection window and
// cascades its order to CANCELLED. Returns false when another writer already
// resolved the payment.
func (r *Resolver) ResolveTimeout(ctx context.Context, p *domain.Payment) (bool, error) {
	err := r.payments.ResolvePayment(ctx, p.PaymentID, domain.PaymentStatusTimeout, repository.ResolveFields{
		FailureReason: "payment window expired before confirmation",
	})
	if errors.Is(err, repository.ErrAlreadyResolved) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	r.cascadeAndPublish(ctx, p, domain.PaymentStatusTimeout, domain.OrderStatusCancelled,
		"payment window expired", events.TriggerReconciliation, "")

	return true, nil
}

// ApplyProviderStatus maps a normalized provider status onto the payment
// state machine. PENDING and transport-degraded results are no-ops: the
// payment stays PENDING and the next cycle (or webhook) retries. Trigger
// decides which diagnostic snapshot field the raw payload lands in.
func (r *Resolver) ApplyProviderStatus(ctx context.Context, p *domain.Payment, res gateway.StatusResult, trigger, requestID string) (bool, error) {
	if p.Status.IsTerminal() {
		// Caller raced a stale read; the ledger already holds a verdict.
		return false, nil
	}

	if res.Transport {
		r.logger.Warn("Status check degraded, leaving payment pending",
			zap.String("payment_id", p.PaymentID),
			zap.String("reason", res.Reason))
		return false, nil
	}

	var paymentStatus domain.PaymentStatus
	var orderStatus domain.OrderStatus
	switch res.Status {
	case gateway.StatusSuccessful:
		paymentStatus = domain.PaymentStatusSuccess
		orderStatus = domain.OrderStatusPaid
	case gateway.StatusFailed:
		paymentStatus = domain.PaymentStatusFailed
		orderStatus = domain.OrderStatusCancelled
	default:
		// Still pending on the provider side. No write at all.
		return false, nil
	}

	fields := repository.ResolveFields{FailureReason: res.Reason}
	if trigger == events.TriggerWebhook {
		fields.WebhookPayload = res.Raw
	} else {
		fields.ProviderPayload = res.Raw
	}

	err := r.payments.ResolvePayment(ctx, p.PaymentID, paymentStatus, fields)
	if errors.Is(err, repository.ErrAlreadyResolved) {
		// Idempotent re-application: same terminal verdict arriving twice is
		// not an error and must not notify anyone twice.
		r.logger.Info("Payment already resolved, skipping",
			zap.String("payment_id", p.PaymentID),
			zap.String("attempted_status", string(paymentStatus)),
			zap.String("trigger", trigger))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	r.cascadeAndPublish(ctx, p, paymentStatus, orderStatus, res.Reason, trigger, requestID)

	return true, nil
}

func (r *Resolver) cascadeAndPublish(ctx context.Context, p *domain.Payment, paymentStatus domain.PaymentStatus, orderStatus domain.OrderStatus, reason, trigger, requestID string) {
	if err := r.orders.UpdateOrderStatus(ctx, p.OrderID, orderStatus); err != nil {
		// The payment flip already won; the order will be picked up by the
		// dashboard as inconsistent rather than blocking the transition.
		r.logger.Error("Failed to cascade order status",
			zap.String("order_id", p.OrderID),
			zap.String("payment_id", p.PaymentID),
			zap.Error(err))
	}

	event := events.PaymentStatusChangedEvent{
		EventID:        uuid.New().String(),
		OrderID:        p.OrderID,
		PaymentID:      p.PaymentID,
		PreviousStatus: string(domain.PaymentStatusPending),
		NewStatus:      string(paymentStatus),
		OrderStatus:    string(orderStatus),
		Reason:         reason,
		Trigger:        trigger,
		Timestamp:      time.Now().UTC(),
		RequestID:      requestID,
	}
	if err := r.producer.PublishPaymentStatusChanged(event); err != nil {
		// Log only; downstream notification is eventually consistent.
		r.logger.Error("Failed to publish payment event",
			zap.String("payment_id", p.PaymentID),
			zap.Error(err))
	}

	r.logger.Info("Payment resolved",
		zap.String("payment_id", p.PaymentID),
		zap.String("order_id", p.OrderID),
		zap.String("status", string(paymentStatus)),
		zap.String("trigger", trigger))
}
