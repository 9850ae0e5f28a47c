package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fulplan/Shattawale/internal/domain"
	"github.com/fulplan/Shattawale/internal/events"
	"github.com/fulplan/Shattawale/internal/gateway"
	"github.com/fulplan/Shattawale/internal/repository"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// WebhookService processes inbound payment notifications. It shares the
// Resolver with the reconciliation engine, so a webhook verdict and a polled
// verdict go through the exact same transition logic. Unlike reconciliation,
// the webhook path has no timeout cutoff of its own: a notification for a
// still-PENDING payment is honored whenever it arrives.
type WebhookService struct {
	payments      PaymentStore
	gateway       Gateway
	resolver      *Resolver
	logger        *zap.Logger
	allowUnsigned bool
}

func NewWebhookService(payments PaymentStore, gw Gateway, resolver *Resolver, allowUnsigned bool, logger *zap.Logger) *WebhookService {
	if allowUnsigned {
		logger.Warn("Webhook signature enforcement is DISABLED; accept only in sandbox")
	}
	return &WebhookService{
		payments:      payments,
		gateway:       gw,
		resolver:      resolver,
		logger:        logger,
		allowUnsigned: allowUnsigned,
	}
}

// HandleNotification validates, correlates and applies one notification.
// Error classes map onto HTTP codes at the handler: invalid/missing signature
// 401, malformed body 400, unknown payment 404. A notification that merely
// re-states an already-applied terminal status succeeds with no effect.
func (s *WebhookService) HandleNotification(ctx context.Context, raw []byte, signatureHeader, requestID string) error {
	if signatureHeader == "" {
		if !s.allowUnsigned {
			return fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
		}
		s.logger.Warn("Accepting unsigned webhook (sandbox override)")
	} else if !s.gateway.ValidateSignature(raw, signatureHeader) {
		return ErrInvalidSignature
	}

	var n gateway.Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if n.Status == "" || (n.ReferenceID == "" && n.ExternalID == "") {
		return fmt.Errorf("%w: missing status or correlation id", ErrMalformedPayload)
	}

	payment, err := s.correlate(ctx, n)
	if err != nil {
		return err
	}

	res := gateway.StatusResult{
		Status:        gateway.NormalizeStatus(n.Status),
		TransactionID: n.FinancialTransactionID,
		Reason:        n.Reason,
		Raw:           string(raw),
	}

	applied, err := s.resolver.ApplyProviderStatus(ctx, payment, res, events.TriggerWebhook, requestID)
	if err != nil {
		return fmt.Errorf("apply webhook status: %w", err)
	}

	s.logger.Info("Webhook processed",
		zap.String("payment_id", payment.PaymentID),
		zap.String("reported_status", n.Status),
		zap.Bool("applied", applied))

	return nil
}

func (s *WebhookService) correlate(ctx context.Context, n gateway.Notification) (*domain.Payment, error) {
	if n.ReferenceID != "" {
		p, err := s.payments.GetPaymentByReference(ctx, n.ReferenceID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, repository.ErrPaymentNotFound) {
			return nil, fmt.Errorf("lookup by reference: %w", err)
		}
	}
	if n.ExternalID != "" {
		p, err := s.payments.GetPaymentByExternalID(ctx, n.ExternalID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, repository.ErrPaymentNotFound) {
			return nil, fmt.Errorf("lookup by external id: %w", err)
		}
	}
	return nil, repository.ErrPaymentNotFound
}
