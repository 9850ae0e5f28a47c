package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fulplan/Shattawale/internal/domain"
	"github.com/fulplan/Shattawale/internal/gateway"
	"github.com/fulplan/Shattawale/internal/repository"
)

const providerName = "mtn-momo"

// CheckoutService is the checkout-time entry point: it validates the payer,
// creates the order and payment atomically, and asks the provider to push a
// payment prompt to the customer's wallet.
type CheckoutService struct {
	orders   OrderStore
	payments PaymentStore
	gateway  Gateway
	logger   *zap.Logger
	currency string
	timeout  time.Duration
}

func NewCheckoutService(orders OrderStore, payments PaymentStore, gw Gateway, currency string, timeout time.Duration, logger *zap.Logger) *CheckoutService {
	return &CheckoutService{
		orders:   orders,
		payments: payments,
		gateway:  gw,
		logger:   logger,
		currency: currency,
		timeout:  timeout,
	}
}

// InitiateCheckout runs the collection flow. Phone validation failures return
// before anything is written or transmitted. A provider rejection or an
// unreachable provider leaves the order and payment PENDING; the
// reconciliation timeout converges them to CANCELLED.
func (s *CheckoutService) InitiateCheckout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutResponse, error) {
	msisdn, err := gateway.NormalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}

	// A caller-supplied idempotency key makes retries return the payment
	// already created under that key instead of initiating a second one.
	if req.IdempotencyKey != "" {
		existing, err := s.payments.GetPaymentByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			return s.existingCheckoutResponse(ctx, existing)
		}
		if !errors.Is(err, repository.ErrPaymentNotFound) {
			return nil, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	now := time.Now().UTC()

	orderNumber, err := s.orders.NextOrderNumber(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("assign order number: %w", err)
	}

	total := req.Amount.Add(req.ShippingAmount)
	order := &domain.Order{
		OrderID:         uuid.New().String(),
		OrderNumber:     orderNumber,
		CustomerID:      req.CustomerID,
		ChatID:          req.ChatID,
		Status:          domain.OrderStatusPending,
		TotalAmount:     total,
		ShippingAmount:  req.ShippingAmount,
		DeliveryAddress: req.DeliveryAddress,
		Phone:           msisdn,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = fmt.Sprintf("%s-%s", order.OrderID, uuid.New().String())
	}

	payment := &domain.Payment{
		PaymentID:      uuid.New().String(),
		OrderID:        order.OrderID,
		IdempotencyKey: idempotencyKey,
		ExternalID:     fmt.Sprintf("ecom_%d_%s", now.Unix(), req.ChatID),
		Provider:       providerName,
		Amount:         total,
		Currency:       s.currency,
		Status:         domain.PaymentStatusPending,
		Phone:          msisdn,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.timeout),
	}

	if err := s.orders.CreateCheckout(ctx, order, payment); err != nil {
		return nil, fmt.Errorf("persist checkout: %w", err)
	}

	resp := &domain.CheckoutResponse{
		OrderID:     order.OrderID,
		OrderNumber: order.OrderNumber,
		PaymentID:   payment.PaymentID,
		Amount:      total,
		Currency:    s.currency,
		Status:      domain.PaymentStatusPending,
		ExpiresAt:   payment.ExpiresAt,
	}

	note := fmt.Sprintf("Order %s", order.OrderNumber)
	result, err := s.gateway.RequestToPay(ctx, total, msisdn, payment.ExternalID, note)
	if err != nil {
		// Provider unreachable. The PENDING pair times out via reconciliation.
		s.logger.Error("Collection request failed",
			zap.String("payment_id", payment.PaymentID),
			zap.Error(err))
		resp.Message = "payment could not be initiated; please try again"
		return resp, nil
	}

	if !result.Accepted {
		s.logger.Warn("Collection request declined by provider",
			zap.String("payment_id", payment.PaymentID),
			zap.String("reason", result.Reason))
		resp.Message = result.Reason
		return resp, nil
	}

	rawResult, _ := json.Marshal(result)
	if err := s.payments.AttachProviderRef(ctx, payment.PaymentID, result.ReferenceID, string(rawResult)); err != nil {
		s.logger.Error("Failed to record provider reference",
			zap.String("payment_id", payment.PaymentID),
			zap.Error(err))
	}

	s.logger.Info("Checkout initiated",
		zap.String("order_number", order.OrderNumber),
		zap.String("payment_id", payment.PaymentID),
		zap.String("provider_ref", result.ReferenceID))

	resp.ProviderRef = result.ReferenceID
	resp.Message = fmt.Sprintf("approve the payment on your phone within %d minutes", int(s.timeout.Minutes()))
	return resp, nil
}

func (s *CheckoutService) existingCheckoutResponse(ctx context.Context, payment *domain.Payment) (*domain.CheckoutResponse, error) {
	order, err := s.orders.GetOrder(ctx, payment.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load order for existing payment: %w", err)
	}
	return &domain.CheckoutResponse{
		OrderID:     order.OrderID,
		OrderNumber: order.OrderNumber,
		PaymentID:   payment.PaymentID,
		ProviderRef: payment.ProviderRef,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		Status:      payment.Status,
		ExpiresAt:   payment.ExpiresAt,
		Message:     "checkout already initiated for this idempotency key",
	}, nil
}

func (s *CheckoutService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.orders.GetOrder(ctx, id)
}

func (s *CheckoutService) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return s.payments.GetPayment(ctx, id)
}
