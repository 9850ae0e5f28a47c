package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusPacked    OrderStatus = "PACKED"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRefunded  OrderStatus = "REFUNDED"
)

type DeliveryAddress struct {
	Line1    string `json:"line1"`
	Line2    string `json:"line2,omitempty"`
	City     string `json:"city"`
	Region   string `json:"region,omitempty"`
	Landmark string `json:"landmark,omitempty"`
}

type Order struct {
	OrderID         string          `json:"order_id"`
	OrderNumber     string          `json:"order_number"`
	CustomerID      string          `json:"customer_id"`
	ChatID          string          `json:"chat_id"`
	Status          OrderStatus     `json:"status"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ShippingAmount  decimal.Decimal `json:"shipping_amount"`
	DeliveryAddress DeliveryAddress `json:"delivery_address"`
	Phone           string          `json:"phone"`
	Notes           string          `json:"notes,omitempty"`
	TrackingNumber  string          `json:"tracking_number,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type CheckoutRequest struct {
	CustomerID      string          `json:"customer_id" binding:"required"`
	ChatID          string          `json:"chat_id" binding:"required"`
	Amount          decimal.Decimal `json:"amount" binding:"required"`
	ShippingAmount  decimal.Decimal `json:"shipping_amount"`
	Phone           string          `json:"phone" binding:"required"`
	DeliveryAddress DeliveryAddress `json:"delivery_address"`
	Notes           string          `json:"notes"`
	IdempotencyKey  string          `json:"idempotency_key"`
}

type CheckoutResponse struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	PaymentID   string          `json:"payment_id"`
	ProviderRef string          `json:"provider_ref,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Status      PaymentStatus   `json:"status"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Message     string          `json:"message"`
}
