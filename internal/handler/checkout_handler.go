package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fulplan/Shattawale/internal/domain"
	"github.com/fulplan/Shattawale/internal/gateway"
	"github.com/fulplan/Shattawale/internal/repository"
)

// CheckoutAPI is the service surface the handler needs; narrowed to an
// interface so tests can swap in a mock.
type CheckoutAPI interface {
	InitiateCheckout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutResponse, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
}

type CheckoutHandler struct {
	checkout CheckoutAPI
	logger   *zap.Logger
}

func NewCheckoutHandler(checkout CheckoutAPI, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		logger:   logger,
	}
}

func (h *CheckoutHandler) InitiateCheckout(c *gin.Context) {
	var req domain.CheckoutRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid checkout request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request format",
			"details": err.Error(),
		})
		return
	}

	requestID := c.GetString("request_id")

	resp, err := h.checkout.InitiateCheckout(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidPhone) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "phone number must be like 0244123456 or +233244123456",
			})
			return
		}

		h.logger.Error("Checkout failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "Failed to initiate checkout",
			"request_id": requestID,
		})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *CheckoutHandler) GetOrder(c *gin.Context) {
	order, err := h.checkout.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *CheckoutHandler) GetPayment(c *gin.Context) {
	payment, err := h.checkout.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, payment)
}
