package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fulplan/Shattawale/internal/repository"
	"github.com/fulplan/Shattawale/internal/service"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Signature"

type WebhookAPI interface {
	HandleNotification(ctx context.Context, raw []byte, signatureHeader, requestID string) error
}

type WebhookHandler struct {
	webhooks WebhookAPI
	logger   *zap.Logger
}

func NewWebhookHandler(webhooks WebhookAPI, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhooks: webhooks,
		logger:   logger,
	}
}

// HandlePaymentNotification returns 200 once the notification is processed
// (including idempotent re-delivery), 404 for an unknown payment so the
// provider's retry machinery can tell the two apart, 401 for bad signatures.
func (h *WebhookHandler) HandlePaymentNotification(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	requestID := c.GetString("request_id")
	signature := c.GetHeader(SignatureHeader)

	err = h.webhooks.HandleNotification(c.Request.Context(), raw, signature, requestID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "processed"})
	case errors.Is(err, service.ErrInvalidSignature):
		h.logger.Warn("Webhook rejected: bad signature",
			zap.String("request_id", requestID))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
	case errors.Is(err, service.ErrMalformedPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrPaymentNotFound):
		h.logger.Warn("Webhook for unknown payment",
			zap.String("request_id", requestID))
		c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
	default:
		h.logger.Error("Webhook processing failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "failed to process notification",
			"request_id": requestID,
		})
	}
}
