package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fulplan/Shattawale/internal/service"
)

type ReconcilerAPI interface {
	RunOnce(ctx context.Context) (service.Report, error)
	Status() service.Status
}

type AdminHandler struct {
	reconciler ReconcilerAPI
	logger     *zap.Logger
}

func NewAdminHandler(reconciler ReconcilerAPI, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		reconciler: reconciler,
		logger:     logger,
	}
}

func (h *AdminHandler) ReconciliationStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.reconciler.Status())
}

// ForceReconciliation runs one pass synchronously. A pass already in flight
// is a 409, not an error worth retrying blindly.
func (h *AdminHandler) ForceReconciliation(c *gin.Context) {
	report, err := h.reconciler.RunOnce(c.Request.Context())
	if err != nil {
		if errors.Is(err, service.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"message": "reconciliation already running",
			})
			return
		}

		h.logger.Error("Forced reconciliation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "reconciliation complete",
		"report":  report,
	})
}
