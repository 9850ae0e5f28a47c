package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fulplan/Shattawale/internal/repository"
	"github.com/fulplan/Shattawale/internal/service"
)

type mockWebhookAPI struct {
	HandleFunc func(ctx context.Context, raw []byte, signatureHeader, requestID string) error

	gotBody      []byte
	gotSignature string
}

func (m *mockWebhookAPI) HandleNotification(ctx context.Context, raw []byte, signatureHeader, requestID string) error {
	m.gotBody = raw
	m.gotSignature = signatureHeader
	if m.HandleFunc != nil {
		return m.HandleFunc(ctx, raw, signatureHeader, requestID)
	}
	return nil
}

func newWebhookRouter(api WebhookAPI) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewWebhookHandler(api, zap.NewNop())
	router.POST("/api/v1/webhooks/momo", h.HandlePaymentNotification)
	return router
}

func postWebhook(router *gin.Engine, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/momo", bytes.NewBufferString(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWebhookHandler_Processed(t *testing.T) {
	api := &mockWebhookAPI{}
	router := newWebhookRouter(api)

	w := postWebhook(router, `{"referenceId":"ref-1","status":"SUCCESSFUL"}`, "abc123")

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"processed"}`, w.Body.String())
	require.Equal(t, `{"referenceId":"ref-1","status":"SUCCESSFUL"}`, string(api.gotBody),
		"handler must pass the raw body through untouched for HMAC verification")
	require.Equal(t, "abc123", api.gotSignature)
}

func TestWebhookHandler_InvalidSignature(t *testing.T) {
	api := &mockWebhookAPI{
		HandleFunc: func(context.Context, []byte, string, string) error {
			return service.ErrInvalidSignature
		},
	}
	w := postWebhook(newWebhookRouter(api), `{}`, "bad")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhookHandler_UnknownPayment(t *testing.T) {
	api := &mockWebhookAPI{
		HandleFunc: func(context.Context, []byte, string, string) error {
			return repository.ErrPaymentNotFound
		},
	}
	w := postWebhook(newWebhookRouter(api), `{"referenceId":"nope","status":"SUCCESSFUL"}`, "sig")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookHandler_MalformedPayload(t *testing.T) {
	api := &mockWebhookAPI{
		HandleFunc: func(context.Context, []byte, string, string) error {
			return service.ErrMalformedPayload
		},
	}
	w := postWebhook(newWebhookRouter(api), `not json`, "sig")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookHandler_UnexpectedErrorIs500(t *testing.T) {
	api := &mockWebhookAPI{
		HandleFunc: func(context.Context, []byte, string, string) error {
			return context.DeadlineExceeded
		},
	}
	w := postWebhook(newWebhookRouter(api), `{}`, "sig")
	require.Equal(t, http.StatusInternalServerError, w.Code)
}
