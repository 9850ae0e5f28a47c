package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fulplan/Shattawale/internal/domain"
	"github.com/fulplan/Shattawale/internal/events"
	"github.com/fulplan/Shattawale/internal/repository"
)

func newTestWebhookService(ledger *memLedger, gw *fakeGateway, allowUnsigned bool) (*WebhookService, *capturingPublisher) {
	pub := &capturingPublisher{}
	resolver := NewResolver(ledger, ledger, pub, zap.NewNop())
	return NewWebhookService(ledger, gw, resolver, allowUnsigned, zap.NewNop()), pub
}

func TestWebhook_SuccessfulNotification(t *testing.T) {
	ledger := newMemLedger()
	gw := newFakeGateway()
	p := ledger.addPending("pay-1", time.Now().Add(-3*time.Minute), "ref-1")

	svc, pub := newTestWebhookService(ledger, gw, false)

	body := []byte(`{"referenceId":"ref-1","status":"SUCCESSFUL","financialTransactionId":"fin-9"}`)
	err := svc.HandleNotification(context.Background(), body, "deadbeef", "req-1")
	require.NoError(t, err)

	got, _ := ledger.GetPayment(context.Background(), p.PaymentID)
	require.Equal(t, domain.PaymentStatusSuccess, got.Status)
	require.Equal(t, string(body), got.WebhookPayload)

	order, _ := ledger.GetOrder(context.Background(), p.OrderID)
	require.Equal(t, domain.OrderStatusPaid, order.Status)

	published := pub.published()
	require.Len(t, published, 1)
	require.Equal(t, events.TriggerWebhook, published[0].Trigger)
	require.Equal(t, "req-1", published[0].RequestID)
}

func TestWebhook_IdempotentRedelivery(t *testing.T) {
	ledger := newMemLedger()
	gw := newFakeGateway()
	p := ledger.addPending("pay-1", time.Now().Add(-3*time.Minute), "ref-1")

	svc, pub := newTestWebhookService(ledger, gw, false)

	body := []byte(`{"referenceId":"ref-1","status":"SUCCESSFUL"}`)
	require.NoError(t, svc.HandleNotification(context.Background(), body, "sig", "req-1"))
	require.NoError(t, svc.HandleNotification(context.Background(), body, "sig", "req-2"),
		"re-delivery of an applied terminal status must succeed")

	got, _ := ledger.GetPayment(context.Background(), p.PaymentID)
	require.Equal(t, domain.PaymentStatusSuccess, got.Status)

	require.Len(t, pub.published(), 1, "no duplicate downstream notification")
}

func TestWebhook_InvalidSignatureRejected(t *testing.T) {
	ledger := newMemLedger()
	gw := newFakeGateway()
	gw.sigValid = false
	p := ledger.addPending("pay-1", time.Now(), "ref-1")

	svc, pub := newTestWebhookService(ledger, gw, false)

	err := svc.HandleNotification(context.Background(),
		[]byte(`{"referenceId":"ref-1","status":"SUCCESSFUL"}`), "tampered", "")
	require.ErrorIs(t, err, ErrInvalidSignature)

	got, _ := ledger.GetPayment(context.Background(), p.PaymentID)
	require.Equal(t, domain.PaymentStatusPending, got.Status)
	require.Empty(t, pub.published())
}

func TestWebhook_MissingSignature(t *testing.T) {
	ledger := newMemLedger()
	gw := newFakeGateway()
	ledger.addPending("pay-1", time.Now(), "ref-1")

	body := []byte(`{"referenceId":"ref-1","status":"SUCCESSFUL"}`)

	svc, _ := newTestWebhookService(ledger, gw, false)
	err := svc.HandleNotification(context.Background(), body, "", "")
	require.ErrorIs(t, err, ErrInvalidSignature, "unsigned webhooks rejected by default")

	// Sandbox override lets them through.
	svc, _ = newTestWebhookService(ledger, gw, true)
	require.NoError(t, svc.HandleNotification(context.Background(), body, "", ""))
}

func TestWebhook_UnknownPayment(t *testing.T) {
	ledger := newMemLedger()
	svc, _ := newTestWebhookService(ledger, newFakeGateway(), false)

	err := svc.HandleNotification(context.Background(),
		[]byte(`{"referenceId":"no-such-ref","status":"SUCCESSFUL"}`), "sig", "")
	require.ErrorIs(t, err, repository.ErrPaymentNotFound)
}

func TestWebhook_CorrelatesByExternalIDFallback(t *testing.T) {
	ledger := newMemLedger()
	gw := newFakeGateway()
	p := ledger.addPending("pay-1", time.Now().Add(-time.Minute), "")

	svc, _ := newTestWebhookService(ledger, gw, false)

	body := []byte(`{"externalId":"` + p.ExternalID + `","status":"FAILED","reason":"LOW_BALANCE"}`)
	require.NoError(t, svc.HandleNotification(context.Background(), body, "sig", ""))

	got, _ := ledger.GetPayment(context.Background(), p.PaymentID)
	require.Equal(t, domain.PaymentStatusFailed, got.Status)
	require.Equal(t, "LOW_BALANCE", got.FailureReason)
}

func TestWebhook_MalformedPayload(t *testing.T) {
	ledger := newMemLedger()
	svc, _ := newTestWebhookService(ledger, newFakeGateway(), false)

	for _, body := range []string{
		`not json`,
		`{"status":"SUCCESSFUL"}`,
		`{"referenceId":"ref-1"}`,
	} {
		err := svc.HandleNotification(context.Background(), []byte(body), "sig", "")
		require.ErrorIs(t, err, ErrMalformedPayload, "body %q", body)
	}
}

func TestWebhook_UnrecognizedStatusIsNoOp(t *testing.T) {
	ledger := newMemLedger()
	gw := newFakeGateway()
	p := ledger.addPending("pay-1", time.Now().Add(-time.Minute), "ref-1")

	svc, pub := newTestWebhookService(ledger, gw, false)

	err := svc.HandleNotification(context.Background(),
		[]byte(`{"referenceId":"ref-1","status":"ONGOING"}`), "sig", "")
	require.NoError(t, err)

	got, _ := ledger.GetPayment(context.Background(), p.PaymentID)
	require.Equal(t, domain.PaymentStatusPending, got.Status)
	require.Empty(t, pub.published())
}
