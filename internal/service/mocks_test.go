package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fulplan/Shattawale/internal/domain"
	"github.com/fulplan/Shattawale/internal/events"
	"github.com/fulplan/Shattawale/internal/gateway"
	"github.com/fulplan/Shattawale/internal/repository"
)

// memLedger is an in-memory OrderStore + PaymentStore with the same
// conditional-resolve semantics as the DynamoDB repositories.
type memLedger struct {
	mu       sync.Mutex
	orders   map[string]*domain.Order
	payments map[string]*domain.Payment
	seq      int

	resolveErr map[string]error // per-payment injected failures
}

func newMemLedger() *memLedger {
	return &memLedger{
		orders:     make(map[string]*domain.Order),
		payments:   make(map[string]*domain.Payment),
		resolveErr: make(map[string]error),
	}
}

func (l *memLedger) NextOrderNumber(_ context.Context, now time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	return fmt.Sprintf("ORD-%s-%04d", now.UTC().Format("20060102"), l.seq), nil
}

func (l *memLedger) CreateCheckout(_ context.Context, order *domain.Order, payment *domain.Payment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	o := *order
	p := *payment
	l.orders[o.OrderID] = &o
	l.payments[p.PaymentID] = &p
	return nil
}

func (l *memLedger) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (l *memLedger) UpdateOrderStatus(_ context.Context, id string, status domain.OrderStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	return nil
}

func (l *memLedger) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[id]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (l *memLedger) GetPendingPayments(_ context.Context) ([]*domain.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*domain.Payment
	for _, p := range l.payments {
		if p.Status == domain.PaymentStatusPending {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (l *memLedger) GetPaymentByReference(_ context.Context, ref string) (*domain.Payment, error) {
	return l.findPayment(func(p *domain.Payment) bool { return p.ProviderRef == ref })
}

func (l *memLedger) GetPaymentByExternalID(_ context.Context, externalID string) (*domain.Payment, error) {
	return l.findPayment(func(p *domain.Payment) bool { return p.ExternalID == externalID })
}

func (l *memLedger) GetPaymentByIdempotencyKey(_ context.Context, key string) (*domain.Payment, error) {
	return l.findPayment(func(p *domain.Payment) bool { return p.IdempotencyKey == key })
}

func (l *memLedger) findPayment(match func(*domain.Payment) bool) (*domain.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.payments {
		if match(p) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrPaymentNotFound
}

func (l *memLedger) AttachProviderRef(_ context.Context, id, ref, raw string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[id]
	if !ok {
		return repository.ErrPaymentNotFound
	}
	p.ProviderRef = ref
	p.ProviderPayload = raw
	p.UpdatedAt = time.Now()
	return nil
}

func (l *memLedger) ResolvePayment(_ context.Context, id string, status domain.PaymentStatus, fields repository.ResolveFields) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, ok := l.resolveErr[id]; ok {
		return err
	}
	p, ok := l.payments[id]
	if !ok {
		return repository.ErrPaymentNotFound
	}
	if p.Status != domain.PaymentStatusPending {
		return repository.ErrAlreadyResolved
	}
	p.Status = status
	if fields.FailureReason != "" {
		p.FailureReason = fields.FailureReason
	}
	if fields.ProviderPayload != "" {
		p.ProviderPayload = fields.ProviderPayload
	}
	if fields.WebhookPayload != "" {
		p.WebhookPayload = fields.WebhookPayload
	}
	p.UpdatedAt = time.Now()
	return nil
}

// addPending seeds a PENDING payment and its order.
func (l *memLedger) addPending(id string, createdAt time.Time, providerRef string) *domain.Payment {
	l.mu.Lock()
	defer l.mu.Unlock()
	orderID := "order-" + id
	l.orders[orderID] = &domain.Order{
		OrderID:     orderID,
		OrderNumber: "ORD-20260829-0001",
		Status:      domain.OrderStatusPending,
		TotalAmount: decimal.RequireFromString("25.00"),
		CreatedAt:   createdAt,
	}
	p := &domain.Payment{
		PaymentID:   id,
		OrderID:     orderID,
		ExternalID:  "ecom_1756450000_" + id,
		Provider:    "mtn-momo",
		Amount:      decimal.RequireFromString("25.00"),
		Currency:    "GHS",
		Status:      domain.PaymentStatusPending,
		ProviderRef: providerRef,
		CreatedAt:   createdAt,
		ExpiresAt:   createdAt.Add(10 * time.Minute),
	}
	l.payments[id] = p
	return p
}

// fakeGateway answers status polls from a canned table and records calls.
type fakeGateway struct {
	mu          sync.Mutex
	statuses    map[string]gateway.StatusResult
	requestFn   func(ctx context.Context, amount decimal.Decimal, phone, externalID, note string) (gateway.CollectionResult, error)
	sigValid    bool
	statusCalls []string
	block       chan struct{} // when set, CheckStatus blocks until closed
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		statuses: make(map[string]gateway.StatusResult),
		sigValid: true,
	}
}

func (g *fakeGateway) RequestToPay(ctx context.Context, amount decimal.Decimal, phone, externalID, note string) (gateway.CollectionResult, error) {
	if g.requestFn != nil {
		return g.requestFn(ctx, amount, phone, externalID, note)
	}
	return gateway.CollectionResult{ReferenceID: "ref-" + externalID, Accepted: true}, nil
}

func (g *fakeGateway) CheckStatus(_ context.Context, referenceID string) gateway.StatusResult {
	g.mu.Lock()
	g.statusCalls = append(g.statusCalls, referenceID)
	block := g.block
	res, ok := g.statuses[referenceID]
	g.mu.Unlock()

	if block != nil {
		<-block
	}
	if !ok {
		return gateway.StatusResult{Status: gateway.StatusPending}
	}
	return res
}

func (g *fakeGateway) ValidateSignature(_ []byte, header string) bool {
	return g.sigValid && header != ""
}

func (g *fakeGateway) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.statusCalls...)
}

// capturingPublisher records every published event.
type capturingPublisher struct {
	mu     sync.Mutex
	events []events.PaymentStatusChangedEvent
}

func (c *capturingPublisher) PublishPaymentStatusChanged(e events.PaymentStatusChangedEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *capturingPublisher) published() []events.PaymentStatusChangedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.PaymentStatusChangedEvent(nil), c.events...)
}
