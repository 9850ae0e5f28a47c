package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fulplan/Shattawale/internal/events"
)

// ErrAlreadyRunning is returned when a reconciliation pass is requested while
// another is in flight. The colliding run is skipped, never queued.
var ErrAlreadyRunning = errors.New("reconciliation already running")

// Report summarizes one reconciliation pass.
type Report struct {
	Processed int           `json:"processed"`
	Updated   int           `json:"updated"`
	TimedOut  int           `json:"timed_out"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Status is the admin-facing view of the reconciler.
type Status struct {
	IsRunning bool      `json:"is_running"`
	Schedule  string    `json:"schedule"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
}

// Reconciler periodically settles PENDING payments against the provider's
// authoritative status. It is the fallback for missed or delayed webhooks and
// the only place the payment timeout is enforced.
type Reconciler struct {
	payments PaymentStore
	gateway  Gateway
	resolver *Resolver
	logger   *zap.Logger
	timeout  time.Duration
	interval time.Duration

	running atomic.Bool

	mu      sync.Mutex
	lastRun time.Time
	nextRun time.Time
}

func NewReconciler(payments PaymentStore, gw Gateway, resolver *Resolver, timeout, interval time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		payments: payments,
		gateway:  gw,
		resolver: resolver,
		logger:   logger,
		timeout:  timeout,
		interval: interval,
	}
}

// Start runs the scheduled loop until ctx is cancelled. Ticks overlapping an
// in-flight pass (scheduled or forced) are skipped.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.mu.Lock()
	r.nextRun = time.Now().Add(r.interval)
	r.mu.Unlock()

	r.logger.Info("Reconciliation schedule started",
		zap.Duration("interval", r.interval),
		zap.Duration("payment_timeout", r.timeout))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciliation schedule stopped")
			return
		case <-ticker.C:
			report, err := r.RunOnce(ctx)
			if errors.Is(err, ErrAlreadyRunning) {
				r.logger.Warn("Scheduled reconciliation skipped, pass already in flight")
				continue
			}
			if err != nil {
				r.logger.Error("Reconciliation pass failed", zap.Error(err))
				continue
			}
			r.logger.Info("Reconciliation pass complete",
				zap.Int("processed", report.Processed),
				zap.Int("updated", report.Updated),
				zap.Int("timed_out", report.TimedOut),
				zap.Duration("elapsed", report.Elapsed))
		}
	}
}

// RunOnce executes one reconciliation pass. For each PENDING payment: local
// timeout wins first (even if the provider would report SUCCESSFUL — a
// confirmation after the customer-facing window is not honored); otherwise
// the provider is polled and the shared resolver applies the verdict.
// Per-payment failures are logged and never abort the rest of the batch.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	if !r.running.CompareAndSwap(false, true) {
		return Report{}, ErrAlreadyRunning
	}
	defer r.running.Store(false)

	start := time.Now()
	defer func() {
		r.mu.Lock()
		r.lastRun = start
		r.nextRun = time.Now().Add(r.interval)
		r.mu.Unlock()
	}()

	pending, err := r.payments.GetPendingPayments(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("fetch pending payments: %w", err)
	}

	var report Report
	report.Processed = len(pending)

	for _, p := range pending {
		if p.Age(start) > r.timeout {
			applied, err := r.resolver.ResolveTimeout(ctx, p)
			if err != nil {
				r.logger.Error("Failed to time out payment",
					zap.String("payment_id", p.PaymentID),
					zap.Error(err))
				continue
			}
			if applied {
				report.TimedOut++
				report.Updated++
			}
			continue
		}

		if p.ProviderRef == "" {
			// Provider never accepted the request; nothing to poll. The
			// timeout branch above will collect it eventually.
			continue
		}

		res := r.gateway.CheckStatus(ctx, p.ProviderRef)
		applied, err := r.resolver.ApplyProviderStatus(ctx, p, res, events.TriggerReconciliation, "")
		if err != nil {
			r.logger.Error("Failed to apply provider status",
				zap.String("payment_id", p.PaymentID),
				zap.Error(err))
			continue
		}
		if applied {
			report.Updated++
		}
	}

	report.Elapsed = time.Since(start)
	return report, nil
}

// Status reports the scheduling state for the admin dashboard.
func (r *Reconciler) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		IsRunning: r.running.Load(),
		Schedule:  fmt.Sprintf("@every %s", r.interval),
		LastRun:   r.lastRun,
		NextRun:   r.nextRun,
	}
}
