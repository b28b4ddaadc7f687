package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"payments-gateway/internal/worker"
)

// StatusPoller asks the provider about transactions that stayed pending longer
// than MinAge. Callbacks can be lost, so this is what eventually settles them.
type StatusPoller struct {
	payments  *PaymentService
	pool      *worker.Pool
	interval  time.Duration
	minAge    time.Duration
	batchSize int
	logger    *slog.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

func NewStatusPoller(payments *PaymentService, pool *worker.Pool, interval, minAge time.Duration, logger *slog.Logger) *StatusPoller {
	return &StatusPoller{
		payments:  payments,
		pool:      pool,
		interval:  interval,
		minAge:    minAge,
		batchSize: 100,
		logger:    logger,
		inFlight:  make(map[string]bool),
	}
}

// Start runs the polling loop until ctx is cancelled.
func (p *StatusPoller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.logger.Info("Status poller started", "interval", p.interval, "min_age", p.minAge)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Status poller stopped")
			return
		case <-ticker.C:
			if _, err := p.Enqueue(ctx); err != nil {
				p.logger.Error("Status poll failed", "error", err)
			}
		}
	}
}

// Enqueue queues a status check for each stale pending transaction and returns
// how many were queued. It does not wait for the checks to finish.
func (p *StatusPoller) Enqueue(ctx context.Context) (int, error) {
	stale, err := p.payments.store.Transactions().ListPending(ctx, time.Now().UTC().Add(-p.minAge), p.batchSize)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, tx := range stale {
		reference := tx.Reference
		if !p.claim(reference) {
			continue
		}
		job := func() {
			defer p.release(reference)
			if _, err := p.payments.CheckStatus(context.WithoutCancel(ctx), reference); err != nil {
				p.logger.Warn("Status check failed",
					"reference", reference,
					"error", err)
			}
		}
		if !p.pool.Submit(job) {
			p.release(reference)
			break
		}
		queued++
	}
	if queued > 0 {
		p.logger.Info("Queued pending status checks", "count", queued)
	}
	return queued, nil
}

func (p *StatusPoller) claim(reference string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight[reference] {
		return false
	}
	p.inFlight[reference] = true
	return true
}

func (p *StatusPoller) release(reference string) {
	p.mu.Lock()
	delete(p.inFlight, reference)
	p.mu.Unlock()
}
