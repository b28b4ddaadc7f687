package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payments-gateway/internal/domain"
	"payments-gateway/internal/momo"
	"payments-gateway/internal/worker"
)

func TestStatusPoller_SettlesStalePending(t *testing.T) {
	f := newPaymentFixture(t)
	first := f.initiate(t, 100)
	second := f.initiate(t, 200)
	f.gateway.status = &momo.StatusResult{Status: "SUCCESSFUL", Fee: decimal.NewFromInt(1)}
	time.Sleep(5 * time.Millisecond)

	pool := worker.NewPool(2, testLogger())
	poller := NewStatusPoller(f.service, pool, time.Minute, 0, testLogger())

	queued, err := poller.Enqueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, queued)
	pool.Stop()

	for _, ref := range []string{first.Reference, second.Reference} {
		tx, err := f.store.Transactions().GetByReference(context.Background(), ref)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, tx.Status)
	}

	idle := worker.NewPool(1, testLogger())
	defer idle.Stop()
	queued, err = NewStatusPoller(f.service, idle, time.Minute, 0, testLogger()).Enqueue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, queued)
}

func TestStatusPoller_IgnoresRecentTransactions(t *testing.T) {
	f := newPaymentFixture(t)
	f.initiate(t, 100)

	pool := worker.NewPool(1, testLogger())
	defer pool.Stop()
	poller := NewStatusPoller(f.service, pool, time.Minute, time.Hour, testLogger())

	queued, err := poller.Enqueue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, queued)
	assert.Zero(t, f.gateway.statusCalls)
}

func TestStatusPoller_StopsOnCancel(t *testing.T) {
	f := newPaymentFixture(t)
	pool := worker.NewPool(1, testLogger())
	defer pool.Stop()
	poller := NewStatusPoller(f.service, pool, 10*time.Millisecond, 0, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
