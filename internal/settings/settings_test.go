package settings

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payments-gateway/internal/domain"
	"payments-gateway/internal/errors"
	"payments-gateway/internal/repository/memory"
)

// slowReadStore holds the next GetSetting after it has read the row until
// release is closed.
type slowReadStore struct {
	*memory.Store
	read    chan struct{}
	release chan struct{}
}

func (s *slowReadStore) Settings() domain.SettingRepository {
	return &slowSettings{SettingRepository: s.Store.Settings(), store: s}
}

type slowSettings struct {
	domain.SettingRepository
	store *slowReadStore
}

func (r *slowSettings) GetSetting(ctx context.Context, scope, key string) (*domain.Setting, error) {
	setting, err := r.SettingRepository.GetSetting(ctx, scope, key)
	if r.store.read != nil {
		close(r.store.read)
		r.store.read = nil
		<-r.store.release
	}
	return setting, err
}

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestLookup_CompanyFallsBackToGlobal(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Set(ctx, domain.GlobalScope, KeyReconciliationTolerance, "0.50")
	require.NoError(t, err)

	assert.True(t, svc.Decimal(ctx, "company:acme", KeyReconciliationTolerance, decimal.Zero).Equal(decimal.RequireFromString("0.50")))

	_, err = svc.Set(ctx, "company:acme", KeyReconciliationTolerance, "1.00")
	require.NoError(t, err)

	assert.True(t, svc.Decimal(ctx, "company:acme", KeyReconciliationTolerance, decimal.Zero).Equal(decimal.NewFromInt(1)))
	assert.True(t, svc.Decimal(ctx, "company:other", KeyReconciliationTolerance, decimal.Zero).Equal(decimal.RequireFromString("0.50")))
}

func TestLookup_ServesFromCache(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	_, err := svc.Set(ctx, domain.GlobalScope, KeyPaymentMaxRetries, "5")
	require.NoError(t, err)
	assert.Equal(t, 5, svc.Int(ctx, domain.GlobalScope, KeyPaymentMaxRetries, 3))

	store.FailOn("Settings.GetSetting", errors.NewAppError(errors.InternalError, "db down"))
	assert.Equal(t, 5, svc.Int(ctx, domain.GlobalScope, KeyPaymentMaxRetries, 3))
}

func TestSet_InvalidatesCachedMiss(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	assert.True(t, svc.Bool(ctx, domain.GlobalScope, KeySmartInvoiceEnabled, true))

	_, err := svc.Set(ctx, domain.GlobalScope, KeySmartInvoiceEnabled, "false")
	require.NoError(t, err)

	assert.False(t, svc.Bool(ctx, domain.GlobalScope, KeySmartInvoiceEnabled, true))
}

func TestDelete_Invalidates(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Set(ctx, "company:acme", KeyFinanceEmail, "finance@acme.test")
	require.NoError(t, err)
	assert.Equal(t, "finance@acme.test", svc.String(ctx, "company:acme", KeyFinanceEmail, ""))

	require.NoError(t, svc.Delete(ctx, "company:acme", KeyFinanceEmail))
	assert.Equal(t, "fallback@test", svc.String(ctx, "company:acme", KeyFinanceEmail, "fallback@test"))
}

func TestTypedGetters_BadValuesUseDefault(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Set(ctx, domain.GlobalScope, "poll.interval", "soon")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, svc.Duration(ctx, domain.GlobalScope, "poll.interval", time.Minute))

	_, err = svc.Set(ctx, domain.GlobalScope, "poll.interval", "30s")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, svc.Duration(ctx, domain.GlobalScope, "poll.interval", time.Minute))
}

func TestLookup_StoreErrorSurfaces(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	store.FailOn("Settings.GetSetting", errors.NewAppError(errors.InternalError, "db down"))

	_, _, err := svc.Lookup(ctx, domain.GlobalScope, KeyFinanceEmail)
	assert.True(t, errors.Is(err, errors.InternalError))
	assert.Equal(t, "x", svc.String(ctx, domain.GlobalScope, KeyFinanceEmail, "x"))
}

func TestSet_DuringSlowReadDoesNotLeaveStaleValue(t *testing.T) {
	ctx := context.Background()
	store := &slowReadStore{Store: memory.NewStore()}
	svc := NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := svc.Set(ctx, domain.GlobalScope, KeyPaymentMaxRetries, "3")
	require.NoError(t, err)

	read := make(chan struct{})
	store.release = make(chan struct{})
	store.read = read

	done := make(chan int)
	go func() {
		done <- svc.Int(ctx, domain.GlobalScope, KeyPaymentMaxRetries, 0)
	}()

	<-read
	_, err = svc.Set(ctx, domain.GlobalScope, KeyPaymentMaxRetries, "7")
	require.NoError(t, err)
	close(store.release)

	assert.Equal(t, 3, <-done)
	assert.Equal(t, 7, svc.Int(ctx, domain.GlobalScope, KeyPaymentMaxRetries, 0))
}

func TestDelete_DuringSlowReadDoesNotLeaveStaleValue(t *testing.T) {
	ctx := context.Background()
	store := &slowReadStore{Store: memory.NewStore()}
	svc := NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := svc.Set(ctx, domain.GlobalScope, KeySmartInvoiceEnabled, "false")
	require.NoError(t, err)

	read := make(chan struct{})
	store.release = make(chan struct{})
	store.read = read

	done := make(chan bool)
	go func() {
		done <- svc.Bool(ctx, domain.GlobalScope, KeySmartInvoiceEnabled, true)
	}()

	<-read
	require.NoError(t, svc.Delete(ctx, domain.GlobalScope, KeySmartInvoiceEnabled))
	close(store.release)

	assert.False(t, <-done)
	assert.True(t, svc.Bool(ctx, domain.GlobalScope, KeySmartInvoiceEnabled, true))
}
