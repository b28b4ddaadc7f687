package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"payments-gateway/internal/domain"
	"payments-gateway/internal/errors"
)

// newTestStore starts a disposable Postgres, applies the migrations and
// returns a store backed by it.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping postgres repository test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("payments"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, Migrate(ctx, db, logger))
	// Migrations are idempotent
	require.NoError(t, Migrate(ctx, db, logger))

	return NewStore(db, logger)
}

func newTransaction(ref string) *domain.Transaction {
	return &domain.Transaction{
		ID:                uuid.New(),
		Reference:         ref,
		ProviderCode:      "MTN",
		Type:              domain.TypeCollection,
		Amount:            decimal.RequireFromString("100.00"),
		Currency:          "ZMW",
		PhoneNumber:       "260961234567",
		Status:            domain.StatusPending,
		ExternalReference: "ext-" + ref,
		Fee:               decimal.Zero,
	}
}

func TestPostgresStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("transaction round trip", func(t *testing.T) {
		tx := newTransaction("MTN-PG-1")
		require.NoError(t, store.Transactions().CreateTransaction(ctx, tx))

		loaded, err := store.Transactions().GetByReference(ctx, "MTN-PG-1")
		require.NoError(t, err)
		assert.Equal(t, tx.ID, loaded.ID)
		assert.True(t, tx.Amount.Equal(loaded.Amount))
		assert.Equal(t, domain.StatusPending, loaded.Status)

		byExternal, err := store.Transactions().GetByExternalReference(ctx, "MTN", "ext-MTN-PG-1")
		require.NoError(t, err)
		assert.Equal(t, tx.ID, byExternal.ID)
	})

	t.Run("duplicate external reference", func(t *testing.T) {
		dup := newTransaction("MTN-PG-2")
		dup.ExternalReference = "ext-MTN-PG-1"
		err := store.Transactions().CreateTransaction(ctx, dup)
		assert.True(t, errors.Is(err, errors.Conflict))
	})

	t.Run("missing transaction", func(t *testing.T) {
		_, err := store.Transactions().GetByReference(ctx, "MTN-NOPE")
		assert.True(t, errors.Is(err, errors.NotFound))
	})

	t.Run("rollback discards status and ledger", func(t *testing.T) {
		tx := newTransaction("MTN-PG-3")
		require.NoError(t, store.Transactions().CreateTransaction(ctx, tx))

		boom := stderrors.New("boom")
		err := store.WithTransaction(ctx, func(s domain.Store) error {
			loaded, err := s.Transactions().GetByReferenceForUpdate(ctx, "MTN-PG-3")
			require.NoError(t, err)
			loaded.Status = domain.StatusCompleted
			require.NoError(t, s.Transactions().UpdateTransaction(ctx, loaded))
			require.NoError(t, s.Ledger().CreateEntries(ctx, []*domain.LedgerEntry{
				{TransactionID: loaded.ID, AccountCode: "1100-MTN", Debit: loaded.Amount, Credit: decimal.Zero},
			}))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		loaded, err := store.Transactions().GetByReference(ctx, "MTN-PG-3")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, loaded.Status)

		entries, err := store.Ledger().ListByTransaction(ctx, tx.ID)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("commit keeps status and ledger", func(t *testing.T) {
		tx := newTransaction("MTN-PG-4")
		require.NoError(t, store.Transactions().CreateTransaction(ctx, tx))

		err := store.WithTransaction(ctx, func(s domain.Store) error {
			loaded, err := s.Transactions().GetByReferenceForUpdate(ctx, "MTN-PG-4")
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			loaded.Status = domain.StatusCompleted
			loaded.CompletedAt = &now
			if err := s.Transactions().UpdateTransaction(ctx, loaded); err != nil {
				return err
			}
			return s.Ledger().CreateEntries(ctx, []*domain.LedgerEntry{
				{TransactionID: loaded.ID, AccountCode: "1100-MTN", Debit: loaded.Amount, Credit: decimal.Zero},
				{TransactionID: loaded.ID, AccountCode: "1190-MTN", Debit: decimal.Zero, Credit: loaded.Amount},
			})
		})
		require.NoError(t, err)

		entries, err := store.Ledger().ListByTransaction(ctx, tx.ID)
		require.NoError(t, err)
		assert.Len(t, entries, 2)

		book, err := store.Transactions().ListForReconciliation(ctx, "MTN", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, book, 1)
		assert.Equal(t, "MTN-PG-4", book[0].Reference)
	})

	t.Run("settings upsert and delete", func(t *testing.T) {
		setting := &domain.Setting{Scope: domain.GlobalScope, Key: "reconciliation.tolerance", Value: "0.01"}
		require.NoError(t, store.Settings().UpsertSetting(ctx, setting))
		setting.Value = "0.05"
		require.NoError(t, store.Settings().UpsertSetting(ctx, setting))

		loaded, err := store.Settings().GetSetting(ctx, domain.GlobalScope, "reconciliation.tolerance")
		require.NoError(t, err)
		assert.Equal(t, "0.05", loaded.Value)

		require.NoError(t, store.Settings().DeleteSetting(ctx, domain.GlobalScope, "reconciliation.tolerance"))
		_, err = store.Settings().GetSetting(ctx, domain.GlobalScope, "reconciliation.tolerance")
		assert.True(t, errors.Is(err, errors.NotFound))
	})

	t.Run("provider upsert replaces active row", func(t *testing.T) {
		p := &domain.Provider{
			Code:          "AIRTEL",
			Name:          "Airtel Money",
			BaseURL:       "https://airtel.example",
			Currency:      "ZMW",
			Active:        true,
			MinAmount:     decimal.NewFromInt(1),
			MaxAmount:     decimal.NewFromInt(5000),
			PhonePrefixes: []string{"97", "77"},
		}
		require.NoError(t, store.Providers().UpsertProvider(ctx, p))

		replacement := *p
		replacement.ID = uuid.Nil
		replacement.MaxAmount = decimal.NewFromInt(9000)
		require.NoError(t, store.Providers().UpsertProvider(ctx, &replacement))

		active, err := store.Providers().GetActiveByCode(ctx, "AIRTEL")
		require.NoError(t, err)
		assert.Equal(t, replacement.ID, active.ID)
		assert.True(t, decimal.NewFromInt(9000).Equal(active.MaxAmount))
		assert.Equal(t, []string{"97", "77"}, active.PhonePrefixes)
	})
}
