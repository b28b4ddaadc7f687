package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"payments-gateway/internal/domain"
	"payments-gateway/internal/errors"
)

// Store provides a unified interface for all repository operations with transaction support
type Store struct {
	executor SQLExecutor
	logger   *slog.Logger
}

var _ domain.Store = (*Store)(nil)

// NewStore creates a new Store instance
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{
		executor: db,
		logger:   logger,
	}
}

func (s *Store) Transactions() domain.TransactionRepository {
	return NewTransactionRepository(s.executor, s.logger)
}

func (s *Store) Providers() domain.ProviderRepository {
	return NewProviderRepository(s.executor, s.logger)
}

func (s *Store) Ledger() domain.LedgerRepository {
	return NewLedgerRepository(s.executor, s.logger)
}

func (s *Store) Reconciliations() domain.ReconciliationRepository {
	return NewReconciliationRepository(s.executor, s.logger)
}

func (s *Store) Invoices() domain.InvoiceRepository {
	return NewInvoiceRepository(s.executor, s.logger)
}

func (s *Store) AuditLogs() domain.AuditLogRepository {
	return NewAuditLogRepository(s.executor, s.logger)
}

func (s *Store) Settings() domain.SettingRepository {
	return NewSettingRepository(s.executor, s.logger)
}

func (s *Store) Notifications() domain.NotificationRepository {
	return NewNotificationRepository(s.executor, s.logger)
}

// WithTransaction executes a function within a database transaction.
// Calls made on an already transactional Store join the outer transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(domain.Store) error) error {
	if _, ok := s.executor.(*TxWrapper); ok {
		return fn(s)
	}

	// Only sql.DB can begin transactions
	db, ok := s.executor.(*sql.DB)
	if !ok {
		return errors.ErrCannotBeginTransaction
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.InternalError, "failed to begin transaction", err)
	}

	txStore := &Store{
		executor: &TxWrapper{Tx: tx},
		logger:   s.logger,
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.InternalError, "failed to commit transaction", err)
	}
	return nil
}
