package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"payments-gateway/internal/domain"
	"payments-gateway/internal/errors"
)

type ledgerRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewLedgerRepository(db SQLExecutor, logger *slog.Logger) domain.LedgerRepository {
	return &ledgerRepository{
		db:     db,
		logger: logger,
	}
}

func (r *ledgerRepository) CreateEntries(ctx context.Context, entries []*domain.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (id, transaction_id, account_code, debit, credit, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	now := time.Now().UTC()
	for _, e := range entries {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		_, err := r.db.ExecContext(ctx, query,
			e.ID,
			e.TransactionID,
			e.AccountCode,
			e.Debit.String(),
			e.Credit.String(),
			e.Description,
			now,
		)
		if err != nil {
			r.logger.Error("Failed to create ledger entry",
				"transaction_id", e.TransactionID, "account_code", e.AccountCode, "error", err)
			return errors.NewAppError(errors.InternalError, "failed to create ledger entry").WithDetails(err.Error())
		}
		e.CreatedAt = now
	}

	r.logger.Info("Ledger entries created", "count", len(entries))
	return nil
}

func (r *ledgerRepository) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*domain.LedgerEntry, error) {
	query := `
		SELECT id, transaction_id, account_code, debit, credit, description, created_at
		FROM ledger_entries WHERE transaction_id = $1 ORDER BY created_at, account_code
	`

	rows, err := r.db.QueryContext(ctx, query, transactionID)
	if err != nil {
		r.logger.Error("Failed to list ledger entries", "transaction_id", transactionID, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to list ledger entries").WithDetails(err.Error())
	}
	defer rows.Close()

	var out []*domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.AccountCode, &e.Debit, &e.Credit, &e.Description, &e.CreatedAt); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan ledger entry").WithDetails(err.Error())
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to list ledger entries").WithDetails(err.Error())
	}
	return out, nil
}
