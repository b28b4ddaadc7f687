package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"payments-gateway/internal/domain"
	"payments-gateway/internal/errors"
)

type transactionRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewTransactionRepository(db SQLExecutor, logger *slog.Logger) domain.TransactionRepository {
	return &transactionRepository{
		db:     db,
		logger: logger,
	}
}

const transactionColumns = `
	id, reference, provider_code, type, amount, currency, phone_number, status,
	external_reference, provider_transaction_id, fee, retry_count, failure_reason,
	description, reconciliation_id, created_at, updated_at, completed_at, failed_at, reconciled_at`

func (r *transactionRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions
		(id, reference, provider_code, type, amount, currency, phone_number, status,
		 external_reference, provider_transaction_id, fee, retry_count, failure_reason,
		 description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	now := time.Now().UTC()
	_, err := r.db.ExecContext(
		ctx,
		query,
		tx.ID,
		tx.Reference,
		tx.ProviderCode,
		tx.Type,
		tx.Amount.String(),
		tx.Currency,
		tx.PhoneNumber,
		tx.Status,
		tx.ExternalReference,
		tx.ProviderTransactionID,
		tx.Fee.String(),
		tx.RetryCount,
		tx.FailureReason,
		tx.Description,
		now,
		now,
	)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "23505" { // unique_violation
				r.logger.Warn("Duplicate transaction reference",
					"reference", tx.Reference,
					"external_reference", tx.ExternalReference,
					"constraint", pqErr.Constraint)
				return errors.ErrDuplicateReference
			}
		}
		r.logger.Error("Failed to create transaction",
			"reference", tx.Reference,
			"provider", tx.ProviderCode,
			"amount", tx.Amount,
			"error", err)
		return errors.NewAppError(errors.InternalError, "failed to create transaction").WithDetails(err.Error())
	}

	tx.CreatedAt = now
	tx.UpdatedAt = now
	r.logger.Info("Transaction created successfully", "reference", tx.Reference, "transaction_id", tx.ID)
	return nil
}

func (r *transactionRepository) GetByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE reference = $1 AND deleted_at IS NULL`
	return r.scanTransaction(ctx, query, reference)
}

func (r *transactionRepository) GetByReferenceForUpdate(ctx context.Context, reference string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE reference = $1 AND deleted_at IS NULL FOR UPDATE`
	return r.scanTransaction(ctx, query, reference)
}

func (r *transactionRepository) GetByExternalReference(ctx context.Context, providerCode, externalReference string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE provider_code = $1 AND (external_reference = $2 OR reference = $2) AND deleted_at IS NULL`
	return r.scanTransaction(ctx, query, providerCode, externalReference)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransactionRow(row rowScanner) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(
		&t.ID,
		&t.Reference,
		&t.ProviderCode,
		&t.Type,
		&t.Amount,
		&t.Currency,
		&t.PhoneNumber,
		&t.Status,
		&t.ExternalReference,
		&t.ProviderTransactionID,
		&t.Fee,
		&t.RetryCount,
		&t.FailureReason,
		&t.Description,
		&t.ReconciliationID,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.CompletedAt,
		&t.FailedAt,
		&t.ReconciledAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *transactionRepository) scanTransaction(ctx context.Context, query string, args ...interface{}) (*domain.Transaction, error) {
	t, err := scanTransactionRow(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrTransactionNotFound
		}
		r.logger.Error("Failed to get transaction", "args", args, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get transaction").WithDetails(err.Error())
	}
	return t, nil
}

func (r *transactionRepository) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		UPDATE transactions
		SET status = $1, provider_transaction_id = $2, fee = $3, retry_count = $4,
		    failure_reason = $5, completed_at = $6, failed_at = $7, updated_at = $8
		WHERE id = $9
	`

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query,
		tx.Status,
		tx.ProviderTransactionID,
		tx.Fee.String(),
		tx.RetryCount,
		tx.FailureReason,
		tx.CompletedAt,
		tx.FailedAt,
		now,
		tx.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update transaction",
			"reference", tx.Reference, "status", tx.Status, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to update transaction").WithDetails(err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to get rows affected").WithDetails(err.Error())
	}
	if rowsAffected == 0 {
		return errors.ErrTransactionNotFound
	}

	tx.UpdatedAt = now
	r.logger.Info("Transaction status updated", "reference", tx.Reference, "status", tx.Status)
	return nil
}

func (r *transactionRepository) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = 'pending' AND created_at < $1 AND deleted_at IS NULL
		ORDER BY created_at
		LIMIT $2`
	return r.list(ctx, query, createdBefore, limit)
}

func (r *transactionRepository) ListForReconciliation(ctx context.Context, providerCode string, from, to time.Time) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE provider_code = $1 AND status = 'completed'
		  AND completed_at >= $2 AND completed_at < $3
		  AND reconciled_at IS NULL AND deleted_at IS NULL
		ORDER BY completed_at`
	return r.list(ctx, query, providerCode, from, to)
}

func (r *transactionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list transactions", "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to list transactions").WithDetails(err.Error())
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTransactionRow(rows)
		if err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan transaction").WithDetails(err.Error())
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to list transactions").WithDetails(err.Error())
	}
	return out, nil
}

func (r *transactionRepository) MarkReconciled(ctx context.Context, ids []uuid.UUID, reconciliationID uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
		UPDATE transactions
		SET reconciled_at = $1, reconciliation_id = $2, updated_at = $1
		WHERE id = ANY($3::uuid[]) AND reconciled_at IS NULL
	`

	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}

	if _, err := r.db.ExecContext(ctx, query, at, reconciliationID, pq.Array(raw)); err != nil {
		r.logger.Error("Failed to mark transactions reconciled",
			"reconciliation_id", reconciliationID, "count", len(ids), "error", err)
		return errors.NewAppError(errors.InternalError, "failed to mark transactions reconciled").WithDetails(err.Error())
	}

	r.logger.Info("Transactions marked reconciled", "reconciliation_id", reconciliationID, "count", len(ids))
	return nil
}
