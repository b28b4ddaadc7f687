package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/google/uuid"

	"payments-gateway/internal/domain"
	"payments-gateway/internal/errors"
)

type reconciliationRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewReconciliationRepository(db SQLExecutor, logger *slog.Logger) domain.ReconciliationRepository {
	return &reconciliationRepository{
		db:     db,
		logger: logger,
	}
}

// CreateReconciliation stores the batch and its items. Callers run it inside
// WithTransaction so a batch never exists without its items.
func (r *reconciliationRepository) CreateReconciliation(ctx context.Context, rec *domain.Reconciliation) error {
	query := `
		INSERT INTO reconciliations
		(id, provider_code, period_start, period_end, statement_opening_balance, statement_closing_balance,
		 book_opening_balance, book_closing_balance, tolerance, total_count, total_amount, matched_count,
		 matched_amount, discrepancy_count, discrepancy_amount, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.ProviderCode,
		rec.PeriodStart,
		rec.PeriodEnd,
		rec.StatementOpeningBalance.String(),
		rec.StatementClosingBalance.String(),
		rec.BookOpeningBalance.String(),
		rec.BookClosingBalance.String(),
		rec.Tolerance.String(),
		rec.TotalCount,
		rec.TotalAmount.String(),
		rec.MatchedCount,
		rec.MatchedAmount.String(),
		rec.DiscrepancyCount,
		rec.DiscrepancyAmount.String(),
		rec.CreatedAt,
		rec.CompletedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create reconciliation", "reconciliation_id", rec.ID, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to create reconciliation").WithDetails(err.Error())
	}

	itemQuery := `
		INSERT INTO reconciliation_items
		(id, reconciliation_id, transaction_id, status, statement_reference, internal_reference,
		 statement_amount, book_amount, difference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, item := range rec.Items {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.ReconciliationID = rec.ID
		_, err := r.db.ExecContext(ctx, itemQuery,
			item.ID,
			item.ReconciliationID,
			item.TransactionID,
			item.Status,
			item.StatementReference,
			item.InternalReference,
			item.StatementAmount.String(),
			item.BookAmount.String(),
			item.Difference.String(),
		)
		if err != nil {
			r.logger.Error("Failed to create reconciliation item", "reconciliation_id", rec.ID, "error", err)
			return errors.NewAppError(errors.InternalError, "failed to create reconciliation item").WithDetails(err.Error())
		}
	}

	r.logger.Info("Reconciliation created successfully",
		"reconciliation_id", rec.ID, "items", len(rec.Items), "discrepancies", rec.DiscrepancyCount)
	return nil
}

func (r *reconciliationRepository) GetReconciliation(ctx context.Context, id uuid.UUID) (*domain.Reconciliation, error) {
	query := `
		SELECT id, provider_code, period_start, period_end, statement_opening_balance, statement_closing_balance,
		       book_opening_balance, book_closing_balance, tolerance, total_count, total_amount, matched_count,
		       matched_amount, discrepancy_count, discrepancy_amount, created_at, completed_at
		FROM reconciliations WHERE id = $1
	`

	var rec domain.Reconciliation
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID,
		&rec.ProviderCode,
		&rec.PeriodStart,
		&rec.PeriodEnd,
		&rec.StatementOpeningBalance,
		&rec.StatementClosingBalance,
		&rec.BookOpeningBalance,
		&rec.BookClosingBalance,
		&rec.Tolerance,
		&rec.TotalCount,
		&rec.TotalAmount,
		&rec.MatchedCount,
		&rec.MatchedAmount,
		&rec.DiscrepancyCount,
		&rec.DiscrepancyAmount,
		&rec.CreatedAt,
		&rec.CompletedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrReconciliationNotFound
		}
		r.logger.Error("Failed to get reconciliation", "reconciliation_id", id, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get reconciliation").WithDetails(err.Error())
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, reconciliation_id, transaction_id, status, statement_reference, internal_reference,
		       statement_amount, book_amount, difference
		FROM reconciliation_items WHERE reconciliation_id = $1 ORDER BY status, statement_reference
	`, id)
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to list reconciliation items").WithDetails(err.Error())
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.ReconciliationItem
		if err := rows.Scan(
			&item.ID,
			&item.ReconciliationID,
			&item.TransactionID,
			&item.Status,
			&item.StatementReference,
			&item.InternalReference,
			&item.StatementAmount,
			&item.BookAmount,
			&item.Difference,
		); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan reconciliation item").WithDetails(err.Error())
		}
		rec.Items = append(rec.Items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to list reconciliation items").WithDetails(err.Error())
	}

	return &rec, nil
}
