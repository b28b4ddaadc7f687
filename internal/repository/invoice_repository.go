package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"payments-gateway/internal/domain"
	"payments-gateway/internal/errors"
)

type invoiceRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewInvoiceRepository(db SQLExecutor, logger *slog.Logger) domain.InvoiceRepository {
	return &invoiceRepository{
		db:     db,
		logger: logger,
	}
}

const invoiceColumns = `
	id, invoice_id, invoice_number, invoice_date, seller_tpin, buyer_tpin, buyer_name, currency,
	lines, subtotal, tax_total, total, status, zra_reference, submission_id, verification_url,
	qr_code, rejection_reason, validation_errors, cancellation_reason, attempt_count, retry_count,
	last_attempt_at, submitted_at, approved_at, rejected_at, cancelled_at, created_at, updated_at`

func (r *invoiceRepository) CreateInvoice(ctx context.Context, inv *domain.SmartInvoice) error {
	query := `
		INSERT INTO smart_invoices
		(id, invoice_id, invoice_number, invoice_date, seller_tpin, buyer_tpin, buyer_name, currency,
		 lines, subtotal, tax_total, total, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	lines, err := json.Marshal(inv.Lines)
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to encode invoice lines").WithDetails(err.Error())
	}

	now := time.Now().UTC()
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	_, err = r.db.ExecContext(ctx, query,
		inv.ID,
		inv.InvoiceID,
		inv.InvoiceNumber,
		inv.InvoiceDate,
		inv.SellerTPIN,
		inv.BuyerTPIN,
		inv.BuyerName,
		inv.Currency,
		lines,
		inv.Subtotal.String(),
		inv.TaxTotal.String(),
		inv.Total.String(),
		inv.Status,
		now,
		now,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			r.logger.Warn("Duplicate smart invoice submission", "invoice_id", inv.InvoiceID)
			return errors.ErrDuplicateSubmission
		}
		r.logger.Error("Failed to create smart invoice", "invoice_id", inv.InvoiceID, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to create smart invoice").WithDetails(err.Error())
	}

	inv.CreatedAt = now
	inv.UpdatedAt = now
	r.logger.Info("Smart invoice created", "id", inv.ID, "invoice_id", inv.InvoiceID)
	return nil
}

func (r *invoiceRepository) GetInvoice(ctx context.Context, id uuid.UUID) (*domain.SmartInvoice, error) {
	return r.getOne(ctx, `SELECT `+invoiceColumns+` FROM smart_invoices WHERE id = $1`, id)
}

func (r *invoiceRepository) GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (*domain.SmartInvoice, error) {
	return r.getOne(ctx, `SELECT `+invoiceColumns+` FROM smart_invoices WHERE id = $1 FOR UPDATE`, id)
}

func (r *invoiceRepository) GetActiveByInvoiceID(ctx context.Context, invoiceID string) (*domain.SmartInvoice, error) {
	return r.getOne(ctx, `SELECT `+invoiceColumns+` FROM smart_invoices WHERE invoice_id = $1 AND status <> 'cancelled'`, invoiceID)
}

func (r *invoiceRepository) getOne(ctx context.Context, query string, arg interface{}) (*domain.SmartInvoice, error) {
	inv, err := scanInvoiceRow(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrInvoiceNotFound
		}
		r.logger.Error("Failed to get smart invoice", "key", arg, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get smart invoice").WithDetails(err.Error())
	}
	return inv, nil
}

func scanInvoiceRow(row rowScanner) (*domain.SmartInvoice, error) {
	var inv domain.SmartInvoice
	var lines []byte
	err := row.Scan(
		&inv.ID,
		&inv.InvoiceID,
		&inv.InvoiceNumber,
		&inv.InvoiceDate,
		&inv.SellerTPIN,
		&inv.BuyerTPIN,
		&inv.BuyerName,
		&inv.Currency,
		&lines,
		&inv.Subtotal,
		&inv.TaxTotal,
		&inv.Total,
		&inv.Status,
		&inv.ZRAReference,
		&inv.SubmissionID,
		&inv.VerificationURL,
		&inv.QRCode,
		&inv.RejectionReason,
		pq.Array(&inv.ValidationErrors),
		&inv.CancellationReason,
		&inv.AttemptCount,
		&inv.RetryCount,
		&inv.LastAttemptAt,
		&inv.SubmittedAt,
		&inv.ApprovedAt,
		&inv.RejectedAt,
		&inv.CancelledAt,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(lines) > 0 {
		if err := json.Unmarshal(lines, &inv.Lines); err != nil {
			return nil, err
		}
	}
	return &inv, nil
}

func (r *invoiceRepository) UpdateInvoice(ctx context.Context, inv *domain.SmartInvoice) error {
	query := `
		UPDATE smart_invoices SET
			status = $2, zra_reference = $3, submission_id = $4, verification_url = $5, qr_code = $6,
			rejection_reason = $7, validation_errors = $8, cancellation_reason = $9, attempt_count = $10,
			retry_count = $11, last_attempt_at = $12, submitted_at = $13, approved_at = $14,
			rejected_at = $15, cancelled_at = $16, updated_at = $17
		WHERE id = $1
	`

	validationErrors := inv.ValidationErrors
	if validationErrors == nil {
		validationErrors = []string{}
	}

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query,
		inv.ID,
		inv.Status,
		inv.ZRAReference,
		inv.SubmissionID,
		inv.VerificationURL,
		inv.QRCode,
		inv.RejectionReason,
		pq.Array(validationErrors),
		inv.CancellationReason,
		inv.AttemptCount,
		inv.RetryCount,
		inv.LastAttemptAt,
		inv.SubmittedAt,
		inv.ApprovedAt,
		inv.RejectedAt,
		inv.CancelledAt,
		now,
	)
	if err != nil {
		r.logger.Error("Failed to update smart invoice", "id", inv.ID, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to update smart invoice").WithDetails(err.Error())
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to update smart invoice").WithDetails(err.Error())
	}
	if rows == 0 {
		return errors.ErrInvoiceNotFound
	}

	inv.UpdatedAt = now
	return nil
}
