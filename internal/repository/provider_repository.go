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

type providerRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewProviderRepository(db SQLExecutor, logger *slog.Logger) domain.ProviderRepository {
	return &providerRepository{
		db:     db,
		logger: logger,
	}
}

const providerColumns = `
	id, code, name, base_url, environment, currency, api_user, api_key, subscription_key,
	webhook_secret, callback_url, active, min_amount, max_amount, phone_prefixes,
	reference_prefix, cash_account_code, fee_account_code, clearing_account_code,
	created_at, updated_at`

func scanProviderRow(row rowScanner) (*domain.Provider, error) {
	var p domain.Provider
	err := row.Scan(
		&p.ID,
		&p.Code,
		&p.Name,
		&p.BaseURL,
		&p.Environment,
		&p.Currency,
		&p.APIUser,
		&p.APIKey,
		&p.SubscriptionKey,
		&p.WebhookSecret,
		&p.CallbackURL,
		&p.Active,
		&p.MinAmount,
		&p.MaxAmount,
		pq.Array(&p.PhonePrefixes),
		&p.ReferencePrefix,
		&p.CashAccountCode,
		&p.FeeAccountCode,
		&p.ClearingAccountCode,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *providerRepository) GetActiveByCode(ctx context.Context, code string) (*domain.Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers WHERE code = $1 AND active`

	p, err := scanProviderRow(r.db.QueryRowContext(ctx, query, code))
	if err != nil {
		if err == sql.ErrNoRows {
			r.logger.Warn("Provider not found", "code", code)
			return nil, errors.ErrProviderNotFound
		}
		r.logger.Error("Failed to get provider", "code", code, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get provider").WithDetails(err.Error())
	}
	return p, nil
}

func (r *providerRepository) ListActive(ctx context.Context) ([]*domain.Provider, error) {
	query := `SELECT ` + providerColumns + ` FROM providers WHERE active ORDER BY code`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list providers", "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to list providers").WithDetails(err.Error())
	}
	defer rows.Close()

	var out []*domain.Provider
	for rows.Next() {
		p, err := scanProviderRow(rows)
		if err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan provider").WithDetails(err.Error())
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to list providers").WithDetails(err.Error())
	}
	return out, nil
}

// UpsertProvider replaces the active configuration for p.Code. The previous
// active row is deactivated first so the partial unique index holds.
func (r *providerRepository) UpsertProvider(ctx context.Context, p *domain.Provider) error {
	now := time.Now().UTC()

	if _, err := r.db.ExecContext(ctx,
		`UPDATE providers SET active = FALSE, updated_at = $2 WHERE code = $1 AND active`,
		p.Code, now,
	); err != nil {
		r.logger.Error("Failed to deactivate provider", "code", p.Code, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to deactivate provider").WithDetails(err.Error())
	}

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
		p.CreatedAt = now
	}

	query := `
		INSERT INTO providers (` + providerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, base_url = EXCLUDED.base_url, environment = EXCLUDED.environment,
			currency = EXCLUDED.currency, api_user = EXCLUDED.api_user, api_key = EXCLUDED.api_key,
			subscription_key = EXCLUDED.subscription_key, webhook_secret = EXCLUDED.webhook_secret,
			callback_url = EXCLUDED.callback_url, active = EXCLUDED.active,
			min_amount = EXCLUDED.min_amount, max_amount = EXCLUDED.max_amount,
			phone_prefixes = EXCLUDED.phone_prefixes, reference_prefix = EXCLUDED.reference_prefix,
			cash_account_code = EXCLUDED.cash_account_code, fee_account_code = EXCLUDED.fee_account_code,
			clearing_account_code = EXCLUDED.clearing_account_code, updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.Code,
		p.Name,
		p.BaseURL,
		p.Environment,
		p.Currency,
		p.APIUser,
		p.APIKey,
		p.SubscriptionKey,
		p.WebhookSecret,
		p.CallbackURL,
		p.Active,
		p.MinAmount.String(),
		p.MaxAmount.String(),
		pq.Array(p.PhonePrefixes),
		p.ReferencePrefix,
		p.CashAccountCode,
		p.FeeAccountCode,
		p.ClearingAccountCode,
		now,
		now,
	)
	if err != nil {
		r.logger.Error("Failed to upsert provider", "code", p.Code, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to upsert provider").WithDetails(err.Error())
	}

	p.UpdatedAt = now
	r.logger.Info("Provider configuration saved", "code", p.Code, "active", p.Active)
	return nil
}
