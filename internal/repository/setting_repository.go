package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"payments-gateway/internal/domain"
	"payments-gateway/internal/errors"
)

type settingRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewSettingRepository(db SQLExecutor, logger *slog.Logger) domain.SettingRepository {
	return &settingRepository{
		db:     db,
		logger: logger,
	}
}

func (r *settingRepository) GetSetting(ctx context.Context, scope, key string) (*domain.Setting, error) {
	query := `SELECT scope, key, value, updated_at FROM settings WHERE scope = $1 AND key = $2`

	var s domain.Setting
	err := r.db.QueryRowContext(ctx, query, scope, key).Scan(&s.Scope, &s.Key, &s.Value, &s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrSettingNotFound
		}
		r.logger.Error("Failed to get setting", "scope", scope, "key", key, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get setting").WithDetails(err.Error())
	}
	return &s, nil
}

func (r *settingRepository) UpsertSetting(ctx context.Context, s *domain.Setting) error {
	query := `
		INSERT INTO settings (scope, key, value, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (scope, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`

	s.UpdatedAt = time.Now().UTC()
	if _, err := r.db.ExecContext(ctx, query, s.Scope, s.Key, s.Value, s.UpdatedAt); err != nil {
		r.logger.Error("Failed to upsert setting", "scope", s.Scope, "key", s.Key, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to save setting").WithDetails(err.Error())
	}
	return nil
}

func (r *settingRepository) DeleteSetting(ctx context.Context, scope, key string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM settings WHERE scope = $1 AND key = $2`, scope, key)
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to delete setting").WithDetails(err.Error())
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to delete setting").WithDetails(err.Error())
	}
	if rows == 0 {
		return errors.ErrSettingNotFound
	}
	return nil
}
