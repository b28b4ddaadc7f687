package settings

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"payments-gateway/internal/domain"
	"payments-gateway/internal/errors"
)

const (
	KeyAutoDetectProvider      = "payments.auto_detect_provider"
	KeyPaymentMaxRetries       = "payments.max_retries"
	KeyReconciliationTolerance = "reconciliation.tolerance"
	KeySmartInvoiceEnabled     = "smart_invoice.enabled"
	KeyFinanceEmail            = "notifications.finance_email"
)

type cacheKey struct {
	scope string
	key   string
}

type entry struct {
	value string
	found bool
}

// Service is a read-through cache over the settings table. Lookups in a
// company scope fall back to the global scope. Writes invalidate the entry.
type Service struct {
	store  domain.Store
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[cacheKey]entry

	// bumped on every write; a read that raced a write is not cached
	version uint64
}

func NewService(store domain.Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		cache:  make(map[cacheKey]entry),
	}
}

func (s *Service) raw(ctx context.Context, scope, key string) (entry, error) {
	k := cacheKey{scope, key}
	s.mu.RLock()
	e, ok := s.cache[k]
	version := s.version
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	setting, err := s.store.Settings().GetSetting(ctx, scope, key)
	switch {
	case err == nil:
		e = entry{value: setting.Value, found: true}
	case errors.Is(err, errors.NotFound):
		e = entry{}
	default:
		return entry{}, err
	}

	s.mu.Lock()
	if s.version == version {
		s.cache[k] = e
	}
	s.mu.Unlock()
	return e, nil
}

// Lookup resolves key in scope, then in the global scope.
func (s *Service) Lookup(ctx context.Context, scope, key string) (string, bool, error) {
	if scope == "" {
		scope = domain.GlobalScope
	}
	e, err := s.raw(ctx, scope, key)
	if err != nil {
		return "", false, err
	}
	if e.found || scope == domain.GlobalScope {
		return e.value, e.found, nil
	}
	e, err = s.raw(ctx, domain.GlobalScope, key)
	if err != nil {
		return "", false, err
	}
	return e.value, e.found, nil
}

func (s *Service) Set(ctx context.Context, scope, key, value string) (*domain.Setting, error) {
	if scope == "" {
		scope = domain.GlobalScope
	}
	if key == "" {
		return nil, errors.NewAppError(errors.ValidationError, "Setting key is required")
	}
	setting := &domain.Setting{Scope: scope, Key: key, Value: value}
	if err := s.store.Settings().UpsertSetting(ctx, setting); err != nil {
		return nil, err
	}
	s.invalidate(scope, key)
	s.logger.Info("Setting updated", "scope", scope, "key", key)
	return setting, nil
}

func (s *Service) Delete(ctx context.Context, scope, key string) error {
	if scope == "" {
		scope = domain.GlobalScope
	}
	if err := s.store.Settings().DeleteSetting(ctx, scope, key); err != nil {
		return err
	}
	s.invalidate(scope, key)
	s.logger.Info("Setting deleted", "scope", scope, "key", key)
	return nil
}

func (s *Service) invalidate(scope, key string) {
	s.mu.Lock()
	s.version++
	delete(s.cache, cacheKey{scope, key})
	s.mu.Unlock()
}

func (s *Service) lookupOrDefault(ctx context.Context, scope, key string) (string, bool) {
	v, found, err := s.Lookup(ctx, scope, key)
	if err != nil {
		s.logger.Warn("Failed to read setting, using default", "scope", scope, "key", key, "error", err)
		return "", false
	}
	return v, found
}

func (s *Service) String(ctx context.Context, scope, key, def string) string {
	if v, ok := s.lookupOrDefault(ctx, scope, key); ok {
		return v
	}
	return def
}

func (s *Service) Bool(ctx context.Context, scope, key string, def bool) bool {
	if v, ok := s.lookupOrDefault(ctx, scope, key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func (s *Service) Int(ctx context.Context, scope, key string, def int) int {
	if v, ok := s.lookupOrDefault(ctx, scope, key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (s *Service) Decimal(ctx context.Context, scope, key string, def decimal.Decimal) decimal.Decimal {
	if v, ok := s.lookupOrDefault(ctx, scope, key); ok {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return def
}

func (s *Service) Duration(ctx context.Context, scope, key string, def time.Duration) time.Duration {
	if v, ok := s.lookupOrDefault(ctx, scope, key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
