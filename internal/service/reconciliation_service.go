package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payments-gateway/internal/domain"
	"payments-gateway/internal/errors"
	"payments-gateway/internal/metrics"
	"payments-gateway/internal/notification"
	"payments-gateway/internal/settings"
)

// ReconciliationService matches bank statement lines against completed
// transactions for a provider and period.
type ReconciliationService struct {
	store    domain.Store
	settings *settings.Service
	notifier Notifier
	logger   *slog.Logger
}

func NewReconciliationService(
	store domain.Store,
	settingsService *settings.Service,
	notifier Notifier,
	logger *slog.Logger,
) *ReconciliationService {
	return &ReconciliationService{
		store:    store,
		settings: settingsService,
		notifier: notifier,
		logger:   logger,
	}
}

// ReconcileRequest is a bank statement for one provider and period.
type ReconcileRequest struct {
	ProviderCode   string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	OpeningBalance decimal.Decimal
	// ClosingBalance is the statement's closing balance. When nil it is derived
	// from the opening balance and the statement lines.
	ClosingBalance *decimal.Decimal
	Lines          []domain.StatementLine
	Scope          string
}

// Reconcile matches statement lines against completed, unreconciled
// transactions of the period. Lines pair with a transaction by reference and
// match when the amounts agree within the configured tolerance. Everything
// else becomes a discrepancy item.
func (s *ReconciliationService) Reconcile(ctx context.Context, req *ReconcileRequest) (*domain.Reconciliation, error) {
	s.logger.Info("Processing reconciliation",
		"provider", req.ProviderCode,
		"period_start", req.PeriodStart,
		"period_end", req.PeriodEnd,
		"lines", len(req.Lines))

	if err := validateReconcileRequest(req); err != nil {
		return nil, err
	}

	provider, err := s.store.Providers().GetActiveByCode(ctx, strings.ToUpper(req.ProviderCode))
	if err != nil {
		return nil, err
	}
	tolerance := s.settings.Decimal(ctx, scopeOrGlobal(req.Scope), settings.KeyReconciliationTolerance, decimal.Zero).Abs()

	var rec *domain.Reconciliation
	err = s.store.WithTransaction(ctx, func(store domain.Store) error {
		book, err := store.Transactions().ListForReconciliation(ctx, provider.Code, req.PeriodStart, req.PeriodEnd)
		if err != nil {
			return err
		}

		rec = match(req, provider.Code, book, tolerance)

		var matched []uuid.UUID
		for _, item := range rec.Items {
			if item.Status == domain.ItemMatched && item.TransactionID != nil {
				matched = append(matched, *item.TransactionID)
			}
		}

		if err := store.Reconciliations().CreateReconciliation(ctx, rec); err != nil {
			return err
		}
		if len(matched) == 0 {
			return nil
		}
		return store.Transactions().MarkReconciled(ctx, matched, rec.ID, *rec.CompletedAt)
	})
	if err != nil {
		s.logger.Error("Reconciliation failed",
			"provider", provider.Code,
			"error", err)
		return nil, err
	}

	for _, item := range rec.Items {
		if item.Status != domain.ItemMatched {
			metrics.ReconciliationDiscrepancies.WithLabelValues(rec.ProviderCode, string(item.Status)).Inc()
		}
	}
	s.logger.Info("Reconciliation completed",
		"reconciliation_id", rec.ID,
		"matched", rec.MatchedCount,
		"discrepancies", rec.DiscrepancyCount)

	if s.notifier != nil {
		s.notifier.Send(ctx, financeTeam(ctx, s.settings), notification.ReconciliationCompleted(rec, provider.Currency))
	}
	return rec, nil
}

func validateReconcileRequest(req *ReconcileRequest) error {
	var fields []string
	if strings.TrimSpace(req.ProviderCode) == "" {
		fields = append(fields, "provider is required")
	}
	if req.PeriodStart.IsZero() || req.PeriodEnd.IsZero() {
		fields = append(fields, "period_start and period_end are required")
	} else if !req.PeriodEnd.After(req.PeriodStart) {
		fields = append(fields, "period_end must be after period_start")
	}
	seen := make(map[string]bool, len(req.Lines))
	for _, line := range req.Lines {
		ref := strings.TrimSpace(line.Reference)
		if ref == "" {
			fields = append(fields, "every statement line needs a reference")
			continue
		}
		if seen[ref] {
			fields = append(fields, "duplicate statement reference "+ref)
		}
		seen[ref] = true
	}
	if len(fields) > 0 {
		return errors.NewAppError(errors.ValidationError, "Invalid reconciliation request").WithFields(fields...)
	}
	return nil
}

// match builds the reconciliation with its items and totals. Every item is
// counted in exactly one of matched or discrepancy, so the two amounts always
// add up to the total.
func match(req *ReconcileRequest, providerCode string, book []*domain.Transaction, tolerance decimal.Decimal) *domain.Reconciliation {
	now := time.Now().UTC()
	rec := &domain.Reconciliation{
		ID:                      uuid.New(),
		ProviderCode:            providerCode,
		PeriodStart:             req.PeriodStart,
		PeriodEnd:               req.PeriodEnd,
		StatementOpeningBalance: req.OpeningBalance,
		BookOpeningBalance:      req.OpeningBalance,
		Tolerance:               tolerance,
		TotalAmount:             decimal.Zero,
		MatchedAmount:           decimal.Zero,
		DiscrepancyAmount:       decimal.Zero,
		CreatedAt:               now,
		CompletedAt:             &now,
	}

	byRef := make(map[string]*domain.Transaction, len(book)*2)
	for _, tx := range book {
		byRef[tx.Reference] = tx
		if tx.ExternalReference != "" {
			byRef[tx.ExternalReference] = tx
		}
		if tx.ProviderTransactionID != "" {
			byRef[tx.ProviderTransactionID] = tx
		}
	}

	used := make(map[uuid.UUID]bool, len(book))
	statementMovement := decimal.Zero
	for _, line := range req.Lines {
		statementMovement = statementMovement.Add(line.Amount)
		amount := line.Amount.Abs()
		item := &domain.ReconciliationItem{
			ID:                 uuid.New(),
			ReconciliationID:   rec.ID,
			StatementReference: strings.TrimSpace(line.Reference),
			StatementAmount:    amount,
			BookAmount:         decimal.Zero,
		}

		tx, ok := byRef[item.StatementReference]
		if !ok || used[tx.ID] {
			item.Status = domain.ItemMissingInternal
			item.Difference = amount
			rec.Items = append(rec.Items, item)
			continue
		}

		used[tx.ID] = true
		id := tx.ID
		item.TransactionID = &id
		item.InternalReference = tx.Reference
		item.BookAmount = tx.Amount
		item.Difference = amount.Sub(tx.Amount)
		if item.Difference.Abs().LessThanOrEqual(tolerance) {
			item.Status = domain.ItemMatched
		} else {
			item.Status = domain.ItemAmountMismatch
		}
		rec.Items = append(rec.Items, item)
	}

	bookMovement := decimal.Zero
	for _, tx := range book {
		bookMovement = bookMovement.Add(tx.SignedAmount())
		if used[tx.ID] {
			continue
		}
		id := tx.ID
		rec.Items = append(rec.Items, &domain.ReconciliationItem{
			ID:                uuid.New(),
			ReconciliationID:  rec.ID,
			TransactionID:     &id,
			Status:            domain.ItemMissingStatement,
			InternalReference: tx.Reference,
			StatementAmount:   decimal.Zero,
			BookAmount:        tx.Amount,
			Difference:        tx.Amount.Neg(),
		})
	}

	for _, item := range rec.Items {
		rec.TotalCount++
		rec.TotalAmount = rec.TotalAmount.Add(item.Amount())
		if item.Status == domain.ItemMatched {
			rec.MatchedCount++
			rec.MatchedAmount = rec.MatchedAmount.Add(item.Amount())
		} else {
			rec.DiscrepancyCount++
			rec.DiscrepancyAmount = rec.DiscrepancyAmount.Add(item.Amount())
		}
	}

	rec.BookClosingBalance = rec.BookOpeningBalance.Add(bookMovement)
	if req.ClosingBalance != nil {
		rec.StatementClosingBalance = *req.ClosingBalance
	} else {
		rec.StatementClosingBalance = rec.StatementOpeningBalance.Add(statementMovement)
	}
	return rec
}

func (s *ReconciliationService) Get(ctx context.Context, id uuid.UUID) (*domain.Reconciliation, error) {
	return s.store.Reconciliations().GetReconciliation(ctx, id)
}
