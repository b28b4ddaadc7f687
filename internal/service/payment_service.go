package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payments-gateway/internal/domain"
	"payments-gateway/internal/errors"
	"payments-gateway/internal/metrics"
	"payments-gateway/internal/momo"
	"payments-gateway/internal/notification"
	"payments-gateway/internal/settings"
	"payments-gateway/internal/webhook"
)

// PaymentGateway is the provider API used by the payment service.
type PaymentGateway interface {
	Authenticate(ctx context.Context, p *domain.Provider) (string, error)
	Initiate(ctx context.Context, p *domain.Provider, tx *domain.Transaction) error
	Status(ctx context.Context, p *domain.Provider, tx *domain.Transaction) (*momo.StatusResult, error)
}

// Notifier hands events to the notification dispatcher.
type Notifier interface {
	Send(ctx context.Context, n notification.Notifiable, e notification.Event)
}

// PaymentConfig holds the payment defaults that settings may override.
type PaymentConfig struct {
	// MaxRetries is used when payments.max_retries is not set.
	MaxRetries int
}

// PaymentService initiates mobile money payments and drives them to a final
// status, posting ledger entries when a payment completes.
type PaymentService struct {
	store    domain.Store
	gateway  PaymentGateway
	settings *settings.Service
	notifier Notifier
	cfg      PaymentConfig
	logger   *slog.Logger
}

func NewPaymentService(
	store domain.Store,
	gateway PaymentGateway,
	settingsService *settings.Service,
	notifier Notifier,
	cfg PaymentConfig,
	logger *slog.Logger,
) *PaymentService {
	return &PaymentService{
		store:    store,
		gateway:  gateway,
		settings: settingsService,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// InitiateRequest is the input for Initiate. ProviderCode is optional when
// auto-detection is enabled for the scope.
type InitiateRequest struct {
	Amount       decimal.Decimal
	PhoneNumber  string
	Type         domain.TransactionType
	ProviderCode string
	Currency     string
	Description  string
	// ExternalReference is the caller's idempotency id. Defaults to the generated reference.
	ExternalReference string
	// Scope selects company-level settings. Empty means global.
	Scope string
}

// StatusUpdate carries what the provider reported alongside a final status.
type StatusUpdate struct {
	Fee                   decimal.Decimal
	ProviderTransactionID string
	Reason                string
}

func (s *PaymentService) Initiate(ctx context.Context, req *InitiateRequest) (*domain.Transaction, error) {
	s.logger.Info("Processing payment initiation",
		"type", req.Type,
		"amount", req.Amount,
		"provider", req.ProviderCode)

	phone, err := s.validateInitiate(req)
	if err != nil {
		return nil, err
	}

	provider, err := s.resolveProvider(ctx, req, phone)
	if err != nil {
		return nil, err
	}

	if !provider.AmountInRange(req.Amount) {
		return nil, amountRangeError(provider)
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = provider.Currency
	}
	if currency != provider.Currency {
		return nil, errors.NewAppErrorf(errors.ValidationError,
			"Provider %s only accepts %s", provider.Code, provider.Currency)
	}

	// Credential problems surface before anything is persisted.
	if _, err := s.gateway.Authenticate(ctx, provider); err != nil {
		s.authFailed(ctx, provider.Code, err)
		return nil, err
	}

	reference := newReference(provider.ReferencePrefix)
	externalRef := req.ExternalReference
	if externalRef == "" {
		externalRef = reference
	}
	tx := &domain.Transaction{
		ID:                uuid.New(),
		Reference:         reference,
		ProviderCode:      provider.Code,
		Type:              req.Type,
		Amount:            req.Amount,
		Currency:          currency,
		PhoneNumber:       phone,
		Status:            domain.StatusPending,
		ExternalReference: externalRef,
		Fee:               decimal.Zero,
		Description:       req.Description,
	}

	if err := s.store.Transactions().CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}
	metrics.PaymentsInitiated.WithLabelValues(provider.Code, string(tx.Type)).Inc()

	return s.dispatch(ctx, provider, tx)
}

func (s *PaymentService) validateInitiate(req *InitiateRequest) (string, error) {
	if !req.Type.Valid() {
		return "", errors.NewAppError(errors.ValidationError, "Invalid transaction type").
			WithFields("type must be collection or disbursement")
	}
	if !req.Amount.IsPositive() {
		return "", errors.NewAppError(errors.ValidationError, "Amount must be greater than zero").
			WithFields("amount must be greater than zero")
	}
	return momo.NormalizePhone(req.PhoneNumber)
}

func (s *PaymentService) resolveProvider(ctx context.Context, req *InitiateRequest, phone string) (*domain.Provider, error) {
	if req.ProviderCode != "" {
		provider, err := s.store.Providers().GetActiveByCode(ctx, strings.ToUpper(req.ProviderCode))
		if errors.Is(err, errors.NotFound) {
			return nil, errors.NewAppErrorf(errors.UnknownProviderError,
				"No active provider with code %s", strings.ToUpper(req.ProviderCode))
		}
		if err != nil {
			return nil, err
		}
		if !momo.ServesNumber(provider, phone) {
			return nil, errors.NewAppErrorf(errors.ValidationError,
				"Phone number is not served by provider %s", provider.Code).
				WithFields(fmt.Sprintf("phone_number: prefix %s is not served by %s", momo.OperatorPrefix(phone), provider.Code))
		}
		return provider, nil
	}

	scope := scopeOrGlobal(req.Scope)
	if !s.settings.Bool(ctx, scope, settings.KeyAutoDetectProvider, true) {
		return nil, errors.NewAppError(errors.ValidationError, "Provider is required").
			WithFields("provider is required when auto-detection is disabled")
	}

	active, err := s.store.Providers().ListActive(ctx)
	if err != nil {
		return nil, err
	}
	provider, err := momo.DetectProvider(phone, active)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Provider detected from phone prefix",
		"provider", provider.Code,
		"prefix", momo.OperatorPrefix(phone))
	return provider, nil
}

func amountRangeError(p *domain.Provider) *errors.AppError {
	if p.MaxAmount.IsZero() {
		return errors.NewAppErrorf(errors.ValidationError,
			"Amount must be at least %s for provider %s", p.MinAmount.StringFixed(2), p.Code)
	}
	return errors.NewAppErrorf(errors.ValidationError,
		"Amount must be between %s and %s for provider %s",
		p.MinAmount.StringFixed(2), p.MaxAmount.StringFixed(2), p.Code)
}

// newReference builds PREFIX-XXXXXXXXXXXX from a random uuid.
func newReference(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(id[:12]))
}

// dispatch sends the payment request. A network failure leaves the transaction
// pending for the status poller since the provider may have received it. Any
// other failure means the request was refused and the transaction fails.
func (s *PaymentService) dispatch(ctx context.Context, p *domain.Provider, tx *domain.Transaction) (*domain.Transaction, error) {
	err := s.gateway.Initiate(ctx, p, tx)
	if err == nil {
		s.logger.Info("Payment request accepted by provider",
			"reference", tx.Reference,
			"provider", p.Code)
		return tx, nil
	}

	if errors.Is(err, errors.NetworkError) {
		s.logger.Warn("Payment request outcome unknown, leaving pending",
			"reference", tx.Reference,
			"provider", p.Code,
			"error", err)
		return tx, nil
	}

	if errors.Is(err, errors.AuthenticationError) {
		s.authFailed(ctx, p.Code, err)
	}

	appErr := errors.AsAppError(err)
	failed, updateErr := s.UpdateStatus(ctx, tx.Reference, domain.StatusFailed, StatusUpdate{Reason: appErr.Message})
	if updateErr != nil {
		s.logger.Error("Failed to record rejected payment",
			"reference", tx.Reference,
			"error", updateErr)
		return nil, updateErr
	}
	return failed, err
}

// UpdateStatus moves a pending transaction to completed or failed. Completion
// writes the ledger entries in the same database transaction as the status.
func (s *PaymentService) UpdateStatus(ctx context.Context, reference string, status domain.TransactionStatus, update StatusUpdate) (*domain.Transaction, error) {
	s.logger.Info("Updating transaction status",
		"reference", reference,
		"status", status)

	if status != domain.StatusCompleted && status != domain.StatusFailed {
		return nil, errors.NewAppErrorf(errors.ValidationError, "Cannot set status to %s", status)
	}

	var updated *domain.Transaction
	err := s.store.WithTransaction(ctx, func(store domain.Store) error {
		tx, err := store.Transactions().GetByReferenceForUpdate(ctx, reference)
		if err != nil {
			return err
		}
		if tx.Status != domain.StatusPending || !domain.CanTransition(tx.Status, status) {
			return errors.NewAppErrorf(errors.InvalidTransition,
				"Transaction %s is %s, only pending transactions can change status", tx.Reference, tx.Status)
		}

		now := time.Now().UTC()
		tx.Status = status
		if update.ProviderTransactionID != "" {
			tx.ProviderTransactionID = update.ProviderTransactionID
		}

		if status == domain.StatusFailed {
			tx.FailureReason = update.Reason
			if tx.FailureReason == "" {
				tx.FailureReason = "Payment failed at provider"
			}
			tx.FailedAt = &now
			updated = tx
			return store.Transactions().UpdateTransaction(ctx, tx)
		}

		fee := update.Fee
		if fee.IsNegative() || fee.GreaterThanOrEqual(tx.Amount) {
			return errors.NewAppErrorf(errors.ValidationError,
				"Fee %s is outside the range of amount %s", fee.StringFixed(2), tx.Amount.StringFixed(2))
		}
		tx.Fee = fee
		tx.CompletedAt = &now
		if err := store.Transactions().UpdateTransaction(ctx, tx); err != nil {
			return err
		}

		provider, err := store.Providers().GetActiveByCode(ctx, tx.ProviderCode)
		if err != nil {
			return err
		}
		if err := store.Ledger().CreateEntries(ctx, ledgerEntries(tx, provider)); err != nil {
			s.logger.Error("Failed to create ledger entries",
				"reference", tx.Reference,
				"error", err)
			return err
		}
		updated = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.PaymentTransitions.WithLabelValues(updated.ProviderCode, string(updated.Status)).Inc()
	s.logger.Info("Transaction status updated",
		"reference", updated.Reference,
		"status", updated.Status,
		"fee", updated.Fee)

	if updated.Status == domain.StatusCompleted {
		s.notify(ctx, notification.PaymentCompleted(updated))
	} else {
		s.notify(ctx, notification.PaymentFailed(updated))
	}
	return updated, nil
}

// ledgerEntries books amount A with fee F. Collections debit cash A-F and fee F
// against a clearing credit of A. Disbursements debit clearing A and fee F
// against a cash credit of A+F.
func ledgerEntries(tx *domain.Transaction, p *domain.Provider) []*domain.LedgerEntry {
	amount := tx.Amount
	fee := tx.Fee
	entry := func(account string, debit, credit decimal.Decimal, description string) *domain.LedgerEntry {
		return &domain.LedgerEntry{
			ID:            uuid.New(),
			TransactionID: tx.ID,
			AccountCode:   account,
			Debit:         debit,
			Credit:        credit,
			Description:   fmt.Sprintf("%s %s", description, tx.Reference),
		}
	}

	var entries []*domain.LedgerEntry
	if tx.Type == domain.TypeDisbursement {
		entries = append(entries, entry(p.ClearingAccountCode, amount, decimal.Zero, "Disbursement"))
		if fee.IsPositive() {
			entries = append(entries, entry(p.FeeAccountCode, fee, decimal.Zero, "Provider fee"))
		}
		entries = append(entries, entry(p.CashAccountCode, decimal.Zero, amount.Add(fee), "Disbursement"))
		return entries
	}

	entries = append(entries, entry(p.CashAccountCode, amount.Sub(fee), decimal.Zero, "Collection"))
	if fee.IsPositive() {
		entries = append(entries, entry(p.FeeAccountCode, fee, decimal.Zero, "Provider fee"))
	}
	entries = append(entries, entry(p.ClearingAccountCode, decimal.Zero, amount, "Collection"))
	return entries
}

// CheckStatus polls the provider. Terminal transactions are returned untouched.
func (s *PaymentService) CheckStatus(ctx context.Context, reference string) (*domain.Transaction, error) {
	tx, err := s.store.Transactions().GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if tx.IsTerminal() {
		s.logger.Debug("Transaction already final, skipping status check",
			"reference", reference,
			"status", tx.Status)
		return tx, nil
	}

	provider, err := s.store.Providers().GetActiveByCode(ctx, tx.ProviderCode)
	if err != nil {
		return nil, err
	}

	result, err := s.gateway.Status(ctx, provider, tx)
	if err != nil {
		appErr := errors.AsAppError(err)
		if appErr.Code == errors.ProviderRejectionError && appErr.StatusCode == 404 {
			return s.finalize(ctx, reference, domain.StatusFailed, StatusUpdate{Reason: "Transaction not found at provider"})
		}
		if appErr.Code == errors.AuthenticationError {
			s.authFailed(ctx, provider.Code, err)
		}
		return nil, err
	}

	status := result.InternalStatus()
	if status == domain.StatusPending {
		return tx, nil
	}
	return s.finalize(ctx, reference, status, StatusUpdate{
		Fee:                   result.Fee,
		ProviderTransactionID: result.FinancialTransactionID,
		Reason:                result.Reason,
	})
}

// finalize applies a provider-reported status. Losing a race against another
// poll or callback returns the already final transaction.
func (s *PaymentService) finalize(ctx context.Context, reference string, status domain.TransactionStatus, update StatusUpdate) (*domain.Transaction, error) {
	tx, err := s.UpdateStatus(ctx, reference, status, update)
	if errors.Is(err, errors.InvalidTransition) {
		return s.store.Transactions().GetByReference(ctx, reference)
	}
	return tx, err
}

// Retry resends a failed payment. It is refused once the retry count reaches
// the configured ceiling.
func (s *PaymentService) Retry(ctx context.Context, reference string) (*domain.Transaction, error) {
	s.logger.Info("Processing payment retry", "reference", reference)

	maxRetries := s.settings.Int(ctx, domain.GlobalScope, settings.KeyPaymentMaxRetries, s.cfg.MaxRetries)

	var (
		retried  *domain.Transaction
		exceeded *domain.Transaction
	)
	err := s.store.WithTransaction(ctx, func(store domain.Store) error {
		tx, err := store.Transactions().GetByReferenceForUpdate(ctx, reference)
		if err != nil {
			return err
		}
		if tx.Status != domain.StatusFailed {
			return errors.NewAppErrorf(errors.InvalidTransition,
				"Transaction %s is %s, only failed transactions can be retried", tx.Reference, tx.Status)
		}
		if tx.RetryCount >= maxRetries {
			exceeded = tx
			return errors.NewAppErrorf(errors.MaxRetriesExceededError,
				"Transaction %s has reached the maximum of %d retries", tx.Reference, maxRetries)
		}

		tx.Status = domain.StatusPending
		tx.RetryCount++
		tx.FailureReason = ""
		tx.FailedAt = nil
		retried = tx
		return store.Transactions().UpdateTransaction(ctx, tx)
	})
	if err != nil {
		if exceeded != nil {
			s.notify(ctx, notification.PaymentMaxRetries(exceeded))
		}
		return nil, err
	}

	metrics.PaymentTransitions.WithLabelValues(retried.ProviderCode, string(retried.Status)).Inc()

	provider, err := s.store.Providers().GetActiveByCode(ctx, retried.ProviderCode)
	if err != nil {
		return nil, err
	}
	return s.dispatch(ctx, provider, retried)
}

// CallbackPayload is the provider's asynchronous notification body.
type CallbackPayload struct {
	ExternalID             string          `json:"external_id"`
	ReferenceID            string          `json:"reference_id"`
	Status                 string          `json:"status"`
	FinancialTransactionID string          `json:"financial_transaction_id"`
	Reason                 string          `json:"reason"`
	Fee                    decimal.Decimal `json:"fee"`
}

// HandleCallback verifies and applies a provider webhook. Callbacks for
// transactions that are already final are acknowledged without changes.
func (s *PaymentService) HandleCallback(ctx context.Context, providerCode string, payload []byte, signature string) (*domain.Transaction, error) {
	provider, err := s.store.Providers().GetActiveByCode(ctx, strings.ToUpper(providerCode))
	if err != nil {
		return nil, err
	}
	if !webhook.Verify(payload, signature, provider.WebhookSecret) {
		s.logger.Warn("Rejected webhook with invalid signature", "provider", provider.Code)
		return nil, errors.NewAppError(errors.AuthenticationError, "Invalid webhook signature")
	}

	var cb CallbackPayload
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, errors.NewAppError(errors.ValidationError, "Invalid callback payload").WithDetails(err.Error())
	}
	ref := cb.ExternalID
	if ref == "" {
		ref = cb.ReferenceID
	}
	if ref == "" {
		return nil, errors.NewAppError(errors.ValidationError, "Callback payload has no reference")
	}

	tx, err := s.store.Transactions().GetByExternalReference(ctx, provider.Code, ref)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Received provider callback",
		"provider", provider.Code,
		"reference", tx.Reference,
		"status", cb.Status)

	if tx.IsTerminal() {
		return tx, nil
	}
	result := momo.StatusResult{Status: cb.Status}
	status := result.InternalStatus()
	if status == domain.StatusPending {
		return tx, nil
	}
	return s.finalize(ctx, tx.Reference, status, StatusUpdate{
		Fee:                   cb.Fee,
		ProviderTransactionID: cb.FinancialTransactionID,
		Reason:                cb.Reason,
	})
}

// Authenticate checks the provider credentials by fetching a token.
func (s *PaymentService) Authenticate(ctx context.Context, providerCode string) error {
	provider, err := s.store.Providers().GetActiveByCode(ctx, strings.ToUpper(providerCode))
	if errors.Is(err, errors.NotFound) {
		return errors.NewAppErrorf(errors.UnknownProviderError,
			"No active provider with code %s", strings.ToUpper(providerCode))
	}
	if err != nil {
		return err
	}
	if _, err := s.gateway.Authenticate(ctx, provider); err != nil {
		s.authFailed(ctx, provider.Code, err)
		return err
	}
	s.logger.Info("Provider authentication succeeded", "provider", provider.Code)
	return nil
}

func (s *PaymentService) Get(ctx context.Context, reference string) (*domain.Transaction, error) {
	return s.store.Transactions().GetByReference(ctx, reference)
}

func (s *PaymentService) ListProviders(ctx context.Context) ([]*domain.Provider, error) {
	return s.store.Providers().ListActive(ctx)
}

func (s *PaymentService) LedgerEntries(ctx context.Context, reference string) ([]*domain.LedgerEntry, error) {
	tx, err := s.store.Transactions().GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	return s.store.Ledger().ListByTransaction(ctx, tx.ID)
}

func (s *PaymentService) authFailed(ctx context.Context, providerCode string, err error) {
	if !errors.Is(err, errors.AuthenticationError) {
		return
	}
	s.logger.Error("Provider authentication failed",
		"provider", providerCode,
		"error", err)
	s.notify(ctx, notification.ProviderAuthFailed(providerCode, errors.AsAppError(err).Message))
}

func (s *PaymentService) notify(ctx context.Context, e notification.Event) {
	if s.notifier == nil {
		return
	}
	s.notifier.Send(ctx, financeTeam(ctx, s.settings), e)
}

// financeTeam is the recipient of payment, reconciliation and invoice events.
func financeTeam(ctx context.Context, settingsService *settings.Service) notification.Notifiable {
	n := notification.Notifiable{Type: "team", ID: "finance"}
	if settingsService != nil {
		n.Email = settingsService.String(ctx, domain.GlobalScope, settings.KeyFinanceEmail, "")
	}
	return n
}

func scopeOrGlobal(scope string) string {
	if scope == "" {
		return domain.GlobalScope
	}
	return scope
}
