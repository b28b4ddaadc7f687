package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"payments-gateway/internal/correlation"
	"payments-gateway/internal/domain"
	"payments-gateway/internal/errors"
	"payments-gateway/internal/metrics"
	"payments-gateway/internal/notification"
	"payments-gateway/internal/settings"
	"payments-gateway/internal/zra"
)

const invoiceEntity = "smart_invoice"

// InvoiceGateway is the tax authority API used by the smart invoice service.
type InvoiceGateway interface {
	Submit(ctx context.Context, inv *domain.SmartInvoice) (*zra.SubmitResult, error)
	Status(ctx context.Context, submissionID string) (*zra.StatusResult, error)
	Cancel(ctx context.Context, submissionID, reason string) error
	Validate(ctx context.Context, inv *domain.SmartInvoice) (*zra.ValidationResult, error)
}

// SmartInvoiceConfig holds the seller identity and the submission limits.
// MaxAttempts counts every remote submission of an invoice, retries included.
type SmartInvoiceConfig struct {
	SellerTPIN    string
	MaxAttempts   int
	MinRetryDelay time.Duration
}

// SmartInvoiceService drives the smart invoice lifecycle against the tax
// authority API and records an audit entry for every transition.
type SmartInvoiceService struct {
	store    domain.Store
	gateway  InvoiceGateway
	settings *settings.Service
	notifier Notifier
	cfg      SmartInvoiceConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewSmartInvoiceService(
	store domain.Store,
	gateway InvoiceGateway,
	settingsService *settings.Service,
	notifier Notifier,
	cfg SmartInvoiceConfig,
	logger *slog.Logger,
) *SmartInvoiceService {
	return &SmartInvoiceService{
		store:    store,
		gateway:  gateway,
		settings: settingsService,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateInvoiceRequest is the input for Create and Validate. An empty
// SellerTPIN falls back to the configured one.
type CreateInvoiceRequest struct {
	InvoiceID     string
	InvoiceNumber string
	InvoiceDate   time.Time
	SellerTPIN    string
	BuyerTPIN     string
	BuyerName     string
	Currency      string
	Lines         []domain.InvoiceLine
}

func (r *CreateInvoiceRequest) invoice(defaultTPIN string) *domain.SmartInvoice {
	inv := &domain.SmartInvoice{
		ID:            uuid.New(),
		InvoiceID:     strings.TrimSpace(r.InvoiceID),
		InvoiceNumber: strings.TrimSpace(r.InvoiceNumber),
		InvoiceDate:   r.InvoiceDate,
		SellerTPIN:    r.SellerTPIN,
		BuyerTPIN:     r.BuyerTPIN,
		BuyerName:     r.BuyerName,
		Currency:      strings.ToUpper(r.Currency),
		Lines:         r.Lines,
		Status:        domain.InvoicePending,
	}
	if inv.SellerTPIN == "" {
		inv.SellerTPIN = defaultTPIN
	}
	if inv.InvoiceID == "" {
		inv.InvoiceID = inv.InvoiceNumber
	}
	inv.Recalculate()
	return inv
}

func (s *SmartInvoiceService) enabled(ctx context.Context) error {
	if !s.settings.Bool(ctx, domain.GlobalScope, settings.KeySmartInvoiceEnabled, true) {
		return errors.NewAppError(errors.FeatureDisabled, "Smart Invoice integration is disabled")
	}
	return nil
}

// Create records a pending submission. An invoice can only have one
// submission that is not cancelled.
func (s *SmartInvoiceService) Create(ctx context.Context, req *CreateInvoiceRequest) (*domain.SmartInvoice, error) {
	if err := s.enabled(ctx); err != nil {
		return nil, err
	}
	inv := req.invoice(s.cfg.SellerTPIN)
	if inv.InvoiceID == "" {
		return nil, errors.NewAppError(errors.ValidationError, "Invoice id or number is required")
	}

	s.logger.Info("Creating smart invoice",
		"invoice_id", inv.InvoiceID,
		"total", inv.Total)

	err := s.store.WithTransaction(ctx, func(store domain.Store) error {
		if err := store.Invoices().CreateInvoice(ctx, inv); err != nil {
			return err
		}
		return s.audit(ctx, store, inv, "create", "success", nil)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *SmartInvoiceService) Get(ctx context.Context, id uuid.UUID) (*domain.SmartInvoice, error) {
	return s.store.Invoices().GetInvoice(ctx, id)
}

// Validate runs the local checks and, when they pass and remote is set, asks
// the tax authority to validate the invoice as well.
func (s *SmartInvoiceService) Validate(ctx context.Context, req *CreateInvoiceRequest, remote bool) (*zra.ValidationResult, error) {
	inv := req.invoice(s.cfg.SellerTPIN)
	result := zra.ValidateInvoiceForSubmission(inv)
	if !result.Valid || !remote {
		return &result, nil
	}
	if err := s.enabled(ctx); err != nil {
		return nil, err
	}
	return s.gateway.Validate(ctx, inv)
}

// Submit sends a pending invoice. Local validation failures never reach the
// remote API. A remote rejection moves the invoice to rejected with the
// remote reason and error list.
func (s *SmartInvoiceService) Submit(ctx context.Context, id uuid.UUID) (*domain.SmartInvoice, error) {
	if err := s.enabled(ctx); err != nil {
		return nil, err
	}
	inv, err := s.store.Invoices().GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != domain.InvoicePending {
		return nil, errors.NewAppErrorf(errors.InvalidTransition,
			"Invoice %s is %s, only pending invoices can be submitted", inv.InvoiceNumber, inv.Status)
	}

	if result := zra.ValidateInvoiceForSubmission(inv); !result.Valid {
		s.logger.Warn("Smart invoice failed local validation",
			"invoice_id", inv.InvoiceID,
			"errors", result.Errors)
		return nil, errors.NewAppError(errors.ValidationError, "Invoice is not valid for submission").
			WithFields(result.Errors...)
	}

	inv, err = s.claimAttempt(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Submitting smart invoice",
		"invoice_id", inv.InvoiceID,
		"attempt", inv.AttemptCount)

	result, submitErr := s.gateway.Submit(ctx, inv)
	rejection := errors.Is(submitErr, errors.ProviderRejectionError)

	updated, err := s.transition(ctx, id, domain.InvoicePending, func(inv *domain.SmartInvoice, now time.Time) (string, string, map[string]any) {
		switch {
		case submitErr == nil:
			inv.Status = domain.InvoiceSubmitted
			inv.ZRAReference = result.Reference
			inv.SubmissionID = result.SubmissionID
			inv.SubmittedAt = &now
			return "submit", "success", map[string]any{"submission_id": result.SubmissionID, "reference": result.Reference}
		case rejection:
			appErr := errors.AsAppError(submitErr)
			inv.Status = domain.InvoiceRejected
			inv.RejectionReason = appErr.Message
			inv.ValidationErrors = appErr.Fields
			inv.RejectedAt = &now
			return "submit", "rejected", map[string]any{"reason": appErr.Message, "errors": appErr.Fields}
		default:
			return "submit", "error", map[string]any{"error": submitErr.Error()}
		}
	})
	if err != nil {
		return nil, err
	}

	if submitErr != nil {
		if rejection {
			s.notify(ctx, notification.InvoiceRejected(updated))
			return updated, submitErr
		}
		s.logger.Error("Smart invoice submission failed",
			"invoice_id", updated.InvoiceID,
			"error", submitErr)
		return nil, submitErr
	}
	return updated, nil
}

// CheckStatus polls the remote status of a submitted invoice. Invoices that are
// already final are returned unchanged.
func (s *SmartInvoiceService) CheckStatus(ctx context.Context, id uuid.UUID) (*domain.SmartInvoice, error) {
	inv, err := s.store.Invoices().GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	switch inv.Status {
	case domain.InvoicePending:
		return nil, errors.NewAppErrorf(errors.InvalidTransition,
			"Invoice %s has not been submitted", inv.InvoiceNumber)
	case domain.InvoiceApproved, domain.InvoiceRejected, domain.InvoiceCancelled:
		return inv, nil
	}
	if err := s.enabled(ctx); err != nil {
		return nil, err
	}

	result, err := s.gateway.Status(ctx, inv.SubmissionID)
	if err != nil {
		return nil, err
	}
	status := result.InternalStatus()
	if status == domain.InvoiceSubmitted {
		return inv, nil
	}

	updated, err := s.transition(ctx, id, domain.InvoiceSubmitted, func(inv *domain.SmartInvoice, now time.Time) (string, string, map[string]any) {
		inv.Status = status
		switch status {
		case domain.InvoiceApproved:
			inv.VerificationURL = result.VerificationURL
			inv.QRCode = result.QRCode
			inv.ApprovedAt = &now
			return "check_status", "approved", map[string]any{"verification_url": result.VerificationURL}
		case domain.InvoiceRejected:
			inv.RejectionReason = result.Reason
			inv.ValidationErrors = result.Errors
			inv.RejectedAt = &now
			return "check_status", "rejected", map[string]any{"reason": result.Reason, "errors": result.Errors}
		default:
			inv.CancellationReason = result.Reason
			inv.CancelledAt = &now
			return "check_status", "cancelled", map[string]any{"reason": result.Reason}
		}
	})
	if err != nil {
		if errors.Is(err, errors.InvalidTransition) {
			return s.store.Invoices().GetInvoice(ctx, id)
		}
		return nil, err
	}

	switch updated.Status {
	case domain.InvoiceApproved:
		s.notify(ctx, notification.InvoiceApproved(updated))
	case domain.InvoiceRejected:
		s.notify(ctx, notification.InvoiceRejected(updated))
	case domain.InvoiceCancelled:
		s.notify(ctx, notification.InvoiceCancelled(updated))
	}
	return updated, nil
}

// Cancel withdraws a submitted or approved invoice.
func (s *SmartInvoiceService) Cancel(ctx context.Context, id uuid.UUID, reason string) (*domain.SmartInvoice, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.NewAppError(errors.ValidationError, "Cancellation reason is required")
	}
	if err := s.enabled(ctx); err != nil {
		return nil, err
	}
	inv, err := s.store.Invoices().GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransitionInvoice(inv.Status, domain.InvoiceCancelled) {
		return nil, errors.NewAppErrorf(errors.InvalidTransition,
			"Invoice %s is %s, only submitted or approved invoices can be cancelled", inv.InvoiceNumber, inv.Status)
	}

	if err := s.gateway.Cancel(ctx, inv.SubmissionID, reason); err != nil {
		s.logger.Error("Smart invoice cancellation failed",
			"invoice_id", inv.InvoiceID,
			"error", err)
		return nil, err
	}

	updated, err := s.transition(ctx, id, inv.Status, func(inv *domain.SmartInvoice, now time.Time) (string, string, map[string]any) {
		inv.Status = domain.InvoiceCancelled
		inv.CancellationReason = reason
		inv.CancelledAt = &now
		return "cancel", "success", map[string]any{"reason": reason}
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, notification.InvoiceCancelled(updated))
	return updated, nil
}

// claimAttempt records a remote submission attempt on a pending invoice before
// the gateway is called. Concurrent or repeated submissions of the same invoice
// all pass through here, so the attempt limit and the minimum delay between
// attempts hold for Submit as well as Retry.
func (s *SmartInvoiceService) claimAttempt(ctx context.Context, id uuid.UUID) (*domain.SmartInvoice, error) {
	var claimed *domain.SmartInvoice
	err := s.store.WithTransaction(ctx, func(store domain.Store) error {
		inv, err := store.Invoices().GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != domain.InvoicePending {
			return errors.NewAppErrorf(errors.InvalidTransition,
				"Invoice %s is %s, only pending invoices can be submitted", inv.InvoiceNumber, inv.Status)
		}
		now := s.now()
		if err := s.attemptAllowed(inv, now); err != nil {
			return err
		}
		inv.AttemptCount++
		inv.LastAttemptAt = &now
		if err := store.Invoices().UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		claimed = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// attemptAllowed reports whether another remote attempt may be made at now.
// MaxAttempts bounds the total number of attempts, the first one included.
func (s *SmartInvoiceService) attemptAllowed(inv *domain.SmartInvoice, now time.Time) error {
	if inv.AttemptCount == 0 {
		return nil
	}
	if s.cfg.MaxAttempts > 0 && inv.AttemptCount >= s.cfg.MaxAttempts {
		return errors.NewAppErrorf(errors.MaxRetriesExceededError,
			"Invoice %s has reached the maximum of %d submission attempts", inv.InvoiceNumber, s.cfg.MaxAttempts)
	}
	if inv.LastAttemptAt != nil {
		if wait := inv.LastAttemptAt.Add(s.cfg.MinRetryDelay).Sub(now); wait > 0 {
			return errors.NewAppErrorf(errors.RateLimitError,
				"Invoice %s was attempted too recently, retry in %s", inv.InvoiceNumber, wait.Round(time.Second)).
				WithRetryAfter(wait)
		}
	}
	return nil
}

// Retry puts a rejected invoice back to pending and submits it again. It is
// refused once the invoice has used all its submission attempts or while the
// last attempt is more recent than the minimum retry delay.
func (s *SmartInvoiceService) Retry(ctx context.Context, id uuid.UUID) (*domain.SmartInvoice, error) {
	if err := s.enabled(ctx); err != nil {
		return nil, err
	}
	inv, err := s.store.Invoices().GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != domain.InvoiceRejected {
		return nil, errors.NewAppErrorf(errors.InvalidTransition,
			"Invoice %s is %s, only rejected invoices can be retried", inv.InvoiceNumber, inv.Status)
	}
	if err := s.attemptAllowed(inv, s.now()); err != nil {
		return nil, err
	}

	_, err = s.transition(ctx, id, domain.InvoiceRejected, func(inv *domain.SmartInvoice, now time.Time) (string, string, map[string]any) {
		inv.Status = domain.InvoicePending
		inv.RetryCount++
		inv.RejectionReason = ""
		inv.ValidationErrors = nil
		inv.RejectedAt = nil
		return "retry", "success", map[string]any{"retry_count": inv.RetryCount}
	})
	if err != nil {
		return nil, err
	}
	return s.Submit(ctx, id)
}

func (s *SmartInvoiceService) AuditTrail(ctx context.Context, id uuid.UUID) ([]*domain.AuditLog, error) {
	return s.store.AuditLogs().ListByEntity(ctx, invoiceEntity, id.String())
}

// transition reloads the invoice under lock, checks it is still in the expected
// status, applies fn and writes the update together with its audit entry.
func (s *SmartInvoiceService) transition(
	ctx context.Context,
	id uuid.UUID,
	expected domain.InvoiceStatus,
	fn func(inv *domain.SmartInvoice, now time.Time) (action, outcome string, details map[string]any),
) (*domain.SmartInvoice, error) {
	var updated *domain.SmartInvoice
	err := s.store.WithTransaction(ctx, func(store domain.Store) error {
		inv, err := store.Invoices().GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != expected {
			return errors.NewAppErrorf(errors.InvalidTransition,
				"Invoice %s changed to %s while being processed", inv.InvoiceNumber, inv.Status)
		}

		from := inv.Status
		action, outcome, details := fn(inv, s.now())
		if inv.Status != from && !domain.CanTransitionInvoice(from, inv.Status) {
			return errors.NewAppErrorf(errors.InvalidTransition,
				"Invoice cannot move from %s to %s", from, inv.Status)
		}
		if err := store.Invoices().UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		if details == nil {
			details = map[string]any{}
		}
		details["from"] = string(from)
		details["to"] = string(inv.Status)
		if err := s.audit(ctx, store, inv, action, outcome, details); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	if updated.Status != expected {
		metrics.InvoiceTransitions.WithLabelValues(string(updated.Status)).Inc()
	}
	s.logger.Info("Smart invoice updated",
		"invoice_id", updated.InvoiceID,
		"status", updated.Status)
	return updated, nil
}

func (s *SmartInvoiceService) audit(ctx context.Context, store domain.Store, inv *domain.SmartInvoice, action, outcome string, details map[string]any) error {
	return store.AuditLogs().CreateAuditLog(ctx, &domain.AuditLog{
		ID:            uuid.New(),
		EntityType:    invoiceEntity,
		EntityID:      inv.ID.String(),
		Action:        action,
		Outcome:       outcome,
		CorrelationID: correlation.FromContext(ctx),
		Details:       details,
	})
}

func (s *SmartInvoiceService) notify(ctx context.Context, e notification.Event) {
	if s.notifier == nil {
		return
	}
	s.notifier.Send(ctx, financeTeam(ctx, s.settings), e)
}
