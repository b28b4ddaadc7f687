package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payments-gateway/internal/correlation"
	"payments-gateway/internal/domain"
	"payments-gateway/internal/errors"
	"payments-gateway/internal/notification"
	"payments-gateway/internal/repository/memory"
	"payments-gateway/internal/settings"
	"payments-gateway/internal/zra"
)

type fakeInvoiceGateway struct {
	mu            sync.Mutex
	submitErr     error
	status        *zra.StatusResult
	cancelErr     error
	submitCalls   int
	cancelCalls   int
	validateCalls int
}

func (g *fakeInvoiceGateway) Submit(ctx context.Context, inv *domain.SmartInvoice) (*zra.SubmitResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitCalls++
	if g.submitErr != nil {
		return nil, g.submitErr
	}
	return &zra.SubmitResult{Reference: "ZRA-REF-1", SubmissionID: "SUB-1", Status: "SUBMITTED"}, nil
}

func (g *fakeInvoiceGateway) Status(ctx context.Context, submissionID string) (*zra.StatusResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == nil {
		return &zra.StatusResult{Status: "PROCESSING"}, nil
	}
	result := *g.status
	return &result, nil
}

func (g *fakeInvoiceGateway) Cancel(ctx context.Context, submissionID, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelCalls++
	return g.cancelErr
}

func (g *fakeInvoiceGateway) Validate(ctx context.Context, inv *domain.SmartInvoice) (*zra.ValidationResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.validateCalls++
	return &zra.ValidationResult{Valid: true}, nil
}

type invoiceFixture struct {
	store    *memory.Store
	gateway  *fakeInvoiceGateway
	notifier *fakeNotifier
	settings *settings.Service
	service  *SmartInvoiceService
	clock    time.Time
}

func newInvoiceFixture(t *testing.T) *invoiceFixture {
	t.Helper()
	store := memory.NewStore()
	f := &invoiceFixture{
		store:    store,
		gateway:  &fakeInvoiceGateway{},
		notifier: &fakeNotifier{},
		settings: settings.NewService(store, testLogger()),
		clock:    time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
	}
	f.service = NewSmartInvoiceService(store, f.gateway, f.settings, f.notifier, SmartInvoiceConfig{
		SellerTPIN:    "1002003004",
		MaxAttempts:   3,
		MinRetryDelay: 5 * time.Minute,
	}, testLogger())
	f.service.now = func() time.Time { return f.clock }
	return f
}

func invoiceRequest(invoiceID string) *CreateInvoiceRequest {
	return &CreateInvoiceRequest{
		InvoiceID:     invoiceID,
		InvoiceNumber: "INV-" + invoiceID,
		InvoiceDate:   time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC),
		BuyerName:     "Acme Ltd",
		Currency:      "zmw",
		Lines: []domain.InvoiceLine{{
			Description: "Consulting",
			Quantity:    decimal.NewFromInt(2),
			UnitPrice:   decimal.NewFromInt(50),
			TaxCode:     "A",
			TaxRate:     decimal.NewFromInt(16),
		}},
	}
}

func (f *invoiceFixture) create(t *testing.T, invoiceID string) *domain.SmartInvoice {
	t.Helper()
	inv, err := f.service.Create(context.Background(), invoiceRequest(invoiceID))
	require.NoError(t, err)
	return inv
}

func (f *invoiceFixture) actions(t *testing.T, id uuid.UUID) []string {
	t.Helper()
	logs, err := f.service.AuditTrail(context.Background(), id)
	require.NoError(t, err)
	var actions []string
	for _, l := range logs {
		actions = append(actions, l.Action+":"+l.Outcome)
	}
	return actions
}

func TestCreate_ComputesTotals(t *testing.T) {
	f := newInvoiceFixture(t)
	inv := f.create(t, "1001")

	assert.Equal(t, domain.InvoicePending, inv.Status)
	assert.Equal(t, "ZMW", inv.Currency)
	assert.Equal(t, "1002003004", inv.SellerTPIN)
	assert.True(t, inv.Subtotal.Equal(decimal.NewFromInt(100)))
	assert.True(t, inv.TaxTotal.Equal(decimal.NewFromInt(16)))
	assert.True(t, inv.Total.Equal(decimal.NewFromInt(116)))
	assert.Equal(t, []string{"create:success"}, f.actions(t, inv.ID))
}

func TestCreate_OneActiveSubmissionPerInvoice(t *testing.T) {
	f := newInvoiceFixture(t)
	f.create(t, "1001")

	_, err := f.service.Create(context.Background(), invoiceRequest("1001"))
	assert.True(t, errors.Is(err, errors.Conflict))
}

func TestCreate_FeatureDisabled(t *testing.T) {
	f := newInvoiceFixture(t)
	_, err := f.settings.Set(context.Background(), domain.GlobalScope, settings.KeySmartInvoiceEnabled, "false")
	require.NoError(t, err)

	_, err = f.service.Create(context.Background(), invoiceRequest("1001"))
	assert.True(t, errors.Is(err, errors.FeatureDisabled))
}

func TestValidate_ZeroTotalMakesNoCall(t *testing.T) {
	f := newInvoiceFixture(t)
	req := invoiceRequest("1001")
	req.Lines[0].UnitPrice = decimal.Zero

	result, err := f.service.Validate(context.Background(), req, true)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors, "Total amount must be greater than zero")
	assert.Zero(t, f.gateway.validateCalls)

	result, err = f.service.Validate(context.Background(), invoiceRequest("1002"), true)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 1, f.gateway.validateCalls)
}

func TestSubmit_Success(t *testing.T) {
	f := newInvoiceFixture(t)
	inv := f.create(t, "1001")
	ctx := correlation.WithID(context.Background(), "corr-1")

	submitted, err := f.service.Submit(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceSubmitted, submitted.Status)
	assert.Equal(t, "ZRA-REF-1", submitted.ZRAReference)
	assert.Equal(t, "SUB-1", submitted.SubmissionID)
	assert.Equal(t, 1, submitted.AttemptCount)
	require.NotNil(t, submitted.SubmittedAt)
	assert.Equal(t, f.clock, *submitted.SubmittedAt)

	logs, err := f.service.AuditTrail(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	last := logs[1]
	assert.Equal(t, "submit", last.Action)
	assert.Equal(t, "success", last.Outcome)
	assert.Equal(t, "corr-1", last.CorrelationID)
	assert.Equal(t, "pending", last.Details["from"])
	assert.Equal(t, "submitted", last.Details["to"])
}

func TestSubmit_ZeroTotalNeverCallsRemote(t *testing.T) {
	f := newInvoiceFixture(t)
	req := invoiceRequest("1001")
	req.Lines[0].Quantity = decimal.NewFromInt(1)
	req.Lines[0].UnitPrice = decimal.Zero
	inv, err := f.service.Create(context.Background(), req)
	require.NoError(t, err)

	_, err = f.service.Submit(context.Background(), inv.ID)
	require.Error(t, err)
	appErr := errors.AsAppError(err)
	assert.Equal(t, errors.ValidationError, appErr.Code)
	assert.Contains(t, appErr.Fields, "Total amount must be greater than zero")
	assert.Zero(t, f.gateway.submitCalls)

	stored, err := f.service.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoicePending, stored.Status)
}

func TestSubmit_RemoteRejection(t *testing.T) {
	f := newInvoiceFixture(t)
	inv := f.create(t, "1001")
	f.gateway.submitErr = errors.NewAppError(errors.ProviderRejectionError, "Invoice failed validation").
		WithStatusCode(422).WithFields("buyer_tpin: unknown taxpayer")

	rejected, err := f.service.Submit(context.Background(), inv.ID)
	assert.True(t, errors.Is(err, errors.ProviderRejectionError))
	require.NotNil(t, rejected)
	assert.Equal(t, domain.InvoiceRejected, rejected.Status)
	assert.Equal(t, "Invoice failed validation", rejected.RejectionReason)
	assert.Equal(t, []string{"buyer_tpin: unknown taxpayer"}, rejected.ValidationErrors)
	assert.Equal(t, []string{"create:success", "submit:rejected"}, f.actions(t, inv.ID))
	assert.Contains(t, f.notifier.kinds(), notification.KindInvoiceRejected)
}

func TestSubmit_NetworkErrorKeepsPending(t *testing.T) {
	f := newInvoiceFixture(t)
	inv := f.create(t, "1001")
	f.gateway.submitErr = errors.NewAppError(errors.NetworkError, "request failed after 4 attempts")

	_, err := f.service.Submit(context.Background(), inv.ID)
	assert.True(t, errors.Is(err, errors.NetworkError))

	stored, err := f.service.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoicePending, stored.Status)
	assert.Equal(t, 1, stored.AttemptCount)
	assert.Equal(t, []string{"create:success", "submit:error"}, f.actions(t, inv.ID))
}

func TestSubmit_RepeatedAfterNetworkErrorIsBounded(t *testing.T) {
	f := newInvoiceFixture(t)
	inv := f.create(t, "1001")
	f.gateway.submitErr = errors.NewAppError(errors.NetworkError, "request failed after 4 attempts")

	_, err := f.service.Submit(context.Background(), inv.ID)
	assert.True(t, errors.Is(err, errors.NetworkError))

	_, err = f.service.Submit(context.Background(), inv.ID)
	require.Error(t, err)
	appErr := errors.AsAppError(err)
	assert.Equal(t, errors.RateLimitError, appErr.Code)
	assert.Equal(t, 5*time.Minute, appErr.RetryAfter)
	assert.Equal(t, 1, f.gateway.submitCalls)

	for i := 0; i < 2; i++ {
		f.clock = f.clock.Add(5 * time.Minute)
		_, err = f.service.Submit(context.Background(), inv.ID)
		assert.True(t, errors.Is(err, errors.NetworkError))
	}

	f.clock = f.clock.Add(time.Hour)
	_, err = f.service.Submit(context.Background(), inv.ID)
	assert.True(t, errors.Is(err, errors.MaxRetriesExceededError))
	assert.Equal(t, 3, f.gateway.submitCalls)

	stored, err := f.service.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoicePending, stored.Status)
	assert.Equal(t, 3, stored.AttemptCount)
}

func TestSubmit_ConcurrentCallsMakeOneAttempt(t *testing.T) {
	f := newInvoiceFixture(t)
	inv := f.create(t, "1001")
	f.gateway.submitErr = errors.NewAppError(errors.NetworkError, "connection reset")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.service.Submit(context.Background(), inv.ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.gateway.submitCalls)
	stored, err := f.service.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.AttemptCount)
}

func TestCheckStatus_ApprovedStoresVerification(t *testing.T) {
	f := newInvoiceFixture(t)
	inv := f.create(t, "1001")
	_, err := f.service.Submit(context.Background(), inv.ID)
	require.NoError(t, err)

	f.gateway.status = &zra.StatusResult{
		Status:          "APPROVED",
		VerificationURL: "https://verify.zra.test/SUB-1",
		QRCode:          "qr-payload",
	}
	approved, err := f.service.CheckStatus(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceApproved, approved.Status)
	assert.Equal(t, "https://verify.zra.test/SUB-1", approved.VerificationURL)
	assert.Equal(t, "qr-payload", approved.QRCode)
	assert.NotNil(t, approved.ApprovedAt)
	assert.Contains(t, f.notifier.kinds(), notification.KindInvoiceApproved)

	again, err := f.service.CheckStatus(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceApproved, again.Status)
	assert.Equal(t, []string{"create:success", "submit:success", "check_status:approved"}, f.actions(t, inv.ID))
}

func TestCheckStatus_StillProcessing(t *testing.T) {
	f := newInvoiceFixture(t)
	inv := f.create(t, "1001")

	_, err := f.service.CheckStatus(context.Background(), inv.ID)
	assert.True(t, errors.Is(err, errors.InvalidTransition))

	_, err = f.service.Submit(context.Background(), inv.ID)
	require.NoError(t, err)

	checked, err := f.service.CheckStatus(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceSubmitted, checked.Status)
}

func TestCancel(t *testing.T) {
	f := newInvoiceFixture(t)
	inv := f.create(t, "1001")

	_, err := f.service.Cancel(context.Background(), inv.ID, "duplicate")
	assert.True(t, errors.Is(err, errors.InvalidTransition))
	assert.Zero(t, f.gateway.cancelCalls)

	_, err = f.service.Submit(context.Background(), inv.ID)
	require.NoError(t, err)

	_, err = f.service.Cancel(context.Background(), inv.ID, "  ")
	assert.True(t, errors.Is(err, errors.ValidationError))

	cancelled, err := f.service.Cancel(context.Background(), inv.ID, "issued in error")
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceCancelled, cancelled.Status)
	assert.Equal(t, "issued in error", cancelled.CancellationReason)
	assert.Equal(t, 1, f.gateway.cancelCalls)
	assert.Contains(t, f.notifier.kinds(), notification.KindInvoiceCancelled)

	// a cancelled submission frees the invoice for a new one
	_, err = f.service.Create(context.Background(), invoiceRequest("1001"))
	assert.NoError(t, err)
}

func TestRetry_HonoursDelayAndMaximum(t *testing.T) {
	f := newInvoiceFixture(t)
	inv := f.create(t, "1001")
	f.gateway.submitErr = errors.NewAppError(errors.ProviderRejectionError, "rejected")

	_, err := f.service.Submit(context.Background(), inv.ID)
	require.Error(t, err)

	f.clock = f.clock.Add(2 * time.Minute)
	_, err = f.service.Retry(context.Background(), inv.ID)
	require.Error(t, err)
	appErr := errors.AsAppError(err)
	assert.Equal(t, errors.RateLimitError, appErr.Code)
	assert.Equal(t, 3*time.Minute, appErr.RetryAfter)

	for i := 1; i <= 2; i++ {
		f.clock = f.clock.Add(5 * time.Minute)
		retried, err := f.service.Retry(context.Background(), inv.ID)
		assert.True(t, errors.Is(err, errors.ProviderRejectionError))
		require.NotNil(t, retried)
		assert.Equal(t, i, retried.RetryCount)
		assert.Equal(t, domain.InvoiceRejected, retried.Status)
	}

	f.clock = f.clock.Add(time.Hour)
	_, err = f.service.Retry(context.Background(), inv.ID)
	assert.True(t, errors.Is(err, errors.MaxRetriesExceededError))
	assert.Equal(t, 3, f.gateway.submitCalls)
}

func TestRetry_ResubmitsAfterDelay(t *testing.T) {
	f := newInvoiceFixture(t)
	inv := f.create(t, "1001")
	f.gateway.submitErr = errors.NewAppError(errors.ProviderRejectionError, "rejected")
	_, err := f.service.Submit(context.Background(), inv.ID)
	require.Error(t, err)

	f.gateway.submitErr = nil
	f.clock = f.clock.Add(5 * time.Minute)
	submitted, err := f.service.Retry(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceSubmitted, submitted.Status)
	assert.Empty(t, submitted.RejectionReason)
	assert.Equal(t, 2, submitted.AttemptCount)
	assert.Equal(t, []string{"create:success", "submit:rejected", "retry:success", "submit:success"}, f.actions(t, inv.ID))
}

func TestRetry_OnlyFromRejected(t *testing.T) {
	f := newInvoiceFixture(t)
	inv := f.create(t, "1001")

	_, err := f.service.Retry(context.Background(), inv.ID)
	assert.True(t, errors.Is(err, errors.InvalidTransition))
}
