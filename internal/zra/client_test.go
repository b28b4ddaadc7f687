package zra

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payments-gateway/internal/domain"
	"payments-gateway/internal/errors"
	"payments-gateway/internal/httpclient"
)

func newTestClient(baseURL string) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := httpclient.NewExecutor(httpclient.Config{
		Timeout:    2 * time.Second,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		Backoff:    httpclient.BackoffFixed,
	}, nil, logger)
	return NewClient(exec, Config{BaseURL: baseURL, APIKey: "zra-key", SellerTPIN: "1001234567", BranchID: "001"}, logger)
}

func TestSubmitRequestPayload(t *testing.T) {
	inv := validInvoice()
	inv.SellerTPIN = ""

	payload, err := json.MarshalIndent(newTestClient("http://unused").NewSubmitRequest(inv), "", "  ")
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "submit_request", payload)
}

func TestSubmit_Success(t *testing.T) {
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		assert.Equal(t, "/api/v1/invoices", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"reference":"ZRA-REF-1","submission_id":"SUB-1","status":"SUBMITTED"}`))
	}))
	defer server.Close()

	result, err := newTestClient(server.URL).Submit(context.Background(), validInvoice())

	require.NoError(t, err)
	assert.Equal(t, "ZRA-REF-1", result.Reference)
	assert.Equal(t, "SUB-1", result.SubmissionID)
	assert.Equal(t, "Bearer zra-key", headers.Get("Authorization"))
	assert.NotEmpty(t, headers.Get("X-Correlation-ID"))
}

func TestSubmit_RemoteValidationFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"Invoice failed validation","errors":["buyer_tpin is not registered"]}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Submit(context.Background(), validInvoice())

	appErr := errors.AsAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, errors.ProviderRejectionError, appErr.Code)
	assert.Equal(t, "Invoice failed validation", appErr.Message)
	assert.Equal(t, []string{"buyer_tpin is not registered"}, appErr.Fields)
}

func TestStatus_Approved(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/invoices/SUB-1/status", r.URL.Path)
		w.Write([]byte(`{"status":"APPROVED","verification_url":"https://verify.zra.test/SUB-1","qr_code":"QR-DATA"}`))
	}))
	defer server.Close()

	result, err := newTestClient(server.URL).Status(context.Background(), "SUB-1")

	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceApproved, result.InternalStatus())
	assert.Equal(t, "https://verify.zra.test/SUB-1", result.VerificationURL)
	assert.Equal(t, "QR-DATA", result.QRCode)
}

func TestValidate_RemoteRejectionIsResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"invalid","errors":["total mismatch"]}`))
	}))
	defer server.Close()

	result, err := newTestClient(server.URL).Validate(context.Background(), validInvoice())

	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"total mismatch"}, result.Errors)
}

func TestCancelAndHealth(t *testing.T) {
	var cancelBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/invoices/SUB-1/cancel":
			json.NewDecoder(r.Body).Decode(&cancelBody)
			w.WriteHeader(http.StatusOK)
		case "/api/v1/health":
			w.Write([]byte(`{"status":"ok"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	require.NoError(t, client.Cancel(context.Background(), "SUB-1", "duplicate"))
	assert.Equal(t, "duplicate", cancelBody["reason"])
	assert.NoError(t, client.Health(context.Background()))
}

func TestClient_NotConfigured(t *testing.T) {
	err := newTestClient("").Health(context.Background())
	assert.True(t, errors.Is(err, errors.FeatureDisabled))
}
