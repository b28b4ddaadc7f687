package zra

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"payments-gateway/internal/domain"
	"payments-gateway/internal/errors"
	"payments-gateway/internal/httpclient"
)

const target = "zra"

// Config identifies the smart invoice API and the client credentials.
type Config struct {
	BaseURL    string
	APIKey     string
	SellerTPIN string
	BranchID   string
}

type SubmitItem struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	TaxCode     string `json:"tax_code"`
	TaxRate     string `json:"tax_rate"`
	TaxAmount   string `json:"tax_amount"`
	Total       string `json:"total"`
}

type SubmitRequest struct {
	InvoiceNumber string       `json:"invoice_number"`
	InvoiceDate   string       `json:"invoice_date"`
	SellerTPIN    string       `json:"seller_tpin"`
	BranchID      string       `json:"branch_id"`
	BuyerTPIN     string       `json:"buyer_tpin,omitempty"`
	BuyerName     string       `json:"buyer_name"`
	Currency      string       `json:"currency"`
	Items         []SubmitItem `json:"items"`
	Subtotal      string       `json:"subtotal"`
	TaxTotal      string       `json:"tax_total"`
	Total         string       `json:"total"`
}

// SubmitResult is the response to an accepted submission.
type SubmitResult struct {
	Reference    string `json:"reference"`
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
}

// StatusResult is the remote status of a submission.
type StatusResult struct {
	Status          string   `json:"status"`
	VerificationURL string   `json:"verification_url,omitempty"`
	QRCode          string   `json:"qr_code,omitempty"`
	Reason          string   `json:"reason,omitempty"`
	Errors          []string `json:"errors,omitempty"`
}

// InternalStatus maps the remote status onto the invoice lifecycle.
func (s *StatusResult) InternalStatus() domain.InvoiceStatus {
	switch strings.ToUpper(s.Status) {
	case "APPROVED", "ACCEPTED", "VERIFIED":
		return domain.InvoiceApproved
	case "REJECTED", "INVALID":
		return domain.InvoiceRejected
	case "CANCELLED":
		return domain.InvoiceCancelled
	default:
		return domain.InvoiceSubmitted
	}
}

type remoteError struct {
	Message string   `json:"message"`
	Errors  []string `json:"errors"`
}

// Client calls the Smart Invoice API.
type Client struct {
	exec   *httpclient.Executor
	cfg    Config
	logger *slog.Logger
}

func NewClient(exec *httpclient.Executor, cfg Config, logger *slog.Logger) *Client {
	return &Client{exec: exec, cfg: cfg, logger: logger}
}

// NewSubmitRequest builds the outbound body for inv. The configured seller TPIN
// is used when the invoice has none.
func (c *Client) NewSubmitRequest(inv *domain.SmartInvoice) SubmitRequest {
	seller := inv.SellerTPIN
	if seller == "" {
		seller = c.cfg.SellerTPIN
	}
	items := make([]SubmitItem, 0, len(inv.Lines))
	for _, line := range inv.Lines {
		items = append(items, SubmitItem{
			Description: line.Description,
			Quantity:    line.Quantity.String(),
			UnitPrice:   line.UnitPrice.StringFixed(2),
			TaxCode:     line.TaxCode,
			TaxRate:     line.TaxRate.StringFixed(2),
			TaxAmount:   line.Tax().StringFixed(2),
			Total:       line.Net().Add(line.Tax()).StringFixed(2),
		})
	}
	return SubmitRequest{
		InvoiceNumber: inv.InvoiceNumber,
		InvoiceDate:   inv.InvoiceDate.Format("2006-01-02"),
		SellerTPIN:    seller,
		BranchID:      c.cfg.BranchID,
		BuyerTPIN:     inv.BuyerTPIN,
		BuyerName:     inv.BuyerName,
		Currency:      inv.Currency,
		Items:         items,
		Subtotal:      inv.Subtotal.StringFixed(2),
		TaxTotal:      inv.TaxTotal.StringFixed(2),
		Total:         inv.Total.StringFixed(2),
	}
}

// Submit sends inv for approval. A remote validation failure is returned as a
// ProviderRejectionError whose Fields hold the remote error list.
func (c *Client) Submit(ctx context.Context, inv *domain.SmartInvoice) (*SubmitResult, error) {
	body, err := json.Marshal(c.NewSubmitRequest(inv))
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, "failed to encode invoice", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/v1/invoices", body)
	if err != nil {
		return nil, err
	}

	var result SubmitResult
	if err := json.Unmarshal(resp.Body, &result); err != nil || result.SubmissionID == "" {
		return nil, errors.NewAppError(errors.ProviderRejectionError, "unreadable submission response")
	}
	return &result, nil
}

func (c *Client) Status(ctx context.Context, submissionID string) (*StatusResult, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/invoices/"+url.PathEscape(submissionID)+"/status", nil)
	if err != nil {
		return nil, err
	}
	var result StatusResult
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, errors.Wrap(errors.ProviderRejectionError, "unreadable status response", err)
	}
	return &result, nil
}

func (c *Client) Cancel(ctx context.Context, submissionID, reason string) error {
	body, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return errors.Wrap(errors.InternalError, "failed to encode cancellation", err)
	}
	_, err = c.do(ctx, http.MethodPost, "/api/v1/invoices/"+url.PathEscape(submissionID)+"/cancel", body)
	return err
}

// Validate asks the remote API to validate inv without submitting it.
func (c *Client) Validate(ctx context.Context, inv *domain.SmartInvoice) (*ValidationResult, error) {
	body, err := json.Marshal(c.NewSubmitRequest(inv))
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, "failed to encode invoice", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/invoices/validate", body)
	if err != nil {
		if appErr := errors.AsAppError(err); appErr.Code == errors.ProviderRejectionError {
			return &ValidationResult{Valid: false, Errors: appErr.Fields}, nil
		}
		return nil, err
	}
	var result ValidationResult
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, errors.Wrap(errors.ProviderRejectionError, "unreadable validation response", err)
	}
	return &result, nil
}

func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/api/v1/health", nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*httpclient.Response, error) {
	if c.cfg.BaseURL == "" {
		return nil, errors.NewAppError(errors.FeatureDisabled, "Smart Invoice API is not configured")
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.exec.Do(ctx, httpclient.Request{
		Method: method,
		URL:    strings.TrimRight(c.cfg.BaseURL, "/") + path,
		Header: header,
		Body:   body,
		Target: target,
	})
	if err != nil {
		appErr := errors.AsAppError(err)
		if appErr.Code == errors.ProviderRejectionError && resp != nil {
			var remote remoteError
			if json.Unmarshal(resp.Body, &remote) == nil {
				rejection := errors.NewAppError(errors.ProviderRejectionError, appErr.Message).
					WithStatusCode(appErr.StatusCode).WithFields(remote.Errors...)
				if remote.Message != "" {
					rejection.Message = remote.Message
				}
				return resp, rejection
			}
		}
		return resp, appErr
	}
	return resp, nil
}
