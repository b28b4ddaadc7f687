package momo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"payments-gateway/internal/domain"
	"payments-gateway/internal/errors"
	"payments-gateway/internal/httpclient"
	"payments-gateway/internal/metrics"
)

const (
	ProductCollection   = "collection"
	ProductDisbursement = "disbursement"
)

type Party struct {
	IDType string `json:"id_type"`
	ID     string `json:"id"`
}

// PaymentRequest is the body of a request-to-pay or transfer call. Collections
// carry a payer, disbursements a payee.
type PaymentRequest struct {
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	ExternalID   string `json:"external_id"`
	Payer        *Party `json:"payer,omitempty"`
	Payee        *Party `json:"payee,omitempty"`
	PayerMessage string `json:"payer_message"`
	PayeeNote    string `json:"payee_note"`
}

// NewPaymentRequest builds the outbound body for tx.
func NewPaymentRequest(tx *domain.Transaction) PaymentRequest {
	party := &Party{IDType: "MSISDN", ID: tx.PhoneNumber}
	message := tx.Description
	if message == "" {
		message = "Payment " + tx.Reference
	}
	req := PaymentRequest{
		Amount:       tx.Amount.StringFixed(2),
		Currency:     tx.Currency,
		ExternalID:   tx.Reference,
		PayerMessage: message,
		PayeeNote:    message,
	}
	if tx.Type == domain.TypeDisbursement {
		req.Payee = party
	} else {
		req.Payer = party
	}
	return req
}

// StatusResult is the provider view of a transaction.
type StatusResult struct {
	Status                 string          `json:"status"`
	FinancialTransactionID string          `json:"financial_transaction_id,omitempty"`
	Reason                 string          `json:"reason,omitempty"`
	Fee                    decimal.Decimal `json:"fee"`
}

// InternalStatus maps the provider status vocabulary onto ours.
func (s *StatusResult) InternalStatus() domain.TransactionStatus {
	switch strings.ToUpper(s.Status) {
	case "SUCCESSFUL", "SUCCESS", "COMPLETED":
		return domain.StatusCompleted
	case "FAILED", "REJECTED", "TIMEOUT", "EXPIRED", "CANCELLED":
		return domain.StatusFailed
	default:
		return domain.StatusPending
	}
}

// Client talks to a MoMo-style provider API.
type Client struct {
	exec   *httpclient.Executor
	tokens *TokenCache
	logger *slog.Logger
}

func NewClient(exec *httpclient.Executor, tokens *TokenCache, logger *slog.Logger) *Client {
	return &Client{exec: exec, tokens: tokens, logger: logger}
}

func productFor(t domain.TransactionType) string {
	if t == domain.TypeDisbursement {
		return ProductDisbursement
	}
	return ProductCollection
}

func tokenKey(p *domain.Provider, product string) string {
	return p.Code + ":" + product
}

// Authenticate returns a valid bearer token for the provider's collection product.
func (c *Client) Authenticate(ctx context.Context, p *domain.Provider) (string, error) {
	return c.token(ctx, p, ProductCollection)
}

func (c *Client) token(ctx context.Context, p *domain.Provider, product string) (string, error) {
	return c.tokens.Get(ctx, tokenKey(p, product), func(ctx context.Context) (*Token, error) {
		t, err := c.fetchToken(ctx, p, product)
		if err != nil {
			metrics.TokenRefreshes.WithLabelValues(p.Code, "failure").Inc()
			return nil, err
		}
		metrics.TokenRefreshes.WithLabelValues(p.Code, "success").Inc()
		return t, nil
	})
}

func (c *Client) fetchToken(ctx context.Context, p *domain.Provider, product string) (*Token, error) {
	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(p.APIUser+":"+p.APIKey)))
	header.Set("Ocp-Apim-Subscription-Key", p.SubscriptionKey)

	resp, err := c.exec.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		URL:    c.url(p, "/"+product+"/token/"),
		Header: header,
		Target: "momo:" + p.Code,
	})
	if err != nil {
		appErr := errors.AsAppError(err)
		if appErr.Code == errors.AuthenticationError {
			c.logger.Warn("Provider authentication failed", "provider", p.Code, "status", appErr.StatusCode)
			return nil, errors.NewAppErrorf(errors.AuthenticationError, "Authentication failed for provider %s", p.Code).
				WithDetails(appErr.Details).WithStatusCode(appErr.StatusCode)
		}
		return nil, appErr
	}

	var t Token
	if err := json.Unmarshal(resp.Body, &t); err != nil || t.AccessToken == "" {
		return nil, errors.NewAppErrorf(errors.AuthenticationError, "Authentication failed for provider %s", p.Code).
			WithDetails("token response did not contain an access token")
	}
	return &t, nil
}

// Initiate sends a request-to-pay for collections or a transfer for disbursements.
// The provider answers asynchronously, so success only means the request was accepted.
func (c *Client) Initiate(ctx context.Context, p *domain.Provider, tx *domain.Transaction) error {
	product := productFor(tx.Type)
	path := "/collection/v1_0/requesttopay"
	if product == ProductDisbursement {
		path = "/disbursement/v1_0/transfer"
	}

	body, err := json.Marshal(NewPaymentRequest(tx))
	if err != nil {
		return errors.Wrap(errors.InternalError, "failed to encode payment request", err)
	}

	header, err := c.authHeaders(ctx, p, product)
	if err != nil {
		return err
	}
	header.Set("X-Reference-Id", tx.Reference)
	if p.CallbackURL != "" {
		header.Set("X-Callback-Url", p.CallbackURL)
	}

	_, err = c.exec.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		URL:    c.url(p, path),
		Header: header,
		Body:   body,
		Target: "momo:" + p.Code,
	})
	return c.afterCall(p, product, err)
}

// Status fetches the provider's current view of tx.
func (c *Client) Status(ctx context.Context, p *domain.Provider, tx *domain.Transaction) (*StatusResult, error) {
	product := productFor(tx.Type)
	path := "/collection/v1_0/requesttopay/"
	if product == ProductDisbursement {
		path = "/disbursement/v1_0/transfer/"
	}

	header, err := c.authHeaders(ctx, p, product)
	if err != nil {
		return nil, err
	}

	resp, err := c.exec.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		URL:    c.url(p, path+tx.Reference),
		Header: header,
		Target: "momo:" + p.Code,
	})
	if err := c.afterCall(p, product, err); err != nil {
		return nil, err
	}

	var result StatusResult
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, errors.Wrap(errors.ProviderRejectionError, "unreadable status response", err)
	}
	return &result, nil
}

func (c *Client) authHeaders(ctx context.Context, p *domain.Provider, product string) (http.Header, error) {
	token, err := c.token(ctx, p, product)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("X-Target-Environment", p.Environment)
	header.Set("Ocp-Apim-Subscription-Key", p.SubscriptionKey)
	return header, nil
}

// afterCall drops a token the provider no longer accepts.
func (c *Client) afterCall(p *domain.Provider, product string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errors.AuthenticationError) {
		c.tokens.Invalidate(tokenKey(p, product))
	}
	return err
}

func (c *Client) url(p *domain.Provider, path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(p.BaseURL, "/"), path)
}
