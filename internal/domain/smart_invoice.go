package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "pending"
	InvoiceSubmitted InvoiceStatus = "submitted"
	InvoiceApproved  InvoiceStatus = "approved"
	InvoiceRejected  InvoiceStatus = "rejected"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// pending -> rejected covers a submission refused by remote validation.
// rejected -> pending is the retry path.
var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoicePending:   {InvoiceSubmitted, InvoiceRejected},
	InvoiceSubmitted: {InvoiceApproved, InvoiceRejected, InvoiceCancelled},
	InvoiceApproved:  {InvoiceCancelled},
	InvoiceRejected:  {InvoicePending},
	InvoiceCancelled: {},
}

func CanTransitionInvoice(from, to InvoiceStatus) bool {
	for _, allowed := range invoiceTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type InvoiceLine struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxCode     string          `json:"tax_code"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
}

func (l InvoiceLine) Net() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice).Round(2)
}

func (l InvoiceLine) Tax() decimal.Decimal {
	return l.Net().Mul(l.TaxRate).Div(decimal.NewFromInt(100)).Round(2)
}

// SmartInvoice is one invoice's submission to the tax authority.
type SmartInvoice struct {
	ID                 uuid.UUID       `json:"id"`
	InvoiceID          string          `json:"invoice_id"`
	InvoiceNumber      string          `json:"invoice_number"`
	InvoiceDate        time.Time       `json:"invoice_date"`
	SellerTPIN         string          `json:"seller_tpin"`
	BuyerTPIN          string          `json:"buyer_tpin,omitempty"`
	BuyerName          string          `json:"buyer_name"`
	Currency           string          `json:"currency"`
	Lines              []InvoiceLine   `json:"lines"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	TaxTotal           decimal.Decimal `json:"tax_total"`
	Total              decimal.Decimal `json:"total"`
	Status             InvoiceStatus   `json:"status"`
	ZRAReference       string          `json:"zra_reference,omitempty"`
	SubmissionID       string          `json:"submission_id,omitempty"`
	VerificationURL    string          `json:"verification_url,omitempty"`
	QRCode             string          `json:"qr_code,omitempty"`
	RejectionReason    string          `json:"rejection_reason,omitempty"`
	ValidationErrors   []string        `json:"validation_errors,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	AttemptCount       int             `json:"attempt_count"`
	RetryCount         int             `json:"retry_count"`
	LastAttemptAt      *time.Time      `json:"last_attempt_at,omitempty"`
	SubmittedAt        *time.Time      `json:"submitted_at,omitempty"`
	ApprovedAt         *time.Time      `json:"approved_at,omitempty"`
	RejectedAt         *time.Time      `json:"rejected_at,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Recalculate derives subtotal, tax and total from the lines.
func (s *SmartInvoice) Recalculate() {
	subtotal := decimal.Zero
	tax := decimal.Zero
	for _, line := range s.Lines {
		subtotal = subtotal.Add(line.Net())
		tax = tax.Add(line.Tax())
	}
	s.Subtotal = subtotal
	s.TaxTotal = tax
	s.Total = subtotal.Add(tax)
}

type InvoiceRepository interface {
	CreateInvoice(ctx context.Context, inv *SmartInvoice) error
	GetInvoice(ctx context.Context, id uuid.UUID) (*SmartInvoice, error)
	GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (*SmartInvoice, error)
	GetActiveByInvoiceID(ctx context.Context, invoiceID string) (*SmartInvoice, error)
	UpdateInvoice(ctx context.Context, inv *SmartInvoice) error
}
