package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ItemStatus string

const (
	ItemMatched          ItemStatus = "matched"
	ItemAmountMismatch   ItemStatus = "amount_mismatch"
	ItemMissingInternal  ItemStatus = "missing_internal"
	ItemMissingStatement ItemStatus = "missing_statement"
)

// StatementLine is one provider-reported transaction.
type StatementLine struct {
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Date      time.Time       `json:"date"`
}

type ReconciliationItem struct {
	ID                 uuid.UUID       `json:"id"`
	ReconciliationID   uuid.UUID       `json:"reconciliation_id"`
	TransactionID      *uuid.UUID      `json:"transaction_id,omitempty"`
	Status             ItemStatus      `json:"status"`
	StatementReference string          `json:"statement_reference,omitempty"`
	InternalReference  string          `json:"internal_reference,omitempty"`
	StatementAmount    decimal.Decimal `json:"statement_amount"`
	BookAmount         decimal.Decimal `json:"book_amount"`
	Difference         decimal.Decimal `json:"difference"`
}

// Amount is the value an item contributes to the batch totals.
func (i *ReconciliationItem) Amount() decimal.Decimal {
	if i.Status == ItemMissingStatement {
		return i.BookAmount
	}
	return i.StatementAmount
}

type Reconciliation struct {
	ID                      uuid.UUID             `json:"id"`
	ProviderCode            string                `json:"provider"`
	PeriodStart             time.Time             `json:"period_start"`
	PeriodEnd               time.Time             `json:"period_end"`
	StatementOpeningBalance decimal.Decimal       `json:"statement_opening_balance"`
	StatementClosingBalance decimal.Decimal       `json:"statement_closing_balance"`
	BookOpeningBalance      decimal.Decimal       `json:"book_opening_balance"`
	BookClosingBalance      decimal.Decimal       `json:"book_closing_balance"`
	Tolerance               decimal.Decimal       `json:"tolerance"`
	TotalCount              int                   `json:"total_count"`
	TotalAmount             decimal.Decimal       `json:"total_amount"`
	MatchedCount            int                   `json:"matched_count"`
	MatchedAmount           decimal.Decimal       `json:"matched_amount"`
	DiscrepancyCount        int                   `json:"discrepancy_count"`
	DiscrepancyAmount       decimal.Decimal       `json:"discrepancy_amount"`
	Items                   []*ReconciliationItem `json:"items,omitempty"`
	CreatedAt               time.Time             `json:"created_at"`
	CompletedAt             *time.Time            `json:"completed_at,omitempty"`
}

func (r *Reconciliation) HasDiscrepancies() bool {
	return r.DiscrepancyCount > 0
}

// BalanceDifference is statement closing minus book closing.
func (r *Reconciliation) BalanceDifference() decimal.Decimal {
	return r.StatementClosingBalance.Sub(r.BookClosingBalance)
}

type ReconciliationRepository interface {
	CreateReconciliation(ctx context.Context, r *Reconciliation) error
	GetReconciliation(ctx context.Context, id uuid.UUID) (*Reconciliation, error)
}
