package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LedgerEntry struct {
	ID            uuid.UUID       `json:"id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	AccountCode   string          `json:"account_code"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"created_at"`
}

type LedgerRepository interface {
	CreateEntries(ctx context.Context, entries []*LedgerEntry) error
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*LedgerEntry, error)
}
