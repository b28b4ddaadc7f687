package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypeCollection   TransactionType = "collection"
	TypeDisbursement TransactionType = "disbursement"
)

func (t TransactionType) Valid() bool {
	return t == TypeCollection || t == TypeDisbursement
}

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// transactionTransitions lists the allowed moves out of each status.
// failed -> pending only happens through a manual retry.
var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:   {StatusCompleted, StatusFailed},
	StatusFailed:    {StatusPending},
	StatusCompleted: {},
}

// CanTransition checks if a status transition is allowed
func CanTransition(from, to TransactionStatus) bool {
	for _, allowed := range transactionTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type Transaction struct {
	ID                    uuid.UUID         `json:"id"`
	Reference             string            `json:"reference"`
	ProviderCode          string            `json:"provider"`
	Type                  TransactionType   `json:"type"`
	Amount                decimal.Decimal   `json:"amount"`
	Currency              string            `json:"currency"`
	PhoneNumber           string            `json:"phone_number"`
	Status                TransactionStatus `json:"status"`
	ExternalReference     string            `json:"external_reference"`
	ProviderTransactionID string            `json:"provider_transaction_id,omitempty"`
	Fee                   decimal.Decimal   `json:"fee"`
	RetryCount            int               `json:"retry_count"`
	FailureReason         string            `json:"failure_reason,omitempty"`
	Description           string            `json:"description,omitempty"`
	ReconciliationID      *uuid.UUID        `json:"reconciliation_id,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
	CompletedAt           *time.Time        `json:"completed_at,omitempty"`
	FailedAt              *time.Time        `json:"failed_at,omitempty"`
	ReconciledAt          *time.Time        `json:"reconciled_at,omitempty"`
	DeletedAt             *time.Time        `json:"-"`
}

func (t *Transaction) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

func (t *Transaction) IsReconciled() bool {
	return t.ReconciledAt != nil
}

// SignedAmount is positive for money received and negative for money paid out.
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Type == TypeDisbursement {
		return t.Amount.Neg()
	}
	return t.Amount
}

type TransactionRepository interface {
	CreateTransaction(ctx context.Context, tx *Transaction) error
	GetByReference(ctx context.Context, reference string) (*Transaction, error)
	GetByReferenceForUpdate(ctx context.Context, reference string) (*Transaction, error)
	GetByExternalReference(ctx context.Context, providerCode, externalReference string) (*Transaction, error)
	UpdateTransaction(ctx context.Context, tx *Transaction) error
	ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*Transaction, error)
	ListForReconciliation(ctx context.Context, providerCode string, from, to time.Time) ([]*Transaction, error)
	MarkReconciled(ctx context.Context, ids []uuid.UUID, reconciliationID uuid.UUID, at time.Time) error
}
