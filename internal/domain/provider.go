package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Provider is the configuration for one payment network. Only one row per
// code may be active at a time.
type Provider struct {
	ID                  uuid.UUID       `json:"id" yaml:"-"`
	Code                string          `json:"code" yaml:"code"`
	Name                string          `json:"name" yaml:"name"`
	BaseURL             string          `json:"base_url" yaml:"base_url"`
	Environment         string          `json:"environment" yaml:"environment"`
	Currency            string          `json:"currency" yaml:"currency"`
	APIUser             string          `json:"-" yaml:"api_user"`
	APIKey              string          `json:"-" yaml:"api_key"`
	SubscriptionKey     string          `json:"-" yaml:"subscription_key"`
	WebhookSecret       string          `json:"-" yaml:"webhook_secret"`
	CallbackURL         string          `json:"callback_url,omitempty" yaml:"callback_url"`
	Active              bool            `json:"active" yaml:"active"`
	MinAmount           decimal.Decimal `json:"min_amount" yaml:"min_amount"`
	MaxAmount           decimal.Decimal `json:"max_amount" yaml:"max_amount"`
	PhonePrefixes       []string        `json:"phone_prefixes" yaml:"phone_prefixes"`
	ReferencePrefix     string          `json:"reference_prefix" yaml:"reference_prefix"`
	CashAccountCode     string          `json:"cash_account_code" yaml:"cash_account_code"`
	FeeAccountCode      string          `json:"fee_account_code" yaml:"fee_account_code"`
	ClearingAccountCode string          `json:"clearing_account_code" yaml:"clearing_account_code"`
	CreatedAt           time.Time       `json:"created_at" yaml:"-"`
	UpdatedAt           time.Time       `json:"updated_at" yaml:"-"`
}

// AmountInRange reports whether amount sits within the provider's limits.
// A zero MaxAmount means no upper bound.
func (p *Provider) AmountInRange(amount decimal.Decimal) bool {
	if amount.LessThan(p.MinAmount) {
		return false
	}
	if !p.MaxAmount.IsZero() && amount.GreaterThan(p.MaxAmount) {
		return false
	}
	return true
}

type ProviderRepository interface {
	GetActiveByCode(ctx context.Context, code string) (*Provider, error)
	ListActive(ctx context.Context) ([]*Provider, error)
	UpsertProvider(ctx context.Context, p *Provider) error
}
