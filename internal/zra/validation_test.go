package zra

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"payments-gateway/internal/domain"
)

func validInvoice() *domain.SmartInvoice {
	inv := &domain.SmartInvoice{
		InvoiceID:     "inv-42",
		InvoiceNumber: "INV-2026-0042",
		InvoiceDate:   time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		SellerTPIN:    "1001234567",
		BuyerTPIN:     "2009876543",
		BuyerName:     "Acme Ltd",
		Currency:      "ZMW",
		Lines: []domain.InvoiceLine{
			{Description: "Consulting", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(500), TaxCode: "A", TaxRate: decimal.NewFromInt(16)},
			{Description: "Travel", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("250.50"), TaxCode: "E", TaxRate: decimal.Zero},
		},
	}
	inv.Recalculate()
	return inv
}

func TestValidateInvoiceForSubmission_Valid(t *testing.T) {
	result := ValidateInvoiceForSubmission(validInvoice())

	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidateInvoiceForSubmission_ZeroTotal(t *testing.T) {
	inv := validInvoice()
	for i := range inv.Lines {
		inv.Lines[i].UnitPrice = decimal.Zero
	}
	inv.Recalculate()

	result := ValidateInvoiceForSubmission(inv)

	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors, "Total amount must be greater than zero")
}

func TestValidateInvoiceForSubmission_TaxpayerFields(t *testing.T) {
	inv := validInvoice()
	inv.SellerTPIN = "12345"
	inv.BuyerTPIN = "abcdefghij"
	inv.BuyerName = " "

	result := ValidateInvoiceForSubmission(inv)

	assert.False(t, result.Valid)
	assert.ElementsMatch(t, []string{
		"Seller TPIN must be 10 digits",
		"Buyer TPIN must be 10 digits",
		"Buyer name is required",
	}, result.Errors)
}

func TestValidateInvoiceForSubmission_Lines(t *testing.T) {
	inv := validInvoice()
	inv.Lines = append(inv.Lines, domain.InvoiceLine{Quantity: decimal.Zero, UnitPrice: decimal.NewFromInt(-1)})

	result := ValidateInvoiceForSubmission(inv)

	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors, "Line 3: description is required")
	assert.Contains(t, result.Errors, "Line 3: quantity must be greater than zero")
	assert.Contains(t, result.Errors, "Line 3: unit price cannot be negative")
	assert.Contains(t, result.Errors, "Line 3: tax code is required")
}
