package zra

import (
	"fmt"
	"strings"

	"payments-gateway/internal/domain"
)

type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

func isTPIN(v string) bool {
	if len(v) != 10 {
		return false
	}
	for _, c := range v {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ValidateInvoiceForSubmission runs the local checks that must pass before an
// invoice is sent to the tax authority.
func ValidateInvoiceForSubmission(inv *domain.SmartInvoice) ValidationResult {
	var errs []string

	if !inv.Total.IsPositive() {
		errs = append(errs, "Total amount must be greater than zero")
	}
	if strings.TrimSpace(inv.InvoiceNumber) == "" {
		errs = append(errs, "Invoice number is required")
	}
	if inv.InvoiceDate.IsZero() {
		errs = append(errs, "Invoice date is required")
	}
	if len(strings.TrimSpace(inv.Currency)) != 3 {
		errs = append(errs, "Currency must be a 3-letter code")
	}
	switch {
	case inv.SellerTPIN == "":
		errs = append(errs, "Seller TPIN is required")
	case !isTPIN(inv.SellerTPIN):
		errs = append(errs, "Seller TPIN must be 10 digits")
	}
	if inv.BuyerTPIN != "" && !isTPIN(inv.BuyerTPIN) {
		errs = append(errs, "Buyer TPIN must be 10 digits")
	}
	if strings.TrimSpace(inv.BuyerName) == "" {
		errs = append(errs, "Buyer name is required")
	}
	if len(inv.Lines) == 0 {
		errs = append(errs, "Invoice must have at least one line item")
	}
	for i, line := range inv.Lines {
		n := i + 1
		if strings.TrimSpace(line.Description) == "" {
			errs = append(errs, fmt.Sprintf("Line %d: description is required", n))
		}
		if !line.Quantity.IsPositive() {
			errs = append(errs, fmt.Sprintf("Line %d: quantity must be greater than zero", n))
		}
		if line.UnitPrice.IsNegative() {
			errs = append(errs, fmt.Sprintf("Line %d: unit price cannot be negative", n))
		}
		if line.TaxCode == "" {
			errs = append(errs, fmt.Sprintf("Line %d: tax code is required", n))
		}
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
