package notification

import (
	"time"

	"github.com/google/uuid"

	"payments-gateway/internal/domain"
)

type Kind string

const (
	KindPaymentCompleted        Kind = "payment.completed"
	KindPaymentFailed           Kind = "payment.failed"
	KindPaymentMaxRetries       Kind = "payment.max_retries"
	KindReconciliationCompleted Kind = "reconciliation.completed"
	KindInvoiceApproved         Kind = "smart_invoice.approved"
	KindInvoiceRejected         Kind = "smart_invoice.rejected"
	KindInvoiceCancelled        Kind = "smart_invoice.cancelled"
	KindProviderAuthFailed      Kind = "provider.authentication_failed"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type ChannelName string

const (
	ChannelDatabase  ChannelName = "database"
	ChannelMail      ChannelName = "mail"
	ChannelBroadcast ChannelName = "broadcast"
)

// Notifiable is the recipient of an event.
type Notifiable struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

type Event struct {
	ID         uuid.UUID      `json:"id"`
	Kind       Kind           `json:"kind"`
	Severity   Severity       `json:"severity"`
	Subject    string         `json:"subject"`
	Data       map[string]any `json:"data"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func newEvent(kind Kind, severity Severity, subject string, data map[string]any) Event {
	return Event{
		ID:         uuid.New(),
		Kind:       kind,
		Severity:   severity,
		Subject:    subject,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	}
}

func transactionData(tx *domain.Transaction) map[string]any {
	return map[string]any{
		"reference":   tx.Reference,
		"provider":    tx.ProviderCode,
		"type":        string(tx.Type),
		"amount":      tx.Amount.StringFixed(2),
		"currency":    tx.Currency,
		"fee":         tx.Fee.StringFixed(2),
		"retry_count": tx.RetryCount,
	}
}

func PaymentCompleted(tx *domain.Transaction) Event {
	return newEvent(KindPaymentCompleted, SeverityInfo,
		"Payment "+tx.Reference+" completed for "+FormatAmount(tx.Amount, tx.Currency), transactionData(tx))
}

func PaymentFailed(tx *domain.Transaction) Event {
	data := transactionData(tx)
	data["reason"] = tx.FailureReason
	return newEvent(KindPaymentFailed, SeverityWarning,
		"Payment "+tx.Reference+" failed for "+FormatAmount(tx.Amount, tx.Currency), data)
}

func PaymentMaxRetries(tx *domain.Transaction) Event {
	data := transactionData(tx)
	data["reason"] = tx.FailureReason
	return newEvent(KindPaymentMaxRetries, SeverityCritical,
		"Payment "+tx.Reference+" reached its retry limit", data)
}

func ReconciliationCompleted(rec *domain.Reconciliation, currency string) Event {
	severity := SeverityInfo
	subject := "Reconciliation for " + rec.ProviderCode + " matched all transactions"
	if rec.HasDiscrepancies() {
		severity = SeverityWarning
		subject = "Reconciliation for " + rec.ProviderCode + " found discrepancies totalling " +
			FormatAmount(rec.DiscrepancyAmount, currency)
	}
	return newEvent(KindReconciliationCompleted, severity, subject, map[string]any{
		"reconciliation_id":  rec.ID.String(),
		"provider":           rec.ProviderCode,
		"period_start":       rec.PeriodStart.Format(time.RFC3339),
		"period_end":         rec.PeriodEnd.Format(time.RFC3339),
		"total_count":        rec.TotalCount,
		"total_amount":       rec.TotalAmount.StringFixed(2),
		"matched_count":      rec.MatchedCount,
		"matched_amount":     rec.MatchedAmount.StringFixed(2),
		"discrepancy_count":  rec.DiscrepancyCount,
		"discrepancy_amount": rec.DiscrepancyAmount.StringFixed(2),
		"has_discrepancies":  rec.HasDiscrepancies(),
	})
}

func invoiceData(inv *domain.SmartInvoice) map[string]any {
	return map[string]any{
		"invoice_id":     inv.InvoiceID,
		"invoice_number": inv.InvoiceNumber,
		"status":         string(inv.Status),
		"total":          inv.Total.StringFixed(2),
		"currency":       inv.Currency,
		"zra_reference":  inv.ZRAReference,
	}
}

func InvoiceApproved(inv *domain.SmartInvoice) Event {
	data := invoiceData(inv)
	data["verification_url"] = inv.VerificationURL
	return newEvent(KindInvoiceApproved, SeverityInfo, "Smart invoice "+inv.InvoiceNumber+" approved", data)
}

func InvoiceRejected(inv *domain.SmartInvoice) Event {
	data := invoiceData(inv)
	data["reason"] = inv.RejectionReason
	data["validation_errors"] = inv.ValidationErrors
	return newEvent(KindInvoiceRejected, SeverityWarning, "Smart invoice "+inv.InvoiceNumber+" rejected", data)
}

func InvoiceCancelled(inv *domain.SmartInvoice) Event {
	data := invoiceData(inv)
	data["reason"] = inv.CancellationReason
	return newEvent(KindInvoiceCancelled, SeverityInfo, "Smart invoice "+inv.InvoiceNumber+" cancelled", data)
}

func ProviderAuthFailed(providerCode, message string) Event {
	return newEvent(KindProviderAuthFailed, SeverityCritical, "Authentication failed for provider "+providerCode,
		map[string]any{"provider": providerCode, "message": message})
}

// Channels lists the delivery channels for an event.
func Channels(e Event) []ChannelName {
	switch e.Kind {
	case KindPaymentCompleted:
		return []ChannelName{ChannelDatabase, ChannelBroadcast}
	case KindPaymentFailed:
		return []ChannelName{ChannelDatabase, ChannelMail, ChannelBroadcast}
	case KindPaymentMaxRetries:
		return []ChannelName{ChannelDatabase, ChannelMail}
	case KindReconciliationCompleted:
		if e.Severity == SeverityInfo {
			return []ChannelName{ChannelDatabase, ChannelBroadcast}
		}
		return []ChannelName{ChannelDatabase, ChannelMail, ChannelBroadcast}
	case KindInvoiceApproved, KindInvoiceCancelled:
		return []ChannelName{ChannelDatabase}
	case KindInvoiceRejected:
		return []ChannelName{ChannelDatabase, ChannelMail}
	case KindProviderAuthFailed:
		return []ChannelName{ChannelMail, ChannelBroadcast}
	default:
		return []ChannelName{ChannelDatabase}
	}
}
