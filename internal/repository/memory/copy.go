package memory

import "payments-gateway/internal/domain"

func copyProvider(p domain.Provider) domain.Provider {
	p.PhonePrefixes = append([]string(nil), p.PhonePrefixes...)
	return p
}

func copyInvoice(inv domain.SmartInvoice) domain.SmartInvoice {
	inv.Lines = append([]domain.InvoiceLine(nil), inv.Lines...)
	inv.ValidationErrors = append([]string(nil), inv.ValidationErrors...)
	return inv
}

func copyReconciliation(r domain.Reconciliation) domain.Reconciliation {
	items := make([]*domain.ReconciliationItem, len(r.Items))
	for i, item := range r.Items {
		c := *item
		items[i] = &c
	}
	r.Items = items
	return r
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
