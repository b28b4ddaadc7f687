package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"payments-gateway/internal/domain"
	"payments-gateway/internal/errors"
)

type transactionRepository struct{ store *Store }

func (r *transactionRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	unlock := r.store.lock()
	defer unlock()
	if err := r.store.injected("Transactions.CreateTransaction"); err != nil {
		return err
	}

	d := r.store.state.data
	for _, existing := range d.transactions {
		if existing.Reference == tx.Reference {
			return errors.ErrDuplicateReference
		}
		if tx.ExternalReference != "" && existing.ProviderCode == tx.ProviderCode &&
			existing.ExternalReference == tx.ExternalReference {
			return errors.ErrDuplicateReference
		}
	}

	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	d.transactions[tx.ID] = *tx
	return nil
}

func (r *transactionRepository) find(match func(domain.Transaction) bool) (*domain.Transaction, error) {
	for _, t := range r.store.state.data.transactions {
		if t.DeletedAt == nil && match(t) {
			found := t
			return &found, nil
		}
	}
	return nil, errors.ErrTransactionNotFound
}

func (r *transactionRepository) GetByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	unlock := r.store.lock()
	defer unlock()
	return r.find(func(t domain.Transaction) bool { return t.Reference == reference })
}

func (r *transactionRepository) GetByReferenceForUpdate(ctx context.Context, reference string) (*domain.Transaction, error) {
	return r.GetByReference(ctx, reference)
}

func (r *transactionRepository) GetByExternalReference(ctx context.Context, providerCode, externalReference string) (*domain.Transaction, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	unlock := r.store.lock()
	defer unlock()
	return r.find(func(t domain.Transaction) bool {
		return t.ProviderCode == providerCode &&
			(t.ExternalReference == externalReference || t.Reference == externalReference)
	})
}

func (r *transactionRepository) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	unlock := r.store.lock()
	defer unlock()
	if err := r.store.injected("Transactions.UpdateTransaction"); err != nil {
		return err
	}

	existing, ok := r.store.state.data.transactions[tx.ID]
	if !ok {
		return errors.ErrTransactionNotFound
	}
	existing.Status = tx.Status
	existing.ProviderTransactionID = tx.ProviderTransactionID
	existing.Fee = tx.Fee
	existing.RetryCount = tx.RetryCount
	existing.FailureReason = tx.FailureReason
	existing.CompletedAt = tx.CompletedAt
	existing.FailedAt = tx.FailedAt
	existing.UpdatedAt = time.Now().UTC()
	tx.UpdatedAt = existing.UpdatedAt
	r.store.state.data.transactions[tx.ID] = existing
	return nil
}

func (r *transactionRepository) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Transaction, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	unlock := r.store.lock()
	defer unlock()

	var out []*domain.Transaction
	for _, t := range r.store.state.data.transactions {
		if t.DeletedAt == nil && t.Status == domain.StatusPending && t.CreatedAt.Before(createdBefore) {
			found := t
			out = append(out, &found)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *transactionRepository) ListForReconciliation(ctx context.Context, providerCode string, from, to time.Time) ([]*domain.Transaction, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	unlock := r.store.lock()
	defer unlock()

	var out []*domain.Transaction
	for _, t := range r.store.state.data.transactions {
		if t.DeletedAt != nil || t.ProviderCode != providerCode || t.Status != domain.StatusCompleted ||
			t.ReconciledAt != nil || t.CompletedAt == nil {
			continue
		}
		if t.CompletedAt.Before(from) || !t.CompletedAt.Before(to) {
			continue
		}
		found := t
		out = append(out, &found)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.Before(*out[j].CompletedAt) })
	return out, nil
}

func (r *transactionRepository) MarkReconciled(ctx context.Context, ids []uuid.UUID, reconciliationID uuid.UUID, at time.Time) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	unlock := r.store.lock()
	defer unlock()
	if err := r.store.injected("Transactions.MarkReconciled"); err != nil {
		return err
	}

	for _, id := range ids {
		t, ok := r.store.state.data.transactions[id]
		if !ok || t.ReconciledAt != nil {
			continue
		}
		recID := reconciliationID
		reconciledAt := at
		t.ReconciliationID = &recID
		t.ReconciledAt = &reconciledAt
		t.UpdatedAt = at
		r.store.state.data.transactions[id] = t
	}
	return nil
}

type providerRepository struct{ store *Store }

func (r *providerRepository) GetActiveByCode(ctx context.Context, code string) (*domain.Provider, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	unlock := r.store.lock()
	defer unlock()
	for _, p := range r.store.state.data.providers {
		if p.Active && p.Code == code {
			found := copyProvider(p)
			return &found, nil
		}
	}
	return nil, errors.ErrProviderNotFound
}

func (r *providerRepository) ListActive(ctx context.Context) ([]*domain.Provider, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	unlock := r.store.lock()
	defer unlock()
	var out []*domain.Provider
	for _, p := range r.store.state.data.providers {
		if p.Active {
			found := copyProvider(p)
			out = append(out, &found)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *providerRepository) UpsertProvider(ctx context.Context, p *domain.Provider) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	unlock := r.store.lock()
	defer unlock()

	now := time.Now().UTC()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Active {
		for id, existing := range r.store.state.data.providers {
			if id != p.ID && existing.Code == p.Code && existing.Active {
				existing.Active = false
				r.store.state.data.providers[id] = existing
			}
		}
	}
	r.store.state.data.providers[p.ID] = copyProvider(*p)
	return nil
}

type ledgerRepository struct{ store *Store }

func (r *ledgerRepository) CreateEntries(ctx context.Context, entries []*domain.LedgerEntry) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	unlock := r.store.lock()
	defer unlock()
	if err := r.store.injected("Ledger.CreateEntries"); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, e := range entries {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.CreatedAt = now
		r.store.state.data.ledger = append(r.store.state.data.ledger, *e)
	}
	return nil
}

func (r *ledgerRepository) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*domain.LedgerEntry, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	unlock := r.store.lock()
	defer unlock()
	var out []*domain.LedgerEntry
	for _, e := range r.store.state.data.ledger {
		if e.TransactionID == transactionID {
			found := e
			out = append(out, &found)
		}
	}
	return out, nil
}

type reconciliationRepository struct{ store *Store }

func (r *reconciliationRepository) CreateReconciliation(ctx context.Context, rec *domain.Reconciliation) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	unlock := r.store.lock()
	defer unlock()
	if err := r.store.injected("Reconciliations.CreateReconciliation"); err != nil {
		return err
	}
	for _, item := range rec.Items {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.ReconciliationID = rec.ID
	}
	r.store.state.data.reconciliations[rec.ID] = copyReconciliation(*rec)
	return nil
}

func (r *reconciliationRepository) GetReconciliation(ctx context.Context, id uuid.UUID) (*domain.Reconciliation, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	unlock := r.store.lock()
	defer unlock()
	rec, ok := r.store.state.data.reconciliations[id]
	if !ok {
		return nil, errors.ErrReconciliationNotFound
	}
	found := copyReconciliation(rec)
	return &found, nil
}

type invoiceRepository struct{ store *Store }

func (r *invoiceRepository) CreateInvoice(ctx context.Context, inv *domain.SmartInvoice) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	unlock := r.store.lock()
	defer unlock()
	for _, existing := range r.store.state.data.invoices {
		if existing.InvoiceID == inv.InvoiceID && existing.Status != domain.InvoiceCancelled {
			return errors.ErrDuplicateSubmission
		}
	}
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	now := time.Now().UTC()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	r.store.state.data.invoices[inv.ID] = copyInvoice(*inv)
	return nil
}

func (r *invoiceRepository) GetInvoice(ctx context.Context, id uuid.UUID) (*domain.SmartInvoice, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	unlock := r.store.lock()
	defer unlock()
	inv, ok := r.store.state.data.invoices[id]
	if !ok {
		return nil, errors.ErrInvoiceNotFound
	}
	found := copyInvoice(inv)
	return &found, nil
}

func (r *invoiceRepository) GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (*domain.SmartInvoice, error) {
	return r.GetInvoice(ctx, id)
}

func (r *invoiceRepository) GetActiveByInvoiceID(ctx context.Context, invoiceID string) (*domain.SmartInvoice, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	unlock := r.store.lock()
	defer unlock()
	for _, inv := range r.store.state.data.invoices {
		if inv.InvoiceID == invoiceID && inv.Status != domain.InvoiceCancelled {
			found := copyInvoice(inv)
			return &found, nil
		}
	}
	return nil, errors.ErrInvoiceNotFound
}

func (r *invoiceRepository) UpdateInvoice(ctx context.Context, inv *domain.SmartInvoice) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	unlock := r.store.lock()
	defer unlock()
	if err := r.store.injected("Invoices.UpdateInvoice"); err != nil {
		return err
	}
	if _, ok := r.store.state.data.invoices[inv.ID]; !ok {
		return errors.ErrInvoiceNotFound
	}
	inv.UpdatedAt = time.Now().UTC()
	r.store.state.data.invoices[inv.ID] = copyInvoice(*inv)
	return nil
}

type auditLogRepository struct{ store *Store }

func (r *auditLogRepository) CreateAuditLog(ctx context.Context, l *domain.AuditLog) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	unlock := r.store.lock()
	defer unlock()
	if err := r.store.injected("AuditLogs.CreateAuditLog"); err != nil {
		return err
	}
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	stored := *l
	stored.Details = copyMap(l.Details)
	r.store.state.data.auditLogs = append(r.store.state.data.auditLogs, stored)
	return nil
}

func (r *auditLogRepository) ListByEntity(ctx context.Context, entityType, entityID string) ([]*domain.AuditLog, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	unlock := r.store.lock()
	defer unlock()
	var out []*domain.AuditLog
	for _, l := range r.store.state.data.auditLogs {
		if l.EntityType == entityType && l.EntityID == entityID {
			found := l
			found.Details = copyMap(l.Details)
			out = append(out, &found)
		}
	}
	return out, nil
}

type settingRepository struct{ store *Store }

func (r *settingRepository) GetSetting(ctx context.Context, scope, key string) (*domain.Setting, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	unlock := r.store.lock()
	defer unlock()
	if err := r.store.injected("Settings.GetSetting"); err != nil {
		return nil, err
	}
	s, ok := r.store.state.data.settings[settingKey{scope, key}]
	if !ok {
		return nil, errors.ErrSettingNotFound
	}
	return &s, nil
}

func (r *settingRepository) UpsertSetting(ctx context.Context, s *domain.Setting) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	unlock := r.store.lock()
	defer unlock()
	s.UpdatedAt = time.Now().UTC()
	r.store.state.data.settings[settingKey{s.Scope, s.Key}] = *s
	return nil
}

func (r *settingRepository) DeleteSetting(ctx context.Context, scope, key string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	unlock := r.store.lock()
	defer unlock()
	k := settingKey{scope, key}
	if _, ok := r.store.state.data.settings[k]; !ok {
		return errors.ErrSettingNotFound
	}
	delete(r.store.state.data.settings, k)
	return nil
}

type notificationRepository struct{ store *Store }

func (r *notificationRepository) CreateNotification(ctx context.Context, n *domain.NotificationRecord) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	unlock := r.store.lock()
	defer unlock()
	if err := r.store.injected("Notifications.CreateNotification"); err != nil {
		return err
	}
	k := notificationKey{n.EventID, n.NotifiableType, n.NotifiableID}
	if _, exists := r.store.state.data.notifications[k]; exists {
		return nil
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	stored := *n
	stored.Data = copyMap(n.Data)
	r.store.state.data.notifications[k] = stored
	return nil
}

func (r *notificationRepository) ListForNotifiable(ctx context.Context, notifiableType, notifiableID string) ([]*domain.NotificationRecord, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	unlock := r.store.lock()
	defer unlock()
	var out []*domain.NotificationRecord
	for _, n := range r.store.state.data.notifications {
		if n.NotifiableType == notifiableType && n.NotifiableID == notifiableID {
			found := n
			found.Data = copyMap(n.Data)
			out = append(out, &found)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
