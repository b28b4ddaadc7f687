// Package memory is an in-process domain.Store used by tests and by the
// server when no database is configured.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"payments-gateway/internal/domain"
)

type settingKey struct {
	scope string
	key   string
}

type notificationKey struct {
	eventID        uuid.UUID
	notifiableType string
	notifiableID   string
}

type data struct {
	transactions    map[uuid.UUID]domain.Transaction
	providers       map[uuid.UUID]domain.Provider
	ledger          []domain.LedgerEntry
	reconciliations map[uuid.UUID]domain.Reconciliation
	invoices        map[uuid.UUID]domain.SmartInvoice
	auditLogs       []domain.AuditLog
	settings        map[settingKey]domain.Setting
	notifications   map[notificationKey]domain.NotificationRecord
}

func newData() *data {
	return &data{
		transactions:    make(map[uuid.UUID]domain.Transaction),
		providers:       make(map[uuid.UUID]domain.Provider),
		reconciliations: make(map[uuid.UUID]domain.Reconciliation),
		invoices:        make(map[uuid.UUID]domain.SmartInvoice),
		settings:        make(map[settingKey]domain.Setting),
		notifications:   make(map[notificationKey]domain.NotificationRecord),
	}
}

// clone copies the maps and slices. Values are copied through their copy helpers
// so a rolled back transaction cannot leak through shared slices.
func (d *data) clone() *data {
	c := newData()
	for k, v := range d.transactions {
		c.transactions[k] = v
	}
	for k, v := range d.providers {
		c.providers[k] = copyProvider(v)
	}
	c.ledger = append(c.ledger, d.ledger...)
	for k, v := range d.reconciliations {
		c.reconciliations[k] = copyReconciliation(v)
	}
	for k, v := range d.invoices {
		c.invoices[k] = copyInvoice(v)
	}
	c.auditLogs = append(c.auditLogs, d.auditLogs...)
	for k, v := range d.settings {
		c.settings[k] = v
	}
	for k, v := range d.notifications {
		c.notifications[k] = v
	}
	return c
}

type state struct {
	mu       sync.Mutex
	data     *data
	failures map[string]error
}

// Store keeps every repository in maps guarded by one mutex. WithTransaction
// holds the mutex for the whole callback and restores a snapshot on error.
type Store struct {
	state *state
	inTx  bool
}

var _ domain.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		state: &state{
			data:     newData(),
			failures: make(map[string]error),
		},
	}
}

// FailOn makes the named operation (for example "Ledger.CreateEntries") return err
// until cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	if err == nil {
		delete(s.state.failures, op)
		return
	}
	s.state.failures[op] = err
}

// lock acquires the store mutex unless the caller already holds it through a transaction.
func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.state.mu.Lock()
	return s.state.mu.Unlock
}

func (s *Store) injected(op string) error {
	return s.state.failures[op]
}

func (s *Store) Transactions() domain.TransactionRepository {
	return &transactionRepository{store: s}
}

func (s *Store) Providers() domain.ProviderRepository {
	return &providerRepository{store: s}
}

func (s *Store) Ledger() domain.LedgerRepository {
	return &ledgerRepository{store: s}
}

func (s *Store) Reconciliations() domain.ReconciliationRepository {
	return &reconciliationRepository{store: s}
}

func (s *Store) Invoices() domain.InvoiceRepository {
	return &invoiceRepository{store: s}
}

func (s *Store) AuditLogs() domain.AuditLogRepository {
	return &auditLogRepository{store: s}
}

func (s *Store) Settings() domain.SettingRepository {
	return &settingRepository{store: s}
}

func (s *Store) Notifications() domain.NotificationRepository {
	return &notificationRepository{store: s}
}

func (s *Store) WithTransaction(ctx context.Context, fn func(domain.Store) error) (err error) {
	if s.inTx {
		return fn(s)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	snapshot := s.state.data.clone()
	defer func() {
		if p := recover(); p != nil {
			s.state.data = snapshot
			panic(p)
		}
		if err != nil {
			s.state.data = snapshot
		}
	}()

	return fn(&Store{state: s.state, inTx: true})
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
