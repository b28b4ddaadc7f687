package domain

import "context"

// Store groups the repositories and runs work inside one database transaction.
type Store interface {
	Transactions() TransactionRepository
	Providers() ProviderRepository
	Ledger() LedgerRepository
	Reconciliations() ReconciliationRepository
	Invoices() InvoiceRepository
	AuditLogs() AuditLogRepository
	Settings() SettingRepository
	Notifications() NotificationRepository

	// WithTransaction commits when fn returns nil and rolls back otherwise.
	WithTransaction(ctx context.Context, fn func(Store) error) error
}
