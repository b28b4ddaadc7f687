package server

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"

	"payments-gateway/internal/config"
	"payments-gateway/internal/domain"
	"payments-gateway/internal/handler"
	"payments-gateway/internal/httpclient"
	"payments-gateway/internal/metrics"
	"payments-gateway/internal/momo"
	"payments-gateway/internal/notification"
	"payments-gateway/internal/repository"
	"payments-gateway/internal/repository/memory"
	"payments-gateway/internal/service"
	"payments-gateway/internal/settings"
	"payments-gateway/internal/worker"
	"payments-gateway/internal/zra"
)

// Server represents the HTTP server
type Server struct {
	handler    http.Handler
	router     *mux.Router
	server     *http.Server
	db         *sql.DB
	store      domain.Store
	pool       *worker.Pool
	poller     *service.StatusPoller
	pollerDone chan struct{}
	closers    []io.Closer
	cancel     context.CancelFunc
	logger     *slog.Logger
	port       string
}

// OpenStore connects to Postgres and applies migrations, or returns an
// in-memory store when STORAGE_DRIVER=memory. db is nil for the memory store.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Store, *sql.DB, error) {
	if cfg.UsesMemoryStore() {
		logger.Warn("Using in-memory store, data will not survive a restart")
		return memory.NewStore(), nil, nil
	}

	db, err := sql.Open("postgres", cfg.GetDBConnectionString())
	if err != nil {
		return nil, nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	logger.Info("Successfully connected to database")

	if err := repository.Migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, nil, err
	}
	return repository.NewStore(db, logger), db, nil
}

// SeedProviders upserts the providers defined in the YAML file at path.
func SeedProviders(ctx context.Context, store domain.Store, path string, logger *slog.Logger) (int, error) {
	providers, err := config.LoadProviders(path)
	if err != nil {
		return 0, err
	}
	err = store.WithTransaction(ctx, func(s domain.Store) error {
		for _, p := range providers {
			existing, err := s.Providers().GetActiveByCode(ctx, p.Code)
			if err == nil {
				p.ID = existing.ID
				p.CreatedAt = existing.CreatedAt
			}
			if err := s.Providers().UpsertProvider(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	logger.Info("Providers seeded", "count", len(providers), "file", path)
	return len(providers), nil
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	ctx := context.Background()
	metrics.Init()

	store, db, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.ProvidersFile != "" {
		if _, err := SeedProviders(ctx, store, cfg.ProvidersFile, logger); err != nil {
			if db != nil {
				db.Close()
			}
			return nil, err
		}
	}

	s := &Server{db: db, store: store, logger: logger}
	s.pool = worker.NewPool(cfg.WorkerCount, logger)

	// Outbound API clients share one executor
	executor := httpclient.NewExecutor(httpclient.Config{
		Timeout:    cfg.HTTPTimeout,
		MaxRetries: cfg.HTTPMaxRetries,
		RetryDelay: cfg.HTTPRetryDelay,
		Backoff:    cfg.HTTPBackoff,
		Redact:     cfg.LogRedact,
	}, &http.Client{}, logger)
	momoClient := momo.NewClient(executor, momo.NewTokenCache(cfg.TokenExpiryMargin), logger)
	zraClient := zra.NewClient(executor, zra.Config{
		BaseURL:    cfg.ZRABaseURL,
		APIKey:     cfg.ZRAAPIKey,
		SellerTPIN: cfg.ZRASellerTPIN,
		BranchID:   cfg.ZRABranchID,
	}, logger)

	dispatcher := notification.NewDispatcher(s.pool, logger, s.notificationChannels(cfg, store)...)

	// Initialize services
	settingsService := settings.NewService(store, logger)
	paymentService := service.NewPaymentService(store, momoClient, settingsService, dispatcher,
		service.PaymentConfig{MaxRetries: cfg.PaymentMaxRetries}, logger)
	reconciliationService := service.NewReconciliationService(store, settingsService, dispatcher, logger)
	invoiceService := service.NewSmartInvoiceService(store, zraClient, settingsService, dispatcher,
		service.SmartInvoiceConfig{
			SellerTPIN:    cfg.ZRASellerTPIN,
			MaxAttempts:   cfg.ZRAMaxAttempts,
			MinRetryDelay: cfg.ZRAMinRetryDelay,
		}, logger)
	s.poller = service.NewStatusPoller(paymentService, s.pool, cfg.StatusPollInterval, cfg.StatusPollMinAge, logger)

	// Initialize handlers
	paymentHandler := handler.NewPaymentHandler(paymentService, s.poller)
	providerHandler := handler.NewProviderHandler(paymentService)
	reconciliationHandler := handler.NewReconciliationHandler(reconciliationService)
	invoiceHandler := handler.NewSmartInvoiceHandler(invoiceService)
	settingsHandler := handler.NewSettingsHandler(settingsService)

	var dbCheck handler.HealthCheck
	if db != nil {
		dbCheck = db.PingContext
	}
	healthHandler := handler.NewHealthHandler(dbCheck, zraClient.Health)

	// Setup router
	router := mux.NewRouter()
	router.Use(correlationMiddleware)
	router.Use(loggingMiddleware(logger))
	router.Use(metricsMiddleware)
	router.Use(recoverMiddleware(logger))

	// Payment routes
	router.HandleFunc("/payments/collections", paymentHandler.Collect).Methods("POST")
	router.HandleFunc("/payments/disbursements", paymentHandler.Disburse).Methods("POST")
	router.HandleFunc("/payments/check-pending", paymentHandler.CheckPending).Methods("POST")
	router.HandleFunc("/payments/{reference}", paymentHandler.Get).Methods("GET")
	router.HandleFunc("/payments/{reference}/check-status", paymentHandler.CheckStatus).Methods("POST")
	router.HandleFunc("/payments/{reference}/retry", paymentHandler.Retry).Methods("POST")

	// Provider routes
	router.HandleFunc("/providers", providerHandler.List).Methods("GET")
	router.HandleFunc("/providers/{code}/authenticate", providerHandler.Authenticate).Methods("POST")
	router.HandleFunc("/webhooks/momo/{code}", providerHandler.Callback).Methods("POST")

	// Reconciliation routes
	router.HandleFunc("/reconciliations", reconciliationHandler.Create).Methods("POST")
	router.HandleFunc("/reconciliations/{id}", reconciliationHandler.Get).Methods("GET")

	// Smart invoice routes
	router.HandleFunc("/smart-invoices", invoiceHandler.Create).Methods("POST")
	router.HandleFunc("/smart-invoices/validate", invoiceHandler.Validate).Methods("POST")
	router.HandleFunc("/smart-invoices/{id}", invoiceHandler.Get).Methods("GET")
	router.HandleFunc("/smart-invoices/{id}/submit", invoiceHandler.Submit).Methods("POST")
	router.HandleFunc("/smart-invoices/{id}/check-status", invoiceHandler.CheckStatus).Methods("POST")
	router.HandleFunc("/smart-invoices/{id}/cancel", invoiceHandler.Cancel).Methods("POST")
	router.HandleFunc("/smart-invoices/{id}/retry", invoiceHandler.Retry).Methods("POST")

	// Settings routes
	router.HandleFunc("/settings/{scope}/{key}", settingsHandler.Get).Methods("GET")
	router.HandleFunc("/settings/{scope}/{key}", settingsHandler.Put).Methods("PUT")
	router.HandleFunc("/settings/{scope}/{key}", settingsHandler.Delete).Methods("DELETE")

	// Health check and metrics
	router.HandleFunc("/health", healthHandler.Health).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	s.router = router
	s.handler = cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Correlation-ID", "X-Signature"},
		ExposedHeaders: []string{"X-Correlation-ID", "Retry-After"},
	})(router)

	return s, nil
}

// notificationChannels always stores notifications in the database. Mail and
// broadcast are added when RabbitMQ or Kafka are configured.
func (s *Server) notificationChannels(cfg *config.Config, store domain.Store) []notification.Channel {
	channels := []notification.Channel{notification.NewDatabaseChannel(store)}

	if cfg.AMQPURL != "" {
		publisher, err := notification.NewAMQPPublisher(cfg.AMQPURL, cfg.MailQueue)
		if err != nil {
			s.logger.Error("Mail channel disabled, cannot reach RabbitMQ", "error", err)
		} else {
			s.closers = append(s.closers, publisher)
			channels = append(channels, notification.NewMailChannel(publisher, s.logger))
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		writer := notification.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		s.closers = append(s.closers, writer)
		channels = append(channels, notification.NewBroadcastChannel(writer))
	}
	return channels
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port string) (string, error) {
	// Create listener first to get actual port
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return "", err
	}

	// Get the actual port being used
	addr := listener.Addr().(*net.TCPAddr)
	s.port = strconv.Itoa(addr.Port)

	// Create HTTP server
	s.server = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server", "port", s.port)

	// Start server in background
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server failed to start", "error", err)
		}
	}()

	pollCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.pollerDone = make(chan struct{})
	go func() {
		defer close(s.pollerDone)
		s.poller.Start(pollCtx)
	}()

	return s.port, nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	if s.cancel != nil {
		s.cancel()
	}

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	// The poller submits to the pool, so it has to be gone before the pool stops
	if s.pollerDone != nil {
		select {
		case <-s.pollerDone:
		case <-ctx.Done():
			s.logger.Warn("Status poller did not stop before the shutdown deadline")
			if err == nil {
				err = ctx.Err()
			}
		}
	}

	// Drain queued notifications before closing their transports
	s.pool.Stop()
	for _, c := range s.closers {
		if cerr := c.Close(); cerr != nil {
			s.logger.Warn("Failed to close notification transport", "error", cerr)
		}
	}

	if s.db != nil {
		s.db.Close()
	}
	return err
}

// GetPort returns the port the server is listening on
func (s *Server) GetPort() string {
	return s.port
}

// GetBaseURL returns the base URL for the server
func (s *Server) GetBaseURL() string {
	return "http://localhost:" + s.port
}

// GetRouter returns the router for testing purposes
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetStore returns the store for testing purposes
func (s *Server) GetStore() domain.Store {
	return s.store
}

// StartServer starts the server with the given configuration
func StartServer(cfg *config.Config) (*Server, string, error) {
	// Initialize logger - use io.Discard for tests to avoid panic
	var logger *slog.Logger
	if cfg.ServerPort == "0" {
		// Test environment - use discard logger
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	} else {
		// Production environment - use stdout
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		return nil, "", err
	}

	// Start the server and get the actual port
	port, err := server.Start(cfg.ServerPort)
	if err != nil {
		return nil, "", err
	}

	return server, port, nil
}
