package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/frahmantamala/affiliate-payouts/internal"
	auditsvc "github.com/frahmantamala/affiliate-payouts/internal/audit"
	auditpg "github.com/frahmantamala/affiliate-payouts/internal/audit/postgres"
	batchsvc "github.com/frahmantamala/affiliate-payouts/internal/batch"
	batchpg "github.com/frahmantamala/affiliate-payouts/internal/batch/postgres"
	commissionsvc "github.com/frahmantamala/affiliate-payouts/internal/commission"
	commissionpg "github.com/frahmantamala/affiliate-payouts/internal/commission/postgres"
	"github.com/frahmantamala/affiliate-payouts/internal/core/events"
	"github.com/frahmantamala/affiliate-payouts/internal/orchestrator"
	payeepg "github.com/frahmantamala/affiliate-payouts/internal/payee/postgres"
	"github.com/frahmantamala/affiliate-payouts/internal/provider"
	"github.com/frahmantamala/affiliate-payouts/internal/provider/mock"
	"github.com/frahmantamala/affiliate-payouts/internal/provider/rise"
	"github.com/frahmantamala/affiliate-payouts/internal/retry"
	"github.com/frahmantamala/affiliate-payouts/internal/transport/rest"
	"github.com/frahmantamala/affiliate-payouts/internal/transport/swagger"
	webhooksvc "github.com/frahmantamala/affiliate-payouts/internal/webhook"
	webhookpg "github.com/frahmantamala/affiliate-payouts/internal/webhook/postgres"
	"github.com/frahmantamala/affiliate-payouts/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config *internal.Config
	DB     *sqlx.DB
	Router *chi.Mux
	Logger *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("server shutdown error", "error", err)
		}
		if err := deps.DB.Close(); err != nil {
			deps.Logger.Error("database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(os.Getenv("APP_ENV"))
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// gorm shares the pgx connection pool the health check pings
	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize orm: %w", err)
	}

	if err := swagger.ValidateSpec(context.Background(), "./api/openapi.yml"); err != nil {
		return nil, err
	}

	eventBus := events.NewEventBus(lg)
	registerEventLogging(eventBus, lg)

	registry := provider.NewRegistry(
		rise.NewClient(rise.Config{
			BaseURL:        config.Rise.BaseURL,
			APIKey:         config.Rise.APIKey,
			APISecret:      config.Rise.APISecret,
			WebhookSecret:  config.Rise.WebhookSecret,
			RequestTimeout: config.Rise.RequestTimeout,
		}, lg),
		mock.New(),
	)

	commissionRepo := commissionpg.NewCommissionRepository(gormDB)
	batchRepo := batchpg.NewBatchRepository(gormDB)
	payeeRepo := payeepg.NewPayeeRepository(gormDB)
	auditRepo := auditpg.NewAuditRepository(gormDB)
	eventRepo := webhookpg.NewEventRepository(gormDB)

	auditService := auditsvc.NewService(auditRepo, lg)
	commissionService := commissionsvc.NewService(commissionRepo, config.Payout.MinPayoutCents, lg)
	batchService := batchsvc.NewService(
		batchRepo, payeeRepo, commissionService, auditService, registry, eventBus, config.Payout.Currency, lg)
	orchestratorService := orchestrator.NewService(
		batchRepo, commissionService, registry, auditService, eventBus,
		retry.Policy{
			MaxAttempts:  config.Retry.MaxAttempts,
			InitialDelay: config.Retry.InitialDelay,
			Multiplier:   config.Retry.Multiplier,
			MaxDelay:     config.Retry.MaxDelay,
		}, lg)
	webhookService := webhooksvc.NewService(
		eventRepo, batchRepo, commissionService, registry, auditService, eventBus, lg)

	router := chi.NewRouter()
	rest.RegisterAllRoutes(
		router,
		db.DB,
		batchRepo,
		commissionsvc.NewHandler(commissionService),
		batchsvc.NewHandler(batchService, config.Payout.DefaultProvider),
		orchestrator.NewHandler(orchestratorService),
		auditsvc.NewHandler(auditService),
		webhooksvc.NewHandler(webhookService),
		lg,
	)

	return &Dependencies{
		Config: config,
		Logger: lg,
		DB:     db,
		Router: router,
	}, nil
}

// registerEventLogging wires the in-process bus so batch and payment
// outcomes show up in the logs even when nothing else subscribes.
func registerEventLogging(bus *events.EventBus, lg *slog.Logger) {
	logHandler := func(ctx context.Context, event events.Event) error {
		lg.Info("domain event",
			"event_type", event.EventType(),
			"event_id", event.EventID(),
			"payload", event.Payload())
		return nil
	}

	bus.Subscribe(events.EventTypeBatchCompleted, logHandler)
	bus.Subscribe(events.EventTypeBatchFailed, logHandler)
	bus.Subscribe(events.EventTypePaymentFailed, logHandler)
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}
