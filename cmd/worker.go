package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	auditsvc "github.com/frahmantamala/affiliate-payouts/internal/audit"
	auditpg "github.com/frahmantamala/affiliate-payouts/internal/audit/postgres"
	batchpg "github.com/frahmantamala/affiliate-payouts/internal/batch/postgres"
	commissionsvc "github.com/frahmantamala/affiliate-payouts/internal/commission"
	commissionpg "github.com/frahmantamala/affiliate-payouts/internal/commission/postgres"
	"github.com/frahmantamala/affiliate-payouts/internal/core/events"
	"github.com/frahmantamala/affiliate-payouts/internal/orchestrator"
	"github.com/frahmantamala/affiliate-payouts/internal/provider"
	"github.com/frahmantamala/affiliate-payouts/internal/provider/mock"
	"github.com/frahmantamala/affiliate-payouts/internal/provider/rise"
	"github.com/frahmantamala/affiliate-payouts/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start and manage background workers for the disbursement pipeline.`,
}

// Reconcile worker command
var reconcileWorkerCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Start the payment reconcile worker",
	Long:  `Poll the payment provider for transactions stuck in processing and settle them.`,
	Run: func(cmd *cobra.Command, args []string) {
		startReconcileWorker()
	},
}

var (
	reconcileInterval   time.Duration
	reconcileStaleAfter time.Duration
)

func startReconcileWorker() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(os.Getenv("APP_ENV"))
	lg := logger.LoggerWrapper()

	db, err := gorm.Open(gormpostgres.Open(config.Database.Source), &gorm.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect database: %v\n", err)
		os.Exit(1)
	}

	eventBus := events.NewEventBus(lg)

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

	batchRepo := batchpg.NewBatchRepository(db)
	commissionService := commissionsvc.NewService(
		commissionpg.NewCommissionRepository(db), config.Payout.MinPayoutCents, lg)
	auditService := auditsvc.NewService(auditpg.NewAuditRepository(db), lg)

	reconciler := orchestrator.NewReconciler(
		batchRepo, commissionService, registry, auditService, eventBus, reconcileStaleAfter, lg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go reconciler.Run(ctx, reconcileInterval)

	lg.Info("reconcile worker is running. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	lg.Info("received signal, shutting down reconcile worker", "signal", sig)
	cancel()
}

func init() {
	reconcileWorkerCmd.Flags().DurationVar(&reconcileInterval, "interval", time.Minute, "How often to poll for stale transactions")
	reconcileWorkerCmd.Flags().DurationVar(&reconcileStaleAfter, "stale-after", 10*time.Minute, "How long a transaction may sit in processing before it is polled")

	workerCmd.AddCommand(reconcileWorkerCmd)
}
