package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/affiliate-payouts/internal/audit"
	"github.com/frahmantamala/affiliate-payouts/internal/batch"
	"github.com/frahmantamala/affiliate-payouts/internal/commission"
	"github.com/frahmantamala/affiliate-payouts/internal/orchestrator"
	"github.com/frahmantamala/affiliate-payouts/internal/transport/middleware"
	"github.com/frahmantamala/affiliate-payouts/internal/transport/swagger"
	"github.com/frahmantamala/affiliate-payouts/internal/webhook"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
)

func RegisterAllRoutes(
	router *chi.Mux,
	db *sql.DB,
	stats DisbursementStats,
	commissionHandler *commission.Handler,
	batchHandler *batch.Handler,
	executeHandler *orchestrator.Handler,
	auditHandler *audit.Handler,
	webhookHandler *webhook.Handler,
	logger *slog.Logger,
) {
	healthHandler := NewHealthHandler(db, stats)

	// Apply global middleware
	router.Use(middleware.CORS)
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	// Mount API under /api/v1 to match OpenAPI basePath
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if webhookHandler != nil {
			r.Post("/webhooks/{provider}", webhookHandler.Receive)
		}

		if commissionHandler != nil {
			r.Get("/payable", commissionHandler.ListPayable)
		}

		if batchHandler != nil {
			r.Route("/batches", func(br chi.Router) {
				br.Post("/", batchHandler.CreateBatch)    // POST /batches
				br.Get("/", batchHandler.ListBatches)     // GET /batches
				br.Get("/{id}", batchHandler.GetBatch)    // GET /batches/:id
				br.Delete("/{id}", batchHandler.DeleteBatch)
				br.Post("/{id}/cancel", batchHandler.CancelBatch)

				if executeHandler != nil {
					br.Post("/{id}/execute", executeHandler.ExecuteBatch)
				}
			})
		}

		if auditHandler != nil {
			r.Get("/audit-logs", auditHandler.List)
		}
	})
}
