package orchestrator

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	apperrors "github.com/frahmantamala/affiliate-payouts/internal"
	"github.com/frahmantamala/affiliate-payouts/internal/transport"
	"github.com/frahmantamala/affiliate-payouts/pkg/logger"
)

type ServiceAPI interface {
	ExecuteBatch(ctx context.Context, batchID int64) (*ExecutionResult, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

// ExecuteBatch triggers synchronous execution of a batch. Conflicts (another
// batch already processing, or this batch not executable) come back as 409.
func (h *Handler) ExecuteBatch(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.Logger.Error("ExecuteBatch: invalid batch id", "id", idStr)
		h.HandleServiceError(w, apperrors.NewValidationFieldError("id", "batch id must be a positive integer", apperrors.ErrCodeValidationFailed))
		return
	}

	result, err := h.Service.ExecuteBatch(r.Context(), id)
	if err != nil {
		h.Logger.Error("ExecuteBatch: service error", "error", err, "batch_id", id)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}
