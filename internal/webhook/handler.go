package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	apperrors "github.com/frahmantamala/affiliate-payouts/internal"
	"github.com/frahmantamala/affiliate-payouts/internal/transport"
	"github.com/frahmantamala/affiliate-payouts/pkg/logger"
)

// SignatureHeader carries the provider's HMAC over the raw body.
const SignatureHeader = "X-Webhook-Signature"

const maxBodyBytes = 1 << 20

type ServiceAPI interface {
	Process(ctx context.Context, providerName, signature string, body []byte) (*Result, error)
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

// Receive accepts a provider callback. Replays return 200 like first
// deliveries so providers stop redelivering; bad signatures return 401.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.Logger.Error("Receive: failed to read body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		h.WriteError(w, http.StatusUnauthorized, "missing webhook signature")
		return
	}

	result, err := h.Service.Process(r.Context(), providerName, signature, body)
	if err != nil {
		h.Logger.Error("Receive: service error", "error", err, "provider", providerName)
		h.handleWebhookError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}

// handleWebhookError maps signature rejections to 401 instead of the usual
// validation 400, so providers treat them as auth failures.
func (h *Handler) handleWebhookError(w http.ResponseWriter, err error) {
	if appErr, ok := apperrors.IsAppError(err); ok && appErr.Code == apperrors.ErrCodeWebhookRejected {
		h.WriteError(w, http.StatusUnauthorized, appErr.Message)
		return
	}
	h.HandleServiceError(w, err)
}
