package batch

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	apperrors "github.com/frahmantamala/affiliate-payouts/internal"
	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/batch"
	"github.com/frahmantamala/affiliate-payouts/internal/transport"
	"github.com/frahmantamala/affiliate-payouts/pkg/logger"
)

type ServiceAPI interface {
	CreateBatch(ctx context.Context, providerName string, payeeFilter []int64) (*batch.PaymentBatch, error)
	GetBatch(id int64) (*batch.PaymentBatch, error)
	ListBatches(limit, offset int) ([]*batch.PaymentBatch, error)
	DeleteBatch(ctx context.Context, id int64) error
	CancelBatch(ctx context.Context, id int64) error
}

type Handler struct {
	*transport.BaseHandler
	Service         ServiceAPI
	defaultProvider string
}

func NewHandler(service ServiceAPI, defaultProvider string) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler:     transport.NewBaseHandler(lg),
		Service:         service,
		defaultProvider: defaultProvider,
	}
}

func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.Logger.Error("CreateBatch: invalid request body", "error", err)
			h.WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	providerName := req.Provider
	if providerName == "" {
		providerName = h.defaultProvider
	}

	b, err := h.Service.CreateBatch(r.Context(), providerName, req.PayeeIDs)
	if err != nil {
		h.Logger.Error("CreateBatch: service error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, NewBatchResponse(b))
}

func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.batchID(w, r)
	if !ok {
		return
	}

	b, err := h.Service.GetBatch(id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, NewBatchResponse(b))
}

func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	batches, err := h.Service.ListBatches(limit, offset)
	if err != nil {
		h.Logger.Error("ListBatches: service error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	resp := BatchListResponse{
		Batches: make([]*BatchResponse, 0, len(batches)),
		Limit:   limit,
		Offset:  offset,
	}
	for _, b := range batches {
		resp.Batches = append(resp.Batches, NewBatchResponse(b))
	}

	h.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.batchID(w, r)
	if !ok {
		return
	}

	if err := h.Service.DeleteBatch(r.Context(), id); err != nil {
		h.Logger.Error("DeleteBatch: service error", "error", err, "batch_id", id)
		h.HandleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.batchID(w, r)
	if !ok {
		return
	}

	if err := h.Service.CancelBatch(r.Context(), id); err != nil {
		h.Logger.Error("CancelBatch: service error", "error", err, "batch_id", id)
		h.HandleServiceError(w, err)
		return
	}

	b, err := h.Service.GetBatch(id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, NewBatchResponse(b))
}

func (h *Handler) batchID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.Logger.Error("invalid batch id", "id", idStr)
		h.HandleServiceError(w, apperrors.NewValidationFieldError("id", "batch id must be a positive integer", apperrors.ErrCodeValidationFailed))
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
