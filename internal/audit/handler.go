package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/audit"
	"github.com/frahmantamala/affiliate-payouts/internal/transport"
	"github.com/frahmantamala/affiliate-payouts/pkg/logger"
)

type ServiceAPI interface {
	List(f Filter) ([]*audit.Log, int64, error)
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

type ListResponse struct {
	Logs   []*audit.Log `json:"logs"`
	Total  int64        `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// List returns the audit trail, newest first, with optional filters on
// action, status, actor, batch_id, transaction_id and a from/to time window.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := Filter{
		Action: q.Get("action"),
		Status: q.Get("status"),
		Actor:  q.Get("actor"),
	}

	if raw := q.Get("batch_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.WriteError(w, http.StatusBadRequest, "invalid batch_id")
			return
		}
		f.BatchID = &id
	}
	if raw := q.Get("transaction_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.WriteError(w, http.StatusBadRequest, "invalid transaction_id")
			return
		}
		f.TransactionID = &id
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.WriteError(w, http.StatusBadRequest, "from must be RFC3339")
			return
		}
		f.From = &t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.WriteError(w, http.StatusBadRequest, "to must be RFC3339")
			return
		}
		f.To = &t
	}
	if raw := q.Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			f.Limit = v
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			f.Offset = v
		}
	}

	logs, total, err := h.Service.List(f)
	if err != nil {
		h.Logger.Error("List: service error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	h.WriteJSON(w, http.StatusOK, ListResponse{
		Logs:   logs,
		Total:  total,
		Limit:  f.Limit,
		Offset: f.Offset,
	})
}
