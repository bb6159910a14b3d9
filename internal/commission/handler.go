package commission

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/frahmantamala/affiliate-payouts/internal/transport"
	"github.com/frahmantamala/affiliate-payouts/pkg/logger"
)

type ServiceAPI interface {
	AggregateForPayee(payeeID int64) (*PayableAggregate, error)
	ListAllPayable() ([]*PayableAggregate, error)
	MinPayoutCents() int64
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

// ListPayable returns every payee whose unclaimed approved commissions meet
// the payout threshold. A payee_id query narrows it to one payee, including
// below-threshold totals so operators can see why nothing is due.
func (h *Handler) ListPayable(w http.ResponseWriter, r *http.Request) {
	if payeeIDStr := r.URL.Query().Get("payee_id"); payeeIDStr != "" {
		payeeID, err := strconv.ParseInt(payeeIDStr, 10, 64)
		if err != nil {
			h.Logger.Error("ListPayable: invalid payee ID", "payee_id", payeeIDStr)
			h.WriteError(w, http.StatusBadRequest, "invalid payee_id")
			return
		}

		agg, err := h.Service.AggregateForPayee(payeeID)
		if err != nil {
			h.Logger.Error("ListPayable: service error", "error", err, "payee_id", payeeID)
			h.HandleServiceError(w, err)
			return
		}

		h.WriteJSON(w, http.StatusOK, agg)
		return
	}

	aggregates, err := h.Service.ListAllPayable()
	if err != nil {
		h.Logger.Error("ListPayable: service error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, PayableListResponse{
		Payable:        aggregates,
		MinPayoutCents: h.Service.MinPayoutCents(),
	})
}
