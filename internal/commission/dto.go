package commission

import "time"

// PayableAggregate is the derived per-payee payout view. It is computed on
// demand and never stored apart from the commission rows it summarizes.
type PayableAggregate struct {
	PayeeID       int64      `json:"payee_id"`
	CommissionIDs []int64    `json:"commission_ids"`
	TotalCents    int64      `json:"total_cents"`
	Total         string     `json:"total"`
	Count         int        `json:"count"`
	OldestDate    *time.Time `json:"oldest_date,omitempty"`
	CanPayout     bool       `json:"can_payout"`
	Reason        string     `json:"reason,omitempty"`
}

type PayableListResponse struct {
	Payable        []*PayableAggregate `json:"payable"`
	MinPayoutCents int64               `json:"min_payout_cents"`
}
