package commission

import (
	"log/slog"
	"sort"
	"time"

	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/commission"
	"github.com/frahmantamala/affiliate-payouts/internal/money"
)

// Repository defines the data access the aggregator needs. Claim and release
// operations are conditional updates so two concurrent batches can never
// claim the same commission.
type Repository interface {
	GetPayableByPayee(payeeID int64) ([]*commission.Commission, error)
	GetAllPayable() ([]*commission.Commission, error)
	ClaimForTransaction(ids []int64, transactionID int64) (int64, error)
	ReleaseByTransaction(transactionID int64) (int64, error)
	MarkPaidByTransaction(transactionID int64) (int64, error)
}

// Service aggregates approved, unclaimed commissions into payable amounts
// per payee. It never persists aggregates; they are snapshots over the
// commission rows.
type Service struct {
	repo           Repository
	minPayoutCents int64
	logger         *slog.Logger
}

func NewService(repo Repository, minPayoutCents int64, logger *slog.Logger) *Service {
	return &Service{
		repo:           repo,
		minPayoutCents: minPayoutCents,
		logger:         logger,
	}
}

// MinPayoutCents exposes the configured threshold for reporting.
func (s *Service) MinPayoutCents() int64 {
	return s.minPayoutCents
}

// AggregateForPayee sums all approved, unclaimed commissions for one payee.
// A payee with no eligible commissions gets a zeroed aggregate, not an error.
func (s *Service) AggregateForPayee(payeeID int64) (*PayableAggregate, error) {
	rows, err := s.repo.GetPayableByPayee(payeeID)
	if err != nil {
		s.logger.Error("failed to load payable commissions", "error", err, "payee_id", payeeID)
		return nil, err
	}

	agg := s.buildAggregate(payeeID, rows)
	return agg, nil
}

// ListAllPayable aggregates across all payees, drops those below the
// threshold and returns the rest sorted by total amount descending, ties
// broken by payee id so the ordering is deterministic.
func (s *Service) ListAllPayable() ([]*PayableAggregate, error) {
	rows, err := s.repo.GetAllPayable()
	if err != nil {
		s.logger.Error("failed to load payable commissions", "error", err)
		return nil, err
	}

	byPayee := make(map[int64][]*commission.Commission)
	for _, c := range rows {
		byPayee[c.PayeeID] = append(byPayee[c.PayeeID], c)
	}

	aggregates := make([]*PayableAggregate, 0, len(byPayee))
	for payeeID, group := range byPayee {
		agg := s.buildAggregate(payeeID, group)
		if agg.CanPayout {
			aggregates = append(aggregates, agg)
		}
	}

	sort.Slice(aggregates, func(i, j int) bool {
		if aggregates[i].TotalCents != aggregates[j].TotalCents {
			return aggregates[i].TotalCents > aggregates[j].TotalCents
		}
		return aggregates[i].PayeeID < aggregates[j].PayeeID
	})

	return aggregates, nil
}

// MarkClaimed links still-unclaimed approved commissions to a disbursement
// transaction and returns how many were actually claimed. An empty input
// claims nothing.
func (s *Service) MarkClaimed(commissionIDs []int64, transactionID int64) (int64, error) {
	if len(commissionIDs) == 0 {
		return 0, nil
	}

	claimed, err := s.repo.ClaimForTransaction(commissionIDs, transactionID)
	if err != nil {
		s.logger.Error("failed to claim commissions",
			"error", err,
			"transaction_id", transactionID,
			"commission_count", len(commissionIDs))
		return 0, err
	}

	if claimed != int64(len(commissionIDs)) {
		s.logger.Warn("some commissions were already claimed",
			"transaction_id", transactionID,
			"requested", len(commissionIDs),
			"claimed", claimed)
	}

	return claimed, nil
}

// ReleaseClaims returns a transaction's commissions to the unclaimed
// approved pool, used when a transaction permanently fails or its batch is
// deleted.
func (s *Service) ReleaseClaims(transactionID int64) error {
	released, err := s.repo.ReleaseByTransaction(transactionID)
	if err != nil {
		s.logger.Error("failed to release commissions", "error", err, "transaction_id", transactionID)
		return err
	}

	s.logger.Info("released claimed commissions",
		"transaction_id", transactionID,
		"released", released)
	return nil
}

// MarkPaid settles a transaction's commissions once the transaction reaches
// its terminal success state.
func (s *Service) MarkPaid(transactionID int64) error {
	paid, err := s.repo.MarkPaidByTransaction(transactionID)
	if err != nil {
		s.logger.Error("failed to mark commissions paid", "error", err, "transaction_id", transactionID)
		return err
	}

	s.logger.Info("commissions marked paid",
		"transaction_id", transactionID,
		"paid", paid)
	return nil
}

func (s *Service) buildAggregate(payeeID int64, rows []*commission.Commission) *PayableAggregate {
	agg := &PayableAggregate{
		PayeeID:       payeeID,
		CommissionIDs: make([]int64, 0, len(rows)),
	}

	var oldest time.Time
	for _, c := range rows {
		agg.CommissionIDs = append(agg.CommissionIDs, c.ID)
		agg.TotalCents += c.AmountCents
		agg.Count++
		if oldest.IsZero() || c.CreatedAt.Before(oldest) {
			oldest = c.CreatedAt
		}
	}
	if !oldest.IsZero() {
		agg.OldestDate = &oldest
	}
	agg.Total = money.FormatCents(agg.TotalCents)

	if agg.TotalCents >= s.minPayoutCents {
		agg.CanPayout = true
	} else {
		agg.Reason = "total below minimum payout threshold of " + money.FormatCents(s.minPayoutCents)
	}

	return agg
}
