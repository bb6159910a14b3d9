// Package audit persists the append-only trail of disbursement activity.
// Entries are never updated or deleted by application code.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	internal "github.com/frahmantamala/affiliate-payouts/internal"
	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/audit"
)

type Repository interface {
	Create(l *audit.Log) error
	List(f Filter) ([]*audit.Log, int64, error)
}

// Filter narrows an audit listing. Zero values mean no constraint.
type Filter struct {
	Action        string
	Status        string
	Actor         string
	BatchID       *int64
	TransactionID *int64
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// Record writes one audit entry. A failure to record is logged but never
// propagated as a hard error to disbursement flows; the caller decides
// whether to ignore the returned error.
func (s *Service) Record(ctx context.Context, action, status string, details interface{}, batchID, transactionID *int64) error {
	var payload json.RawMessage
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			s.logger.Error("failed to marshal audit details", "error", err, "action", action)
			raw = []byte(`{"marshal_error":true}`)
		}
		payload = raw
	}

	entry := &audit.Log{
		Action:        action,
		Status:        status,
		Actor:         internal.ActorFromContext(ctx),
		Details:       payload,
		BatchID:       batchID,
		TransactionID: transactionID,
	}

	if err := s.repo.Create(entry); err != nil {
		s.logger.Error("failed to write audit log", "error", err, "action", action, "status", status)
		return err
	}
	return nil
}

func (s *Service) List(f Filter) ([]*audit.Log, int64, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	logs, total, err := s.repo.List(f)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		return nil, 0, err
	}
	return logs, total, nil
}
