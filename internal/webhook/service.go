// Package webhook ingests provider callbacks: verifies signatures, dedupes
// replays by provider event id and settles the transactions the events
// reference.
package webhook

import (
	"context"
	"encoding/json"
	"log/slog"

	apperrors "github.com/frahmantamala/affiliate-payouts/internal"
	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/audit"
	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/batch"
	"github.com/frahmantamala/affiliate-payouts/internal/core/datamodel/webhookevent"
	"github.com/frahmantamala/affiliate-payouts/internal/core/events"
	"github.com/frahmantamala/affiliate-payouts/internal/provider"
)

// Provider-side event types the system acts on or records.
const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
	EventPaymentInitiated = "payment.initiated"
	EventInviteAccepted   = "invite.accepted"
	EventFundReceived     = "fund.received"
	EventDuplicateAccount = "account.duplication_detected"
)

type EventRepository interface {
	// Insert stores the event; it reports created=false when the provider
	// event id already exists.
	Insert(e *webhookevent.Event) (created bool, err error)
	MarkProcessed(id int64) error
}

type TransactionRepository interface {
	GetTransactionByRef(ref string) (*batch.DisbursementTransaction, error)
	GetTransactionByProviderTxID(providerTxID string) (*batch.DisbursementTransaction, error)
	UpdateTransactionStatus(id int64, status string, providerTxID, errorMessage *string) error
}

type CommissionSettler interface {
	MarkPaid(transactionID int64) error
	ReleaseClaims(transactionID int64) error
}

type AuditRecorder interface {
	Record(ctx context.Context, action, status string, details interface{}, batchID, transactionID *int64) error
}

type ProviderRegistry interface {
	Get(name string) (provider.Provider, error)
}

// Payload is the envelope providers POST to the callback endpoint.
type Payload struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Data      struct {
		PaymentID      string `json:"payment_id"`
		TransactionRef string `json:"transaction_ref"`
		Status         string `json:"status"`
		FailureReason  string `json:"failure_reason"`
	} `json:"data"`
}

type Result struct {
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
	Handled   bool   `json:"handled"`
}

type Service struct {
	eventsRepo   EventRepository
	transactions TransactionRepository
	commissions  CommissionSettler
	providers    ProviderRegistry
	auditor      AuditRecorder
	eventBus     *events.EventBus
	logger       *slog.Logger
}

func NewService(
	eventsRepo EventRepository,
	transactions TransactionRepository,
	commissions CommissionSettler,
	providers ProviderRegistry,
	auditor AuditRecorder,
	eventBus *events.EventBus,
	logger *slog.Logger,
) *Service {
	return &Service{
		eventsRepo:   eventsRepo,
		transactions: transactions,
		commissions:  commissions,
		providers:    providers,
		auditor:      auditor,
		eventBus:     eventBus,
		logger:       logger,
	}
}

// Process verifies and applies one inbound webhook. Replays of an already
// seen event id succeed without side effects so providers can redeliver
// freely.
func (s *Service) Process(ctx context.Context, providerName, signature string, body []byte) (*Result, error) {
	p, err := s.providers.Get(providerName)
	if err != nil {
		return nil, apperrors.NewValidationError("unknown webhook provider "+providerName, apperrors.ErrCodeInvalidProvider)
	}

	if !p.VerifyWebhook(signature, body) {
		s.logger.Warn("webhook signature rejected", "provider", providerName)
		_ = s.auditor.Record(ctx, "webhook.reject", audit.StatusFailure, map[string]interface{}{
			"provider": providerName,
			"reason":   "invalid signature",
		}, nil, nil)
		return nil, apperrors.NewValidationError("invalid webhook signature", apperrors.ErrCodeWebhookRejected)
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.NewValidationError("malformed webhook payload", apperrors.ErrCodeWebhookRejected)
	}
	if payload.EventID == "" || payload.EventType == "" {
		return nil, apperrors.NewValidationError("webhook payload missing event_id or event_type", apperrors.ErrCodeWebhookRejected)
	}

	entry := &webhookevent.Event{
		EventID:   payload.EventID,
		EventType: payload.EventType,
		Provider:  providerName,
		Payload:   json.RawMessage(body),
	}
	created, err := s.eventsRepo.Insert(entry)
	if err != nil {
		s.logger.Error("failed to store webhook event", "error", err, "event_id", payload.EventID)
		return nil, apperrors.NewInternalError("failed to store webhook event", err)
	}
	if !created {
		s.logger.Info("webhook replay ignored", "event_id", payload.EventID, "event_type", payload.EventType)
		return &Result{EventID: payload.EventID, Duplicate: true}, nil
	}

	s.eventBus.Publish(ctx, events.NewWebhookReceivedEvent(payload.EventID, payload.EventType, providerName))

	handled := s.apply(ctx, providerName, &payload)

	if err := s.eventsRepo.MarkProcessed(entry.ID); err != nil {
		s.logger.Error("failed to mark webhook processed", "error", err, "event_id", payload.EventID)
	}

	return &Result{EventID: payload.EventID, Handled: handled}, nil
}

// apply routes the event to its effect. Unrecognized and informational
// events are stored but change nothing.
func (s *Service) apply(ctx context.Context, providerName string, payload *Payload) bool {
	switch payload.EventType {
	case EventPaymentCompleted:
		return s.settlePayment(ctx, payload, true)
	case EventPaymentFailed:
		return s.settlePayment(ctx, payload, false)
	case EventPaymentInitiated, EventInviteAccepted, EventFundReceived, EventDuplicateAccount:
		s.logger.Info("informational webhook recorded",
			"provider", providerName,
			"event_id", payload.EventID,
			"event_type", payload.EventType)
		return false
	default:
		s.logger.Warn("unrecognized webhook event type",
			"provider", providerName,
			"event_id", payload.EventID,
			"event_type", payload.EventType)
		return false
	}
}

func (s *Service) settlePayment(ctx context.Context, payload *Payload, succeeded bool) bool {
	tx := s.lookupTransaction(payload)
	if tx == nil {
		s.logger.Warn("webhook references unknown transaction",
			"event_id", payload.EventID,
			"payment_id", payload.Data.PaymentID,
			"transaction_ref", payload.Data.TransactionRef)
		return false
	}

	// terminal transactions never move again, even if the provider
	// re-reports them under a new event id
	if tx.Terminal() {
		s.logger.Info("webhook for terminal transaction ignored",
			"event_id", payload.EventID,
			"transaction_id", tx.ID,
			"status", tx.Status)
		return false
	}

	if succeeded {
		var ptx *string
		if payload.Data.PaymentID != "" {
			ptx = &payload.Data.PaymentID
		}
		if err := s.transactions.UpdateTransactionStatus(tx.ID, batch.StatusCompleted, ptx, nil); err != nil {
			s.logger.Error("failed to complete transaction from webhook", "error", err, "transaction_id", tx.ID)
			return false
		}
		if err := s.commissions.MarkPaid(tx.ID); err != nil {
			s.logger.Error("failed to settle commissions from webhook", "error", err, "transaction_id", tx.ID)
		}

		_ = s.auditor.Record(ctx, "webhook.payment_completed", audit.StatusSuccess, map[string]interface{}{
			"event_id":       payload.EventID,
			"provider_tx_id": payload.Data.PaymentID,
		}, &tx.BatchID, &tx.ID)

		s.eventBus.Publish(ctx, events.NewPaymentCompletedEvent(tx.ID, tx.BatchID, tx.PayeeID, tx.AmountCents, payload.Data.PaymentID))
		return true
	}

	reason := payload.Data.FailureReason
	if reason == "" {
		reason = "payment failed at provider"
	}
	if err := s.transactions.UpdateTransactionStatus(tx.ID, batch.StatusFailed, nil, &reason); err != nil {
		s.logger.Error("failed to fail transaction from webhook", "error", err, "transaction_id", tx.ID)
		return false
	}
	if err := s.commissions.ReleaseClaims(tx.ID); err != nil {
		s.logger.Error("failed to release commissions from webhook", "error", err, "transaction_id", tx.ID)
	}

	_ = s.auditor.Record(ctx, "webhook.payment_failed", audit.StatusFailure, map[string]interface{}{
		"event_id": payload.EventID,
		"reason":   reason,
	}, &tx.BatchID, &tx.ID)

	s.eventBus.Publish(ctx, events.NewPaymentFailedEvent(tx.ID, tx.BatchID, tx.PayeeID, tx.AmountCents, reason, tx.RetryCount))
	return true
}

func (s *Service) lookupTransaction(payload *Payload) *batch.DisbursementTransaction {
	if payload.Data.PaymentID != "" {
		if tx, err := s.transactions.GetTransactionByProviderTxID(payload.Data.PaymentID); err == nil {
			return tx
		}
	}
	if payload.Data.TransactionRef != "" {
		if tx, err := s.transactions.GetTransactionByRef(payload.Data.TransactionRef); err == nil {
			return tx
		}
	}
	return nil
}
