package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeBatchCreated     = "batch.created"
	EventTypeBatchCompleted   = "batch.completed"
	EventTypeBatchFailed      = "batch.failed"
	EventTypePaymentCompleted = "payment.completed"
	EventTypePaymentFailed    = "payment.failed"
	EventTypeWebhookReceived  = "webhook.received"
)

type BatchCreatedEvent struct {
	BaseEvent
	BatchID      int64  `json:"batch_id"`
	Reference    string `json:"reference"`
	Provider     string `json:"provider"`
	TotalCents   int64  `json:"total_cents"`
	PaymentCount int    `json:"payment_count"`
}

func NewBatchCreatedEvent(batchID int64, reference, provider string, totalCents int64, paymentCount int) *BatchCreatedEvent {
	return &BatchCreatedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeBatchCreated,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"batch_id":      batchID,
				"reference":     reference,
				"provider":      provider,
				"total_cents":   totalCents,
				"payment_count": paymentCount,
			},
		},
		BatchID:      batchID,
		Reference:    reference,
		Provider:     provider,
		TotalCents:   totalCents,
		PaymentCount: paymentCount,
	}
}

type BatchFinishedEvent struct {
	BaseEvent
	BatchID      int64 `json:"batch_id"`
	SuccessCount int   `json:"success_count"`
	FailedCount  int   `json:"failed_count"`
}

func NewBatchFinishedEvent(batchID int64, successCount, failedCount int) *BatchFinishedEvent {
	eventType := EventTypeBatchCompleted
	if failedCount > 0 {
		eventType = EventTypeBatchFailed
	}
	return &BatchFinishedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"batch_id":      batchID,
				"success_count": successCount,
				"failed_count":  failedCount,
			},
		},
		BatchID:      batchID,
		SuccessCount: successCount,
		FailedCount:  failedCount,
	}
}

type PaymentCompletedEvent struct {
	BaseEvent
	TransactionID int64  `json:"transaction_id"`
	BatchID       int64  `json:"batch_id"`
	PayeeID       int64  `json:"payee_id"`
	AmountCents   int64  `json:"amount_cents"`
	ProviderTxID  string `json:"provider_tx_id"`
}

func NewPaymentCompletedEvent(transactionID, batchID, payeeID, amountCents int64, providerTxID string) *PaymentCompletedEvent {
	return &PaymentCompletedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentCompleted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"transaction_id": transactionID,
				"batch_id":       batchID,
				"payee_id":       payeeID,
				"amount_cents":   amountCents,
				"provider_tx_id": providerTxID,
			},
		},
		TransactionID: transactionID,
		BatchID:       batchID,
		PayeeID:       payeeID,
		AmountCents:   amountCents,
		ProviderTxID:  providerTxID,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	TransactionID int64  `json:"transaction_id"`
	BatchID       int64  `json:"batch_id"`
	PayeeID       int64  `json:"payee_id"`
	AmountCents   int64  `json:"amount_cents"`
	FailureReason string `json:"failure_reason"`
	RetryCount    int    `json:"retry_count"`
}

func NewPaymentFailedEvent(transactionID, batchID, payeeID, amountCents int64, failureReason string, retryCount int) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"transaction_id": transactionID,
				"batch_id":       batchID,
				"payee_id":       payeeID,
				"amount_cents":   amountCents,
				"failure_reason": failureReason,
				"retry_count":    retryCount,
			},
		},
		TransactionID: transactionID,
		BatchID:       batchID,
		PayeeID:       payeeID,
		AmountCents:   amountCents,
		FailureReason: failureReason,
		RetryCount:    retryCount,
	}
}

type WebhookReceivedEvent struct {
	BaseEvent
	ProviderEventID string `json:"provider_event_id"`
	WebhookType     string `json:"webhook_type"`
	Provider        string `json:"provider"`
}

func NewWebhookReceivedEvent(providerEventID, webhookType, provider string) *WebhookReceivedEvent {
	return &WebhookReceivedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeWebhookReceived,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"provider_event_id": providerEventID,
				"webhook_type":      webhookType,
				"provider":          provider,
			},
		},
		ProviderEventID: providerEventID,
		WebhookType:     webhookType,
		Provider:        provider,
	}
}
