// Package provider defines the capability surface the orchestrator needs
// from a payment rail. Two implementations exist: the Rise HTTP client and a
// deterministic in-memory mock used for integration testing.
package provider

import (
	"context"
	"fmt"
	"time"
)

const (
	NameRise = "rise"
	NameMock = "mock"
)

// Result statuses reported per batch item.
const (
	ResultStatusCompleted = "completed"
	ResultStatusFailed    = "failed"
	ResultStatusPending   = "pending"
)

// BatchPaymentItem is one payee's leg of a batch submission. Amount is in
// the provider's integer minor units.
type BatchPaymentItem struct {
	TransactionRef    string `json:"transaction_ref"`
	ProviderAccountID string `json:"provider_account_id"`
	AmountMinor       int64  `json:"amount_minor"`
	Currency          string `json:"currency"`
}

// PaymentResult is the provider's per-item outcome for a batch submission.
type PaymentResult struct {
	TransactionRef string `json:"transaction_ref"`
	ProviderTxID   string `json:"provider_tx_id"`
	Status         string `json:"status"`
	FailureReason  string `json:"failure_reason,omitempty"`
}

func (r PaymentResult) Succeeded() bool {
	return r.Status == ResultStatusCompleted
}

// PaymentStatus is the provider's view of a previously submitted payment.
type PaymentStatus struct {
	ProviderTxID string     `json:"provider_tx_id"`
	Status       string     `json:"status"`
	SettledAt    *time.Time `json:"settled_at,omitempty"`
}

// PayeeInfo describes a payee account on the provider side.
type PayeeInfo struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Active    bool   `json:"active"`
}

// Provider is the payment-rail capability set. Implementations must be safe
// for concurrent use: the orchestrator retries failed transactions from
// separate goroutines.
type Provider interface {
	Name() string
	Authenticate(ctx context.Context) error
	SendBatchPayment(ctx context.Context, items []BatchPaymentItem) ([]PaymentResult, error)
	GetPaymentStatus(ctx context.Context, providerTxID string) (*PaymentStatus, error)
	GetPayeeInfo(ctx context.Context, payeeID string) (*PayeeInfo, error)
	VerifyWebhook(signature string, payload []byte) bool
}

// Registry resolves the provider recorded on a batch at creation time. The
// provider choice is stored immutably on the batch row, never re-decided at
// execution time.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown payment provider %q", name)
	}
	return p, nil
}

func (r *Registry) Has(name string) bool {
	_, ok := r.providers[name]
	return ok
}
