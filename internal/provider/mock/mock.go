// Package mock is a deterministic in-memory provider used to integration
// test the disbursement pipeline without network dependencies. It always
// succeeds unless configured otherwise.
package mock

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/affiliate-payouts/internal/provider"
)

const webhookSecret = "mock-webhook-secret"

type Provider struct {
	mu sync.Mutex

	// failAccounts maps provider account ids to a failure reason; items for
	// those accounts fail on every submission until the entry is removed.
	failAccounts map[string]string
	// failAuth makes Authenticate fail, simulating a dead rail.
	failAuth bool
	// failSubmit makes SendBatchPayment return an error outright.
	failSubmit bool

	authCalls   int
	submissions [][]provider.BatchPaymentItem
	statuses    map[string]provider.PaymentStatus
	payees      map[string]provider.PayeeInfo
}

func New() *Provider {
	return &Provider{
		failAccounts: make(map[string]string),
		statuses:     make(map[string]provider.PaymentStatus),
		payees:       make(map[string]provider.PayeeInfo),
	}
}

func (p *Provider) Name() string {
	return provider.NameMock
}

// FailAccount configures every payment to the given provider account to fail
// with the given reason.
func (p *Provider) FailAccount(accountID, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failAccounts[accountID] = reason
}

// SucceedAccount removes a configured failure, so the next attempt succeeds.
func (p *Provider) SucceedAccount(accountID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failAccounts, accountID)
}

func (p *Provider) SetAuthFailure(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failAuth = fail
}

func (p *Provider) SetSubmitFailure(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failSubmit = fail
}

func (p *Provider) RegisterPayee(info provider.PayeeInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payees[info.AccountID] = info
}

// AuthCalls reports how many times Authenticate ran.
func (p *Provider) AuthCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authCalls
}

// Submissions returns every batch the provider received, in order.
func (p *Provider) Submissions() [][]provider.BatchPaymentItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]provider.BatchPaymentItem, len(p.submissions))
	copy(out, p.submissions)
	return out
}

// SubmittedItemCount counts individual items across all submissions, which
// is what retry-ceiling assertions care about.
func (p *Provider) SubmittedItemCount(accountID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, batch := range p.submissions {
		for _, item := range batch {
			if item.ProviderAccountID == accountID {
				count++
			}
		}
	}
	return count
}

func (p *Provider) Authenticate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authCalls++
	if p.failAuth {
		return fmt.Errorf("mock provider: authentication rejected")
	}
	return nil
}

func (p *Provider) SendBatchPayment(ctx context.Context, items []provider.BatchPaymentItem) ([]provider.PaymentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failSubmit {
		return nil, fmt.Errorf("mock provider: unavailable")
	}

	recorded := make([]provider.BatchPaymentItem, len(items))
	copy(recorded, items)
	p.submissions = append(p.submissions, recorded)

	results := make([]provider.PaymentResult, 0, len(items))
	for _, item := range items {
		if reason, fail := p.failAccounts[item.ProviderAccountID]; fail {
			results = append(results, provider.PaymentResult{
				TransactionRef: item.TransactionRef,
				Status:         provider.ResultStatusFailed,
				FailureReason:  reason,
			})
			continue
		}

		providerTxID := "mock_" + uuid.New().String()
		now := time.Now()
		p.statuses[providerTxID] = provider.PaymentStatus{
			ProviderTxID: providerTxID,
			Status:       provider.ResultStatusCompleted,
			SettledAt:    &now,
		}
		results = append(results, provider.PaymentResult{
			TransactionRef: item.TransactionRef,
			ProviderTxID:   providerTxID,
			Status:         provider.ResultStatusCompleted,
		})
	}

	return results, nil
}

func (p *Provider) GetPaymentStatus(ctx context.Context, providerTxID string) (*provider.PaymentStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	status, ok := p.statuses[providerTxID]
	if !ok {
		return nil, fmt.Errorf("mock provider: unknown payment %s", providerTxID)
	}
	return &status, nil
}

func (p *Provider) GetPayeeInfo(ctx context.Context, payeeID string) (*provider.PayeeInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.payees[payeeID]
	if !ok {
		return nil, fmt.Errorf("mock provider: unknown payee %s", payeeID)
	}
	return &info, nil
}

// VerifyWebhook uses the same HMAC scheme as the live client with a fixed
// secret, so webhook tests can produce valid signatures deterministically.
func (p *Provider) VerifyWebhook(signature string, payload []byte) bool {
	return subtle.ConstantTimeCompare([]byte(Sign(payload)), []byte(signature)) == 1
}

// Sign computes the signature the mock provider expects for a payload.
func Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
