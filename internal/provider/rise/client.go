// Package rise implements the provider interface against the Rise payments
// API: JWT bearer auth, batch payment submission, status polling and
// HMAC-signed webhooks.
package rise

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/frahmantamala/affiliate-payouts/internal/provider"
)

const tokenLifetime = 10 * time.Minute

type Config struct {
	BaseURL        string
	APIKey         string
	APISecret      string
	WebhookSecret  string
	RequestTimeout time.Duration
}

type Client struct {
	baseURL        string
	apiKey         string
	apiSecret      string
	webhookSecret  string
	requestTimeout time.Duration
	httpClient     *http.Client
	logger         *slog.Logger

	mu          sync.Mutex
	bearerToken string
	tokenExpiry time.Time
}

func NewClient(config Config, logger *slog.Logger) *Client {
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:        config.BaseURL,
		apiKey:         config.APIKey,
		apiSecret:      config.APISecret,
		webhookSecret:  config.WebhookSecret,
		requestTimeout: timeout,
		httpClient:     &http.Client{Timeout: timeout},
		logger:         logger,
	}
}

func (c *Client) Name() string {
	return provider.NameRise
}

// Authenticate mints a short-lived HS256 bearer token from the API key pair
// and verifies it against the token endpoint. The token is cached until
// shortly before expiry.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	if c.bearerToken != "" && time.Now().Before(c.tokenExpiry.Add(-time.Minute)) {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": c.apiKey,
		"iat": now.Unix(),
		"exp": now.Add(tokenLifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.apiSecret))
	if err != nil {
		return fmt.Errorf("failed to sign auth token: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/auth/verify", nil)
	if err != nil {
		return fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+signed)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("rise auth returned status %d: %s", resp.StatusCode, string(body))
	}

	c.mu.Lock()
	c.bearerToken = signed
	c.tokenExpiry = now.Add(tokenLifetime)
	c.mu.Unlock()

	c.logger.Info("rise: authenticated", "expires_at", c.tokenExpiry)
	return nil
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bearerToken
}

type batchPaymentRequest struct {
	Payments []provider.BatchPaymentItem `json:"payments"`
}

type batchPaymentResponse struct {
	Data struct {
		Results []provider.PaymentResult `json:"results"`
	} `json:"data"`
}

// SendBatchPayment submits all items as one provider batch call and returns
// one result per item.
func (c *Client) SendBatchPayment(ctx context.Context, items []provider.BatchPaymentItem) ([]provider.PaymentResult, error) {
	payload, err := json.Marshal(batchPaymentRequest{Payments: items})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch payment request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/payments/batch", bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create batch payment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token())

	c.logger.Info("rise: submitting batch payment", "items", len(items))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("batch payment request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch payment response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.logger.Error("rise: batch payment rejected",
			"status", resp.StatusCode,
			"response", string(body))
		return nil, fmt.Errorf("rise batch payment returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed batchPaymentResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode batch payment response: %w", err)
	}

	return parsed.Data.Results, nil
}

func (c *Client) GetPaymentStatus(ctx context.Context, providerTxID string) (*provider.PaymentStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/v2/payments/%s", c.baseURL, providerTxID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rise payment status returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Data provider.PaymentStatus `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}

	return &parsed.Data, nil
}

func (c *Client) GetPayeeInfo(ctx context.Context, payeeID string) (*provider.PayeeInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/v2/payees/%s", c.baseURL, payeeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create payee request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payee request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("payee %s not found on provider", payeeID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rise payee info returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Data provider.PayeeInfo `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode payee response: %w", err)
	}

	return &parsed.Data, nil
}

// VerifyWebhook checks the hex-encoded HMAC-SHA256 signature Rise sends in
// the X-Rise-Signature header against the shared webhook secret.
func (c *Client) VerifyWebhook(signature string, payload []byte) bool {
	if signature == "" || c.webhookSecret == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
