package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrAuth is returned when credentials are missing or the provider rejects
// them. Callers have no safe fallback for this one.
var ErrAuth = errors.New("momo authentication failed")

// Status is the normalized transaction status space shared by the status
// poller and the webhook receiver.
type Status string

const (
	StatusSuccessful Status = "SUCCESSFUL"
	StatusFailed     Status = "FAILED"
	StatusPending    Status = "PENDING"
)

// NormalizeStatus maps a provider-reported status string onto the normalized
// space. Anything unrecognized is treated as still pending.
func NormalizeStatus(s string) Status {
	switch Status(s) {
	case StatusSuccessful:
		return StatusSuccessful
	case StatusFailed:
		return StatusFailed
	default:
		return StatusPending
	}
}

// CollectionResult is the outcome of a requesttopay call. A provider-side
// business rejection is Accepted=false, not an error.
type CollectionResult struct {
	ReferenceID string
	Accepted    bool
	Reason      string
}

// StatusResult is one polled transaction status. Transport marks results
// where the poll never reached a provider verdict; callers treat those as
// "unknown, try again next cycle" rather than a provider FAILED.
type StatusResult struct {
	Status        Status
	TransactionID string
	Reason        string
	Transport     bool
	Raw           string
}

// Notification is the provider's webhook envelope.
type Notification struct {
	ReferenceID            string `json:"referenceId"`
	ExternalID             string `json:"externalId"`
	Status                 string `json:"status"`
	FinancialTransactionID string `json:"financialTransactionId,omitempty"`
	Reason                 string `json:"reason,omitempty"`
}

type Options struct {
	BaseURL           string
	APIUser           string
	APIKey            string
	SubscriptionKey   string
	TargetEnvironment string
	Currency          string
	WebhookSecret     string
}

// Client wraps the MTN MoMo collection API. One instance is constructed at
// process start and shared; the token cache is safe for concurrent use.
type Client struct {
	opts   Options
	http   *http.Client
	logger *zap.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(opts Options, logger *zap.Logger) *Client {
	return &Client{
		opts:   opts,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Authenticate returns a bearer token, reusing the cached one until five
// minutes before the provider-reported expiry.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	if c.opts.APIUser == "" || c.opts.APIKey == "" {
		return "", fmt.Errorf("%w: missing API credentials", ErrAuth)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/collection/token/", nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.opts.APIUser, c.opts.APIKey)
	req.Header.Set("Ocp-Apim-Subscription-Key", c.opts.SubscriptionKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: status %d: %s", ErrAuth, resp.StatusCode, string(body))
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	c.token = tok.AccessToken
	// Refresh ahead of the provider's TTL so in-flight calls never carry a
	// token that expires mid-request.
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn-300) * time.Second)

	c.logger.Info("MoMo token refreshed",
		zap.Time("expires_at", c.tokenExpiry))

	return c.token, nil
}

type requestToPayBody struct {
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	ExternalID   string `json:"externalId"`
	Payer        payer  `json:"payer"`
	PayerMessage string `json:"payerMessage"`
	PayeeNote    string `json:"payeeNote"`
}

type payer struct {
	PartyIDType string `json:"partyIdType"`
	PartyID     string `json:"partyId"`
}

// RequestToPay submits a collection request pushing an approval prompt to the
// payer's wallet. Provider business rejections come back as Accepted=false;
// only transport and auth problems are errors.
func (c *Client) RequestToPay(ctx context.Context, amount decimal.Decimal, phone, externalID, note string) (CollectionResult, error) {
	msisdn, err := NormalizePhone(phone)
	if err != nil {
		return CollectionResult{}, err
	}

	token, err := c.Authenticate(ctx)
	if err != nil {
		return CollectionResult{}, err
	}

	referenceID := uuid.New().String()
	body, err := json.Marshal(requestToPayBody{
		Amount:       amount.StringFixed(2),
		Currency:     c.opts.Currency,
		ExternalID:   externalID,
		Payer:        payer{PartyIDType: "MSISDN", PartyID: msisdn},
		PayerMessage: note,
		PayeeNote:    note,
	})
	if err != nil {
		return CollectionResult{}, fmt.Errorf("marshal requesttopay body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.opts.BaseURL+"/collection/v1_0/requesttopay", bytes.NewReader(body))
	if err != nil {
		return CollectionResult{}, fmt.Errorf("build requesttopay request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Reference-Id", referenceID)
	req.Header.Set("X-Target-Environment", c.opts.TargetEnvironment)
	req.Header.Set("Ocp-Apim-Subscription-Key", c.opts.SubscriptionKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return CollectionResult{}, fmt.Errorf("requesttopay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		return CollectionResult{ReferenceID: referenceID, Accepted: true}, nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	c.logger.Warn("Collection request rejected",
		zap.String("reference_id", referenceID),
		zap.Int("status", resp.StatusCode))

	return CollectionResult{
		ReferenceID: referenceID,
		Accepted:    false,
		Reason:      fmt.Sprintf("provider rejected with status %d: %s", resp.StatusCode, string(respBody)),
	}, nil
}

type statusResponse struct {
	Status                 string `json:"status"`
	FinancialTransactionID string `json:"financialTransactionId"`
	Reason                 string `json:"reason"`
}

// CheckStatus polls one transaction. Transport and auth failures are folded
// into a Transport-flagged result instead of an error, so the reconciler can
// handle every poll outcome through one path.
func (c *Client) CheckStatus(ctx context.Context, referenceID string) StatusResult {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return StatusResult{Status: StatusFailed, Transport: true, Reason: fmt.Sprintf("status poll auth: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.opts.BaseURL+"/collection/v1_0/requesttopay/"+referenceID, nil)
	if err != nil {
		return StatusResult{Status: StatusFailed, Transport: true, Reason: fmt.Sprintf("build status request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Target-Environment", c.opts.TargetEnvironment)
	req.Header.Set("Ocp-Apim-Subscription-Key", c.opts.SubscriptionKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return StatusResult{Status: StatusFailed, Transport: true, Reason: fmt.Sprintf("status poll: %v", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return StatusResult{Status: StatusFailed, Transport: true, Reason: fmt.Sprintf("read status response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return StatusResult{
			Status:    StatusFailed,
			Transport: true,
			Reason:    fmt.Sprintf("status poll returned %d", resp.StatusCode),
			Raw:       string(raw),
		}
	}

	var st statusResponse
	if err := json.Unmarshal(raw, &st); err != nil {
		return StatusResult{Status: StatusFailed, Transport: true, Reason: fmt.Sprintf("decode status response: %v", err), Raw: string(raw)}
	}

	return StatusResult{
		Status:        NormalizeStatus(st.Status),
		TransactionID: st.FinancialTransactionID,
		Reason:        st.Reason,
		Raw:           string(raw),
	}
}

// ValidateSignature recomputes the HMAC-SHA256 of the raw webhook body and
// compares it with the hex signature header in constant time. A missing
// secret or header validates false, never errors.
func (c *Client) ValidateSignature(raw []byte, signatureHeader string) bool {
	if c.opts.WebhookSecret == "" || signatureHeader == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.opts.WebhookSecret))
	mac.Write(raw)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}
