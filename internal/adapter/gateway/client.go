// Package gateway is the outbound client for the card/transfer payment
// provider: hosted checkout, charge verification and insurer payouts.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"salvage-settlement/internal/core/ports"
	"salvage-settlement/pkg/money"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrNotConfigured is returned when no base URL is set.
var ErrNotConfigured = errors.New("payment gateway base url not configured")

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the provider endpoint and credentials.
type Config struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

// Client implements ports.PaymentGateway over the provider's REST API.
// Amounts cross the wire as major-unit decimals.
type Client struct {
	cfg        Config
	httpClient HTTPClient
	log        zerolog.Logger
}

// NewClient creates a gateway client. A nil httpClient uses an http.Client
// with cfg.Timeout.
func NewClient(cfg Config, httpClient HTTPClient, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, httpClient: httpClient, log: log}
}

// envelope is the provider's response wrapper.
type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type initializeRequest struct {
	Reference   string            `json:"reference"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type initializeData struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
}

type verifyData struct {
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	PaidAt    *time.Time      `json:"paid_at"`
}

type transferRequest struct {
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Recipient string          `json:"recipient"`
	Reason    string          `json:"reason,omitempty"`
}

type transferData struct {
	Reference    string `json:"reference"`
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
}

// InitiateCharge opens a hosted checkout for req.Amount.
func (c *Client) InitiateCharge(ctx context.Context, req ports.ChargeRequest) (*ports.ChargeSession, error) {
	body := initializeRequest{
		Reference:   req.Reference,
		Amount:      money.FromMinor(req.Amount),
		Currency:    req.Currency,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	}
	var out envelope[initializeData]
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", req.Reference, body, &out); err != nil {
		return nil, fmt.Errorf("initiate charge %s: %w", req.Reference, err)
	}

	ref := out.Data.Reference
	if ref == "" {
		ref = req.Reference
	}
	c.log.Info().
		Str("reference", ref).
		Int64("amount", req.Amount).
		Str("vendor_id", req.VendorID.String()).
		Msg("gateway charge initiated")
	return &ports.ChargeSession{
		Reference:        ref,
		AuthorizationURL: out.Data.AuthorizationURL,
		AccessCode:       out.Data.AccessCode,
	}, nil
}

// VerifyCharge asks the provider for the authoritative state of a charge.
func (c *Client) VerifyCharge(ctx context.Context, reference string) (*ports.ChargeVerification, error) {
	var out envelope[verifyData]
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, fmt.Errorf("verify charge %s: %w", reference, err)
	}

	amount, err := money.ToMinor(out.Data.Amount)
	if err != nil {
		return nil, fmt.Errorf("verify charge %s: amount %s: %w", reference, out.Data.Amount, err)
	}
	ref := out.Data.Reference
	if ref == "" {
		ref = reference
	}
	return &ports.ChargeVerification{
		Reference: ref,
		Status:    out.Data.Status,
		Amount:    amount,
		Currency:  out.Data.Currency,
		PaidAt:    out.Data.PaidAt,
	}, nil
}

// InitiateTransfer queues a payout. The reference doubles as the
// idempotency key, so a retried payout is not sent twice.
func (c *Client) InitiateTransfer(ctx context.Context, req ports.TransferRequest) (*ports.TransferReceipt, error) {
	body := transferRequest{
		Reference: req.Reference,
		Amount:    money.FromMinor(req.Amount),
		Currency:  req.Currency,
		Recipient: req.Recipient,
		Reason:    req.Reason,
	}
	var out envelope[transferData]
	if err := c.do(ctx, http.MethodPost, "/transfer", req.Reference, body, &out); err != nil {
		return nil, fmt.Errorf("initiate transfer %s: %w", req.Reference, err)
	}

	c.log.Info().
		Str("reference", req.Reference).
		Str("transfer_code", out.Data.TransferCode).
		Str("status", out.Data.Status).
		Int64("amount", req.Amount).
		Msg("gateway transfer initiated")
	return &ports.TransferReceipt{
		Reference:    req.Reference,
		TransferCode: out.Data.TransferCode,
		Status:       out.Data.Status,
	}, nil
}

// APIError is a non-2xx or status=false response from the provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway responded %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, in, out any) error {
	if c.cfg.BaseURL == "" {
		return ErrNotConfigured
	}

	var reader io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("gateway call")

	var head envelope[json.RawMessage]
	decodeErr := json.Unmarshal(raw, &head)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := head.Message
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if !head.Status {
		return &APIError{StatusCode: resp.StatusCode, Message: head.Message}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
