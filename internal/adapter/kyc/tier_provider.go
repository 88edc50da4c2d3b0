// Package kyc resolves vendor bid limits from the KYC service.
package kyc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"salvage-settlement/internal/core/ports"
	"salvage-settlement/pkg/money"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the KYC endpoint. An empty BaseURL serves DefaultLimit to every vendor.
type Config struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	DefaultLimit int64 // minor units
	CacheTTL     time.Duration
}

// TierProvider implements ports.TierProvider.
type TierProvider struct {
	cfg        Config
	httpClient HTTPClient
	cache      ports.ReadCache
	log        zerolog.Logger
}

// NewTierProvider creates a provider. httpClient and cache may be nil.
func NewTierProvider(cfg Config, httpClient HTTPClient, cache ports.ReadCache, log zerolog.Logger) *TierProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &TierProvider{cfg: cfg, httpClient: httpClient, cache: cache, log: log}
}

type tierResponse struct {
	VendorID string          `json:"vendor_id"`
	Tier     string          `json:"tier"`
	BidLimit decimal.Decimal `json:"bid_limit"`
}

func cacheKey(vendorID uuid.UUID) string {
	return "kyc:tier:" + vendorID.String()
}

// GetVendorTierLimit returns the vendor's maximum bid in minor units.
// Vendors unknown to the KYC service get the default limit. Transport and
// server errors are returned so the bid fails closed.
func (p *TierProvider) GetVendorTierLimit(ctx context.Context, vendorID uuid.UUID) (int64, error) {
	if p.cfg.BaseURL == "" {
		return p.cfg.DefaultLimit, nil
	}
	if limit, ok := p.cached(ctx, vendorID); ok {
		return limit, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/vendors/"+vendorID.String()+"/tier", nil)
	if err != nil {
		return 0, fmt.Errorf("create kyc request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", p.cfg.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("kyc tier lookup: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		p.log.Warn().Str("vendor_id", vendorID.String()).Msg("kyc: vendor unknown, using default tier limit")
		return p.cfg.DefaultLimit, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return 0, fmt.Errorf("kyc tier lookup: status %d", resp.StatusCode)
	}

	var out tierResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode kyc response: %w", err)
	}
	limit, err := money.ToMinor(out.BidLimit)
	if err != nil {
		return 0, fmt.Errorf("kyc bid limit %s: %w", out.BidLimit, err)
	}

	p.store(ctx, vendorID, limit)
	p.log.Debug().Str("vendor_id", vendorID.String()).Str("tier", out.Tier).Int64("limit", limit).Msg("kyc: tier resolved")
	return limit, nil
}

func (p *TierProvider) cached(ctx context.Context, vendorID uuid.UUID) (int64, bool) {
	if p.cache == nil || p.cfg.CacheTTL <= 0 {
		return 0, false
	}
	raw, err := p.cache.Get(ctx, cacheKey(vendorID))
	if err != nil || raw == nil {
		return 0, false
	}
	limit, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return limit, true
}

func (p *TierProvider) store(ctx context.Context, vendorID uuid.UUID, limit int64) {
	if p.cache == nil || p.cfg.CacheTTL <= 0 {
		return
	}
	if err := p.cache.Set(ctx, cacheKey(vendorID), []byte(strconv.FormatInt(limit, 10)), p.cfg.CacheTTL); err != nil {
		p.log.Warn().Err(err).Msg("kyc: cache write failed")
	}
}
