package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kitefin/arbot/internal/domain"
)

// SecurityVerdict summarizes a token-security API response.
type SecurityVerdict struct {
	Scam      bool
	Honeypot  bool
	BuyTax    float64
	SellTax   float64
	OpenSource bool
	CheckedAt time.Time
}

// maxAcceptableTaxPct is the buy/sell tax above which a token is treated as
// a scam regardless of other flags.
const maxAcceptableTaxPct = 10.0

// SecurityClient queries a GoPlus-style token-security API and caches
// verdicts in memory. Negative results (clean tokens) are cached too, so a
// token the API reports on is checked at most once per TTL; tokens it has no
// data for are not cached.
type SecurityClient struct {
	host    string
	apiKey  string
	chainID int64
	limiter domain.RateLimiter
	budget  int
	client  *http.Client

	mu    sync.Mutex
	cache map[common.Address]SecurityVerdict
	ttl   time.Duration
}

// NewSecurityClient creates a SecurityClient for the given host and chain.
func NewSecurityClient(host, apiKey string, chainID int64, limiter domain.RateLimiter, budget int) *SecurityClient {
	return &SecurityClient{
		host:    strings.TrimRight(host, "/"),
		apiKey:  apiKey,
		chainID: chainID,
		limiter: limiter,
		budget:  budget,
		client:  &http.Client{Timeout: 15 * time.Second},
		cache:   make(map[common.Address]SecurityVerdict),
		ttl:     6 * time.Hour,
	}
}

// Check returns the verdict for a token, consulting the cache first.
func (s *SecurityClient) Check(ctx context.Context, addr common.Address) (SecurityVerdict, error) {
	s.mu.Lock()
	if v, ok := s.cache[addr]; ok && time.Since(v.CheckedAt) < s.ttl {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, "goplus", s.budget, time.Minute); err != nil {
			return SecurityVerdict{}, err
		}
	}

	u := fmt.Sprintf("%s/api/v1/token_security/%d?contract_addresses=%s",
		s.host, s.chainID, strings.ToLower(addr.Hex()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return SecurityVerdict{}, fmt.Errorf("security: create request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return SecurityVerdict{}, fmt.Errorf("security: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return SecurityVerdict{}, fmt.Errorf("security: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var raw struct {
		Result map[string]struct {
			IsHoneypot   string `json:"is_honeypot"`
			BuyTax       string `json:"buy_tax"`
			SellTax      string `json:"sell_tax"`
			IsOpenSource string `json:"is_open_source"`
			IsProxy      string `json:"is_proxy"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return SecurityVerdict{}, fmt.Errorf("security: decode response: %w", err)
	}

	entry, ok := raw.Result[strings.ToLower(addr.Hex())]
	if !ok {
		// API has no data; treat as clean and do not cache.
		v := SecurityVerdict{CheckedAt: time.Now()}
		return v, nil
	}

	v := SecurityVerdict{
		Honeypot:   entry.IsHoneypot == "1",
		BuyTax:     parsePct(entry.BuyTax),
		SellTax:    parsePct(entry.SellTax),
		OpenSource: entry.IsOpenSource == "1",
		CheckedAt:  time.Now(),
	}
	v.Scam = v.Honeypot || v.BuyTax > maxAcceptableTaxPct || v.SellTax > maxAcceptableTaxPct

	s.mu.Lock()
	s.cache[addr] = v
	s.mu.Unlock()
	return v, nil
}

// parsePct parses the API's fractional tax string ("0.05") into percent.
func parsePct(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f * 100
}
