package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kitefin/arbot/internal/domain"
)

// MarketsClient reads token USD prices from a CoinGecko-style token-markets
// API. Calls are throttled through the shared HTTP rate limiter.
type MarketsClient struct {
	host    string
	apiKey  string
	chain   string
	limiter domain.RateLimiter
	budget  int
	client  *http.Client
}

// NewMarketsClient creates a MarketsClient for the given host. budget is the
// requests-per-minute allowance for the "coingecko" limiter key.
func NewMarketsClient(host, apiKey string, limiter domain.RateLimiter, budget int) *MarketsClient {
	return &MarketsClient{
		host:    strings.TrimRight(host, "/"),
		apiKey:  apiKey,
		chain:   "base",
		limiter: limiter,
		budget:  budget,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Prices fetches USD prices for the given contract addresses. Tokens the API
// does not know are simply absent from the result map.
func (m *MarketsClient) Prices(ctx context.Context, addrs []common.Address) (map[common.Address]float64, error) {
	if len(addrs) == 0 {
		return map[common.Address]float64{}, nil
	}
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx, "coingecko", m.budget, time.Minute); err != nil {
			return nil, err
		}
	}

	joined := make([]string, 0, len(addrs))
	for _, a := range addrs {
		joined = append(joined, strings.ToLower(a.Hex()))
	}
	u := fmt.Sprintf("%s/api/v3/simple/token_price/%s?contract_addresses=%s&vs_currencies=usd",
		m.host, m.chain, url.QueryEscape(strings.Join(joined, ",")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("markets: create request: %w", err)
	}
	if m.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("markets: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("markets: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var raw map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("markets: decode response: %w", err)
	}

	out := make(map[common.Address]float64, len(raw))
	for addr, entry := range raw {
		out[common.HexToAddress(addr)] = entry.USD
	}
	return out, nil
}
