package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kitefin/arbot/internal/domain"
)

// PairsClient reads active trading pairs from a DexScreener-style listing
// API, used by auto-discovery to find liquid alt tokens.
type PairsClient struct {
	host    string
	limiter domain.RateLimiter
	budget  int
	client  *http.Client
}

// NewPairsClient creates a PairsClient for the given host.
func NewPairsClient(host string, limiter domain.RateLimiter, budget int) *PairsClient {
	return &PairsClient{
		host:    strings.TrimRight(host, "/"),
		limiter: limiter,
		budget:  budget,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// ListedToken is one discovered token with its aggregate liquidity.
type ListedToken struct {
	Address      common.Address
	Symbol       string
	LiquidityUSD float64
}

// TopPairs returns tokens paired against the given base token, ranked by
// liquidity descending and deduplicated by address.
func (p *PairsClient) TopPairs(ctx context.Context, base common.Address) ([]ListedToken, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, "dexscreener", p.budget, time.Minute); err != nil {
			return nil, err
		}
	}

	u := fmt.Sprintf("%s/latest/dex/tokens/%s", p.host, strings.ToLower(base.Hex()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("pairs: create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pairs: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("pairs: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var raw struct {
		Pairs []struct {
			ChainID   string `json:"chainId"`
			BaseToken struct {
				Address string `json:"address"`
				Symbol  string `json:"symbol"`
			} `json:"baseToken"`
			QuoteToken struct {
				Address string `json:"address"`
				Symbol  string `json:"symbol"`
			} `json:"quoteToken"`
			Liquidity struct {
				USD float64 `json:"usd"`
			} `json:"liquidity"`
		} `json:"pairs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("pairs: decode response: %w", err)
	}

	seen := make(map[common.Address]*ListedToken)
	for _, pair := range raw.Pairs {
		if pair.ChainID != "base" {
			continue
		}
		// The counterparty of the base token is whichever side isn't it.
		other := pair.QuoteToken
		if !strings.EqualFold(pair.BaseToken.Address, base.Hex()) {
			other = pair.BaseToken
		}
		addr := common.HexToAddress(other.Address)
		if addr == base {
			continue
		}
		if t, ok := seen[addr]; ok {
			t.LiquidityUSD += pair.Liquidity.USD
			continue
		}
		seen[addr] = &ListedToken{
			Address:      addr,
			Symbol:       other.Symbol,
			LiquidityUSD: pair.Liquidity.USD,
		}
	}

	out := make([]ListedToken, 0, len(seen))
	for _, t := range seen {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LiquidityUSD > out[j].LiquidityUSD
	})
	return out, nil
}

// Discovery finds liquid alt tokens around the base universe, filters scams,
// and registers survivors in the catalog.
type Discovery struct {
	reg      *Registry
	pairs    *PairsClient
	topN     int
	minLiq   float64
	interval time.Duration
	logger   *slog.Logger
}

// NewDiscovery creates the auto-discovery loop.
func NewDiscovery(reg *Registry, pairs *PairsClient, topN int, minLiquidityUSD float64, logger *slog.Logger) *Discovery {
	return &Discovery{
		reg:      reg,
		pairs:    pairs,
		topN:     topN,
		minLiq:   minLiquidityUSD,
		interval: 10 * time.Minute,
		logger:   logger.With(slog.String("component", "token_discovery")),
	}
}

// DiscoverOnce runs one discovery pass over every base token.
func (d *Discovery) DiscoverOnce(ctx context.Context) error {
	bases := d.reg.BaseTokens()
	added := 0
	for _, base := range bases {
		listed, err := d.pairs.TopPairs(ctx, base.Address)
		if err != nil {
			d.logger.Warn("pairs listing failed",
				slog.String("base", base.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		// The base's own depth is the sum of its pair liquidity; the
		// slippage model and path ranking need it as much as the alts'.
		var baseLiq float64
		for _, lt := range listed {
			baseLiq += lt.LiquidityUSD
		}
		d.reg.UpdateLiquidity(base.Address, baseLiq)

		count := 0
		for _, lt := range listed {
			if count >= d.topN {
				break
			}
			if lt.LiquidityUSD < d.minLiq {
				continue
			}
			if d.reg.IsScam(ctx, lt.Address) {
				d.logger.Info("token rejected by security filter",
					slog.String("token", lt.Address.Hex()),
					slog.String("symbol", lt.Symbol),
				)
				continue
			}
			d.reg.Register(domain.Token{
				Address:      lt.Address,
				Symbol:       lt.Symbol,
				Decimals:     18,
				LiquidityUSD: lt.LiquidityUSD,
			})
			count++
			added++
		}
	}
	if added > 0 {
		d.logger.Info("discovery pass complete", slog.Int("registered", added))
	}
	return nil
}

// Run repeats discovery on the loop interval until ctx is done.
func (d *Discovery) Run(ctx context.Context) error {
	// One eager pass so the scanner has a universe at startup.
	if err := d.DiscoverOnce(ctx); err != nil {
		d.logger.Warn("initial discovery", slog.String("error", err.Error()))
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.DiscoverOnce(ctx); err != nil {
				d.logger.Warn("discovery", slog.String("error", err.Error()))
			}
		}
	}
}
