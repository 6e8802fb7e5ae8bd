package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kitefin/arbot/internal/domain"
)

// OpenOceanSource quotes through the OpenOcean aggregator. The swap endpoint
// returns amounts and calldata in one call, so no separate assemble step
// exists for this provider.
type OpenOceanSource struct {
	host    string
	apiKey  string
	chain   string
	limiter domain.RateLimiter
	budget  int
	client  *http.Client
}

// NewOpenOceanSource creates an OpenOceanSource.
func NewOpenOceanSource(host, apiKey string, limiter domain.RateLimiter, budget int) *OpenOceanSource {
	if host == "" {
		host = "https://open-api.openocean.finance"
	}
	return &OpenOceanSource{
		host:    strings.TrimRight(host, "/"),
		apiKey:  apiKey,
		chain:   "base",
		limiter: limiter,
		budget:  budget,
		client:  &http.Client{Timeout: 20 * time.Second},
	}
}

// Name returns the provider id.
func (o *OpenOceanSource) Name() string { return "openocean" }

type openOceanResponse struct {
	Code int `json:"code"`
	Data struct {
		OutAmount   string `json:"outAmount"`
		EstimatedGas json.Number `json:"estimatedGas"`
		PriceImpact string `json:"price_impact"`
		To          string `json:"to"`
		Data        string `json:"data"`
	} `json:"data"`
}

// Quote requests a swap quote; calldata comes back inline and is attached
// as the provider payload when requested.
func (o *OpenOceanSource) Quote(ctx context.Context, req QuoteRequest) (*domain.RouteQuote, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx, "openocean", o.budget, time.Minute); err != nil {
			return nil, err
		}
	}

	// OpenOcean takes the in amount in token display units.
	q := url.Values{}
	q.Set("inTokenAddress", req.From.Address.Hex())
	q.Set("outTokenAddress", req.To.Address.Hex())
	q.Set("amount", formatUnits(req.AmountIn, int(req.From.Decimals)))
	q.Set("slippage", strconv.FormatFloat(float64(req.SlippageBps)/100, 'f', -1, 64))
	q.Set("gasPrice", "1")
	if req.Recipient != "" {
		q.Set("account", req.Recipient)
	}
	u := fmt.Sprintf("%s/v4/%s/swap?%s", o.host, o.chain, q.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("openocean: create request: %w", err)
	}
	if o.apiKey != "" {
		httpReq.Header.Set("apikey", o.apiKey)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, domain.Wrap(domain.KindQuoteUnavailable, "openocean: request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, domain.E(domain.KindQuoteUnavailable,
			"openocean: unexpected status "+strconv.Itoa(resp.StatusCode)+": "+string(raw))
	}

	var oo openOceanResponse
	if err := json.NewDecoder(resp.Body).Decode(&oo); err != nil {
		return nil, domain.Wrap(domain.KindQuoteUnavailable, "openocean: decode response", err)
	}
	if oo.Code != 200 {
		return nil, domain.E(domain.KindQuoteUnavailable, "openocean: api code "+strconv.Itoa(oo.Code))
	}

	returnAmount, ok := new(big.Int).SetString(oo.Data.OutAmount, 10)
	if !ok {
		return nil, domain.E(domain.KindQuoteUnavailable, "openocean: outAmount "+oo.Data.OutAmount+" is not an integer")
	}
	gas, _ := strconv.ParseUint(oo.Data.EstimatedGas.String(), 10, 64)
	if gas == 0 {
		gas = 280_000
	}
	impact := parseImpactPct(oo.Data.PriceImpact)

	hop := domain.Hop{
		FromToken:    req.From.Address,
		ToToken:      req.To.Address,
		AmountIn:     req.AmountIn,
		Source:       o.Name(),
		GasEstimate:  gas,
		PriceImpact:  impact,
		LiquidityUSD: pairLiquidityUSD(req.From, req.To),
	}
	if req.SlippageBps > 0 {
		hop.MinAmountOut = applySlippage(returnAmount, req.SlippageBps)
	}

	out := &domain.RouteQuote{
		Source:       o.Name(),
		FromToken:    req.From.Address,
		ToToken:      req.To.Address,
		AmountIn:     req.AmountIn,
		ReturnAmount: returnAmount,
		Hops:         []domain.Hop{hop},
		GasEstimate:  gas,
		PriceImpact:  impact,
	}
	if req.NeedCalldata && oo.Data.Data != "" {
		data := common.FromHex(oo.Data.Data)
		out.ProviderPayload = data
		out.Hops[0].Payload = data
	}
	return out, nil
}

// formatUnits renders smallest units as a decimal display string.
func formatUnits(amount *big.Int, decimals int) string {
	f := new(big.Float).SetInt(amount)
	f.Quo(f, new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)))
	return f.Text('f', decimals)
}

// parseImpactPct parses strings like "0.12%" into a fraction.
func parseImpactPct(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f / 100
}
