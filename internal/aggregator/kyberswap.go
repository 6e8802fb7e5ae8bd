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

	"github.com/kitefin/arbot/internal/domain"
)

// KyberSource quotes through the KyberSwap aggregator route API. A single
// GET returns the route summary including per-pool hops; no assemble step
// is needed for quoting.
type KyberSource struct {
	host    string
	apiKey  string
	chain   string
	limiter domain.RateLimiter
	budget  int
	client  *http.Client
}

// NewKyberSource creates a KyberSource.
func NewKyberSource(host, apiKey string, limiter domain.RateLimiter, budget int) *KyberSource {
	if host == "" {
		host = "https://aggregator-api.kyberswap.com"
	}
	return &KyberSource{
		host:    strings.TrimRight(host, "/"),
		apiKey:  apiKey,
		chain:   "base",
		limiter: limiter,
		budget:  budget,
		client:  &http.Client{Timeout: 20 * time.Second},
	}
}

// Name returns the provider id.
func (k *KyberSource) Name() string { return "kyberswap" }

type kyberRouteResponse struct {
	Code int `json:"code"`
	Data struct {
		RouteSummary struct {
			AmountOut   string `json:"amountOut"`
			Gas         string `json:"gas"`
			AmountInUsd string `json:"amountInUsd"`
			AmountOutUsd string `json:"amountOutUsd"`
			Route       [][]struct {
				Pool     string `json:"pool"`
				TokenIn  string `json:"tokenIn"`
				TokenOut string `json:"tokenOut"`
				SwapAmount string `json:"swapAmount"`
				Exchange string `json:"exchange"`
			} `json:"route"`
		} `json:"routeSummary"`
	} `json:"data"`
	Message string `json:"message"`
}

// Quote requests a route from the KyberSwap API and maps it into the
// uniform quote shape.
func (k *KyberSource) Quote(ctx context.Context, req QuoteRequest) (*domain.RouteQuote, error) {
	if k.limiter != nil {
		if err := k.limiter.Wait(ctx, "kyberswap", k.budget, time.Minute); err != nil {
			return nil, err
		}
	}

	q := url.Values{}
	q.Set("tokenIn", req.From.Address.Hex())
	q.Set("tokenOut", req.To.Address.Hex())
	q.Set("amountIn", req.AmountIn.String())
	u := fmt.Sprintf("%s/%s/api/v1/routes?%s", k.host, k.chain, q.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("kyberswap: create request: %w", err)
	}
	if k.apiKey != "" {
		httpReq.Header.Set("x-client-id", k.apiKey)
	}

	resp, err := k.client.Do(httpReq)
	if err != nil {
		return nil, domain.Wrap(domain.KindQuoteUnavailable, "kyberswap: request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, domain.E(domain.KindQuoteUnavailable,
			"kyberswap: unexpected status "+strconv.Itoa(resp.StatusCode)+": "+string(raw))
	}

	var route kyberRouteResponse
	if err := json.NewDecoder(resp.Body).Decode(&route); err != nil {
		return nil, domain.Wrap(domain.KindQuoteUnavailable, "kyberswap: decode response", err)
	}
	if route.Code != 0 {
		return nil, domain.E(domain.KindQuoteUnavailable, "kyberswap: api code "+strconv.Itoa(route.Code)+" "+route.Message)
	}

	summary := route.Data.RouteSummary
	returnAmount, ok := new(big.Int).SetString(summary.AmountOut, 10)
	if !ok {
		return nil, domain.E(domain.KindQuoteUnavailable, "kyberswap: amountOut "+summary.AmountOut+" is not an integer")
	}
	gas, _ := strconv.ParseUint(summary.Gas, 10, 64)
	if gas == 0 {
		gas = 300_000
	}

	impact := priceImpactFromUSD(summary.AmountInUsd, summary.AmountOutUsd)

	hop := domain.Hop{
		FromToken:    req.From.Address,
		ToToken:      req.To.Address,
		AmountIn:     req.AmountIn,
		Source:       k.Name(),
		GasEstimate:  gas,
		PriceImpact:  impact,
		LiquidityUSD: pairLiquidityUSD(req.From, req.To),
	}
	if req.SlippageBps > 0 {
		hop.MinAmountOut = applySlippage(returnAmount, req.SlippageBps)
	}

	payload, _ := json.Marshal(summary)
	return &domain.RouteQuote{
		Source:          k.Name(),
		FromToken:       req.From.Address,
		ToToken:         req.To.Address,
		AmountIn:        req.AmountIn,
		ReturnAmount:    returnAmount,
		Hops:            []domain.Hop{hop},
		GasEstimate:     gas,
		PriceImpact:     impact,
		ProviderPayload: payload,
	}, nil
}

// priceImpactFromUSD derives a fractional impact from the in/out USD
// notionals the API reports.
func priceImpactFromUSD(inStr, outStr string) float64 {
	in, err1 := strconv.ParseFloat(inStr, 64)
	out, err2 := strconv.ParseFloat(outStr, 64)
	if err1 != nil || err2 != nil || in <= 0 {
		return 0
	}
	impact := (in - out) / in
	if impact < 0 {
		return 0
	}
	return impact
}
