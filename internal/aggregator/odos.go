package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kitefin/arbot/internal/domain"
)

// OdosSource quotes through the ODOS smart-order-router API. ODOS splits
// quoting in two: /sor/quote returns amounts and a pathId, and /sor/assemble
// exchanges the pathId for callable transaction data. Assemble runs only
// when the caller requests calldata.
type OdosSource struct {
	host    string
	apiKey  string
	chainID int64
	limiter domain.RateLimiter
	budget  int
	client  *http.Client
}

// NewOdosSource creates an OdosSource. budget is the requests-per-minute
// allowance under the "odos" limiter key.
func NewOdosSource(host, apiKey string, chainID int64, limiter domain.RateLimiter, budget int) *OdosSource {
	if host == "" {
		host = "https://api.odos.xyz"
	}
	return &OdosSource{
		host:    strings.TrimRight(host, "/"),
		apiKey:  apiKey,
		chainID: chainID,
		limiter: limiter,
		budget:  budget,
		client:  &http.Client{Timeout: 20 * time.Second},
	}
}

// Name returns the provider id.
func (o *OdosSource) Name() string { return "odos" }

type odosQuoteResponse struct {
	PathID     string     `json:"pathId"`
	OutAmounts []string   `json:"outAmounts"`
	GasEstimate float64   `json:"gasEstimate"`
	PriceImpact float64   `json:"priceImpact"`
	PathViz    json.RawMessage `json:"pathViz"`
}

type odosAssembleResponse struct {
	Transaction struct {
		To   string `json:"to"`
		Data string `json:"data"`
	} `json:"transaction"`
	OutputTokens []struct {
		Amount string `json:"amount"`
	} `json:"outputTokens"`
}

// Quote requests a route quote; when req.NeedCalldata is set the assemble
// step is invoked and the calldata is attached as the provider payload.
func (o *OdosSource) Quote(ctx context.Context, req QuoteRequest) (*domain.RouteQuote, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx, "odos", o.budget, time.Minute); err != nil {
			return nil, err
		}
	}

	payload := map[string]any{
		"chainId": o.chainID,
		"inputTokens": []map[string]string{{
			"tokenAddress": req.From.Address.Hex(),
			"amount":       req.AmountIn.String(),
		}},
		"outputTokens": []map[string]any{{
			"tokenAddress": req.To.Address.Hex(),
			"proportion":   1,
		}},
		"slippageLimitPercent": float64(req.SlippageBps) / 100,
		"userAddr":             req.Recipient,
		"compact":              true,
	}

	var quote odosQuoteResponse
	if err := o.post(ctx, "/sor/quote/v2", payload, &quote); err != nil {
		return nil, domain.Wrap(domain.KindQuoteUnavailable, "odos: quote", err)
	}
	if len(quote.OutAmounts) == 0 {
		return nil, domain.E(domain.KindQuoteUnavailable, "odos: empty outAmounts")
	}
	returnAmount, ok := new(big.Int).SetString(quote.OutAmounts[0], 10)
	if !ok {
		return nil, domain.E(domain.KindQuoteUnavailable, "odos: outAmount "+quote.OutAmounts[0]+" is not an integer")
	}

	gas := uint64(quote.GasEstimate)
	if gas == 0 {
		gas = 250_000
	}

	hop := domain.Hop{
		FromToken:    req.From.Address,
		ToToken:      req.To.Address,
		AmountIn:     req.AmountIn,
		Source:       o.Name(),
		GasEstimate:  gas,
		PriceImpact:  quote.PriceImpact / 100,
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
		PriceImpact:  quote.PriceImpact / 100,
	}

	if req.NeedCalldata {
		data, err := o.assemble(ctx, quote.PathID, req.Recipient)
		if err != nil {
			return nil, err
		}
		out.ProviderPayload = data
		out.Hops[0].Payload = data
	}
	return out, nil
}

// assemble exchanges a pathId for callable transaction data.
func (o *OdosSource) assemble(ctx context.Context, pathID, userAddr string) ([]byte, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx, "odos", o.budget, time.Minute); err != nil {
			return nil, err
		}
	}
	payload := map[string]any{
		"pathId":   pathID,
		"userAddr": userAddr,
		"simulate": false,
	}
	var resp odosAssembleResponse
	if err := o.post(ctx, "/sor/assemble", payload, &resp); err != nil {
		return nil, domain.Wrap(domain.KindQuoteUnavailable, "odos: assemble", err)
	}
	if resp.Transaction.Data == "" {
		return nil, domain.E(domain.KindQuoteUnavailable, "odos: assemble returned no calldata")
	}
	return common.FromHex(resp.Transaction.Data), nil
}

func (o *OdosSource) post(ctx context.Context, path string, payload any, dst any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %s: %s", strconv.Itoa(resp.StatusCode), string(raw))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
