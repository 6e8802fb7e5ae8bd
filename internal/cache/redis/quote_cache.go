package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/kitefin/arbot/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis string values with
// native TTL expiry. Entries are immutable JSON snapshots of RouteQuote.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(source string, from, to common.Address, amountIn string) string {
	return strings.Join([]string{
		"quote", source,
		strings.ToLower(from.Hex()),
		strings.ToLower(to.Hex()),
		amountIn,
	}, ":")
}

// quoteRecord is the wire form; big integers travel as decimal strings.
type quoteRecord struct {
	Source          string      `json:"source"`
	FromToken       string      `json:"from"`
	ToToken         string      `json:"to"`
	AmountIn        string      `json:"amount_in"`
	ReturnAmount    string      `json:"return_amount"`
	Hops            []hopRecord `json:"hops"`
	GasEstimate     uint64      `json:"gas_estimate"`
	PriceImpact     float64     `json:"price_impact"`
	ProviderPayload []byte      `json:"provider_payload,omitempty"`
	FetchedAt       int64       `json:"fetched_at"`
}

type hopRecord struct {
	FromToken    string  `json:"from"`
	ToToken      string  `json:"to"`
	AmountIn     string  `json:"amount_in"`
	MinAmountOut string  `json:"min_amount_out"`
	Source       string  `json:"source"`
	Payload      []byte  `json:"payload,omitempty"`
	GasEstimate  uint64  `json:"gas_estimate"`
	PriceImpact  float64 `json:"price_impact"`
	LiquidityUSD float64 `json:"liquidity_usd"`
}

// Get returns the cached quote or domain.ErrCacheMiss.
func (qc *QuoteCache) Get(ctx context.Context, source string, from, to common.Address, amountIn string) (*domain.RouteQuote, error) {
	raw, err := qc.rdb.Get(ctx, quoteKey(source, from, to, amountIn)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get quote: %w", err)
	}

	var rec quoteRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("redis: decode quote: %w", err)
	}
	return rec.toDomain()
}

// Set stores the quote under its cache key with the given TTL.
func (qc *QuoteCache) Set(ctx context.Context, q *domain.RouteQuote, ttl time.Duration) error {
	rec := fromDomainQuote(q)
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: encode quote: %w", err)
	}
	key := quoteKey(q.Source, q.FromToken, q.ToToken, q.AmountIn.String())
	if err := qc.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set quote: %w", err)
	}
	return nil
}

func fromDomainQuote(q *domain.RouteQuote) quoteRecord {
	rec := quoteRecord{
		Source:          q.Source,
		FromToken:       q.FromToken.Hex(),
		ToToken:         q.ToToken.Hex(),
		AmountIn:        q.AmountIn.String(),
		ReturnAmount:    q.ReturnAmount.String(),
		GasEstimate:     q.GasEstimate,
		PriceImpact:     q.PriceImpact,
		ProviderPayload: q.ProviderPayload,
		FetchedAt:       q.FetchedAt.UnixNano(),
	}
	for _, h := range q.Hops {
		hr := hopRecord{
			FromToken:    h.FromToken.Hex(),
			ToToken:      h.ToToken.Hex(),
			AmountIn:     h.AmountIn.String(),
			Source:       h.Source,
			Payload:      h.Payload,
			GasEstimate:  h.GasEstimate,
			PriceImpact:  h.PriceImpact,
			LiquidityUSD: h.LiquidityUSD,
		}
		if h.MinAmountOut != nil {
			hr.MinAmountOut = h.MinAmountOut.String()
		}
		rec.Hops = append(rec.Hops, hr)
	}
	return rec
}

func (rec quoteRecord) toDomain() (*domain.RouteQuote, error) {
	amountIn, ok := new(big.Int).SetString(rec.AmountIn, 10)
	if !ok {
		return nil, fmt.Errorf("redis: quote amount_in %q is not an integer", rec.AmountIn)
	}
	returnAmount, ok := new(big.Int).SetString(rec.ReturnAmount, 10)
	if !ok {
		return nil, fmt.Errorf("redis: quote return_amount %q is not an integer", rec.ReturnAmount)
	}

	q := &domain.RouteQuote{
		Source:          rec.Source,
		FromToken:       common.HexToAddress(rec.FromToken),
		ToToken:         common.HexToAddress(rec.ToToken),
		AmountIn:        amountIn,
		ReturnAmount:    returnAmount,
		GasEstimate:     rec.GasEstimate,
		PriceImpact:     rec.PriceImpact,
		ProviderPayload: rec.ProviderPayload,
		FetchedAt:       time.Unix(0, rec.FetchedAt),
	}
	for _, hr := range rec.Hops {
		h := domain.Hop{
			FromToken:    common.HexToAddress(hr.FromToken),
			ToToken:      common.HexToAddress(hr.ToToken),
			Source:       hr.Source,
			Payload:      hr.Payload,
			GasEstimate:  hr.GasEstimate,
			PriceImpact:  hr.PriceImpact,
			LiquidityUSD: hr.LiquidityUSD,
		}
		if hr.AmountIn != "" {
			h.AmountIn, _ = new(big.Int).SetString(hr.AmountIn, 10)
		}
		if hr.MinAmountOut != "" {
			h.MinAmountOut, _ = new(big.Int).SetString(hr.MinAmountOut, 10)
		}
		q.Hops = append(q.Hops, h)
	}
	return q, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
