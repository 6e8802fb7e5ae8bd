package aggregator

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kitefin/arbot/internal/domain"
)

// SpotPricer derives a token's USD price from an on-chain quote against a
// stable anchor token (USDC). It backs the registry's price fallback and
// the statistical engine's sampler.
type SpotPricer struct {
	client *Client
	// anchor is the stable token treated as exactly one USD.
	anchor domain.Token
	tokens func(common.Address) (domain.Token, bool)
}

// NewSpotPricer creates a SpotPricer quoting against the given stable
// anchor. tokens resolves token metadata for decimals.
func NewSpotPricer(client *Client, anchor domain.Token, tokens func(common.Address) (domain.Token, bool)) *SpotPricer {
	return &SpotPricer{client: client, anchor: anchor, tokens: tokens}
}

// SpotPriceUSD quotes one display unit of the token into the anchor and
// reads the output as USD.
func (s *SpotPricer) SpotPriceUSD(ctx context.Context, token common.Address) (float64, error) {
	if token == s.anchor.Address {
		return 1.0, nil
	}
	t, ok := s.tokens(token)
	if !ok {
		t = domain.Token{Address: token, Decimals: 18}
	}

	oneUnit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(t.Decimals)), nil)
	q, err := s.client.BestQuote(ctx, QuoteRequest{
		From:     t,
		To:       s.anchor,
		AmountIn: oneUnit,
	})
	if err != nil {
		return 0, err
	}
	return s.anchor.FromUnits(q.ReturnAmount), nil
}
