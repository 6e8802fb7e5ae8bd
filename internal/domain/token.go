package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Token is a catalog entry for an ERC-20 asset. Price and liquidity are
// advisory USD estimates refreshed periodically; on-chain amounts are always
// big integers in the token's smallest unit.
type Token struct {
	Address      common.Address
	Symbol       string
	Decimals     uint8
	IsStable     bool
	IsBase       bool // flash-loan eligible
	PriceUSD     float64
	LiquidityUSD float64
	PriceUpdated time.Time
}

// ToUnits converts a human-readable amount into smallest units, truncating
// any fractional dust below one unit.
func (t Token) ToUnits(amount float64) *big.Int {
	f := new(big.Float).SetFloat64(amount)
	scale := new(big.Float).SetInt(pow10(int(t.Decimals)))
	f.Mul(f, scale)
	out, _ := f.Int(nil)
	return out
}

// FromUnits converts smallest units into a display value. Only used for USD
// conversion and logging, never fed back into on-chain amounts.
func (t Token) FromUnits(units *big.Int) float64 {
	if units == nil {
		return 0
	}
	f := new(big.Float).SetInt(units)
	f.Quo(f, new(big.Float).SetInt(pow10(int(t.Decimals))))
	out, _ := f.Float64()
	return out
}

// ValueUSD prices an amount in smallest units using the token's last known
// USD price.
func (t Token) ValueUSD(units *big.Int) float64 {
	return t.FromUnits(units) * t.PriceUSD
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// PairKind distinguishes base-base pairs from base-alt pairs in the
// statistical universe.
type PairKind int

const (
	PairBaseBase PairKind = iota
	PairBaseAlt
)

// Cointegration holds the result of a pair cointegration test.
type Cointegration struct {
	Cointegrated  bool
	Slope         float64
	Intercept     float64
	RSquared      float64
	ADFStatistic  float64
	HalfLife      float64
	HurstExponent float64
	TestedAt      time.Time
	SampleCount   int
}

// Pair is an ordered token pair tracked by the z-score engine.
type Pair struct {
	TokenA common.Address
	TokenB common.Address
	Kind   PairKind
	Coint  *Cointegration
}

// Key returns a stable identifier for cache keys.
func (p Pair) Key() string {
	return p.TokenA.Hex() + ":" + p.TokenB.Hex()
}

// PriceSample is one oracle observation of a token's USD price.
type PriceSample struct {
	Token     common.Address
	PriceUSD  float64
	Timestamp time.Time
}
