package profit

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kitefin/arbot/internal/domain"
)

const (
	// flashLoanOverheadGas covers the loan dispatch and repayment around
	// the swaps.
	flashLoanOverheadGas = 250_000
	baseTxGas            = 21_000
	// gasSafetyBuffer scales the gas estimate before pricing it.
	gasSafetyBuffer = 1.5
	// slippageBufferScale scales the summed per-hop slippage.
	slippageBufferScale = 1.5
)

// TokenInfo resolves token metadata and USD prices; implemented by the
// token registry.
type TokenInfo interface {
	Get(addr common.Address) (domain.Token, bool)
	PriceUSD(ctx context.Context, addr common.Address) float64
}

// VolatilityReader supplies the sample standard deviation of a token's
// recent returns; implemented over the price sampler.
type VolatilityReader interface {
	StdReturns(token common.Address) float64
}

// Accountant turns scanner candidates into net-profit breakdowns.
type Accountant struct {
	tokens     TokenInfo
	vol        VolatilityReader
	native     common.Address // wrapped native asset for gas pricing
	premiumBps int64
	threshold  float64
	logger     *slog.Logger
}

// NewAccountant creates an Accountant. native is the wrapped native asset
// used to price gas; premiumBps is the flash-loan premium; threshold is the
// minimum acceptable net profit in USD.
func NewAccountant(tokens TokenInfo, vol VolatilityReader, native common.Address, premiumBps int64, thresholdUSD float64, logger *slog.Logger) *Accountant {
	return &Accountant{
		tokens:     tokens,
		vol:        vol,
		native:     native,
		premiumBps: premiumBps,
		threshold:  thresholdUSD,
		logger:     logger.With(slog.String("component", "accountant")),
	}
}

// Threshold returns the configured minimum net profit in USD.
func (a *Accountant) Threshold() float64 { return a.threshold }

// MinProfitUnits converts the modelled profit floor into the flash asset's
// smallest units for the contract's minProfit parameter: gross minus gas,
// premium, and the slippage buffer (the breakdown's net), never below the
// configured threshold. Requires a prior Evaluate to have attached the
// breakdown.
func (a *Accountant) MinProfitUnits(ctx context.Context, o *domain.Opportunity) (*big.Int, error) {
	b := o.Breakdown
	if b == nil {
		return nil, domain.E(domain.KindInternal, "opportunity has no breakdown")
	}
	asset, ok := a.tokens.Get(o.Asset())
	if !ok {
		return nil, domain.E(domain.KindInternal, "unknown flash-loan asset "+o.Asset().Hex())
	}
	price := a.tokens.PriceUSD(ctx, asset.Address)
	if price <= 0 {
		return nil, domain.E(domain.KindQuoteUnavailable, "no USD price for "+asset.Symbol)
	}

	floorUSD := b.NetProfitUSD
	if floorUSD < a.threshold {
		floorUSD = a.threshold
	}
	units := asset.ToUnits(floorUSD / price)
	if units == nil || units.Sign() <= 0 {
		units = big.NewInt(1)
	}
	return units, nil
}

// Evaluate computes the full breakdown for an opportunity at the given
// network gas price. simulatedGas, when positive, overrides the additive
// hop-based gas estimate.
func (a *Accountant) Evaluate(ctx context.Context, o *domain.Opportunity, gasPriceWei *big.Int, simulatedGas uint64) (*domain.Breakdown, error) {
	asset, ok := a.tokens.Get(o.Asset())
	if !ok {
		return nil, domain.E(domain.KindInternal, "unknown flash-loan asset "+o.Asset().Hex())
	}

	assetPrice := a.tokens.PriceUSD(ctx, asset.Address)
	if assetPrice <= 0 {
		return nil, domain.E(domain.KindQuoteUnavailable, "no USD price for "+asset.Symbol)
	}

	inputUSD := asset.FromUnits(o.AmountIn) * assetPrice
	outputUSD := asset.FromUnits(o.ExpectedOut) * assetPrice

	b := &domain.Breakdown{
		GrossProfitUSD: outputUSD - inputUSD,
	}

	// Gas: simulated value when available, else base + hops + flash-loan
	// overhead, with the safety buffer on top.
	gasUnits := simulatedGas
	if gasUnits == 0 {
		gasUnits = baseTxGas + flashLoanOverheadGas
		for _, h := range o.Hops {
			gasUnits += h.GasEstimate
		}
	}
	gasUnits = uint64(float64(gasUnits) * gasSafetyBuffer)
	b.GasLimit = gasUnits

	nativePrice := a.tokens.PriceUSD(ctx, a.native)
	if nativePrice <= 0 {
		return nil, domain.E(domain.KindQuoteUnavailable, "no USD price for native asset")
	}
	gasWei := new(big.Int).Mul(gasPriceWei, new(big.Int).SetUint64(gasUnits))
	gasEth, _ := new(big.Float).Quo(new(big.Float).SetInt(gasWei), big.NewFloat(1e18)).Float64()
	b.GasCostUSD = gasEth * nativePrice

	// Flash-loan premium: amount · bps / 10000, priced in USD.
	premium := new(big.Int).Mul(o.AmountIn, big.NewInt(a.premiumBps))
	premium.Div(premium, big.NewInt(10_000))
	b.FlashLoanCostUSD = asset.FromUnits(premium) * assetPrice

	// Slippage buffer: per-hop estimates in USD, summed and scaled.
	var slipUSD float64
	for _, h := range o.Hops {
		hopToken, ok := a.tokens.Get(h.FromToken)
		if !ok {
			hopToken = domain.Token{Address: h.FromToken, Decimals: 18}
		}
		hopPrice := a.tokens.PriceUSD(ctx, h.FromToken)
		notional := hopToken.FromUnits(h.AmountIn) * hopPrice
		std := 0.0
		if a.vol != nil {
			std = a.vol.StdReturns(h.FromToken)
		}
		slip := EstimateSlippage(h.Source, h.LiquidityUSD, notional, std)
		slipUSD += notional * slip
	}
	b.SlippageBufferUSD = slipUSD * slippageBufferScale

	b.NetProfitUSD = b.GrossProfitUSD - b.GasCostUSD - b.FlashLoanCostUSD - b.SlippageBufferUSD
	if inputUSD > 0 {
		b.NetProfitPercent = b.NetProfitUSD / inputUSD * 100
	}
	b.MeetsThreshold = b.NetProfitUSD >= a.threshold

	a.logger.Debug("opportunity evaluated",
		slog.String("id", o.ID),
		slog.Float64("gross_usd", b.GrossProfitUSD),
		slog.Float64("gas_usd", b.GasCostUSD),
		slog.Float64("flash_fee_usd", b.FlashLoanCostUSD),
		slog.Float64("slippage_usd", b.SlippageBufferUSD),
		slog.Float64("net_usd", b.NetProfitUSD),
	)
	return b, nil
}
