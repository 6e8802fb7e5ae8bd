package aggregator

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/kitefin/arbot/internal/chain"
	"github.com/kitefin/arbot/internal/domain"
)

// RouterConfig describes one direct DEX router deployment: its factory,
// quoter, and router addresses on the target chain.
type RouterConfig struct {
	Name    string
	Factory common.Address
	Quoter  common.Address
	Router  common.Address
	// GasPerSwap is the router's typical single-swap gas.
	GasPerSwap uint64
}

// Base mainnet deployments for the four monitored routers.
var DefaultRouters = []RouterConfig{
	{
		Name:       "uniswap_v3",
		Factory:    common.HexToAddress("0x33128a8fC17869897dcE68Ed026d694621f6FDfD"),
		Quoter:     common.HexToAddress("0x3d4e44Eb1374240CE5F1B871ab261CD16335B76a"),
		Router:     common.HexToAddress("0x2626664c2603336E57B271c5C0b26F421741e481"),
		GasPerSwap: 140_000,
	},
	{
		Name:       "aerodrome",
		Factory:    common.HexToAddress("0x5e7BB104d84c7CB9B682AaC2F3d509f5F406809A"),
		Quoter:     common.HexToAddress("0x254cF9E1E6e233aa1AC962CB9B05b2cfeAaE15b0"),
		Router:     common.HexToAddress("0xBE6D8f0d05cC4be24d5167a3eF062215bE6D18a5"),
		GasPerSwap: 160_000,
	},
	{
		Name:       "sushiswap_v3",
		Factory:    common.HexToAddress("0xc35DADB65012eC5796536bD9864eD8773aBc74C4"),
		Quoter:     common.HexToAddress("0xb1E835Dc2785b52265711e17fCCb0fd018226a6e"),
		Router:     common.HexToAddress("0x80C7DD17B01855a6D2347444a0FCC36136a314de"),
		GasPerSwap: 150_000,
	},
	{
		Name:       "baseswap",
		Factory:    common.HexToAddress("0x38015D05f4fEC8AFe15D7cc0386a126574e8077B"),
		Quoter:     common.HexToAddress("0x4fDBD73aD4B1DDde594BF05497C15f76308eFfb9"),
		Router:     common.HexToAddress("0x1B8eea9315bE495187D873DA7773a874545D9D48"),
		GasPerSwap: 150_000,
	},
}

// RouterSource quotes swaps directly against an on-chain DEX router: it
// resolves the pool for the pair through the factory across the configured
// fee tiers, checks liquidity, and reads the quoter.
type RouterSource struct {
	cfg      RouterConfig
	pool     *chain.Pool
	feeTiers []int64
	logger   *slog.Logger
}

// NewRouterSource creates a RouterSource over the transport pool.
func NewRouterSource(cfg RouterConfig, pool *chain.Pool, feeTiers []int64, logger *slog.Logger) *RouterSource {
	return &RouterSource{
		cfg:      cfg,
		pool:     pool,
		feeTiers: feeTiers,
		logger:   logger.With(slog.String("source", cfg.Name)),
	}
}

// Name returns the router identifier used in configuration and hop routing.
func (r *RouterSource) Name() string { return r.cfg.Name }

// poolState is the resolved pool for a pair at one fee tier.
type poolState struct {
	addr         common.Address
	feeTier      int64
	liquidity    *big.Int
	sqrtPriceX96 *big.Int
}

// resolvePool iterates the fee tiers in configured order and returns the
// first pool whose liquidity is strictly positive.
func (r *RouterSource) resolvePool(ctx context.Context, a, b common.Address) (*poolState, error) {
	for _, tier := range r.feeTiers {
		addr, err := r.factoryGetPool(ctx, a, b, tier)
		if err != nil {
			return nil, err
		}
		if addr == (common.Address{}) {
			continue
		}
		st, err := r.readPool(ctx, addr)
		if err != nil {
			r.logger.Debug("pool read failed",
				slog.String("pool", addr.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if st.liquidity.Sign() > 0 {
			st.feeTier = tier
			return st, nil
		}
	}
	return nil, domain.Wrap(domain.KindQuoteUnavailable,
		fmt.Sprintf("%s: no liquid pool for pair", r.cfg.Name), domain.ErrNoQuote)
}

func (r *RouterSource) factoryGetPool(ctx context.Context, a, b common.Address, fee int64) (common.Address, error) {
	data, err := factoryABI.Pack("getPool", a, b, big.NewInt(fee))
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: pack getPool: %w", r.cfg.Name, err)
	}
	out, err := r.call(ctx, r.cfg.Factory, data)
	if err != nil {
		return common.Address{}, err
	}
	vals, err := factoryABI.Unpack("getPool", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: unpack getPool: %w", r.cfg.Name, err)
	}
	return vals[0].(common.Address), nil
}

func (r *RouterSource) readPool(ctx context.Context, addr common.Address) (*poolState, error) {
	liqData, err := poolABI.Pack("liquidity")
	if err != nil {
		return nil, fmt.Errorf("%s: pack liquidity: %w", r.cfg.Name, err)
	}
	liqOut, err := r.call(ctx, addr, liqData)
	if err != nil {
		return nil, err
	}
	liqVals, err := poolABI.Unpack("liquidity", liqOut)
	if err != nil {
		return nil, fmt.Errorf("%s: unpack liquidity: %w", r.cfg.Name, err)
	}

	slotData, err := poolABI.Pack("slot0")
	if err != nil {
		return nil, fmt.Errorf("%s: pack slot0: %w", r.cfg.Name, err)
	}
	slotOut, err := r.call(ctx, addr, slotData)
	if err != nil {
		return nil, err
	}
	slotVals, err := poolABI.Unpack("slot0", slotOut)
	if err != nil {
		return nil, fmt.Errorf("%s: unpack slot0: %w", r.cfg.Name, err)
	}

	return &poolState{
		addr:         addr,
		liquidity:    liqVals[0].(*big.Int),
		sqrtPriceX96: slotVals[0].(*big.Int),
	}, nil
}

// poolLiquidityUSD values the pool's in-range liquidity at the current
// price: amount0 ≈ L/√P and amount1 ≈ L·√P in raw units, priced through the
// tokens' last known USD prices. Unknown prices contribute nothing; a fully
// unpriced pair values to zero, and Quote then falls back to the catalog
// liquidity bound.
func poolLiquidityUSD(st *poolState, a, b domain.Token) float64 {
	if st.liquidity == nil || st.liquidity.Sign() == 0 ||
		st.sqrtPriceX96 == nil || st.sqrtPriceX96.Sign() == 0 {
		return 0
	}

	// Pool token0 is the lower address.
	t0, t1 := a, b
	if bytes.Compare(a.Address.Bytes(), b.Address.Bytes()) > 0 {
		t0, t1 = b, a
	}

	liq, _ := new(big.Float).SetInt(st.liquidity).Float64()
	sqrtP, _ := new(big.Float).Quo(
		new(big.Float).SetInt(st.sqrtPriceX96),
		big.NewFloat(math.Ldexp(1, 96)),
	).Float64()
	if sqrtP == 0 {
		return 0
	}

	var usd float64
	if t0.PriceUSD > 0 {
		usd += liq / sqrtP / math.Pow(10, float64(t0.Decimals)) * t0.PriceUSD
	}
	if t1.PriceUSD > 0 {
		usd += liq * sqrtP / math.Pow(10, float64(t1.Decimals)) * t1.PriceUSD
	}
	return usd
}

// Quote resolves the pair's pool and reads the quoter for the output amount.
func (r *RouterSource) Quote(ctx context.Context, req QuoteRequest) (*domain.RouteQuote, error) {
	st, err := r.resolvePool(ctx, req.From.Address, req.To.Address)
	if err != nil {
		return nil, err
	}

	data, err := quoterABI.Pack("quoteExactInputSingle",
		req.From.Address, req.To.Address, big.NewInt(st.feeTier), req.AmountIn, big.NewInt(0))
	if err != nil {
		return nil, fmt.Errorf("%s: pack quote: %w", r.cfg.Name, err)
	}
	out, err := r.call(ctx, r.cfg.Quoter, data)
	if err != nil {
		return nil, domain.Wrap(domain.KindQuoteUnavailable, r.cfg.Name+": quoter call", err)
	}
	vals, err := quoterABI.Unpack("quoteExactInputSingle", out)
	if err != nil {
		return nil, fmt.Errorf("%s: unpack quote: %w", r.cfg.Name, err)
	}
	amountOut := vals[0].(*big.Int)

	liqUSD := poolLiquidityUSD(st, req.From, req.To)
	if liqUSD == 0 {
		liqUSD = pairLiquidityUSD(req.From, req.To)
	}

	hop := domain.Hop{
		FromToken:    req.From.Address,
		ToToken:      req.To.Address,
		AmountIn:     req.AmountIn,
		Source:       r.cfg.Name,
		GasEstimate:  r.cfg.GasPerSwap,
		LiquidityUSD: liqUSD,
	}
	if req.SlippageBps > 0 {
		hop.MinAmountOut = applySlippage(amountOut, req.SlippageBps)
	}

	return &domain.RouteQuote{
		Source:       r.cfg.Name,
		FromToken:    req.From.Address,
		ToToken:      req.To.Address,
		AmountIn:     req.AmountIn,
		ReturnAmount: amountOut,
		Hops:         []domain.Hop{hop},
		GasEstimate:  r.cfg.GasPerSwap,
	}, nil
}

func (r *RouterSource) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	var out []byte
	err := r.pool.Do(ctx, func(ctx context.Context, c *ethclient.Client) error {
		var err error
		out, err = c.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		return err
	})
	return out, err
}

// applySlippage reduces amount by bps, rounding down.
func applySlippage(amount *big.Int, bps int) *big.Int {
	keep := big.NewInt(int64(10_000 - bps))
	out := new(big.Int).Mul(amount, keep)
	return out.Div(out, big.NewInt(10_000))
}
