// Package txbuilder constructs, signs, and broadcasts EIP-1559 arbitrage
// transactions with strict nonce discipline.
package txbuilder

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/kitefin/arbot/internal/chain"
	"github.com/kitefin/arbot/internal/domain"
)

// executeArbitrage(address[],uint256[],address[],bytes[],uint256,uint256)
const contractABIJSON = `[
  {"name":"executeArbitrage","type":"function","stateMutability":"nonpayable",
   "inputs":[
     {"name":"tokens","type":"address[]"},
     {"name":"amounts","type":"uint256[]"},
     {"name":"aggregators","type":"address[]"},
     {"name":"swapData","type":"bytes[]"},
     {"name":"flashLoanAmount","type":"uint256"},
     {"name":"minProfit","type":"uint256"}],
   "outputs":[]}
]`

var contractABI abi.ABI

func init() {
	var err error
	contractABI, err = abi.JSON(strings.NewReader(contractABIJSON))
	if err != nil {
		panic("txbuilder: contract abi: " + err.Error())
	}
}

// AggregatorDirectory resolves routing source names to their on-chain
// executor addresses.
type AggregatorDirectory interface {
	ExecutorAddress(source string) (common.Address, bool)
}

// Builder owns the signing key and the wallet's nonce counter. All nonce
// mutations go through its dispatch path.
type Builder struct {
	key      *ecdsa.PrivateKey
	wallet   common.Address
	contract common.Address
	chainID  *big.Int
	pool     *chain.Pool
	dir      AggregatorDirectory
	// maxFeeWei is the hard fee ceiling from configuration.
	maxFeeWei *big.Int
	logger    *slog.Logger

	mu    sync.Mutex
	nonce uint64
	nonceInit bool
}

// NewBuilder creates a Builder. walletOverride, when non-zero, replaces the
// address derived from the key.
func NewBuilder(key *ecdsa.PrivateKey, walletOverride, contract common.Address, chainID int64, maxGasPriceGwei float64, pool *chain.Pool, dir AggregatorDirectory, logger *slog.Logger) *Builder {
	wallet := ethcrypto.PubkeyToAddress(key.PublicKey)
	if walletOverride != (common.Address{}) {
		wallet = walletOverride
	}
	maxFee, _ := new(big.Float).Mul(big.NewFloat(maxGasPriceGwei), big.NewFloat(1e9)).Int(nil)
	return &Builder{
		key:       key,
		wallet:    wallet,
		contract:  contract,
		chainID:   big.NewInt(chainID),
		pool:      pool,
		dir:       dir,
		maxFeeWei: maxFee,
		logger:    logger.With(slog.String("component", "tx_builder")),
	}
}

// Wallet returns the sending address.
func (b *Builder) Wallet() common.Address { return b.wallet }

// InitNonce reads the wallet's pending transaction count and seeds the
// local counter. Safe to call again to resynchronize.
func (b *Builder) InitNonce(ctx context.Context) error {
	var pending uint64
	err := b.pool.Do(ctx, func(ctx context.Context, c *ethclient.Client) error {
		var err error
		pending, err = c.PendingNonceAt(ctx, b.wallet)
		return err
	})
	if err != nil {
		return domain.Wrap(domain.KindTransportUnavailable, "read pending nonce", err)
	}
	b.mu.Lock()
	b.nonce = pending
	b.nonceInit = true
	b.mu.Unlock()
	b.logger.Info("nonce initialized", slog.Uint64("nonce", pending))
	return nil
}

// nextNonce hands out the next nonce. Each dispatched transaction consumes
// exactly one.
func (b *Builder) nextNonce() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.nonceInit {
		return 0, domain.E(domain.KindNonceMismatch, "nonce counter not initialized")
	}
	n := b.nonce
	b.nonce++
	return n, nil
}

// CurrentNonce returns the next nonce that would be assigned, for tests and
// diagnostics.
func (b *Builder) CurrentNonce() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonce
}

// BuildArbitrage encodes and signs the arbitrage entry-point call for the
// opportunity. minProfit is enforced on-chain; gas parameters come from the
// oracle and the accountant's gas limit.
func (b *Builder) BuildArbitrage(o *domain.Opportunity, params domain.GasParams, minProfit *big.Int) (*types.Transaction, error) {
	if len(o.Hops) == 0 {
		return nil, domain.E(domain.KindConfigInvalid, "opportunity has no hops")
	}
	if params.MaxFeePerGas.Cmp(b.maxFeeWei) > 0 {
		return nil, domain.E(domain.KindGasTooHigh,
			fmt.Sprintf("maxFeePerGas %s exceeds ceiling %s", params.MaxFeePerGas, b.maxFeeWei))
	}

	tokens := make([]common.Address, 0, len(o.Hops)+1)
	amounts := make([]*big.Int, 0, len(o.Hops))
	aggregators := make([]common.Address, 0, len(o.Hops))
	payloads := make([][]byte, 0, len(o.Hops))

	tokens = append(tokens, o.Hops[0].FromToken)
	for _, h := range o.Hops {
		tokens = append(tokens, h.ToToken)
		amounts = append(amounts, h.AmountIn)
		exec, ok := b.dir.ExecutorAddress(h.Source)
		if !ok {
			return nil, domain.E(domain.KindConfigInvalid, "no executor address for source "+h.Source)
		}
		aggregators = append(aggregators, exec)
		payloads = append(payloads, h.Payload)
	}

	calldata, err := contractABI.Pack("executeArbitrage",
		tokens, amounts, aggregators, payloads, o.AmountIn, minProfit)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: pack calldata: %w", err)
	}

	nonce, err := b.nextNonce()
	if err != nil {
		return nil, err
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   b.chainID,
		Nonce:     nonce,
		GasTipCap: params.MaxPriorityFeePerGas,
		GasFeeCap: params.MaxFeePerGas,
		Gas:       params.GasLimit,
		To:        &b.contract,
		Value:     big.NewInt(0),
		Data:      calldata,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(b.chainID), b.key)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: sign: %w", err)
	}
	return signed, nil
}

// Replace signs a same-nonce replacement of a previously built transaction
// with fees scaled by multiplier, the fee cap clamped to the configured
// ceiling and the tip to the fee cap. Recipient, value, calldata, and gas
// limit are copied from the original.
func (b *Builder) Replace(old *types.Transaction, multiplier float64) (*types.Transaction, error) {
	scale := func(v *big.Int) *big.Int {
		f := new(big.Float).Mul(new(big.Float).SetInt(v), big.NewFloat(multiplier))
		out, _ := f.Int(nil)
		return out
	}
	feeCap := scale(old.GasFeeCap())
	if feeCap.Cmp(b.maxFeeWei) > 0 {
		feeCap = new(big.Int).Set(b.maxFeeWei)
	}
	tipCap := scale(old.GasTipCap())
	if tipCap.Cmp(feeCap) > 0 {
		tipCap = new(big.Int).Set(feeCap)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   b.chainID,
		Nonce:     old.Nonce(),
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       old.Gas(),
		To:        old.To(),
		Value:     old.Value(),
		Data:      old.Data(),
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(b.chainID), b.key)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: sign replacement: %w", err)
	}
	return signed, nil
}

// Broadcast submits a signed transaction via the transport. On a nonce
// error it re-reads the pending nonce and returns a NonceMismatch error
// without resending; a failed re-read returns that error instead.
func (b *Builder) Broadcast(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	err := b.pool.Do(ctx, func(ctx context.Context, c *ethclient.Client) error {
		return c.SendTransaction(ctx, tx)
	})
	if err == nil {
		b.logger.Info("transaction broadcast",
			slog.String("hash", tx.Hash().Hex()),
			slog.Uint64("nonce", tx.Nonce()),
		)
		return tx.Hash(), nil
	}

	if isNonceError(err) {
		b.logger.Warn("nonce mismatch, resyncing", slog.String("error", err.Error()))
		if initErr := b.InitNonce(ctx); initErr != nil {
			return common.Hash{}, initErr
		}
		return common.Hash{}, domain.Wrap(domain.KindNonceMismatch, "broadcast", err)
	}
	return common.Hash{}, domain.Wrap(domain.KindBroadcastFailed, "broadcast", err)
}

func isNonceError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "nonce too high") ||
		strings.Contains(msg, "replacement transaction underpriced")
}
