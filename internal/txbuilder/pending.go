package txbuilder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/kitefin/arbot/internal/chain"
	"github.com/kitefin/arbot/internal/domain"
)

// confirmPollInterval is how often WaitReceipt polls for the receipt.
const confirmPollInterval = 2 * time.Second

// PendingTracker records broadcast transactions until receipt or timeout.
type PendingTracker struct {
	pool   *chain.Pool
	logger *slog.Logger

	mu      sync.Mutex
	pending map[common.Hash]*domain.PendingTx
}

// NewPendingTracker creates a PendingTracker over the transport pool.
func NewPendingTracker(pool *chain.Pool, logger *slog.Logger) *PendingTracker {
	return &PendingTracker{
		pool:    pool,
		logger:  logger.With(slog.String("component", "pending_tracker")),
		pending: make(map[common.Hash]*domain.PendingTx),
	}
}

// Track records a broadcast transaction.
func (t *PendingTracker) Track(tx *types.Transaction, opportunityID string) {
	t.mu.Lock()
	t.pending[tx.Hash()] = &domain.PendingTx{
		Hash:          tx.Hash(),
		Nonce:         tx.Nonce(),
		OpportunityID: opportunityID,
		SubmittedAt:   time.Now(),
		GasFeeCap:     tx.GasFeeCap(),
	}
	t.mu.Unlock()
}

// Count returns how many transactions are in flight.
func (t *PendingTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// remove drops a transaction from tracking.
func (t *PendingTracker) remove(hash common.Hash) {
	t.mu.Lock()
	delete(t.pending, hash)
	t.mu.Unlock()
}

// WaitReceipt polls for the transaction's receipt until timeout. A receipt
// with failed status surfaces as ContractReverted; expiry surfaces as
// ConfirmationTimeout. The transaction is untracked on either outcome.
func (t *PendingTracker) WaitReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		var receipt *types.Receipt
		err := t.pool.Do(ctx, func(ctx context.Context, c *ethclient.Client) error {
			var err error
			receipt, err = c.TransactionReceipt(ctx, hash)
			return err
		})
		if err == nil && receipt != nil {
			t.remove(hash)
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, domain.E(domain.KindContractReverted, "transaction reverted on-chain")
			}
			t.logger.Info("transaction confirmed",
				slog.String("hash", hash.Hex()),
				slog.Uint64("block", receipt.BlockNumber.Uint64()),
				slog.Uint64("gas_used", receipt.GasUsed),
			)
			return receipt, nil
		}

		if time.Now().After(deadline) {
			t.remove(hash)
			return nil, domain.E(domain.KindConfirmationTimeout, "no receipt within timeout for "+hash.Hex())
		}
	}
}

// Drain waits up to bound for all in-flight transactions to clear, used
// during graceful shutdown.
func (t *PendingTracker) Drain(ctx context.Context, bound time.Duration) {
	deadline := time.Now().Add(bound)
	for t.Count() > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
	if n := t.Count(); n > 0 {
		t.logger.Warn("shutdown with transactions still pending", slog.Int("count", n))
	}
}
