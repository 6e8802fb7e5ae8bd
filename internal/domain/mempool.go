package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MEVPattern classifies a pending transaction's likely intent.
type MEVPattern int

const (
	MEVNone MEVPattern = iota
	MEVSandwich
	MEVFrontrun
	MEVBackrun
	MEVArbitrage
	MEVLiquidity
)

func (p MEVPattern) String() string {
	switch p {
	case MEVSandwich:
		return "sandwich"
	case MEVFrontrun:
		return "frontrun"
	case MEVBackrun:
		return "backrun"
	case MEVArbitrage:
		return "arbitrage"
	case MEVLiquidity:
		return "liquidity_mev"
	default:
		return "none"
	}
}

// PendingObservation is a classified mempool transaction retained in the
// guard's sliding window.
type PendingObservation struct {
	Hash       common.Hash
	From       common.Address
	To         common.Address
	Selector   [4]byte
	GasFeeCap  *big.Int
	GasTipCap  *big.Int
	ValueWei   *big.Int
	Pattern    MEVPattern
	Confidence float64
	// PathTokens are token addresses decoded from the calldata, when the
	// selector is a known swap shape.
	PathTokens []common.Address
	SeenAt     time.Time
}

// GuardVerdict is the result of the MEV guard's four-veto evaluation.
type GuardVerdict struct {
	Safe   bool
	Reason string
}

// PendingTx tracks one broadcast transaction until receipt or timeout.
type PendingTx struct {
	Hash          common.Hash
	Nonce         uint64
	OpportunityID string
	SubmittedAt   time.Time
	GasFeeCap     *big.Int
}
