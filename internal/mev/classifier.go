// Package mev observes the public mempool, classifies pending transactions
// by MEV pattern, and vetoes opportunities under adversarial conditions.
package mev

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kitefin/arbot/internal/domain"
)

// Well-known function selectors seen in DEX and MEV traffic.
var (
	selSwapExactTokens   = [4]byte{0x38, 0xed, 0x17, 0x39} // swapExactTokensForTokens
	selSwapExactETH      = [4]byte{0x7f, 0xf3, 0x6a, 0xb5} // swapExactETHForTokens
	selSwapTokensForETH  = [4]byte{0x18, 0xcb, 0xaf, 0xe5} // swapExactTokensForETH
	selExactInputSingle  = [4]byte{0x04, 0xe4, 0x5a, 0xaf} // exactInputSingle
	selExactInput        = [4]byte{0xc0, 0x4b, 0x8d, 0x59} // exactInput
	selMulticall         = [4]byte{0x5a, 0xe4, 0x01, 0xdc} // multicall(deadline,bytes[])
	selV2PairSwap        = [4]byte{0x02, 0x2c, 0x0d, 0x9f} // swap(uint,uint,address,bytes)
	selFlashLoan         = [4]byte{0xab, 0x9c, 0x4b, 0x5d} // flashLoan
	selFlashLoanSimple   = [4]byte{0x42, 0xb0, 0xb7, 0x7c} // flashLoanSimple
	selAddLiquidity      = [4]byte{0xe8, 0xe3, 0x37, 0x00} // addLiquidity
	selRemoveLiquidity   = [4]byte{0xba, 0xa2, 0xab, 0xde} // removeLiquidity
)

func isSwapSelector(sel [4]byte) bool {
	switch sel {
	case selSwapExactTokens, selSwapExactETH, selSwapTokensForETH,
		selExactInputSingle, selExactInput, selMulticall, selV2PairSwap:
		return true
	}
	return false
}

func isLiquiditySelector(sel [4]byte) bool {
	return sel == selAddLiquidity || sel == selRemoveLiquidity
}

func isFlashLoanSelector(sel [4]byte) bool {
	return sel == selFlashLoan || sel == selFlashLoanSimple
}

// highTipGwei marks a pending transaction as aggressively priced.
var highTipGwei = big.NewInt(5_000_000_000)

// Classifier assigns an MEV pattern and confidence to pending transactions.
// Classification is heuristic: selector shape, fee aggressiveness, and
// whether the sender is a known bot.
type Classifier struct {
	blacklist map[common.Address]bool
}

// NewClassifier creates a Classifier with the given known-bot addresses.
func NewClassifier(bots []common.Address) *Classifier {
	bl := make(map[common.Address]bool, len(bots))
	for _, a := range bots {
		bl[a] = true
	}
	return &Classifier{blacklist: bl}
}

// KnownBot reports whether the address is on the loaded blacklist.
func (c *Classifier) KnownBot(addr common.Address) bool {
	return c.blacklist[addr]
}

// Classify fills the observation's Pattern and Confidence.
func (c *Classifier) Classify(obs *domain.PendingObservation) {
	bot := c.blacklist[obs.From]
	aggressive := obs.GasTipCap != nil && obs.GasTipCap.Cmp(highTipGwei) > 0

	switch {
	case isFlashLoanSelector(obs.Selector):
		obs.Pattern = domain.MEVArbitrage
		obs.Confidence = 0.9

	case isSwapSelector(obs.Selector) && bot && aggressive:
		// A known bot paying over the odds for a swap is the leading edge
		// of a sandwich.
		obs.Pattern = domain.MEVSandwich
		obs.Confidence = 0.85

	case isSwapSelector(obs.Selector) && aggressive:
		obs.Pattern = domain.MEVFrontrun
		obs.Confidence = 0.6

	case isSwapSelector(obs.Selector) && bot:
		obs.Pattern = domain.MEVBackrun
		obs.Confidence = 0.55

	case isSwapSelector(obs.Selector) && len(obs.PathTokens) >= 3:
		// Multi-token paths from unknown senders look like arbitrage.
		obs.Pattern = domain.MEVArbitrage
		obs.Confidence = 0.5

	case isLiquiditySelector(obs.Selector) && aggressive:
		obs.Pattern = domain.MEVLiquidity
		obs.Confidence = 0.5

	default:
		obs.Pattern = domain.MEVNone
		obs.Confidence = 0
	}
}

// decodePathTokens extracts token addresses from swap calldata. It walks
// 32-byte words looking for address-shaped values; exact ABI decoding per
// router is not needed for overlap detection.
func decodePathTokens(input []byte) []common.Address {
	if len(input) < 4+32 {
		return nil
	}
	words := input[4:]
	out := make([]common.Address, 0, 4)
	seen := make(map[common.Address]bool)
	for i := 0; i+32 <= len(words) && len(out) < 8; i += 32 {
		word := words[i : i+32]
		// An address-shaped word has 12 leading zero bytes and a non-zero
		// remainder.
		zero := true
		for _, b := range word[:12] {
			if b != 0 {
				zero = false
				break
			}
		}
		if !zero {
			continue
		}
		addr := common.BytesToAddress(word[12:])
		if addr == (common.Address{}) || seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}

// observationFromRaw builds a PendingObservation from raw tx fields.
func observationFromRaw(hash common.Hash, from, to common.Address, input []byte, feeCap, tipCap, value *big.Int) *domain.PendingObservation {
	obs := &domain.PendingObservation{
		Hash:      hash,
		From:      from,
		To:        to,
		GasFeeCap: feeCap,
		GasTipCap: tipCap,
		ValueWei:  value,
		SeenAt:    time.Now(),
	}
	if len(input) >= 4 {
		copy(obs.Selector[:], input[:4])
		if isSwapSelector(obs.Selector) {
			obs.PathTokens = decodePathTokens(input)
		}
	}
	return obs
}
