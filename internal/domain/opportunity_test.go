package domain

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	weth = common.HexToAddress("0x4200000000000000000000000000000000000006")
	usdc = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	cbeth = common.HexToAddress("0x2Ae3F1Ec7F1F5012CFEab0185bfc7aa3cf0DEc22")
)

func cycleOpportunity() *Opportunity {
	return &Opportunity{
		ID:       "test",
		Kind:     OpportunityTriangular,
		AmountIn: big.NewInt(1e18),
		Hops: []Hop{
			{FromToken: weth, ToToken: usdc, AmountIn: big.NewInt(1e18)},
			{FromToken: usdc, ToToken: cbeth, AmountIn: big.NewInt(1825e6)},
			{FromToken: cbeth, ToToken: weth, AmountIn: big.NewInt(6e17)},
		},
		Deadline: time.Now().Add(time.Minute),
	}
}

func TestValidateClosedCycle(t *testing.T) {
	o := cycleOpportunity()
	if err := o.Validate(time.Now()); err != nil {
		t.Fatalf("valid cycle rejected: %v", err)
	}
	if o.Hops[0].FromToken != o.Hops[len(o.Hops)-1].ToToken {
		t.Fatal("cycle invariant broken in fixture")
	}
}

func TestValidateEmptyHops(t *testing.T) {
	o := &Opportunity{AmountIn: big.NewInt(1)}
	err := o.Validate(time.Now())
	if err == nil {
		t.Fatal("empty hops accepted")
	}
	if KindOf(err) != KindConfigInvalid {
		t.Fatalf("expected config_invalid, got %s", KindOf(err))
	}
}

func TestValidateOpenCycle(t *testing.T) {
	o := cycleOpportunity()
	o.Hops[2].ToToken = usdc
	if err := o.Validate(time.Now()); err == nil {
		t.Fatal("open cycle accepted")
	}
}

func TestValidateBrokenContinuity(t *testing.T) {
	o := cycleOpportunity()
	o.Hops[1].FromToken = cbeth
	if err := o.Validate(time.Now()); err == nil {
		t.Fatal("discontinuous path accepted")
	}
}

func TestValidateStaleDeadline(t *testing.T) {
	o := cycleOpportunity()
	o.Deadline = time.Now().Add(-time.Second)
	err := o.Validate(time.Now())
	if !errors.Is(err, ErrStaleOpportunity) {
		t.Fatalf("expected stale error, got %v", err)
	}
}

func TestValidateNonPositiveAmounts(t *testing.T) {
	o := cycleOpportunity()
	o.Hops[1].AmountIn = big.NewInt(0)
	if err := o.Validate(time.Now()); err == nil {
		t.Fatal("zero hop amountIn accepted")
	}

	o = cycleOpportunity()
	o.AmountIn = big.NewInt(-5)
	if err := o.Validate(time.Now()); err == nil {
		t.Fatal("negative amountIn accepted")
	}
}

func TestTokensDeduplicates(t *testing.T) {
	o := cycleOpportunity()
	tokens := o.Tokens()
	if len(tokens) != 3 {
		t.Fatalf("expected 3 distinct tokens, got %d", len(tokens))
	}
	if tokens[0] != weth {
		t.Fatalf("expected flash asset first, got %s", tokens[0].Hex())
	}
}

func TestErrorKindDispatch(t *testing.T) {
	err := Wrap(KindMEVVeto, "sandwich risk", ErrNoQuote)
	if KindOf(err) != KindMEVVeto {
		t.Fatalf("kind lost through wrap: %s", KindOf(err))
	}
	if !errors.Is(err, ErrNoQuote) {
		t.Fatal("cause lost through wrap")
	}
	if !KindOf(err).Veto() {
		t.Fatal("mev_veto should be a veto kind")
	}
	if KindOf(err).CycleError() {
		t.Fatal("mev_veto must not count as cycle error")
	}
	if !KindBroadcastFailed.CycleError() {
		t.Fatal("broadcast_failed should be a cycle error")
	}
}
