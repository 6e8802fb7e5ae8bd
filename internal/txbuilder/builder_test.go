package txbuilder

import (
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/kitefin/arbot/internal/domain"
)

var (
	wethAddr = common.HexToAddress("0x4200000000000000000000000000000000000006")
	usdcAddr = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	contract = common.HexToAddress("0x00000000000000000000000000000000000000c0")
)

type staticDirectory map[string]common.Address

func (d staticDirectory) ExecutorAddress(source string) (common.Address, bool) {
	a, ok := d[source]
	return a, ok
}

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	dir := staticDirectory{
		"uniswap_v3": common.HexToAddress("0x2626664c2603336E57B271c5C0b26F421741e481"),
	}
	b := NewBuilder(key, common.Address{}, contract, 8453, 2.0, nil, dir,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	b.mu.Lock()
	b.nonce = 7
	b.nonceInit = true
	b.mu.Unlock()
	return b
}

func testOpportunity() *domain.Opportunity {
	in := big.NewInt(1e18)
	return &domain.Opportunity{
		ID:       "opp",
		AmountIn: in,
		Hops: []domain.Hop{
			{FromToken: wethAddr, ToToken: usdcAddr, AmountIn: in, Source: "uniswap_v3", Payload: []byte{0x01}},
			{FromToken: usdcAddr, ToToken: wethAddr, AmountIn: big.NewInt(1825e6), Source: "uniswap_v3", Payload: []byte{0x02}},
		},
		Deadline: time.Now().Add(time.Minute),
	}
}

func gasParams(feeGwei int64) domain.GasParams {
	fee := new(big.Int).Mul(big.NewInt(feeGwei), big.NewInt(1_000_000_000))
	return domain.GasParams{
		MaxFeePerGas:         fee,
		MaxPriorityFeePerGas: big.NewInt(100_000_000),
		GasLimit:             900_000,
	}
}

func TestBuildArbitrageSignsEIP1559(t *testing.T) {
	b := testBuilder(t)
	tx, err := b.BuildArbitrage(testOpportunity(), gasParams(1), big.NewInt(1))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if tx.Type() != 2 {
		t.Fatalf("tx type %d, want dynamic-fee", tx.Type())
	}
	if tx.ChainId().Int64() != 8453 {
		t.Fatalf("chain id %s", tx.ChainId())
	}
	if *tx.To() != contract {
		t.Fatalf("to %s", tx.To().Hex())
	}
	if tx.Nonce() != 7 {
		t.Fatalf("nonce %d, want 7", tx.Nonce())
	}
	if len(tx.Data()) == 0 {
		t.Fatal("calldata empty")
	}
}

func TestNonceMonotonicity(t *testing.T) {
	b := testBuilder(t)
	o := testOpportunity()

	tx1, err := b.BuildArbitrage(o, gasParams(1), big.NewInt(1))
	if err != nil {
		t.Fatal(err)
	}
	tx2, err := b.BuildArbitrage(o, gasParams(1), big.NewInt(1))
	if err != nil {
		t.Fatal(err)
	}
	if tx1.Nonce() >= tx2.Nonce() {
		t.Fatalf("nonces not increasing: %d then %d", tx1.Nonce(), tx2.Nonce())
	}
	if tx2.Nonce() != tx1.Nonce()+1 {
		t.Fatalf("nonce gap: %d then %d", tx1.Nonce(), tx2.Nonce())
	}
}

func TestBuildRejectsFeeOverCeiling(t *testing.T) {
	b := testBuilder(t)
	_, err := b.BuildArbitrage(testOpportunity(), gasParams(5), big.NewInt(1)) // 5 gwei > 2 gwei cap
	if err == nil {
		t.Fatal("fee over ceiling accepted")
	}
	if domain.KindOf(err) != domain.KindGasTooHigh {
		t.Fatalf("kind %s, want gas_too_high", domain.KindOf(err))
	}
}

func TestBuildRejectsEmptyHops(t *testing.T) {
	b := testBuilder(t)
	o := &domain.Opportunity{AmountIn: big.NewInt(1)}
	if _, err := b.BuildArbitrage(o, gasParams(1), big.NewInt(1)); err == nil {
		t.Fatal("hopless opportunity accepted")
	}
}

func TestBuildRejectsUnknownSource(t *testing.T) {
	b := testBuilder(t)
	o := testOpportunity()
	o.Hops[0].Source = "mystery_dex"
	if _, err := b.BuildArbitrage(o, gasParams(1), big.NewInt(1)); err == nil {
		t.Fatal("unknown routing source accepted")
	}
}

func TestReplaceScalesAndClamps(t *testing.T) {
	b := testBuilder(t)
	orig, err := b.BuildArbitrage(testOpportunity(), gasParams(1), big.NewInt(1))
	if err != nil {
		t.Fatal(err)
	}

	replaced, err := b.Replace(orig, 1.5)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if replaced.Nonce() != orig.Nonce() {
		t.Fatalf("replacement changed nonce: %d vs %d", replaced.Nonce(), orig.Nonce())
	}
	if replaced.GasFeeCap().Cmp(orig.GasFeeCap()) <= 0 {
		t.Fatal("replacement did not raise the fee cap")
	}

	// A huge multiplier still respects the configured ceiling.
	capped, err := b.Replace(orig, 100)
	if err != nil {
		t.Fatal(err)
	}
	ceiling := new(big.Int).Mul(big.NewInt(2), big.NewInt(1_000_000_000))
	if capped.GasFeeCap().Cmp(ceiling) > 0 {
		t.Fatalf("replacement fee %s above ceiling", capped.GasFeeCap())
	}
	if capped.GasTipCap().Cmp(capped.GasFeeCap()) > 0 {
		t.Fatal("tip above fee cap")
	}
}

func TestWalletDerivedFromKey(t *testing.T) {
	key, _ := ethcrypto.GenerateKey()
	b := NewBuilder(key, common.Address{}, contract, 8453, 2.0, nil, staticDirectory{},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if b.Wallet() != ethcrypto.PubkeyToAddress(key.PublicKey) {
		t.Fatal("wallet does not match key")
	}

	override := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	b = NewBuilder(key, override, contract, 8453, 2.0, nil, staticDirectory{},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if b.Wallet() != override {
		t.Fatal("wallet override ignored")
	}
}

func TestNextNonceRequiresInit(t *testing.T) {
	key, _ := ethcrypto.GenerateKey()
	b := NewBuilder(key, common.Address{}, contract, 8453, 2.0, nil, staticDirectory{},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := b.nextNonce(); err == nil {
		t.Fatal("uninitialized nonce counter handed out a nonce")
	}
}
