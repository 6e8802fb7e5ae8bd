package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.RPC.Nodes = []string{"https://mainnet.base.org"}
	cfg.Tokens.Base = []TokenEntry{
		{Address: "0x4200000000000000000000000000000000000006", Symbol: "WETH", Decimals: 18},
		{Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Symbol: "USDC", Decimals: 6, IsStable: true},
	}
	return cfg
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.ChainID = 0
	cfg.RPC.Nodes = nil
	cfg.Economics.MaxGasPriceGwei = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("broken config accepted")
	}
	msg := err.Error()
	for _, want := range []string{"chain_id", "rpc.nodes", "max_gas_price_gwei"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("error %q missing mention of %s", msg, want)
		}
	}
}

func TestValidateRejectsBadAddress(t *testing.T) {
	cfg := validConfig()
	cfg.Tokens.Base[0].Address = "not-an-address"
	if err := cfg.Validate(); err == nil {
		t.Fatal("malformed address accepted")
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	cfg := validConfig()
	cfg.ZScore.EntryThreshold = 0.4
	cfg.ZScore.ExitThreshold = 0.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("entry below exit accepted")
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
chain_id = 8453
log_level = "debug"

[rpc]
nodes = ["https://mainnet.base.org"]

[[tokens.base]]
address = "0x4200000000000000000000000000000000000006"
symbol = "WETH"
decimals = 18

[economics]
max_gas_price_gwei = 1.25
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level %q", cfg.LogLevel)
	}
	if cfg.Economics.MaxGasPriceGwei != 1.25 {
		t.Fatalf("max gas %f", cfg.Economics.MaxGasPriceGwei)
	}
	// Untouched sections keep their defaults.
	if cfg.Scanner.MaxHops != 6 {
		t.Fatalf("default max_hops lost: %d", cfg.Scanner.MaxHops)
	}
	if cfg.APILimits["odos"].RequestsPerMinute != 60 {
		t.Fatal("default api limits lost")
	}
}

func TestEnvOverrides(t *testing.T) {
	cfg := validConfig()
	t.Setenv("ARBOT_MAX_GAS_PRICE_GWEI", "3.5")
	t.Setenv("ARBOT_RPC_NODES", "https://a.example, https://b.example")
	t.Setenv("ARBOT_TEST_MODE", "true")

	applyEnvOverrides(&cfg)
	if cfg.Economics.MaxGasPriceGwei != 3.5 {
		t.Fatalf("env float override ignored: %f", cfg.Economics.MaxGasPriceGwei)
	}
	if len(cfg.RPC.Nodes) != 2 || cfg.RPC.Nodes[1] != "https://b.example" {
		t.Fatalf("env list override wrong: %v", cfg.RPC.Nodes)
	}
	if !cfg.TestMode {
		t.Fatal("env bool override ignored")
	}
}

func TestSecretsValidation(t *testing.T) {
	s := &Secrets{}
	if err := s.Validate(false); err == nil {
		t.Fatal("live mode without key accepted")
	}
	if err := s.Validate(true); err != nil {
		t.Fatalf("test mode should tolerate missing secrets: %v", err)
	}

	s = &Secrets{
		PrivateKey:       "0xabc",
		EncryptedKeyPath: "/tmp/key.json",
		ContractAddress:  "0x00000000000000000000000000000000000000c0",
	}
	if err := s.Validate(false); err == nil {
		t.Fatal("both key forms accepted")
	}

	s = &Secrets{
		PrivateKey:      "0xabc",
		ContractAddress: "bad",
	}
	if err := s.Validate(false); err == nil {
		t.Fatal("malformed contract address accepted")
	}
}
