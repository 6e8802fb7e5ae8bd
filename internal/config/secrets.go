package config

import (
	"fmt"
	"os"
	"strings"
)

// Secrets holds credentials that must never appear in the TOML file. They are
// sourced exclusively from the process environment (optionally via .env).
type Secrets struct {
	// PrivateKey is the hex-encoded signing key. Mutually exclusive with
	// EncryptedKeyPath + KeyPassword.
	PrivateKey       string
	EncryptedKeyPath string
	KeyPassword      string

	// ContractAddress is the deployed flash-loan arbitrage contract.
	ContractAddress string
	// WalletAddress optionally overrides the address derived from the key.
	WalletAddress string

	// Per-provider API credentials. Empty means the provider's public tier.
	OdosAPIKey      string
	KyberAPIKey     string
	OpenOceanAPIKey string
	CoingeckoAPIKey string
	GoPlusAPIKey    string

	// Remote simulator (optional). When both are present the accountant
	// prefers remote simulation.
	SimulatorAccount string
	SimulatorKey     string

	// Alert channel credentials.
	TelegramToken  string
	TelegramChatID string
	DiscordWebhook string
}

// LoadSecrets reads all secret material from the environment.
func LoadSecrets() *Secrets {
	return &Secrets{
		PrivateKey:       os.Getenv("ARBOT_PRIVATE_KEY"),
		EncryptedKeyPath: os.Getenv("ARBOT_ENCRYPTED_KEY_PATH"),
		KeyPassword:      os.Getenv("ARBOT_KEY_PASSWORD"),
		ContractAddress:  os.Getenv("ARBOT_CONTRACT_ADDRESS"),
		WalletAddress:    os.Getenv("ARBOT_WALLET_ADDRESS"),
		OdosAPIKey:       os.Getenv("ARBOT_ODOS_API_KEY"),
		KyberAPIKey:      os.Getenv("ARBOT_KYBER_API_KEY"),
		OpenOceanAPIKey:  os.Getenv("ARBOT_OPENOCEAN_API_KEY"),
		CoingeckoAPIKey:  os.Getenv("ARBOT_COINGECKO_API_KEY"),
		GoPlusAPIKey:     os.Getenv("ARBOT_GOPLUS_API_KEY"),
		SimulatorAccount: os.Getenv("ARBOT_SIMULATOR_ACCOUNT"),
		SimulatorKey:     os.Getenv("ARBOT_SIMULATOR_KEY"),
		TelegramToken:    os.Getenv("ARBOT_TELEGRAM_TOKEN"),
		TelegramChatID:   os.Getenv("ARBOT_TELEGRAM_CHAT_ID"),
		DiscordWebhook:   os.Getenv("ARBOT_DISCORD_WEBHOOK"),
	}
}

// Validate checks that the secrets needed for live execution are present.
// In test mode neither the key nor the contract address is required; the
// mutual exclusion of the two key forms and the contract address format are
// checked in both modes.
func (s *Secrets) Validate(testMode bool) error {
	var errs []string

	hasHexKey := s.PrivateKey != ""
	hasKeyFile := s.EncryptedKeyPath != ""
	if !testMode {
		if !hasHexKey && !hasKeyFile {
			errs = append(errs, "one of ARBOT_PRIVATE_KEY or ARBOT_ENCRYPTED_KEY_PATH is required")
		}
		if hasKeyFile && s.KeyPassword == "" {
			errs = append(errs, "ARBOT_KEY_PASSWORD is required with ARBOT_ENCRYPTED_KEY_PATH")
		}
		if s.ContractAddress == "" {
			errs = append(errs, "ARBOT_CONTRACT_ADDRESS is required")
		}
	}
	if hasHexKey && hasKeyFile {
		errs = append(errs, "ARBOT_PRIVATE_KEY and ARBOT_ENCRYPTED_KEY_PATH are mutually exclusive")
	}
	if s.ContractAddress != "" && (!strings.HasPrefix(s.ContractAddress, "0x") || len(s.ContractAddress) != 42) {
		errs = append(errs, "ARBOT_CONTRACT_ADDRESS is not a 20-byte hex address")
	}

	if len(errs) > 0 {
		return fmt.Errorf("secrets: %s", strings.Join(errs, "; "))
	}
	return nil
}

// HasSimulator reports whether remote simulation credentials are configured.
func (s *Secrets) HasSimulator() bool {
	return s.SimulatorAccount != "" && s.SimulatorKey != ""
}
