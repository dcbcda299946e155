package config

import (
	"fmt"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config carries the endpoints the client talks to. The values are opaque:
// they are passed through to the identity and ledger clients unmodified.
type Config struct {
	LedgerURL    string `env:"BRIX_LEDGER_URL,default=http://localhost:4943"`
	IdentityURL  string `env:"BRIX_IDENTITY_URL,default=http://localhost:4943"`
	IdentityKey  string `env:"BRIX_IDENTITY_ANON_KEY"`
	CollectionID string `env:"BRIX_COLLECTION_ID,default=magreste-main"`
}

func Load() (Config, error) {
	// A missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	cfg.LedgerURL = strings.TrimRight(strings.TrimSpace(cfg.LedgerURL), "/")
	cfg.IdentityURL = strings.TrimRight(strings.TrimSpace(cfg.IdentityURL), "/")
	if cfg.LedgerURL == "" {
		return Config{}, fmt.Errorf("BRIX_LEDGER_URL is required")
	}
	if cfg.IdentityURL == "" {
		return Config{}, fmt.Errorf("BRIX_IDENTITY_URL is required")
	}
	return cfg, nil
}
