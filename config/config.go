package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/gagliardetto/solana-go"

	"icosale/internal/logging"
	"icosale/internal/sales"
)

const (
	// DefaultProgramID and DefaultMint identify the deployed sale program
	// and the token it sells.
	DefaultProgramID = "7tLgLvXzTSL7PuN5YpRcM4jKgrLHXSPCwDbK2tGBX11u"
	DefaultMint      = "61zBTbeUcekGLVoLuNA15Mh8RUcHB9g91D7eh5xF1i3Z"

	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
)

type Config struct {
	ListenAddress string          `toml:"ListenAddress"`
	ProgramID     string          `toml:"ProgramID"`
	Mint          string          `toml:"Mint"`
	Pricing       sales.Pricing   `toml:"Pricing"`
	Storage       Storage         `toml:"Storage"`
	Log           logging.Options `toml:"Log"`
	RateLimit     RateLimit       `toml:"RateLimit"`
	Auth          Auth            `toml:"Auth"`

	// TrustedProxies may set X-Forwarded-For. Empty trusts none.
	TrustedProxies []string         `toml:"TrustedProxies"`
	Genesis        []GenesisAccount `toml:"Genesis"`
}

type Storage struct {
	Backend string `toml:"Backend"`
	Path    string `toml:"Path"`
}

type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// Auth bounds signed requests: how far a timestamp may drift from the
// server clock and how many recent nonces are remembered.
type Auth struct {
	MaxSkewSeconds int `toml:"MaxSkewSeconds"`
	NonceCacheSize int `toml:"NonceCacheSize"`
}

// GenesisAccount funds a wallet when the bank starts empty: native currency
// to the wallet and whole units to its associated token account.
type GenesisAccount struct {
	Owner    string `toml:"Owner"`
	Lamports uint64 `toml:"Lamports"`
	Units    uint64 `toml:"Units"`
}

// Default returns the configuration written when no file exists.
func Default() *Config {
	return &Config{
		ListenAddress: ":8081",
		ProgramID:     DefaultProgramID,
		Mint:          DefaultMint,
		Pricing:       sales.DefaultPricing(),
		Storage:       Storage{Backend: BackendMemory, Path: "./sale-data"},
		Log:           logging.Options{Level: "info", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28},
		RateLimit:     RateLimit{RequestsPerMinute: 120, Burst: 20},
		Auth:          Auth{MaxSkewSeconds: 300, NonceCacheSize: 1 << 16},
		Genesis:       []GenesisAccount{},
	}
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if strings.TrimSpace(cfg.Storage.Backend) == "" {
		cfg.Storage.Backend = BackendMemory
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks keys, pricing and storage settings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return errors.New("config: ListenAddress required")
	}
	if _, err := c.ProgramKey(); err != nil {
		return err
	}
	if _, err := c.MintKey(); err != nil {
		return err
	}
	if err := c.Pricing.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLevelDB:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return errors.New("config: Storage.Path required for leveldb")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if c.Auth.MaxSkewSeconds < 0 || c.Auth.NonceCacheSize < 0 {
		return errors.New("config: Auth values must not be negative")
	}
	for i, g := range c.Genesis {
		if _, err := solana.PublicKeyFromBase58(g.Owner); err != nil {
			return fmt.Errorf("config: Genesis[%d].Owner: %w", i, err)
		}
	}
	return nil
}

// ProgramKey parses ProgramID.
func (c *Config) ProgramKey() (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(c.ProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("config: ProgramID: %w", err)
	}
	return key, nil
}

// MintKey parses Mint.
func (c *Config) MintKey() (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(c.Mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("config: Mint: %w", err)
	}
	return key, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
