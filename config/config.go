package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"escrowd/core"
	"escrowd/crypto"
	"escrowd/native/escrow"
)

// Asset declares a fungible asset registered at genesis.
type Asset struct {
	Symbol   string `toml:"Symbol"`
	Name     string `toml:"Name"`
	Decimals uint8  `toml:"Decimals"`
}

// Allocation funds an account at genesis.
type Allocation struct {
	Address string `toml:"Address"`
	Asset   string `toml:"Asset"`
	Amount  string `toml:"Amount"`
}

type Config struct {
	ListenAddress   string       `toml:"ListenAddress"`
	DataDir         string       `toml:"DataDir"`
	NetworkName     string       `toml:"NetworkName"`
	Env             string       `toml:"Env"`
	PlatformAccount string       `toml:"PlatformAccount"`
	FeeBps          uint32       `toml:"FeeBps"`
	Assets          []Asset      `toml:"Assets"`
	Alloc           []Allocation `toml:"Alloc"`
}

// Load reads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg, path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config, path string) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = filepath.Join(filepath.Dir(path), "escrowd-data")
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "escrow-local"
	}
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if cfg.FeeBps == 0 {
		cfg.FeeBps = 600
	}
	if len(cfg.Assets) == 0 {
		cfg.Assets = []Asset{{Symbol: "USDX", Name: "Synthetic dollar", Decimals: 6}}
	}
}

func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	cfg := &Config{PlatformAccount: key.PubKey().Address().String()}
	applyDefaults(cfg, path)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}

// Validate checks the configuration for values the node would reject.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.PlatformAccount) == "" {
		return fmt.Errorf("config: PlatformAccount must be set")
	}
	if _, err := c.PlatformAddress(); err != nil {
		return fmt.Errorf("config: invalid PlatformAccount: %w", err)
	}
	if c.FeeBps > escrow.MaxFeeBps {
		return fmt.Errorf("config: FeeBps must be <= %d, got %d", escrow.MaxFeeBps, c.FeeBps)
	}
	for _, asset := range c.Assets {
		if strings.TrimSpace(asset.Symbol) == "" {
			return fmt.Errorf("config: asset symbol must not be empty")
		}
		if strings.TrimSpace(asset.Name) == "" {
			return fmt.Errorf("config: asset %s: name must not be empty", asset.Symbol)
		}
	}
	for _, alloc := range c.Alloc {
		if _, err := crypto.DecodeAddress(strings.TrimSpace(alloc.Address)); err != nil {
			return fmt.Errorf("config: alloc address %q: %w", alloc.Address, err)
		}
		if _, ok := new(big.Int).SetString(strings.TrimSpace(alloc.Amount), 10); !ok {
			return fmt.Errorf("config: alloc amount %q is not a decimal integer", alloc.Amount)
		}
	}
	return nil
}

// PlatformAddress returns the platform fee account as raw bytes.
func (c *Config) PlatformAddress() ([20]byte, error) {
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(c.PlatformAccount))
	if err != nil {
		return [20]byte{}, err
	}
	var out [20]byte
	copy(out[:], decoded.Bytes())
	return out, nil
}

// GenesisAssets converts the configured assets into node genesis input.
func (c *Config) GenesisAssets() []core.AssetDefinition {
	defs := make([]core.AssetDefinition, 0, len(c.Assets))
	for _, asset := range c.Assets {
		defs = append(defs, core.AssetDefinition{
			Symbol:   asset.Symbol,
			Name:     asset.Name,
			Decimals: asset.Decimals,
		})
	}
	return defs
}

// GenesisAlloc converts the configured allocations into node genesis input.
// Validate must have accepted the configuration first.
func (c *Config) GenesisAlloc() ([]core.BalanceAllocation, error) {
	alloc := make([]core.BalanceAllocation, 0, len(c.Alloc))
	for _, entry := range c.Alloc {
		decoded, err := crypto.DecodeAddress(strings.TrimSpace(entry.Address))
		if err != nil {
			return nil, err
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(entry.Amount), 10)
		if !ok {
			return nil, fmt.Errorf("config: alloc amount %q is not a decimal integer", entry.Amount)
		}
		var addr [20]byte
		copy(addr[:], decoded.Bytes())
		alloc = append(alloc, core.BalanceAllocation{Address: addr, Asset: entry.Asset, Amount: amount})
	}
	return alloc, nil
}
