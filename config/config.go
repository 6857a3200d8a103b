package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	ethcommon "github.com/ethereum/go-ethereum/common"

	"usnd/exchange"
	"usnd/oracle"
	"usnd/pool"
)

// Node holds process-level settings.
type Node struct {
	DataDir     string `toml:"DataDir"`
	LogFile     string `toml:"LogFile"`
	Environment string `toml:"Environment"`
}

// Oracle locates the external price oracle.
type Oracle struct {
	Account        string   `toml:"Account"`
	AssetID        string   `toml:"AssetID"`
	RecencySeconds uint64   `toml:"RecencySeconds"`
	Feeders        []Feeder `toml:"Feeders"`
}

// Feeder registers an off-chain reporter allowed to sign price reports.
type Feeder struct {
	Provider string `toml:"Provider"`
	Address  string `toml:"Address"`
}

// Spread selects and parameterises the spread policy.
type Spread struct {
	Mode     string  `toml:"Mode"` // "fixed" or "adaptive"
	FixedPpm uint64  `toml:"FixedPpm"`
	Min      float64 `toml:"Min"`
	Max      float64 `toml:"Max"`
	Scaler   float64 `toml:"Scaler"`
}

// Pool locates the external stable pool.
type Pool struct {
	RefAccount   string `toml:"RefAccount"`
	USDTAccount  string `toml:"USDTAccount"`
	StablePoolID uint64 `toml:"StablePoolID"`
}

// Gateway configures the HTTP surface.
type Gateway struct {
	ListenAddress      string  `toml:"ListenAddress"`
	RateLimitPerSecond float64 `toml:"RateLimitPerSecond"`
	RateBurst          int     `toml:"RateBurst"`
}

// Config is the full usnd configuration.
type Config struct {
	ContractAccount string  `toml:"ContractAccount"`
	Owner           string  `toml:"Owner"`
	Node            Node    `toml:"node"`
	Oracle          Oracle  `toml:"oracle"`
	Spread          Spread  `toml:"spread"`
	Pool            Pool    `toml:"pool"`
	Gateway         Gateway `toml:"gateway"`
}

// Default returns the configuration the daemon falls back to when no file is
// present.
func Default() *Config {
	cfg := &Config{
		ContractAccount: "usn.near",
		Owner:           "usn.near",
	}
	cfg.Normalise()
	return cfg
}

// Load reads, normalises and validates the configuration at path. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalise trims identifiers and fills unset fields with working defaults.
func (c *Config) Normalise() {
	c.ContractAccount = strings.TrimSpace(c.ContractAccount)
	c.Owner = strings.TrimSpace(c.Owner)
	if c.Node.DataDir = strings.TrimSpace(c.Node.DataDir); c.Node.DataDir == "" {
		c.Node.DataDir = "./usnd-data"
	}
	c.Node.LogFile = strings.TrimSpace(c.Node.LogFile)
	if c.Node.Environment = strings.TrimSpace(c.Node.Environment); c.Node.Environment == "" {
		c.Node.Environment = "local"
	}
	if c.Oracle.Account = strings.TrimSpace(c.Oracle.Account); c.Oracle.Account == "" {
		c.Oracle.Account = "priceoracle.near"
	}
	if c.Oracle.AssetID = strings.TrimSpace(c.Oracle.AssetID); c.Oracle.AssetID == "" {
		c.Oracle.AssetID = "wrap.near"
	}
	if c.Oracle.RecencySeconds == 0 {
		c.Oracle.RecencySeconds = 60
	}
	for i := range c.Oracle.Feeders {
		c.Oracle.Feeders[i].Provider = strings.ToLower(strings.TrimSpace(c.Oracle.Feeders[i].Provider))
		c.Oracle.Feeders[i].Address = strings.TrimSpace(c.Oracle.Feeders[i].Address)
	}
	if c.Spread.Mode = strings.ToLower(strings.TrimSpace(c.Spread.Mode)); c.Spread.Mode == "" {
		c.Spread.Mode = "adaptive"
	}
	if c.Spread.Mode == "adaptive" && c.Spread.Min == 0 && c.Spread.Max == 0 && c.Spread.Scaler == 0 {
		c.Spread.Min = 0.001
		c.Spread.Max = 0.005
		c.Spread.Scaler = 0.0000075
	}
	c.Pool.RefAccount = strings.TrimSpace(c.Pool.RefAccount)
	c.Pool.USDTAccount = strings.TrimSpace(c.Pool.USDTAccount)
	if c.Gateway.ListenAddress = strings.TrimSpace(c.Gateway.ListenAddress); c.Gateway.ListenAddress == "" {
		c.Gateway.ListenAddress = ":8080"
	}
	if c.Gateway.RateLimitPerSecond <= 0 {
		c.Gateway.RateLimitPerSecond = 50
	}
	if c.Gateway.RateBurst <= 0 {
		c.Gateway.RateBurst = 100
	}
}

// Validate checks the configuration is internally consistent. The spread
// parameters pass through the same validation the contract applies.
func (c *Config) Validate() error {
	if c.ContractAccount == "" {
		return fmt.Errorf("config: ContractAccount required")
	}
	if c.Owner == "" {
		return fmt.Errorf("config: Owner required")
	}
	switch c.Spread.Mode {
	case "fixed", "adaptive":
	default:
		return fmt.Errorf("config: spread mode %q must be fixed or adaptive", c.Spread.Mode)
	}
	if _, err := c.SpreadConfig(); err != nil {
		return err
	}
	if c.Pool.RefAccount != "" || c.Pool.USDTAccount != "" {
		if err := c.PoolConfig().Validate(); err != nil {
			return err
		}
	}
	for _, feeder := range c.Oracle.Feeders {
		if feeder.Provider == "" {
			return fmt.Errorf("config: feeder provider required")
		}
		if !ethcommon.IsHexAddress(feeder.Address) {
			return fmt.Errorf("config: feeder %q address %q is not a hex address", feeder.Provider, feeder.Address)
		}
	}
	return nil
}

// Verifier builds the signed-report verifier from the feeder registry. It
// returns nil when no feeders are configured.
func (c *Config) Verifier() *oracle.Verifier {
	if len(c.Oracle.Feeders) == 0 {
		return nil
	}
	verifier := oracle.NewVerifier()
	for _, feeder := range c.Oracle.Feeders {
		verifier.RegisterSigner(feeder.Provider, ethcommon.HexToAddress(feeder.Address))
	}
	return verifier
}

// SpreadConfig builds the validated spread policy.
func (c *Config) SpreadConfig() (exchange.SpreadConfig, error) {
	if c.Spread.Mode == "fixed" {
		return exchange.NewFixedSpread(c.Spread.FixedPpm)
	}
	return exchange.NewAdaptiveSpread(exchange.AdaptiveSpreadParams{
		Min:    c.Spread.Min,
		Max:    c.Spread.Max,
		Scaler: c.Spread.Scaler,
	})
}

// PoolConfig builds the external pool locator.
func (c *Config) PoolConfig() pool.Config {
	return pool.Config{
		RefAccount:   c.Pool.RefAccount,
		USDTAccount:  c.Pool.USDTAccount,
		StablePoolID: c.Pool.StablePoolID,
	}
}
