package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config carries every deployment-variable constant the engine needs. The
// operator account, escrow account, fee rate and main-pool identity are
// deliberately configuration rather than hard-coded literals so multiple
// deployments and tests can vary them.
type Config struct {
	// Operator is the account the engine acts as during escrow hops and the
	// only identity allowed to run administrative purges.
	Operator string `toml:"Operator"`
	// Escrow is the intermediate account every settlement transits through.
	Escrow string `toml:"Escrow"`
	// Symbol names the single token the ledger tracks.
	Symbol string `toml:"Symbol"`
	// FeeBps is the flat service fee in basis points of the requested amount.
	FeeBps uint64 `toml:"FeeBps"`
	// MainPool is the account backing the guaranteed-liquidity fallback pool.
	MainPool string `toml:"MainPool"`
	// MainPoolRewardAccount receives the main pool's reward payouts.
	MainPoolRewardAccount string `toml:"MainPoolRewardAccount"`
	// MainPoolRewardBps is the fallback pool's reward rate in basis points.
	MainPoolRewardBps uint64 `toml:"MainPoolRewardBps"`
	// CollateralFloor is the minimum collateral, in raw token units, required
	// to register a pool.
	CollateralFloor int64 `toml:"CollateralFloor"`
	// LockCoefficient scales lock durations: lockSeconds is
	// LockCoefficient*100000 divided by the square root of the collateral.
	LockCoefficient int64 `toml:"LockCoefficient"`

	DataDir        string `toml:"DataDir"`
	RPCAddress     string `toml:"RPCAddress"`
	RPCBearerToken string `toml:"RPCBearerToken"`
	SweepSpec      string `toml:"SweepSpec"`
	LogFile        string `toml:"LogFile"`
	Environment    string `toml:"Environment"`
}

// Load loads the configuration from the given path, writing a default file
// first when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s contains unknown field %q", path, undecoded[0].String())
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Operator:              "pool.op",
		Escrow:                "escrow.pool",
		Symbol:                "AIM",
		FeeBps:                50,
		MainPool:              "mainpool",
		MainPoolRewardAccount: "mainpool",
		MainPoolRewardBps:     10,
		CollateralFloor:       1_000_000_000,
		LockCoefficient:       57_000,
		DataDir:               "./data",
		RPCAddress:            ":8645",
		SweepSpec:             "@every 1m",
		Environment:           "dev",
	}
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
