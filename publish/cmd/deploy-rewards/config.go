package main

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/arawrdn/CeloSBT-Weighted-Rewards/publish/rewards"
)

const (
	flagEnvFile        = "env-file"
	flagLogLevel       = "log-level"
	flagRPCURL         = "rpc-url"
	flagChainID        = "chain-id"
	flagPrivateKey     = "private-key"
	flagPublicAddress  = "public-address"
	flagSBTReward      = "sbt-reward-address"
	flagRewardToken    = "reward-token-address"
	flagArtifactsDir   = "artifacts-dir"
	flagGasLimit       = "gas-limit"
	flagGasFeeCap      = "gas-fee-cap"
	flagGasTipCap      = "gas-tip-cap"
	flagTimeoutSeconds = "timeout-seconds"
	flagPollInterval   = "poll-interval"
	flagCreate2Salt    = "create2-salt"
	flagSkipPreflight  = "skip-preflight"
)

type config struct {
	rewards.Config

	RPCURL        string `env:"RPC_URL"`
	ChainID       int64  `env:"CHAIN_ID"`
	PrivateKey    string `env:"PRIVATE_KEY"`
	PublicAddress string `env:"PUBLIC_ADDRESS"`
	ArtifactsDir  string `env:"ARTIFACTS_DIR" envDefault:"artifacts"`
	GasLimit      uint64 `env:"GAS_LIMIT"`
	GasFeeCap     int64  `env:"GAS_FEE_CAP"`
	GasTipCap     int64  `env:"GAS_TIP_CAP"`
	// TimeoutSeconds of 0 waits for confirmation without a deadline.
	TimeoutSeconds int           `env:"TIMEOUT_SECONDS"`
	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	Create2Salt    string        `env:"CREATE2_SALT"`
	SkipPreflight  bool          `env:"SKIP_PREFLIGHT"`
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: flagEnvFile, Value: ".env", Usage: "dotenv file loaded before reading the environment; existing variables win"},
		&cli.StringFlag{Name: flagLogLevel, Value: "info", Usage: "trace|debug|info|warn|error|crit", EnvVars: []string{"LOG_LEVEL"}},
	}
}

// deployFlags returns fresh flag values each call; urfave flags keep parse
// state and cannot be shared between commands.
func deployFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: flagRPCURL, Usage: "RPC URL (RPC_URL)"},
		&cli.Int64Flag{Name: flagChainID, Usage: "chain id, 0 asks the node (CHAIN_ID)"},
		&cli.StringFlag{Name: flagPrivateKey, Usage: "deployer private key hex (PRIVATE_KEY)"},
		&cli.StringFlag{Name: flagPublicAddress, Usage: "expected deployer address (PUBLIC_ADDRESS)"},
		&cli.StringFlag{Name: flagSBTReward, Usage: "SBT reward registry address (SBT_REWARD_ADDRESS)"},
		&cli.StringFlag{Name: flagRewardToken, Usage: "reward token address (REWARD_TOKEN_ADDRESS)"},
		&cli.StringFlag{Name: flagArtifactsDir, Usage: "Hardhat artifacts or Foundry out directory (ARTIFACTS_DIR)"},
		&cli.Uint64Flag{Name: flagGasLimit, Usage: "gas limit, 0 estimates (GAS_LIMIT)"},
		&cli.Int64Flag{Name: flagGasFeeCap, Usage: "EIP-1559 fee cap in wei, 0 suggests (GAS_FEE_CAP)"},
		&cli.Int64Flag{Name: flagGasTipCap, Usage: "EIP-1559 tip cap in wei, 0 suggests (GAS_TIP_CAP)"},
		&cli.IntFlag{Name: flagTimeoutSeconds, Usage: "overall timeout, 0 waits indefinitely (TIMEOUT_SECONDS)"},
		&cli.DurationFlag{Name: flagPollInterval, Usage: "receipt poll interval (POLL_INTERVAL)"},
		&cli.StringFlag{Name: flagCreate2Salt, Usage: "deploy through the CREATE2 factory with this salt suffix (CREATE2_SALT)"},
		&cli.BoolFlag{Name: flagSkipPreflight, Usage: "skip the code checks on the constructor addresses (SKIP_PREFLIGHT)"},
	}
}

// loadConfig reads the dotenv file, then the environment, then lets flags
// that were given on the command line override both. A deploy flag may appear
// before or after the subcommand; the one nearest the subcommand wins.
func loadConfig(c *cli.Context) (config, error) {
	if path := strings.TrimSpace(c.String(flagEnvFile)); path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, fmt.Errorf("parse env: %w", err)
	}

	if cc, ok := flagContext(c, flagRPCURL); ok {
		cfg.RPCURL = cc.String(flagRPCURL)
	}
	if cc, ok := flagContext(c, flagChainID); ok {
		cfg.ChainID = cc.Int64(flagChainID)
	}
	if cc, ok := flagContext(c, flagPrivateKey); ok {
		cfg.PrivateKey = cc.String(flagPrivateKey)
	}
	if cc, ok := flagContext(c, flagPublicAddress); ok {
		cfg.PublicAddress = cc.String(flagPublicAddress)
	}
	if cc, ok := flagContext(c, flagSBTReward); ok {
		cfg.SBTRewardAddress = cc.String(flagSBTReward)
	}
	if cc, ok := flagContext(c, flagRewardToken); ok {
		cfg.RewardTokenAddress = cc.String(flagRewardToken)
	}
	if cc, ok := flagContext(c, flagArtifactsDir); ok {
		cfg.ArtifactsDir = cc.String(flagArtifactsDir)
	}
	if cc, ok := flagContext(c, flagGasLimit); ok {
		cfg.GasLimit = cc.Uint64(flagGasLimit)
	}
	if cc, ok := flagContext(c, flagGasFeeCap); ok {
		cfg.GasFeeCap = cc.Int64(flagGasFeeCap)
	}
	if cc, ok := flagContext(c, flagGasTipCap); ok {
		cfg.GasTipCap = cc.Int64(flagGasTipCap)
	}
	if cc, ok := flagContext(c, flagTimeoutSeconds); ok {
		cfg.TimeoutSeconds = cc.Int(flagTimeoutSeconds)
	}
	if cc, ok := flagContext(c, flagPollInterval); ok {
		cfg.PollInterval = cc.Duration(flagPollInterval)
	}
	if cc, ok := flagContext(c, flagCreate2Salt); ok {
		cfg.Create2Salt = cc.String(flagCreate2Salt)
	}
	if cc, ok := flagContext(c, flagSkipPreflight); ok {
		cfg.SkipPreflight = cc.Bool(flagSkipPreflight)
	}
	return cfg, nil
}

// flagContext returns the innermost context in which name was given on the
// command line. The root app and each subcommand define the deploy flags, and
// a subcommand's unset copy must not hide a value given before it.
func flagContext(c *cli.Context, name string) (*cli.Context, bool) {
	for _, cc := range c.Lineage() {
		// The outermost context wraps the caller's context.Context only.
		if cc.Command == nil {
			continue
		}
		if slices.Contains(cc.LocalFlagNames(), name) {
			return cc, true
		}
	}
	return nil, false
}

// checkNetwork runs after the contract addresses are validated.
func (cfg config) checkNetwork() error {
	if strings.TrimSpace(cfg.RPCURL) == "" || strings.TrimSpace(cfg.PrivateKey) == "" {
		return errors.New("rpc-url and private-key are required")
	}
	if cfg.GasFeeCap < 0 || cfg.GasTipCap < 0 {
		return errors.New("gas-fee-cap and gas-tip-cap must not be negative")
	}
	if cfg.TimeoutSeconds < 0 {
		return errors.New("timeout-seconds must not be negative")
	}
	return nil
}
