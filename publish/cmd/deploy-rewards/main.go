package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"github.com/arawrdn/CeloSBT-Weighted-Rewards/publish"
	"github.com/arawrdn/CeloSBT-Weighted-Rewards/publish/contracts/sbtweightedrewards"
	"github.com/arawrdn/CeloSBT-Weighted-Rewards/publish/rewards"
)

type report struct {
	Contract    string `json:"contract"`
	Mode        string `json:"mode"`
	ChainID     string `json:"chain_id"`
	Deployer    string `json:"deployer"`
	Address     string `json:"address"`
	TxHash      string `json:"tx_hash,omitempty"`
	BlockNumber string `json:"block_number,omitempty"`
	Existing    bool   `json:"existing,omitempty"`
}

type app struct {
	stdout io.Writer
	logOut io.Writer
	lgr    log.Logger
	fs     afero.Fs
	// dial is replaced in tests.
	dial func(ctx context.Context, cfg publish.DeployerConfig) (deployer, error)
}

type deployer interface {
	rewards.Backend
	ChainID() *big.Int
	PredictCreateAddress(ctx context.Context) (common.Address, error)
	Close() error
}

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run returns the process exit status. The signal context is released before
// main exits.
func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(stdout, stderr).run(ctx, args); err != nil {
		return 1
	}
	return 0
}

// run logs any failure before returning it; main turns it into exit status 1.
func (a *app) run(ctx context.Context, args []string) error {
	if err := a.cli().RunContext(ctx, args); err != nil {
		a.lgr.Error("Deployment failed", "err", err)
		return err
	}
	return nil
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout: stdout,
		logOut: stderr,
		lgr:    log.NewLogger(log.NewTerminalHandlerWithLevel(stderr, log.LevelInfo, false)),
		fs:     afero.NewOsFs(),
		dial: func(ctx context.Context, cfg publish.DeployerConfig) (deployer, error) {
			return publish.NewDeployer(ctx, cfg)
		},
	}
}

func (a *app) cli() *cli.App {
	return &cli.App{
		Name:      "deploy-rewards",
		Usage:     "deploys SBTWeightedRewards against an existing SBT reward registry and reward token",
		Writer:    a.stdout,
		ErrWriter: a.logOut,
		Flags:     append(globalFlags(), deployFlags()...),
		Before:    a.setupLogger,
		Action:    a.deployCmd,
		Commands: []*cli.Command{
			{
				Name:   "deploy",
				Usage:  "deploys the contract and waits for confirmation (default)",
				Flags:  deployFlags(),
				Action: a.deployCmd,
			},
			{
				Name:   "predict",
				Usage:  "prints the address the next deployment would use without sending anything",
				Flags:  deployFlags(),
				Action: a.predictCmd,
			},
		},
	}
}

func (a *app) setupLogger(c *cli.Context) error {
	lvl, err := parseLevel(c.String(flagLogLevel))
	if err != nil {
		return fmt.Errorf("log-level: %w", err)
	}
	a.lgr = log.NewLogger(log.NewTerminalHandlerWithLevel(a.logOut, lvl, false))
	log.SetDefault(a.lgr)
	return nil
}

// prepare loads configuration and dials the node. The contract addresses are
// validated before any connection is made.
func (a *app) prepare(c *cli.Context) (config, deployer, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return config{}, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return config{}, nil, err
	}
	if err := cfg.checkNetwork(); err != nil {
		return config{}, nil, err
	}

	key, deployerAddr, err := parsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return config{}, nil, err
	}
	if cfg.PublicAddress != "" {
		pub, err := parseAddress(cfg.PublicAddress)
		if err != nil {
			return config{}, nil, err
		}
		if pub != deployerAddr {
			return config{}, nil, fmt.Errorf("public-address %s does not match private key address %s", pub.Hex(), deployerAddr.Hex())
		}
	}

	d, err := a.dial(c.Context, publish.DeployerConfig{
		RPCURL:       cfg.RPCURL,
		ChainID:      cfg.ChainID,
		PrivateKey:   key,
		GasFeeCap:    big.NewInt(cfg.GasFeeCap),
		GasTipCap:    big.NewInt(cfg.GasTipCap),
		PollInterval: cfg.PollInterval,
	})
	if err != nil {
		return config{}, nil, err
	}
	return cfg, d, nil
}

func (a *app) deployCmd(c *cli.Context) error {
	cfg, d, err := a.prepare(c)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := c.Context
	if cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	res, err := rewards.Run(ctx, a.lgr, rewards.Options{
		Config:       cfg.Config,
		Artifacts:    a.fs,
		ArtifactsDir: cfg.ArtifactsDir,
		GasLimit:     cfg.GasLimit,
		Create2Salt:  cfg.Create2Salt,
		Preflight:    !cfg.SkipPreflight,
	}, d)
	if err != nil {
		return err
	}

	out := report{
		Contract: res.Contract,
		Mode:     string(res.Mode),
		ChainID:  d.ChainID().String(),
		Deployer: res.Deployer.Hex(),
		Address:  res.Address.Hex(),
		Existing: res.Existing,
	}
	if res.TxHash != (common.Hash{}) {
		out.TxHash = res.TxHash.Hex()
	}
	if res.BlockNumber != nil {
		out.BlockNumber = res.BlockNumber.String()
	}
	return a.printReport(out)
}

func (a *app) predictCmd(c *cli.Context) error {
	cfg, d, err := a.prepare(c)
	if err != nil {
		return err
	}
	defer d.Close()

	out := report{
		Contract: sbtweightedrewards.Name(),
		Mode:     string(rewards.ModeCreate),
		ChainID:  d.ChainID().String(),
		Deployer: d.Address().Hex(),
	}

	if salt := strings.TrimSpace(cfg.Create2Salt); salt != "" {
		args, err := cfg.ConstructorArgs()
		if err != nil {
			return err
		}
		contract, err := sbtweightedrewards.Load(a.fs, cfg.ArtifactsDir)
		if err != nil {
			return err
		}
		initCode, err := contract.EncodeDeploy(args)
		if err != nil {
			return err
		}
		addr := publish.PredictCreate2Address(publish.ArachnidCreate2Factory, rewards.Create2Salt(d.Address(), salt), initCode)
		code, err := d.CodeAt(c.Context, addr)
		if err != nil {
			return err
		}
		out.Mode = string(rewards.ModeCreate2)
		out.Address = addr.Hex()
		out.Existing = len(code) > 0
		return a.printReport(out)
	}

	addr, err := d.PredictCreateAddress(c.Context)
	if err != nil {
		return err
	}
	out.Address = addr.Hex()
	return a.printReport(out)
}

func (a *app) printReport(out report) error {
	blob, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.stdout, string(blob))
	return err
}

// parseLevel accepts the slog level names plus geth's trace and crit.
func parseLevel(v string) (slog.Level, error) {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "trace":
		return log.LevelTrace, nil
	case "crit":
		return log.LevelCrit, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return 0, err
	}
	return lvl, nil
}

func parsePrivateKey(v string) (*ecdsa.PrivateKey, common.Address, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "0x")
	key, err := crypto.HexToECDSA(v)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("parse private key: %w", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

func parseAddress(v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("invalid address: %s", v)
	}
	return common.HexToAddress(v), nil
}
