// Package rewards deploys SBTWeightedRewards against an existing SBT reward
// registry and reward token.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/afero"

	"github.com/arawrdn/CeloSBT-Weighted-Rewards/publish"
	"github.com/arawrdn/CeloSBT-Weighted-Rewards/publish/contracts/sbtweightedrewards"
)

var ErrNotAContract = errors.New("address has no contract code")

type Mode string

const (
	ModeCreate  Mode = "create"
	ModeCreate2 Mode = "create2"
)

// Backend is the chain side of a deployment. *publish.Deployer implements it.
type Backend interface {
	Address() common.Address
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
	TokenMetadata(ctx context.Context, token common.Address) (publish.TokenMetadata, error)
	DeployImplementation(ctx context.Context, bytecode []byte, gasLimit uint64) (publish.DeployResult, error)
	DeployDeterministicViaArachnid(ctx context.Context, salt [32]byte, initCode []byte, gasLimit uint64) (publish.DeployResult, error)
	WaitForDeployment(ctx context.Context, result publish.DeployResult) (*types.Receipt, error)
}

type Options struct {
	Config

	Artifacts    afero.Fs
	ArtifactsDir string
	// GasLimit of 0 estimates.
	GasLimit uint64
	// Create2Salt selects a deterministic deployment when non-empty.
	Create2Salt string
	Preflight   bool
}

type Result struct {
	Contract    string
	Mode        Mode
	Deployer    common.Address
	Address     common.Address
	TxHash      common.Hash
	BlockNumber *big.Int
	// Existing is set when the CREATE2 address already held the contract.
	Existing bool
}

// Run performs a single deployment. It returns before touching the backend
// when the configuration is incomplete.
func Run(ctx context.Context, lgr log.Logger, opts Options, b Backend) (Result, error) {
	args, err := opts.ConstructorArgs()
	if err != nil {
		return Result{}, err
	}

	deployer := b.Address()
	lgr.Info("Deploying rewards contract", "account", deployer.Hex())

	if opts.Preflight {
		if err := Preflight(ctx, lgr, b, args); err != nil {
			return Result{}, err
		}
	}

	fsys := opts.Artifacts
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	contract, err := sbtweightedrewards.Load(fsys, opts.ArtifactsDir)
	if err != nil {
		return Result{}, fmt.Errorf("get contract factory %s: %w", sbtweightedrewards.Name(), err)
	}
	lgr.Debug("Loaded contract artifact", "path", contract.ArtifactPath(), "size", len(contract.Bytecode()))

	data, err := contract.EncodeDeploy(args)
	if err != nil {
		return Result{}, err
	}

	res := Result{Contract: sbtweightedrewards.Name(), Mode: ModeCreate, Deployer: deployer}

	var deployed publish.DeployResult
	if salt := strings.TrimSpace(opts.Create2Salt); salt != "" {
		res.Mode = ModeCreate2
		deployed, err = deployDeterministic(ctx, b, deployer, salt, data, opts.GasLimit)
	} else {
		deployed, err = b.DeployImplementation(ctx, data, opts.GasLimit)
	}
	if err != nil {
		return Result{}, fmt.Errorf("deploy %s: %w", res.Contract, err)
	}
	res.Address = deployed.ContractAddress
	res.TxHash = deployed.TxHash

	if deployed.Existing {
		res.Existing = true
		lgr.Info("SBTWeightedRewards already deployed", "address", res.Address.Hex())
		return res, nil
	}

	lgr.Info("Waiting for deployment", "tx", res.TxHash, "address", res.Address.Hex())
	receipt, err := b.WaitForDeployment(ctx, deployed)
	if err != nil {
		return Result{}, fmt.Errorf("wait %s deployment: %w", res.Contract, err)
	}
	res.BlockNumber = receipt.BlockNumber

	lgr.Info("SBTWeightedRewards deployed", "address", res.Address.Hex(), "tx", res.TxHash, "block", res.BlockNumber, "gas", receipt.GasUsed)
	return res, nil
}

func deployDeterministic(ctx context.Context, b Backend, deployer common.Address, saltSuffix string, initCode []byte, gasLimit uint64) (publish.DeployResult, error) {
	salt := Create2Salt(deployer, saltSuffix)
	predicted := publish.PredictCreate2Address(publish.ArachnidCreate2Factory, salt, initCode)
	code, err := b.CodeAt(ctx, predicted)
	if err != nil {
		return publish.DeployResult{}, err
	}
	if len(code) > 0 {
		return publish.DeployResult{ContractAddress: predicted, Existing: true}, nil
	}
	return b.DeployDeterministicViaArachnid(ctx, salt, initCode, gasLimit)
}

// Create2Salt derives the salt from the deployer and "SBTWeightedRewards:<suffix>".
func Create2Salt(deployer common.Address, suffix string) [32]byte {
	return publish.GenerateSalt(deployer, sbtweightedrewards.Name()+":"+strings.TrimSpace(suffix))
}

// Preflight checks both constructor addresses hold contracts and logs the
// reward token's metadata when it exposes one.
func Preflight(ctx context.Context, lgr log.Logger, b Backend, args sbtweightedrewards.ConstructorArgs) error {
	for _, target := range []struct {
		key  string
		addr common.Address
	}{
		{EnvSBTRewardAddress, args.SBTRegistry},
		{EnvRewardTokenAddress, args.RewardToken},
	} {
		code, err := b.CodeAt(ctx, target.addr)
		if err != nil {
			return fmt.Errorf("preflight %s: %w", target.key, err)
		}
		if len(code) == 0 {
			return fmt.Errorf("preflight %s: %w: %s", target.key, ErrNotAContract, target.addr.Hex())
		}
	}

	md, err := b.TokenMetadata(ctx, args.RewardToken)
	if err != nil {
		lgr.Warn("Reward token metadata unavailable", "token", args.RewardToken.Hex(), "err", err)
		return nil
	}
	lgr.Info("Reward token", "address", args.RewardToken.Hex(), "symbol", md.Symbol, "decimals", md.Decimals)
	return nil
}
