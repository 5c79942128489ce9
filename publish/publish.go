package publish

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lmittmann/w3"
	"github.com/lmittmann/w3/module/eth"
	"github.com/lmittmann/w3/w3types"
)

const DefaultPollInterval = 2 * time.Second

var (
	ErrDeploymentReverted = errors.New("deployment reverted")
	ErrNoCode             = errors.New("no code at deployed address")
)

type (
	DeployResult struct {
		TxHash          common.Hash
		ContractAddress common.Address
		// Existing is set when nothing was sent because the contract is already deployed.
		Existing bool
	}

	DeployerConfig struct {
		RPCURL string
		// ChainID of 0 is resolved with eth_chainId.
		ChainID    int64
		PrivateKey *ecdsa.PrivateKey
		// Nil or zero fee caps are suggested from the node on each transaction.
		GasFeeCap    *big.Int
		GasTipCap    *big.Int
		PollInterval time.Duration
	}

	Deployer struct {
		client       *w3.Client
		chainID      *big.Int
		signer       types.Signer
		key          *ecdsa.PrivateKey
		address      common.Address
		gasFeeCap    *big.Int
		gasTipCap    *big.Int
		pollInterval time.Duration
	}
)

func NewDeployer(ctx context.Context, cfg DeployerConfig) (*Deployer, error) {
	if cfg.PrivateKey == nil {
		return nil, errors.New("private key is required")
	}
	client, err := w3.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		var id uint64
		if err := client.CallCtx(ctx, eth.ChainID().Returns(&id)); err != nil {
			client.Close()
			return nil, fmt.Errorf("get chain id: %w", err)
		}
		chainID = new(big.Int).SetUint64(id)
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &Deployer{
		client:       client,
		chainID:      chainID,
		signer:       types.NewLondonSigner(chainID),
		key:          cfg.PrivateKey,
		address:      crypto.PubkeyToAddress(cfg.PrivateKey.PublicKey),
		gasFeeCap:    cfg.GasFeeCap,
		gasTipCap:    cfg.GasTipCap,
		pollInterval: pollInterval,
	}, nil
}

func (d *Deployer) Address() common.Address {
	return d.address
}

func (d *Deployer) ChainID() *big.Int {
	return new(big.Int).Set(d.chainID)
}

func (d *Deployer) Close() error {
	return d.client.Close()
}

func (d *Deployer) NextNonce(ctx context.Context) (uint64, error) {
	var nonce uint64
	if err := d.client.CallCtx(ctx, eth.Nonce(d.address, nil).Returns(&nonce)); err != nil {
		return 0, fmt.Errorf("get nonce: %w", err)
	}
	return nonce, nil
}

func (d *Deployer) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	var code []byte
	if err := d.client.CallCtx(ctx, eth.Code(addr, nil).Returns(&code)); err != nil {
		return nil, fmt.Errorf("get code %s: %w", addr.Hex(), err)
	}
	return code, nil
}

func (d *Deployer) sendTx(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	signedTx, err := types.SignTx(tx, d.signer, d.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	var txHash common.Hash
	if err := d.client.CallCtx(ctx, eth.SendTx(signedTx).Returns(&txHash)); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}
	return txHash, nil
}

// estimateGas pads the node's estimate by 20%.
func (d *Deployer) estimateGas(ctx context.Context, to *common.Address, data []byte) (uint64, error) {
	var gas uint64
	msg := &w3types.Message{From: d.address, To: to, Input: data}
	if err := d.client.CallCtx(ctx, eth.EstimateGas(msg, nil).Returns(&gas)); err != nil {
		return 0, fmt.Errorf("estimate gas: %w", err)
	}
	return gas + gas/5, nil
}

func (d *Deployer) newDynamicFeeTx(ctx context.Context, to *common.Address, data []byte, gasLimit uint64) (*types.Transaction, error) {
	nonce, err := d.NextNonce(ctx)
	if err != nil {
		return nil, err
	}
	if gasLimit == 0 {
		if gasLimit, err = d.estimateGas(ctx, to, data); err != nil {
			return nil, err
		}
	}
	feeCap, tipCap, err := d.fees(ctx)
	if err != nil {
		return nil, err
	}

	//  EIP-1559 only
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   d.chainID,
		Nonce:     nonce,
		To:        to,
		GasFeeCap: feeCap,
		GasTipCap: tipCap,
		Gas:       gasLimit,
		Data:      data,
	}), nil
}

func (d *Deployer) DeployImplementation(ctx context.Context, bytecode []byte, gasLimit uint64) (DeployResult, error) {
	tx, err := d.newDynamicFeeTx(ctx, nil, bytecode, gasLimit)
	if err != nil {
		return DeployResult{}, err
	}

	contractAddr := crypto.CreateAddress(d.address, tx.Nonce())

	txHash, err := d.sendTx(ctx, tx)
	if err != nil {
		return DeployResult{}, err
	}

	return DeployResult{
		TxHash:          txHash,
		ContractAddress: contractAddr,
	}, nil
}

func (d *Deployer) PredictCreateAddress(ctx context.Context) (common.Address, error) {
	nonce, err := d.NextNonce(ctx)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.CreateAddress(d.address, nonce), nil
}

func (d *Deployer) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		var receipt *types.Receipt
		err := d.client.CallCtx(ctx, eth.TxReceipt(txHash).Returns(&receipt))
		if err == nil && receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForDeployment waits for the deployment transaction and checks that it
// left code behind.
func (d *Deployer) WaitForDeployment(ctx context.Context, result DeployResult) (*types.Receipt, error) {
	receipt, err := d.WaitForReceipt(ctx, result.TxHash)
	if err != nil {
		return nil, fmt.Errorf("wait receipt %s: %w", result.TxHash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrDeploymentReverted, receipt.TxHash.Hex())
	}
	code, err := d.CodeAt(ctx, result.ContractAddress)
	if err != nil {
		return receipt, err
	}
	if len(code) == 0 {
		return receipt, fmt.Errorf("%w: %s", ErrNoCode, result.ContractAddress.Hex())
	}
	return receipt, nil
}

// DecodeHex accepts hex with or without the 0x prefix.
func DecodeHex(hexStr string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(hexStr), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	return b, nil
}
