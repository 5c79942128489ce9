package publish

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var testBytecode = mustHexDecode("0x6080604052348015600f57600080fd5b50")

func mustHexDecode(hexStr string) []byte {
	b, err := DecodeHex(hexStr)
	if err != nil {
		panic(err.Error())
	}
	return b
}

func newTestDeployer(t *testing.T, url string, chainID int64, feeCap, tipCap *big.Int) *Deployer {
	t.Helper()
	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	d, err := NewDeployer(context.Background(), DeployerConfig{
		RPCURL:       url,
		ChainID:      chainID,
		PrivateKey:   key,
		GasFeeCap:    feeCap,
		GasTipCap:    tipCap,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func successfulReceipt(txHash common.Hash, contract common.Address) *types.Receipt {
	return &types.Receipt{
		Type:              types.DynamicFeeTxType,
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: 210_000,
		Logs:              []*types.Log{},
		TxHash:            txHash,
		ContractAddress:   contract,
		GasUsed:           210_000,
		EffectiveGasPrice: big.NewInt(1_000_000_000),
		BlockHash:         common.HexToHash("0x01"),
		BlockNumber:       big.NewInt(12),
	}
}

func TestDeployImplementation(t *testing.T) {
	node, url := newFakeNode(t)
	node.result("eth_getTransactionCount", hexutil.Uint64(7))

	d := newTestDeployer(t, url, 42220, big.NewInt(2_000_000_000), big.NewInt(1_000_000_000))
	require.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), d.Address())

	res, err := d.DeployImplementation(context.Background(), testBytecode, 500_000)
	require.NoError(t, err)

	require.Equal(t, 1, node.callCount("eth_sendRawTransaction"))
	sent := node.sentTxs()
	require.Len(t, sent, 1)
	tx := sent[0]
	require.Nil(t, tx.To())
	require.Equal(t, uint64(7), tx.Nonce())
	require.Equal(t, uint64(500_000), tx.Gas())
	require.Equal(t, testBytecode, tx.Data())
	require.Equal(t, big.NewInt(42220), tx.ChainId())
	require.Equal(t, tx.Hash(), res.TxHash)

	from, err := types.Sender(types.NewLondonSigner(big.NewInt(42220)), tx)
	require.NoError(t, err)
	require.Equal(t, d.Address(), from)
	require.Equal(t, crypto.CreateAddress(d.Address(), 7), res.ContractAddress)
	require.Zero(t, node.callCount("eth_estimateGas"))
}

func TestNewDeployerResolvesChainID(t *testing.T) {
	node, url := newFakeNode(t)
	node.result("eth_chainId", hexutil.Uint64(44787))

	d := newTestDeployer(t, url, 0, nil, nil)
	require.Equal(t, big.NewInt(44787), d.ChainID())
	require.Equal(t, 1, node.callCount("eth_chainId"))
}

func TestDeployImplementationEstimatesGasAndFees(t *testing.T) {
	node, url := newFakeNode(t)
	node.result("eth_getTransactionCount", hexutil.Uint64(0))
	node.result("eth_estimateGas", hexutil.Uint64(100_000))
	node.result("eth_maxPriorityFeePerGas", (*hexutil.Big)(big.NewInt(1_000_000_000)))
	node.result("eth_getBlockByNumber", &types.Header{
		Number:     big.NewInt(10),
		Difficulty: big.NewInt(0),
		GasLimit:   30_000_000,
		BaseFee:    big.NewInt(5_000_000_000),
	})

	d := newTestDeployer(t, url, 1337, nil, nil)
	_, err := d.DeployImplementation(context.Background(), testBytecode, 0)
	require.NoError(t, err)

	sent := node.sentTxs()
	require.Len(t, sent, 1)
	require.Equal(t, uint64(120_000), sent[0].Gas())
	require.Equal(t, big.NewInt(1_000_000_000), sent[0].GasTipCap())
	require.Equal(t, big.NewInt(11_000_000_000), sent[0].GasFeeCap())
}

func TestFeesRejectFeeCapBelowTip(t *testing.T) {
	node, url := newFakeNode(t)
	node.result("eth_maxPriorityFeePerGas", (*hexutil.Big)(big.NewInt(3_000_000_000)))
	node.result("eth_getBlockByNumber", &types.Header{
		Number:     big.NewInt(10),
		Difficulty: big.NewInt(0),
		BaseFee:    big.NewInt(1),
	})

	d := newTestDeployer(t, url, 1337, big.NewInt(1_000_000_000), nil)
	_, _, err := d.fees(context.Background())
	require.ErrorContains(t, err, "below tip cap")
}

func TestSendTxError(t *testing.T) {
	node, url := newFakeNode(t)
	node.result("eth_getTransactionCount", hexutil.Uint64(0))
	node.handle("eth_sendRawTransaction", func([]json.RawMessage) (any, error) {
		return nil, errors.New("insufficient funds for gas * price + value")
	})

	d := newTestDeployer(t, url, 1337, big.NewInt(2), big.NewInt(1))
	_, err := d.DeployImplementation(context.Background(), testBytecode, 100_000)
	require.ErrorContains(t, err, "send tx")
	require.ErrorContains(t, err, "insufficient funds")
	require.Equal(t, 1, node.callCount("eth_sendRawTransaction"))
}

func TestWaitForDeployment(t *testing.T) {
	contract := common.HexToAddress("0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC")
	txHash := common.HexToHash("0xabc")

	tests := []struct {
		name    string
		status  uint64
		code    hexutil.Bytes
		wantErr error
	}{
		{name: "success", status: types.ReceiptStatusSuccessful, code: testBytecode},
		{name: "reverted", status: types.ReceiptStatusFailed, code: testBytecode, wantErr: ErrDeploymentReverted},
		{name: "no code", status: types.ReceiptStatusSuccessful, code: hexutil.Bytes{}, wantErr: ErrNoCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, url := newFakeNode(t)
			var polls atomic.Int32
			node.handle("eth_getTransactionReceipt", func([]json.RawMessage) (any, error) {
				if polls.Add(1) < 3 {
					return nil, nil
				}
				r := successfulReceipt(txHash, contract)
				r.Status = tt.status
				return r, nil
			})
			node.result("eth_getCode", tt.code)

			d := newTestDeployer(t, url, 1337, big.NewInt(2), big.NewInt(1))
			receipt, err := d.WaitForDeployment(context.Background(), DeployResult{TxHash: txHash, ContractAddress: contract})
			require.GreaterOrEqual(t, polls.Load(), int32(3))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, big.NewInt(12), receipt.BlockNumber)
		})
	}
}

func TestWaitForReceiptHonoursContext(t *testing.T) {
	node, url := newFakeNode(t)
	node.result("eth_getTransactionReceipt", nil)

	d := newTestDeployer(t, url, 1337, big.NewInt(2), big.NewInt(1))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := d.WaitForReceipt(ctx, common.HexToHash("0xabc"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Positive(t, node.callCount("eth_getTransactionReceipt"))
}

func TestPredictCreate2Address(t *testing.T) {
	// EIP-1014 example 0.
	got := PredictCreate2Address(common.Address{}, [32]byte{}, []byte{0x00})
	require.Equal(t, common.HexToAddress("0x4D1A2e2bB4F88F0250f26Ffff098B0b30B26BF38"), got)
}

func TestGenerateSalt(t *testing.T) {
	a := common.HexToAddress("0x01")
	b := common.HexToAddress("0x02")
	require.Equal(t, GenerateSalt(a, "x"), GenerateSalt(a, "x"))
	require.NotEqual(t, GenerateSalt(a, "x"), GenerateSalt(b, "x"))
	require.NotEqual(t, GenerateSalt(a, "x"), GenerateSalt(a, "y"))
}

func TestDeployDeterministicViaArachnid(t *testing.T) {
	node, url := newFakeNode(t)
	node.result("eth_getTransactionCount", hexutil.Uint64(3))
	node.result("eth_getCode", hexutil.Bytes{0x60, 0x80})

	d := newTestDeployer(t, url, 1337, big.NewInt(2), big.NewInt(1))
	salt := GenerateSalt(d.Address(), "SBTWeightedRewards:v1")
	res, err := d.DeployDeterministicViaArachnid(context.Background(), salt, testBytecode, 900_000)
	require.NoError(t, err)

	sent := node.sentTxs()
	require.Len(t, sent, 1)
	require.Equal(t, sent[0].Hash(), res.TxHash)
	require.Equal(t, ArachnidCreate2Factory, *sent[0].To())
	require.Equal(t, append(salt[:], testBytecode...), sent[0].Data())
	require.Equal(t, PredictCreate2Address(ArachnidCreate2Factory, salt, testBytecode), res.ContractAddress)
}

func TestDeployDeterministicRequiresFactory(t *testing.T) {
	node, url := newFakeNode(t)
	node.result("eth_getCode", hexutil.Bytes{})

	d := newTestDeployer(t, url, 1337, big.NewInt(2), big.NewInt(1))
	_, err := d.DeployDeterministicViaArachnid(context.Background(), [32]byte{1}, testBytecode, 900_000)
	require.ErrorContains(t, err, "not deployed")
	require.Zero(t, node.callCount("eth_sendRawTransaction"))
}

func TestTokenMetadata(t *testing.T) {
	stringT, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	uint8T, err := abi.NewType("uint8", "", nil)
	require.NoError(t, err)
	symbolOut, err := abi.Arguments{{Type: stringT}}.Pack("cUSD")
	require.NoError(t, err)
	decimalsOut, err := abi.Arguments{{Type: uint8T}}.Pack(uint8(18))
	require.NoError(t, err)

	symbolSel := crypto.Keccak256([]byte("symbol()"))[:4]

	node, url := newFakeNode(t)
	node.handle("eth_call", func(params []json.RawMessage) (any, error) {
		var msg map[string]json.RawMessage
		if err := json.Unmarshal(params[0], &msg); err != nil {
			return nil, err
		}
		raw, ok := msg["input"]
		if !ok {
			raw = msg["data"]
		}
		var input hexutil.Bytes
		if err := json.Unmarshal(raw, &input); err != nil {
			return nil, err
		}
		if len(input) >= 4 && string(input[:4]) == string(symbolSel) {
			return hexutil.Bytes(symbolOut), nil
		}
		return hexutil.Bytes(decimalsOut), nil
	})

	d := newTestDeployer(t, url, 1337, big.NewInt(2), big.NewInt(1))
	md, err := d.TokenMetadata(context.Background(), common.HexToAddress("0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"))
	require.NoError(t, err)
	require.Equal(t, TokenMetadata{Symbol: "cUSD", Decimals: 18}, md)
}

func TestDecodeHex(t *testing.T) {
	b, err := DecodeHex("0x6080")
	require.NoError(t, err)
	require.Equal(t, []byte{0x60, 0x80}, b)

	b, err = DecodeHex("6080")
	require.NoError(t, err)
	require.Equal(t, []byte{0x60, 0x80}, b)

	_, err = DecodeHex("0xzz")
	require.Error(t, err)
}
