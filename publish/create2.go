package publish

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ArachnidCreate2Factory is the deterministic-deployment proxy present on most
// EVM chains. Calldata is salt ‖ initcode, the call returns the new address.
var ArachnidCreate2Factory = common.HexToAddress("0x4e59b44847b379578588920ca78fbf26c0b4956c")

func GenerateSalt(deployer common.Address, name string) [32]byte {
	return crypto.Keccak256Hash(deployer.Bytes(), []byte(name))
}

func PredictCreate2Address(factory common.Address, salt [32]byte, initCode []byte) common.Address {
	return crypto.CreateAddress2(factory, salt, crypto.Keccak256(initCode))
}

func (d *Deployer) DeployDeterministicViaArachnid(ctx context.Context, salt [32]byte, initCode []byte, gasLimit uint64) (DeployResult, error) {
	code, err := d.CodeAt(ctx, ArachnidCreate2Factory)
	if err != nil {
		return DeployResult{}, err
	}
	if len(code) == 0 {
		return DeployResult{}, fmt.Errorf("create2 factory %s is not deployed on chain %s", ArachnidCreate2Factory.Hex(), d.chainID)
	}

	data := make([]byte, 0, len(salt)+len(initCode))
	data = append(data, salt[:]...)
	data = append(data, initCode...)

	factory := ArachnidCreate2Factory
	tx, err := d.newDynamicFeeTx(ctx, &factory, data, gasLimit)
	if err != nil {
		return DeployResult{}, err
	}
	txHash, err := d.sendTx(ctx, tx)
	if err != nil {
		return DeployResult{}, err
	}

	return DeployResult{
		TxHash:          txHash,
		ContractAddress: PredictCreate2Address(ArachnidCreate2Factory, salt, initCode),
	}, nil
}
