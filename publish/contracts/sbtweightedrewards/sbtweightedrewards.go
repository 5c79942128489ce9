package sbtweightedrewards

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/afero"

	"github.com/arawrdn/CeloSBT-Weighted-Rewards/publish/artifacts"
)

const name = "SBTWeightedRewards"

type ConstructorArgs struct {
	SBTRegistry common.Address
	RewardToken common.Address
}

type Contract struct {
	factory *artifacts.Factory
}

func Name() string { return name }

func Load(fsys afero.Fs, dir string) (*Contract, error) {
	f, err := artifacts.Load(fsys, dir, name)
	if err != nil {
		return nil, err
	}
	return FromFactory(f)
}

// FromFactory checks the constructor is (address, address).
func FromFactory(f *artifacts.Factory) (*Contract, error) {
	inputs := f.ConstructorInputs()
	if len(inputs) != 2 || inputs[0] != "address" || inputs[1] != "address" {
		return nil, fmt.Errorf("%s constructor is %v, want [address address]", name, inputs)
	}
	return &Contract{factory: f}, nil
}

func (c *Contract) Bytecode() []byte {
	return c.factory.Bytecode
}

func (c *Contract) ArtifactPath() string {
	return c.factory.Path
}

func (c *Contract) EncodeDeploy(args ConstructorArgs) ([]byte, error) {
	return c.factory.DeployData(args.SBTRegistry, args.RewardToken)
}
