package rewards

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arawrdn/CeloSBT-Weighted-Rewards/publish/contracts/sbtweightedrewards"
)

const (
	EnvSBTRewardAddress   = "SBT_REWARD_ADDRESS"
	EnvRewardTokenAddress = "REWARD_TOKEN_ADDRESS"
)

var (
	ErrMissingConfig  = errors.New("missing required configuration")
	ErrInvalidAddress = errors.New("invalid address")
)

// Config holds the addresses of the existing contracts the rewards contract
// is constructed with.
type Config struct {
	SBTRewardAddress   string `env:"SBT_REWARD_ADDRESS"`
	RewardTokenAddress string `env:"REWARD_TOKEN_ADDRESS"`
}

// Missing lists the environment variables that are unset or blank.
func (c Config) Missing() []string {
	var missing []string
	if strings.TrimSpace(c.SBTRewardAddress) == "" {
		missing = append(missing, EnvSBTRewardAddress)
	}
	if strings.TrimSpace(c.RewardTokenAddress) == "" {
		missing = append(missing, EnvRewardTokenAddress)
	}
	return missing
}

func (c Config) Validate() error {
	_, err := c.ConstructorArgs()
	return err
}

// ConstructorArgs checks presence before format so a missing value is always
// reported as missing.
func (c Config) ConstructorArgs() (sbtweightedrewards.ConstructorArgs, error) {
	if missing := c.Missing(); len(missing) > 0 {
		return sbtweightedrewards.ConstructorArgs{}, fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	sbt, err := parseAddress(EnvSBTRewardAddress, c.SBTRewardAddress)
	if err != nil {
		return sbtweightedrewards.ConstructorArgs{}, err
	}
	token, err := parseAddress(EnvRewardTokenAddress, c.RewardTokenAddress)
	if err != nil {
		return sbtweightedrewards.ConstructorArgs{}, err
	}
	return sbtweightedrewards.ConstructorArgs{SBTRegistry: sbt, RewardToken: token}, nil
}

func parseAddress(key, v string) (common.Address, error) {
	v = strings.TrimSpace(v)
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%w: %s=%q", ErrInvalidAddress, key, v)
	}
	return common.HexToAddress(v), nil
}
