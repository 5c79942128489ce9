package publish

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lmittmann/w3/module/eth"
)

// fees returns the configured caps, asking the node for whichever is unset.
// The suggested fee cap is 2*baseFee + tip.
func (d *Deployer) fees(ctx context.Context) (*big.Int, *big.Int, error) {
	if isSet(d.gasFeeCap) && isSet(d.gasTipCap) {
		return d.gasFeeCap, d.gasTipCap, nil
	}

	var (
		tip    *big.Int
		header *types.Header
	)
	if err := d.client.CallCtx(ctx,
		eth.GasTipCap().Returns(&tip),
		eth.HeaderByNumber(nil).Returns(&header),
	); err != nil {
		return nil, nil, fmt.Errorf("suggest fees: %w", err)
	}
	if header == nil || header.BaseFee == nil {
		return nil, nil, errors.New("suggest fees: chain has no base fee, set gas-fee-cap and gas-tip-cap")
	}

	if isSet(d.gasTipCap) {
		tip = d.gasTipCap
	}
	feeCap := d.gasFeeCap
	if !isSet(feeCap) {
		feeCap = new(big.Int).Add(new(big.Int).Mul(header.BaseFee, big.NewInt(2)), tip)
	}
	if feeCap.Cmp(tip) < 0 {
		return nil, nil, fmt.Errorf("gas fee cap %s below tip cap %s", feeCap, tip)
	}
	return feeCap, tip, nil
}

func isSet(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
