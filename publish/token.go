package publish

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lmittmann/w3"
	"github.com/lmittmann/w3/module/eth"
)

var (
	funcSymbol   = w3.MustNewFunc("symbol()", "string")
	funcDecimals = w3.MustNewFunc("decimals()", "uint8")
)

type TokenMetadata struct {
	Symbol   string
	Decimals uint8
}

// TokenMetadata reads symbol() and decimals() of an ERC-20 in one batch.
func (d *Deployer) TokenMetadata(ctx context.Context, token common.Address) (TokenMetadata, error) {
	var md TokenMetadata
	if err := d.client.CallCtx(ctx,
		eth.CallFunc(token, funcSymbol).Returns(&md.Symbol),
		eth.CallFunc(token, funcDecimals).Returns(&md.Decimals),
	); err != nil {
		return TokenMetadata{}, fmt.Errorf("read token %s: %w", token.Hex(), err)
	}
	return md, nil
}
