// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package rollup

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const anchorABIJSON = `[
{"type":"function","name":"getStorage","stateMutability":"view",
 "inputs":[{"name":"key","type":"bytes"}],
 "outputs":[{"name":"","type":"bytes"}]},
{"type":"function","name":"metaTxGetNonce","stateMutability":"view",
 "inputs":[{"name":"signer","type":"address"}],
 "outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"rollupU256CondEq","stateMutability":"nonpayable",
 "inputs":[
  {"name":"condKeys","type":"bytes[]"},
  {"name":"condValues","type":"bytes[]"},
  {"name":"updateKeys","type":"bytes[]"},
  {"name":"updateValues","type":"bytes[]"},
  {"name":"actions","type":"bytes[]"}],
 "outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"metaTxRollupU256CondEq","stateMutability":"nonpayable",
 "inputs":[
  {"name":"req","type":"tuple","components":[
   {"name":"from","type":"address"},
   {"name":"nonce","type":"uint256"},
   {"name":"data","type":"bytes"}]},
  {"name":"signature","type":"bytes"}],
 "outputs":[{"name":"","type":"bool"}]}
]`

// AnchorABI describes the subset of the anchor contract used by the client.
var AnchorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(anchorABIJSON))
	if err != nil {
		panic(err)
	}
	AnchorABI = parsed
}

// ChainReader is the read side of the target chain. *ethclient.Client satisfies it.
type ChainReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

type anchorCaller struct {
	reader  ChainReader
	address common.Address
}

func (a *anchorCaller) call(ctx context.Context, block *big.Int, method string, args ...interface{}) ([]interface{}, error) {
	data, err := AnchorABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := a.reader.CallContract(ctx, ethereum.CallMsg{To: &a.address, Data: data}, block)
	if err != nil {
		return nil, err
	}
	return AnchorABI.Unpack(method, out)
}

func (a *anchorCaller) getStorage(ctx context.Context, block *big.Int, key []byte) ([]byte, error) {
	out, err := a.call(ctx, block, "getStorage", key)
	if err != nil {
		return nil, errors.Wrapf(ErrFailedToGetStorage, "key %x: %v", key, err)
	}
	value, ok := out[0].([]byte)
	if !ok {
		return nil, errors.Wrapf(ErrFailedToGetStorage, "key %x: unexpected output %T", key, out[0])
	}
	return value, nil
}

func (a *anchorCaller) metaTxNonce(ctx context.Context, signer common.Address) (*big.Int, error) {
	out, err := a.call(ctx, nil, "metaTxGetNonce", signer)
	if err != nil {
		return nil, err
	}
	nonce, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.Errorf("unexpected nonce output %T", out[0])
	}
	return nonce, nil
}

// MetaTxNonce returns the anchor's next expected meta transaction nonce for signer.
func MetaTxNonce(ctx context.Context, reader ChainReader, anchor, signer common.Address) (*big.Int, error) {
	caller := &anchorCaller{reader: reader, address: anchor}
	return caller.metaTxNonce(ctx, signer)
}
