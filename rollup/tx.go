// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package rollup

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// RollupTx is a committed session, ready to be sent to the anchor either
// directly or wrapped in a meta transaction.
type RollupTx struct {
	Anchor       common.Address
	ChainID      *big.Int
	CondKeys     [][]byte
	CondValues   [][]byte
	UpdateKeys   [][]byte
	UpdateValues [][]byte
	Actions      [][]byte

	reader ChainReader
}

// Params is the ABI encoding of the conditional apply arguments, without selector.
func (tx *RollupTx) Params() ([]byte, error) {
	return AnchorABI.Methods["rollupU256CondEq"].Inputs.Pack(
		nonNil(tx.CondKeys), nonNil(tx.CondValues), nonNil(tx.UpdateKeys), nonNil(tx.UpdateValues), nonNil(tx.Actions),
	)
}

// Calldata calls the conditional apply entry point directly.
func (tx *RollupTx) Calldata() ([]byte, error) {
	return AnchorABI.Pack("rollupU256CondEq",
		nonNil(tx.CondKeys), nonNil(tx.CondValues), nonNil(tx.UpdateKeys), nonNil(tx.UpdateValues), nonNil(tx.Actions),
	)
}

// MetaTxNonce reads the nonce the anchor expects next from signer.
func (tx *RollupTx) MetaTxNonce(ctx context.Context, signer common.Address) (*big.Int, error) {
	if tx.reader == nil {
		return nil, errors.New("rollup transaction is not bound to a chain")
	}
	return MetaTxNonce(ctx, tx.reader, tx.Anchor, signer)
}

// DecodeParams is the inverse of Params.
func DecodeParams(data []byte) (*RollupTx, error) {
	out, err := AnchorABI.Methods["rollupU256CondEq"].Inputs.Unpack(data)
	if err != nil {
		return nil, err
	}
	if len(out) != 5 {
		return nil, errors.Errorf("expected 5 arguments, got %d", len(out))
	}
	var fields [5][][]byte
	for i := range fields {
		v, ok := out[i].([][]byte)
		if !ok {
			return nil, errors.Errorf("argument %d has type %T", i, out[i])
		}
		fields[i] = v
	}
	return &RollupTx{
		CondKeys:     fields[0],
		CondValues:   fields[1],
		UpdateKeys:   fields[2],
		UpdateValues: fields[3],
		Actions:      fields[4],
	}, nil
}

func nonNil(v [][]byte) [][]byte {
	if v == nil {
		return [][]byte{}
	}
	return v
}
