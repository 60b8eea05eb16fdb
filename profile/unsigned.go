// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package profile

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
)

// UnsignedTx is the json handed to SignEvmTransaction. Fields left out are
// filled by the signer: From defaults to the authorized account and Nonce to
// its pending nonce.
type UnsignedTx struct {
	From                 *common.Address   `json:"from,omitempty"`
	To                   *common.Address   `json:"to,omitempty"`
	Gas                  hexutil.Uint64    `json:"gas,omitempty"`
	GasPrice             *hexutil.Big      `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big      `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big      `json:"maxPriorityFeePerGas,omitempty"`
	Value                *hexutil.Big      `json:"value,omitempty"`
	Nonce                *hexutil.Uint64   `json:"nonce,omitempty"`
	Data                 *hexutil.Bytes    `json:"data,omitempty"`
	Input                *hexutil.Bytes    `json:"input,omitempty"`
	AccessList           *types.AccessList `json:"accessList,omitempty"`
	ChainID              *hexutil.Big      `json:"chainId,omitempty"`
}

// NewUnsignedTx converts args. SendTxArgs cannot tell nonce 0 from an unset
// nonce, so the result leaves the nonce to the signer.
func NewUnsignedTx(args *apitypes.SendTxArgs) *UnsignedTx {
	tx := &UnsignedTx{
		Gas:                  args.Gas,
		GasPrice:             args.GasPrice,
		MaxFeePerGas:         args.MaxFeePerGas,
		MaxPriorityFeePerGas: args.MaxPriorityFeePerGas,
		Data:                 args.Data,
		Input:                args.Input,
		AccessList:           args.AccessList,
		ChainID:              args.ChainID,
	}
	if from := args.From.Address(); from != (common.Address{}) {
		tx.From = &from
	}
	if args.To != nil {
		to := args.To.Address()
		tx.To = &to
	}
	if args.Value.ToInt().Sign() != 0 {
		value := args.Value
		tx.Value = &value
	}
	return tx
}

// UnmarshalJSON also accepts the "0x" from that a zero SendTxArgs marshals to.
func (tx *UnsignedTx) UnmarshalJSON(input []byte) error {
	type plain UnsignedTx
	var dec struct {
		plain
		From string `json:"from"`
	}
	if err := json.Unmarshal(input, &dec); err != nil {
		return err
	}
	*tx = UnsignedTx(dec.plain)
	tx.From = nil
	if dec.From == "" || dec.From == "0x" {
		return nil
	}
	if !common.IsHexAddress(dec.From) {
		return errors.Errorf("bad from address %q", dec.From)
	}
	from := common.HexToAddress(dec.From)
	tx.From = &from
	return nil
}

func (tx *UnsignedTx) sendTxArgs() *apitypes.SendTxArgs {
	args := &apitypes.SendTxArgs{
		Gas:                  tx.Gas,
		GasPrice:             tx.GasPrice,
		MaxFeePerGas:         tx.MaxFeePerGas,
		MaxPriorityFeePerGas: tx.MaxPriorityFeePerGas,
		Data:                 tx.Data,
		Input:                tx.Input,
		AccessList:           tx.AccessList,
		ChainID:              tx.ChainID,
	}
	if tx.From != nil {
		args.From = common.NewMixedcaseAddress(*tx.From)
	}
	if tx.To != nil {
		to := common.NewMixedcaseAddress(*tx.To)
		args.To = &to
	}
	if tx.Value != nil {
		args.Value = *tx.Value
	}
	if tx.Nonce != nil {
		args.Nonce = *tx.Nonce
	}
	return args
}
