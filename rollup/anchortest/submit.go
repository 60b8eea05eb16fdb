// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package anchortest

import (
	"context"
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Submit signs args with key as a legacy transaction and sends it.
func (a *Anchor) Submit(ctx context.Context, key *ecdsa.PrivateKey, args *apitypes.SendTxArgs) (common.Hash, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)
	nonce, err := a.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, err
	}
	var data []byte
	if args.Data != nil {
		data = *args.Data
	}
	var to *common.Address
	if args.To != nil {
		addr := args.To.Address()
		to = &addr
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       to,
		Gas:      1_000_000,
		GasPrice: a.gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(a.chainID), key)
	if err != nil {
		return common.Hash{}, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return common.Hash{}, err
	}
	return a.SendRawTransaction(ctx, raw)
}
