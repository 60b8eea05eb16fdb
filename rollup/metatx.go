// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package rollup

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
)

const (
	MetaTxDomainName    = "RollupAnchor"
	MetaTxDomainVersion = "0.0.1"
)

// ForwardRequest is the envelope the attestation key signs. Data carries
// the conditional apply arguments.
type ForwardRequest struct {
	From  common.Address
	Nonce *big.Int
	Data  []byte
}

var forwardRequestTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"ForwardRequest": {
		{Name: "from", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "data", Type: "bytes"},
	},
}

func forwardRequestTypedData(chainID *big.Int, anchor common.Address, req *ForwardRequest) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       forwardRequestTypes,
		PrimaryType: "ForwardRequest",
		Domain: apitypes.TypedDataDomain{
			Name:              MetaTxDomainName,
			Version:           MetaTxDomainVersion,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: anchor.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":  req.From.Hex(),
			"nonce": req.Nonce.String(),
			"data":  hexutil.Encode(req.Data),
		},
	}
}

// ForwardRequestHash is the EIP-712 digest of req.
func ForwardRequestHash(chainID *big.Int, anchor common.Address, req *ForwardRequest) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(forwardRequestTypedData(chainID, anchor, req))
	return hash, err
}

// SignForwardRequest returns a 65 byte signature with v in {27, 28}.
func SignForwardRequest(key *ecdsa.PrivateKey, chainID *big.Int, anchor common.Address, req *ForwardRequest) ([]byte, error) {
	hash, err := ForwardRequestHash(chainID, anchor, req)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func RecoverForwardRequestSigner(chainID *big.Int, anchor common.Address, req *ForwardRequest, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errors.Errorf("signature has length %d", len(sig))
	}
	hash, err := ForwardRequestHash(chainID, anchor, req)
	if err != nil {
		return common.Address{}, err
	}
	normalized := append([]byte(nil), sig...)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// MetaTxCalldata encodes a signed forward request for the anchor.
func MetaTxCalldata(req *ForwardRequest, sig []byte) ([]byte, error) {
	return AnchorABI.Pack("metaTxRollupU256CondEq", *req, sig)
}

// DecodeMetaTxCalldata is the inverse of MetaTxCalldata.
func DecodeMetaTxCalldata(data []byte) (*ForwardRequest, []byte, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("calldata too short")
	}
	method, err := AnchorABI.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	if method.Name != "metaTxRollupU256CondEq" {
		return nil, nil, errors.Errorf("unexpected method %v", method.Name)
	}
	out, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}
	req, ok := abi.ConvertType(out[0], new(ForwardRequest)).(*ForwardRequest)
	if !ok {
		return nil, nil, errors.Errorf("request has type %T", out[0])
	}
	sig, ok := out[1].([]byte)
	if !ok {
		return nil, nil, errors.Errorf("signature has type %T", out[1])
	}
	return req, sig, nil
}

// BuildMetaTx wraps tx in a forward request signed by attestKey. The
// returned transaction is unsigned; from pays for gas.
func BuildMetaTx(tx *RollupTx, attestKey *ecdsa.PrivateKey, from common.Address, nonce *big.Int) (*apitypes.SendTxArgs, error) {
	if tx.ChainID == nil {
		return nil, fmt.Errorf("%w: missing chain id", ErrFailedToCreateTransaction)
	}
	params, err := tx.Params()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToCreateTransaction, err)
	}
	req := &ForwardRequest{
		From:  crypto.PubkeyToAddress(attestKey.PublicKey),
		Nonce: nonce,
		Data:  params,
	}
	sig, err := SignForwardRequest(attestKey, tx.ChainID, tx.Anchor, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToCreateTransaction, err)
	}
	calldata, err := MetaTxCalldata(req, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToCreateTransaction, err)
	}
	return unsignedCall(from, tx.Anchor, tx.ChainID, calldata), nil
}

// SignMetaTx is the one shot variant used without a delegated wallet: the
// nonce and chain id are read from reader, payload is the conditional
// apply arguments. The caller assembles and broadcasts the result.
func SignMetaTx(ctx context.Context, reader ChainReader, anchor common.Address, payload []byte, attestKey *ecdsa.PrivateKey) (*apitypes.SendTxArgs, []byte, error) {
	signer := crypto.PubkeyToAddress(attestKey.PublicKey)
	nonce, err := MetaTxNonce(ctx, reader, anchor, signer)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: nonce: %v", ErrFailedToCreateTransaction, err)
	}
	chainID, err := reader.ChainID(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: chain id: %v", ErrFailedToCreateTransaction, err)
	}
	req := &ForwardRequest{From: signer, Nonce: nonce, Data: payload}
	sig, err := SignForwardRequest(attestKey, chainID, anchor, req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFailedToCreateTransaction, err)
	}
	calldata, err := MetaTxCalldata(req, sig)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFailedToCreateTransaction, err)
	}
	return unsignedCall(signer, anchor, chainID, calldata), sig, nil
}

func unsignedCall(from, to common.Address, chainID *big.Int, calldata []byte) *apitypes.SendTxArgs {
	data := hexutil.Bytes(calldata)
	dest := common.NewMixedcaseAddress(to)
	return &apitypes.SendTxArgs{
		From:    common.NewMixedcaseAddress(from),
		To:      &dest,
		Value:   hexutil.Big(*new(big.Int)),
		Data:    &data,
		ChainID: (*hexutil.Big)(new(big.Int).Set(chainID)),
	}
}
