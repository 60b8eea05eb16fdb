// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/Knetic/govaluate"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
)

// TxChain is what signing needs from the account's chain. *ethclient.Client satisfies it.
type TxChain interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

type ChainDialer func(ctx context.Context, url string) (TxChain, error)

type Config struct {
	MaxFeeFormula string  `koanf:"max-fee-formula"`
	GasMultiplier float64 `koanf:"gas-multiplier"`
	LegacyTx      bool    `koanf:"legacy-tx"`
}

type ConfigFetcher func() *Config

var DefaultConfig = Config{
	MaxFeeFormula: "GasPriceGwei * 2 + TipGwei",
	GasMultiplier: 1.2,
	LegacyTx:      false,
}

var TestConfig = Config{
	MaxFeeFormula: "GasPriceGwei + TipGwei",
	GasMultiplier: 1,
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".max-fee-formula", DefaultConfig.MaxFeeFormula, "formula in gwei for the max fee cap of signed transactions, variables GasPriceGwei and TipGwei")
	f.Float64(prefix+".gas-multiplier", DefaultConfig.GasMultiplier, "multiplier applied to estimated gas when the unsigned transaction has none")
	f.Bool(prefix+".legacy-tx", DefaultConfig.LegacyTx, "sign legacy transactions instead of dynamic fee ones when no fee is given")
}

type txSigner struct {
	chains     ChainDialer
	config     ConfigFetcher
	maxFeeExpr *govaluate.EvaluableExpression
}

func newTxSigner(chains ChainDialer, config ConfigFetcher) (*txSigner, error) {
	if config == nil {
		config = func() *Config { return &DefaultConfig }
	}
	expr, err := govaluate.NewEvaluableExpression(config().MaxFeeFormula)
	if err != nil {
		return nil, fmt.Errorf("parsing max fee formula: %w", err)
	}
	return &txSigner{chains: chains, config: config, maxFeeExpr: expr}, nil
}

var gwei = big.NewFloat(params.GWei)

func toGwei(wei *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), gwei).Float64()
	return f
}

func fromGwei(v float64) *big.Int {
	wei, _ := new(big.Float).Mul(big.NewFloat(v), gwei).Int(nil)
	return wei
}

func (s *txSigner) maxFee(gasPrice, tip *big.Int) (*big.Int, error) {
	result, err := s.maxFeeExpr.Evaluate(map[string]interface{}{
		"GasPriceGwei": toGwei(gasPrice),
		"TipGwei":      toGwei(tip),
	})
	if err != nil {
		return nil, err
	}
	f, ok := result.(float64)
	if !ok {
		return nil, errors.Errorf("max fee formula returned %T", result)
	}
	fee := fromGwei(f)
	if fee.Cmp(tip) < 0 {
		fee = new(big.Int).Set(tip)
	}
	return fee, nil
}

func (s *txSigner) sign(ctx context.Context, account *ExternalAccount, raw []byte) ([]byte, error) {
	var unsigned UnsignedTx
	if err := json.Unmarshal(raw, &unsigned); err != nil {
		return nil, errors.Wrap(ErrBadUnsignedTransaction, err.Error())
	}
	args := unsigned.sendTxArgs()
	requested, nonceSet := unsigned.From, unsigned.Nonce != nil
	key, err := crypto.ToECDSA(account.SK)
	if err != nil {
		return nil, errors.Wrap(ErrBadEvmSecretKey, err.Error())
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	if requested != nil && *requested != from {
		return nil, errors.Wrapf(ErrBadUnsignedTransaction, "from %v is not the authorized account", *requested)
	}
	if s.chains == nil {
		return nil, errors.Wrap(ErrFailedToSignTransaction, "no chain access")
	}
	chain, err := s.chains(ctx, account.RPC)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %v: %v", ErrFailedToSignTransaction, account.RPC, err)
	}
	if err := s.fill(ctx, chain, from, args, nonceSet); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToSignTransaction, err)
	}
	tx, err := toTransaction(args)
	if err != nil {
		return nil, errors.Wrap(ErrBadUnsignedTransaction, err.Error())
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(args.ChainID.ToInt()), key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToSignTransaction, err)
	}
	return signed.MarshalBinary()
}

// fill completes chain id, nonce, gas and fees from chain where args leaves them unset.
func (s *txSigner) fill(ctx context.Context, chain TxChain, from common.Address, args *apitypes.SendTxArgs, nonceSet bool) error {
	chainID, err := chain.ChainID(ctx)
	if err != nil {
		return err
	}
	if args.ChainID == nil {
		args.ChainID = (*hexutil.Big)(chainID)
	} else if args.ChainID.ToInt().Cmp(chainID) != 0 {
		return errors.Errorf("transaction chain id %v does not match rpc chain id %v", args.ChainID.ToInt(), chainID)
	}
	if !nonceSet {
		nonce, err := chain.PendingNonceAt(ctx, from)
		if err != nil {
			return err
		}
		args.Nonce = hexutil.Uint64(nonce)
	}
	if args.Gas == 0 {
		msg := ethereum.CallMsg{From: from, Value: args.Value.ToInt(), Data: txData(args)}
		if args.To != nil {
			to := args.To.Address()
			msg.To = &to
		}
		gas, err := chain.EstimateGas(ctx, msg)
		if err != nil {
			return err
		}
		args.Gas = hexutil.Uint64(float64(gas) * s.config().GasMultiplier)
	}
	if args.GasPrice != nil || args.MaxFeePerGas != nil {
		return nil
	}
	gasPrice, err := chain.SuggestGasPrice(ctx)
	if err != nil {
		return err
	}
	if s.config().LegacyTx {
		args.GasPrice = (*hexutil.Big)(gasPrice)
		return nil
	}
	tip, err := chain.SuggestGasTipCap(ctx)
	if err != nil {
		return err
	}
	maxFee, err := s.maxFee(gasPrice, tip)
	if err != nil {
		return err
	}
	args.MaxFeePerGas = (*hexutil.Big)(maxFee)
	args.MaxPriorityFeePerGas = (*hexutil.Big)(tip)
	return nil
}

func txData(args *apitypes.SendTxArgs) []byte {
	if args.Input != nil {
		return *args.Input
	}
	if args.Data != nil {
		return *args.Data
	}
	return nil
}

func toTransaction(args *apitypes.SendTxArgs) (*types.Transaction, error) {
	var to *common.Address
	if args.To != nil {
		addr := args.To.Address()
		to = &addr
	}
	var data types.TxData
	switch {
	case args.MaxFeePerGas != nil:
		al := types.AccessList{}
		if args.AccessList != nil {
			al = *args.AccessList
		}
		tip := args.MaxPriorityFeePerGas
		if tip == nil {
			tip = args.MaxFeePerGas
		}
		data = &types.DynamicFeeTx{
			To:         to,
			ChainID:    args.ChainID.ToInt(),
			Nonce:      uint64(args.Nonce),
			Gas:        uint64(args.Gas),
			GasFeeCap:  args.MaxFeePerGas.ToInt(),
			GasTipCap:  tip.ToInt(),
			Value:      args.Value.ToInt(),
			Data:       txData(args),
			AccessList: al,
		}
	case args.AccessList != nil:
		if args.GasPrice == nil {
			return nil, errors.New("access list transaction without gas price")
		}
		data = &types.AccessListTx{
			To:         to,
			ChainID:    args.ChainID.ToInt(),
			Nonce:      uint64(args.Nonce),
			Gas:        uint64(args.Gas),
			GasPrice:   args.GasPrice.ToInt(),
			Value:      args.Value.ToInt(),
			Data:       txData(args),
			AccessList: *args.AccessList,
		}
	default:
		if args.GasPrice == nil {
			return nil, errors.New("legacy transaction without gas price")
		}
		data = &types.LegacyTx{
			To:       to,
			Nonce:    uint64(args.Nonce),
			Gas:      uint64(args.Gas),
			GasPrice: args.GasPrice.ToInt(),
			Value:    args.Value.ToInt(),
			Data:     txData(args),
		}
	}
	return types.NewTx(data), nil
}
