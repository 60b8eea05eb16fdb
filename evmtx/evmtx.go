// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

// Package evmtx is a workflow action that builds plain contract calls and
// broadcasts transactions signed elsewhere.
package evmtx

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/brickrollup/brickrollup/host"
	"github.com/brickrollup/brickrollup/profile"
)

var (
	ErrNotConfigured           = errors.New("not configured")
	ErrBadAbi                  = errors.New("bad abi")
	ErrBadParams               = errors.New("bad params")
	ErrBadToAddress            = errors.New("bad to address")
	ErrFailedToSendTransaction = errors.New("failed to send transaction")
)

const (
	MethodBuildTransaction     = "build_transaction"
	MethodMaybeSendTransaction = "maybe_send_transaction"
)

type Sender interface {
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
}

type SenderDialer func(ctx context.Context, url string) (Sender, error)

type EvmTx struct {
	mutex  sync.RWMutex
	id     host.AccountID
	owner  host.AccountID
	rpc    string
	dialer SenderDialer
	guard  *host.Guard
}

func New(id, owner host.AccountID, dialer SenderDialer) *EvmTx {
	e := &EvmTx{id: id, owner: owner, dialer: dialer}
	e.guard = host.NewGuard(func() host.AccountID { return e.owner }, nil)
	return e
}

func (e *EvmTx) ID() host.AccountID {
	return e.id
}

func (e *EvmTx) Owner() host.AccountID {
	return e.owner
}

// Config sets the rpc endpoint transactions are sent to.
func (e *EvmTx) Config(env host.Env, rpc string) error {
	if err := e.guard.Require(env, host.OwnerOnly); err != nil {
		return err
	}
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.rpc = rpc
	return nil
}

func (e *EvmTx) GetRpc() (string, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	if e.rpc == "" {
		return "", ErrNotConfigured
	}
	return e.rpc, nil
}

// BuildTransaction encodes a call of fn on to and returns it as unsigned
// transaction json. Each param is the raw bytes of the matching input.
func (e *EvmTx) BuildTransaction(to string, abiJSON []byte, fn string, params [][]byte) ([]byte, error) {
	if !common.IsHexAddress(to) {
		return nil, errors.Wrap(ErrBadToAddress, to)
	}
	parsed, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadAbi, err)
	}
	method, ok := parsed.Methods[fn]
	if !ok {
		return nil, errors.Wrapf(ErrBadParams, "no function %q", fn)
	}
	if len(method.Inputs) != len(params) {
		return nil, errors.Wrapf(ErrBadParams, "%s takes %d params, got %d", fn, len(method.Inputs), len(params))
	}
	values := make([]interface{}, len(params))
	for i, input := range method.Inputs {
		if values[i], err = convertParam(input.Type, params[i]); err != nil {
			return nil, errors.Wrapf(ErrBadParams, "param %d (%s): %v", i, input.Type, err)
		}
	}
	packed, err := method.Inputs.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadParams, err)
	}
	data := hexutil.Bytes(append(append([]byte{}, method.ID...), packed...))
	dest := common.HexToAddress(to)
	return json.Marshal(&profile.UnsignedTx{To: &dest, Data: &data})
}

func convertParam(t abi.Type, raw []byte) (interface{}, error) {
	switch t.T {
	case abi.AddressTy:
		if len(raw) != common.AddressLength {
			return nil, errors.Errorf("address must be %d bytes", common.AddressLength)
		}
		return common.BytesToAddress(raw), nil
	case abi.BytesTy:
		return raw, nil
	case abi.StringTy:
		return string(raw), nil
	case abi.BoolTy:
		if len(raw) != 1 || raw[0] > 1 {
			return nil, errors.New("bool must be a single 0 or 1 byte")
		}
		return raw[0] == 1, nil
	case abi.FixedBytesTy:
		if len(raw) != t.Size {
			return nil, errors.Errorf("expected %d bytes", t.Size)
		}
		v := reflect.New(t.GetType()).Elem()
		reflect.Copy(v, reflect.ValueOf(raw))
		return v.Interface(), nil
	case abi.UintTy, abi.IntTy:
		if len(raw) > t.Size/8 {
			return nil, errors.Errorf("integer wider than %d bits", t.Size)
		}
		n := new(big.Int).SetBytes(raw)
		if t.T == abi.IntTy && len(raw) == t.Size/8 && len(raw) > 0 && raw[0]&0x80 != 0 {
			n.Sub(n, new(big.Int).Lsh(big.NewInt(1), uint(t.Size)))
		}
		v := reflect.New(t.GetType()).Elem()
		switch v.Kind() {
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			v.SetUint(n.Uint64())
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			v.SetInt(n.Int64())
		default:
			return n, nil
		}
		return v.Interface(), nil
	default:
		return nil, errors.Errorf("unsupported type %s", t)
	}
}

// MaybeSendTransaction broadcasts a signed transaction. There is no guarantee it gets mined.
func (e *EvmTx) MaybeSendTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	rpc, err := e.GetRpc()
	if err != nil {
		return common.Hash{}, err
	}
	sender, err := e.dialer(ctx, rpc)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrFailedToSendTransaction, err)
	}
	hash, err := sender.SendRawTransaction(ctx, raw)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrFailedToSendTransaction, err)
	}
	log.Info("sent transaction", "contract", e.id, "tx", hash)
	return hash, nil
}

type BuildRequest struct {
	To     string          `json:"to"`
	Abi    json.RawMessage `json:"abi"`
	Func   string          `json:"func"`
	Params []hexutil.Bytes `json:"params"`
}

// Invoke lets workflows build and send transactions.
func (e *EvmTx) Invoke(ctx context.Context, env host.Env, method string, input []byte, session *host.Session) ([]byte, error) {
	switch method {
	case MethodBuildTransaction:
		var req BuildRequest
		if err := json.Unmarshal(input, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadParams, err)
		}
		params := make([][]byte, len(req.Params))
		for i, p := range req.Params {
			params[i] = p
		}
		return e.BuildTransaction(req.To, req.Abi, req.Func, params)
	case MethodMaybeSendTransaction:
		hash, err := e.MaybeSendTransaction(ctx, input)
		if err != nil {
			return nil, err
		}
		return hash.Bytes(), nil
	default:
		return nil, errors.Wrap(host.ErrUnknownMethod, method)
	}
}
