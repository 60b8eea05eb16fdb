// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

// Package anchortest emulates the anchor contract and the chain it lives on,
// enough to exercise the rollup client end to end without a node.
package anchortest

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/brickrollup/brickrollup/rollup"
)

var (
	ErrReverted    = errors.New("execution reverted")
	ErrNonceTooLow = errors.New("nonce too low")
	ErrUnknownCall = errors.New("unknown call")
)

const (
	ReceiptStatusFailed     = types.ReceiptStatusFailed
	ReceiptStatusSuccessful = types.ReceiptStatusSuccessful
)

type Receipt struct {
	TxHash common.Hash
	Status uint64
	Err    error
}

// Anchor is a single anchor contract on a single chain. Every state change
// produces a new block so sessions can read older snapshots.
type Anchor struct {
	mutex     sync.Mutex
	address   common.Address
	chainID   *big.Int
	blocks    []map[string][]byte
	attestors map[common.Address]bool
	metaNonce map[common.Address]uint64
	txNonce   map[common.Address]uint64
	replies   [][]byte
	receipts  map[common.Hash]*Receipt
	sent      int
	gasPrice  *big.Int
}

func New(address common.Address, chainID *big.Int) *Anchor {
	return &Anchor{
		address:   address,
		chainID:   new(big.Int).Set(chainID),
		blocks:    []map[string][]byte{{}},
		attestors: make(map[common.Address]bool),
		metaNonce: make(map[common.Address]uint64),
		txNonce:   make(map[common.Address]uint64),
		receipts:  make(map[common.Hash]*Receipt),
		gasPrice:  big.NewInt(1_000_000_000),
	}
}

func (a *Anchor) Address() common.Address {
	return a.address
}

func (a *Anchor) latest() map[string][]byte {
	return a.blocks[len(a.blocks)-1]
}

// mine appends a new block whose storage is a copy of the latest one.
func (a *Anchor) mine() map[string][]byte {
	next := make(map[string][]byte, len(a.latest()))
	for k, v := range a.latest() {
		next[k] = v
	}
	a.blocks = append(a.blocks, next)
	return next
}

func (a *Anchor) GrantAttestor(addr common.Address) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.attestors[addr] = true
}

func (a *Anchor) IsAttestor(addr common.Address) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.attestors[addr]
}

func readPointer(storage map[string][]byte, key []byte) *uint256.Int {
	v, err := rollup.DecodeUint256(storage[string(key)])
	if err != nil {
		panic(err)
	}
	return v
}

// Push appends a request to the queue in a new block.
func (a *Anchor) Push(request []byte) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	storage := a.mine()
	tail := readPointer(storage, rollup.QueueTailKey)
	storage[string(rollup.QueueItemKey(tail))] = append([]byte(nil), request...)
	storage[string(rollup.QueueTailKey)] = rollup.EncodeUint256(new(uint256.Int).AddUint64(tail, 1))
}

func (a *Anchor) Storage(key []byte) []byte {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.latest()[string(key)]
}

func (a *Anchor) QueueHead() uint64 {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return readPointer(a.latest(), rollup.QueueHeadKey).Uint64()
}

func (a *Anchor) Replies() [][]byte {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return append([][]byte(nil), a.replies...)
}

// SentCount is the number of raw transactions received, reverted or not.
func (a *Anchor) SentCount() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.sent
}

func (a *Anchor) Receipt(hash common.Hash) (*Receipt, bool) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	r, ok := a.receipts[hash]
	return r, ok
}

func (a *Anchor) BlockNumber(ctx context.Context) (uint64, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return uint64(len(a.blocks) - 1), nil
}

func (a *Anchor) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(a.chainID), nil
}

func (a *Anchor) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.txNonce[account], nil
}

func (a *Anchor) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(a.gasPrice), nil
}

func (a *Anchor) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (a *Anchor) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 21_000 + 16*uint64(len(msg.Data)), nil
}

func (a *Anchor) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if msg.To == nil || *msg.To != a.address {
		return nil, nil
	}
	storage := a.latest()
	if blockNumber != nil {
		if !blockNumber.IsUint64() || blockNumber.Uint64() >= uint64(len(a.blocks)) {
			return nil, errors.Errorf("unknown block %v", blockNumber)
		}
		storage = a.blocks[blockNumber.Uint64()]
	}
	if len(msg.Data) < 4 {
		return nil, ErrUnknownCall
	}
	method, err := rollup.AnchorABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "getStorage":
		value := storage[string(args[0].([]byte))]
		if value == nil {
			value = []byte{}
		}
		return method.Outputs.Pack(value)
	case "metaTxGetNonce":
		return method.Outputs.Pack(new(big.Int).SetUint64(a.metaNonce[args[0].(common.Address)]))
	default:
		return nil, errors.Wrap(ErrUnknownCall, method.Name)
	}
}

// SendRawTransaction accepts a signed transaction. Transactions that reach
// the anchor are always mined; if the anchor rejects them the receipt is
// marked failed and no state changes.
func (a *Anchor) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}
	sender, err := types.Sender(types.LatestSignerForChainID(a.chainID), &tx)
	if err != nil {
		return common.Hash{}, err
	}
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if tx.Nonce() < a.txNonce[sender] {
		return common.Hash{}, ErrNonceTooLow
	}
	a.txNonce[sender] = tx.Nonce() + 1
	a.sent++
	receipt := &Receipt{TxHash: tx.Hash(), Status: ReceiptStatusSuccessful}
	if tx.To() == nil || *tx.To() != a.address {
		receipt.Err = errors.New("transaction not sent to anchor")
	} else {
		receipt.Err = a.apply(sender, tx.Data())
	}
	if receipt.Err != nil {
		receipt.Status = ReceiptStatusFailed
		log.Debug("anchor transaction reverted", "hash", tx.Hash(), "err", receipt.Err)
		a.mine()
	}
	a.receipts[tx.Hash()] = receipt
	return tx.Hash(), nil
}

func (a *Anchor) apply(sender common.Address, data []byte) error {
	if len(data) < 4 {
		return ErrUnknownCall
	}
	method, err := rollup.AnchorABI.MethodById(data[:4])
	if err != nil {
		return err
	}
	var params []byte
	switch method.Name {
	case "rollupU256CondEq":
		if !a.attestors[sender] {
			return errors.Wrap(ErrReverted, "sender is not an attestor")
		}
		params = data[4:]
	case "metaTxRollupU256CondEq":
		req, sig, err := rollup.DecodeMetaTxCalldata(data)
		if err != nil {
			return err
		}
		signer, err := rollup.RecoverForwardRequestSigner(a.chainID, a.address, req, sig)
		if err != nil {
			return errors.Wrap(ErrReverted, err.Error())
		}
		if signer != req.From {
			return errors.Wrap(ErrReverted, "signature does not match request")
		}
		if !a.attestors[signer] {
			return errors.Wrap(ErrReverted, "signer is not an attestor")
		}
		if !req.Nonce.IsUint64() || req.Nonce.Uint64() != a.metaNonce[signer] {
			return errors.Wrapf(ErrReverted, "bad meta tx nonce %v", req.Nonce)
		}
		rtx, err := rollup.DecodeParams(req.Data)
		if err != nil {
			return err
		}
		if err := a.applyRollup(rtx); err != nil {
			return err
		}
		a.metaNonce[signer]++
		return nil
	default:
		return errors.Wrap(ErrUnknownCall, method.Name)
	}
	rtx, err := rollup.DecodeParams(params)
	if err != nil {
		return err
	}
	return a.applyRollup(rtx)
}

func (a *Anchor) applyRollup(tx *rollup.RollupTx) error {
	if len(tx.CondKeys) != len(tx.CondValues) || len(tx.UpdateKeys) != len(tx.UpdateValues) {
		return errors.Wrap(ErrReverted, "bad cond or update length")
	}
	current := a.latest()
	for i, key := range tx.CondKeys {
		if string(current[string(key)]) != string(tx.CondValues[i]) {
			return errors.Wrapf(ErrReverted, "condition on %q not met", key)
		}
	}
	storage := make(map[string][]byte, len(current))
	for k, v := range current {
		storage[k] = v
	}
	var replies [][]byte
	grants := make(map[common.Address]bool)
	for i, key := range tx.UpdateKeys {
		storage[string(key)] = tx.UpdateValues[i]
	}
	for _, raw := range tx.Actions {
		action, err := rollup.DecodeAction(raw)
		if err != nil {
			return errors.Wrap(ErrReverted, err.Error())
		}
		switch act := action.(type) {
		case rollup.ReplyAction:
			replies = append(replies, act.Data)
		case rollup.SetQueueHeadAction:
			tail := readPointer(storage, rollup.QueueTailKey)
			if act.Head.Gt(tail) {
				return errors.Wrap(ErrReverted, "queue head beyond tail")
			}
			head := readPointer(storage, rollup.QueueHeadKey)
			for i := head.Clone(); i.Lt(act.Head); i.AddUint64(i, 1) {
				delete(storage, string(rollup.QueueItemKey(i)))
			}
			storage[string(rollup.QueueHeadKey)] = rollup.EncodeUint256(act.Head)
		case rollup.GrantAttestorAction:
			grants[act.Attestor] = true
		case rollup.RevokeAttestorAction:
			grants[act.Attestor] = false
		}
	}
	for addr, granted := range grants {
		if granted {
			a.attestors[addr] = true
		} else {
			delete(a.attestors, addr)
		}
	}
	a.blocks = append(a.blocks, storage)
	a.replies = append(a.replies, replies...)
	return nil
}
