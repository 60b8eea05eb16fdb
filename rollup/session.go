// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package rollup

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Client describes which anchor contract to talk to and where.
type Client struct {
	RPC    string
	Anchor common.Address
}

// kvSet is an insertion ordered byte map.
type kvSet struct {
	keys   [][]byte
	values map[string][]byte
}

func newKVSet() kvSet {
	return kvSet{values: make(map[string][]byte)}
}

func (s *kvSet) get(key []byte) ([]byte, bool) {
	v, ok := s.values[string(key)]
	return v, ok
}

func (s *kvSet) set(key, value []byte) {
	if _, ok := s.values[string(key)]; !ok {
		s.keys = append(s.keys, append([]byte(nil), key...))
	}
	s.values[string(key)] = append([]byte(nil), value...)
}

func (s *kvSet) split() ([][]byte, [][]byte) {
	values := make([][]byte, 0, len(s.keys))
	for _, k := range s.keys {
		values = append(values, s.values[string(k)])
	}
	return s.keys, values
}

// Session is a single use view of the anchor storage pinned at one block.
// Reads go into the commit conditions so the anchor refuses to apply the
// resulting transaction if any of them changed in the meantime.
type Session struct {
	anchor  *anchorCaller
	block   *big.Int
	chainID *big.Int

	rawHead []byte
	head    *uint256.Int
	tail    *uint256.Int
	cursor  *uint256.Int

	conds     kvSet
	updates   kvSet
	actions   []Action
	committed bool
}

// Connect pins the latest block of reader and snapshots the queue pointers of anchor.
func Connect(ctx context.Context, reader ChainReader, anchor common.Address) (*Session, error) {
	blockNum, err := reader.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: block number: %v", ErrFailedToCreateClient, err)
	}
	chainID, err := reader.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: chain id: %v", ErrFailedToCreateClient, err)
	}
	s := &Session{
		anchor:  &anchorCaller{reader: reader, address: anchor},
		block:   new(big.Int).SetUint64(blockNum),
		chainID: chainID,
		conds:   newKVSet(),
		updates: newKVSet(),
	}
	s.rawHead, err = s.anchor.getStorage(ctx, s.block, QueueHeadKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToCreateClient, err)
	}
	rawTail, err := s.anchor.getStorage(ctx, s.block, QueueTailKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToCreateClient, err)
	}
	if s.head, err = DecodeUint256(s.rawHead); err != nil {
		return nil, fmt.Errorf("%w: head: %v", ErrFailedToCreateClient, err)
	}
	if s.tail, err = DecodeUint256(rawTail); err != nil {
		return nil, fmt.Errorf("%w: tail: %v", ErrFailedToCreateClient, err)
	}
	s.cursor = s.head.Clone()
	log.Debug("rollup session connected", "anchor", anchor, "block", blockNum, "head", s.head, "tail", s.tail)
	return s, nil
}

func (s *Session) Block() *big.Int {
	return new(big.Int).Set(s.block)
}

func (s *Session) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

func (s *Session) Anchor() common.Address {
	return s.anchor.address
}

// QueueLen is the number of entries not yet popped in this session.
func (s *Session) QueueLen() uint64 {
	if s.cursor.Cmp(s.tail) >= 0 {
		return 0
	}
	return new(uint256.Int).Sub(s.tail, s.cursor).Uint64()
}

// Pop returns the next queue entry, or nil if the snapshot has none left.
func (s *Session) Pop(ctx context.Context) ([]byte, error) {
	if s.committed {
		return nil, ErrSessionCommitted
	}
	if s.cursor.Cmp(s.tail) >= 0 {
		return nil, nil
	}
	item, err := s.anchor.getStorage(ctx, s.block, QueueItemKey(s.cursor))
	if err != nil {
		return nil, err
	}
	if s.cursor.Eq(s.head) {
		s.conds.set(QueueHeadKey, s.rawHead)
	}
	s.cursor = new(uint256.Int).AddUint64(s.cursor, 1)
	log.Trace("popped rollup queue entry", "index", new(uint256.Int).SubUint64(s.cursor, 1), "len", len(item))
	return item, nil
}

// Get reads key from the snapshot. Values written in this session are
// returned as written and are not conditioned on.
func (s *Session) Get(ctx context.Context, key []byte) ([]byte, error) {
	if s.committed {
		return nil, ErrSessionCommitted
	}
	if v, ok := s.updates.get(key); ok {
		return v, nil
	}
	if v, ok := s.conds.get(key); ok {
		return v, nil
	}
	value, err := s.anchor.getStorage(ctx, s.block, key)
	if err != nil {
		return nil, err
	}
	s.conds.set(key, value)
	return value, nil
}

// Put schedules a raw storage write. Queue keys are owned by the session.
func (s *Session) Put(key, value []byte) error {
	if s.committed {
		return ErrSessionCommitted
	}
	if bytes.HasPrefix(key, []byte(QueuePrefix)) {
		return errors.Wrapf(ErrInvalidAction, "key %q is reserved for the queue", key)
	}
	s.updates.set(key, value)
	return nil
}

func (s *Session) Action(a Action) {
	s.actions = append(s.actions, a)
}

// Commit turns the session into a transaction against the anchor. It
// returns nil when the session holds no mutations.
func (s *Session) Commit() (*RollupTx, error) {
	if s.committed {
		return nil, ErrSessionCommitted
	}
	s.committed = true
	actions := make([][]byte, 0, len(s.actions)+1)
	for _, a := range s.actions {
		actions = append(actions, a.Encode())
	}
	if s.cursor.Gt(s.head) {
		actions = append(actions, SetQueueHeadAction{Head: s.cursor.Clone()}.Encode())
	}
	if len(actions) == 0 && len(s.updates.keys) == 0 {
		return nil, nil
	}
	tx := &RollupTx{
		Anchor:  s.anchor.address,
		ChainID: s.ChainID(),
		Actions: actions,
		reader:  s.anchor.reader,
	}
	tx.CondKeys, tx.CondValues = s.conds.split()
	tx.UpdateKeys, tx.UpdateValues = s.updates.split()
	if _, err := tx.Params(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToCommitTx, err)
	}
	return tx, nil
}
