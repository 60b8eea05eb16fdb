// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package profile

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/brickrollup/brickrollup/host"
)

var (
	metaKey          = []byte("meta")
	workflowPrefix   = []byte("w")
	accountPrefix    = []byte("a")
	authorizedPrefix = []byte("z")
)

// Storage keeps one profile's records in a shared key value store.
type Storage struct {
	db     ethdb.KeyValueStore
	prefix []byte
}

func NewStorage(db ethdb.KeyValueStore, profile host.AccountID) *Storage {
	return &Storage{db: db, prefix: append([]byte("profile/"), profile[:]...)}
}

func (s *Storage) key(parts ...[]byte) []byte {
	k := append([]byte(nil), s.prefix...)
	for _, p := range parts {
		k = append(k, '/')
		k = append(k, p...)
	}
	return k
}

func idKey(id uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, id)
}

func (s *Storage) get(key []byte, val interface{}) (bool, error) {
	has, err := s.db.Has(key)
	if err != nil || !has {
		return false, err
	}
	raw, err := s.db.Get(key)
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, val); err != nil {
		return false, errors.Wrapf(err, "decoding %x", key)
	}
	return true, nil
}

func put(b ethdb.KeyValueWriter, key []byte, val interface{}) error {
	raw, err := rlp.EncodeToBytes(val)
	if err != nil {
		return err
	}
	return b.Put(key, raw)
}

// update applies all writes done by fn atomically.
func (s *Storage) update(fn func(b ethdb.Batch) error) error {
	batch := s.db.NewBatch()
	if err := fn(batch); err != nil {
		return err
	}
	return batch.Write()
}

func (s *Storage) meta() (*meta, bool, error) {
	var m meta
	found, err := s.get(s.key(metaKey), &m)
	return &m, found, err
}

func (s *Storage) putMeta(b ethdb.KeyValueWriter, m *meta) error {
	return put(b, s.key(metaKey), m)
}

func (s *Storage) workflow(id uint64) (*Workflow, error) {
	var w Workflow
	found, err := s.get(s.key(workflowPrefix, idKey(id)), &w)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrapf(ErrWorkflowNotFound, "id %d", id)
	}
	return &w, nil
}

func (s *Storage) putWorkflow(b ethdb.KeyValueWriter, w *Workflow) error {
	return put(b, s.key(workflowPrefix, idKey(w.ID)), w)
}

func (s *Storage) account(id uint64) (*ExternalAccount, error) {
	var a ExternalAccount
	found, err := s.get(s.key(accountPrefix, idKey(id)), &a)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrapf(ErrExternalAccountNotFound, "id %d", id)
	}
	return &a, nil
}

func (s *Storage) putAccount(b ethdb.KeyValueWriter, a *ExternalAccount) error {
	return put(b, s.key(accountPrefix, idKey(a.ID)), a)
}

func (s *Storage) authorized(workflow uint64) (uint64, bool, error) {
	var account uint64
	found, err := s.get(s.key(authorizedPrefix, idKey(workflow)), &account)
	return account, found, err
}

func (s *Storage) putAuthorized(b ethdb.KeyValueWriter, workflow, account uint64) error {
	return put(b, s.key(authorizedPrefix, idKey(workflow)), account)
}
