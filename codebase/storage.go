// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package codebase

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/brickrollup/brickrollup/host"
)

type BaseInfo struct {
	MaxCodeSize   uint64
	Capacity      uint64
	Count         uint64
	TotalSize     uint64
	TotalRefCount uint64
}

type Metadata struct {
	RefCount   uint64
	UploadedAt uint64
}

// Change is a set of writes applied atomically by a Storage.
type Change struct {
	Info        *BaseInfo
	PutCodes    map[common.Hash]string
	DelCodes    []common.Hash
	PutMetadata map[common.Hash]*Metadata
	DelMetadata []common.Hash
	PutRefs     map[host.AccountID]common.Hash
}

func newChange() *Change {
	return &Change{
		PutCodes:    make(map[common.Hash]string),
		PutMetadata: make(map[common.Hash]*Metadata),
		PutRefs:     make(map[host.AccountID]common.Hash),
	}
}

type Storage interface {
	Info(ctx context.Context) (*BaseInfo, bool, error)
	Code(ctx context.Context, hash common.Hash) (string, bool, error)
	Metadata(ctx context.Context, hash common.Hash) (*Metadata, bool, error)
	Ref(ctx context.Context, account host.AccountID) (common.Hash, bool, error)
	Apply(ctx context.Context, change *Change) error
}

type MemoryStorage struct {
	mutex    sync.RWMutex
	info     *BaseInfo
	codes    map[common.Hash]string
	metadata map[common.Hash]Metadata
	refs     map[host.AccountID]common.Hash
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		codes:    make(map[common.Hash]string),
		metadata: make(map[common.Hash]Metadata),
		refs:     make(map[host.AccountID]common.Hash),
	}
}

func (s *MemoryStorage) Info(ctx context.Context) (*BaseInfo, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.info == nil {
		return nil, false, nil
	}
	info := *s.info
	return &info, true, nil
}

func (s *MemoryStorage) Code(ctx context.Context, hash common.Hash) (string, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	code, ok := s.codes[hash]
	return code, ok, nil
}

func (s *MemoryStorage) Metadata(ctx context.Context, hash common.Hash) (*Metadata, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	md, ok := s.metadata[hash]
	if !ok {
		return nil, false, nil
	}
	return &md, true, nil
}

func (s *MemoryStorage) Ref(ctx context.Context, account host.AccountID) (common.Hash, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	hash, ok := s.refs[account]
	return hash, ok, nil
}

func (s *MemoryStorage) Apply(ctx context.Context, change *Change) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if change.Info != nil {
		info := *change.Info
		s.info = &info
	}
	for _, h := range change.DelCodes {
		delete(s.codes, h)
	}
	for h, code := range change.PutCodes {
		s.codes[h] = code
	}
	for _, h := range change.DelMetadata {
		delete(s.metadata, h)
	}
	for h, md := range change.PutMetadata {
		s.metadata[h] = *md
	}
	for a, h := range change.PutRefs {
		s.refs[a] = h
	}
	return nil
}
