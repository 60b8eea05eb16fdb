// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package codebase

import (
	"context"
	"time"

	"github.com/allegro/bigcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	flag "github.com/spf13/pflag"
)

type CacheConfig struct {
	Enable     bool          `koanf:"enable"`
	Expiration time.Duration `koanf:"expiration"`
}

var DefaultCacheConfig = CacheConfig{
	Expiration: time.Hour,
}

func CacheConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Bool(prefix+".enable", DefaultCacheConfig.Enable, "keep recently read scripts in a local in-memory cache")
	f.Duration(prefix+".expiration", DefaultCacheConfig.Expiration, "expiration time of cached scripts")
}

// CachedStorage serves code reads from a local cache in front of another
// Storage. Everything except code goes straight to the backing storage.
type CachedStorage struct {
	Storage
	cache *bigcache.BigCache
}

func NewCachedStorage(base Storage, config *CacheConfig) (*CachedStorage, error) {
	cache, err := bigcache.NewBigCache(bigcache.DefaultConfig(config.Expiration))
	if err != nil {
		return nil, err
	}
	return &CachedStorage{Storage: base, cache: cache}, nil
}

func (s *CachedStorage) Code(ctx context.Context, hash common.Hash) (string, bool, error) {
	if cached, err := s.cache.Get(string(hash[:])); err == nil {
		return string(cached), true, nil
	}
	code, found, err := s.Storage.Code(ctx, hash)
	if err != nil || !found {
		return code, found, err
	}
	if err := s.cache.Set(string(hash[:]), []byte(code)); err != nil {
		log.Warn("failed to cache code", "hash", hash, "err", err)
	}
	return code, true, nil
}

func (s *CachedStorage) Apply(ctx context.Context, change *Change) error {
	if err := s.Storage.Apply(ctx, change); err != nil {
		return err
	}
	for _, h := range change.DelCodes {
		// bigcache reports a missing entry as an error
		_ = s.cache.Delete(string(h[:]))
	}
	return nil
}

func (s *CachedStorage) Close() error {
	return s.cache.Close()
}
