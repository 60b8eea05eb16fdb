// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

// Package codebase is a content-addressed store of scripts. Contracts bind
// themselves to a script by hash, and the store keeps a reference count per
// script so that managers can garbage collect unused ones.
package codebase

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	flag "github.com/spf13/pflag"
	"golang.org/x/crypto/blake2b"

	"github.com/brickrollup/brickrollup/host"
)

type Config struct {
	MaxCodeSize uint64      `koanf:"max-code-size"`
	Capacity    uint64      `koanf:"capacity"`
	Redis       RedisConfig `koanf:"redis"`
	Cache       CacheConfig `koanf:"cache"`
}

var DefaultConfig = Config{
	MaxCodeSize: 1024 * 1024,
	Capacity:    1024 * 1024 * 100,
	Redis:       DefaultRedisConfig,
	Cache:       DefaultCacheConfig,
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Uint64(prefix+".max-code-size", DefaultConfig.MaxCodeSize, "largest script accepted by upload, in bytes")
	f.Uint64(prefix+".capacity", DefaultConfig.Capacity, "total bytes of scripts the registry will hold")
	RedisConfigAddOptions(prefix+".redis", f)
	CacheConfigAddOptions(prefix+".cache", f)
}

// Hash is the content address of a script.
func Hash(code string) common.Hash {
	return blake2b.Sum256([]byte(code))
}

type Codebase struct {
	mutex    sync.Mutex
	id       host.AccountID
	managers []host.AccountID
	storage  Storage
	guard    *host.Guard
	defaults Config
}

func New(id host.AccountID, managers []host.AccountID, storage Storage, contracts host.ContractChecker, config *Config) *Codebase {
	return &Codebase{
		id:       id,
		managers: append([]host.AccountID(nil), managers...),
		storage:  storage,
		guard:    host.NewGuard(nil, contracts),
		defaults: *config,
	}
}

func (c *Codebase) ID() host.AccountID {
	return c.id
}

func (c *Codebase) Managers() []host.AccountID {
	return append([]host.AccountID(nil), c.managers...)
}

func (c *Codebase) ensureManager(env host.Env) error {
	for _, m := range c.managers {
		if m == env.Caller {
			return nil
		}
	}
	return host.ErrBadOrigin
}

func (c *Codebase) baseInfo(ctx context.Context) (*BaseInfo, error) {
	info, found, err := c.storage.Info(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return &BaseInfo{MaxCodeSize: c.defaults.MaxCodeSize, Capacity: c.defaults.Capacity}, nil
	}
	return info, nil
}

func (c *Codebase) BaseInfo(ctx context.Context) (*BaseInfo, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.baseInfo(ctx)
}

func (c *Codebase) SetMaxCodeSize(ctx context.Context, env host.Env, size uint64) error {
	return c.updateInfo(ctx, env, func(info *BaseInfo) { info.MaxCodeSize = size })
}

func (c *Codebase) SetCapacity(ctx context.Context, env host.Env, capacity uint64) error {
	return c.updateInfo(ctx, env, func(info *BaseInfo) { info.Capacity = capacity })
}

func (c *Codebase) updateInfo(ctx context.Context, env host.Env, fn func(*BaseInfo)) error {
	if err := c.ensureManager(env); err != nil {
		return err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	info, err := c.baseInfo(ctx)
	if err != nil {
		return err
	}
	fn(info)
	change := newChange()
	change.Info = info
	return c.storage.Apply(ctx, change)
}

// Upload stores code and returns its hash. Uploading code that is already
// stored is a no-op returning the same hash.
func (c *Codebase) Upload(ctx context.Context, env host.Env, code string) (common.Hash, error) {
	if err := c.ensureManager(env); err != nil {
		return common.Hash{}, err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	info, err := c.baseInfo(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	size := uint64(len(code))
	if size > info.MaxCodeSize {
		return common.Hash{}, ErrCodeTooLarge
	}
	hash := Hash(code)
	_, exists, err := c.storage.Metadata(ctx, hash)
	if err != nil {
		return common.Hash{}, err
	}
	if exists {
		return hash, nil
	}
	if info.TotalSize+size > info.Capacity {
		return common.Hash{}, ErrCapacityExceeded
	}
	info.Count++
	info.TotalSize += size
	change := newChange()
	change.Info = info
	change.PutCodes[hash] = code
	change.PutMetadata[hash] = &Metadata{UploadedAt: env.BlockNumber}
	if err := c.storage.Apply(ctx, change); err != nil {
		return common.Hash{}, err
	}
	log.Info("code uploaded", "hash", hash, "size", size)
	return hash, nil
}

// RemoveCodes deletes the given codes. Missing codes are skipped, and codes
// still referenced are skipped unless force is set. Returns the removed hashes.
func (c *Codebase) RemoveCodes(ctx context.Context, env host.Env, hashes []common.Hash, force bool) ([]common.Hash, error) {
	if err := c.ensureManager(env); err != nil {
		return nil, err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	info, err := c.baseInfo(ctx)
	if err != nil {
		return nil, err
	}
	change := newChange()
	var removed []common.Hash
	seen := make(map[common.Hash]bool)
	for _, hash := range hashes {
		if seen[hash] {
			continue
		}
		seen[hash] = true
		md, found, err := c.storage.Metadata(ctx, hash)
		if err != nil {
			return nil, err
		}
		if !found || (md.RefCount > 0 && !force) {
			continue
		}
		code, _, err := c.storage.Code(ctx, hash)
		if err != nil {
			return nil, err
		}
		info.Count--
		info.TotalSize -= uint64(len(code))
		info.TotalRefCount -= md.RefCount
		change.DelCodes = append(change.DelCodes, hash)
		change.DelMetadata = append(change.DelMetadata, hash)
		removed = append(removed, hash)
	}
	if len(removed) == 0 {
		return nil, nil
	}
	change.Info = info
	if err := c.storage.Apply(ctx, change); err != nil {
		return nil, err
	}
	log.Info("codes removed", "count", len(removed), "force", force)
	return removed, nil
}

// UseCode binds the calling contract to hash, moving its reference from the
// previously bound code if any.
func (c *Codebase) UseCode(ctx context.Context, env host.Env, hash common.Hash) error {
	if err := c.guard.Require(env, host.ContractOnly); err != nil {
		return err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	md, found, err := c.storage.Metadata(ctx, hash)
	if err != nil {
		return err
	}
	if !found {
		return ErrCodeNotFound
	}
	previous, bound, err := c.storage.Ref(ctx, env.Caller)
	if err != nil {
		return err
	}
	if bound && previous == hash {
		return nil
	}
	info, err := c.baseInfo(ctx)
	if err != nil {
		return err
	}
	change := newChange()
	if bound {
		old, oldFound, err := c.storage.Metadata(ctx, previous)
		if err != nil {
			return err
		}
		if oldFound && old.RefCount > 0 {
			old.RefCount--
			info.TotalRefCount--
			change.PutMetadata[previous] = old
			if old.RefCount == 0 {
				log.Info("code became unused", "hash", previous)
			}
		}
	}
	md.RefCount++
	info.TotalRefCount++
	change.PutMetadata[hash] = md
	change.PutRefs[env.Caller] = hash
	change.Info = info
	return c.storage.Apply(ctx, change)
}

// GetCode returns the code bound to the calling contract.
func (c *Codebase) GetCode(ctx context.Context, env host.Env) (string, bool, error) {
	hash, bound, err := c.storage.Ref(ctx, env.Caller)
	if err != nil || !bound {
		return "", false, err
	}
	return c.storage.Code(ctx, hash)
}

func (c *Codebase) CodeByHash(ctx context.Context, hash common.Hash) (string, bool, error) {
	return c.storage.Code(ctx, hash)
}

func (c *Codebase) Metadata(ctx context.Context, hash common.Hash) (*Metadata, bool, error) {
	return c.storage.Metadata(ctx, hash)
}

// BoundHash returns the hash bound to account.
func (c *Codebase) BoundHash(ctx context.Context, account host.AccountID) (common.Hash, bool, error) {
	return c.storage.Ref(ctx, account)
}
