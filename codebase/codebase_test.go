// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package codebase

import (
	"context"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/brickrollup/brickrollup/host"
	"github.com/brickrollup/brickrollup/util/redisutil"
)

var (
	testManager  = host.NamedAccount("manager")
	testStranger = host.NamedAccount("stranger")
	testCodebase = host.NamedAccount("codebase")
	testAlice    = host.NamedAccount("alice")
	testBob      = host.NamedAccount("bob")
)

type contractSet map[host.AccountID]bool

func (s contractSet) IsContract(id host.AccountID) bool { return s[id] }

func storages(t *testing.T, ctx context.Context) map[string]Storage {
	client, err := redisutil.RedisClientFromURL(redisutil.CreateTestRedis(ctx, t))
	require.NoError(t, err)
	cfg := DefaultRedisConfig
	cfg.KeyPrefix = "test"
	plain := cfg
	plain.KeyPrefix = "plain"
	plain.CompressionLevel = -1
	cached, err := NewCachedStorage(NewMemoryStorage(), &DefaultCacheConfig)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cached.Close() })
	return map[string]Storage{
		"memory":      NewMemoryStorage(),
		"redis":       NewRedisStorage(client, &cfg),
		"redis-plain": NewRedisStorage(client, &plain),
		"cached":      cached,
	}
}

func forEachStorage(t *testing.T, config *Config, fn func(t *testing.T, ctx context.Context, cb *Codebase)) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for name, storage := range storages(t, ctx) {
		t.Run(name, func(t *testing.T) {
			contracts := contractSet{testAlice: true, testBob: true}
			cb := New(testCodebase, []host.AccountID{testManager}, storage, contracts, config)
			fn(t, ctx, cb)
		})
	}
}

func managerEnv() host.Env {
	env := host.TxEnv(testManager, testCodebase)
	env.BlockNumber = 12
	return env
}

func TestUploadDedupes(t *testing.T) {
	forEachStorage(t, &DefaultConfig, func(t *testing.T, ctx context.Context, cb *Codebase) {
		hash, err := cb.Upload(ctx, managerEnv(), "return 1")
		require.NoError(t, err)
		require.Equal(t, Hash("return 1"), hash)
		again, err := cb.Upload(ctx, managerEnv(), "return 1")
		require.NoError(t, err)
		require.Equal(t, hash, again)

		info, err := cb.BaseInfo(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(1), info.Count)
		require.Equal(t, uint64(len("return 1")), info.TotalSize)

		md, found, err := cb.Metadata(ctx, hash)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, uint64(12), md.UploadedAt)
		require.Zero(t, md.RefCount)

		code, found, err := cb.CodeByHash(ctx, hash)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "return 1", code)

		_, err = cb.Upload(ctx, host.TxEnv(testStranger, testCodebase), "x")
		require.ErrorIs(t, err, host.ErrBadOrigin)
	})
}

func TestUploadLimits(t *testing.T) {
	config := DefaultConfig
	config.MaxCodeSize = 8
	config.Capacity = 12
	forEachStorage(t, &config, func(t *testing.T, ctx context.Context, cb *Codebase) {
		_, err := cb.Upload(ctx, managerEnv(), strings.Repeat("a", 9))
		require.ErrorIs(t, err, ErrCodeTooLarge)
		_, err = cb.Upload(ctx, managerEnv(), strings.Repeat("a", 8))
		require.NoError(t, err)
		_, err = cb.Upload(ctx, managerEnv(), strings.Repeat("b", 5))
		require.ErrorIs(t, err, ErrCapacityExceeded)
		_, err = cb.Upload(ctx, managerEnv(), strings.Repeat("b", 4))
		require.NoError(t, err)

		require.NoError(t, cb.SetCapacity(ctx, managerEnv(), 100))
		_, err = cb.Upload(ctx, managerEnv(), strings.Repeat("c", 5))
		require.NoError(t, err)
		require.ErrorIs(t, cb.SetMaxCodeSize(ctx, host.TxEnv(testStranger, testCodebase), 1), host.ErrBadOrigin)
	})
}

func TestUseCodeRefCounts(t *testing.T) {
	forEachStorage(t, &DefaultConfig, func(t *testing.T, ctx context.Context, cb *Codebase) {
		one, err := cb.Upload(ctx, managerEnv(), "one")
		require.NoError(t, err)
		two, err := cb.Upload(ctx, managerEnv(), "two")
		require.NoError(t, err)

		aliceEnv := host.TxEnv(testAlice, testCodebase)
		bobEnv := host.TxEnv(testBob, testCodebase)
		require.ErrorIs(t, cb.UseCode(ctx, host.TxEnv(testStranger, testCodebase), one), host.ErrBadOrigin)
		require.ErrorIs(t, cb.UseCode(ctx, aliceEnv, common.Hash{1}), ErrCodeNotFound)

		require.NoError(t, cb.UseCode(ctx, aliceEnv, one))
		require.NoError(t, cb.UseCode(ctx, aliceEnv, one))
		require.NoError(t, cb.UseCode(ctx, bobEnv, one))
		refCount := func(h common.Hash) uint64 {
			md, found, err := cb.Metadata(ctx, h)
			require.NoError(t, err)
			require.True(t, found)
			return md.RefCount
		}
		require.Equal(t, uint64(2), refCount(one))

		code, found, err := cb.GetCode(ctx, aliceEnv)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "one", code)

		require.NoError(t, cb.UseCode(ctx, aliceEnv, two))
		require.Equal(t, uint64(1), refCount(one))
		require.Equal(t, uint64(1), refCount(two))
		info, err := cb.BaseInfo(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(2), info.TotalRefCount)

		_, found, err = cb.GetCode(ctx, host.TxEnv(testStranger, testCodebase))
		require.NoError(t, err)
		require.False(t, found)
	})
}

func TestRemoveCodes(t *testing.T) {
	forEachStorage(t, &DefaultConfig, func(t *testing.T, ctx context.Context, cb *Codebase) {
		used, err := cb.Upload(ctx, managerEnv(), "used")
		require.NoError(t, err)
		unused, err := cb.Upload(ctx, managerEnv(), "unused")
		require.NoError(t, err)
		require.NoError(t, cb.UseCode(ctx, host.TxEnv(testAlice, testCodebase), used))

		removed, err := cb.RemoveCodes(ctx, managerEnv(), []common.Hash{used, unused, {9}}, false)
		require.NoError(t, err)
		require.Equal(t, []common.Hash{unused}, removed)
		info, err := cb.BaseInfo(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(1), info.Count)
		require.Equal(t, uint64(len("used")), info.TotalSize)

		removed, err = cb.RemoveCodes(ctx, managerEnv(), []common.Hash{used}, true)
		require.NoError(t, err)
		require.Equal(t, []common.Hash{used}, removed)
		info, err = cb.BaseInfo(ctx)
		require.NoError(t, err)
		require.Zero(t, info.Count)
		require.Zero(t, info.TotalSize)
		require.Zero(t, info.TotalRefCount)

		_, found, err := cb.CodeByHash(ctx, used)
		require.NoError(t, err)
		require.False(t, found)
		_, err = cb.RemoveCodes(ctx, host.TxEnv(testStranger, testCodebase), []common.Hash{used}, true)
		require.ErrorIs(t, err, host.ErrBadOrigin)
	})
}

func TestRedisCodeCompression(t *testing.T) {
	ctx := context.Background()
	client, err := redisutil.RedisClientFromURL(redisutil.CreateTestRedis(ctx, t))
	require.NoError(t, err)
	cfg := DefaultRedisConfig
	storage := NewRedisStorage(client, &cfg)

	code := strings.Repeat("return scriptArgs[0];\n", 200)
	hash := Hash(code)
	change := newChange()
	change.PutCodes[hash] = code
	require.NoError(t, storage.Apply(ctx, change))

	raw, err := client.Get(ctx, storage.key("code", hash[:])).Bytes()
	require.NoError(t, err)
	require.Equal(t, codeBrotli, raw[0])
	require.Less(t, len(raw), len(code))

	got, found, err := storage.Code(ctx, hash)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, code, got)

	_, err = decodeCode([]byte{7, 1, 2})
	require.Error(t, err)
	_, err = decodeCode(nil)
	require.Error(t, err)
}

func TestCachedStorageDropsRemovedCode(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryStorage()
	cached, err := NewCachedStorage(base, &DefaultCacheConfig)
	require.NoError(t, err)
	defer cached.Close()

	hash := Hash("return 2")
	put := newChange()
	put.PutCodes[hash] = "return 2"
	require.NoError(t, cached.Apply(ctx, put))
	code, found, err := cached.Code(ctx, hash)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "return 2", code)

	del := newChange()
	del.DelCodes = []common.Hash{hash}
	require.NoError(t, cached.Apply(ctx, del))
	_, found, err = cached.Code(ctx, hash)
	require.NoError(t, err)
	require.False(t, found)
}
