// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package rpcclient

import (
	"context"
	"errors"
	"math/big"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"

	"github.com/brickrollup/brickrollup/util/testhelpers"
)

func TestLogArgs(t *testing.T) {
	t.Parallel()

	str := logArgs(0, 1, 2, 3, "hello, world")
	if str != "[1, 2, 3, \"hello, world\"]" {
		Fail(t, "unexpected logs limit 0 got:", str)
	}

	str = logArgs(100, 1, 2, 3, "hello, world")
	if str != "[1, 2, 3, \"hello, world\"]" {
		Fail(t, "unexpected logs limit 100 got:", str)
	}

	str = logArgs(4, 1, 2, 3, "hello, world")
	if str != "[1, 2, 3, \"..\"]" {
		Fail(t, "unexpected logs limit 4 got:", str)
	}
}

type testAPI struct {
	stuckCalls  int64
	failedCalls int64
}

func (t *testAPI) StuckAtFirst(ctx context.Context) error {
	stuckRemaining := atomic.AddInt64(&t.stuckCalls, -1) + 1
	if stuckRemaining <= 0 {
		return nil
	}
	<-ctx.Done()
	return errors.New("error")
}

func (t *testAPI) FailAtFirst(ctx context.Context) error {
	failedRemaining := atomic.AddInt64(&t.failedCalls, -1) + 1
	if failedRemaining <= 0 {
		return nil
	}
	return errors.New("error")
}

type ethAPI struct {
	sent atomic.Int64
}

func (e *ethAPI) ChainId() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(1337))
}

func (e *ethAPI) BlockNumber() hexutil.Uint64 {
	return 99
}

func (e *ethAPI) SendRawTransaction(raw hexutil.Bytes) common.Hash {
	e.sent.Add(1)
	return crypto.Keccak256Hash(raw)
}

func createTestServer(t *testing.T, stuckOrFailed int64) (string, *ethAPI) {
	t.Helper()
	server := rpc.NewServer()
	Require(t, server.RegisterName("test", &testAPI{stuckOrFailed, stuckOrFailed}))
	eth := &ethAPI{}
	Require(t, server.RegisterName("eth", eth))
	httpServer := httptest.NewServer(server)
	t.Cleanup(func() {
		httpServer.Close()
		server.Stop()
	})
	return httpServer.URL, eth
}

func TestRpcClientRetry(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute*2)
	defer cancel()

	configFetcher := func(url string) ClientConfigFetcher {
		return func() *ClientConfig {
			return &ClientConfig{
				URL:     url,
				Timeout: time.Second * 2,
				Retries: 2,
			}
		}
	}

	urlGood, _ := createTestServer(t, 0)
	clientGood := NewRpcClient(configFetcher(urlGood))
	Require(t, clientGood.Start(ctx))
	err := clientGood.CallContext(ctx, nil, "test_failAtFirst")
	Require(t, err)
	err = clientGood.CallContext(ctx, nil, "test_stuckAtFirst")
	Require(t, err)

	urlBad, _ := createTestServer(t, 1000)
	clientBad := NewRpcClient(configFetcher(urlBad))
	Require(t, clientBad.Start(ctx))
	err = clientBad.CallContext(ctx, nil, "test_failAtFirst")
	if err == nil {
		Fail(t, "no error for failAtFirst")
	}
	err = clientBad.CallContext(ctx, nil, "test_stuckAtFirst")
	if err == nil {
		Fail(t, "no error for stuckAtFirst")
	}

	urlRetry, _ := createTestServer(t, 1)
	clientRetry := NewRpcClient(configFetcher(urlRetry))
	Require(t, clientRetry.Start(ctx))
	err = clientRetry.CallContext(ctx, nil, "test_failAtFirst")
	if err == nil {
		Fail(t, "no error for failAtFirst")
	}
	err = clientRetry.CallContext(ctx, nil, "test_stuckAtFirst")
	Require(t, err)

	_, err = DialChain(ctx, func() *ClientConfig { return &ClientConfig{} })
	require.Error(t, err)
}

func TestChainPool(t *testing.T) {
	ctx := context.Background()
	url1, eth1 := createTestServer(t, 0)
	url2, _ := createTestServer(t, 0)
	url3, _ := createTestServer(t, 0)
	cfg := DefaultPoolConfig
	cfg.Size = 2
	cfg.Client = TestClientConfig
	pool, err := NewPool(func() *PoolConfig { return &cfg })
	Require(t, err)
	defer pool.Close()

	c1, err := pool.Dial(ctx, url1)
	Require(t, err)
	again, err := pool.Dial(ctx, url1)
	Require(t, err)
	require.Same(t, c1, again)

	chainID, err := c1.ChainID(ctx)
	Require(t, err)
	require.Equal(t, int64(1337), chainID.Int64())
	block, err := c1.BlockNumber(ctx)
	Require(t, err)
	require.Equal(t, uint64(99), block)
	hash, err := c1.SendRawTransaction(ctx, []byte{1, 2, 3})
	Require(t, err)
	require.Equal(t, crypto.Keccak256Hash([]byte{1, 2, 3}), hash)
	require.Equal(t, int64(1), eth1.sent.Load())

	_, err = pool.Dial(ctx, url2)
	Require(t, err)
	_, err = pool.Dial(ctx, url3)
	Require(t, err)
	require.Equal(t, 2, pool.Len())

	_, err = pool.Dial(ctx, "")
	require.Error(t, err)
}

func TestChainPoolKeepsBusyClient(t *testing.T) {
	url1, _ := createTestServer(t, 0)
	url2, _ := createTestServer(t, 0)
	cfg := DefaultPoolConfig
	cfg.Size = 1
	cfg.Client = TestClientConfig
	pool, err := NewPool(func() *PoolConfig { return &cfg })
	Require(t, err)
	defer pool.Close()

	busyCtx, finish := context.WithCancel(context.Background())
	defer finish()
	busy, err := pool.Dial(busyCtx, url1)
	Require(t, err)
	_, err = pool.Dial(context.Background(), url2)
	Require(t, err)
	require.Equal(t, 1, pool.Len())

	// evicted while in use: still open
	require.False(t, busy.closed.Load())
	block, err := busy.BlockNumber(context.Background())
	Require(t, err)
	require.Equal(t, uint64(99), block)

	finish()
	require.Eventually(t, busy.closed.Load, 5*time.Second, 10*time.Millisecond)

	idle, err := pool.Dial(context.Background(), url1)
	Require(t, err)
	require.NotSame(t, busy, idle)
}

func Require(t *testing.T, err error, printables ...interface{}) {
	t.Helper()
	testhelpers.RequireImpl(t, err, printables...)
}

func Fail(t *testing.T, printables ...interface{}) {
	t.Helper()
	testhelpers.FailImpl(t, printables...)
}
