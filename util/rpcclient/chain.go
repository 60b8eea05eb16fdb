// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package rpcclient

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
)

// ChainClient is a target chain connection. Reads go through ethclient,
// raw transaction submission goes through the retrying rpc client.
type ChainClient struct {
	*ethclient.Client
	rpc    *RpcClient
	closed atomic.Bool
}

func DialChain(ctx context.Context, config ClientConfigFetcher) (*ChainClient, error) {
	rpcClient := NewRpcClient(config)
	if err := rpcClient.Start(ctx); err != nil {
		return nil, err
	}
	return &ChainClient{Client: ethclient.NewClient(rpcClient.Client()), rpc: rpcClient}, nil
}

func (c *ChainClient) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	var hash common.Hash
	err := c.rpc.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Bytes(raw))
	return hash, err
}

func (c *ChainClient) Close() {
	c.closed.Store(true)
	c.rpc.Close()
}

type PoolConfig struct {
	Size   int          `koanf:"size"`
	Client ClientConfig `koanf:"client"`
}

var DefaultPoolConfig = PoolConfig{
	Size:   16,
	Client: DefaultClientConfig,
}

func PoolConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Int(prefix+".size", DefaultPoolConfig.Size, "number of target chain connections kept open")
	RPCClientAddOptions(prefix+".client", f, &DefaultPoolConfig.Client)
}

// Pool keeps the most recently used chain connections, one per url. A
// connection stays open while any context it was dialed with is live, even
// after it has been evicted.
type Pool struct {
	config func() *PoolConfig

	mutex   sync.Mutex
	clients *lru.Cache[string, *ChainClient]
	refs    map[*ChainClient]int
	retired map[*ChainClient]struct{}
}

func NewPool(config func() *PoolConfig) (*Pool, error) {
	size := config().Size
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		config:  config,
		refs:    make(map[*ChainClient]int),
		retired: make(map[*ChainClient]struct{}),
	}
	// every cache call happens under p.mutex, so does the callback
	clients, err := lru.NewWithEvict[string, *ChainClient](size, p.evictedLocked)
	if err != nil {
		return nil, err
	}
	p.clients = clients
	return p, nil
}

func (p *Pool) evictedLocked(_ string, c *ChainClient) {
	if p.refs[c] > 0 {
		p.retired[c] = struct{}{}
		return
	}
	c.Close()
}

// acquireLocked holds c until ctx is done.
func (p *Pool) acquireLocked(ctx context.Context, c *ChainClient) {
	p.refs[c]++
	context.AfterFunc(ctx, func() { p.release(c) })
}

func (p *Pool) release(c *ChainClient) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.refs[c]--
	if p.refs[c] > 0 {
		return
	}
	delete(p.refs, c)
	if _, ok := p.retired[c]; ok {
		delete(p.retired, c)
		c.Close()
	}
}

// Dial returns the connection for url, dialing it on first use. The
// connection is not closed by eviction before ctx is done.
func (p *Pool) Dial(ctx context.Context, url string) (*ChainClient, error) {
	if url == "" {
		return nil, errors.New("empty rpc url")
	}
	p.mutex.Lock()
	if c, ok := p.clients.Get(url); ok {
		p.acquireLocked(ctx, c)
		p.mutex.Unlock()
		return c, nil
	}
	p.mutex.Unlock()

	cfg := p.config().Client
	cfg.URL = url
	c, err := DialChain(ctx, func() *ClientConfig { return &cfg })
	if err != nil {
		return nil, err
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if prev, ok := p.clients.Get(url); ok {
		c.Close()
		p.acquireLocked(ctx, prev)
		return prev, nil
	}
	p.clients.Add(url, c)
	p.acquireLocked(ctx, c)
	return c, nil
}

func (p *Pool) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.clients.Len()
}

// Close closes every connection, including those still held by live contexts.
func (p *Pool) Close() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.clients.Purge()
	for c := range p.retired {
		c.Close()
	}
	p.retired = make(map[*ChainClient]struct{})
}
