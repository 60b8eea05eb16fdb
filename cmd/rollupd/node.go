// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/go-redis/redis/v8"

	"github.com/brickrollup/brickrollup/codebase"
	"github.com/brickrollup/brickrollup/datasource"
	"github.com/brickrollup/brickrollup/evmtx"
	"github.com/brickrollup/brickrollup/host"
	"github.com/brickrollup/brickrollup/lego"
	"github.com/brickrollup/brickrollup/oracle"
	"github.com/brickrollup/brickrollup/profile"
	"github.com/brickrollup/brickrollup/scheduler"
	"github.com/brickrollup/brickrollup/scripting"
	"github.com/brickrollup/brickrollup/util/redisutil"
	"github.com/brickrollup/brickrollup/util/rpcclient"
)

// Well known contract ids of the daemon.
var (
	CodebaseID = host.NamedAccount("codebase")
	LegoID     = host.NamedAccount("lego")
	FactoryID  = host.NamedAccount("brick-profile-factory")
	OracleID   = host.NamedAccount("offchain-rollup")
	EvmTxID    = host.NamedAccount("evm-transaction")
	DefaultOwn = host.NamedAccount("operator")
)

type Node struct {
	config    *RollupdConfig
	owner     host.AccountID
	registry  *host.Registry
	pool      *rpcclient.Pool
	db        ethdb.KeyValueStore
	redis     []redis.UniversalClient
	codeCache *codebase.CachedStorage
	codebase  *codebase.Codebase
	factory   *profile.Factory
	oracle    *oracle.Oracle
	evmtx     *evmtx.EvmTx
	scheduler *scheduler.Scheduler
}

func parseOwner(s string) (host.AccountID, error) {
	if s == "" {
		return DefaultOwn, nil
	}
	return host.ParseAccountID(s)
}

// CreateNode opens storage and registers every contract. secret is the
// master secret all contract keys derive from.
func CreateNode(ctx context.Context, config *RollupdConfig, db ethdb.KeyValueStore, secret []byte) (*Node, error) {
	owner, err := parseOwner(config.Owner)
	if err != nil {
		return nil, err
	}
	keys, err := host.NewHKDFDeriver(secret)
	if err != nil {
		return nil, err
	}
	n := &Node{
		config:   config,
		owner:    owner,
		registry: host.NewRegistry(),
		db:       db,
	}
	n.pool, err = rpcclient.NewPool(func() *rpcclient.PoolConfig { return &config.Chain })
	if err != nil {
		return nil, err
	}
	fetcher := datasource.NewFetcher(func() *datasource.Config { return &config.Datasource })
	evaluators := func(d scripting.Driver) (scripting.Evaluator, error) {
		return scripting.New(d, &config.Scripting, fetcher)
	}

	storage, err := n.codebaseStorage()
	if err != nil {
		return nil, err
	}
	n.codebase = codebase.New(CodebaseID, []host.AccountID{owner}, storage, n.registry, &config.Codebase)

	runner := lego.New(LegoID, lego.Deps{Registry: n.registry, Fetcher: fetcher, Evaluators: evaluators})
	n.factory, err = profile.OpenFactory(FactoryID, owner, LegoID, profile.Deps{
		DB:       db,
		Registry: n.registry,
		Keys:     keys,
		Chains: func(ctx context.Context, url string) (profile.TxChain, error) {
			c, err := n.pool.Dial(ctx, url)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		Config: func() *profile.Config { return &config.Profile },
	})
	if err != nil {
		return nil, err
	}
	n.oracle, err = oracle.New(OracleID, owner, oracle.Deps{
		Registry:   n.registry,
		Keys:       keys,
		Codebase:   n.codebase,
		Fetcher:    fetcher,
		Evaluators: evaluators,
		Chains: func(ctx context.Context, url string) (oracle.Chain, error) {
			c, err := n.pool.Dial(ctx, url)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	})
	if err != nil {
		return nil, err
	}
	n.evmtx = evmtx.New(EvmTxID, owner, func(ctx context.Context, url string) (evmtx.Sender, error) {
		c, err := n.pool.Dial(ctx, url)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
	for id, contract := range map[host.AccountID]host.Contract{
		LegoID:   runner,
		OracleID: n.oracle,
		EvmTxID:  n.evmtx,
	} {
		if err := n.registry.Register(id, contract); err != nil {
			return nil, err
		}
	}
	if err := n.configureOracle(ctx); err != nil {
		return nil, err
	}

	var leases *redisutil.LeaseCoordinator
	if config.Scheduler.RedisUrl != "" {
		client, err := n.redisClient(config.Scheduler.RedisUrl)
		if err != nil {
			return nil, err
		}
		worker := config.Scheduler.WorkerID
		if worker == "" {
			var b [8]byte
			if _, err := rand.Read(b[:]); err != nil {
				return nil, err
			}
			worker = hexutil.Encode(b[:])
		}
		leases = redisutil.NewLeaseCoordinator(client, worker)
	}
	n.scheduler = scheduler.New(func() *scheduler.Config { return &config.Scheduler }, n.factory, leases)
	log.Info("node created", "owner", owner, "oracle", OracleID, "attestor", n.oracle.GetAttestAddress())
	return n, nil
}

func (n *Node) redisClient(url string) (redis.UniversalClient, error) {
	client, err := redisutil.RedisClientFromURL(url)
	if err != nil {
		return nil, err
	}
	n.redis = append(n.redis, client)
	return client, nil
}

func (n *Node) codebaseStorage() (codebase.Storage, error) {
	cfg := &n.config.Codebase.Redis
	if !cfg.Enable {
		return codebase.NewMemoryStorage(), nil
	}
	client, err := n.redisClient(cfg.Url)
	if err != nil {
		return nil, err
	}
	var storage codebase.Storage = codebase.NewRedisStorage(client, cfg)
	if n.config.Codebase.Cache.Enable {
		n.codeCache, err = codebase.NewCachedStorage(storage, &n.config.Codebase.Cache)
		if err != nil {
			return nil, err
		}
		storage = n.codeCache
	}
	return storage, nil
}

// operatorProfile returns the owner's brick profile, creating it on first start.
func (n *Node) operatorProfile() (*profile.Profile, error) {
	id, err := n.factory.GetUserProfileAddress(n.owner)
	if err == nil {
		p, ok := n.factory.Profile(id)
		if !ok {
			return nil, fmt.Errorf("profile %v not loaded", id)
		}
		return p, nil
	}
	return n.factory.CreateUserProfile(host.TxEnv(n.owner, FactoryID))
}

func (n *Node) coreScript(ctx context.Context) (oracle.Script, error) {
	cfg := &n.config.Core
	if cfg.ScriptFile == "" {
		return oracle.Script{}, nil
	}
	data, err := os.ReadFile(cfg.ScriptFile)
	if err != nil {
		return oracle.Script{}, err
	}
	if !cfg.Upload {
		return oracle.Script{Code: string(data)}, nil
	}
	hash, err := n.codebase.Upload(ctx, host.TxEnv(n.owner, CodebaseID), string(data))
	if err != nil {
		return oracle.Script{}, err
	}
	return oracle.Script{Hash: hash}, nil
}

func (n *Node) configureOracle(ctx context.Context) error {
	cfg := n.config
	env := host.TxEnv(n.owner, OracleID)
	p, err := n.operatorProfile()
	if err != nil {
		return err
	}
	if err := n.oracle.SetBrickProfileAddress(env, p.ID()); err != nil {
		return err
	}
	if cfg.Rollup.Rpc == "" {
		log.Warn("no rollup rpc configured, oracle will not answer requests")
		return nil
	}
	anchor, err := hexutil.Decode(cfg.Rollup.Anchor)
	if err != nil {
		return fmt.Errorf("invalid rollup anchor %q: %w", cfg.Rollup.Anchor, err)
	}
	if err := n.oracle.ConfigClient(env, cfg.Rollup.Rpc, anchor); err != nil {
		return err
	}
	driver, err := scripting.ParseDriver(cfg.Core.Driver)
	if err != nil {
		return err
	}
	script, err := n.coreScript(ctx)
	if err != nil {
		return err
	}
	core := oracle.Core{
		Processor: oracle.ProcessorKind(cfg.Core.Processor),
		Driver:    driver,
		Script:    script,
		Settings:  cfg.Core.Settings,
	}
	if err := n.oracle.ConfigCore(ctx, env, core); err != nil {
		return err
	}
	if cfg.Seed.Enable {
		return n.seed(p)
	}
	return nil
}

// seed gives a fresh operator profile a workflow answering the oracle queue
// and an evm account paying for it.
func (n *Node) seed(p *profile.Profile) error {
	count, err := p.WorkflowCount()
	if err != nil || count > 0 {
		return err
	}
	callConfig, err := json.Marshal(lego.CallConfig{Callee: OracleID, Method: oracle.MethodAnswerRequest})
	if err != nil {
		return err
	}
	commandline, err := json.Marshal([]lego.Action{{Cmd: "call", Config: callConfig}})
	if err != nil {
		return err
	}
	env := host.TxEnv(n.owner, p.ID())
	workflow, err := p.AddWorkflow(env, n.config.Seed.Name, string(commandline))
	if err != nil {
		return err
	}
	rpc := n.config.Seed.AccountRpc
	if rpc == "" {
		rpc = n.config.Rollup.Rpc
	}
	account, err := p.GenerateEvmAccount(env, rpc)
	if err != nil {
		return err
	}
	if err := p.AuthorizeWorkflow(env, workflow, account); err != nil {
		return err
	}
	address, err := p.GetEvmAccountAddress(account)
	if err != nil {
		return err
	}
	log.Info("seeded operator workflow", "workflow", workflow, "account", address, "fund", "needs gas on the target chain")
	return nil
}

func (n *Node) Start(ctx context.Context) error {
	if !n.config.Scheduler.Enable {
		return nil
	}
	return n.scheduler.Start(ctx)
}

func (n *Node) StopAndWait() {
	n.scheduler.StopAndWait()
	n.pool.Close()
	if n.codeCache != nil {
		if err := n.codeCache.Close(); err != nil {
			log.Warn("failed to close code cache", "err", err)
		}
	}
	for _, client := range n.redis {
		if err := client.Close(); err != nil {
			log.Warn("failed to close redis client", "err", err)
		}
	}
}
