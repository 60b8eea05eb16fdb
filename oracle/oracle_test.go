// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/stretchr/testify/require"

	"github.com/brickrollup/brickrollup/codebase"
	"github.com/brickrollup/brickrollup/host"
	"github.com/brickrollup/brickrollup/lego"
	"github.com/brickrollup/brickrollup/profile"
	"github.com/brickrollup/brickrollup/rollup/anchortest"
	"github.com/brickrollup/brickrollup/scripting"
)

var (
	testOwner    = host.NamedAccount("owner")
	testStranger = host.NamedAccount("stranger")
	testOracle   = host.NamedAccount("oracle")
	testProfile  = host.NamedAccount("profile")
	testLego     = host.NamedAccount("lego")
	testCodebase = host.NamedAccount("codebase")
	testChainID  = big.NewInt(1337)
	testAnchor   = common.HexToAddress("0x00000000000000000000000000000000000a0c40")
)

// echoScript answers every request with the value found in the settings.
const echoScript = `
const raw = scriptArgs[0].slice(2);
const id = raw.slice(0, 64);
const value = parseInt(scriptArgs[1]).toString(16).padStart(64, '0');
'0x' + '0'.repeat(64) + id + value`

type fixture struct {
	registry *host.Registry
	chain    *anchortest.Anchor
	profile  *profile.Profile
	codebase *codebase.Codebase
	oracle   *Oracle
	workflow uint64
}

func ownerEnv(self host.AccountID) host.Env {
	return host.TxEnv(testOwner, self)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		registry: host.NewRegistry(),
		chain:    anchortest.New(testAnchor, testChainID),
	}
	keys, err := host.NewHKDFDeriver(bytes.Repeat([]byte{3}, 32))
	Require(t, err)
	evaluators := func(d scripting.Driver) (scripting.Evaluator, error) {
		return scripting.New(d, &scripting.DefaultConfig, nil)
	}
	profileConfig := profile.TestConfig
	f.profile, err = profile.Open(testProfile, testOwner, profile.Deps{
		DB:       rawdb.NewMemoryDatabase(),
		Registry: f.registry,
		Keys:     keys,
		Chains: func(ctx context.Context, url string) (profile.TxChain, error) {
			return f.chain, nil
		},
		Config: func() *profile.Config { return &profileConfig },
	})
	Require(t, err)
	f.codebase = codebase.New(testCodebase, []host.AccountID{testOwner}, codebase.NewMemoryStorage(), f.registry, &codebase.DefaultConfig)
	f.oracle, err = New(testOracle, testOwner, Deps{
		Registry:   f.registry,
		Keys:       keys,
		Codebase:   f.codebase,
		Evaluators: evaluators,
		Chains: func(ctx context.Context, url string) (Chain, error) {
			return f.chain, nil
		},
	})
	Require(t, err)
	Require(t, f.registry.Register(testProfile, f.profile))
	Require(t, f.registry.Register(testOracle, f.oracle))
	Require(t, f.registry.Register(testLego, lego.New(testLego, lego.Deps{Registry: f.registry, Evaluators: evaluators})))

	Require(t, f.profile.Config(ownerEnv(testProfile), testLego))
	account, err := f.profile.GenerateEvmAccount(ownerEnv(testProfile), "http://target")
	Require(t, err)
	commandline, err := json.Marshal([]map[string]interface{}{
		{"cmd": "call", "config": lego.CallConfig{Callee: testOracle, Method: MethodAnswerRequest}},
		{"cmd": "log"},
	})
	Require(t, err)
	f.workflow, err = f.profile.AddWorkflow(ownerEnv(testProfile), "answer", string(commandline))
	Require(t, err)
	Require(t, f.profile.AuthorizeWorkflow(ownerEnv(testProfile), f.workflow, account))

	Require(t, f.oracle.Configure(ownerEnv(testOracle), testProfile))
	Require(t, f.oracle.ConfigClient(ownerEnv(testOracle), "http://target", testAnchor.Bytes()))
	Require(t, f.oracle.ConfigCore(context.Background(), ownerEnv(testOracle), Core{
		Processor: ProcessorScript,
		Driver:    scripting.DriverJS,
		Script:    Script{Code: echoScript},
		Settings:  "42",
	}))
	f.chain.GrantAttestor(f.oracle.GetAttestAddress())
	return f
}

// openSession issues a workflow session the way the profile does inside Poll.
func (f *fixture) openSession(t *testing.T) *host.Session {
	t.Helper()
	session, err := f.profile.SetWorkflowSession(host.QueryEnv(testProfile, testProfile), f.workflow)
	Require(t, err)
	return session
}

func (f *fixture) poll(t *testing.T) bool {
	t.Helper()
	ok, err := f.profile.Poll(context.Background(), host.QueryEnv(testStranger, testProfile), f.workflow)
	Require(t, err)
	return ok
}

func TestAnswerRequestEndToEnd(t *testing.T) {
	f := newFixture(t)
	f.chain.Push(request(t, 7, []byte{0xab, 0xcd}))

	require.True(t, f.poll(t))
	require.Equal(t, 1, f.chain.SentCount())
	replies := f.chain.Replies()
	require.Len(t, replies, 1)
	reply := decodeReply(t, replies[0])
	require.Equal(t, TypeResponse, reply.Type)
	require.Equal(t, int64(7), reply.ID.Int64())
	require.Equal(t, int64(42), reply.Value.Int64())
	require.Equal(t, uint64(1), f.chain.QueueHead())

	// queue drained: nothing more is broadcast
	require.True(t, f.poll(t))
	require.Equal(t, 1, f.chain.SentCount())
}

func TestAnswerRequestEmptyQueue(t *testing.T) {
	f := newFixture(t)
	session := f.openSession(t)
	defer session.Close()
	txHash, err := f.oracle.AnswerRequest(context.Background(), host.QueryEnv(testLego, testOracle), session)
	Require(t, err)
	require.Nil(t, txHash)
	require.Zero(t, f.chain.SentCount())
}

func TestAnswerRequestMalformedEntry(t *testing.T) {
	f := newFixture(t)
	f.chain.Push([]byte("garbage"))
	require.True(t, f.poll(t))
	replies := f.chain.Replies()
	require.Len(t, replies, 1)
	reply := decodeReply(t, replies[0])
	require.Equal(t, TypeError, reply.Type)
	require.Zero(t, reply.ID.Sign())
	require.Equal(t, int64(CodeFailedToDecode), reply.Value.Int64())
	require.Equal(t, uint64(1), f.chain.QueueHead())
}

func TestAnswerRequestTransientFailure(t *testing.T) {
	f := newFixture(t)
	Require(t, f.oracle.ConfigCoreScript(context.Background(), ownerEnv(testOracle), Script{Code: `throw new Error("FailedToFetchData: upstream down")`}))
	f.chain.Push(request(t, 7, []byte{0xab, 0xcd}))

	// the pipeline reports failure, the queue is untouched
	require.False(t, f.poll(t))
	require.Zero(t, f.chain.SentCount())
	require.Empty(t, f.chain.Replies())
	require.Zero(t, f.chain.QueueHead())

	session := f.openSession(t)
	defer session.Close()
	_, err := f.oracle.AnswerRequest(context.Background(), host.QueryEnv(testLego, testOracle), session)
	require.ErrorIs(t, err, ErrFailedToFetchData)
}

func TestAnswerRequestRequiresSession(t *testing.T) {
	f := newFixture(t)
	f.chain.Push(request(t, 7, nil))
	_, err := f.oracle.AnswerRequest(context.Background(), host.QueryEnv(testLego, testOracle), nil)
	require.ErrorIs(t, err, ErrBadBrickProfile)

	forged := host.NewSession(testProfile, f.workflow)
	_, err = f.oracle.AnswerRequest(context.Background(), host.QueryEnv(testLego, testOracle), forged)
	require.ErrorIs(t, err, ErrBadBrickProfile)
	require.Zero(t, f.chain.SentCount())

	session := f.openSession(t)
	session.Close()
	_, err = f.oracle.AnswerRequest(context.Background(), host.QueryEnv(testLego, testOracle), session)
	require.Error(t, err)
	require.Zero(t, f.chain.SentCount())

	_, err = f.oracle.AnswerRequest(context.Background(), host.TxEnv(testLego, testOracle), session)
	require.ErrorIs(t, err, host.ErrTransactionNotAllowed)
}

func TestOwnerGatedConfiguration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	stranger := host.TxEnv(testStranger, testOracle)

	require.ErrorIs(t, f.oracle.Configure(ownerEnv(testOracle), testProfile), ErrDuplicatedConfigure)
	require.ErrorIs(t, f.oracle.ConfigClient(ownerEnv(testOracle), "rpc", []byte{1, 2, 3}), ErrInvalidAddressLength)
	require.ErrorIs(t, f.oracle.ConfigClient(stranger, "rpc", testAnchor.Bytes()), host.ErrBadOrigin)
	require.ErrorIs(t, f.oracle.ConfigCoreSettings(stranger, "1"), host.ErrBadOrigin)
	require.ErrorIs(t, f.oracle.SetBrickProfileAddress(stranger, testStranger), host.ErrBadOrigin)
	_, err := f.oracle.GetCoreScript(ctx, stranger)
	require.ErrorIs(t, err, host.ErrBadOrigin)

	script, err := f.oracle.GetCoreScript(ctx, ownerEnv(testOracle))
	Require(t, err)
	require.Equal(t, echoScript, script)
	settings, err := f.oracle.GetCoreSettings(ownerEnv(testOracle))
	Require(t, err)
	require.Equal(t, "42", settings)

	Require(t, f.oracle.TransferOwnership(ownerEnv(testOracle), testStranger))
	require.Equal(t, testStranger, f.oracle.Owner())
	require.ErrorIs(t, f.oracle.ConfigCoreSettings(ownerEnv(testOracle), "1"), host.ErrBadOrigin)
	Require(t, f.oracle.ConfigCoreSettings(stranger, "1"))

	fresh, err := New(host.NamedAccount("fresh"), testOwner, Deps{Keys: f.oracle.deps.Keys})
	Require(t, err)
	_, err = fresh.AnswerRequest(ctx, host.QueryEnv(testLego, fresh.ID()), nil)
	require.ErrorIs(t, err, ErrNotConfigured)
	_, err = fresh.GetClient()
	require.ErrorIs(t, err, ErrClientNotConfigured)
	require.ErrorIs(t, fresh.ConfigCoreSettings(ownerEnv(fresh.ID()), "x"), ErrCoreNotConfigured)
	require.NotEqual(t, f.oracle.GetAttestAddress(), fresh.GetAttestAddress())
}

func TestCoreScriptFromCodebase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hash, err := f.codebase.Upload(ctx, ownerEnv(testCodebase), echoScript)
	Require(t, err)
	Require(t, f.oracle.ConfigCoreScript(ctx, ownerEnv(testOracle), Script{Hash: hash}))
	md, found, err := f.codebase.Metadata(ctx, hash)
	Require(t, err)
	require.True(t, found)
	require.Equal(t, uint64(1), md.RefCount)

	script, err := f.oracle.GetCoreScript(ctx, ownerEnv(testOracle))
	Require(t, err)
	require.Equal(t, echoScript, script)

	raw, provenance, err := f.oracle.GetRawAnswer(ctx, host.QueryEnv(testStranger, testOracle), request(t, 9, nil))
	Require(t, err)
	require.Equal(t, hash, provenance)
	reply := decodeReply(t, raw)
	require.Equal(t, int64(9), reply.ID.Int64())
	require.Equal(t, int64(42), reply.Value.Int64())

	err = f.oracle.ConfigCoreScript(ctx, ownerEnv(testOracle), Script{Hash: common.Hash{1}})
	require.ErrorIs(t, err, codebase.ErrCodeNotFound)
}

func TestSecondOracleSeesDrainedQueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chain.Push(request(t, 7, nil))
	session := f.openSession(t)
	defer session.Close()

	other, err := New(host.NamedAccount("oracle-2"), testOwner, f.oracle.deps)
	Require(t, err)
	Require(t, f.registry.Register(other.ID(), other))
	Require(t, other.Configure(ownerEnv(other.ID()), testProfile))
	Require(t, other.ConfigClient(ownerEnv(other.ID()), "rpc", testAnchor.Bytes()))
	Require(t, other.ConfigCore(ctx, ownerEnv(other.ID()), Core{Driver: scripting.DriverJS, Script: Script{Code: echoScript}, Settings: "43"}))
	f.chain.GrantAttestor(other.GetAttestAddress())

	first, err := f.oracle.AnswerRequest(ctx, host.QueryEnv(testLego, testOracle), session)
	Require(t, err)
	require.NotNil(t, first)
	second, err := other.AnswerRequest(ctx, host.QueryEnv(testLego, other.ID()), session)
	Require(t, err)
	require.Nil(t, second, "queue already drained")
	require.Len(t, f.chain.Replies(), 1)
}
