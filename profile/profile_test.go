// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/stretchr/testify/require"

	"github.com/brickrollup/brickrollup/host"
	"github.com/brickrollup/brickrollup/rollup/anchortest"
	"github.com/brickrollup/brickrollup/util/testhelpers"
)

var (
	testOwner    = host.NamedAccount("owner")
	testStranger = host.NamedAccount("stranger")
	testProfile  = host.NamedAccount("profile")
	testRunner   = host.NamedAccount("runner")
	testChainID  = big.NewInt(1337)
)

func Require(t *testing.T, err error, printables ...interface{}) {
	t.Helper()
	testhelpers.RequireImpl(t, err, printables...)
}

type fixture struct {
	db       ethdb.Database
	registry *host.Registry
	chain    *anchortest.Anchor
	deps     Deps
	profile  *Profile
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:       rawdb.NewMemoryDatabase(),
		registry: host.NewRegistry(),
		chain:    anchortest.New(common.HexToAddress("0xa0"), testChainID),
	}
	keys, err := host.NewHKDFDeriver(bytes.Repeat([]byte{7}, 32))
	Require(t, err)
	cfg := TestConfig
	f.deps = Deps{
		DB:       f.db,
		Registry: f.registry,
		Keys:     keys,
		Chains: func(ctx context.Context, url string) (TxChain, error) {
			return f.chain, nil
		},
		Config: func() *Config { return &cfg },
	}
	f.profile, err = Open(testProfile, testOwner, f.deps)
	Require(t, err)
	Require(t, f.registry.Register(testProfile, f.profile))
	return f
}

func ownerEnv() host.Env {
	return host.TxEnv(testOwner, testProfile)
}

func unsignedTx(t *testing.T, to common.Address) []byte {
	t.Helper()
	data := hexutil.Bytes{1, 2, 3}
	raw, err := json.Marshal(&UnsignedTx{To: &to, Data: &data})
	Require(t, err)
	return raw
}

func TestWorkflowManagement(t *testing.T) {
	f := newFixture(t)
	p := f.profile

	_, err := p.AddWorkflow(host.TxEnv(testStranger, testProfile), "w", "[]")
	require.ErrorIs(t, err, host.ErrBadOrigin)

	id, err := p.AddWorkflow(ownerEnv(), "w0", `[{"cmd":"log"}]`)
	Require(t, err)
	require.Equal(t, uint64(0), id)
	id, err = p.AddWorkflow(ownerEnv(), "w1", "[]")
	Require(t, err)
	require.Equal(t, uint64(1), id)
	count, err := p.WorkflowCount()
	Require(t, err)
	require.Equal(t, uint64(2), count)

	Require(t, p.DisableWorkflow(ownerEnv(), 1))
	w, err := p.GetWorkflow(1)
	Require(t, err)
	require.False(t, w.Enabled)
	Require(t, p.EnableWorkflow(ownerEnv(), 1))
	w, err = p.GetWorkflow(1)
	Require(t, err)
	require.True(t, w.Enabled)

	_, err = p.GetWorkflow(5)
	require.ErrorIs(t, err, ErrWorkflowNotFound)
	require.ErrorIs(t, p.EnableWorkflow(ownerEnv(), 5), ErrWorkflowNotFound)

	reopened, err := Open(testProfile, testStranger, f.deps)
	Require(t, err)
	owner, err := reopened.Owner()
	Require(t, err)
	require.Equal(t, testOwner, owner, "existing profile keeps its owner")
	list, err := reopened.Workflows()
	Require(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "w0", list[0].Name)
}

func TestExternalAccounts(t *testing.T) {
	f := newFixture(t)
	p := f.profile

	_, err := p.GenerateEvmAccount(host.TxEnv(testStranger, testProfile), "http://rpc")
	require.ErrorIs(t, err, host.ErrBadOrigin)
	_, err = p.ImportEvmAccount(ownerEnv(), "http://rpc", make([]byte, 32))
	require.ErrorIs(t, err, ErrDeprecated)

	a0, err := p.GenerateEvmAccount(ownerEnv(), "http://rpc-0")
	Require(t, err)
	a1, err := p.GenerateEvmAccount(ownerEnv(), "http://rpc-1")
	Require(t, err)
	addr0, err := p.GetEvmAccountAddress(a0)
	Require(t, err)
	addr1, err := p.GetEvmAccountAddress(a1)
	Require(t, err)
	require.NotEqual(t, addr0, addr1)

	Require(t, p.SetRpcEndpoint(ownerEnv(), a1, "http://other"))
	rpc, err := p.GetRpcEndpoint(a1)
	Require(t, err)
	require.Equal(t, "http://other", rpc)

	_, err = p.GetDumpedKey(ownerEnv(), a0)
	require.ErrorIs(t, err, ErrExternalAccountNotDumped)
	Require(t, p.DumpEvmAccount(ownerEnv(), a0))
	_, err = p.GetEvmAccountAddress(a0)
	require.ErrorIs(t, err, ErrExternalAccountDisabled)
	sk, err := p.GetDumpedKey(ownerEnv(), a0)
	Require(t, err)
	require.Len(t, sk, 32)
	require.ErrorIs(t, p.DumpEvmAccount(ownerEnv(), a0), ErrExternalAccountDisabled)

	count, err := p.ExternalAccountCount()
	Require(t, err)
	require.Equal(t, uint64(2), count)
}

func TestSigningRequiresLiveSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.profile
	Require(t, f.registry.Register(testRunner, host.ContractFunc(func(context.Context, host.Env, string, []byte, *host.Session) ([]byte, error) {
		return nil, nil
	})))
	wf, err := p.AddWorkflow(ownerEnv(), "w", "")
	Require(t, err)
	acc, err := p.GenerateEvmAccount(ownerEnv(), "rpc")
	Require(t, err)
	runnerEnv := host.QueryEnv(testRunner, testProfile)

	_, err = p.SetWorkflowSession(runnerEnv, wf)
	require.ErrorIs(t, err, host.ErrBadOrigin)

	_, err = p.SignEvmTransaction(ctx, runnerEnv, nil, unsignedTx(t, common.Address{1}))
	require.ErrorIs(t, err, ErrBadWorkflowSession)

	foreign := host.NewSession(host.NamedAccount("other-profile"), wf)
	_, err = p.SignEvmTransaction(ctx, runnerEnv, foreign, unsignedTx(t, common.Address{1}))
	require.ErrorIs(t, err, ErrBadWorkflowSession)

	session, err := p.SetWorkflowSession(host.QueryEnv(testProfile, testProfile), wf)
	Require(t, err)
	_, err = p.SignEvmTransaction(ctx, runnerEnv, session, unsignedTx(t, common.Address{1}))
	require.ErrorIs(t, err, ErrNoAuthorizedExternalAccount)

	Require(t, p.AuthorizeWorkflow(ownerEnv(), wf, acc))
	_, err = p.SignEvmTransaction(ctx, host.QueryEnv(testStranger, testProfile), session, unsignedTx(t, common.Address{1}))
	require.ErrorIs(t, err, host.ErrBadOrigin, "callers must be contracts")

	raw, err := p.SignEvmTransaction(ctx, runnerEnv, session, unsignedTx(t, common.Address{1}))
	Require(t, err)
	var tx types.Transaction
	Require(t, tx.UnmarshalBinary(raw))
	sender, err := types.Sender(types.LatestSignerForChainID(testChainID), &tx)
	Require(t, err)
	expected, err := p.GetCurrentEvmAccountAddress(runnerEnv, session)
	Require(t, err)
	require.Equal(t, expected, sender)
	require.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())

	session.Close()
	_, err = p.SignEvmTransaction(ctx, runnerEnv, session, unsignedTx(t, common.Address{1}))
	require.ErrorIs(t, err, ErrBadWorkflowSession)

	Require(t, p.DumpEvmAccount(ownerEnv(), acc))
	live, err := p.SetWorkflowSession(host.QueryEnv(testProfile, testProfile), wf)
	Require(t, err)
	_, err = p.SignEvmTransaction(ctx, runnerEnv, live, unsignedTx(t, common.Address{1}))
	require.ErrorIs(t, err, ErrExternalAccountDisabled)
}

func TestHandMadeSessionIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.profile
	Require(t, f.registry.Register(testRunner, host.ContractFunc(func(context.Context, host.Env, string, []byte, *host.Session) ([]byte, error) {
		return nil, nil
	})))
	wf, err := p.AddWorkflow(ownerEnv(), "w", "")
	Require(t, err)
	acc, err := p.GenerateEvmAccount(ownerEnv(), "rpc")
	Require(t, err)
	Require(t, p.AuthorizeWorkflow(ownerEnv(), wf, acc))
	runnerEnv := host.QueryEnv(testRunner, testProfile)

	forged := host.NewSession(testProfile, wf)
	_, err = p.SignEvmTransaction(ctx, runnerEnv, forged, unsignedTx(t, common.Address{1}))
	require.ErrorIs(t, err, ErrBadWorkflowSession)
	_, err = p.GetCurrentEvmAccountAddress(runnerEnv, forged)
	require.ErrorIs(t, err, ErrBadWorkflowSession)

	issued, err := p.SetWorkflowSession(host.QueryEnv(testProfile, testProfile), wf)
	Require(t, err)
	_, err = p.SignEvmTransaction(ctx, runnerEnv, issued, unsignedTx(t, common.Address{1}))
	Require(t, err)
	issued.Close()
	_, err = p.SignEvmTransaction(ctx, runnerEnv, issued, unsignedTx(t, common.Address{1}))
	require.ErrorIs(t, err, ErrBadWorkflowSession)
}

func TestSignRejectsBadTransactions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.profile
	Require(t, f.registry.Register(testRunner, host.ContractFunc(func(context.Context, host.Env, string, []byte, *host.Session) ([]byte, error) {
		return nil, nil
	})))
	wf, err := p.AddWorkflow(ownerEnv(), "w", "")
	Require(t, err)
	acc, err := p.GenerateEvmAccount(ownerEnv(), "rpc")
	Require(t, err)
	Require(t, p.AuthorizeWorkflow(ownerEnv(), wf, acc))
	session, err := p.SetWorkflowSession(host.QueryEnv(testProfile, testProfile), wf)
	Require(t, err)
	env := host.QueryEnv(testRunner, testProfile)

	_, err = p.SignEvmTransaction(ctx, env, session, []byte("not json"))
	require.ErrorIs(t, err, ErrBadUnsignedTransaction)

	dest := common.Address{1}
	raw, err := json.Marshal(&UnsignedTx{From: &common.Address{2}, To: &dest})
	Require(t, err)
	_, err = p.SignEvmTransaction(ctx, env, session, raw)
	require.ErrorIs(t, err, ErrBadUnsignedTransaction)

	wrongChain := (*hexutil.Big)(big.NewInt(1))
	raw, err = json.Marshal(&UnsignedTx{To: &dest, ChainID: wrongChain})
	Require(t, err)
	_, err = p.SignEvmTransaction(ctx, env, session, raw)
	require.ErrorIs(t, err, ErrFailedToSignTransaction)
}

func TestPollOpensSessionForOneCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.profile
	client := NewClient(f.registry, testProfile)

	var captured *host.Session
	var signed []byte
	var commandline string
	Require(t, f.registry.Register(testRunner, host.ContractFunc(func(ctx context.Context, env host.Env, method string, input []byte, session *host.Session) ([]byte, error) {
		require.Equal(t, RunnerMethod, method)
		captured = session
		commandline = string(input)
		var err error
		signed, err = client.SignEvmTransaction(ctx, env, session, unsignedTx(t, common.Address{9}))
		if err != nil {
			return []byte{0}, nil
		}
		return []byte{1}, nil
	})))

	wf, err := p.AddWorkflow(ownerEnv(), "w", `[{"cmd":"log"}]`)
	Require(t, err)
	_, err = p.Poll(ctx, host.QueryEnv(testStranger, testProfile), wf)
	require.ErrorIs(t, err, ErrNotConfigured)

	Require(t, p.Config(ownerEnv(), testRunner))
	acc, err := p.GenerateEvmAccount(ownerEnv(), "rpc")
	Require(t, err)
	Require(t, p.AuthorizeWorkflow(ownerEnv(), wf, acc))

	_, err = p.Poll(ctx, host.TxEnv(testStranger, testProfile), wf)
	require.ErrorIs(t, err, ErrNoPollForTransaction)

	ok, err := p.Poll(ctx, host.QueryEnv(testStranger, testProfile), wf)
	Require(t, err)
	require.True(t, ok)
	require.NotEmpty(t, signed)
	require.Equal(t, `[{"cmd":"log"}]`, commandline)
	require.False(t, captured.Active(), "session must not outlive poll")
	require.Equal(t, wf, captured.Workflow())

	_, err = client.SignEvmTransaction(ctx, host.QueryEnv(testStranger, testRunner), captured, unsignedTx(t, common.Address{9}))
	require.ErrorIs(t, err, ErrBadWorkflowSession)

	Require(t, p.DisableWorkflow(ownerEnv(), wf))
	_, err = p.Poll(ctx, host.QueryEnv(testStranger, testProfile), wf)
	require.ErrorIs(t, err, ErrWorkflowDisabled)
}

func TestMaxFeeFormula(t *testing.T) {
	s, err := newTxSigner(nil, func() *Config { return &DefaultConfig })
	Require(t, err)
	fee, err := s.maxFee(big.NewInt(10_000_000_000), big.NewInt(1_000_000_000))
	Require(t, err)
	require.Equal(t, big.NewInt(21_000_000_000), fee)

	bad := Config{MaxFeeFormula: "(("}
	_, err = newTxSigner(nil, func() *Config { return &bad })
	require.Error(t, err)
}

func TestExplicitNonceIsKept(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.profile
	Require(t, f.registry.Register(testRunner, host.ContractFunc(func(context.Context, host.Env, string, []byte, *host.Session) ([]byte, error) {
		return nil, nil
	})))
	wf, err := p.AddWorkflow(ownerEnv(), "w", "")
	Require(t, err)
	acc, err := p.GenerateEvmAccount(ownerEnv(), "rpc")
	Require(t, err)
	Require(t, p.AuthorizeWorkflow(ownerEnv(), wf, acc))
	session, err := p.SetWorkflowSession(host.QueryEnv(testProfile, testProfile), wf)
	Require(t, err)
	defer session.Close()
	env := host.QueryEnv(testRunner, testProfile)

	signNonce := func(nonce *hexutil.Uint64) uint64 {
		t.Helper()
		to := common.Address{1}
		raw, err := json.Marshal(&UnsignedTx{To: &to, Nonce: nonce})
		Require(t, err)
		signed, err := p.SignEvmTransaction(ctx, env, session, raw)
		Require(t, err)
		var tx types.Transaction
		Require(t, tx.UnmarshalBinary(signed))
		return tx.Nonce()
	}

	raw, err := json.Marshal(&UnsignedTx{To: &common.Address{1}})
	Require(t, err)
	signed, err := p.SignEvmTransaction(ctx, env, session, raw)
	Require(t, err)
	_, err = f.chain.SendRawTransaction(ctx, signed)
	Require(t, err)

	require.Equal(t, uint64(1), signNonce(nil), "pending nonce fills an unset nonce")
	zero := hexutil.Uint64(0)
	require.Equal(t, uint64(0), signNonce(&zero))
	seven := hexutil.Uint64(7)
	require.Equal(t, uint64(7), signNonce(&seven))
}

func TestUnsignedTxJSON(t *testing.T) {
	to := common.Address{1}
	raw, err := json.Marshal(&UnsignedTx{To: &to})
	Require(t, err)
	require.NotContains(t, string(raw), `"from"`)
	require.NotContains(t, string(raw), `"nonce"`)

	var tx UnsignedTx
	Require(t, json.Unmarshal([]byte(`{"from":"0x","to":"0x0100000000000000000000000000000000000000","nonce":"0x0"}`), &tx))
	require.Nil(t, tx.From)
	require.Equal(t, to, *tx.To)
	require.NotNil(t, tx.Nonce)
	require.Zero(t, uint64(*tx.Nonce))

	Require(t, json.Unmarshal([]byte(`{"from":"0x0200000000000000000000000000000000000000"}`), &tx))
	require.Equal(t, common.Address{2}, *tx.From)
	require.Error(t, json.Unmarshal([]byte(`{"from":"0x12"}`), &tx))
}
