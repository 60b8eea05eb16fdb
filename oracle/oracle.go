// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

// Package oracle is the rollup action contract. Each call to AnswerRequest
// takes at most one request off the anchor queue, answers it, and submits
// the answer through a meta transaction signed by a borrowed profile account.
package oracle

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/brickrollup/brickrollup/codebase"
	"github.com/brickrollup/brickrollup/datasource"
	"github.com/brickrollup/brickrollup/host"
	"github.com/brickrollup/brickrollup/profile"
	"github.com/brickrollup/brickrollup/rollup"
	"github.com/brickrollup/brickrollup/scripting"
)

var AttestKeyLabel = []byte("attest_key")

type Version struct {
	Major, Minor, Patch uint16
}

var CurrentVersion = Version{0, 2, 0}

// Chain is the target chain as seen by the oracle.
type Chain interface {
	rollup.ChainReader
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
}

type ChainDialer func(ctx context.Context, url string) (Chain, error)

type EvaluatorFactory func(d scripting.Driver) (scripting.Evaluator, error)

type ProcessorKind string

const (
	ProcessorScript       ProcessorKind = "script"
	ProcessorGraphQLStats ProcessorKind = "graphql-stats"
)

// Script is either inline code or the hash of code held by the code registry.
type Script struct {
	Code string
	Hash common.Hash
}

func (s Script) IsHash() bool {
	return s.Hash != (common.Hash{})
}

type Core struct {
	Processor ProcessorKind
	Driver    scripting.Driver
	Script    Script
	Settings  string
}

type Deps struct {
	Registry   *host.Registry
	Keys       host.KeyDeriver
	Codebase   *codebase.Codebase
	Fetcher    *datasource.Fetcher
	Evaluators EvaluatorFactory
	Chains     ChainDialer
}

type Oracle struct {
	mutex     sync.RWMutex
	id        host.AccountID
	owner     host.AccountID
	attestKey *ecdsa.PrivateKey
	profile   host.AccountID
	client    *rollup.Client
	core      *Core
	deps      Deps
	guard     *host.Guard
}

func New(id, owner host.AccountID, deps Deps) (*Oracle, error) {
	key, err := host.DeriveECDSA(deps.Keys, id, AttestKeyLabel)
	if err != nil {
		return nil, err
	}
	o := &Oracle{id: id, owner: owner, attestKey: key, deps: deps}
	var contracts host.ContractChecker
	if deps.Registry != nil {
		contracts = deps.Registry
	}
	o.guard = host.NewGuard(o.currentOwner, contracts)
	return o, nil
}

func (o *Oracle) currentOwner() host.AccountID {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return o.owner
}

func (o *Oracle) ID() host.AccountID {
	return o.id
}

func (o *Oracle) Version() Version {
	return CurrentVersion
}

func (o *Oracle) Owner() host.AccountID {
	return o.currentOwner()
}

func (o *Oracle) GetAttestAddress() common.Address {
	return crypto.PubkeyToAddress(o.attestKey.PublicKey)
}

func (o *Oracle) TransferOwnership(env host.Env, newOwner host.AccountID) error {
	if err := o.guard.Require(env, host.OwnerOnly); err != nil {
		return err
	}
	o.mutex.Lock()
	defer o.mutex.Unlock()
	log.Info("oracle ownership transferred", "oracle", o.id, "from", o.owner, "to", newOwner)
	o.owner = newOwner
	return nil
}

// Configure binds the brick profile once. Use SetBrickProfileAddress to change it later.
func (o *Oracle) Configure(env host.Env, brickProfile host.AccountID) error {
	if err := o.guard.Require(env, host.OwnerOnly); err != nil {
		return err
	}
	o.mutex.Lock()
	defer o.mutex.Unlock()
	if !o.profile.IsZero() {
		return ErrDuplicatedConfigure
	}
	o.profile = brickProfile
	return nil
}

func (o *Oracle) SetBrickProfileAddress(env host.Env, brickProfile host.AccountID) error {
	if err := o.guard.Require(env, host.OwnerOnly); err != nil {
		return err
	}
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.profile = brickProfile
	return nil
}

func (o *Oracle) GetBrickProfileAddress() (host.AccountID, error) {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	if o.profile.IsZero() {
		return host.AccountID{}, ErrNotConfigured
	}
	return o.profile, nil
}

// ConfigClient sets the target chain rpc and the anchor contract address.
func (o *Oracle) ConfigClient(env host.Env, rpc string, anchor []byte) error {
	if err := o.guard.Require(env, host.OwnerOnly); err != nil {
		return err
	}
	if len(anchor) != common.AddressLength {
		return errors.Wrapf(ErrInvalidAddressLength, "got %d bytes", len(anchor))
	}
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.client = &rollup.Client{RPC: rpc, Anchor: common.BytesToAddress(anchor)}
	return nil
}

func (o *Oracle) GetClient() (*rollup.Client, error) {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	if o.client == nil {
		return nil, ErrClientNotConfigured
	}
	c := *o.client
	return &c, nil
}

func (o *Oracle) ConfigCore(ctx context.Context, env host.Env, core Core) error {
	if err := o.guard.Require(env, host.OwnerOnly); err != nil {
		return err
	}
	if err := o.useScript(ctx, env, core.Script); err != nil {
		return err
	}
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.core = &core
	return nil
}

func (o *Oracle) ConfigCoreScript(ctx context.Context, env host.Env, script Script) error {
	if err := o.guard.Require(env, host.OwnerOnly); err != nil {
		return err
	}
	if _, err := o.coreCopy(); err != nil {
		return err
	}
	if err := o.useScript(ctx, env, script); err != nil {
		return err
	}
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.core.Script = script
	return nil
}

func (o *Oracle) ConfigCoreSettings(env host.Env, settings string) error {
	if err := o.guard.Require(env, host.OwnerOnly); err != nil {
		return err
	}
	o.mutex.Lock()
	defer o.mutex.Unlock()
	if o.core == nil {
		return ErrCoreNotConfigured
	}
	o.core.Settings = settings
	return nil
}

// useScript binds a hash script in the code registry to this contract.
func (o *Oracle) useScript(ctx context.Context, env host.Env, script Script) error {
	if !script.IsHash() {
		return nil
	}
	if o.deps.Codebase == nil {
		return ErrNoCodebase
	}
	return o.deps.Codebase.UseCode(ctx, env.CallInto(o.deps.Codebase.ID()), script.Hash)
}

func (o *Oracle) coreCopy() (*Core, error) {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	if o.core == nil {
		return nil, ErrCoreNotConfigured
	}
	c := *o.core
	return &c, nil
}

func (o *Oracle) resolveScript(ctx context.Context, script Script) (string, error) {
	if !script.IsHash() {
		return script.Code, nil
	}
	if o.deps.Codebase == nil {
		return "", ErrNoCodebase
	}
	code, found, err := o.deps.Codebase.GetCode(ctx, host.Env{Caller: o.id, Self: o.deps.Codebase.ID()})
	if err != nil {
		return "", err
	}
	if !found {
		return "", errors.Wrapf(codebase.ErrCodeNotFound, "%v", script.Hash)
	}
	return code, nil
}

// GetCoreScript returns the source of the configured script.
func (o *Oracle) GetCoreScript(ctx context.Context, env host.Env) (string, error) {
	if err := o.guard.Require(env, host.OwnerOnly); err != nil {
		return "", err
	}
	core, err := o.coreCopy()
	if err != nil {
		return "", err
	}
	return o.resolveScript(ctx, core.Script)
}

func (o *Oracle) GetCoreSettings(env host.Env) (string, error) {
	if err := o.guard.Require(env, host.OwnerOnly); err != nil {
		return "", err
	}
	core, err := o.coreCopy()
	if err != nil {
		return "", err
	}
	return core.Settings, nil
}

func (o *Oracle) handler(ctx context.Context) (*Handler, error) {
	core, err := o.coreCopy()
	if err != nil {
		return nil, err
	}
	script, err := o.resolveScript(ctx, core.Script)
	if err != nil {
		return nil, err
	}
	var eval scripting.Evaluator
	if script != "" {
		if o.deps.Evaluators == nil {
			return nil, errors.Wrap(scripting.ErrUnknownDriver, "no evaluator factory")
		}
		if eval, err = o.deps.Evaluators(core.Driver); err != nil {
			return nil, err
		}
	}
	var processor Processor
	switch core.Processor {
	case ProcessorScript, "":
		if eval == nil {
			return nil, errors.Wrap(ErrCoreNotConfigured, "empty script")
		}
		processor = NewScriptProcessor(eval, script)
	case ProcessorGraphQLStats:
		if o.deps.Fetcher == nil {
			return nil, errors.Wrap(ErrCoreNotConfigured, "no data source")
		}
		processor = NewGraphQLStatsProcessor(o.deps.Fetcher, eval, script)
	default:
		return nil, errors.Wrapf(ErrCoreNotConfigured, "unknown processor %q", core.Processor)
	}
	return NewHandler(processor, core.Settings), nil
}

// GetAnswer runs the handler on request without touching the chain.
func (o *Oracle) GetAnswer(ctx context.Context, env host.Env, request []byte) ([]byte, error) {
	reply, _, err := o.GetRawAnswer(ctx, env, request)
	return reply, err
}

func (o *Oracle) GetRawAnswer(ctx context.Context, env host.Env, request []byte) ([]byte, common.Hash, error) {
	if err := o.guard.Require(env, host.QueryOnly); err != nil {
		return nil, common.Hash{}, err
	}
	h, err := o.handler(ctx)
	if err != nil {
		return nil, common.Hash{}, err
	}
	return h.HandleRequest(ctx, request)
}

// AnswerRequest answers the request at the head of the anchor queue and
// returns the hash of the broadcast transaction, or nil if the queue is empty.
func (o *Oracle) AnswerRequest(ctx context.Context, env host.Env, session *host.Session) ([]byte, error) {
	start := time.Now()
	txHash, err := o.answerRequest(ctx, env, session)
	answerRequestTimer.UpdateSince(start)
	if err != nil {
		failedCounter.Inc(1)
		if IsTransient(err) || errors.Is(err, ErrFailedToSendTransaction) {
			log.Warn("answer request failed", "oracle", o.id, "err", err)
		} else {
			log.Error("answer request failed", "oracle", o.id, "err", err)
		}
		return nil, err
	}
	if txHash == nil {
		noopCounter.Inc(1)
		return nil, nil
	}
	answeredCounter.Inc(1)
	return txHash.Bytes(), nil
}

func (o *Oracle) answerRequest(ctx context.Context, env host.Env, session *host.Session) (*common.Hash, error) {
	if err := o.guard.Require(env, host.QueryOnly); err != nil {
		return nil, err
	}
	profileID, err := o.GetBrickProfileAddress()
	if err != nil {
		return nil, err
	}
	client, err := o.GetClient()
	if err != nil {
		return nil, err
	}
	h, err := o.handler(ctx)
	if err != nil {
		return nil, err
	}
	if o.deps.Chains == nil {
		return nil, errors.Wrap(rollup.ErrFailedToCreateClient, "no chain dialer")
	}
	chain, err := o.deps.Chains(ctx, client.RPC)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rollup.ErrFailedToCreateClient, err)
	}
	rs, err := rollup.Connect(ctx, chain, client.Anchor)
	if err != nil {
		return nil, err
	}
	raw, err := rs.Pop(ctx)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		log.Debug("rollup queue empty", "oracle", o.id, "anchor", client.Anchor)
		return nil, nil
	}
	reply, provenance, err := h.HandleRequest(ctx, raw)
	if err != nil {
		return nil, err
	}
	if r, decodeErr := DecodeReply(reply); decodeErr == nil && r.Type == TypeError {
		errorReplyCounter.Inc(1)
	}
	rs.Action(rollup.ReplyAction{Data: reply})
	tx, err := rs.Commit()
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, nil
	}

	wallet := profile.NewClient(o.deps.Registry, profileID)
	from, err := wallet.GetCurrentEvmAccountAddress(ctx, env, session)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBrickProfile, err)
	}
	attestor := o.GetAttestAddress()
	nonce, err := tx.MetaTxNonce(ctx, attestor)
	if err != nil {
		return nil, fmt.Errorf("%w: meta nonce: %v", rollup.ErrFailedToCreateTransaction, err)
	}
	args, err := rollup.BuildMetaTx(tx, o.attestKey, from, nonce)
	if err != nil {
		return nil, err
	}
	unsigned, err := json.Marshal(profile.NewUnsignedTx(args))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rollup.ErrFailedToCreateTransaction, err)
	}
	signed, err := wallet.SignEvmTransaction(ctx, env, session, unsigned)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToSignTransaction, err)
	}
	txHash, err := chain.SendRawTransaction(ctx, signed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToSendTransaction, err)
	}
	log.Info("answered rollup request", "oracle", o.id, "anchor", client.Anchor, "block", rs.Block(), "provenance", provenance, "from", from, "tx", txHash)
	return &txHash, nil
}
