// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

// Package profile implements a user's wallet: funded external accounts,
// workflows that may use them, and the session protocol that lets a
// running workflow borrow signing authority for exactly one call tree.
package profile

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/brickrollup/brickrollup/host"
)

const RunnerMethod = "run"

type Deps struct {
	DB       ethdb.KeyValueStore
	Registry *host.Registry
	Keys     host.KeyDeriver
	Chains   ChainDialer
	Config   ConfigFetcher
}

type Profile struct {
	mutex    sync.Mutex
	id       host.AccountID
	store    *Storage
	guard    *host.Guard
	keys     host.KeyDeriver
	registry *host.Registry
	signer   *txSigner

	sessionsMutex sync.Mutex
	sessions      map[*host.Session]struct{}
}

// Open loads the profile id from deps.DB, creating it for owner if it does not exist yet.
func Open(id, owner host.AccountID, deps Deps) (*Profile, error) {
	p := &Profile{
		id:       id,
		store:    NewStorage(deps.DB, id),
		keys:     deps.Keys,
		registry: deps.Registry,
		sessions: make(map[*host.Session]struct{}),
	}
	signer, err := newTxSigner(deps.Chains, deps.Config)
	if err != nil {
		return nil, err
	}
	p.signer = signer
	m, found, err := p.store.meta()
	if err != nil {
		return nil, err
	}
	if !found {
		m = &meta{Owner: owner}
		if err := p.store.update(func(b ethdb.Batch) error { return p.store.putMeta(b, m) }); err != nil {
			return nil, err
		}
		log.Info("created profile", "id", id, "owner", owner)
	}
	var contracts host.ContractChecker
	if deps.Registry != nil {
		contracts = deps.Registry
	}
	p.guard = host.NewGuard(p.ownerOrZero, contracts)
	return p, nil
}

func (p *Profile) ID() host.AccountID {
	return p.id
}

func (p *Profile) Version() Version {
	return CurrentVersion
}

func (p *Profile) ownerOrZero() host.AccountID {
	m, _, err := p.store.meta()
	if err != nil {
		log.Error("failed to read profile meta", "profile", p.id, "err", err)
		return host.ZeroAccount
	}
	return m.Owner
}

func (p *Profile) Owner() (host.AccountID, error) {
	m, _, err := p.store.meta()
	if err != nil {
		return host.ZeroAccount, err
	}
	return m.Owner, nil
}

// Config sets the contract that runs workflow commandlines.
func (p *Profile) Config(env host.Env, jsRunner host.AccountID) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if err := p.guard.Require(env, host.OwnerOnly); err != nil {
		return err
	}
	m, _, err := p.store.meta()
	if err != nil {
		return err
	}
	m.JSRunner = jsRunner
	m.Configured = true
	return p.store.update(func(b ethdb.Batch) error { return p.store.putMeta(b, m) })
}

func (p *Profile) GetJSRunner() (host.AccountID, error) {
	m, _, err := p.store.meta()
	if err != nil {
		return host.ZeroAccount, err
	}
	if !m.Configured {
		return host.ZeroAccount, ErrNotConfigured
	}
	return m.JSRunner, nil
}

func (p *Profile) WorkflowCount() (uint64, error) {
	m, _, err := p.store.meta()
	return m.NextWorkflowID, err
}

func (p *Profile) AddWorkflow(env host.Env, name, commandline string) (uint64, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if err := p.guard.Require(env, host.OwnerOnly); err != nil {
		return 0, err
	}
	m, _, err := p.store.meta()
	if err != nil {
		return 0, err
	}
	w := &Workflow{ID: m.NextWorkflowID, Name: name, Enabled: true, Commandline: commandline}
	m.NextWorkflowID++
	err = p.store.update(func(b ethdb.Batch) error {
		if err := p.store.putWorkflow(b, w); err != nil {
			return err
		}
		return p.store.putMeta(b, m)
	})
	if err != nil {
		return 0, err
	}
	log.Info("added workflow", "profile", p.id, "id", w.ID, "name", name)
	return w.ID, nil
}

func (p *Profile) GetWorkflow(id uint64) (*Workflow, error) {
	return p.store.workflow(id)
}

// Workflows lists every workflow. Used by the scheduler.
func (p *Profile) Workflows() ([]*Workflow, error) {
	m, _, err := p.store.meta()
	if err != nil {
		return nil, err
	}
	list := make([]*Workflow, 0, m.NextWorkflowID)
	for id := uint64(0); id < m.NextWorkflowID; id++ {
		w, err := p.store.workflow(id)
		if err != nil {
			return nil, err
		}
		list = append(list, w)
	}
	return list, nil
}

func (p *Profile) setWorkflowEnabled(env host.Env, id uint64, enabled bool) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if err := p.guard.Require(env, host.OwnerOnly); err != nil {
		return err
	}
	w, err := p.store.workflow(id)
	if err != nil {
		return err
	}
	w.Enabled = enabled
	return p.store.update(func(b ethdb.Batch) error { return p.store.putWorkflow(b, w) })
}

func (p *Profile) EnableWorkflow(env host.Env, id uint64) error {
	return p.setWorkflowEnabled(env, id, true)
}

func (p *Profile) DisableWorkflow(env host.Env, id uint64) error {
	return p.setWorkflowEnabled(env, id, false)
}

func (p *Profile) ExternalAccountCount() (uint64, error) {
	m, _, err := p.store.meta()
	return m.NextAccountID, err
}

func (p *Profile) enabledAccount(id uint64) (*ExternalAccount, error) {
	a, err := p.store.account(id)
	if err != nil {
		return nil, err
	}
	if !a.Enabled {
		return nil, errors.Wrapf(ErrExternalAccountDisabled, "id %d", id)
	}
	return a, nil
}

func accountAddress(a *ExternalAccount) (common.Address, error) {
	key, err := crypto.ToECDSA(a.SK)
	if err != nil {
		return common.Address{}, errors.Wrap(ErrBadEvmSecretKey, err.Error())
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

func (p *Profile) GetEvmAccountAddress(id uint64) (common.Address, error) {
	a, err := p.enabledAccount(id)
	if err != nil {
		return common.Address{}, err
	}
	return accountAddress(a)
}

// GenerateEvmAccount creates an account whose key is derived from the account id.
func (p *Profile) GenerateEvmAccount(env host.Env, rpc string) (uint64, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if err := p.guard.Require(env, host.OwnerOnly); err != nil {
		return 0, err
	}
	m, _, err := p.store.meta()
	if err != nil {
		return 0, err
	}
	id := m.NextAccountID
	sk, err := p.keys.DeriveKey(p.id, binary.BigEndian.AppendUint64(nil, id))
	if err != nil {
		return 0, errors.Wrap(ErrBadEvmSecretKey, err.Error())
	}
	a := &ExternalAccount{ID: id, Enabled: true, Type: AccountGenerated, RPC: rpc, SK: sk[:]}
	m.NextAccountID++
	err = p.store.update(func(b ethdb.Batch) error {
		if err := p.store.putAccount(b, a); err != nil {
			return err
		}
		return p.store.putMeta(b, m)
	})
	if err != nil {
		return 0, err
	}
	addr, _ := accountAddress(a)
	log.Info("generated evm account", "profile", p.id, "id", id, "address", addr)
	return id, nil
}

// ImportEvmAccount is kept for interface compatibility. Keys must be generated.
func (p *Profile) ImportEvmAccount(env host.Env, rpc string, sk []byte) (uint64, error) {
	return 0, ErrDeprecated
}

// DumpEvmAccount disables the account so its key can be read out with GetDumpedKey.
func (p *Profile) DumpEvmAccount(env host.Env, id uint64) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if err := p.guard.Require(env, host.OwnerOnly); err != nil {
		return err
	}
	a, err := p.enabledAccount(id)
	if err != nil {
		return err
	}
	a.Enabled = false
	a.Type = AccountDumped
	return p.store.update(func(b ethdb.Batch) error { return p.store.putAccount(b, a) })
}

func (p *Profile) GetDumpedKey(env host.Env, id uint64) ([]byte, error) {
	if err := p.guard.Require(env, host.OwnerOnly); err != nil {
		return nil, err
	}
	a, err := p.store.account(id)
	if err != nil {
		return nil, err
	}
	if a.Type != AccountDumped {
		return nil, ErrExternalAccountNotDumped
	}
	return append([]byte(nil), a.SK...), nil
}

func (p *Profile) SetRpcEndpoint(env host.Env, id uint64, rpc string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if err := p.guard.Require(env, host.OwnerOnly); err != nil {
		return err
	}
	a, err := p.store.account(id)
	if err != nil {
		return err
	}
	a.RPC = rpc
	return p.store.update(func(b ethdb.Batch) error { return p.store.putAccount(b, a) })
}

func (p *Profile) GetRpcEndpoint(id uint64) (string, error) {
	a, err := p.store.account(id)
	if err != nil {
		return "", err
	}
	return a.RPC, nil
}

func (p *Profile) AuthorizeWorkflow(env host.Env, workflow, account uint64) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if err := p.guard.Require(env, host.OwnerOnly); err != nil {
		return err
	}
	if _, err := p.store.workflow(workflow); err != nil {
		return err
	}
	if _, err := p.store.account(account); err != nil {
		return err
	}
	return p.store.update(func(b ethdb.Batch) error { return p.store.putAuthorized(b, workflow, account) })
}

func (p *Profile) GetAuthorizedAccount(workflow uint64) (uint64, bool, error) {
	return p.store.authorized(workflow)
}

// SetWorkflowSession issues the session capability for workflow. Only the
// profile itself may call it, from inside Poll. Signing accepts only sessions
// issued here that are still open.
func (p *Profile) SetWorkflowSession(env host.Env, workflow uint64) (*host.Session, error) {
	if err := p.guard.Require(env, host.SelfOnly); err != nil {
		return nil, err
	}
	session := host.NewSession(p.id, workflow)
	p.sessionsMutex.Lock()
	p.sessions[session] = struct{}{}
	p.sessionsMutex.Unlock()
	return session, nil
}

func (p *Profile) endSession(session *host.Session) {
	session.Close()
	p.sessionsMutex.Lock()
	delete(p.sessions, session)
	p.sessionsMutex.Unlock()
}

// issued reports whether session is an open session of this profile.
func (p *Profile) issued(session *host.Session) bool {
	if session == nil {
		return false
	}
	p.sessionsMutex.Lock()
	defer p.sessionsMutex.Unlock()
	if _, ok := p.sessions[session]; !ok {
		return false
	}
	if !session.Active() {
		delete(p.sessions, session)
		return false
	}
	return session.Issuer() == p.id
}

// Poll runs an enabled workflow. It is only allowed as a query, so the
// session it opens dies with the call.
func (p *Profile) Poll(ctx context.Context, env host.Env, workflowID uint64) (bool, error) {
	if err := p.guard.Require(env, host.QueryOnly); err != nil {
		return false, errors.Wrap(ErrNoPollForTransaction, err.Error())
	}
	w, err := p.store.workflow(workflowID)
	if err != nil {
		return false, err
	}
	if !w.Enabled {
		return false, errors.Wrapf(ErrWorkflowDisabled, "id %d", workflowID)
	}
	runner, err := p.GetJSRunner()
	if err != nil {
		return false, err
	}
	session, err := p.SetWorkflowSession(env.SelfCall(), w.ID)
	if err != nil {
		return false, err
	}
	defer p.endSession(session)
	log.Debug("polling workflow", "profile", p.id, "workflow", w.ID, "name", w.Name)
	out, err := p.registry.Call(ctx, env, runner, RunnerMethod, []byte(w.Commandline), session)
	if err != nil {
		return false, err
	}
	return len(out) == 1 && out[0] == 1, nil
}

// sessionAccount resolves the account a live session of this profile may use.
func (p *Profile) sessionAccount(env host.Env, session *host.Session) (*ExternalAccount, error) {
	if err := p.guard.Require(env, host.ContractOnly); err != nil {
		return nil, err
	}
	if !p.issued(session) {
		return nil, ErrBadWorkflowSession
	}
	accountID, found, err := p.store.authorized(session.Workflow())
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrapf(ErrNoAuthorizedExternalAccount, "workflow %d", session.Workflow())
	}
	return p.enabledAccount(accountID)
}

func (p *Profile) GetCurrentEvmAccountAddress(env host.Env, session *host.Session) (common.Address, error) {
	a, err := p.sessionAccount(env, session)
	if err != nil {
		return common.Address{}, err
	}
	return accountAddress(a)
}

// SignEvmTransaction signs an unsigned transaction given as json with the
// account authorized for the session's workflow and returns the raw bytes.
func (p *Profile) SignEvmTransaction(ctx context.Context, env host.Env, session *host.Session, tx []byte) ([]byte, error) {
	a, err := p.sessionAccount(env, session)
	if err != nil {
		return nil, err
	}
	log.Info("workflow asks for evm tx signing", "profile", p.id, "workflow", session.Workflow(), "account", a.ID)
	return p.signer.sign(ctx, a, tx)
}
