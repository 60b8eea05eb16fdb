// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package host

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

// Contract is anything that can be invoked through the registry by id.
type Contract interface {
	Invoke(ctx context.Context, env Env, method string, input []byte, session *Session) ([]byte, error)
}

type ContractFunc func(ctx context.Context, env Env, method string, input []byte, session *Session) ([]byte, error)

func (f ContractFunc) Invoke(ctx context.Context, env Env, method string, input []byte, session *Session) ([]byte, error) {
	return f(ctx, env, method, input, session)
}

// Registry routes cross contract calls inside one process.
type Registry struct {
	mutex     sync.RWMutex
	contracts map[AccountID]Contract
}

func NewRegistry() *Registry {
	return &Registry{contracts: make(map[AccountID]Contract)}
}

func (r *Registry) Register(id AccountID, c Contract) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.contracts[id]; ok {
		return errors.Wrap(ErrAlreadyRegistered, id.String())
	}
	r.contracts[id] = c
	return nil
}

func (r *Registry) IsContract(id AccountID) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, ok := r.contracts[id]
	return ok
}

func (r *Registry) Lookup(id AccountID) (Contract, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	c, ok := r.contracts[id]
	return c, ok
}

// Call invokes method on callee with the caller set to env.Self.
func (r *Registry) Call(ctx context.Context, env Env, callee AccountID, method string, input []byte, session *Session) ([]byte, error) {
	c, ok := r.Lookup(callee)
	if !ok {
		return nil, errors.Wrap(ErrUnknownContract, callee.String())
	}
	log.Trace("cross contract call", "caller", env.Self, "callee", callee, "method", method, "inputLen", len(input))
	return c.Invoke(ctx, env.CallInto(callee), method, input, session)
}
