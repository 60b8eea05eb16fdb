// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package host

import (
	"fmt"

	"github.com/pkg/errors"
)

type Capability uint8

const (
	// OwnerOnly requires the caller to be the current owner of the contract.
	OwnerOnly Capability = iota
	// SelfOnly requires the contract to be calling itself.
	SelfOnly
	// ContractOnly requires the caller to be a registered contract.
	ContractOnly
	// QueryOnly rejects calls made inside a transaction.
	QueryOnly
)

func (c Capability) String() string {
	switch c {
	case OwnerOnly:
		return "owner-only"
	case SelfOnly:
		return "self-only"
	case ContractOnly:
		return "contract-only"
	case QueryOnly:
		return "query-only"
	default:
		return fmt.Sprintf("capability(%d)", uint8(c))
	}
}

type ContractChecker interface {
	IsContract(AccountID) bool
}

// Guard is the single authorization check in front of every mutating entry point.
type Guard struct {
	owner     func() AccountID
	contracts ContractChecker
}

func NewGuard(owner func() AccountID, contracts ContractChecker) *Guard {
	return &Guard{owner: owner, contracts: contracts}
}

// Require fails unless env satisfies every capability in caps.
func (g *Guard) Require(env Env, caps ...Capability) error {
	for _, c := range caps {
		if err := g.check(env, c); err != nil {
			return errors.Wrapf(err, "%v", c)
		}
	}
	return nil
}

func (g *Guard) check(env Env, c Capability) error {
	switch c {
	case OwnerOnly:
		if g.owner == nil || env.Caller != g.owner() {
			return ErrBadOrigin
		}
	case SelfOnly:
		if env.Caller != env.Self {
			return ErrBadOrigin
		}
	case ContractOnly:
		if g.contracts == nil || !g.contracts.IsContract(env.Caller) {
			return ErrBadOrigin
		}
	case QueryOnly:
		if env.InTransaction {
			return ErrTransactionNotAllowed
		}
	default:
		return fmt.Errorf("unknown capability %d", c)
	}
	return nil
}
