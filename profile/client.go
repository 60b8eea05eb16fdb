// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package profile

import (
	"context"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/brickrollup/brickrollup/host"
)

const (
	MethodGetCurrentEvmAccountAddress = "get_current_evm_account_address"
	MethodSignEvmTransaction          = "sign_evm_transaction"
	MethodPoll                        = "poll"
)

// Invoke exposes the cross contract surface of the profile.
func (p *Profile) Invoke(ctx context.Context, env host.Env, method string, input []byte, session *host.Session) ([]byte, error) {
	switch method {
	case MethodGetCurrentEvmAccountAddress:
		addr, err := p.GetCurrentEvmAccountAddress(env, session)
		if err != nil {
			return nil, err
		}
		return addr.Bytes(), nil
	case MethodSignEvmTransaction:
		return p.SignEvmTransaction(ctx, env, session, input)
	case MethodPoll:
		if len(input) != 8 {
			return nil, errors.New("poll takes a workflow id")
		}
		ok, err := p.Poll(ctx, env, binary.BigEndian.Uint64(input))
		if err != nil {
			return nil, err
		}
		if ok {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	default:
		return nil, errors.Wrap(host.ErrUnknownMethod, method)
	}
}

// Client calls a profile through the registry on behalf of another contract.
type Client struct {
	registry *host.Registry
	id       host.AccountID
}

func NewClient(registry *host.Registry, id host.AccountID) *Client {
	return &Client{registry: registry, id: id}
}

func (c *Client) ID() host.AccountID {
	return c.id
}

func (c *Client) GetCurrentEvmAccountAddress(ctx context.Context, env host.Env, session *host.Session) (common.Address, error) {
	out, err := c.registry.Call(ctx, env, c.id, MethodGetCurrentEvmAccountAddress, nil, session)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) != common.AddressLength {
		return common.Address{}, errors.Errorf("profile returned %d address bytes", len(out))
	}
	return common.BytesToAddress(out), nil
}

func (c *Client) SignEvmTransaction(ctx context.Context, env host.Env, session *host.Session, tx []byte) ([]byte, error) {
	return c.registry.Call(ctx, env, c.id, MethodSignEvmTransaction, tx, session)
}
