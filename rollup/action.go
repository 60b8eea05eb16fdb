// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package rollup

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

const (
	ActionTagReply          byte = 0
	ActionTagSetQueueHead   byte = 1
	ActionTagGrantAttestor  byte = 10
	ActionTagRevokeAttestor byte = 11
)

// Action is a mutation the anchor applies after the commit conditions hold.
// The set of actions is closed; see DecodeAction.
type Action interface {
	Encode() []byte
	isAction()
}

// ReplyAction delivers an encoded reply to the anchor's message handler.
type ReplyAction struct {
	Data []byte
}

type SetQueueHeadAction struct {
	Head *uint256.Int
}

type GrantAttestorAction struct {
	Attestor common.Address
}

type RevokeAttestorAction struct {
	Attestor common.Address
}

func (ReplyAction) isAction()          {}
func (SetQueueHeadAction) isAction()   {}
func (GrantAttestorAction) isAction()  {}
func (RevokeAttestorAction) isAction() {}

func (a ReplyAction) Encode() []byte {
	return append([]byte{ActionTagReply}, a.Data...)
}

func (a SetQueueHeadAction) Encode() []byte {
	return append([]byte{ActionTagSetQueueHead}, EncodeUint256(a.Head)...)
}

func (a GrantAttestorAction) Encode() []byte {
	return append([]byte{ActionTagGrantAttestor}, common.LeftPadBytes(a.Attestor.Bytes(), 32)...)
}

func (a RevokeAttestorAction) Encode() []byte {
	return append([]byte{ActionTagRevokeAttestor}, common.LeftPadBytes(a.Attestor.Bytes(), 32)...)
}

func decodeAddressWord(b []byte) (common.Address, error) {
	if len(b) != 32 {
		return common.Address{}, fmt.Errorf("address word has length %d", len(b))
	}
	for _, x := range b[:12] {
		if x != 0 {
			return common.Address{}, errors.New("address word has dirty high bytes")
		}
	}
	return common.BytesToAddress(b[12:]), nil
}

func DecodeAction(raw []byte) (Action, error) {
	if len(raw) == 0 {
		return nil, errors.Wrap(ErrInvalidAction, "empty")
	}
	body := raw[1:]
	switch raw[0] {
	case ActionTagReply:
		return ReplyAction{Data: append([]byte(nil), body...)}, nil
	case ActionTagSetQueueHead:
		if len(body) != 32 {
			return nil, errors.Wrapf(ErrInvalidAction, "queue head has length %d", len(body))
		}
		return SetQueueHeadAction{Head: new(uint256.Int).SetBytes(body)}, nil
	case ActionTagGrantAttestor:
		addr, err := decodeAddressWord(body)
		if err != nil {
			return nil, errors.Wrap(ErrInvalidAction, err.Error())
		}
		return GrantAttestorAction{Attestor: addr}, nil
	case ActionTagRevokeAttestor:
		addr, err := decodeAddressWord(body)
		if err != nil {
			return nil, errors.Wrap(ErrInvalidAction, err.Error())
		}
		return RevokeAttestorAction{Attestor: addr}, nil
	default:
		return nil, errors.Wrapf(ErrInvalidAction, "unknown tag %d", raw[0])
	}
}
