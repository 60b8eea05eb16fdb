// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package host

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// AccountID identifies a contract or a user inside the execution runtime.
type AccountID [32]byte

var ZeroAccount AccountID

func (a AccountID) String() string {
	return hexutil.Encode(a[:])
}

func (a AccountID) IsZero() bool {
	return a == ZeroAccount
}

func (a AccountID) Bytes() []byte {
	return a[:]
}

func ParseAccountID(s string) (AccountID, error) {
	var id AccountID
	b, err := hexutil.Decode(s)
	if err != nil {
		return id, errors.Wrap(ErrInvalidAccountID, err.Error())
	}
	if len(b) != len(id) {
		return id, errors.Wrapf(ErrInvalidAccountID, "expected %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// NamedAccount deterministically maps a human readable name to an account id.
// Used for contracts instantiated by the daemon and in tests.
func NamedAccount(name string) AccountID {
	return AccountID(crypto.Keccak256Hash([]byte(name)))
}

// MarshalText and UnmarshalText let account ids live in config files and json.
func (a AccountID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *AccountID) UnmarshalText(input []byte) error {
	id, err := ParseAccountID(string(input))
	if err != nil {
		return err
	}
	*a = id
	return nil
}
