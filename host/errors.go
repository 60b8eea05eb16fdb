// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package host

import "github.com/pkg/errors"

var (
	ErrBadOrigin             = errors.New("bad origin")
	ErrTransactionNotAllowed = errors.New("call is only allowed as a query")
	ErrUnknownContract       = errors.New("unknown contract")
	ErrUnknownMethod         = errors.New("unknown method")
	ErrAlreadyRegistered     = errors.New("contract already registered")
	ErrInvalidAccountID      = errors.New("invalid account id")
)
