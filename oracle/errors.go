// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package oracle

import "github.com/pkg/errors"

// configuration
var (
	ErrNotConfigured        = errors.New("brick profile not configured")
	ErrClientNotConfigured  = errors.New("rollup client not configured")
	ErrCoreNotConfigured    = errors.New("core not configured")
	ErrDuplicatedConfigure  = errors.New("already configured")
	ErrInvalidAddressLength = errors.New("invalid address length")
	ErrNoCodebase           = errors.New("no code registry attached")
)

// request processing
var (
	ErrFailedToFetchData = errors.New("failed to fetch data")
	ErrFailedToDecode    = errors.New("failed to decode")
	ErrBadInput          = errors.New("bad input")
	ErrMalformedRequest  = errors.New("malformed request")
	ErrScriptFailed      = errors.New("script failed")
	ErrBadScriptOutput   = errors.New("bad script output")
)

// delegation and broadcast
var (
	ErrBadBrickProfile         = errors.New("bad brick profile")
	ErrFailedToSignTransaction = errors.New("failed to sign transaction")
	ErrFailedToSendTransaction = errors.New("failed to send transaction")
)
