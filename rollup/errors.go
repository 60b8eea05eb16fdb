// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package rollup

import "github.com/pkg/errors"

var (
	ErrFailedToCreateClient      = errors.New("failed to create rollup client")
	ErrFailedToGetStorage        = errors.New("failed to read anchor storage")
	ErrFailedToCommitTx          = errors.New("failed to commit rollup transaction")
	ErrFailedToCreateTransaction = errors.New("failed to create meta transaction")
	ErrSessionCommitted          = errors.New("rollup session already committed")
	ErrInvalidAction             = errors.New("invalid rollup action")
	ErrInvalidQueueValue         = errors.New("invalid queue pointer value")
)
