// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package profile

import "github.com/pkg/errors"

var (
	ErrNotConfigured               = errors.New("profile not configured")
	ErrDeprecated                  = errors.New("deprecated")
	ErrNoPollForTransaction        = errors.New("poll is not allowed in a transaction")
	ErrBadWorkflowSession          = errors.New("bad workflow session")
	ErrBadEvmSecretKey             = errors.New("bad evm secret key")
	ErrBadUnsignedTransaction      = errors.New("bad unsigned transaction")
	ErrWorkflowNotFound            = errors.New("workflow not found")
	ErrWorkflowDisabled            = errors.New("workflow disabled")
	ErrNoAuthorizedExternalAccount = errors.New("no authorized external account")
	ErrExternalAccountNotFound     = errors.New("external account not found")
	ErrExternalAccountDisabled     = errors.New("external account disabled")
	ErrExternalAccountNotDumped    = errors.New("external account not dumped")
	ErrFailedToSignTransaction     = errors.New("failed to sign transaction")
	ErrUserProfileAlreadyCreated   = errors.New("user profile already created")
	ErrUserProfileNotFound         = errors.New("user profile not found")
)
