// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package codebase

import "github.com/pkg/errors"

var (
	ErrCodeTooLarge     = errors.New("code too large")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrCodeNotFound     = errors.New("code not found")
)
