// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package profile

import (
	"fmt"

	"github.com/brickrollup/brickrollup/host"
)

type AccountType uint8

const (
	AccountImported AccountType = iota
	AccountGenerated
	AccountDumped
)

func (t AccountType) String() string {
	switch t {
	case AccountImported:
		return "imported"
	case AccountGenerated:
		return "generated"
	case AccountDumped:
		return "dumped"
	default:
		return fmt.Sprintf("account-type(%d)", uint8(t))
	}
}

// Workflow is a named commandline the js runner executes on each poll.
type Workflow struct {
	ID          uint64
	Name        string
	Enabled     bool
	Commandline string
}

// ExternalAccount is a funded key usable on the chain behind RPC.
// It is disabled once dumped.
type ExternalAccount struct {
	ID      uint64
	Enabled bool
	Type    AccountType
	RPC     string
	SK      []byte
}

type meta struct {
	Owner          host.AccountID
	JSRunner       host.AccountID
	Configured     bool
	NextWorkflowID uint64
	NextAccountID  uint64
}

type Version struct {
	Major, Minor, Patch uint16
}

var CurrentVersion = Version{0, 2, 0}
