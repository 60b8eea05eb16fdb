// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package host

import "sync/atomic"

// Session is a capability handed down a single call tree. It is created by
// the contract that issues it, passed explicitly to every callee that needs
// delegated authority, and closed when the issuing call returns. It is never
// stored.
type Session struct {
	issuer   AccountID
	workflow uint64
	closed   atomic.Bool
}

func NewSession(issuer AccountID, workflow uint64) *Session {
	return &Session{issuer: issuer, workflow: workflow}
}

func (s *Session) Issuer() AccountID {
	return s.issuer
}

func (s *Session) Workflow() uint64 {
	return s.workflow
}

// Active reports whether s may still be used. A nil session is never active.
func (s *Session) Active() bool {
	return s != nil && !s.closed.Load()
}

func (s *Session) Close() {
	if s != nil {
		s.closed.Store(true)
	}
}
