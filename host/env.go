// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package host

// Env describes the origin of a single contract call.
type Env struct {
	Caller        AccountID
	Self          AccountID
	InTransaction bool
	BlockNumber   uint64
}

// SelfCall returns the environment a contract sees when it calls itself.
func (e Env) SelfCall() Env {
	e.Caller = e.Self
	return e
}

// CallInto returns the environment seen by callee when the current contract calls it.
func (e Env) CallInto(callee AccountID) Env {
	return Env{
		Caller:        e.Self,
		Self:          callee,
		InTransaction: e.InTransaction,
		BlockNumber:   e.BlockNumber,
	}
}

func QueryEnv(caller, self AccountID) Env {
	return Env{Caller: caller, Self: self}
}

func TxEnv(caller, self AccountID) Env {
	return Env{Caller: caller, Self: self, InTransaction: true}
}
