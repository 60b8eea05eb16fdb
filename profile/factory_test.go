// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package profile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brickrollup/brickrollup/host"
)

func TestFactory(t *testing.T) {
	f := newFixture(t)
	factoryID := host.NamedAccount("factory")
	factory, err := OpenFactory(factoryID, testOwner, testRunner, f.deps)
	Require(t, err)

	alice := host.NamedAccount("alice")
	bob := host.NamedAccount("bob")
	p, err := factory.CreateUserProfile(host.TxEnv(alice, factoryID))
	Require(t, err)
	require.True(t, f.registry.IsContract(p.ID()))
	runner, err := p.GetJSRunner()
	Require(t, err)
	require.Equal(t, testRunner, runner)
	owner, err := p.Owner()
	Require(t, err)
	require.Equal(t, alice, owner)

	_, err = factory.CreateUserProfile(host.TxEnv(alice, factoryID))
	require.ErrorIs(t, err, ErrUserProfileAlreadyCreated)

	_, err = factory.ForceCreateUserProfile(host.TxEnv(alice, factoryID), bob)
	require.ErrorIs(t, err, host.ErrBadOrigin)
	_, err = factory.ForceCreateUserProfile(host.TxEnv(testOwner, factoryID), bob)
	Require(t, err)

	addr, err := factory.GetUserProfileAddress(alice)
	Require(t, err)
	require.Equal(t, p.ID(), addr)
	_, err = factory.GetUserProfileAddress(host.NamedAccount("carol"))
	require.ErrorIs(t, err, ErrUserProfileNotFound)
	require.Len(t, factory.GetUserProfiles(), 2)

	// a second factory over the same database sees the same profiles
	deps := f.deps
	deps.Registry = host.NewRegistry()
	reopened, err := OpenFactory(factoryID, testOwner, testRunner, deps)
	Require(t, err)
	require.Equal(t, factory.GetUserProfiles(), reopened.GetUserProfiles())
	require.True(t, deps.Registry.IsContract(p.ID()))

	dave := host.NamedAccount("dave")
	imported := UserProfile{User: dave, Profile: host.NamedAccount("dave-profile")}
	require.ErrorIs(t, reopened.ImportUserProfiles(host.TxEnv(dave, factoryID), []UserProfile{imported}), host.ErrBadOrigin)
	Require(t, reopened.ImportUserProfiles(host.TxEnv(testOwner, factoryID), []UserProfile{imported}))
	got, err := reopened.GetUserProfileAddress(dave)
	Require(t, err)
	require.Equal(t, imported.Profile, got)
}
