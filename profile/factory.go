// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package profile

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"

	"github.com/brickrollup/brickrollup/host"
)

var factoryIndexKey = []byte("profile-factory/index")

type UserProfile struct {
	User    host.AccountID
	Profile host.AccountID
}

// Factory creates at most one profile per user and reopens them on restart.
type Factory struct {
	mutex    sync.Mutex
	id       host.AccountID
	owner    host.AccountID
	jsRunner host.AccountID
	deps     Deps
	guard    *host.Guard
	users    map[host.AccountID]host.AccountID
	profiles map[host.AccountID]*Profile
}

// OpenFactory loads every known profile from deps.DB and registers them.
func OpenFactory(id, owner, jsRunner host.AccountID, deps Deps) (*Factory, error) {
	f := &Factory{
		id:       id,
		owner:    owner,
		jsRunner: jsRunner,
		deps:     deps,
		users:    make(map[host.AccountID]host.AccountID),
		profiles: make(map[host.AccountID]*Profile),
	}
	f.guard = host.NewGuard(func() host.AccountID { return f.owner }, deps.Registry)
	index, err := f.loadIndex()
	if err != nil {
		return nil, err
	}
	for _, up := range index {
		if _, err := f.open(up); err != nil {
			return nil, err
		}
	}
	log.Info("opened profile factory", "profiles", len(index))
	return f, nil
}

func (f *Factory) loadIndex() ([]UserProfile, error) {
	has, err := f.deps.DB.Has(factoryIndexKey)
	if err != nil || !has {
		return nil, err
	}
	raw, err := f.deps.DB.Get(factoryIndexKey)
	if err != nil {
		return nil, err
	}
	var index []UserProfile
	if err := rlp.DecodeBytes(raw, &index); err != nil {
		return nil, err
	}
	return index, nil
}

func (f *Factory) saveIndex(b ethdb.KeyValueWriter) error {
	raw, err := rlp.EncodeToBytes(f.userProfilesLocked())
	if err != nil {
		return err
	}
	return b.Put(factoryIndexKey, raw)
}

func (f *Factory) open(up UserProfile) (*Profile, error) {
	p, err := Open(up.Profile, up.User, f.deps)
	if err != nil {
		return nil, err
	}
	if f.deps.Registry != nil && !f.deps.Registry.IsContract(up.Profile) {
		if err := f.deps.Registry.Register(up.Profile, p); err != nil {
			return nil, err
		}
	}
	f.users[up.User] = up.Profile
	f.profiles[up.Profile] = p
	return p, nil
}

func profileIDFor(user host.AccountID) host.AccountID {
	return host.AccountID(crypto.Keccak256Hash([]byte("brick-profile"), user[:]))
}

func (f *Factory) create(user host.AccountID) (*Profile, error) {
	if _, ok := f.users[user]; ok {
		return nil, errors.Wrap(ErrUserProfileAlreadyCreated, user.String())
	}
	p, err := f.open(UserProfile{User: user, Profile: profileIDFor(user)})
	if err != nil {
		return nil, err
	}
	if !f.jsRunner.IsZero() {
		if err := p.Config(host.TxEnv(user, p.ID()), f.jsRunner); err != nil {
			return nil, err
		}
	}
	batch := f.deps.DB.NewBatch()
	if err := f.saveIndex(batch); err != nil {
		return nil, err
	}
	if err := batch.Write(); err != nil {
		return nil, err
	}
	log.Info("created user profile", "user", user, "profile", p.ID())
	return p, nil
}

// CreateUserProfile creates the caller's profile.
func (f *Factory) CreateUserProfile(env host.Env) (*Profile, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.create(env.Caller)
}

// ForceCreateUserProfile creates a profile on behalf of user.
func (f *Factory) ForceCreateUserProfile(env host.Env, user host.AccountID) (*Profile, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if err := f.guard.Require(env, host.OwnerOnly); err != nil {
		return nil, err
	}
	return f.create(user)
}

func (f *Factory) GetUserProfileAddress(user host.AccountID) (host.AccountID, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	id, ok := f.users[user]
	if !ok {
		return host.ZeroAccount, errors.Wrap(ErrUserProfileNotFound, user.String())
	}
	return id, nil
}

func (f *Factory) Profile(id host.AccountID) (*Profile, bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	p, ok := f.profiles[id]
	return p, ok
}

func (f *Factory) userProfilesLocked() []UserProfile {
	list := make([]UserProfile, 0, len(f.users))
	for user, profile := range f.users {
		list = append(list, UserProfile{User: user, Profile: profile})
	}
	sort.Slice(list, func(i, j int) bool {
		return string(list[i].User[:]) < string(list[j].User[:])
	})
	return list
}

func (f *Factory) GetUserProfiles() []UserProfile {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.userProfilesLocked()
}

// ImportUserProfiles registers profiles created elsewhere. Existing users are skipped.
func (f *Factory) ImportUserProfiles(env host.Env, profiles []UserProfile) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if err := f.guard.Require(env, host.OwnerOnly); err != nil {
		return err
	}
	for _, up := range profiles {
		if _, ok := f.users[up.User]; ok {
			continue
		}
		if _, err := f.open(up); err != nil {
			return err
		}
	}
	batch := f.deps.DB.NewBatch()
	if err := f.saveIndex(batch); err != nil {
		return err
	}
	return batch.Write()
}
