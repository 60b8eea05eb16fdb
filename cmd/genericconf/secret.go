// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package genericconf

import (
	"errors"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	flag "github.com/spf13/pflag"
)

const SECRET_NOT_SET = ""

// SecretConfig locates the worker master secret all contract keys are
// derived from. Secret takes precedence over Pathname.
type SecretConfig struct {
	Pathname     string `koanf:"pathname"`
	Secret       string `koanf:"secret"`
	CreateIfMiss bool   `koanf:"create-if-missing"`
}

var SecretConfigDefault = SecretConfig{
	Pathname:     "master-secret",
	Secret:       SECRET_NOT_SET,
	CreateIfMiss: true,
}

func SecretConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".pathname", SecretConfigDefault.Pathname, "path of the file holding the hex encoded master secret")
	f.String(prefix+".secret", SecretConfigDefault.Secret, "hex encoded master secret (overrides pathname)")
	f.Bool(prefix+".create-if-missing", SecretConfigDefault.CreateIfMiss, "generate a new master secret file when none exists")
}

// Load returns the master secret, generating and persisting one when allowed.
func (c *SecretConfig) Load(pathResolver func(string) string) ([]byte, error) {
	if c.Secret != SECRET_NOT_SET {
		return hexutil.Decode(c.Secret)
	}
	if c.Pathname == "" {
		return nil, errors.New("no master secret configured")
	}
	filename := pathResolver(c.Pathname)
	data, err := os.ReadFile(filename)
	if err == nil {
		return hexutil.Decode(strings.TrimSpace(string(data)))
	}
	if !errors.Is(err, os.ErrNotExist) || !c.CreateIfMiss {
		return nil, err
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	secret := crypto.FromECDSA(key)
	if err := os.WriteFile(filename, []byte(hexutil.Encode(secret)), 0600); err != nil {
		return nil, err
	}
	return secret, nil
}
