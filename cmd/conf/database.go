// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package conf

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	flag "github.com/spf13/pflag"
)

type PersistentConfig struct {
	GlobalConfig string `koanf:"global-config"`
	Data         string `koanf:"data"`
	LogDir       string `koanf:"log-dir"`
	Handles      int    `koanf:"handles"`
	Cache        int    `koanf:"cache"`
}

var PersistentConfigDefault = PersistentConfig{
	GlobalConfig: ".rollupd",
	Data:         "",
	LogDir:       "",
	Handles:      512,
	Cache:        64,
}

func PersistentConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.String(prefix+".global-config", PersistentConfigDefault.GlobalConfig, "directory to store global config and the master secret")
	f.String(prefix+".data", PersistentConfigDefault.Data, "directory to store profile state")
	f.String(prefix+".log-dir", PersistentConfigDefault.LogDir, "directory to store log file")
	f.Int(prefix+".handles", PersistentConfigDefault.Handles, "number of file descriptor handles to use for the database")
	f.Int(prefix+".cache", PersistentConfigDefault.Cache, "database cache size in MB")
}

func (c *PersistentConfig) ResolveDirectoryNames() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("unable to read users home directory: %w", err)
	}

	// Make persistent storage directory relative to home directory if not already absolute
	if !filepath.IsAbs(c.GlobalConfig) {
		c.GlobalConfig = path.Join(homeDir, c.GlobalConfig)
	}
	err = os.MkdirAll(c.GlobalConfig, os.ModePerm)
	if err != nil {
		return fmt.Errorf("unable to create global configuration directory: %w", err)
	}

	if !filepath.IsAbs(c.Data) {
		c.Data = path.Join(c.GlobalConfig, c.Data)
	}
	err = os.MkdirAll(c.Data, os.ModePerm)
	if err != nil {
		return fmt.Errorf("unable to create data directory: %w", err)
	}
	if DatabaseInDirectory(c.Data) {
		return fmt.Errorf("database in --persistent.data (%s) directory, try specifying parent directory", c.Data)
	}
	if c.LogDir == "" {
		c.LogDir = c.GlobalConfig
	}
	return nil
}

// OpenDatabase opens the leveldb store named name below the data directory.
func (c *PersistentConfig) OpenDatabase(name string, readonly bool) (ethdb.KeyValueStore, error) {
	return leveldb.New(path.Join(c.Data, name), c.Cache, c.Handles, "rollupd/"+name+"/", readonly)
}

func DatabaseInDirectory(path string) bool {
	// Consider database present if file `CURRENT` in directory
	_, err := os.Stat(path + "/CURRENT")

	return err == nil
}
