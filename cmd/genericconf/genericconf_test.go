// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package genericconf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"
)

func TestToSlogLevel(t *testing.T) {
	for _, s := range []string{"trace", "DEBUG", "Info", "warn", "error", "crit"} {
		_, err := ToSlogLevel(s)
		require.NoError(t, err, s)
	}
	level, err := ToSlogLevel("WARN")
	require.NoError(t, err)
	require.Equal(t, log.LevelWarn, level)
	_, err = ToSlogLevel("loud")
	require.Error(t, err)
}

func TestInitLogToFile(t *testing.T) {
	dir := t.TempDir()
	config := DefaultFileLoggingConfig
	config.Enable = true
	config.Compress = false
	require.NoError(t, InitLog("json", "info", &config, DefaultPathResolver(dir)))
	log.Info("file logging works", "answer", 42)
	log.Debug("below the level")
	require.NoError(t, CloseLog())

	data, err := os.ReadFile(filepath.Join(dir, config.File))
	require.NoError(t, err)
	require.Contains(t, string(data), "file logging works")
	require.False(t, strings.Contains(string(data), "below the level"))

	require.Error(t, InitLog("xml", "info", &FileLoggingConfig{}, DefaultPathResolver(dir)))
	require.NoError(t, InitLog("plaintext", "info", &FileLoggingConfig{}, DefaultPathResolver(dir)))
}

func TestSecretLoad(t *testing.T) {
	dir := t.TempDir()
	config := SecretConfigDefault
	first, err := config.Load(DefaultPathResolver(dir))
	require.NoError(t, err)
	require.Len(t, first, 32)
	second, err := config.Load(DefaultPathResolver(dir))
	require.NoError(t, err)
	require.Equal(t, first, second)

	config.CreateIfMiss = false
	config.Pathname = "missing"
	_, err = config.Load(DefaultPathResolver(dir))
	require.Error(t, err)

	config.Secret = "0x0102"
	secret, err := config.Load(DefaultPathResolver(dir))
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2}, secret)
}
