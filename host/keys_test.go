// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package host

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestHKDFDeriver(t *testing.T) {
	_, err := NewHKDFDeriver([]byte("short"))
	require.Error(t, err)

	secret := bytes.Repeat([]byte{0x42}, 32)
	d, err := NewHKDFDeriver(secret)
	require.NoError(t, err)

	a := NamedAccount("a")
	b := NamedAccount("b")
	k1, err := d.DeriveKey(a, []byte("attest_key"))
	require.NoError(t, err)
	k2, err := d.DeriveKey(a, []byte("attest_key"))
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	k3, err := d.DeriveKey(b, []byte("attest_key"))
	require.NoError(t, err)
	require.NotEqual(t, k1, k3)
	k4, err := d.DeriveKey(a, []byte("other"))
	require.NoError(t, err)
	require.NotEqual(t, k1, k4)

	key, err := DeriveECDSA(d, a, []byte("attest_key"))
	require.NoError(t, err)
	require.Equal(t, k1[:], crypto.FromECDSA(key))
}
