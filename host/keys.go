// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package host

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

const maxDeriveAttempts = 16

// KeyDeriver produces per contract key material from the worker secret.
// The same (contract, label) pair always yields the same key.
type KeyDeriver interface {
	DeriveKey(contract AccountID, label []byte) ([32]byte, error)
}

type HKDFDeriver struct {
	secret []byte
}

func NewHKDFDeriver(secret []byte) (*HKDFDeriver, error) {
	if len(secret) < 32 {
		return nil, errors.New("worker secret must be at least 32 bytes")
	}
	return &HKDFDeriver{secret: append([]byte(nil), secret...)}, nil
}

// DeriveKey returns 32 bytes that are also a valid secp256k1 scalar.
func (d *HKDFDeriver) DeriveKey(contract AccountID, label []byte) ([32]byte, error) {
	var out [32]byte
	for attempt := uint32(0); attempt < maxDeriveAttempts; attempt++ {
		info := label
		if attempt > 0 {
			info = binary.BigEndian.AppendUint32(append([]byte(nil), label...), attempt)
		}
		reader := hkdf.New(sha256.New, d.secret, contract[:], info)
		if _, err := io.ReadFull(reader, out[:]); err != nil {
			return out, err
		}
		if _, err := crypto.ToECDSA(out[:]); err == nil {
			return out, nil
		}
	}
	return out, errors.New("failed to derive a valid key")
}

// DeriveECDSA derives a secp256k1 key pair for contract under label.
func DeriveECDSA(d KeyDeriver, contract AccountID, label []byte) (*ecdsa.PrivateKey, error) {
	raw, err := d.DeriveKey(contract, label)
	if err != nil {
		return nil, err
	}
	return crypto.ToECDSA(raw[:])
}
