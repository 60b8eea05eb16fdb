// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package rollup

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// QueuePrefix namespaces the request queue inside anchor storage.
const QueuePrefix = "q/"

var (
	QueueHeadKey = []byte(QueuePrefix + "_head")
	QueueTailKey = []byte(QueuePrefix + "_tail")
)

// QueueItemKey is the storage key of the queue entry at index.
func QueueItemKey(index *uint256.Int) []byte {
	idx := index.Bytes32()
	return append([]byte(QueuePrefix), idx[:]...)
}

// EncodeUint256 is the storage encoding of queue pointers.
func EncodeUint256(v *uint256.Int) []byte {
	b := v.Bytes32()
	return b[:]
}

// DecodeUint256 decodes a queue pointer. An unset pointer reads as zero.
func DecodeUint256(b []byte) (*uint256.Int, error) {
	if len(b) == 0 {
		return new(uint256.Int), nil
	}
	if len(b) != 32 {
		return nil, errors.Wrapf(ErrInvalidQueueValue, "length %d", len(b))
	}
	return new(uint256.Int).SetBytes(b), nil
}
