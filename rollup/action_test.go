// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package rollup

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestActionEncoding(t *testing.T) {
	attestor := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	cases := []Action{
		ReplyAction{Data: []byte{1, 2, 3}},
		SetQueueHeadAction{Head: uint256.NewInt(42)},
		GrantAttestorAction{Attestor: attestor},
		RevokeAttestorAction{Attestor: attestor},
	}
	for _, action := range cases {
		decoded, err := DecodeAction(action.Encode())
		require.NoError(t, err)
		require.Equal(t, action, decoded)
	}
	require.Equal(t, byte(0), ReplyAction{}.Encode()[0])
	require.Len(t, SetQueueHeadAction{Head: uint256.NewInt(1)}.Encode(), 33)
}

func TestDecodeActionRejectsGarbage(t *testing.T) {
	for _, raw := range [][]byte{
		nil,
		{ActionTagSetQueueHead, 1},
		{99},
		append([]byte{ActionTagGrantAttestor}, make([]byte, 31)...),
		append([]byte{ActionTagRevokeAttestor}, append([]byte{1}, make([]byte, 31)...)...),
	} {
		_, err := DecodeAction(raw)
		require.ErrorIs(t, err, ErrInvalidAction, "raw %x", raw)
	}
}

func TestQueuePointers(t *testing.T) {
	zero, err := DecodeUint256(nil)
	require.NoError(t, err)
	require.True(t, zero.IsZero())

	v := uint256.NewInt(1 << 40)
	back, err := DecodeUint256(EncodeUint256(v))
	require.NoError(t, err)
	require.Equal(t, v, back)

	_, err = DecodeUint256([]byte{1})
	require.ErrorIs(t, err, ErrInvalidQueueValue)

	key := QueueItemKey(uint256.NewInt(5))
	require.Len(t, key, len(QueuePrefix)+32)
	require.Equal(t, byte(5), key[len(key)-1])
}
