// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package oracle

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/pkg/errors"
)

// Reply type tags understood by the anchor side.
const (
	TypeResponse uint32 = 0
	TypeError    uint32 = 2
)

// Code is the error code carried by a TypeError reply.
type Code uint8

const (
	CodeUnknown Code = iota
	CodeBadInput
	CodeFailedToFetchData
	CodeFailedToDecode
	CodeMalformedRequest
)

func (c Code) String() string {
	switch c {
	case CodeUnknown:
		return "Unknown"
	case CodeBadInput:
		return "BadInput"
	case CodeFailedToFetchData:
		return "FailedToFetchData"
	case CodeFailedToDecode:
		return "FailedToDecode"
	case CodeMalformedRequest:
		return "MalformedRequest"
	default:
		return fmt.Sprintf("Code(%d)", uint8(c))
	}
}

// ReplyCode classifies a processing error.
func ReplyCode(err error) Code {
	switch {
	case errors.Is(err, ErrBadInput):
		return CodeBadInput
	case errors.Is(err, ErrFailedToFetchData):
		return CodeFailedToFetchData
	case errors.Is(err, ErrFailedToDecode):
		return CodeFailedToDecode
	case errors.Is(err, ErrMalformedRequest):
		return CodeMalformedRequest
	default:
		return CodeUnknown
	}
}

var (
	requestArgs    abi.Arguments
	uintReplyArgs  abi.Arguments
	bytesReplyArgs abi.Arguments
)

func init() {
	mustType := func(t string) abi.Type {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		return typ
	}
	uint32Ty, uint256Ty, bytesTy := mustType("uint32"), mustType("uint256"), mustType("bytes")
	requestArgs = abi.Arguments{{Type: uint256Ty}, {Type: bytesTy}}
	uintReplyArgs = abi.Arguments{{Type: uint32Ty}, {Type: uint256Ty}, {Type: uint256Ty}}
	bytesReplyArgs = abi.Arguments{{Type: uint32Ty}, {Type: uint256Ty}, {Type: bytesTy}}
}

// Request is a decoded queue entry.
type Request struct {
	ID      *big.Int
	Payload []byte
	Raw     []byte
}

func EncodeRequest(id *big.Int, payload []byte) ([]byte, error) {
	return requestArgs.Pack(id, payload)
}

func DecodeRequest(raw []byte) (*Request, error) {
	values, err := requestArgs.Unpack(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToDecode, err)
	}
	id, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.Wrap(ErrFailedToDecode, "request id")
	}
	payload, ok := values[1].([]byte)
	if !ok {
		return nil, errors.Wrap(ErrFailedToDecode, "request payload")
	}
	return &Request{ID: id, Payload: payload, Raw: raw}, nil
}

func EncodeResponse(id, value *big.Int) ([]byte, error) {
	return uintReplyArgs.Pack(TypeResponse, id, value)
}

func EncodeResponseBytes(id *big.Int, value []byte) ([]byte, error) {
	return bytesReplyArgs.Pack(TypeResponse, id, value)
}

func EncodeError(id *big.Int, code Code) ([]byte, error) {
	return uintReplyArgs.Pack(TypeError, id, big.NewInt(int64(code)))
}

// Reply is a decoded reply. Exactly one of Value and Data is set.
type Reply struct {
	Type  uint32
	ID    *big.Int
	Value *big.Int
	Data  []byte
}

// DecodeReply decodes either reply layout. A reply of exactly three words
// carries a uint256 value; anything longer carries bytes.
func DecodeReply(raw []byte) (*Reply, error) {
	if len(raw) == 3*32 {
		values, err := uintReplyArgs.Unpack(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailedToDecode, err)
		}
		return &Reply{Type: values[0].(uint32), ID: values[1].(*big.Int), Value: values[2].(*big.Int)}, nil
	}
	values, err := bytesReplyArgs.Unpack(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToDecode, err)
	}
	return &Reply{Type: values[0].(uint32), ID: values[1].(*big.Int), Data: values[2].([]byte)}, nil
}
