// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package scripting

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

var (
	ErrInvalidOutput = errors.New("invalid script output")
	ErrInterrupted   = errors.New("script interrupted")
	ErrUnknownDriver = errors.New("unknown script driver")
)

// Output is what a script evaluates to. The set of outputs is closed.
type Output interface {
	fmt.Stringer
	isOutput()
}

type (
	String    string
	Bytes     []byte
	Undefined struct{}
	Null      struct{}
	Other     struct{ Desc string }
	Exception struct{ Message string }
)

func (String) isOutput()    {}
func (Bytes) isOutput()     {}
func (Undefined) isOutput() {}
func (Null) isOutput()      {}
func (Other) isOutput()     {}
func (Exception) isOutput() {}

func (o String) String() string    { return string(o) }
func (o Bytes) String() string     { return hexutil.Encode(o) }
func (Undefined) String() string   { return "undefined" }
func (Null) String() string        { return "null" }
func (o Other) String() string     { return o.Desc }
func (o Exception) String() string { return "exception: " + o.Message }

// DecodeHexOutput turns a script result into bytes. Strings must be 0x prefixed hex.
func DecodeHexOutput(out Output) ([]byte, error) {
	switch o := out.(type) {
	case Bytes:
		return []byte(o), nil
	case String:
		if !strings.HasPrefix(string(o), "0x") && !strings.HasPrefix(string(o), "0X") {
			return nil, errors.Wrap(ErrInvalidOutput, "string output is not hex")
		}
		b, err := hexutil.Decode("0x" + string(o)[2:])
		if err != nil {
			return nil, errors.Wrap(ErrInvalidOutput, err.Error())
		}
		return b, nil
	case Exception:
		return nil, errors.Wrap(ErrInvalidOutput, o.Message)
	default:
		return nil, errors.Wrapf(ErrInvalidOutput, "unexpected output %v", out)
	}
}
