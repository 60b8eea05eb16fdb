// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package scripting

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
)

// ExprDriver evaluates a single govaluate expression. Arguments are bound
// to arg0..argN, numeric arguments are also available as numbers.
type ExprDriver struct {
	functions map[string]govaluate.ExpressionFunction
}

func NewExprDriver() *ExprDriver {
	return &ExprDriver{functions: exprFunctions}
}

var exprFunctions = map[string]govaluate.ExpressionFunction{
	"len": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("len takes one argument")
		}
		return float64(len(fmt.Sprint(args[0]))), nil
	},
	"hex": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("hex takes one argument")
		}
		return "0x" + hex.EncodeToString([]byte(fmt.Sprint(args[0]))), nil
	},
	"concat": func(args ...interface{}) (interface{}, error) {
		var sb strings.Builder
		for _, a := range args {
			sb.WriteString(formatValue(a))
		}
		return sb.String(), nil
	},
	"num": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("num takes one argument")
		}
		return strconv.ParseFloat(strings.TrimSpace(fmt.Sprint(args[0])), 64)
	},
}

func (d *ExprDriver) Evaluate(ctx context.Context, script string, args []string) (Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInterrupted, err)
	}
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(script, d.functions)
	if err != nil {
		return Exception{Message: err.Error()}, nil
	}
	params := make(map[string]interface{}, len(args)+1)
	for i, a := range args {
		params[fmt.Sprintf("arg%d", i)] = a
		if f, err := strconv.ParseFloat(a, 64); err == nil {
			params[fmt.Sprintf("num%d", i)] = f
		}
	}
	params["argc"] = float64(len(args))
	result, err := expr.Evaluate(params)
	if err != nil {
		return Exception{Message: err.Error()}, nil
	}
	switch v := result.(type) {
	case nil:
		return Null{}, nil
	case string:
		return String(v), nil
	case float64:
		return String(formatValue(v)), nil
	default:
		return Other{Desc: fmt.Sprint(v)}, nil
	}
}

func formatValue(v interface{}) string {
	if f, ok := v.(float64); ok {
		if f == math.Trunc(f) && math.Abs(f) < 1e18 {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
