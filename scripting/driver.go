// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package scripting

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"

	"github.com/brickrollup/brickrollup/datasource"
)

// Evaluator runs a script with positional string arguments.
type Evaluator interface {
	Evaluate(ctx context.Context, script string, args []string) (Output, error)
}

type Driver uint8

const (
	DriverJS Driver = iota
	DriverExpr
)

func (d Driver) String() string {
	switch d {
	case DriverJS:
		return "js"
	case DriverExpr:
		return "expr"
	default:
		return "unknown"
	}
}

func ParseDriver(s string) (Driver, error) {
	switch strings.ToLower(s) {
	case "js", "javascript", "jsdelegate", "quickjs":
		return DriverJS, nil
	case "expr", "govaluate":
		return DriverExpr, nil
	default:
		return 0, errors.Wrap(ErrUnknownDriver, s)
	}
}

func (d Driver) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Driver) UnmarshalText(b []byte) error {
	parsed, err := ParseDriver(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

type Config struct {
	Timeout  time.Duration `koanf:"timeout"`
	MaxStack int           `koanf:"max-stack"`
}

var DefaultConfig = Config{
	Timeout:  10 * time.Second,
	MaxStack: 1024,
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Duration(prefix+".timeout", DefaultConfig.Timeout, "maximum wall time of a single script evaluation")
	f.Int(prefix+".max-stack", DefaultConfig.MaxStack, "maximum call stack depth of js scripts")
}

// New returns the evaluator for d. fetcher backs the js http host functions and may be nil.
func New(d Driver, config *Config, fetcher *datasource.Fetcher) (Evaluator, error) {
	switch d {
	case DriverJS:
		return NewJSDriver(config, fetcher), nil
	case DriverExpr:
		return NewExprDriver(), nil
	default:
		return nil, errors.Wrapf(ErrUnknownDriver, "%d", d)
	}
}
