// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

// Package lego runs workflow pipelines. A pipeline is a list of actions
// executed in order, each receiving the output of the previous one.
package lego

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/brickrollup/brickrollup/datasource"
	"github.com/brickrollup/brickrollup/host"
	"github.com/brickrollup/brickrollup/scripting"
)

const MethodRun = "run"

var (
	ErrUnsupportedVersion = errors.New("unsupported workflow version")
	ErrUnknownAction      = errors.New("unknown action")
	ErrBadAction          = errors.New("bad action config")
)

type CallConfig struct {
	Callee host.AccountID `json:"callee"`
	Method string         `json:"method"`
}

type FetchConfig struct {
	URL         string            `json:"url"`
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body,omitempty"`
	AllowNon2xx bool              `json:"allowNon2xx,omitempty"`
}

type Action struct {
	Cmd    string          `json:"cmd"`
	Name   string          `json:"name,omitempty"`
	Input  *string         `json:"input,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

type Workflow struct {
	Version int      `json:"version"`
	Debug   bool     `json:"debug"`
	Driver  string   `json:"driver,omitempty"`
	Actions []Action `json:"actions"`
}

// ParseWorkflow accepts either a versioned workflow object or a bare list of actions.
func ParseWorkflow(raw string) (*Workflow, error) {
	var actions []Action
	if err := json.Unmarshal([]byte(raw), &actions); err == nil {
		return &Workflow{Version: 1, Actions: actions}, nil
	}
	var w Workflow
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, err
	}
	if w.Version != 1 {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "%d", w.Version)
	}
	return &w, nil
}

type Deps struct {
	Registry   *host.Registry
	Fetcher    *datasource.Fetcher
	Evaluators func(scripting.Driver) (scripting.Evaluator, error)
}

// Lego is the pipeline runner contract.
type Lego struct {
	id   host.AccountID
	deps Deps
}

func New(id host.AccountID, deps Deps) *Lego {
	return &Lego{id: id, deps: deps}
}

func (l *Lego) ID() host.AccountID {
	return l.id
}

// Run executes the workflow and reports whether every action succeeded.
func (l *Lego) Run(ctx context.Context, env host.Env, session *host.Session, actions string) bool {
	log.Info("lego run", "caller", env.Caller, "len", len(actions))
	w, err := ParseWorkflow(actions)
	if err != nil {
		log.Warn("failed to parse actions", "err", err)
		return false
	}
	if err := l.pipeline(ctx, env, session, w); err != nil {
		log.Warn("workflow failed", "caller", env.Caller, "err", err)
		return false
	}
	return true
}

func (l *Lego) pipeline(ctx context.Context, env host.Env, session *host.Session, w *Workflow) error {
	var input []byte
	for i, action := range w.Actions {
		if action.Input != nil {
			input = []byte(*action.Input)
		}
		name := action.Name
		if name == "" {
			name = action.Cmd
		}
		if w.Debug {
			log.Info("running action", "index", i, "name", name, "input", hexutil.Encode(input))
		}
		output, err := l.runAction(ctx, env, session, w, &action, input)
		if err != nil {
			return fmt.Errorf("action %d (%s): %w", i, name, err)
		}
		input = output
	}
	return nil
}

func (l *Lego) runAction(ctx context.Context, env host.Env, session *host.Session, w *Workflow, action *Action, input []byte) ([]byte, error) {
	switch action.Cmd {
	case "call":
		var cfg CallConfig
		if err := json.Unmarshal(action.Config, &cfg); err != nil {
			return nil, errors.Wrap(ErrBadAction, err.Error())
		}
		if l.deps.Registry == nil {
			return nil, errors.Wrap(host.ErrUnknownContract, cfg.Callee.String())
		}
		return l.deps.Registry.Call(ctx, env, cfg.Callee, cfg.Method, input, session)
	case "log":
		log.Info("workflow output", "caller", env.Caller, "output", string(input))
		return input, nil
	case "eval":
		var script string
		if err := json.Unmarshal(action.Config, &script); err != nil {
			return nil, errors.Wrap(ErrBadAction, err.Error())
		}
		return l.eval(ctx, w, script, input)
	case "fetch":
		return l.fetch(ctx, action, input)
	default:
		return nil, errors.Wrap(ErrUnknownAction, action.Cmd)
	}
}

func (l *Lego) eval(ctx context.Context, w *Workflow, script string, input []byte) ([]byte, error) {
	if l.deps.Evaluators == nil {
		return nil, scripting.ErrUnknownDriver
	}
	driver := scripting.DriverJS
	if w.Driver != "" {
		var err error
		if driver, err = scripting.ParseDriver(w.Driver); err != nil {
			return nil, err
		}
	}
	eval, err := l.deps.Evaluators(driver)
	if err != nil {
		return nil, err
	}
	out, err := eval.Evaluate(ctx, script, []string{string(input)})
	if err != nil {
		return nil, err
	}
	switch o := out.(type) {
	case scripting.String:
		return []byte(o), nil
	case scripting.Bytes:
		return o, nil
	case scripting.Undefined, scripting.Null:
		return nil, nil
	default:
		return nil, errors.Wrapf(scripting.ErrInvalidOutput, "%v", out)
	}
}

func (l *Lego) fetch(ctx context.Context, action *Action, input []byte) ([]byte, error) {
	if l.deps.Fetcher == nil {
		return nil, datasource.ErrFetchFailed
	}
	var cfg FetchConfig
	if len(action.Config) > 0 {
		var url string
		if err := json.Unmarshal(action.Config, &url); err == nil {
			cfg.URL = url
		} else if err := json.Unmarshal(action.Config, &cfg); err != nil {
			return nil, errors.Wrap(ErrBadAction, err.Error())
		}
	}
	if len(input) > 0 {
		cfg.URL = string(input)
	}
	if cfg.URL == "" {
		return nil, errors.Wrap(ErrBadAction, "invalid url")
	}
	req := datasource.Request{Method: cfg.Method, URL: cfg.URL, Headers: cfg.Headers, Body: []byte(cfg.Body)}
	resp, err := l.deps.Fetcher.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if !cfg.AllowNon2xx && !resp.OK() {
		return nil, fmt.Errorf("%w: http request failed: %d", datasource.ErrFetchFailed, resp.StatusCode)
	}
	return resp.Body, nil
}

// Invoke lets profiles run workflows on this contract.
func (l *Lego) Invoke(ctx context.Context, env host.Env, method string, input []byte, session *host.Session) ([]byte, error) {
	if method != MethodRun {
		return nil, errors.Wrap(host.ErrUnknownMethod, method)
	}
	if l.Run(ctx, env, session, string(input)) {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}
