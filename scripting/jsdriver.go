// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package scripting

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/ethereum/go-ethereum/log"

	"github.com/brickrollup/brickrollup/datasource"
)

// JSDriver evaluates javascript with goja. A script receives its arguments
// in the global scriptArgs and produces its result either by assigning
// scriptOutput or as the value of its last expression.
type JSDriver struct {
	config  *Config
	fetcher *datasource.Fetcher
}

func NewJSDriver(config *Config, fetcher *datasource.Fetcher) *JSDriver {
	return &JSDriver{config: config, fetcher: fetcher}
}

func (d *JSDriver) Evaluate(ctx context.Context, script string, args []string) (Output, error) {
	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if d.config.MaxStack > 0 {
		vm.SetMaxCallStackSize(d.config.MaxStack)
	}
	jsArgs := make([]interface{}, len(args))
	for i, a := range args {
		jsArgs[i] = a
	}
	if err := vm.Set("scriptArgs", jsArgs); err != nil {
		return nil, err
	}
	if err := d.installHost(ctx, vm); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	value, err := vm.RunString(script)
	if err != nil {
		switch e := err.(type) {
		case *goja.InterruptedError:
			return nil, fmt.Errorf("%w: %v", ErrInterrupted, e.Value())
		case *goja.Exception:
			return Exception{Message: e.Value().String()}, nil
		case *goja.CompilerSyntaxError:
			return Exception{Message: e.Error()}, nil
		default:
			return Exception{Message: err.Error()}, nil
		}
	}
	if out := vm.Get("scriptOutput"); out != nil && !goja.IsUndefined(out) {
		value = out
	}
	return toOutput(value), nil
}

func toOutput(v goja.Value) Output {
	if v == nil || goja.IsUndefined(v) {
		return Undefined{}
	}
	if goja.IsNull(v) {
		return Null{}
	}
	switch x := v.Export().(type) {
	case string:
		return String(x)
	case []byte:
		return Bytes(x)
	case goja.ArrayBuffer:
		return Bytes(x.Bytes())
	default:
		return Other{Desc: v.String()}
	}
}

type jsHTTPRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

func (d *JSDriver) installHost(ctx context.Context, vm *goja.Runtime) error {
	console := vm.NewObject()
	if err := console.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]interface{}, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			parts = append(parts, a.String())
		}
		log.Info("script console", "msg", fmt.Sprint(parts...))
		return goja.Undefined()
	}); err != nil {
		return err
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}

	pink := vm.NewObject()
	if err := pink.Set("batchHttpRequest", func(call goja.FunctionCall) goja.Value {
		if d.fetcher == nil {
			panic(vm.NewGoError(fmt.Errorf("http requests are not available")))
		}
		var reqs []jsHTTPRequest
		if err := vm.ExportTo(call.Argument(0), &reqs); err != nil {
			panic(vm.NewTypeError("bad request list: %v", err))
		}
		timeout := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		batch := make([]datasource.Request, len(reqs))
		for i, r := range reqs {
			batch[i] = datasource.Request{Method: r.Method, URL: r.URL, Headers: r.Headers, Body: []byte(r.Body)}
		}
		results := d.fetcher.Batch(ctx, batch, timeout)
		out := make([]interface{}, len(results))
		for i, res := range results {
			obj := vm.NewObject()
			if res.Err != nil {
				_ = obj.Set("statusCode", 0)
				_ = obj.Set("error", res.Err.Error())
				_ = obj.Set("body", "")
			} else {
				_ = obj.Set("statusCode", res.Response.StatusCode)
				_ = obj.Set("headers", res.Response.Headers)
				_ = obj.Set("body", string(res.Response.Body))
			}
			out[i] = obj
		}
		return vm.ToValue(out)
	}); err != nil {
		return err
	}
	return vm.Set("pink", pink)
}
