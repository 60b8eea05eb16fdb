// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package oracle

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/brickrollup/brickrollup/codebase"
	"github.com/brickrollup/brickrollup/datasource"
	"github.com/brickrollup/brickrollup/scripting"
	"github.com/brickrollup/brickrollup/util/testhelpers"
)

func Require(t *testing.T, err error, printables ...interface{}) {
	t.Helper()
	testhelpers.RequireImpl(t, err, printables...)
}

type funcProcessor func(ctx context.Context, req *Request, settings string) (Value, error)

func (f funcProcessor) Process(ctx context.Context, req *Request, settings string) (Value, error) {
	return f(ctx, req, settings)
}

func (f funcProcessor) Provenance() common.Hash {
	return common.Hash{}
}

func request(t *testing.T, id int64, payload []byte) []byte {
	t.Helper()
	raw, err := EncodeRequest(big.NewInt(id), payload)
	Require(t, err)
	return raw
}

func decodeReply(t *testing.T, raw []byte) *Reply {
	t.Helper()
	reply, err := DecodeReply(raw)
	Require(t, err)
	return reply
}

func TestHandlerAnswers(t *testing.T) {
	ctx := context.Background()
	h := NewHandler(funcProcessor(func(ctx context.Context, req *Request, settings string) (Value, error) {
		require.Equal(t, []byte{0xab, 0xcd}, req.Payload)
		require.Equal(t, "settings", settings)
		return Uint{V: big.NewInt(42)}, nil
	}), "settings")
	raw, _, err := h.HandleRequest(ctx, request(t, 7, []byte{0xab, 0xcd}))
	Require(t, err)
	reply := decodeReply(t, raw)
	require.Equal(t, TypeResponse, reply.Type)
	require.Equal(t, int64(7), reply.ID.Int64())
	require.Equal(t, int64(42), reply.Value.Int64())
}

func TestHandlerErrorPolicy(t *testing.T) {
	ctx := context.Background()
	var failWith error
	h := NewHandler(funcProcessor(func(ctx context.Context, req *Request, settings string) (Value, error) {
		return nil, failWith
	}), "")

	// malformed entries are answered, never propagated
	for _, bad := range [][]byte{[]byte("not a tuple"), {}} {
		raw, _, err := h.HandleRequest(ctx, bad)
		Require(t, err)
		reply := decodeReply(t, raw)
		require.Equal(t, TypeError, reply.Type)
		require.Zero(t, reply.ID.Sign())
		require.Equal(t, int64(CodeFailedToDecode), reply.Value.Int64())
	}

	for _, tc := range []struct {
		err  error
		code Code
	}{
		{ErrBadInput, CodeBadInput},
		{ErrFailedToDecode, CodeFailedToDecode},
		{ErrMalformedRequest, CodeMalformedRequest},
		{fmt.Errorf("%w: boom", ErrScriptFailed), CodeUnknown},
	} {
		failWith = tc.err
		raw, _, err := h.HandleRequest(ctx, request(t, 11, nil))
		Require(t, err)
		reply := decodeReply(t, raw)
		require.Equal(t, TypeError, reply.Type)
		require.Equal(t, int64(11), reply.ID.Int64())
		require.Equal(t, int64(tc.code), reply.Value.Int64(), tc.err)
	}

	for _, transient := range []error{ErrFailedToFetchData, scripting.ErrInterrupted, context.DeadlineExceeded} {
		failWith = fmt.Errorf("wrapped: %w", transient)
		raw, _, err := h.HandleRequest(ctx, request(t, 11, nil))
		require.ErrorIs(t, err, transient)
		require.Nil(t, raw)
	}
}

func TestScriptProcessor(t *testing.T) {
	ctx := context.Background()
	js, err := scripting.New(scripting.DriverJS, &scripting.DefaultConfig, nil)
	Require(t, err)

	script := `
const raw = scriptArgs[0].slice(2);
const id = raw.slice(0, 64);
const value = parseInt(scriptArgs[1]).toString(16).padStart(64, '0');
'0x' + '0'.repeat(64) + id + value`
	p := NewScriptProcessor(js, script)
	require.Equal(t, codebase.Hash(script), p.Provenance())
	raw, provenance, err := NewHandler(p, "42").HandleRequest(ctx, request(t, 7, []byte{0xab, 0xcd}))
	Require(t, err)
	require.Equal(t, codebase.Hash(script), provenance)
	reply := decodeReply(t, raw)
	require.Equal(t, TypeResponse, reply.Type)
	require.Equal(t, int64(7), reply.ID.Int64())
	require.Equal(t, int64(42), reply.Value.Int64())

	// non hex output is answered as an unknown error
	raw, _, err = NewHandler(NewScriptProcessor(js, `"42"`), "").HandleRequest(ctx, request(t, 3, nil))
	Require(t, err)
	reply = decodeReply(t, raw)
	require.Equal(t, TypeError, reply.Type)
	require.Equal(t, int64(CodeUnknown), reply.Value.Int64())

	// scripts classify their failures by name
	raw, _, err = NewHandler(NewScriptProcessor(js, `throw new Error("BadInput: id")`), "").HandleRequest(ctx, request(t, 3, nil))
	Require(t, err)
	require.Equal(t, int64(CodeBadInput), decodeReply(t, raw).Value.Int64())

	_, _, err = NewHandler(NewScriptProcessor(js, `throw new Error("FailedToFetchData")`), "").HandleRequest(ctx, request(t, 3, nil))
	require.ErrorIs(t, err, ErrFailedToFetchData)
}

func TestGraphQLStatsProcessor(t *testing.T) {
	ctx := context.Background()
	status := http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(status)
		fmt.Fprint(w, `{"data":{"profile":{"stats":{"totalCollects":1234}}}}`)
	}))
	defer server.Close()
	fetcher := datasource.NewFetcher(func() *datasource.Config { return &datasource.TestConfig })

	h := NewHandler(NewGraphQLStatsProcessor(fetcher, nil, ""), server.URL)
	raw, provenance, err := h.HandleRequest(ctx, request(t, 5, []byte("0x01")))
	Require(t, err)
	require.Equal(t, common.Hash{}, provenance)
	reply := decodeReply(t, raw)
	require.Equal(t, TypeResponse, reply.Type)
	require.Equal(t, int64(1234), reply.Value.Int64())

	raw, _, err = h.HandleRequest(ctx, request(t, 5, []byte("01")))
	Require(t, err)
	require.Equal(t, int64(CodeBadInput), decodeReply(t, raw).Value.Int64())

	js, err := scripting.New(scripting.DriverJS, &scripting.DefaultConfig, nil)
	Require(t, err)
	transform := `function transform(arg) { let input = JSON.parse(arg); return String(input.data.profile.stats.totalCollects * 2); } transform(scriptArgs[0])`
	raw, provenance, err = NewHandler(NewGraphQLStatsProcessor(fetcher, js, transform), server.URL).HandleRequest(ctx, request(t, 5, []byte("0x01")))
	Require(t, err)
	require.Equal(t, codebase.Hash(transform), provenance)
	require.Equal(t, int64(2468), decodeReply(t, raw).Value.Int64())

	raw, _, err = NewHandler(NewGraphQLStatsProcessor(fetcher, js, `"nope"`), server.URL).HandleRequest(ctx, request(t, 5, []byte("0x01")))
	Require(t, err)
	require.Equal(t, int64(CodeFailedToDecode), decodeReply(t, raw).Value.Int64())

	status = http.StatusBadGateway
	_, _, err = h.HandleRequest(ctx, request(t, 5, []byte("0x01")))
	require.ErrorIs(t, err, ErrFailedToFetchData)
}
