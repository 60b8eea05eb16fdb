// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/brickrollup/brickrollup/codebase"
	"github.com/brickrollup/brickrollup/datasource"
	"github.com/brickrollup/brickrollup/scripting"
)

// Value is the successful result of processing one request.
type Value interface {
	isValue()
}

type (
	// Uint is answered as a uint256 response.
	Uint struct{ V *big.Int }
	// Bytes is answered as a bytes response.
	Bytes []byte
	// RawReply is already a fully encoded reply and is sent as is.
	RawReply []byte
)

func (Uint) isValue()     {}
func (Bytes) isValue()    {}
func (RawReply) isValue() {}

type Processor interface {
	Process(ctx context.Context, req *Request, settings string) (Value, error)
	// Provenance identifies the code that produced the answer.
	Provenance() common.Hash
}

// ScriptProcessor hands the raw request and the settings to a script, which
// must return the encoded reply as hex.
type ScriptProcessor struct {
	eval   scripting.Evaluator
	script string
}

func NewScriptProcessor(eval scripting.Evaluator, script string) *ScriptProcessor {
	return &ScriptProcessor{eval: eval, script: script}
}

func (p *ScriptProcessor) Provenance() common.Hash {
	return codebase.Hash(p.script)
}

func (p *ScriptProcessor) Process(ctx context.Context, req *Request, settings string) (Value, error) {
	out, err := p.eval.Evaluate(ctx, p.script, []string{hexutil.Encode(req.Raw), settings})
	if err != nil {
		if errors.Is(err, scripting.ErrInterrupted) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrScriptFailed, err)
	}
	if exc, ok := out.(scripting.Exception); ok {
		return nil, classifyException(exc.Message)
	}
	reply, err := scripting.DecodeHexOutput(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadScriptOutput, err)
	}
	return RawReply(reply), nil
}

// Scripts signal a classified failure by naming the error in the exception.
func classifyException(msg string) error {
	for _, known := range []error{ErrFailedToFetchData, ErrBadInput, ErrMalformedRequest, ErrFailedToDecode} {
		if strings.Contains(msg, CodeName(known)) {
			return fmt.Errorf("%w: %s", known, msg)
		}
	}
	return fmt.Errorf("%w: %s", ErrScriptFailed, msg)
}

// CodeName is the name a script uses to raise err.
func CodeName(err error) string {
	return ReplyCode(err).String()
}

const statsQuery = `
          query Profile {
            profile(request: { profileId: "%s" }) {
              stats {
                totalFollowers
                totalFollowing
                totalPosts
                totalComments
                totalMirrors
                totalPublications
                totalCollects
              }
            }
          }
          `

// GraphQLStatsProcessor answers a profile id with a statistic read from a
// GraphQL endpoint. The settings are the endpoint url. An optional transform
// script gets the response body and returns the value as a decimal string.
type GraphQLStatsProcessor struct {
	fetcher   *datasource.Fetcher
	transform scripting.Evaluator
	script    string
}

func NewGraphQLStatsProcessor(fetcher *datasource.Fetcher, transform scripting.Evaluator, script string) *GraphQLStatsProcessor {
	return &GraphQLStatsProcessor{fetcher: fetcher, transform: transform, script: script}
}

func (p *GraphQLStatsProcessor) Provenance() common.Hash {
	if p.script == "" {
		return common.Hash{}
	}
	return codebase.Hash(p.script)
}

func isHexProfileID(id string) bool {
	if !strings.HasPrefix(id, "0x") || len(id) == 2 {
		return false
	}
	for _, c := range id[2:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

func (p *GraphQLStatsProcessor) Process(ctx context.Context, req *Request, settings string) (Value, error) {
	profileID := string(req.Payload)
	if !isHexProfileID(profileID) {
		return nil, errors.Wrapf(ErrBadInput, "profile id %q", profileID)
	}
	body, err := json.Marshal(map[string]string{"query": fmt.Sprintf(statsQuery, profileID)})
	if err != nil {
		return nil, err
	}
	resp, err := p.fetcher.FetchOK(ctx, datasource.Request{
		Method:  "POST",
		URL:     settings,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToFetchData, err)
	}
	value, err := p.extract(ctx, resp.Body)
	if err != nil {
		return nil, err
	}
	log.Info("processed stats request", "id", req.ID, "profile", profileID, "value", value)
	return Uint{V: value}, nil
}

func (p *GraphQLStatsProcessor) extract(ctx context.Context, body []byte) (*big.Int, error) {
	if p.transform != nil && p.script != "" {
		out, err := p.transform.Evaluate(ctx, p.script, []string{string(body)})
		if err != nil {
			if errors.Is(err, scripting.ErrInterrupted) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: transform: %v", ErrFailedToDecode, err)
		}
		str, ok := out.(scripting.String)
		if !ok {
			return nil, errors.Wrapf(ErrFailedToDecode, "transform returned %v", out)
		}
		return parseUint(string(str))
	}
	var parsed struct {
		Data struct {
			Profile struct {
				Stats struct {
					TotalCollects json.Number `json:"totalCollects"`
				} `json:"stats"`
			} `json:"profile"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToDecode, err)
	}
	return parseUint(parsed.Data.Profile.Stats.TotalCollects.String())
}

func parseUint(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 || v.BitLen() > 256 {
		return nil, errors.Wrapf(ErrFailedToDecode, "not a uint256: %q", s)
	}
	return v, nil
}
