// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package oracle

import (
	"context"

	"github.com/pkg/errors"

	"github.com/brickrollup/brickrollup/host"
)

const (
	MethodAnswerRequest = "answer_request"
	MethodGetAnswer     = "get_answer"
)

// Invoke exposes the oracle to workflow pipelines.
func (o *Oracle) Invoke(ctx context.Context, env host.Env, method string, input []byte, session *host.Session) ([]byte, error) {
	switch method {
	case MethodAnswerRequest:
		return o.AnswerRequest(ctx, env, session)
	case MethodGetAnswer:
		return o.GetAnswer(ctx, env, input)
	default:
		return nil, errors.Wrap(host.ErrUnknownMethod, method)
	}
}
