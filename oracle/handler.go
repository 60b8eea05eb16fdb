// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package oracle

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/brickrollup/brickrollup/scripting"
)

type Handler struct {
	processor Processor
	settings  string
}

func NewHandler(processor Processor, settings string) *Handler {
	return &Handler{processor: processor, settings: settings}
}

// IsTransient reports whether err should be retried on a later poll instead
// of being answered.
func IsTransient(err error) bool {
	return errors.Is(err, ErrFailedToFetchData) ||
		errors.Is(err, scripting.ErrInterrupted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// HandleRequest turns a raw queue entry into a reply. Only transient errors
// are returned; every other failure is answered with an error reply so the
// requester is never left waiting.
func (h *Handler) HandleRequest(ctx context.Context, raw []byte) ([]byte, common.Hash, error) {
	provenance := h.processor.Provenance()
	req, err := DecodeRequest(raw)
	if err != nil {
		log.Warn("undecodable queue entry", "len", len(raw), "err", err)
		reply, err := EncodeError(new(big.Int), CodeFailedToDecode)
		return reply, provenance, err
	}
	value, err := h.processor.Process(ctx, req, h.settings)
	if err != nil {
		if IsTransient(err) {
			return nil, common.Hash{}, err
		}
		code := ReplyCode(err)
		log.Info("answering request with error", "id", req.ID, "code", code, "err", err)
		reply, err := EncodeError(req.ID, code)
		return reply, provenance, err
	}
	var reply []byte
	switch v := value.(type) {
	case Uint:
		reply, err = EncodeResponse(req.ID, v.V)
	case Bytes:
		reply, err = EncodeResponseBytes(req.ID, v)
	case RawReply:
		reply = v
	default:
		err = errors.Errorf("unexpected value %T", value)
	}
	if err != nil {
		return nil, common.Hash{}, err
	}
	return reply, provenance, nil
}
