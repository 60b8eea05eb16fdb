// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package codebase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"

	"github.com/brickrollup/brickrollup/host"
)

type RedisConfig struct {
	Enable           bool          `koanf:"enable"`
	Url              string        `koanf:"url"`
	KeyPrefix        string        `koanf:"key-prefix"`
	Timeout          time.Duration `koanf:"timeout"`
	CompressionLevel int           `koanf:"compression-level"`
}

var DefaultRedisConfig = RedisConfig{
	Url:              "",
	KeyPrefix:        "codebase",
	Timeout:          5 * time.Second,
	CompressionLevel: 6,
}

func RedisConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Bool(prefix+".enable", DefaultRedisConfig.Enable, "store uploaded code in redis instead of memory")
	f.String(prefix+".url", DefaultRedisConfig.Url, "redis url")
	f.String(prefix+".key-prefix", DefaultRedisConfig.KeyPrefix, "prefix of every redis key written by the code registry")
	f.Duration(prefix+".timeout", DefaultRedisConfig.Timeout, "timeout of a single redis operation")
	f.Int(prefix+".compression-level", DefaultRedisConfig.CompressionLevel, "brotli level used for stored code (-1 stores code uncompressed)")
}

// RedisStorage keeps the registry in redis. Writes go through MULTI/EXEC.
type RedisStorage struct {
	client           redis.UniversalClient
	prefix           string
	timeout          time.Duration
	compressionLevel int
}

func NewRedisStorage(client redis.UniversalClient, config *RedisConfig) *RedisStorage {
	return &RedisStorage{
		client:           client,
		prefix:           config.KeyPrefix,
		timeout:          config.Timeout,
		compressionLevel: config.CompressionLevel,
	}
}

const (
	codePlain  byte = 0
	codeBrotli byte = 1

	maxDecompressedCodeLen = 64 << 20
)

func (s *RedisStorage) encodeCode(code string) ([]byte, error) {
	if s.compressionLevel < 0 {
		return append([]byte{codePlain}, code...), nil
	}
	buf := bytes.NewBuffer([]byte{codeBrotli})
	writer := brotli.NewWriterLevel(buf, s.compressionLevel)
	if _, err := writer.Write([]byte(code)); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeCode(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("empty code record")
	}
	switch raw[0] {
	case codePlain:
		return string(raw[1:]), nil
	case codeBrotli:
		reader := io.LimitReader(brotli.NewReader(bytes.NewReader(raw[1:])), maxDecompressedCodeLen)
		code, err := io.ReadAll(reader)
		if err != nil {
			return "", err
		}
		return string(code), nil
	default:
		return "", fmt.Errorf("unknown code encoding %d", raw[0])
	}
}

func (s *RedisStorage) key(kind string, id []byte) string {
	return s.prefix + ":" + kind + ":" + common.Bytes2Hex(id)
}

func (s *RedisStorage) infoKey() string {
	return s.prefix + ":info"
}

func (s *RedisStorage) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

func (s *RedisStorage) get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (s *RedisStorage) getRLP(ctx context.Context, key string, val interface{}) (bool, error) {
	raw, found, err := s.get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	return true, rlp.DecodeBytes(raw, val)
}

func (s *RedisStorage) Info(ctx context.Context) (*BaseInfo, bool, error) {
	var info BaseInfo
	found, err := s.getRLP(ctx, s.infoKey(), &info)
	if err != nil || !found {
		return nil, false, err
	}
	return &info, true, nil
}

func (s *RedisStorage) Code(ctx context.Context, hash common.Hash) (string, bool, error) {
	raw, found, err := s.get(ctx, s.key("code", hash[:]))
	if err != nil || !found {
		return "", false, err
	}
	code, err := decodeCode(raw)
	if err != nil {
		return "", false, err
	}
	return code, true, nil
}

func (s *RedisStorage) Metadata(ctx context.Context, hash common.Hash) (*Metadata, bool, error) {
	var md Metadata
	found, err := s.getRLP(ctx, s.key("meta", hash[:]), &md)
	if err != nil || !found {
		return nil, false, err
	}
	return &md, true, nil
}

func (s *RedisStorage) Ref(ctx context.Context, account host.AccountID) (common.Hash, bool, error) {
	raw, found, err := s.get(ctx, s.key("ref", account[:]))
	if err != nil || !found {
		return common.Hash{}, false, err
	}
	return common.BytesToHash(raw), true, nil
}

func (s *RedisStorage) Apply(ctx context.Context, change *Change) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	encoded := make(map[string][]byte)
	if change.Info != nil {
		raw, err := rlp.EncodeToBytes(change.Info)
		if err != nil {
			return err
		}
		encoded[s.infoKey()] = raw
	}
	for h, md := range change.PutMetadata {
		raw, err := rlp.EncodeToBytes(md)
		if err != nil {
			return err
		}
		encoded[s.key("meta", h[:])] = raw
	}
	for h, code := range change.PutCodes {
		raw, err := s.encodeCode(code)
		if err != nil {
			return err
		}
		encoded[s.key("code", h[:])] = raw
	}
	for a, h := range change.PutRefs {
		encoded[s.key("ref", a[:])] = h.Bytes()
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, h := range change.DelCodes {
			pipe.Del(ctx, s.key("code", h[:]))
		}
		for _, h := range change.DelMetadata {
			pipe.Del(ctx, s.key("meta", h[:]))
		}
		for k, v := range encoded {
			pipe.Set(ctx, k, v, 0)
		}
		return nil
	})
	return err
}
