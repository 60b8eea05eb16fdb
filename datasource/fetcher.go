// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package datasource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
	"golang.org/x/time/rate"
)

var ErrFetchFailed = errors.New("failed to fetch data")

type Config struct {
	Timeout     time.Duration `koanf:"timeout"`
	RateLimit   float64       `koanf:"rate-limit"`
	Burst       int           `koanf:"burst"`
	UserAgent   string        `koanf:"user-agent"`
	MaxBodySize int64         `koanf:"max-body-size"`
}

type ConfigFetcher func() *Config

var DefaultConfig = Config{
	Timeout:     10 * time.Second,
	RateLimit:   20,
	Burst:       5,
	UserAgent:   "brickrollup",
	MaxBodySize: 4 << 20,
}

var TestConfig = Config{
	Timeout:     time.Second,
	RateLimit:   0,
	Burst:       1,
	UserAgent:   "brickrollup-test",
	MaxBodySize: 1 << 20,
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Duration(prefix+".timeout", DefaultConfig.Timeout, "per request timeout for external data fetches")
	f.Float64(prefix+".rate-limit", DefaultConfig.RateLimit, "maximum external requests per second (0 = unlimited)")
	f.Int(prefix+".burst", DefaultConfig.Burst, "burst size of the external request rate limiter")
	f.String(prefix+".user-agent", DefaultConfig.UserAgent, "user agent sent with external requests")
	f.Int64(prefix+".max-body-size", DefaultConfig.MaxBodySize, "maximum size of a response body in bytes")
}

type Request struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"body"`
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

type Result struct {
	Response *Response
	Err      error
}

// Fetcher performs outbound HTTP requests on behalf of contracts.
type Fetcher struct {
	config  ConfigFetcher
	client  *http.Client
	limiter *rate.Limiter
}

func NewFetcher(config ConfigFetcher) *Fetcher {
	cfg := config()
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Fetcher{
		config:  config,
		client:  &http.Client{},
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Do sends req. Transport failures wrap ErrFetchFailed, HTTP error statuses do not.
func (f *Fetcher) Do(ctx context.Context, req Request) (*Response, error) {
	cfg := f.config()
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	httpReq.Header.Set("User-Agent", cfg.UserAgent)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	start := time.Now()
	httpResp, err := f.client.Do(httpReq)
	if err != nil {
		log.Warn("external fetch failed", "url", req.URL, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer httpResp.Body.Close()
	reader := io.Reader(httpResp.Body)
	if cfg.MaxBodySize > 0 {
		reader = io.LimitReader(httpResp.Body, cfg.MaxBodySize+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrFetchFailed, err)
	}
	if cfg.MaxBodySize > 0 && int64(len(body)) > cfg.MaxBodySize {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrFetchFailed, cfg.MaxBodySize)
	}
	headers := make(map[string]string, len(httpResp.Header))
	for k := range httpResp.Header {
		headers[k] = httpResp.Header.Get(k)
	}
	log.Trace("external fetch", "url", req.URL, "status", httpResp.StatusCode, "elapsed", time.Since(start), "size", len(body))
	return &Response{StatusCode: httpResp.StatusCode, Headers: headers, Body: body}, nil
}

// FetchOK is Do but treats any non 2xx status as a failed fetch.
func (f *Fetcher) FetchOK(ctx context.Context, req Request) (*Response, error) {
	resp, err := f.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrFetchFailed, req.URL, resp.StatusCode)
	}
	return resp, nil
}

// Batch runs reqs concurrently, all bounded by timeout. Results are in request order.
func (f *Fetcher) Batch(ctx context.Context, reqs []Request, timeout time.Duration) []Result {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	results := make([]Result, len(reqs))
	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.Do(ctx, reqs[i])
			results[i] = Result{Response: resp, Err: err}
		}(i)
	}
	wg.Wait()
	return results
}
