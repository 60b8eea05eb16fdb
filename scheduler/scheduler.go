// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

// Package scheduler drives workflows. Every cycle it polls each enabled
// workflow of every known profile once, spacing polls with a rate limiter.
// When a lease coordinator is configured, a workflow is only polled by the
// worker currently holding its lease.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	flag "github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/brickrollup/brickrollup/host"
	"github.com/brickrollup/brickrollup/profile"
	"github.com/brickrollup/brickrollup/util/redisutil"
	"github.com/brickrollup/brickrollup/util/stopwaiter"
)

var (
	pollCounter        = metrics.NewRegisteredCounter("rollup/scheduler/polls", nil)
	pollFailureCounter = metrics.NewRegisteredCounter("rollup/scheduler/poll_failures", nil)
	leaseSkipCounter   = metrics.NewRegisteredCounter("rollup/scheduler/lease_skips", nil)
	pollTimer          = metrics.NewRegisteredTimer("rollup/scheduler/poll", nil)
)

type Config struct {
	Enable      bool          `koanf:"enable"`
	Interval    time.Duration `koanf:"interval"`
	PollTimeout time.Duration `koanf:"poll-timeout"`
	RateLimit   float64       `koanf:"rate-limit"`
	Burst       int           `koanf:"burst"`
	LeaseTTL    time.Duration `koanf:"lease-ttl"`
	RedisUrl    string        `koanf:"redis-url"`
	WorkerID    string        `koanf:"worker-id"`
}

type ConfigFetcher func() *Config

var DefaultConfig = Config{
	Enable:      true,
	Interval:    5 * time.Second,
	PollTimeout: 30 * time.Second,
	RateLimit:   10,
	Burst:       1,
	LeaseTTL:    time.Minute,
	RedisUrl:    "",
	WorkerID:    "",
}

var TestConfig = Config{
	Enable:      true,
	Interval:    10 * time.Millisecond,
	PollTimeout: time.Second,
	RateLimit:   1000,
	Burst:       10,
	LeaseTTL:    time.Second,
}

func ConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Bool(prefix+".enable", DefaultConfig.Enable, "poll workflows periodically")
	f.Duration(prefix+".interval", DefaultConfig.Interval, "pause between two polling cycles")
	f.Duration(prefix+".poll-timeout", DefaultConfig.PollTimeout, "maximum duration of a single workflow poll")
	f.Float64(prefix+".rate-limit", DefaultConfig.RateLimit, "maximum workflow polls per second")
	f.Int(prefix+".burst", DefaultConfig.Burst, "workflow polls allowed in a burst")
	f.Duration(prefix+".lease-ttl", DefaultConfig.LeaseTTL, "how long a workflow lease is held without renewal")
	f.String(prefix+".redis-url", DefaultConfig.RedisUrl, "redis url used to share workflows between workers (empty polls everything locally)")
	f.String(prefix+".worker-id", DefaultConfig.WorkerID, "name of this worker in the redis lease set (defaults to a random id)")
}

// Profiles is the set of profiles to drive, usually a *profile.Factory.
type Profiles interface {
	GetUserProfiles() []profile.UserProfile
	Profile(id host.AccountID) (*profile.Profile, bool)
}

type Scheduler struct {
	stopwaiter.StopWaiter
	config   ConfigFetcher
	profiles Profiles
	limiter  *rate.Limiter
	leases   *redisutil.LeaseCoordinator
}

// New returns a scheduler. leases may be nil.
func New(config ConfigFetcher, profiles Profiles, leases *redisutil.LeaseCoordinator) *Scheduler {
	cfg := config()
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Scheduler{
		config:   config,
		profiles: profiles,
		limiter:  rate.NewLimiter(limit, burst),
		leases:   leases,
	}
}

func (s *Scheduler) Start(ctxIn context.Context) error {
	if err := s.StopWaiter.Start(ctxIn, s); err != nil {
		return err
	}
	return s.CallIteratively(func(ctx context.Context) time.Duration {
		s.PollOnce(ctx)
		return s.config().Interval
	})
}

// PollOnce runs one cycle and reports how many polls ran and how many failed.
// A failed poll is not retried before the next cycle.
func (s *Scheduler) PollOnce(ctx context.Context) (polled int, failed int) {
	cfg := s.config()
	if s.leases != nil {
		if err := s.leases.Heartbeat(ctx, cfg.LeaseTTL); err != nil {
			log.Warn("failed to refresh worker liveliness", "worker", s.leases.Worker(), "err", err)
		}
	}
	for _, up := range s.profiles.GetUserProfiles() {
		p, ok := s.profiles.Profile(up.Profile)
		if !ok {
			continue
		}
		workflows, err := p.Workflows()
		if err != nil {
			log.Error("failed to list workflows", "profile", up.Profile, "err", err)
			continue
		}
		for _, w := range workflows {
			if !w.Enabled {
				continue
			}
			if err := s.limiter.Wait(ctx); err != nil {
				return polled, failed
			}
			ran, err := s.pollWorkflow(ctx, cfg, up, p, w)
			if !ran {
				continue
			}
			polled++
			if err != nil {
				failed++
			}
		}
	}
	return polled, failed
}

func jobName(profileID host.AccountID, workflow uint64) string {
	return fmt.Sprintf("%s/%d", profileID, workflow)
}

func (s *Scheduler) pollWorkflow(ctx context.Context, cfg *Config, up profile.UserProfile, p *profile.Profile, w *profile.Workflow) (bool, error) {
	job := jobName(up.Profile, w.ID)
	if s.leases != nil {
		acquired, err := s.leases.TryAcquire(ctx, job, cfg.LeaseTTL)
		if err != nil {
			log.Warn("failed to acquire workflow lease", "job", job, "err", err)
			return false, nil
		}
		if !acquired {
			leaseSkipCounter.Inc(1)
			return false, nil
		}
	}
	pollCtx := ctx
	if cfg.PollTimeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, cfg.PollTimeout)
		defer cancel()
	}
	start := time.Now()
	ok, err := p.Poll(pollCtx, host.QueryEnv(up.User, up.Profile), w.ID)
	pollTimer.UpdateSince(start)
	pollCounter.Inc(1)
	if err == nil && !ok {
		err = fmt.Errorf("workflow %d reported failure", w.ID)
	}
	if err != nil {
		pollFailureCounter.Inc(1)
		log.Warn("workflow poll failed", "profile", up.Profile, "workflow", w.ID, "name", w.Name, "err", err)
		return true, err
	}
	log.Debug("workflow polled", "profile", up.Profile, "workflow", w.ID, "elapsed", time.Since(start))
	return true, nil
}
