// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package redisutil

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const LEASE_KEY_PREFIX string = "rollupd.lease."      // Per job. Written only by the holder
const LIVELINESS_KEY_PREFIX string = "rollupd.alive." // Per worker. Written only by self

// Compare-and-delete / compare-and-extend, so a worker never touches a lease it lost.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

func LeaseKeyFor(job string) string { return LEASE_KEY_PREFIX + job }

func LivelinessKeyFor(worker string) string { return LIVELINESS_KEY_PREFIX + worker }

// LeaseCoordinator hands out short-lived exclusive leases so that only one
// worker polls a given job at a time.
type LeaseCoordinator struct {
	Client redis.UniversalClient
	worker string
}

func NewLeaseCoordinator(client redis.UniversalClient, worker string) *LeaseCoordinator {
	return &LeaseCoordinator{Client: client, worker: worker}
}

func (c *LeaseCoordinator) Worker() string {
	return c.worker
}

// TryAcquire returns true if this worker now holds the lease for job.
func (c *LeaseCoordinator) TryAcquire(ctx context.Context, job string, ttl time.Duration) (bool, error) {
	ok, err := c.Client.SetNX(ctx, LeaseKeyFor(job), c.worker, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	// re-entrant for the current holder
	return c.Extend(ctx, job, ttl)
}

func (c *LeaseCoordinator) Extend(ctx context.Context, job string, ttl time.Duration) (bool, error) {
	res, err := extendScript.Run(ctx, c.Client, []string{LeaseKeyFor(job)}, c.worker, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (c *LeaseCoordinator) Release(ctx context.Context, job string) error {
	return releaseScript.Run(ctx, c.Client, []string{LeaseKeyFor(job)}, c.worker).Err()
}

// Holder returns the worker currently holding the lease for job, or "" if free.
func (c *LeaseCoordinator) Holder(ctx context.Context, job string) (string, error) {
	current, err := c.Client.Get(ctx, LeaseKeyFor(job)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return current, nil
}

func (c *LeaseCoordinator) Heartbeat(ctx context.Context, ttl time.Duration) error {
	return c.Client.Set(ctx, LivelinessKeyFor(c.worker), "OK", ttl).Err()
}

// GetLiveliness returns the workers with an unexpired heartbeat.
func (c *LeaseCoordinator) GetLiveliness(ctx context.Context) ([]string, error) {
	var livelinessList []string
	var cursor uint64
	for {
		var keySlice []string
		var err error
		keySlice, cursor, err = c.Client.Scan(ctx, cursor, LIVELINESS_KEY_PREFIX+"*", 0).Result()
		if err != nil {
			return []string{}, err
		}
		livelinessList = append(livelinessList, keySlice...)
		if cursor == 0 {
			break
		}
	}
	for i, elem := range livelinessList {
		livelinessList[i] = strings.TrimPrefix(elem, LIVELINESS_KEY_PREFIX)
	}
	return livelinessList, nil
}
