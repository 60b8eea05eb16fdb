// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package redisutil

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const sentinelScheme = "redis+sentinel://"

// RedisClientFromURL creates a new Redis client based on the provided URL.
// The URL scheme can be either `redis` or `redis+sentinel`.
func RedisClientFromURL(redisUrl string) (redis.UniversalClient, error) {
	if redisUrl == "" {
		return nil, nil
	}
	if strings.HasPrefix(redisUrl, sentinelScheme) {
		redisOptions, err := parseFailoverRedisUrl(redisUrl)
		if err != nil {
			return nil, err
		}
		return redis.NewFailoverClient(redisOptions), nil
	}
	redisOptions, err := redis.ParseURL(redisUrl)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(redisOptions), nil
}

// Example Usage :
//
//	redis+sentinel://:<password>@<host1>:<port1>,<host2>:<port2>/<master_name>/<db_number>?dial_timeout=3&read_timeout=6s&max_retries=2
func parseFailoverRedisUrl(redisUrl string) (*redis.FailoverOptions, error) {
	// url.Parse rejects a comma separated host list, so split it off first
	rest := strings.TrimPrefix(redisUrl, sentinelScheme)
	authority, tail := rest, ""
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		authority, tail = rest[:i], rest[i:]
	}
	userinfo, hosts := "", authority
	if i := strings.LastIndex(authority, "@"); i >= 0 {
		userinfo, hosts = authority[:i+1], authority[i+1:]
	}
	u, err := url.Parse(sentinelScheme + userinfo + "sentinel" + tail)
	if err != nil {
		return nil, err
	}
	o := &redis.FailoverOptions{}
	if u.User != nil {
		if p, ok := u.User.Password(); ok {
			o.SentinelPassword = p
		}
	}
	o.SentinelAddrs = getAddressesWithDefaults(hosts)
	f := strings.FieldsFunc(u.Path, func(r rune) bool {
		return r == '/'
	})
	switch len(f) {
	case 0:
		return nil, fmt.Errorf("redis: master name is required")
	case 1:
		o.MasterName = f[0]
	case 2:
		o.MasterName = f[0]
		var err error
		if o.DB, err = strconv.Atoi(f[1]); err != nil {
			return nil, fmt.Errorf("redis: invalid database number: %q", f[1])
		}
	default:
		return nil, fmt.Errorf("redis: invalid URL path: %s", u.Path)
	}
	q := u.Query()
	if o.MaxRetries, err = queryInt(q, "max_retries"); err != nil {
		return nil, err
	}
	if o.PoolSize, err = queryInt(q, "pool_size"); err != nil {
		return nil, err
	}
	if o.DialTimeout, err = queryDuration(q, "dial_timeout"); err != nil {
		return nil, err
	}
	if o.ReadTimeout, err = queryDuration(q, "read_timeout"); err != nil {
		return nil, err
	}
	if o.WriteTimeout, err = queryDuration(q, "write_timeout"); err != nil {
		return nil, err
	}
	return o, nil
}

func getAddressesWithDefaults(hosts string) []string {
	var addresses []string
	for _, urlHost := range strings.Split(hosts, ",") {
		host, port, err := net.SplitHostPort(urlHost)
		if err != nil {
			host = urlHost
		}
		if host == "" {
			host = "localhost"
		}
		if port == "" {
			port = "26379"
		}
		addresses = append(addresses, net.JoinHostPort(host, port))
	}
	return addresses
}

func queryInt(q url.Values, name string) (int, error) {
	s := q.Get(name)
	if s == "" {
		return 0, nil
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("redis: invalid %s number: %w", name, err)
	}
	return i, nil
}

func queryDuration(q url.Values, name string) (time.Duration, error) {
	s := q.Get(name)
	if s == "" {
		return 0, nil
	}
	// plain numbers are seconds
	if i, err := strconv.Atoi(s); err == nil {
		if i <= 0 {
			return -1, nil
		}
		return time.Duration(i) * time.Second, nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("redis: invalid %s duration: %w", name, err)
	}
	return dur, nil
}
