// Package lease provides a Redis-backed, time-bounded job lock so that two
// replicas do not run the same batch job at the same time.
package lease

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "agent-signal:lease:"

// releaseScript deletes the key only if this owner still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Leaser acquires and releases named leases.
type Leaser struct {
	rdb   *redis.Client
	owner string
}

// New creates a Leaser backed by Redis. owner identifies this process; it
// defaults to hostname:pid.
func New(redisURL, password, owner string) (*Leaser, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	if owner == "" {
		host, _ := os.Hostname()
		owner = fmt.Sprintf("%s:%d", host, os.Getpid())
	}
	return &Leaser{rdb: rdb, owner: owner}, nil
}

// Close shuts down the Redis connection.
func (l *Leaser) Close() error {
	return l.rdb.Close()
}

// Acquire tries to take the named lease for ttl. It returns false when
// another owner holds it. Re-acquiring a lease this owner already holds
// extends it.
func (l *Leaser) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	key := keyPrefix + name
	ok, err := l.rdb.SetNX(ctx, key, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if ok {
		return true, nil
	}

	holder, err := l.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		return l.rdb.SetNX(ctx, key, l.owner, ttl).Result()
	}
	if err != nil {
		return false, fmt.Errorf("read lease %s: %w", name, err)
	}
	if holder != l.owner {
		return false, nil
	}
	if err := l.rdb.PExpire(ctx, key, ttl).Err(); err != nil {
		return false, fmt.Errorf("extend lease %s: %w", name, err)
	}
	return true, nil
}

// Release drops the lease if this owner still holds it.
func (l *Leaser) Release(ctx context.Context, name string) error {
	return releaseScript.Run(ctx, l.rdb, []string{keyPrefix + name}, l.owner).Err()
}

// Holder returns the current owner of a lease, or "" if it is free.
func (l *Leaser) Holder(ctx context.Context, name string) (string, error) {
	v, err := l.rdb.Get(ctx, keyPrefix+name).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}
