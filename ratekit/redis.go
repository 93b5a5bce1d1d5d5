package ratekit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "mailrelay:ratelimit:"

// incrementScript starts the window expiry on the first hit and reports
// the counter with its remaining lifetime in milliseconds.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore keeps counters in Redis so that several relay instances share them.
type RedisStore struct {
	client redis.Scripter
	prefix string
}

// NewRedisStore returns a RedisStore. Any go-redis client satisfies redis.Scripter.
func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	return &RedisStore{client: client, prefix: prefix}
}

// Increment implements Store.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := incrementScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("ratekit: redis increment: %w", err)
	}

	if len(res) != 2 {
		return 0, 0, fmt.Errorf("ratekit: redis increment: unexpected reply length %d", len(res))
	}

	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}
