package dedup

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultRedisPrefix = "livia:dedup:"
	defaultRedisTTL    = 10 * time.Minute
)

// KEYS[1] entry, KEYS[2] cooldown marker.
// ARGV: key string, inserted-at millis, entry ttl millis, cooldown millis.
var admitScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
if redis.call('EXISTS', KEYS[2]) == 1 then return 0 end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
if tonumber(ARGV[4]) > 0 then
  redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[4])
end
return 1
`)

var releaseScript = redis.NewScript(`
redis.call('DEL', KEYS[1])
if redis.call('GET', KEYS[2]) == ARGV[1] then
  redis.call('DEL', KEYS[2])
end
return 1
`)

type RedisOptions struct {
	Prefix   string
	Cooldown time.Duration
	// TTL bounds how long an entry can outlive a crashed owner.
	TTL time.Duration
	Now func() time.Time
}

// RedisTable shares admission state across bot replicas. The cooldown
// window is a marker key that expires on its own and is dropped early when
// the entry that set it is released.
type RedisTable struct {
	client   redis.UniversalClient
	prefix   string
	cooldown time.Duration
	ttl      time.Duration
	now      func() time.Time
}

func NewRedisTable(client redis.UniversalClient, opts RedisOptions) *RedisTable {
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &RedisTable{
		client:   client,
		prefix:   prefix,
		cooldown: max(opts.Cooldown, 0),
		ttl:      ttl,
		now:      now,
	}
}

func (t *RedisTable) entryKey(key Key) string {
	return t.prefix + "entry:" + key.String()
}

func (t *RedisTable) cooldownKey(key Key) string {
	return t.prefix + "cooldown:" + key.CooldownPrefix()
}

func (t *RedisTable) Admit(ctx context.Context, key Key) (bool, error) {
	res, err := admitScript.Run(ctx, t.client,
		[]string{t.entryKey(key), t.cooldownKey(key)},
		key.String(),
		t.now().UnixMilli(),
		t.ttl.Milliseconds(),
		t.cooldown.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("dedup admit: %w", err)
	}
	return res == 1, nil
}

func (t *RedisTable) Release(ctx context.Context, key Key) error {
	if err := releaseScript.Run(ctx, t.client,
		[]string{t.entryKey(key), t.cooldownKey(key)},
		key.String(),
	).Err(); err != nil {
		return fmt.Errorf("dedup release: %w", err)
	}
	return nil
}

func (t *RedisTable) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := t.now().Add(-maxAge).UnixMilli()
	removed := 0
	iter := t.client.Scan(ctx, 0, t.prefix+"entry:*", 100).Iterator()
	for iter.Next(ctx) {
		name := iter.Val()
		raw, err := t.client.Get(ctx, name).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("dedup sweep get: %w", err)
		}
		insertedAt, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || insertedAt < cutoff {
			n, err := t.client.Del(ctx, name).Result()
			if err != nil {
				return removed, fmt.Errorf("dedup sweep del: %w", err)
			}
			removed += int(n)
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("dedup sweep scan: %w", err)
	}
	return removed, nil
}
