package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gogotex/gogotex/backend/auth-sessions/internal/models"
)

// RedisBlacklist implements BlacklistRepository on Redis. Each entry is a JSON
// value under "<prefix><sha256>" whose TTL matches ExpiresAt; a sorted set
// "<prefix>index" scored by ExpiresAt in milliseconds lets SweepExpired
// account for removals.
type RedisBlacklist struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisBlacklist creates a Redis-backed blacklist. Prefix may be empty.
func NewRedisBlacklist(client *redis.Client, prefix string) *RedisBlacklist {
	if prefix == "" {
		prefix = "blacklist:"
	}
	return &RedisBlacklist{client: client, prefix: prefix, now: time.Now}
}

// The entry and its index member are written together or not at all.
const blacklistInsertScript = `
if not redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2]) then
  return 0
end
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[4])
return 1
`

var blacklistInsertLua = redis.NewScript(blacklistInsertScript)

// Members whose score is at or below now are removed with their keys. A
// member re-inserted since carries a later score and is left alone.
const blacklistSweepScript = `
local members = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
for _, m in ipairs(members) do
  redis.call("DEL", ARGV[2] .. m)
  redis.call("ZREM", KEYS[1], m)
end
return #members
`

var blacklistSweepLua = redis.NewScript(blacklistSweepScript)

func (r *RedisBlacklist) key(hash string) string { return r.prefix + hash }
func (r *RedisBlacklist) index() string          { return r.prefix + "index" }

func (r *RedisBlacklist) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(tokenKey(token))).Result()
	if err != nil {
		return false, fmt.Errorf("redis blacklist exists: %w", err)
	}
	return n > 0, nil
}

func (r *RedisBlacklist) Blacklist(ctx context.Context, e models.BlacklistEntry) error {
	h := tokenKey(e.Token)
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ttl := e.ExpiresAt.Sub(r.now())
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	inserted, err := blacklistInsertLua.Run(ctx, r.client,
		[]string{r.key(h), r.index()},
		string(b), ttl.Milliseconds(), e.ExpiresAt.UnixMilli(), h,
	).Int()
	if err != nil {
		return fmt.Errorf("redis blacklist set: %w", err)
	}
	if inserted == 0 {
		return ErrAlreadyBlacklisted
	}
	return nil
}

// SweepExpired drops index members (and any lingering keys) that expired at or
// before now. Redis removes the keys themselves on TTL.
func (r *RedisBlacklist) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := blacklistSweepLua.Run(ctx, r.client, []string{r.index()}, now.UnixMilli(), r.prefix).Int()
	if err != nil {
		return 0, fmt.Errorf("redis blacklist sweep: %w", err)
	}
	return n, nil
}
