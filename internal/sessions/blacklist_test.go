package sessions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/gogotex/gogotex/backend/auth-sessions/internal/models"
)

func newRedisBlacklist(t *testing.T) (*RedisBlacklist, *mr.Miniredis) {
	t.Helper()
	m, err := mr.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBlacklist(client, ""), m
}

func TestMemoryBlacklist_ConditionalInsert(t *testing.T) {
	now := time.Now()
	clock := now
	bl := NewMemoryBlacklist(func() time.Time { return clock })
	ctx := context.Background()

	e := models.BlacklistEntry{Token: "tok-1", UserID: "u1", ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, bl.Blacklist(ctx, e))
	require.ErrorIs(t, bl.Blacklist(ctx, e), ErrAlreadyBlacklisted)

	ok, err := bl.IsBlacklisted(ctx, "tok-1")
	require.NoError(t, err)
	require.True(t, ok)

	clock = now.Add(time.Hour)
	ok, err = bl.IsBlacklisted(ctx, "tok-1")
	require.NoError(t, err)
	require.False(t, ok, "entries stop matching once expired")
	require.NoError(t, bl.Blacklist(ctx, models.BlacklistEntry{Token: "tok-1", ExpiresAt: clock.Add(time.Hour)}),
		"an expired entry may be replaced")
}

func TestMemoryBlacklist_SweepExpired(t *testing.T) {
	now := time.Now()
	bl := NewMemoryBlacklist(func() time.Time { return now })
	ctx := context.Background()
	require.NoError(t, bl.Blacklist(ctx, models.BlacklistEntry{Token: "a", ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, bl.Blacklist(ctx, models.BlacklistEntry{Token: "b", ExpiresAt: now.Add(time.Hour)}))

	n, err := bl.SweepExpired(ctx, now.Add(30*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, bl.Len())

	n, err = bl.SweepExpired(ctx, now.Add(30*time.Minute))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRedisBlacklist_ConditionalInsert(t *testing.T) {
	bl, m := newRedisBlacklist(t)
	ctx := context.Background()
	e := models.BlacklistEntry{Token: "refresh-token-1", UserID: "u1", Reason: "rotated", ExpiresAt: time.Now().Add(time.Hour)}

	require.NoError(t, bl.Blacklist(ctx, e))
	require.ErrorIs(t, bl.Blacklist(ctx, e), ErrAlreadyBlacklisted)

	ok, err := bl.IsBlacklisted(ctx, "refresh-token-1")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = bl.IsBlacklisted(ctx, "other")
	require.NoError(t, err)
	require.False(t, ok)

	for _, k := range m.Keys() {
		require.False(t, strings.Contains(k, "refresh-token-1"), "raw tokens must not appear in keys")
	}
	require.True(t, m.Exists("blacklist:"+tokenKey("refresh-token-1")))
}

func TestRedisBlacklist_ExpiryAndSweep(t *testing.T) {
	bl, m := newRedisBlacklist(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, bl.Blacklist(ctx, models.BlacklistEntry{Token: "short", ExpiresAt: now.Add(2 * time.Second)}))
	require.NoError(t, bl.Blacklist(ctx, models.BlacklistEntry{Token: "long", ExpiresAt: now.Add(time.Hour)}))

	// advance past the short TTL
	m.FastForward(3 * time.Second)
	ok, err := bl.IsBlacklisted(ctx, "short")
	require.NoError(t, err)
	require.False(t, ok)

	n, err := bl.SweepExpired(ctx, now.Add(3*time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = bl.SweepExpired(ctx, now.Add(3*time.Second))
	require.NoError(t, err)
	require.Zero(t, n)

	ok, err = bl.IsBlacklisted(ctx, "long")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisBlacklist_SweepUsesMillisecondScores(t *testing.T) {
	bl, m := newRedisBlacklist(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	bl.now = func() time.Time { return base }

	exp := base.Add(1500 * time.Millisecond)
	require.NoError(t, bl.Blacklist(ctx, models.BlacklistEntry{Token: "subsecond", ExpiresAt: exp}))
	score, err := m.ZScore("blacklist:index", tokenKey("subsecond"))
	require.NoError(t, err)
	require.Equal(t, float64(exp.UnixMilli()), score)

	// half a second of life left: the sweep must not touch it
	n, err := bl.SweepExpired(ctx, base.Add(time.Second))
	require.NoError(t, err)
	require.Zero(t, n)
	ok, err := bl.IsBlacklisted(ctx, "subsecond")
	require.NoError(t, err)
	require.True(t, ok)

	n, err = bl.SweepExpired(ctx, exp)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.False(t, m.Exists("blacklist:"+tokenKey("subsecond")))
}

func TestRedisBlacklist_SweepKeepsReinsertedEntry(t *testing.T) {
	bl, m := newRedisBlacklist(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	bl.now = func() time.Time { return base }
	require.NoError(t, bl.Blacklist(ctx, models.BlacklistEntry{Token: "again", ExpiresAt: base.Add(time.Second)}))

	m.FastForward(2 * time.Second)
	later := base.Add(2 * time.Second)
	bl.now = func() time.Time { return later }
	require.NoError(t, bl.Blacklist(ctx, models.BlacklistEntry{Token: "again", ExpiresAt: later.Add(time.Hour)}),
		"an expired entry may be inserted again")

	n, err := bl.SweepExpired(ctx, later)
	require.NoError(t, err)
	require.Zero(t, n)
	ok, err := bl.IsBlacklisted(ctx, "again")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisBlacklist_ConcurrentInsertSingleWinner(t *testing.T) {
	bl, _ := newRedisBlacklist(t)
	ctx := context.Background()
	e := models.BlacklistEntry{Token: "contended", ExpiresAt: time.Now().Add(time.Hour)}

	var wins, unexpected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := bl.Blacklist(ctx, e)
			switch {
			case err == nil:
				wins.Add(1)
			case !errors.Is(err, ErrAlreadyBlacklisted):
				unexpected.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
	require.Zero(t, unexpected.Load())
}

func TestRefreshAccessToken_ConcurrentSingleWinnerRedis(t *testing.T) {
	bl, _ := newRedisBlacklist(t)
	f := newFixtureWithBlacklist(t, bl)
	ctx := context.Background()
	u := f.newUser(t, "redis-user")
	t0, err := f.svc.GenerateTokenPair(ctx, u.ID, nil)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := f.svc.RefreshAccessToken(ctx, t0.RefreshToken, nil)
			if err == nil && p != nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}
