package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/audit"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/policy"
)

var base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type failingStore struct{}

func (failingStore) Record(context.Context, string, time.Time) error { return errors.New("down") }
func (failingStore) Count(context.Context, string, time.Duration, time.Time) (int, error) {
	return 0, errors.New("down")
}

func TestMemoryStore_Window(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)

	require.NoError(t, s.Record(ctx, "u1", base))
	require.NoError(t, s.Record(ctx, "u1", base.Add(30*time.Minute)))
	require.NoError(t, s.Record(ctx, "u2", base))

	n, err := s.Count(ctx, "u1", time.Hour, base.Add(59*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Count(ctx, "u1", time.Hour, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "an entry exactly one window old has expired")

	n, err = s.Count(ctx, "u1", time.Minute, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Count(ctx, "nobody", time.Hour, base)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisStore_Window(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()
	s := NewRedisStore(client, time.Hour)
	assert.True(t, s.Durable())

	require.NoError(t, s.Record(ctx, "u1", base))
	require.NoError(t, s.Record(ctx, "u1", base.Add(10*time.Minute)))
	require.NoError(t, s.Record(ctx, "u1", base.Add(10*time.Minute)))

	n, err := s.Count(ctx, "u1", time.Hour, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, n, "same-instant requests are distinct members")

	n, err = s.Count(ctx, "u1", time.Hour, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Recording at +70m trims everything at or before +10m
	require.NoError(t, s.Record(ctx, "u1", base.Add(70*time.Minute)))
	members, err := client.ZCard(ctx, "guardrail:ratelimit:u1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), members)
	assert.True(t, mr.TTL("guardrail:ratelimit:u1") > 0)

	require.NoError(t, s.Reset(ctx, "u1"))
	n, err = s.Count(ctx, "u1", time.Hour, base.Add(70*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTracker_CheckRateLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("free tier admits ten then rejects", func(t *testing.T) {
		clk := &clock{now: base}
		rec := audit.NewMemoryLogger()
		tr := NewTracker(NewMemoryStore(time.Hour), policy.Static(nil), rec, WithClock(clk.Now))

		for i := 0; i < 10; i++ {
			ok, msg := tr.CheckRateLimit(ctx, "u1", policy.TierFree)
			require.True(t, ok, "request %d", i+1)
			assert.Empty(t, msg)
			clk.Advance(time.Minute)
		}

		ok, msg := tr.CheckRateLimit(ctx, "u1", policy.TierFree)
		assert.False(t, ok)
		assert.Equal(t, "Rate limit exceeded. Maximum 10 requests per hour for free tier.", msg)

		events := rec.EventsOfType(audit.EventRateLimitExceeded)
		require.Len(t, events, 1)
		assert.Equal(t, 10, events[0].Details["limit"])

		usage, err := tr.Usage(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 10, usage, "rejected request is not recorded")

		// The first request ages out of the window
		clk.now = base.Add(time.Hour + time.Second)
		ok, _ = tr.CheckRateLimit(ctx, "u1", policy.TierFree)
		assert.True(t, ok)
	})

	t.Run("unknown tier uses free limits", func(t *testing.T) {
		clk := &clock{now: base}
		tr := NewTracker(NewMemoryStore(time.Hour), policy.Static(nil), nil, WithClock(clk.Now))
		for i := 0; i < 10; i++ {
			ok, _ := tr.CheckRateLimit(ctx, "u1", policy.Tier("gold"))
			require.True(t, ok)
		}
		ok, _ := tr.CheckRateLimit(ctx, "u1", policy.Tier("gold"))
		assert.False(t, ok)
	})

	t.Run("durable store message", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		defer mr.Close()
		defer client.Close()

		p := policy.DefaultPolicy()
		p.Tiers[policy.TierFree] = policy.TierLimits{RequestsPerHour: 1, MonthlyGenerations: 3}
		clk := &clock{now: base}
		tr := NewTracker(NewRedisStore(client, time.Hour), policy.Static(p), nil, WithClock(clk.Now))

		ok, _ := tr.CheckRateLimit(ctx, "u1", policy.TierFree)
		require.True(t, ok)
		ok, msg := tr.CheckRateLimit(ctx, "u1", policy.TierFree)
		assert.False(t, ok)
		assert.Equal(t, "Hourly rate limit exceeded. Maximum 1 requests per hour for free tier. Please try again later.", msg)
	})

	t.Run("store failure fails open", func(t *testing.T) {
		tr := NewTracker(failingStore{}, policy.Static(nil), nil)
		ok, msg := tr.CheckRateLimit(ctx, "u1", policy.TierFree)
		assert.True(t, ok)
		assert.Empty(t, msg)
		assert.False(t, tr.DetectSuspiciousActivity(ctx, "u1"))
	})
}

func TestTracker_DetectSuspiciousActivity(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: base}
	rec := audit.NewMemoryLogger()
	tr := NewTracker(NewMemoryStore(time.Hour), policy.Static(nil), rec, WithClock(clk.Now))

	for i := 0; i < 5; i++ {
		ok, _ := tr.CheckRateLimit(ctx, "u1", policy.TierProfessional)
		require.True(t, ok)
		clk.Advance(time.Second)
	}
	assert.False(t, tr.DetectSuspiciousActivity(ctx, "u1"), "five in a minute is allowed")

	ok, _ := tr.CheckRateLimit(ctx, "u1", policy.TierProfessional)
	require.True(t, ok)
	assert.True(t, tr.DetectSuspiciousActivity(ctx, "u1"))
	assert.Len(t, rec.EventsOfType(audit.EventSuspiciousActivity), 1)

	clk.Advance(2 * time.Minute)
	assert.False(t, tr.DetectSuspiciousActivity(ctx, "u1"))
}

func TestMemoryStore_CountMonotonicInWindow(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewMemoryStore(time.Hour)
		ctx := context.Background()
		offsets := rapid.SliceOfN(rapid.IntRange(0, 3600), 1, 30).Draw(t, "offsets")
		for _, off := range offsets {
			_ = s.Record(ctx, "u", base.Add(time.Duration(off)*time.Second))
		}

		now := base.Add(time.Hour)
		minute, _ := s.Count(ctx, "u", time.Minute, now)
		hour, _ := s.Count(ctx, "u", time.Hour, now)
		if minute > hour {
			t.Fatalf("minute window %d exceeds hour window %d", minute, hour)
		}
		if hour > len(offsets) {
			t.Fatalf("counted %d of %d records", hour, len(offsets))
		}
	})
}
