package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/audit"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/metrics"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/policy"
)

const (
	hourWindow   = time.Hour
	minuteWindow = time.Minute
)

// Tracker enforces hourly tier limits and flags bursts.
// Store failures fail open: the request is allowed and a warning logged.
type Tracker struct {
	store    WindowStore
	policies policy.Source
	recorder audit.Recorder
	logger   *zap.Logger
	timeout  time.Duration
	now      func() time.Time
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithTimeout bounds each store call
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.timeout = d }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTracker creates a Tracker over store using the limits from policies
func NewTracker(store WindowStore, policies policy.Source, recorder audit.Recorder, opts ...Option) *Tracker {
	t := &Tracker{
		store:    store,
		policies: policies,
		recorder: recorder,
		logger:   zap.NewNop(),
		timeout:  2 * time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.timeout)
}

func (t *Tracker) log(eventType audit.EventType, details map[string]interface{}) {
	if t.recorder != nil {
		t.recorder.Log(eventType, details)
	}
}

// CheckRateLimit admits the request if the user made fewer than the tier's
// hourly limit in the trailing hour, and records it. A rejected request is
// not recorded.
func (t *Tracker) CheckRateLimit(ctx context.Context, userID string, tier policy.Tier) (bool, string) {
	limit := t.policies.Current().HourlyLimit(tier)
	now := t.now()

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	count, err := t.store.Count(ctx, userID, hourWindow, now)
	if err != nil {
		t.logger.Warn("rate limit store unavailable, allowing request",
			zap.String("user_id", userID), zap.Error(err))
		metrics.RecordStoreError("ratelimit")
		return true, ""
	}

	if count >= limit {
		t.log(audit.EventRateLimitExceeded, map[string]interface{}{
			"user_id": userID,
			"tier":    string(tier),
			"limit":   limit,
			"count":   count,
		})
		return false, t.limitMessage(limit, tier)
	}

	if err := t.store.Record(ctx, userID, now); err != nil {
		t.logger.Warn("failed to record request", zap.String("user_id", userID), zap.Error(err))
		metrics.RecordStoreError("ratelimit")
	}
	return true, ""
}

func (t *Tracker) limitMessage(limit int, tier policy.Tier) string {
	if isDurable(t.store) {
		return fmt.Sprintf("Hourly rate limit exceeded. Maximum %d requests per hour for %s tier. Please try again later.", limit, tier)
	}
	return fmt.Sprintf("Rate limit exceeded. Maximum %d requests per hour for %s tier.", limit, tier)
}

// DetectSuspiciousActivity reports more than the configured number of
// requests in the trailing minute. It is advisory only.
func (t *Tracker) DetectSuspiciousActivity(ctx context.Context, userID string) bool {
	threshold := t.policies.Current().Thresholds.SuspiciousRequestsPerMinute

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	count, err := t.store.Count(ctx, userID, minuteWindow, t.now())
	if err != nil {
		t.logger.Warn("rate limit store unavailable, skipping burst check",
			zap.String("user_id", userID), zap.Error(err))
		metrics.RecordStoreError("ratelimit")
		return false
	}

	if count > threshold {
		t.logger.Warn("suspicious activity detected", zap.String("user_id", userID), zap.Int("count", count))
		t.log(audit.EventSuspiciousActivity, map[string]interface{}{
			"user_id": userID,
			"count":   count,
		})
		return true
	}
	return false
}

// Usage returns how many requests the user made in the trailing hour
func (t *Tracker) Usage(ctx context.Context, userID string) (int, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	return t.store.Count(ctx, userID, hourWindow, t.now())
}
