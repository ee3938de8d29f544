package quota

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/audit"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/metrics"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/policy"
)

const resetDateLayout = "January 02, 2006"

// Tracker checks and counts monthly generations.
// Store failures fail open: the check passes and a warning is logged.
type Tracker struct {
	store    Store
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

// NewTracker creates a Tracker over store with limits from policies
func NewTracker(store Store, policies policy.Source, recorder audit.Recorder, opts ...Option) *Tracker {
	t := &Tracker{
		store:    store,
		policies: policies,
		recorder: recorder,
		logger:   zap.NewNop(),
		timeout:  2 * time.Second,
		now:      func() time.Time { return time.Now().UTC() },
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

func (t *Tracker) storeFailed(op, userID string, err error) {
	t.logger.Warn("quota store unavailable", zap.String("op", op), zap.String("user_id", userID), zap.Error(err))
	metrics.RecordStoreError("quota")
}

// current loads usage and applies any due reset, persisting the change
func (t *Tracker) current(ctx context.Context, userID string) (*Usage, error) {
	usage, err := t.store.GetUsage(ctx, userID)
	if err != nil {
		return nil, err
	}

	hadDate := usage.ResetDate != nil
	if applyReset(usage, t.now()) {
		if err := t.store.SaveUsage(ctx, usage); err != nil {
			return nil, err
		}
		if hadDate {
			t.logger.Info("monthly usage reset", zap.String("user_id", userID))
			t.log(audit.EventMonthlyUsageReset, map[string]interface{}{
				"user_id":    userID,
				"reset_date": usage.ResetDate.Format(time.RFC3339),
			})
		}
	}
	return usage, nil
}

// CheckMonthlyLimit reports whether the user has generations left this
// period and how many remain. It does not consume one.
func (t *Tracker) CheckMonthlyLimit(ctx context.Context, userID string, tier policy.Tier) (bool, int, string) {
	limit := t.policies.Current().MonthlyLimit(tier)

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	usage, err := t.current(ctx, userID)
	if err != nil {
		t.storeFailed("check", userID, err)
		return true, limit, ""
	}

	if usage.GenerationsUsed >= limit {
		t.log(audit.EventMonthlyLimitExceeded, map[string]interface{}{
			"user_id": userID,
			"tier":    string(tier),
			"limit":   limit,
			"used":    usage.GenerationsUsed,
		})
		return false, 0, limitMessage(limit, usage.ResetDate)
	}
	return true, limit - usage.GenerationsUsed, ""
}

func limitMessage(limit int, reset *time.Time) string {
	when := "next month"
	if reset != nil {
		when = reset.Format(resetDateLayout)
	}
	return fmt.Sprintf("Monthly AI generation limit reached (%d generations). Resets on %s. Upgrade your plan for more generations.", limit, when)
}

// IncrementUsage counts one successful generation
func (t *Tracker) IncrementUsage(ctx context.Context, userID string) error {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	if _, err := t.current(ctx, userID); err != nil {
		t.storeFailed("increment", userID, err)
		return fmt.Errorf("failed to load usage: %w", err)
	}

	used, err := t.store.IncrementUsage(ctx, userID)
	if err != nil {
		t.storeFailed("increment", userID, err)
		return fmt.Errorf("failed to increment usage: %w", err)
	}

	t.logger.Info("monthly usage incremented", zap.String("user_id", userID), zap.Int("used", used))
	t.log(audit.EventUsageIncremented, map[string]interface{}{"user_id": userID, "used": used})
	return nil
}

// Reserve consumes a generation up front, atomically against the limit.
// Pair a successful Reserve with Release when the generation is not delivered.
func (t *Tracker) Reserve(ctx context.Context, userID string, tier policy.Tier) (bool, string) {
	limit := t.policies.Current().MonthlyLimit(tier)

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	usage, err := t.current(ctx, userID)
	if err != nil {
		t.storeFailed("reserve", userID, err)
		return true, ""
	}

	ok, err := t.store.IncrementIfBelow(ctx, userID, limit)
	if err != nil {
		t.storeFailed("reserve", userID, err)
		return true, ""
	}
	if !ok {
		t.log(audit.EventMonthlyLimitExceeded, map[string]interface{}{
			"user_id": userID,
			"tier":    string(tier),
			"limit":   limit,
		})
		return false, limitMessage(limit, usage.ResetDate)
	}

	t.log(audit.EventUsageIncremented, map[string]interface{}{"user_id": userID, "reserved": true})
	return true, ""
}

// Release returns a reserved generation
func (t *Tracker) Release(ctx context.Context, userID string) error {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	if err := t.store.Decrement(ctx, userID); err != nil {
		t.storeFailed("release", userID, err)
		return fmt.Errorf("failed to release reservation: %w", err)
	}
	return nil
}

// Summary describes a user's monthly consumption
type Summary struct {
	Plan           string     `json:"plan"`
	Used           int        `json:"generations_used"`
	Limit          int        `json:"generations_limit"`
	Remaining      int        `json:"generations_remaining"`
	ResetDate      *time.Time `json:"reset_date,omitempty"`
	PercentageUsed float64    `json:"percentage_used"`
}

// Summary reports usage for the current period
func (t *Tracker) Summary(ctx context.Context, userID string, tier policy.Tier) (Summary, error) {
	limit := t.policies.Current().MonthlyLimit(tier)

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	usage, err := t.current(ctx, userID)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load usage: %w", err)
	}

	s := Summary{
		Plan:      string(tier),
		Used:      usage.GenerationsUsed,
		Limit:     limit,
		Remaining: limit - usage.GenerationsUsed,
		ResetDate: usage.ResetDate,
	}
	if s.Remaining < 0 {
		s.Remaining = 0
	}
	if limit > 0 {
		s.PercentageUsed = float64(usage.GenerationsUsed) / float64(limit) * 100
	}
	return s, nil
}
