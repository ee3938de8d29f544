// Package quota enforces monthly generation allowances per subscription tier.
package quota

import (
	"context"
	"time"
)

// Usage is a user's monthly counter
type Usage struct {
	UserID          string     `json:"user_id" db:"user_id"`
	GenerationsUsed int        `json:"generations_used" db:"generations_used_this_month"`
	ResetDate       *time.Time `json:"reset_date,omitempty" db:"reset_date"`
}

// Store persists monthly counters. GetUsage returns a zero Usage with a nil
// ResetDate for users it has never seen.
type Store interface {
	GetUsage(ctx context.Context, userID string) (*Usage, error)
	SaveUsage(ctx context.Context, usage *Usage) error
	IncrementUsage(ctx context.Context, userID string) (int, error)
	// IncrementIfBelow increments only while the counter is under limit and
	// reports whether it did.
	IncrementIfBelow(ctx context.Context, userID string, limit int) (bool, error)
	// Decrement lowers the counter, never below zero.
	Decrement(ctx context.Context, userID string) error
}

// NextResetDate is the first instant of the month after now, in UTC
func NextResetDate(now time.Time) time.Time {
	y, m, _ := now.UTC().Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
}

// AddMonths adds n calendar months, clamping the day to the target month's length
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// applyReset initializes or rolls the reset date. It reports whether usage changed.
// Months are counted from the stored date so a clamped day does not drift.
func applyReset(u *Usage, now time.Time) bool {
	if u.ResetDate == nil {
		next := NextResetDate(now)
		u.ResetDate = &next
		u.GenerationsUsed = 0
		return true
	}

	if now.Before(*u.ResetDate) {
		return false
	}

	anchor := *u.ResetDate
	next := anchor
	for k := 1; !next.After(now); k++ {
		next = AddMonths(anchor, k)
	}
	u.ResetDate = &next
	u.GenerationsUsed = 0
	return true
}
