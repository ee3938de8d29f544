// Package ratelimit tracks per-user request timestamps in sliding windows.
package ratelimit

import (
	"context"
	"time"
)

// WindowStore records request timestamps per user and counts them over a
// trailing window. Count includes timestamps strictly after now-window.
type WindowStore interface {
	Record(ctx context.Context, userID string, at time.Time) error
	Count(ctx context.Context, userID string, window time.Duration, now time.Time) (int, error)
}

// Durable is implemented by stores whose history survives restarts and is
// shared between instances.
type Durable interface {
	Durable() bool
}

func isDurable(s WindowStore) bool {
	d, ok := s.(Durable)
	return ok && d.Durable()
}
