package proxy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errProvider = errors.New("provider down")

func failing(context.Context) error { return errProvider }
func succeeding(context.Context) error { return nil }

func TestCircuitBreaker_Disabled(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	for i := 0; i < 10; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), failing), errProvider)
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	})
	cb.now = func() time.Time { return now }
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, failing), errProvider)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, failing), errProvider)
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(2 * time.Minute)
	assert.NoError(t, cb.Execute(ctx, succeeding))
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, "closed", cb.Stats()["state"])
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{Enabled: true, FailureThreshold: 1, Timeout: time.Second})
	cb.now = func() time.Time { return now }
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	now = now.Add(2 * time.Second)
	_ = cb.Execute(ctx, failing)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_MaxConcurrent(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Enabled: true, MaxConcurrent: 1})
	ctx := context.Background()

	err := cb.Execute(ctx, func(ctx context.Context) error {
		return cb.Execute(ctx, succeeding)
	})
	assert.ErrorIs(t, err, ErrTooManyConcurrent)
}
