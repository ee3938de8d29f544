package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps timestamps in process memory. History is lost on restart
// and not shared across instances.
type MemoryStore struct {
	mu        sync.Mutex
	requests  map[string][]time.Time
	retention time.Duration
}

// NewMemoryStore creates a MemoryStore that forgets entries older than retention
func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = time.Hour
	}
	return &MemoryStore{
		requests:  make(map[string][]time.Time),
		retention: retention,
	}
}

// Record appends a timestamp and prunes expired ones
func (m *MemoryStore) Record(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests[userID] = append(m.prune(userID, at), at)
	return nil
}

// Count returns how many timestamps fall inside (now-window, now]
func (m *MemoryStore) Count(_ context.Context, userID string, window time.Duration, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-window)
	count := 0
	for _, ts := range m.prune(userID, now) {
		if ts.After(cutoff) {
			count++
		}
	}
	return count, nil
}

// must hold m.mu
func (m *MemoryStore) prune(userID string, now time.Time) []time.Time {
	cutoff := now.Add(-m.retention)
	kept := m.requests[userID][:0]
	for _, ts := range m.requests[userID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(m.requests, userID)
		return nil
	}
	m.requests[userID] = kept
	return kept
}
