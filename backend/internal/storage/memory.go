package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/quota"
)

// MemoryStore is the in-process counterpart of PostgresStore
type MemoryStore struct {
	*quota.MemoryStore

	mu     sync.Mutex
	log    []UsageRecord
	nextID int64
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{MemoryStore: quota.NewMemoryStore()}
}

// InsertUsageLog appends a record and assigns its ID
func (m *MemoryStore) InsertUsageLog(_ context.Context, rec *UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	m.nextID++
	rec.ID = m.nextID
	m.log = append(m.log, *rec)
	return nil
}

// ListUsageHistory returns a user's records, newest first
func (m *MemoryStore) ListUsageHistory(_ context.Context, userID string, limit int) ([]UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]UsageRecord, 0)
	for _, rec := range m.log {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if limit = ClampHistoryLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Record is a no-op; Count reads the usage log
func (m *MemoryStore) Record(context.Context, string, time.Time) error {
	return nil
}

// Count returns the number of log records after now-window
func (m *MemoryStore) Count(_ context.Context, userID string, window time.Duration, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-window)
	n := 0
	for _, rec := range m.log {
		if rec.UserID == userID && rec.Timestamp.After(cutoff) {
			n++
		}
	}
	return n, nil
}
