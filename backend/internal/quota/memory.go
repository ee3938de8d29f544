package quota

import (
	"context"
	"sync"
)

// MemoryStore keeps counters in process memory
type MemoryStore struct {
	mu    sync.Mutex
	usage map[string]Usage
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{usage: make(map[string]Usage)}
}

func (m *MemoryStore) GetUsage(_ context.Context, userID string) (*Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.usage[userID]
	if !ok {
		return &Usage{UserID: userID}, nil
	}
	if u.ResetDate != nil {
		d := *u.ResetDate
		u.ResetDate = &d
	}
	return &u, nil
}

func (m *MemoryStore) SaveUsage(_ context.Context, usage *Usage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := *usage
	if usage.ResetDate != nil {
		d := *usage.ResetDate
		u.ResetDate = &d
	}
	m.usage[usage.UserID] = u
	return nil
}

func (m *MemoryStore) IncrementUsage(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.usage[userID]
	u.UserID = userID
	u.GenerationsUsed++
	m.usage[userID] = u
	return u.GenerationsUsed, nil
}

func (m *MemoryStore) IncrementIfBelow(_ context.Context, userID string, limit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.usage[userID]
	if u.GenerationsUsed >= limit {
		return false, nil
	}
	u.UserID = userID
	u.GenerationsUsed++
	m.usage[userID] = u
	return true, nil
}

func (m *MemoryStore) Decrement(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.usage[userID]
	if !ok || u.GenerationsUsed == 0 {
		return nil
	}
	u.GenerationsUsed--
	m.usage[userID] = u
	return nil
}
