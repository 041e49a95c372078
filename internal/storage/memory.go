package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/cyderes/wiki-archive-service/internal/models"
)

// MemoryStatusStore keeps run status in process memory.
type MemoryStatusStore struct {
	mu       sync.RWMutex
	statuses map[string]models.RunStatus
}

// NewMemoryStatusStore creates an empty in-memory status store
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{statuses: make(map[string]models.RunStatus)}
}

func (m *MemoryStatusStore) UpdateStatus(_ context.Context, status models.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[status.Wiki] = status
	return nil
}

func (m *MemoryStatusStore) GetStatus(_ context.Context, wiki string) (*models.RunStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[wiki]
	if !ok {
		return nil, nil
	}
	return &status, nil
}

// ListStatuses returns all records ordered by wiki.
func (m *MemoryStatusStore) ListStatuses(_ context.Context) ([]models.RunStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	statuses := make([]models.RunStatus, 0, len(m.statuses))
	for _, s := range m.statuses {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Wiki < statuses[j].Wiki })
	return statuses, nil
}

func (m *MemoryStatusStore) Close() error {
	return nil
}
