package store

import (
	"context"
	"sync"
	"time"

	"github.com/lifeadmin/commitd/internal/models"
)

// MemoryStore keeps commitments in insertion order behind a single mutex.
// Used in tests and as the in-memory table backing FileStore.
type MemoryStore struct {
	mu    sync.RWMutex
	items []models.Commitment
	index map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: map[string]int{}}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (models.Commitment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[id]
	if !ok {
		return models.Commitment{}, ErrNotFound
	}
	return m.items[i], nil
}

func (m *MemoryStore) List(ctx context.Context) ([]models.Commitment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Commitment, len(m.items))
	copy(out, m.items)
	return out, nil
}

func (m *MemoryStore) ListByOwner(ctx context.Context, owner string) ([]models.Commitment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Commitment
	for _, c := range m.items {
		if c.Owner == owner {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStore) FindByVerifier(ctx context.Context, verifier string) ([]models.Commitment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Commitment
	for _, c := range m.items {
		if c.Verifier != verifier {
			continue
		}
		if c.Status == models.StatusPending || c.Status == models.StatusProofSubmitted {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, c models.Commitment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertLocked(c)
	return nil
}

func (m *MemoryStore) MarkNotified(ctx context.Context, ids []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		i, ok := m.index[id]
		if !ok || m.items[i].Status != models.StatusPending {
			continue
		}
		t := at
		m.items[i].LastNotifiedAt = &t
	}
	return nil
}

func (m *MemoryStore) upsertLocked(c models.Commitment) {
	if i, ok := m.index[c.ID]; ok {
		m.items[i] = c
		return
	}
	m.items = append(m.items, c)
	m.index[c.ID] = len(m.items) - 1
}

func (m *MemoryStore) Rebind(ctx context.Context, placeholderID string, c models.Commitment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[placeholderID]
	if !ok {
		return ErrNotFound
	}
	// Keep the record's slot so insertion order survives the rebind.
	delete(m.index, placeholderID)
	m.items[i] = c
	m.index[c.ID] = i
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// snapshot is used by FileStore to persist the whole table in one write.
func (m *MemoryStore) snapshot() []models.Commitment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Commitment, len(m.items))
	copy(out, m.items)
	return out
}

// load replaces the table contents; only called before the store is shared.
func (m *MemoryStore) load(cs []models.Commitment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append([]models.Commitment(nil), cs...)
	m.index = make(map[string]int, len(cs))
	for i, c := range cs {
		m.index[c.ID] = i
	}
}
