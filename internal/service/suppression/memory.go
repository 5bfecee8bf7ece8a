package suppression

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps entries in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	store map[string]map[string]Entry // tenant -> recipient -> entry
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{store: make(map[string]map[string]Entry)}
}

func (m *MemoryRepository) IsSuppressed(_ context.Context, tenantID, recipientID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.store[tenantID][recipientID]
	return ok, nil
}

func (m *MemoryRepository) Suppress(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byRecipient, ok := m.store[e.TenantID]
	if !ok {
		byRecipient = make(map[string]Entry)
		m.store[e.TenantID] = byRecipient
	}
	if _, exists := byRecipient[e.RecipientID]; !exists {
		byRecipient[e.RecipientID] = *e
	}
	return nil
}

func (m *MemoryRepository) Remove(_ context.Context, tenantID, recipientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[tenantID][recipientID]; !ok {
		return ErrNotFound
	}
	delete(m.store[tenantID], recipientID)
	return nil
}

func (m *MemoryRepository) List(_ context.Context, tenantID string, f ListFilter) ([]Entry, int, error) {
	m.mu.RLock()
	var out []Entry
	for _, e := range m.store[tenantID] {
		if f.Reason != "" && string(e.Reason) != f.Reason {
			continue
		}
		out = append(out, e)
	}
	m.mu.RUnlock()
	return Page(out, f)
}

// Page sorts entries newest first and applies the filter's limit and
// offset. It is shared by repositories that filter in memory.
func Page(entries []Entry, f ListFilter) ([]Entry, int, error) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].RecipientID < entries[j].RecipientID
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	total := len(entries)
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Offset >= total {
		return []Entry{}, total, nil
	}
	entries = entries[f.Offset:]
	if f.Limit > 0 && f.Limit < len(entries) {
		entries = entries[:f.Limit]
	}
	return entries, total, nil
}
