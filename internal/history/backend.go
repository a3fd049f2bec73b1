package history

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned by Backend.Load when no record exists.
	ErrNotFound = errors.New("history record not found")

	// ErrCapacity is returned by Backend.Save when the backend is full.
	// The store reacts by pruning and retrying once.
	ErrCapacity = errors.New("history storage capacity exceeded")
)

// Backend is the persistence boundary of the history store: an opaque
// key-value store keyed by thread id. Backends do not interpret payloads.
type Backend interface {
	Load(ctx context.Context, threadID string) ([]byte, error)
	Save(ctx context.Context, threadID string, data []byte, updatedAt time.Time) error
	Delete(ctx context.Context, threadID string) error

	// Prune removes records last updated before olderThan, then the oldest
	// records beyond keep (0 means no count cap). It returns the number
	// removed.
	Prune(ctx context.Context, olderThan time.Time, keep int) (int, error)

	Close() error
}

type memRecord struct {
	data      []byte
	updatedAt time.Time
}

// MemoryBackend keeps records in process memory. MaxBytes, when positive,
// caps the total payload size and makes Save return ErrCapacity.
type MemoryBackend struct {
	MaxBytes int

	mu      sync.Mutex
	records map[string]memRecord
	size    int
}

// NewMemoryBackend returns an empty MemoryBackend capped at maxBytes
// (0 for unlimited).
func NewMemoryBackend(maxBytes int) *MemoryBackend {
	return &MemoryBackend{MaxBytes: maxBytes, records: map[string]memRecord{}}
}

func (m *MemoryBackend) Load(ctx context.Context, threadID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), rec.data...), nil
}

func (m *MemoryBackend) Save(ctx context.Context, threadID string, data []byte, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = map[string]memRecord{}
	}
	newSize := m.size - len(m.records[threadID].data) + len(data)
	if m.MaxBytes > 0 && newSize > m.MaxBytes {
		return ErrCapacity
	}
	m.records[threadID] = memRecord{data: append([]byte(nil), data...), updatedAt: updatedAt}
	m.size = newSize
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(threadID)
	return nil
}

func (m *MemoryBackend) deleteLocked(threadID string) {
	if rec, ok := m.records[threadID]; ok {
		m.size -= len(rec.data)
		delete(m.records, threadID)
	}
}

func (m *MemoryBackend) Prune(ctx context.Context, olderThan time.Time, keep int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	type aged struct {
		id string
		at time.Time
	}
	var remaining []aged
	for id, rec := range m.records {
		if rec.updatedAt.Before(olderThan) {
			m.deleteLocked(id)
			removed++
			continue
		}
		remaining = append(remaining, aged{id, rec.updatedAt})
	}

	if keep > 0 && len(remaining) > keep {
		sort.Slice(remaining, func(i, j int) bool { return remaining[i].at.Before(remaining[j].at) })
		for _, r := range remaining[:len(remaining)-keep] {
			m.deleteLocked(r.id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored records.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MemoryBackend) Close() error { return nil }
