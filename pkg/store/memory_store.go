package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"chapterhub/pkg/domain"
)

// MemoryStore keeps attachment records in-process. Used in tests and as a
// drop-in Store for local development without Postgres.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.PendingAttachment
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]domain.PendingAttachment)}
}

func (m *MemoryStore) SavePendingAttachment(p domain.PendingAttachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[p.ID] = p
	return nil
}

func (m *MemoryStore) GetPendingAttachment(id string) (domain.PendingAttachment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[id]
	return record, ok, nil
}

func (m *MemoryStore) ListPendingByChapter(chapterID string) ([]domain.PendingAttachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.PendingAttachment, 0)
	for _, record := range m.records {
		if record.ChapterID == chapterID {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) SetAttachmentStatus(id string, status domain.AttachmentStatus, attempts int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return fmt.Errorf("attachment %s not found", id)
	}
	record.Status = status
	record.Attempts = attempts
	record.LastError = errMsg
	record.UpdatedAt = time.Now().UTC()
	m.records[id] = record
	return nil
}
