package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/adlens/internal/domain"
	"github.com/phrazzld/adlens/internal/store"
)

// MockResultStore is an in-memory store.ResultStore.
type MockResultStore struct {
	mu      sync.Mutex
	records map[uuid.UUID][]domain.FinalRecord // keyed by owner

	SaveRecordsFn      func(ctx context.Context, jobID, ownerID uuid.UUID, records []domain.FinalRecord) error
	CompletedItemIDsFn func(ctx context.Context, ownerID uuid.UUID, accountRef string) ([]string, error)
}

var _ store.ResultStore = (*MockResultStore)(nil)

// NewMockResultStore returns an empty in-memory result store.
func NewMockResultStore() *MockResultStore {
	return &MockResultStore{records: make(map[uuid.UUID][]domain.FinalRecord)}
}

// SaveRecords implements store.ResultStore.
func (m *MockResultStore) SaveRecords(
	ctx context.Context,
	jobID, ownerID uuid.UUID,
	records []domain.FinalRecord,
) error {
	if m.SaveRecordsFn != nil {
		return m.SaveRecordsFn(ctx, jobID, ownerID, records)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.records[ownerID]
	for _, r := range records {
		replaced := false
		for i := range existing {
			if existing[i].ItemID == r.ItemID && existing[i].AccountRef == r.AccountRef {
				existing[i] = r
				replaced = true
			}
		}
		if !replaced {
			existing = append(existing, r)
		}
	}
	m.records[ownerID] = existing
	return nil
}

// CompletedItemIDs implements store.ResultStore.
func (m *MockResultStore) CompletedItemIDs(ctx context.Context, ownerID uuid.UUID, accountRef string) ([]string, error) {
	if m.CompletedItemIDsFn != nil {
		return m.CompletedItemIDsFn(ctx, ownerID, accountRef)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, r := range m.records[ownerID] {
		if r.AccountRef == accountRef {
			ids = append(ids, r.ItemID)
		}
	}
	return ids, nil
}

// Records returns every record saved for ownerID.
func (m *MockResultStore) Records(ownerID uuid.UUID) []domain.FinalRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.FinalRecord(nil), m.records[ownerID]...)
}
