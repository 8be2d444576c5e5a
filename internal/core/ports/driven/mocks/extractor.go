package mocks

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/custodia-labs/indexsync/internal/core/domain"
)

// MockExtractor copies snapshot data into a record. Documents listed in
// FailIDs fail extraction.
type MockExtractor struct {
	mu      sync.Mutex
	FailIDs map[string]bool
	calls   int
}

// NewMockExtractor creates a new MockExtractor
func NewMockExtractor() *MockExtractor {
	return &MockExtractor{FailIDs: make(map[string]bool)}
}

func (m *MockExtractor) Extract(ctx context.Context, snapshot *domain.Snapshot, timestamp time.Time) (domain.IndexRecord, error) {
	m.mu.Lock()
	m.calls++
	fail := m.FailIDs[snapshot.ID]
	m.mu.Unlock()

	if fail {
		return nil, fmt.Errorf("extract %s: transform failed", snapshot.ID)
	}

	rec := domain.NewIndexRecord(snapshot.ID, timestamp)
	maps.Copy(rec, snapshot.Data)
	rec[domain.ObjectIDField] = snapshot.ID
	return rec, nil
}

// Fail marks documents as failing extraction.
func (m *MockExtractor) Fail(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.FailIDs[id] = true
	}
}

// Calls returns the number of Extract calls.
func (m *MockExtractor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
