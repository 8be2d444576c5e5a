package mocks

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/custodia-labs/indexsync/internal/core/domain"
)

// ListCall records one page query
type ListCall struct {
	Offset int
	Limit  int
}

// MockDocumentSource is an in-memory collection ordered by document ID
type MockDocumentSource struct {
	mu    sync.Mutex
	docs  map[string]map[string]any
	lists []ListCall
	gets  []string

	GetErr  error
	ListErr error
}

// NewMockDocumentSource creates a new MockDocumentSource
func NewMockDocumentSource() *MockDocumentSource {
	return &MockDocumentSource{docs: make(map[string]map[string]any)}
}

// Put stores or replaces a document.
func (m *MockDocumentSource) Put(id string, data map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id] = maps.Clone(data)
}

// Remove deletes a document.
func (m *MockDocumentSource) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
}

func (m *MockDocumentSource) Get(ctx context.Context, ref domain.DocumentRef) (*domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := ref.ID

	m.gets = append(m.gets, id)
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	data, ok := m.docs[id]
	if !ok {
		return &domain.Snapshot{ID: id, Path: ref.Path}, nil
	}
	return &domain.Snapshot{ID: id, Path: ref.Path, Exists: true, Data: maps.Clone(data)}, nil
}

func (m *MockDocumentSource) List(ctx context.Context, offset, limit int) ([]*domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lists = append(m.lists, ListCall{Offset: offset, Limit: limit})
	if m.ListErr != nil {
		return nil, m.ListErr
	}

	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []*domain.Snapshot
	for i := offset; i < len(ids) && len(out) < limit; i++ {
		out = append(out, &domain.Snapshot{ID: ids[i], Exists: true, Data: maps.Clone(m.docs[ids[i]])})
	}
	return out, nil
}

func (m *MockDocumentSource) Ping(ctx context.Context) error {
	return nil
}

// ListCalls returns the page queries made so far.
func (m *MockDocumentSource) ListCalls() []ListCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ListCall(nil), m.lists...)
}

// GetCalls returns the ids re-read so far.
func (m *MockDocumentSource) GetCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.gets...)
}

// MockProcessingStateStore keeps every report written, newest last
type MockProcessingStateStore struct {
	mu      sync.Mutex
	history []*domain.ProcessingState

	SetErr error
}

// NewMockProcessingStateStore creates a new MockProcessingStateStore
func NewMockProcessingStateStore() *MockProcessingStateStore {
	return &MockProcessingStateStore{}
}

func (m *MockProcessingStateStore) Set(ctx context.Context, state *domain.ProcessingState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	cp := *state
	m.history = append(m.history, &cp)
	return nil
}

func (m *MockProcessingStateStore) Get(ctx context.Context) (*domain.ProcessingState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return nil, domain.ErrNotFound
	}
	cp := *m.history[len(m.history)-1]
	return &cp, nil
}

// History returns every report written.
func (m *MockProcessingStateStore) History() []*domain.ProcessingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.ProcessingState(nil), m.history...)
}
