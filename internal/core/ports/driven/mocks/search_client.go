package mocks

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/custodia-labs/indexsync/internal/core/domain"
	"github.com/custodia-labs/indexsync/internal/core/ports/driven"
)

// Operation names recorded by MockSearchClient
const (
	OpPartialUpdate = "partialUpdateObject"
	OpSaveObject    = "saveObject"
	OpSaveObjects   = "saveObjects"
	OpDeleteObject  = "deleteObject"
	OpDeleteIndex   = "deleteIndex"
	OpCopyIndex     = "copyIndex"
)

// SearchCall records one call made against the mock search service
type SearchCall struct {
	Op          string
	Index       string
	Destination string
	Scopes      []driven.CopyScope
	Records     []domain.IndexRecord
	ObjectID    string
	CreateIfNot bool
}

// MockSearchClient is an in-memory search service. Records are stored per
// index with partial-merge and full-save semantics, and every call is logged.
type MockSearchClient struct {
	mu      sync.Mutex
	indexes map[string]map[string]domain.IndexRecord
	calls   []SearchCall
	autoID  int

	// Err makes every write fail when set
	Err error
	// ErrFor fails only the named operation
	ErrFor map[string]error
	// StrictCopy makes CopyIndex return domain.ErrNotFound for a missing source
	StrictCopy bool
}

// NewMockSearchClient creates a new MockSearchClient
func NewMockSearchClient() *MockSearchClient {
	return &MockSearchClient{
		indexes: make(map[string]map[string]domain.IndexRecord),
		ErrFor:  make(map[string]error),
	}
}

var _ driven.SearchClient = (*MockSearchClient)(nil)

func (m *MockSearchClient) InitIndex(name string) driven.SearchIndex {
	return &mockSearchIndex{client: m, name: name}
}

func (m *MockSearchClient) CopyIndex(ctx context.Context, source, destination string, scopes ...driven.CopyScope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, SearchCall{Op: OpCopyIndex, Index: source, Destination: destination, Scopes: scopes})
	if err := m.failure(OpCopyIndex); err != nil {
		return err
	}
	if _, ok := m.indexes[source]; !ok && m.StrictCopy {
		return domain.ErrNotFound
	}

	dst := make(map[string]domain.IndexRecord)
	if len(scopes) == 0 {
		for id, rec := range m.indexes[source] {
			dst[id] = maps.Clone(rec)
		}
	}
	m.indexes[destination] = dst
	return nil
}

func (m *MockSearchClient) HealthCheck(ctx context.Context) error {
	return m.Err
}

// Seed stores records directly, without recording a call.
func (m *MockSearchClient) Seed(index string, records ...domain.IndexRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.index(index)
	for _, rec := range records {
		idx[rec.ObjectID()] = maps.Clone(rec)
	}
}

// Object returns a copy of the stored record, or nil.
func (m *MockSearchClient) Object(index, objectID string) domain.IndexRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.indexes[index][objectID]
	if !ok {
		return nil
	}
	return maps.Clone(rec)
}

// Count returns the number of records in an index.
func (m *MockSearchClient) Count(index string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.indexes[index])
}

// IndexExists reports whether an index has been written or copied to and not deleted.
func (m *MockSearchClient) IndexExists(index string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.indexes[index]
	return ok
}

// Calls returns the recorded calls in order.
func (m *MockSearchClient) Calls() []SearchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SearchCall(nil), m.calls...)
}

// CallsTo returns the recorded calls of one operation.
func (m *MockSearchClient) CallsTo(op string) []SearchCall {
	var out []SearchCall
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// WritesTo returns the calls of any kind that targeted the index.
func (m *MockSearchClient) WritesTo(index string) []SearchCall {
	var out []SearchCall
	for _, c := range m.Calls() {
		if c.Op == OpCopyIndex {
			if c.Destination == index {
				out = append(out, c)
			}
			continue
		}
		if c.Index == index {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockSearchClient) failure(op string) error {
	if err, ok := m.ErrFor[op]; ok && err != nil {
		return err
	}
	return m.Err
}

func (m *MockSearchClient) index(name string) map[string]domain.IndexRecord {
	idx, ok := m.indexes[name]
	if !ok {
		idx = make(map[string]domain.IndexRecord)
		m.indexes[name] = idx
	}
	return idx
}

type mockSearchIndex struct {
	client *MockSearchClient
	name   string
}

func (i *mockSearchIndex) Name() string { return i.name }

func (i *mockSearchIndex) PartialUpdateObject(ctx context.Context, record domain.IndexRecord, createIfNotExists bool) error {
	m := i.client
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, SearchCall{Op: OpPartialUpdate, Index: i.name, Records: []domain.IndexRecord{maps.Clone(record)}, ObjectID: record.ObjectID(), CreateIfNot: createIfNotExists})
	if err := m.failure(OpPartialUpdate); err != nil {
		return err
	}

	idx := m.index(i.name)
	existing, ok := idx[record.ObjectID()]
	if !ok {
		if !createIfNotExists {
			return nil
		}
		existing = domain.IndexRecord{}
	}
	maps.Copy(existing, record)
	idx[record.ObjectID()] = existing
	return nil
}

func (i *mockSearchIndex) SaveObject(ctx context.Context, record domain.IndexRecord) error {
	m := i.client
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, SearchCall{Op: OpSaveObject, Index: i.name, Records: []domain.IndexRecord{maps.Clone(record)}, ObjectID: record.ObjectID()})
	if err := m.failure(OpSaveObject); err != nil {
		return err
	}
	m.index(i.name)[record.ObjectID()] = maps.Clone(record)
	return nil
}

func (i *mockSearchIndex) SaveObjects(ctx context.Context, records []domain.IndexRecord, autoGenerateObjectID bool) error {
	m := i.client
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]domain.IndexRecord, len(records))
	for n, rec := range records {
		copied[n] = maps.Clone(rec)
	}
	m.calls = append(m.calls, SearchCall{Op: OpSaveObjects, Index: i.name, Records: copied})
	if err := m.failure(OpSaveObjects); err != nil {
		return err
	}

	idx := m.index(i.name)
	for _, rec := range copied {
		id := rec.ObjectID()
		if id == "" {
			if !autoGenerateObjectID {
				return fmt.Errorf("record without objectID")
			}
			m.autoID++
			id = fmt.Sprintf("auto-%d", m.autoID)
			rec[domain.ObjectIDField] = id
		}
		idx[id] = rec
	}
	return nil
}

func (i *mockSearchIndex) DeleteObject(ctx context.Context, objectID string) error {
	m := i.client
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, SearchCall{Op: OpDeleteObject, Index: i.name, ObjectID: objectID})
	if err := m.failure(OpDeleteObject); err != nil {
		return err
	}
	delete(m.indexes[i.name], objectID)
	return nil
}

func (i *mockSearchIndex) Delete(ctx context.Context) error {
	m := i.client
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, SearchCall{Op: OpDeleteIndex, Index: i.name})
	if err := m.failure(OpDeleteIndex); err != nil {
		return err
	}
	delete(m.indexes, i.name)
	return nil
}
