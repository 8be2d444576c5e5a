// Package extract turns document snapshots into search index records.
package extract

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/indexsync/internal/core/domain"
	"github.com/custodia-labs/indexsync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.Extractor = (*Extractor)(nil)

// Processor rewrites a record. Processors form a pipeline:
// FieldSelector -> ValueNormalizer -> Transformer.
type Processor interface {
	// Process returns the rewritten record. An error fails extraction of
	// the document.
	Process(ctx context.Context, record domain.IndexRecord) (domain.IndexRecord, error)

	// Name returns the processor name for logging
	Name() string

	// Order returns the position in the pipeline (lower = earlier)
	Order() int
}

// Extractor implements driven.Extractor. It copies the snapshot data,
// runs the processors in order, then stamps objectID, path and _updatedAt.
type Extractor struct {
	mu         sync.RWMutex
	processors []Processor
	sorted     bool
}

// New creates an extractor with the given processors.
func New(processors ...Processor) *Extractor {
	e := &Extractor{}
	for _, p := range processors {
		e.Add(p)
	}
	return e
}

// Add adds a processor. Processors are sorted by Order() before use.
func (e *Extractor) Add(p Processor) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.processors = append(e.processors, p)
	e.sorted = false
}

// List returns processor names in order.
func (e *Extractor) List() []string {
	procs := e.pipeline()
	names := make([]string, len(procs))
	for i, p := range procs {
		names[i] = p.Name()
	}
	return names
}

func (e *Extractor) pipeline() []Processor {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.sorted {
		sort.SliceStable(e.processors, func(i, j int) bool {
			return e.processors[i].Order() < e.processors[j].Order()
		})
		e.sorted = true
	}
	return append([]Processor(nil), e.processors...)
}

// Extract builds the index record for a snapshot.
func (e *Extractor) Extract(ctx context.Context, snapshot *domain.Snapshot, timestamp time.Time) (domain.IndexRecord, error) {
	if snapshot == nil || !snapshot.Exists {
		return nil, fmt.Errorf("%w: no document to extract", domain.ErrInvalidInput)
	}

	record := domain.IndexRecord(maps.Clone(snapshot.Data))
	if record == nil {
		record = domain.IndexRecord{}
	}

	for _, p := range e.pipeline() {
		next, err := p.Process(ctx, record)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", snapshot.ID, p.Name(), err)
		}
		record = next
	}

	record[domain.ObjectIDField] = snapshot.ID
	if snapshot.Path != "" {
		record[domain.PathField] = snapshot.Path
	}
	if !timestamp.IsZero() {
		record[domain.UpdatedAtField] = timestamp.UnixMilli()
	} else {
		delete(record, domain.UpdatedAtField)
	}
	return record, nil
}

// Config selects the default processors.
type Config struct {
	// Fields limits records to these top-level fields. Empty keeps all.
	Fields []string

	// TransformURL, when set, posts each record to a transform endpoint
	TransformURL string
	Transform    TransformConfig
}

// NewDefault creates an extractor with the standard pipeline.
func NewDefault(cfg Config) *Extractor {
	e := New(NewFieldSelector(cfg.Fields), NewValueNormalizer())
	if cfg.TransformURL != "" {
		e.Add(NewTransformer(cfg.TransformURL, cfg.Transform))
	}
	return e
}
