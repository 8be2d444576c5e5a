package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/custodia-labs/indexsync/internal/core/domain"
	"github.com/custodia-labs/indexsync/internal/core/ports/driven"
	"github.com/custodia-labs/indexsync/internal/core/ports/driving"
	"github.com/custodia-labs/indexsync/internal/metrics"
)

// Verify interface compliance
var _ driving.ChangeHandler = (*IncrementalSync)(nil)

// IncrementalSync applies per-document change events to the search index.
//
// Event handling:
//  1. Classify the event (create, update, delete, invalid)
//  2. Force-sync mode: re-read the document and replace the record
//  3. Create: partial merge, creating the record if absent
//  4. Update: skip when no tracked field changed, partial merge when no
//     field was removed, full save without the removed fields otherwise
//  5. Delete: remove the record by document ID
//
// Index failures are logged and counted but never returned.
type IncrementalSync struct {
	index          driven.SearchIndex
	extractor      driven.Extractor
	source         driven.DocumentSource
	trackedFields  []string
	forceDataSync  bool
	collectionPath string
	logger         *slog.Logger
}

// IncrementalSyncConfig holds dependencies for IncrementalSync.
type IncrementalSyncConfig struct {
	Index     driven.SearchIndex
	Extractor driven.Extractor
	// Source is required when ForceDataSync is set
	Source driven.DocumentSource

	// TrackedFields limits change detection to these paths. Empty tracks all.
	TrackedFields []string
	ForceDataSync bool
	// CollectionPath drops events for documents outside the pattern
	CollectionPath string

	Logger *slog.Logger
}

// NewIncrementalSync creates a new incremental sync controller.
func NewIncrementalSync(cfg IncrementalSyncConfig) *IncrementalSync {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &IncrementalSync{
		index:          cfg.Index,
		extractor:      cfg.Extractor,
		source:         cfg.Source,
		trackedFields:  cfg.TrackedFields,
		forceDataSync:  cfg.ForceDataSync,
		collectionPath: cfg.CollectionPath,
		logger:         logger.With("component", "incremental_sync"),
	}
}

// HandleChange processes a single change event.
func (s *IncrementalSync) HandleChange(ctx context.Context, event *domain.ChangeEvent) error {
	changeType := event.Type()
	metrics.ChangeEvents.WithLabelValues(string(changeType)).Inc()

	if changeType == domain.ChangeTypeInvalid {
		return fmt.Errorf("%w: neither before nor after document present", domain.ErrInvalidChange)
	}

	if path := event.DocumentPath(); path != "" && !domain.MatchCollectionPath(s.collectionPath, path) {
		s.logger.Debug("ignoring change outside collection", "path", path, "collection", s.collectionPath)
		return nil
	}

	s.logger.Info("started execution of change handler", "change_type", changeType)

	switch changeType {
	case domain.ChangeTypeCreate:
		s.handleCreate(ctx, event.After, event.Timestamp)
	case domain.ChangeTypeUpdate:
		s.handleUpdate(ctx, event.Before, event.After, event.Timestamp)
	case domain.ChangeTypeDelete:
		s.handleDelete(ctx, event.Before)
	}
	return nil
}

func (s *IncrementalSync) handleCreate(ctx context.Context, after *domain.Snapshot, ts time.Time) {
	if s.forceDataSync {
		s.forceSave(ctx, after.Ref())
		return
	}

	record, err := s.extractor.Extract(ctx, after, ts)
	if err != nil {
		s.logger.Error("failed to extract record", "doc_id", after.ID, "error", err)
		return
	}

	s.logger.Debug("creating index record", "doc_id", after.ID, "data", record)
	s.partialUpdate(ctx, record)
}

func (s *IncrementalSync) handleUpdate(ctx context.Context, before, after *domain.Snapshot, ts time.Time) {
	if s.forceDataSync {
		s.forceSave(ctx, after.Ref())
		return
	}

	if !domain.FieldsUpdated(s.trackedFields, before, after) {
		s.logger.Debug("no tracked field changed, skipping", "doc_id", after.ID)
		return
	}

	removed := domain.RemovedFields(before.Data, after)
	s.logger.Debug("detected a change", "doc_id", after.ID, "removed_fields", removed)

	if len(removed) == 0 {
		record, err := s.extractor.Extract(ctx, after, ts)
		if err != nil {
			s.logger.Error("failed to extract record", "doc_id", after.ID, "error", err)
			return
		}
		s.logger.Debug("updating index record", "doc_id", after.ID, "data", record)
		s.partialUpdate(ctx, record)
		return
	}

	// A partial merge cannot clear fields, so the record is replaced.
	record, err := s.extractor.Extract(ctx, after, time.Time{})
	if err != nil {
		s.logger.Error("failed to extract record", "doc_id", after.ID, "error", err)
		return
	}
	record.Without(removed...)

	s.logger.Debug("replacing index record", "doc_id", after.ID, "data", record)
	s.save(ctx, record)
}

func (s *IncrementalSync) handleDelete(ctx context.Context, before *domain.Snapshot) {
	s.logger.Debug("deleting index record", "doc_id", before.ID)

	err := s.index.DeleteObject(ctx, before.ID)
	metrics.ObserveIndexOperation("deleteObject", err)
	if err != nil {
		s.logger.Error("failed to delete index record", "doc_id", before.ID, "operation", "deleteObject", "error", err)
		return
	}
	s.logger.Info("deleted index record", "doc_id", before.ID, "operation", "deleteObject")
}

// forceSave re-reads the document and replaces its record. The event
// snapshot is ignored.
func (s *IncrementalSync) forceSave(ctx context.Context, ref domain.DocumentRef) {
	id := ref.ID
	current, err := s.source.Get(ctx, ref)
	if err != nil {
		s.logger.Error("failed to re-read document", "doc_id", id, "error", err)
		return
	}
	if !current.Exists {
		// The delete event that follows removes the record.
		s.logger.Warn("document no longer exists, skipping force sync", "doc_id", id)
		return
	}

	record, err := s.extractor.Extract(ctx, current, time.Time{})
	if err != nil {
		s.logger.Error("failed to extract record", "doc_id", id, "error", err)
		return
	}

	s.logger.Info("force sync data: execute saveObject", "doc_id", id)
	s.save(ctx, record)
}

func (s *IncrementalSync) partialUpdate(ctx context.Context, record domain.IndexRecord) {
	err := s.index.PartialUpdateObject(ctx, record, true)
	metrics.ObserveIndexOperation("partialUpdateObject", err)
	if err != nil {
		s.logger.Error("failed to update index record", "doc_id", record.ObjectID(), "operation", "partialUpdateObject", "error", err)
		return
	}
	s.logger.Info("indexed record", "doc_id", record.ObjectID(), "operation", "partialUpdateObject")
}

func (s *IncrementalSync) save(ctx context.Context, record domain.IndexRecord) {
	err := s.index.SaveObject(ctx, record)
	metrics.ObserveIndexOperation("saveObject", err)
	if err != nil {
		s.logger.Error("failed to save index record", "doc_id", record.ObjectID(), "operation", "saveObject", "error", err)
		return
	}
	s.logger.Info("indexed record", "doc_id", record.ObjectID(), "operation", "saveObject")
}
