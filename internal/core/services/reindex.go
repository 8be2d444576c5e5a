package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/indexsync/internal/core/domain"
	"github.com/custodia-labs/indexsync/internal/core/ports/driven"
	"github.com/custodia-labs/indexsync/internal/core/ports/driving"
	"github.com/custodia-labs/indexsync/internal/metrics"
)

// Verify interface compliance
var _ driving.Reindexer = (*ReindexController)(nil)

const (
	// ReindexLockName is the distributed lock held for the duration of a run
	ReindexLockName = "full-reindex"

	// reindexLockTTL bounds how long a crashed run blocks new triggers.
	// Every processed page extends it.
	reindexLockTTL = 15 * time.Minute

	defaultExtractConcurrency = 16
)

// settingsScopes copies index configuration without records
var settingsScopes = []driven.CopyScope{
	driven.CopyScopeSettings,
	driven.CopyScopeSynonyms,
	driven.CopyScopeRules,
}

// ReindexController runs a full reindex one page per task.
//
// Each invocation:
//  1. Guard: report completion without touching documents when disabled
//  2. First invocation in replace-all mode: create a temp index carrying
//     the production settings
//  3. Fetch the page at the state offset
//  4. Extract every document concurrently, tolerating failures
//  5. Batch-save the records to the temp or production index
//  6. Step the state machine, then enqueue the next page or finalize
type ReindexController struct {
	client             driven.SearchClient
	indexName          string
	extractor          driven.Extractor
	source             driven.DocumentSource
	queue              driven.TaskQueue
	states             driven.ProcessingStateStore
	lock               driven.DistributedLock
	enabled            bool
	replaceAll         bool
	extractConcurrency int
	now                func() time.Time
	suffix             func() string
	logger             *slog.Logger
}

// ReindexControllerConfig holds dependencies for ReindexController.
type ReindexControllerConfig struct {
	Client    driven.SearchClient
	IndexName string
	Extractor driven.Extractor
	Source    driven.DocumentSource
	Queue     driven.TaskQueue
	States    driven.ProcessingStateStore
	// Lock is optional. Without it concurrent triggers are not rejected.
	Lock driven.DistributedLock

	Enabled    bool
	ReplaceAll bool
	// ExtractConcurrency caps concurrent extractions within a page (default: 16)
	ExtractConcurrency int

	// Now and SuffixFunc default to time.Now and a random 8-char suffix
	Now        func() time.Time
	SuffixFunc func() string

	Logger *slog.Logger
}

// NewReindexController creates a new full reindex controller.
func NewReindexController(cfg ReindexControllerConfig) *ReindexController {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ExtractConcurrency <= 0 {
		cfg.ExtractConcurrency = defaultExtractConcurrency
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SuffixFunc == nil {
		cfg.SuffixFunc = randomSuffix
	}

	return &ReindexController{
		client:             cfg.Client,
		indexName:          cfg.IndexName,
		extractor:          cfg.Extractor,
		source:             cfg.Source,
		queue:              cfg.Queue,
		states:             cfg.States,
		lock:               cfg.Lock,
		enabled:            cfg.Enabled,
		replaceAll:         cfg.ReplaceAll,
		extractConcurrency: cfg.ExtractConcurrency,
		now:                cfg.Now,
		suffix:             cfg.SuffixFunc,
		logger:             logger.With("component", "reindex"),
	}
}

func randomSuffix() string {
	return uuid.NewString()[:8]
}

// Trigger starts a new run by enqueueing its first page.
func (c *ReindexController) Trigger(ctx context.Context) (*domain.Task, error) {
	if c.lock != nil {
		acquired, err := c.lock.Acquire(ctx, ReindexLockName, reindexLockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire reindex lock: %w", err)
		}
		if !acquired {
			return nil, domain.ErrReindexInProgress
		}
	}

	task := domain.NewFullReindexTask(domain.NewReindexState(c.now()))
	if err := c.queue.Enqueue(ctx, task); err != nil {
		c.releaseLock(ctx)
		return nil, fmt.Errorf("enqueue reindex task: %w", err)
	}

	c.logger.Info("full reindex triggered", "task_id", task.ID)
	return task, nil
}

// RunTask processes the page carried by a full_reindex task.
func (c *ReindexController) RunTask(ctx context.Context, task *domain.Task) error {
	if task.Type != domain.TaskTypeFullReindex {
		return fmt.Errorf("%w: %s", domain.ErrUnknownTaskType, task.Type)
	}
	state, err := task.ReindexState(c.now())
	if err != nil {
		return fmt.Errorf("decode reindex state: %w", err)
	}
	if _, err = c.Run(ctx, state); err != nil {
		if !task.CanRetry() {
			c.abandon(ctx, state, err)
		}
		return err
	}
	return nil
}

// abandon closes a run whose last attempt failed: the staged temp index is
// dropped, a failed report is written and the lock is released.
func (c *ReindexController) abandon(ctx context.Context, state domain.ReindexState, cause error) {
	c.logger.Error("reindex page failed after final attempt", "offset", state.Offset, "error", cause)
	tr := domain.Abandon(state, c.replaceAll, cause, c.now())
	if err := c.finalize(ctx, tr); err != nil {
		c.logger.Error("failed to finalize abandoned run", "error", err)
	}
}

// Status returns the report of the last finished run.
func (c *ReindexController) Status(ctx context.Context) (*domain.ProcessingState, error) {
	return c.states.Get(ctx)
}

// Run processes one page. An error means nothing was enqueued or reported
// and the invocation should be retried with the same state.
func (c *ReindexController) Run(ctx context.Context, state domain.ReindexState) (domain.Transition, error) {
	if !c.enabled {
		return c.reportDisabled(ctx)
	}

	bootstrapped := false
	if c.replaceAll && state.IsFirstInvocation() {
		name, err := c.createTempIndex(ctx)
		if err != nil {
			return domain.Transition{}, err
		}
		state.TempIndexName = name
		bootstrapped = true
	}

	tr, err := c.processPage(ctx, state)
	if err != nil {
		if bootstrapped {
			// The retry starts over with a new temp index.
			c.dropIndex(ctx, state.TempIndexName)
		}
		return domain.Transition{}, err
	}
	return tr, nil
}

func (c *ReindexController) reportDisabled(ctx context.Context) (domain.Transition, error) {
	report := domain.DisabledReindexState(c.now())
	c.logger.Info("full indexing disabled, skipping")
	if err := c.states.Set(ctx, report); err != nil {
		return domain.Transition{}, fmt.Errorf("set processing state: %w", err)
	}
	c.releaseLock(ctx)
	return domain.Transition{Phase: domain.ReindexPhaseComplete, Action: domain.IndexActionNone, Report: report}, nil
}

func (c *ReindexController) createTempIndex(ctx context.Context) (string, error) {
	name := domain.TempIndexName(c.indexName, c.suffix())

	err := c.client.CopyIndex(ctx, c.indexName, name, settingsScopes...)
	metrics.ObserveIndexOperation("copyIndex", err)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// No production index yet; the temp index starts with default settings.
		c.logger.Warn("production index not found, temp index starts empty", "index", c.indexName)
	case err != nil:
		return "", fmt.Errorf("copy settings to temp index %s: %w", name, err)
	}

	c.logger.Info("created temp index", "temp_index", name)
	return name, nil
}

func (c *ReindexController) processPage(ctx context.Context, state domain.ReindexState) (domain.Transition, error) {
	c.extendLock(ctx)

	docs, err := c.source.List(ctx, state.Offset, domain.ReindexPageSize)
	if err != nil {
		return domain.Transition{}, fmt.Errorf("fetch page at offset %d: %w", state.Offset, err)
	}
	metrics.ReindexPages.Inc()

	records := c.extractAll(ctx, docs, state.StartTime)
	page := domain.PageResult{Fetched: len(docs), Extracted: len(records)}

	if len(records) > 0 {
		target := c.targetIndex(state)
		err := target.SaveObjects(ctx, records, true)
		metrics.ObserveIndexOperation("saveObjects", err)
		if err != nil {
			c.logger.Error("failed to save page", "index", target.Name(), "offset", state.Offset, "records", len(records), "error", err)
			page.WriteFailed = true
		}
	}

	metrics.ReindexDocuments.WithLabelValues(metrics.ResultSuccess).Add(float64(page.Succeeded()))
	metrics.ReindexDocuments.WithLabelValues(metrics.ResultError).Add(float64(page.Failed()))

	tr := domain.Step(state, page, c.replaceAll, c.now())
	if !tr.Terminal() {
		if err := c.queue.Enqueue(ctx, domain.NewFullReindexTask(tr.State)); err != nil {
			return domain.Transition{}, fmt.Errorf("enqueue next page: %w", err)
		}
		c.logger.Info("enqueued next page", "offset", tr.State.Offset,
			"success_count", tr.State.SuccessCount, "error_count", tr.State.ErrorCount)
		return tr, nil
	}

	if err := c.finalize(ctx, tr); err != nil {
		return domain.Transition{}, err
	}
	return tr, nil
}

// extractAll extracts every document of the page. Failed documents are
// logged and left out of the result.
func (c *ReindexController) extractAll(ctx context.Context, docs []*domain.Snapshot, ts time.Time) []domain.IndexRecord {
	results := make([]domain.IndexRecord, len(docs))

	var g errgroup.Group
	g.SetLimit(c.extractConcurrency)
	for i, doc := range docs {
		g.Go(func() error {
			rec, err := c.extractor.Extract(ctx, doc, ts)
			if err != nil {
				c.logger.Error("failed to extract document", "doc_id", doc.ID, "error", err)
				return nil
			}
			results[i] = rec
			return nil
		})
	}
	_ = g.Wait()

	records := make([]domain.IndexRecord, 0, len(docs))
	for _, rec := range results {
		if rec != nil {
			records = append(records, rec)
		}
	}
	return records
}

func (c *ReindexController) targetIndex(state domain.ReindexState) driven.SearchIndex {
	if c.replaceAll && state.TempIndexName != "" {
		return c.client.InitIndex(state.TempIndexName)
	}
	return c.client.InitIndex(c.indexName)
}

// finalize applies the terminal index action and writes the report.
func (c *ReindexController) finalize(ctx context.Context, tr domain.Transition) error {
	temp := tr.State.TempIndexName

	switch tr.Action {
	case domain.IndexActionSwap:
		err := c.client.CopyIndex(ctx, temp, c.indexName)
		metrics.ObserveIndexOperation("copyIndex", err)
		switch {
		case errors.Is(err, domain.ErrNotFound) && tr.State.SuccessCount == 0:
			// Nothing was written, so the temp index was never created.
			c.logger.Warn("temp index not found, nothing to promote", "temp_index", temp, "index", c.indexName)
		case err != nil:
			return fmt.Errorf("copy temp index %s to %s: %w", temp, c.indexName, err)
		default:
			c.logger.Info("promoted temp index", "temp_index", temp, "index", c.indexName)
			c.dropIndex(ctx, temp)
		}
	case domain.IndexActionDrop:
		c.dropIndex(ctx, temp)
	}

	c.logger.Info("full indexing complete",
		"status", tr.Report.Status,
		"success_count", tr.Report.SuccessCount,
		"error_count", tr.Report.ErrorCount,
		"elapsed_ms", tr.Report.Elapsed.Milliseconds(),
	)
	metrics.ReindexRuns.WithLabelValues(string(tr.Report.Status)).Inc()
	metrics.ReindexDuration.Observe(tr.Report.Elapsed.Seconds())

	// The temp index is gone by now, so the task must not be retried.
	if err := c.states.Set(ctx, tr.Report); err != nil {
		c.logger.Error("failed to set processing state", "status", tr.Report.Status, "error", err)
	}

	c.releaseLock(ctx)
	return nil
}

func (c *ReindexController) dropIndex(ctx context.Context, name string) {
	err := c.client.InitIndex(name).Delete(ctx)
	metrics.ObserveIndexOperation("deleteIndex", err)
	if err != nil {
		c.logger.Warn("failed to delete temp index", "temp_index", name, "error", err)
		return
	}
	c.logger.Info("deleted temp index", "temp_index", name)
}

func (c *ReindexController) extendLock(ctx context.Context) {
	if c.lock == nil {
		return
	}
	if err := c.lock.Extend(ctx, ReindexLockName, reindexLockTTL); err != nil {
		c.logger.Debug("reindex lock not extended", "error", err)
	}
}

func (c *ReindexController) releaseLock(ctx context.Context) {
	if c.lock == nil {
		return
	}
	if err := c.lock.Release(ctx, ReindexLockName); err != nil {
		c.logger.Warn("failed to release reindex lock", "error", err)
	}
}
