package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/indexsync/internal/core/domain"
	"github.com/custodia-labs/indexsync/internal/core/ports/driven"
	"github.com/custodia-labs/indexsync/internal/core/ports/driven/mocks"
)

var reindexStart = time.UnixMilli(1_700_000_000_000)

const tempIndex = testIndex + "_tmp_fixed"

type reindexFixture struct {
	controller *ReindexController
	search     *mocks.MockSearchClient
	extractor  *mocks.MockExtractor
	source     *mocks.MockDocumentSource
	queue      *mocks.MockTaskQueue
	states     *mocks.MockProcessingStateStore
	lock       *mocks.MockDistributedLock
}

func createTestReindexController(t *testing.T, mutate func(*ReindexControllerConfig)) *reindexFixture {
	t.Helper()

	f := &reindexFixture{
		search:    mocks.NewMockSearchClient(),
		extractor: mocks.NewMockExtractor(),
		source:    mocks.NewMockDocumentSource(),
		queue:     mocks.NewMockTaskQueue(),
		states:    mocks.NewMockProcessingStateStore(),
		lock:      mocks.NewMockDistributedLock(),
	}
	cfg := ReindexControllerConfig{
		Client:     f.search,
		IndexName:  testIndex,
		Extractor:  f.extractor,
		Source:     f.source,
		Queue:      f.queue,
		States:     f.states,
		Lock:       f.lock,
		Enabled:    true,
		Now:        func() time.Time { return reindexStart },
		SuffixFunc: func() string { return "fixed" },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.controller = NewReindexController(cfg)
	return f
}

func (f *reindexFixture) seed(n int) {
	for i := 0; i < n; i++ {
		f.source.Put(fmt.Sprintf("doc-%04d", i), map[string]any{"n": float64(i)})
	}
}

// runToCompletion triggers a run and processes tasks until the queue is empty.
func (f *reindexFixture) runToCompletion(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	_, err := f.controller.Trigger(ctx)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		task, err := f.queue.DequeueWithTimeout(ctx, 0)
		require.NoError(t, err)
		if task == nil {
			return
		}
		require.NoError(t, f.controller.RunTask(ctx, task))
		require.NoError(t, f.queue.Ack(ctx, task.ID))
	}
	t.Fatal("reindex did not terminate")
}

func (f *reindexFixture) report(t *testing.T) *domain.ProcessingState {
	t.Helper()
	history := f.states.History()
	require.Len(t, history, 1, "exactly one report per run")
	return history[0]
}

func TestReindex_PaginatesFiveHundredDocuments(t *testing.T) {
	f := createTestReindexController(t, nil)
	f.seed(500)

	f.runToCompletion(t)

	assert.Equal(t, []mocks.ListCall{
		{Offset: 0, Limit: 250},
		{Offset: 250, Limit: 250},
		{Offset: 500, Limit: 250},
	}, f.source.ListCalls())

	report := f.report(t)
	assert.Equal(t, domain.ProcessingStatusComplete, report.Status)
	assert.Equal(t, 500, report.SuccessCount)
	assert.Equal(t, 0, report.ErrorCount)
	assert.Equal(t, "Successfully indexed 500 documents in 0ms.", report.Message)
	assert.Equal(t, 500, f.search.Count(testIndex))
	assert.Len(t, f.queue.Acked(), 3)
}

func TestReindex_SinglePartialPage(t *testing.T) {
	f := createTestReindexController(t, nil)
	f.seed(42)

	f.runToCompletion(t)

	assert.Len(t, f.source.ListCalls(), 1)
	assert.Equal(t, 42, f.report(t).SuccessCount)
	assert.Empty(t, f.search.CallsTo(mocks.OpCopyIndex))
}

func TestReindex_RecordsCarryRunStartTime(t *testing.T) {
	f := createTestReindexController(t, nil)
	f.seed(1)

	f.runToCompletion(t)

	rec := f.search.Object(testIndex, "doc-0000")
	require.NotNil(t, rec)
	assert.Equal(t, reindexStart.UnixMilli(), rec[domain.UpdatedAtField])
}

func TestReindex_ReplaceAllSwapsTempIndex(t *testing.T) {
	f := createTestReindexController(t, func(cfg *ReindexControllerConfig) {
		cfg.ReplaceAll = true
	})
	f.seed(300)
	f.search.Seed(testIndex, domain.IndexRecord{domain.ObjectIDField: "stale"})

	f.runToCompletion(t)

	copies := f.search.CallsTo(mocks.OpCopyIndex)
	require.Len(t, copies, 2)
	assert.Equal(t, testIndex, copies[0].Index)
	assert.Equal(t, tempIndex, copies[0].Destination)
	assert.ElementsMatch(t, []driven.CopyScope{driven.CopyScopeSettings, driven.CopyScopeSynonyms, driven.CopyScopeRules}, copies[0].Scopes)
	assert.Equal(t, tempIndex, copies[1].Index)
	assert.Equal(t, testIndex, copies[1].Destination)
	assert.Empty(t, copies[1].Scopes)

	// Production only ever receives the final copy.
	prodWrites := f.search.WritesTo(testIndex)
	require.Len(t, prodWrites, 1)
	assert.Equal(t, mocks.OpCopyIndex, prodWrites[0].Op)

	assert.Len(t, f.search.CallsTo(mocks.OpSaveObjects), 2)
	for _, c := range f.search.CallsTo(mocks.OpSaveObjects) {
		assert.Equal(t, tempIndex, c.Index)
	}

	assert.False(t, f.search.IndexExists(tempIndex), "temp index deleted after swap")
	assert.Equal(t, 300, f.search.Count(testIndex))
	assert.Nil(t, f.search.Object(testIndex, "stale"))
	assert.Equal(t, domain.ProcessingStatusComplete, f.report(t).Status)
}

func TestReindex_ContinuationCarriesState(t *testing.T) {
	f := createTestReindexController(t, func(cfg *ReindexControllerConfig) {
		cfg.ReplaceAll = true
	})
	f.seed(260)
	f.extractor.Fail("doc-0003")
	ctx := context.Background()

	tr, err := f.controller.Run(ctx, domain.NewReindexState(reindexStart))
	require.NoError(t, err)
	assert.Equal(t, domain.ReindexPhaseRunning, tr.Phase)

	pending := f.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, domain.TaskTypeFullReindex, pending[0].Type)
	assert.Equal(t, domain.DefaultTaskQueue, pending[0].Queue)

	next, err := pending[0].ReindexState(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 250, next.Offset)
	assert.Equal(t, 249, next.SuccessCount)
	assert.Equal(t, 1, next.ErrorCount)
	assert.True(t, next.StartTime.Equal(reindexStart))
	assert.Equal(t, tempIndex, next.TempIndexName)
	assert.Empty(t, f.states.History())
}

func TestReindex_ExtractionFailuresProduceWarning(t *testing.T) {
	f := createTestReindexController(t, func(cfg *ReindexControllerConfig) {
		cfg.ReplaceAll = true
	})
	f.seed(10)
	f.extractor.Fail("doc-0001", "doc-0007")

	f.runToCompletion(t)

	report := f.report(t)
	assert.Equal(t, domain.ProcessingStatusWarning, report.Status)
	assert.Equal(t, 8, report.SuccessCount)
	assert.Equal(t, 2, report.ErrorCount)
	assert.Equal(t, "Successfully indexed 8 documents, 2 errors in 0ms. See function logs for specific error messages.", report.Message)

	// Partial success still promotes the temp index.
	assert.Equal(t, 8, f.search.Count(testIndex))
	assert.False(t, f.search.IndexExists(tempIndex))
}

func TestReindex_AllErrorsDropTempIndex(t *testing.T) {
	f := createTestReindexController(t, func(cfg *ReindexControllerConfig) {
		cfg.ReplaceAll = true
	})
	f.seed(3)
	f.search.Seed(testIndex, domain.IndexRecord{domain.ObjectIDField: "live"})
	f.extractor.Fail("doc-0000", "doc-0001", "doc-0002")

	f.runToCompletion(t)

	report := f.report(t)
	assert.Equal(t, domain.ProcessingStatusFailed, report.Status)
	assert.Equal(t, 3, report.ErrorCount)

	copies := f.search.CallsTo(mocks.OpCopyIndex)
	require.Len(t, copies, 1, "only the settings bootstrap copy")
	assert.Equal(t, tempIndex, copies[0].Destination)

	drops := f.search.CallsTo(mocks.OpDeleteIndex)
	require.Len(t, drops, 1)
	assert.Equal(t, tempIndex, drops[0].Index)
	assert.NotNil(t, f.search.Object(testIndex, "live"), "production untouched")
}

func TestReindex_WriteFailureCountsPageAsErrors(t *testing.T) {
	f := createTestReindexController(t, nil)
	f.seed(4)
	f.search.ErrFor[mocks.OpSaveObjects] = errors.New("413 request too large")

	f.runToCompletion(t)

	report := f.report(t)
	assert.Equal(t, domain.ProcessingStatusFailed, report.Status)
	assert.Equal(t, 0, report.SuccessCount)
	assert.Equal(t, 4, report.ErrorCount)
}

func TestReindex_Disabled(t *testing.T) {
	f := createTestReindexController(t, func(cfg *ReindexControllerConfig) {
		cfg.Enabled = false
	})
	f.seed(10)

	f.runToCompletion(t)

	report := f.report(t)
	assert.Equal(t, domain.ProcessingStatusComplete, report.Status)
	assert.Contains(t, report.Message, "were not indexed")
	assert.Empty(t, f.source.ListCalls())
	assert.Empty(t, f.search.Calls())
	assert.False(t, f.lock.IsHeld(ReindexLockName))
}

func TestReindex_TriggerRejectsConcurrentRun(t *testing.T) {
	f := createTestReindexController(t, nil)
	ctx := context.Background()

	_, err := f.controller.Trigger(ctx)
	require.NoError(t, err)

	_, err = f.controller.Trigger(ctx)
	assert.ErrorIs(t, err, domain.ErrReindexInProgress)
	assert.Len(t, f.queue.Pending(), 1)
}

func TestReindex_LockLifecycle(t *testing.T) {
	f := createTestReindexController(t, nil)
	f.seed(600)

	f.runToCompletion(t)

	assert.Equal(t, 3, f.lock.ExtendCalls)
	assert.Equal(t, 1, f.lock.ReleaseCalls)
	assert.False(t, f.lock.IsHeld(ReindexLockName))
}

func TestReindex_TriggerEnqueueFailureReleasesLock(t *testing.T) {
	f := createTestReindexController(t, nil)
	f.queue.EnqueueErr = errors.New("redis down")

	_, err := f.controller.Trigger(context.Background())

	require.Error(t, err)
	assert.False(t, f.lock.IsHeld(ReindexLockName))
}

func TestReindex_PageFetchErrorIsRetryable(t *testing.T) {
	f := createTestReindexController(t, func(cfg *ReindexControllerConfig) {
		cfg.ReplaceAll = true
	})
	f.source.ListErr = errors.New("connection reset")

	_, err := f.controller.Run(context.Background(), domain.NewReindexState(reindexStart))

	require.Error(t, err)
	assert.Empty(t, f.queue.Pending())
	assert.Empty(t, f.states.History())

	drops := f.search.CallsTo(mocks.OpDeleteIndex)
	require.Len(t, drops, 1, "temp index created by the failed invocation is dropped")
	assert.Equal(t, tempIndex, drops[0].Index)
}

// failUntilExhausted runs every pending task against the controller and
// nacks it, until the queue gives up.
func (f *reindexFixture) failUntilExhausted(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		task, err := f.queue.DequeueWithTimeout(ctx, 0)
		require.NoError(t, err)
		if task == nil {
			return
		}
		err = f.controller.RunTask(ctx, task)
		require.Error(t, err)
		require.NoError(t, f.queue.Nack(ctx, task.ID, err.Error()))
	}
	t.Fatal("task was never given up")
}

func TestReindex_ExhaustedRetriesReportFailure(t *testing.T) {
	f := createTestReindexController(t, func(cfg *ReindexControllerConfig) {
		cfg.ReplaceAll = true
	})
	f.seed(300)
	ctx := context.Background()

	task, err := f.controller.Trigger(ctx)
	require.NoError(t, err)
	first, err := f.queue.DequeueWithTimeout(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, task.ID, first.ID)
	require.NoError(t, f.controller.RunTask(ctx, first))
	require.NoError(t, f.queue.Ack(ctx, first.ID))
	require.True(t, f.search.IndexExists(tempIndex))

	f.source.ListErr = errors.New("connection reset")
	next := f.queue.Pending()
	require.Len(t, next, 1)

	f.failUntilExhausted(t)

	assert.Len(t, f.queue.Nacked(), next[0].MaxAttempts)
	failed, err := f.queue.GetTask(ctx, next[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, failed.Status)

	report := f.report(t)
	assert.Equal(t, domain.ProcessingStatusFailed, report.Status)
	assert.Equal(t, 250, report.SuccessCount)
	assert.Equal(t, 0, report.ErrorCount)
	assert.Contains(t, report.Message, "connection reset")

	assert.False(t, f.search.IndexExists(tempIndex), "temp index is dropped")
	assert.False(t, f.search.IndexExists(testIndex), "production index is untouched")
	assert.False(t, f.lock.IsHeld(ReindexLockName))
}

func TestReindex_RetriesKeepRunOpen(t *testing.T) {
	f := createTestReindexController(t, nil)
	f.source.ListErr = errors.New("connection reset")
	ctx := context.Background()

	_, err := f.controller.Trigger(ctx)
	require.NoError(t, err)
	task, err := f.queue.DequeueWithTimeout(ctx, 0)
	require.NoError(t, err)

	require.Error(t, f.controller.RunTask(ctx, task))

	assert.Empty(t, f.states.History())
	assert.True(t, f.lock.IsHeld(ReindexLockName))

	require.NoError(t, f.queue.Nack(ctx, task.ID, "connection reset"))
	f.failUntilExhausted(t)

	report := f.report(t)
	assert.Equal(t, domain.ProcessingStatusFailed, report.Status)
	assert.Equal(t, 0, report.SuccessCount)
	assert.Empty(t, f.search.CallsTo(mocks.OpDeleteIndex))
	assert.False(t, f.lock.IsHeld(ReindexLockName))
}

func TestReindex_EmptyReplaceAllWithoutProductionIndex(t *testing.T) {
	f := createTestReindexController(t, func(cfg *ReindexControllerConfig) {
		cfg.ReplaceAll = true
	})
	f.search.StrictCopy = true

	f.runToCompletion(t)

	report := f.report(t)
	assert.Equal(t, domain.ProcessingStatusComplete, report.Status)
	assert.Equal(t, 0, report.SuccessCount)
	assert.Len(t, f.search.CallsTo(mocks.OpCopyIndex), 2, "settings copy and swap are both attempted")
	assert.Empty(t, f.search.CallsTo(mocks.OpDeleteIndex))
	assert.False(t, f.search.IndexExists(testIndex))
	assert.False(t, f.lock.IsHeld(ReindexLockName))
}

func TestReindex_SwapNotFoundAfterWritesIsRetryable(t *testing.T) {
	f := createTestReindexController(t, func(cfg *ReindexControllerConfig) {
		cfg.ReplaceAll = true
	})
	f.seed(2)
	state := domain.ReindexState{StartTime: reindexStart, TempIndexName: tempIndex}
	f.search.ErrFor[mocks.OpCopyIndex] = domain.ErrNotFound

	_, err := f.controller.Run(context.Background(), state)

	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.states.History())
}

func TestReindex_EnqueueFailureIsRetryable(t *testing.T) {
	f := createTestReindexController(t, nil)
	f.seed(250)
	f.queue.EnqueueErr = errors.New("redis down")

	state := domain.NewReindexState(reindexStart)
	_, err := f.controller.Run(context.Background(), state)

	require.Error(t, err)
	assert.Empty(t, f.states.History())
}

func TestReindex_SwapFailureIsRetryable(t *testing.T) {
	f := createTestReindexController(t, func(cfg *ReindexControllerConfig) {
		cfg.ReplaceAll = true
	})
	f.seed(2)
	state := domain.ReindexState{StartTime: reindexStart, TempIndexName: tempIndex}
	f.search.ErrFor[mocks.OpCopyIndex] = errors.New("500")

	_, err := f.controller.Run(context.Background(), state)

	require.Error(t, err)
	assert.Empty(t, f.states.History())
	assert.Empty(t, f.search.CallsTo(mocks.OpDeleteIndex))
}

func TestReindex_ReportWriteFailureDoesNotRetry(t *testing.T) {
	f := createTestReindexController(t, nil)
	f.seed(2)
	f.states.SetErr = errors.New("db down")

	tr, err := f.controller.Run(context.Background(), domain.NewReindexState(reindexStart))

	require.NoError(t, err)
	assert.Equal(t, domain.ReindexPhaseComplete, tr.Phase)
}

func TestReindex_RunTaskRejectsOtherTypes(t *testing.T) {
	f := createTestReindexController(t, nil)
	task := domain.NewTask("something_else", "q", nil)

	err := f.controller.RunTask(context.Background(), task)

	assert.ErrorIs(t, err, domain.ErrUnknownTaskType)
}

func TestReindex_RunTaskRejectsBadPayload(t *testing.T) {
	f := createTestReindexController(t, nil)
	task := domain.NewTask(domain.TaskTypeFullReindex, domain.DefaultTaskQueue, map[string]string{"offset": "abc"})

	err := f.controller.RunTask(context.Background(), task)

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, f.source.ListCalls())
}

func TestReindex_Status(t *testing.T) {
	f := createTestReindexController(t, nil)
	ctx := context.Background()

	_, err := f.controller.Status(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.seed(1)
	f.runToCompletion(t)

	state, err := f.controller.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingStatusComplete, state.Status)
}
