package domain

import (
	"fmt"
	"strconv"
	"time"
)

// ReindexPageSize is the number of documents processed per reindex invocation
const ReindexPageSize = 250

// Payload keys for a full reindex task
const (
	payloadOffset        = "offset"
	payloadSuccessCount  = "successCount"
	payloadErrorCount    = "errorCount"
	payloadStartTime     = "startTime"
	payloadTempIndexName = "tempIndexName"
)

// ReindexState is the checkpoint threaded through successive reindex
// invocations. It lives only in the task payload.
type ReindexState struct {
	Offset        int       `json:"offset"`
	SuccessCount  int       `json:"successCount"`
	ErrorCount    int       `json:"errorCount"`
	StartTime     time.Time `json:"startTime"`
	TempIndexName string    `json:"tempIndexName,omitempty"`
}

// NewReindexState returns the state of a run that has not fetched anything yet.
func NewReindexState(now time.Time) ReindexState {
	return ReindexState{StartTime: now}
}

// IsFirstInvocation reports whether the temp index bootstrap has not run yet.
func (s ReindexState) IsFirstInvocation() bool {
	return s.TempIndexName == ""
}

// Payload encodes the state as a task payload.
func (s ReindexState) Payload() map[string]string {
	p := map[string]string{
		payloadOffset:       strconv.Itoa(s.Offset),
		payloadSuccessCount: strconv.Itoa(s.SuccessCount),
		payloadErrorCount:   strconv.Itoa(s.ErrorCount),
		payloadStartTime:    strconv.FormatInt(s.StartTime.UnixMilli(), 10),
	}
	if s.TempIndexName != "" {
		p[payloadTempIndexName] = s.TempIndexName
	}
	return p
}

// ReindexStateFromPayload decodes a task payload. Missing keys take their
// defaults: zero counters, now as the start time, no temp index.
func ReindexStateFromPayload(p map[string]string, now time.Time) (ReindexState, error) {
	state := NewReindexState(now)

	var err error
	if state.Offset, err = payloadInt(p, payloadOffset); err != nil {
		return ReindexState{}, err
	}
	if state.SuccessCount, err = payloadInt(p, payloadSuccessCount); err != nil {
		return ReindexState{}, err
	}
	if state.ErrorCount, err = payloadInt(p, payloadErrorCount); err != nil {
		return ReindexState{}, err
	}

	if v := p[payloadStartTime]; v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return ReindexState{}, fmt.Errorf("%w: %s: %v", ErrInvalidInput, payloadStartTime, err)
		}
		state.StartTime = time.UnixMilli(ms)
	}
	state.TempIndexName = p[payloadTempIndexName]

	return state, nil
}

func payloadInt(p map[string]string, key string) (int, error) {
	v := p[key]
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidInput, key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", ErrInvalidInput, key)
	}
	return n, nil
}

// TempIndexName builds the staging index name for a replace-all run.
func TempIndexName(indexName, suffix string) string {
	return fmt.Sprintf("%s_tmp_%s", indexName, suffix)
}

// ReindexPhase is the state machine position after a step
type ReindexPhase string

const (
	ReindexPhaseRunning  ReindexPhase = "running"
	ReindexPhaseComplete ReindexPhase = "complete"
	ReindexPhaseWarning  ReindexPhase = "warning"
	ReindexPhaseFailed   ReindexPhase = "failed"
)

// IndexAction is the index-store side effect of a terminal step
type IndexAction string

const (
	IndexActionNone IndexAction = "none"
	// IndexActionSwap copies the temp index over production, then deletes it
	IndexActionSwap IndexAction = "swap"
	// IndexActionDrop deletes the temp index without promoting it
	IndexActionDrop IndexAction = "drop"
)

// PageResult summarizes one processed page
type PageResult struct {
	// Fetched is the number of documents the page query returned
	Fetched int
	// Extracted is the number of documents that produced a record
	Extracted int
	// WriteFailed is set when the batch write of the page failed
	WriteFailed bool
}

// Succeeded is the number of documents credited as indexed.
func (p PageResult) Succeeded() int {
	if p.WriteFailed {
		return 0
	}
	return p.Extracted
}

// Failed is the number of documents counted as errors.
func (p PageResult) Failed() int {
	return p.Fetched - p.Succeeded()
}

// Transition is the outcome of applying one page to a reindex state
type Transition struct {
	Phase ReindexPhase
	// State is the continuation payload when running, or the final
	// accumulated counts when terminal
	State  ReindexState
	Action IndexAction
	// Report is set for terminal phases only
	Report *ProcessingState
}

// Terminal reports whether the run is over.
func (t Transition) Terminal() bool {
	return t.Phase != ReindexPhaseRunning
}

// Step applies a processed page to the state. It is pure: the caller
// performs the enqueue, swap or drop the transition describes.
func Step(state ReindexState, page PageResult, replaceAll bool, now time.Time) Transition {
	next := state
	next.SuccessCount += page.Succeeded()
	next.ErrorCount += page.Failed()

	if page.Fetched >= ReindexPageSize {
		next.Offset = state.Offset + ReindexPageSize
		return Transition{
			Phase:  ReindexPhaseRunning,
			State:  next,
			Action: IndexActionNone,
		}
	}

	elapsed := now.Sub(state.StartTime)
	staged := replaceAll && state.TempIndexName != ""

	t := Transition{State: next, Action: IndexActionNone}
	switch {
	case next.ErrorCount == 0:
		t.Phase = ReindexPhaseComplete
		t.Report = &ProcessingState{
			Status:  ProcessingStatusComplete,
			Message: fmt.Sprintf("Successfully indexed %d documents in %dms.", next.SuccessCount, elapsed.Milliseconds()),
		}
		if staged {
			t.Action = IndexActionSwap
		}
	case next.SuccessCount > 0:
		t.Phase = ReindexPhaseWarning
		t.Report = &ProcessingState{
			Status:  ProcessingStatusWarning,
			Message: partialMessage(next, elapsed),
		}
		if staged {
			t.Action = IndexActionSwap
		}
	default:
		t.Phase = ReindexPhaseFailed
		t.Report = &ProcessingState{
			Status:  ProcessingStatusFailed,
			Message: partialMessage(next, elapsed),
		}
		if staged {
			t.Action = IndexActionDrop
		}
	}

	t.Report.SuccessCount = next.SuccessCount
	t.Report.ErrorCount = next.ErrorCount
	t.Report.Elapsed = elapsed
	t.Report.UpdatedAt = now
	return t
}

// Abandon ends a run whose page could not be processed within the retry
// budget. The report carries the counts accumulated before the failed page.
func Abandon(state ReindexState, replaceAll bool, cause error, now time.Time) Transition {
	elapsed := now.Sub(state.StartTime)

	t := Transition{
		Phase:  ReindexPhaseFailed,
		State:  state,
		Action: IndexActionNone,
		Report: &ProcessingState{
			Status: ProcessingStatusFailed,
			Message: fmt.Sprintf("Full indexing stopped at offset %d after %d documents, %d errors in %dms: %v",
				state.Offset, state.SuccessCount, state.ErrorCount, elapsed.Milliseconds(), cause),
			SuccessCount: state.SuccessCount,
			ErrorCount:   state.ErrorCount,
			Elapsed:      elapsed,
			UpdatedAt:    now,
		},
	}
	if replaceAll && state.TempIndexName != "" {
		t.Action = IndexActionDrop
	}
	return t
}

func partialMessage(s ReindexState, elapsed time.Duration) string {
	return fmt.Sprintf("Successfully indexed %d documents, %d errors in %dms. See function logs for specific error messages.",
		s.SuccessCount, s.ErrorCount, elapsed.Milliseconds())
}

// ProcessingStatus is the operator-facing terminal status of a reindex run
type ProcessingStatus string

const (
	ProcessingStatusComplete ProcessingStatus = "PROCESSING_COMPLETE"
	ProcessingStatusWarning  ProcessingStatus = "PROCESSING_WARNING"
	ProcessingStatusFailed   ProcessingStatus = "PROCESSING_FAILED"
)

// ProcessingState is the report written once per full reindex run
type ProcessingState struct {
	Status       ProcessingStatus `json:"status"`
	Message      string           `json:"message"`
	SuccessCount int              `json:"success_count"`
	ErrorCount   int              `json:"error_count"`
	Elapsed      time.Duration    `json:"elapsed"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// DisabledReindexState is reported when full indexing is turned off.
func DisabledReindexState(now time.Time) *ProcessingState {
	return &ProcessingState{
		Status: ProcessingStatusComplete,
		Message: `Existing documents were not indexed because "Indexing existing documents?" is configured to false. ` +
			"If you want to run a full reindex, reconfigure this instance.",
		UpdatedAt: now,
	}
}
