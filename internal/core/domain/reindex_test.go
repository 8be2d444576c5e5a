package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestReindexState_PayloadDefaults(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	state, err := ReindexStateFromPayload(nil, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Offset != 0 || state.SuccessCount != 0 || state.ErrorCount != 0 {
		t.Errorf("expected zero counters, got %+v", state)
	}
	if !state.StartTime.Equal(now) {
		t.Errorf("expected start time to default to now, got %v", state.StartTime)
	}
	if !state.IsFirstInvocation() {
		t.Error("expected first invocation without temp index")
	}
}

func TestReindexStateFromPayload_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]string
	}{
		{"non-numeric offset", map[string]string{"offset": "abc"}},
		{"negative offset", map[string]string{"offset": "-250"}},
		{"negative errors", map[string]string{"errorCount": "-1"}},
		{"bad start time", map[string]string{"startTime": "yesterday"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReindexStateFromPayload(tt.payload, time.Now())
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestReindexState_PayloadOmitsEmptyTempIndex(t *testing.T) {
	p := NewReindexState(time.Now()).Payload()
	if _, ok := p["tempIndexName"]; ok {
		t.Error("expected no tempIndexName key")
	}
	if p["offset"] != "0" {
		t.Errorf("expected offset 0, got %q", p["offset"])
	}
}

func TestTempIndexName(t *testing.T) {
	if got := TempIndexName("products", "ab12"); got != "products_tmp_ab12" {
		t.Errorf("expected products_tmp_ab12, got %s", got)
	}
}

func TestPageResult(t *testing.T) {
	page := PageResult{Fetched: 250, Extracted: 240}
	if page.Succeeded() != 240 || page.Failed() != 10 {
		t.Errorf("unexpected counts: %d/%d", page.Succeeded(), page.Failed())
	}

	page.WriteFailed = true
	if page.Succeeded() != 0 || page.Failed() != 250 {
		t.Errorf("expected write failure to fail the page, got %d/%d", page.Succeeded(), page.Failed())
	}
}

func TestStep_FullPageContinues(t *testing.T) {
	start := time.UnixMilli(1_000)
	state := ReindexState{Offset: 250, SuccessCount: 250, StartTime: start, TempIndexName: "idx_tmp_x"}

	tr := Step(state, PageResult{Fetched: 250, Extracted: 250}, true, start.Add(time.Second))

	if tr.Terminal() {
		t.Fatal("expected running transition")
	}
	if tr.State.Offset != 500 {
		t.Errorf("expected offset 500, got %d", tr.State.Offset)
	}
	if tr.State.SuccessCount != 500 {
		t.Errorf("expected success count 500, got %d", tr.State.SuccessCount)
	}
	if !tr.State.StartTime.Equal(start) || tr.State.TempIndexName != "idx_tmp_x" {
		t.Error("expected start time and temp index to carry over")
	}
	if tr.Action != IndexActionNone || tr.Report != nil {
		t.Error("expected no side effects while running")
	}
}

func TestStep_FiveHundredDocumentsTerminatesOnThirdFetch(t *testing.T) {
	start := time.UnixMilli(0)
	state := NewReindexState(start)
	remaining := 500
	var offsets []int

	for i := 0; i < 10; i++ {
		offsets = append(offsets, state.Offset)
		fetched := min(remaining-state.Offset, ReindexPageSize)
		tr := Step(state, PageResult{Fetched: fetched, Extracted: fetched}, false, start)
		if tr.Terminal() {
			if tr.Phase != ReindexPhaseComplete {
				t.Errorf("expected complete, got %s", tr.Phase)
			}
			if tr.State.SuccessCount != 500 {
				t.Errorf("expected 500 successes, got %d", tr.State.SuccessCount)
			}
			break
		}
		state = tr.State
	}

	// Page 3 at offset 500 returns zero documents and terminates.
	want := []int{0, 250, 500}
	if len(offsets) != len(want) {
		t.Fatalf("expected offsets %v, got %v", want, offsets)
	}
	for i := range want {
		if offsets[i] != want[i] {
			t.Errorf("expected offsets %v, got %v", want, offsets)
		}
	}
}

func TestStep_Terminal(t *testing.T) {
	start := time.UnixMilli(10_000)
	now := start.Add(1500 * time.Millisecond)

	tests := []struct {
		name       string
		state      ReindexState
		page       PageResult
		replaceAll bool
		phase      ReindexPhase
		status     ProcessingStatus
		action     IndexAction
		message    string
	}{
		{
			name:       "complete with swap",
			state:      ReindexState{Offset: 250, SuccessCount: 250, StartTime: start, TempIndexName: "p_tmp_1"},
			page:       PageResult{Fetched: 10, Extracted: 10},
			replaceAll: true,
			phase:      ReindexPhaseComplete,
			status:     ProcessingStatusComplete,
			action:     IndexActionSwap,
			message:    "Successfully indexed 260 documents in 1500ms.",
		},
		{
			name:    "complete in place",
			state:   ReindexState{StartTime: start},
			page:    PageResult{Fetched: 3, Extracted: 3},
			phase:   ReindexPhaseComplete,
			status:  ProcessingStatusComplete,
			action:  IndexActionNone,
			message: "Successfully indexed 3 documents in 1500ms.",
		},
		{
			name:       "extraction failures produce warning",
			state:      ReindexState{StartTime: start, TempIndexName: "p_tmp_1"},
			page:       PageResult{Fetched: 10, Extracted: 8},
			replaceAll: true,
			phase:      ReindexPhaseWarning,
			status:     ProcessingStatusWarning,
			action:     IndexActionSwap,
			message:    "Successfully indexed 8 documents, 2 errors in 1500ms. See function logs for specific error messages.",
		},
		{
			name:       "all errors drop the temp index",
			state:      ReindexState{StartTime: start, TempIndexName: "p_tmp_1"},
			page:       PageResult{Fetched: 5, Extracted: 0},
			replaceAll: true,
			phase:      ReindexPhaseFailed,
			status:     ProcessingStatusFailed,
			action:     IndexActionDrop,
			message:    "Successfully indexed 0 documents, 5 errors in 1500ms. See function logs for specific error messages.",
		},
		{
			name:    "all errors without temp index",
			state:   ReindexState{StartTime: start},
			page:    PageResult{Fetched: 5, Extracted: 5, WriteFailed: true},
			phase:   ReindexPhaseFailed,
			status:  ProcessingStatusFailed,
			action:  IndexActionNone,
			message: "Successfully indexed 0 documents, 5 errors in 1500ms. See function logs for specific error messages.",
		},
		{
			name:       "earlier errors carried into final page",
			state:      ReindexState{Offset: 250, SuccessCount: 200, ErrorCount: 50, StartTime: start, TempIndexName: "p_tmp_1"},
			page:       PageResult{},
			replaceAll: true,
			phase:      ReindexPhaseWarning,
			status:     ProcessingStatusWarning,
			action:     IndexActionSwap,
			message:    "Successfully indexed 200 documents, 50 errors in 1500ms. See function logs for specific error messages.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := Step(tt.state, tt.page, tt.replaceAll, now)

			if !tr.Terminal() {
				t.Fatal("expected terminal transition")
			}
			if tr.Phase != tt.phase {
				t.Errorf("expected phase %s, got %s", tt.phase, tr.Phase)
			}
			if tr.Action != tt.action {
				t.Errorf("expected action %s, got %s", tt.action, tr.Action)
			}
			if tr.Report == nil {
				t.Fatal("expected report")
			}
			if tr.Report.Status != tt.status {
				t.Errorf("expected status %s, got %s", tt.status, tr.Report.Status)
			}
			if tr.Report.Message != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, tr.Report.Message)
			}
			if tr.Report.Elapsed != 1500*time.Millisecond {
				t.Errorf("expected elapsed 1.5s, got %v", tr.Report.Elapsed)
			}
			if tr.Report.SuccessCount != tr.State.SuccessCount || tr.Report.ErrorCount != tr.State.ErrorCount {
				t.Error("expected report counts to match final state")
			}
		})
	}
}

func TestDisabledReindexState(t *testing.T) {
	state := DisabledReindexState(time.Now())
	if state.Status != ProcessingStatusComplete {
		t.Errorf("expected complete, got %s", state.Status)
	}
	if !strings.Contains(state.Message, "configured to false") {
		t.Errorf("unexpected message: %s", state.Message)
	}
}

func TestAbandon(t *testing.T) {
	start := time.UnixMilli(10_000)
	now := start.Add(3 * time.Second)
	cause := errors.New("source unavailable")

	tests := []struct {
		name       string
		state      ReindexState
		replaceAll bool
		wantAction IndexAction
	}{
		{"in place", ReindexState{Offset: 250, SuccessCount: 250, StartTime: start}, false, IndexActionNone},
		{"staged", ReindexState{Offset: 250, SuccessCount: 249, ErrorCount: 1, StartTime: start, TempIndexName: "products_tmp_x"}, true, IndexActionDrop},
		{"temp index without replace all", ReindexState{StartTime: start, TempIndexName: "products_tmp_x"}, false, IndexActionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := Abandon(tt.state, tt.replaceAll, cause, now)
			if tr.Phase != ReindexPhaseFailed || !tr.Terminal() {
				t.Errorf("expected failed terminal phase, got %s", tr.Phase)
			}
			if tr.Action != tt.wantAction {
				t.Errorf("expected action %s, got %s", tt.wantAction, tr.Action)
			}
			if tr.Report.Status != ProcessingStatusFailed {
				t.Errorf("expected failed report, got %s", tr.Report.Status)
			}
			if tr.Report.SuccessCount != tt.state.SuccessCount || tr.Report.ErrorCount != tt.state.ErrorCount {
				t.Errorf("expected counts from state, got %+v", tr.Report)
			}
			if tr.Report.Elapsed != 3*time.Second || !tr.Report.UpdatedAt.Equal(now) {
				t.Errorf("unexpected timing: %+v", tr.Report)
			}
			if !strings.Contains(tr.Report.Message, "source unavailable") {
				t.Errorf("expected cause in message: %s", tr.Report.Message)
			}
		})
	}
}
