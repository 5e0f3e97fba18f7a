package domain

import (
	"encoding/json"
	"time"
)

// TestRun represents a single execution attempt over one or more test cases.
type TestRun struct {
	ID          string     `json:"id"`
	Status      RunStatus  `json:"status"`
	Trigger     Trigger    `json:"trigger"`
	CaseIDs     []string   `json:"case_ids"`
	SuiteID     string     `json:"suite_id,omitempty"`
	Owner       string     `json:"owner"`
	TotalTests  int        `json:"total_tests"`
	Passed      int        `json:"passed"`
	Failed      int        `json:"failed"`
	Errors      int        `json:"errors"`
	Skipped     int        `json:"skipped"`
	ErrorDetail string     `json:"error_detail,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Recorded returns the number of results recorded so far.
func (r *TestRun) Recorded() int {
	return r.Passed + r.Failed + r.Errors + r.Skipped
}

// Position returns the index of caseID in the run, or -1.
func (r *TestRun) Position(caseID string) int {
	for i, id := range r.CaseIDs {
		if id == caseID {
			return i
		}
	}
	return -1
}

// Count adds one result of the given outcome to the run counters.
func (r *TestRun) Count(o Outcome) {
	switch o {
	case OutcomePass:
		r.Passed++
	case OutcomeFail:
		r.Failed++
	case OutcomeError:
		r.Errors++
	case OutcomeSkipped:
		r.Skipped++
	}
}

// FinalStatus is the terminal status a run reaches once every result is in.
func (r *TestRun) FinalStatus() RunStatus {
	if r.Failed > 0 || r.Errors > 0 {
		return RunStatusFailed
	}
	return RunStatusCompleted
}

// TestResult is the outcome of one test case within a run.
type TestResult struct {
	RunID       string    `json:"run_id"`
	CaseID      string    `json:"case_id"`
	Position    int       `json:"position"`
	Outcome     Outcome   `json:"outcome"`
	DurationMs  int64     `json:"duration_ms"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	Attempts    int       `json:"attempts"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Duration returns the execution time of the case.
func (r *TestResult) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

// ResultInput carries a result reported by the execution pipeline.
type ResultInput struct {
	RunID       string        `json:"run_id"`
	CaseID      string        `json:"case_id"`
	Outcome     Outcome       `json:"outcome"`
	Duration    time.Duration `json:"duration"`
	ErrorDetail string        `json:"error_detail,omitempty"`
	Attempts    int           `json:"attempts,omitempty"`
}

// RunFilter narrows ListRuns. Zero fields match everything.
type RunFilter struct {
	Status  RunStatus
	Trigger Trigger
	Owner   string
	Limit   int
}

// RunEvent is a trace event of a run's lifecycle, kept for replay and streaming.
type RunEvent struct {
	EventID string          `json:"event_id"`
	RunID   string          `json:"run_id"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
