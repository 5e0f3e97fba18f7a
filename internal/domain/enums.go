// Package domain defines the core domain models for the test management service.
package domain

// RunStatus represents the status of a test run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Trigger represents the origin of a run request.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerAPI       Trigger = "api"
)

// Valid reports whether t is a known trigger.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerManual, TriggerScheduled, TriggerAPI:
		return true
	}
	return false
}

// Outcome is the per-case result classification.
type Outcome string

const (
	OutcomePass    Outcome = "pass"
	OutcomeFail    Outcome = "fail"
	OutcomeError   Outcome = "error"
	OutcomeSkipped Outcome = "skipped"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomePass, OutcomeFail, OutcomeError, OutcomeSkipped:
		return true
	}
	return false
}

// Failing reports whether o makes the owning run fail.
func (o Outcome) Failing() bool {
	return o == OutcomeFail || o == OutcomeError
}

// EventType represents the type of a run event.
type EventType string

const (
	EventTypeRunCreated     EventType = "run_created"
	EventTypeRunStarted     EventType = "run_started"
	EventTypeResultRecorded EventType = "result_recorded"
	EventTypeRunCompleted   EventType = "run_completed"
	EventTypeRunFailed      EventType = "run_failed"
	EventTypeRunCancelled   EventType = "run_cancelled"
)

// CaseStatus is the catalog status of a test case.
type CaseStatus string

const (
	CaseStatusActive     CaseStatus = "active"
	CaseStatusInactive   CaseStatus = "inactive"
	CaseStatusDeprecated CaseStatus = "deprecated"
)

// Valid reports whether s is a known case status.
func (s CaseStatus) Valid() bool {
	switch s {
	case CaseStatusActive, CaseStatusInactive, CaseStatusDeprecated:
		return true
	}
	return false
}

// Priority of a test case.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}
