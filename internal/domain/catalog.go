package domain

import "time"

// TestSuite is a named, ordered group of test cases.
type TestSuite struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Category    string    `json:"category" yaml:"category"`
	Enabled     bool      `json:"enabled" yaml:"enabled"`
	TestCount   int       `json:"test_count" yaml:"-"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
}

// TestCase is a single executable test definition.
type TestCase struct {
	ID           string     `json:"id" yaml:"id"`
	SuiteID      string     `json:"suite_id" yaml:"-"`
	Name         string     `json:"name" yaml:"name"`
	Description  string     `json:"description,omitempty" yaml:"description,omitempty"`
	FilePath     string     `json:"file_path,omitempty" yaml:"file_path,omitempty"`
	FunctionName string     `json:"function_name,omitempty" yaml:"function_name,omitempty"`
	Priority     Priority   `json:"priority" yaml:"priority,omitempty"`
	Timeout      int        `json:"timeout" yaml:"timeout,omitempty"` // seconds
	Status       CaseStatus `json:"status" yaml:"status,omitempty"`
	CreatedAt    time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time  `json:"updated_at" yaml:"-"`
}

// CaseFilter narrows test case listings.
type CaseFilter struct {
	SuiteID string
	Status  CaseStatus
}

// TestCaseUpdate is a partial update of a test case; nil fields are left unchanged.
type TestCaseUpdate struct {
	SuiteID      *string     `json:"suite_id,omitempty"`
	Name         *string     `json:"name,omitempty"`
	Description  *string     `json:"description,omitempty"`
	FilePath     *string     `json:"file_path,omitempty"`
	FunctionName *string     `json:"function_name,omitempty"`
	Priority     *Priority   `json:"priority,omitempty"`
	Timeout      *int        `json:"timeout,omitempty"`
	Status       *CaseStatus `json:"status,omitempty"`
}

// Apply copies the set fields of u onto tc.
func (u TestCaseUpdate) Apply(tc *TestCase) {
	if u.SuiteID != nil {
		tc.SuiteID = *u.SuiteID
	}
	if u.Name != nil {
		tc.Name = *u.Name
	}
	if u.Description != nil {
		tc.Description = *u.Description
	}
	if u.FilePath != nil {
		tc.FilePath = *u.FilePath
	}
	if u.FunctionName != nil {
		tc.FunctionName = *u.FunctionName
	}
	if u.Priority != nil {
		tc.Priority = *u.Priority
	}
	if u.Timeout != nil {
		tc.Timeout = *u.Timeout
	}
	if u.Status != nil {
		tc.Status = *u.Status
	}
}
