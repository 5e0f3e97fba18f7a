// Package repository persists runs, results, the test catalog, users and settings.
package repository

import (
	"context"
	"iter"
	"time"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

// Store defines the interface for data persistence.
// Lookups return (nil, nil) when the record does not exist.
type Store interface {
	// Run operations
	CreateRun(ctx context.Context, run *domain.TestRun) error
	GetRun(ctx context.Context, runID string) (*domain.TestRun, error)
	IterRuns(ctx context.Context, filter domain.RunFilter) iter.Seq2[*domain.TestRun, error]
	ListActiveRuns(ctx context.Context) ([]domain.TestRun, error)
	MarkRunStarted(ctx context.Context, runID string, at time.Time) error
	CompleteRun(ctx context.Context, runID string, status domain.RunStatus, detail string, at time.Time) error

	// Result operations
	InsertResult(ctx context.Context, result *domain.TestResult, final *domain.RunStatus) error
	GetResult(ctx context.Context, runID, caseID string) (*domain.TestResult, error)
	ListResults(ctx context.Context, runID string) ([]domain.TestResult, error)

	// Event operations
	CreateEvent(ctx context.Context, event *domain.RunEvent) error
	GetEvents(ctx context.Context, runID string, afterTs int64, types []string, limit int) ([]domain.RunEvent, error)

	// Suite operations
	CreateSuite(ctx context.Context, suite *domain.TestSuite) error
	UpsertSuite(ctx context.Context, suite *domain.TestSuite) error
	GetSuite(ctx context.Context, suiteID string) (*domain.TestSuite, error)
	ListSuites(ctx context.Context) ([]domain.TestSuite, error)
	ListSuiteCaseIDs(ctx context.Context, suiteID string) ([]string, error)

	// Test case operations
	CreateCase(ctx context.Context, tc *domain.TestCase) error
	UpsertCase(ctx context.Context, tc *domain.TestCase) error
	GetCase(ctx context.Context, caseID string) (*domain.TestCase, error)
	GetCases(ctx context.Context, caseIDs []string) (map[string]*domain.TestCase, error)
	ListCases(ctx context.Context, filter domain.CaseFilter) ([]domain.TestCase, error)
	UpdateCase(ctx context.Context, tc *domain.TestCase) error
	DeleteCase(ctx context.Context, caseID string) (bool, error)

	// User operations
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	DeleteUser(ctx context.Context, id int64) (bool, error)
	TouchLastLogin(ctx context.Context, id int64) error

	// Settings operations
	GetSettings(ctx context.Context) (*domain.Settings, error)
	SaveSettings(ctx context.Context, settings *domain.Settings) error

	// Lifecycle
	Close() error
}
