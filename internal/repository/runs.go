package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

const runColumns = `run_id, status, trigger_kind, case_ids, suite_id, owner, total_tests,
	passed, failed, errors, skipped, error_detail, created_at, started_at, completed_at`

// CreateRun inserts a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.TestRun) error {
	caseIDs, err := json.Marshal(run.CaseIDs)
	if err != nil {
		return fmt.Errorf("failed to encode case ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO test_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Status, run.Trigger, string(caseIDs), nullString(run.SuiteID), run.Owner, run.TotalTests,
		run.Passed, run.Failed, run.Errors, run.Skipped, nullString(run.ErrorDetail),
		run.CreatedAt.UTC(), nullTime(run.StartedAt), nullTime(run.CompletedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflictf("run %s already exists", run.ID)
		}
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.TestRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM test_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// IterRuns lazily yields runs matching filter, newest first.
// Rows are read as the caller iterates; stopping early releases the cursor.
func (s *SQLiteStore) IterRuns(ctx context.Context, filter domain.RunFilter) iter.Seq2[*domain.TestRun, error] {
	return func(yield func(*domain.TestRun, error) bool) {
		var where []string
		var args []interface{}
		if filter.Status != "" {
			where = append(where, "status = ?")
			args = append(args, filter.Status)
		}
		if filter.Trigger != "" {
			where = append(where, "trigger_kind = ?")
			args = append(args, filter.Trigger)
		}
		if filter.Owner != "" {
			where = append(where, "owner = ?")
			args = append(args, filter.Owner)
		}

		query := `SELECT ` + runColumns + ` FROM test_runs`
		if len(where) > 0 {
			query += " WHERE " + strings.Join(where, " AND ")
		}
		query += " ORDER BY created_at DESC, rowid DESC"
		if filter.Limit > 0 {
			query += " LIMIT ?"
			args = append(args, filter.Limit)
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(nil, fmt.Errorf("failed to list runs: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			run, err := scanRun(rows)
			if err != nil {
				yield(nil, fmt.Errorf("failed to scan run: %w", err))
				return
			}
			if !yield(run, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("failed to iterate runs: %w", err))
		}
	}
}

// ListActiveRuns returns every pending or running run, oldest first.
func (s *SQLiteStore) ListActiveRuns(ctx context.Context) ([]domain.TestRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM test_runs
		WHERE status IN (?, ?)
		ORDER BY created_at ASC, rowid ASC
	`, domain.RunStatusPending, domain.RunStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to list active runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.TestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// MarkRunStarted moves a pending run to running. It is a no-op for runs already past pending.
func (s *SQLiteStore) MarkRunStarted(ctx context.Context, runID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE test_runs SET status = ?, started_at = ?
		WHERE run_id = ? AND status = ?
	`, domain.RunStatusRunning, at.UTC(), runID, domain.RunStatusPending)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// CompleteRun moves a non-terminal run to a terminal status.
func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status domain.RunStatus, detail string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE test_runs SET status = ?, error_detail = COALESCE(?, error_detail), completed_at = ?
		WHERE run_id = ? AND status IN (?, ?)
	`, status, nullString(detail), at.UTC(), runID, domain.RunStatusPending, domain.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n == 0 {
		return domain.Statef("run %s is not active", runID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*domain.TestRun, error) {
	var run domain.TestRun
	var caseIDs string
	var suiteID, errorDetail sql.NullString
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&run.ID, &run.Status, &run.Trigger, &caseIDs, &suiteID, &run.Owner, &run.TotalTests,
		&run.Passed, &run.Failed, &run.Errors, &run.Skipped, &errorDetail,
		&run.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(caseIDs), &run.CaseIDs); err != nil {
		return nil, fmt.Errorf("invalid case ids for run %s: %w", run.ID, err)
	}
	run.SuiteID = suiteID.String
	run.ErrorDetail = errorDetail.String
	run.StartedAt = timePtr(startedAt)
	run.CompletedAt = timePtr(completedAt)
	return &run, nil
}
