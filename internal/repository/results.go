package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

// counterColumn maps an outcome to the run counter it increments.
func counterColumn(o domain.Outcome) (string, error) {
	switch o {
	case domain.OutcomePass:
		return "passed", nil
	case domain.OutcomeFail:
		return "failed", nil
	case domain.OutcomeError:
		return "errors", nil
	case domain.OutcomeSkipped:
		return "skipped", nil
	}
	return "", domain.Validationf("invalid outcome %q", o)
}

// InsertResult stores a result and bumps the run's counters in one transaction.
// When final is set the same transaction moves the run to that terminal status,
// completed at result.RecordedAt; a run that is no longer active is a StateError.
// A second result for the same (run, case) pair is a Conflict.
func (s *SQLiteStore) InsertResult(ctx context.Context, result *domain.TestResult, final *domain.RunStatus) error {
	column, err := counterColumn(result.Outcome)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO test_results (run_id, case_id, position, outcome, duration_ms, error_detail, attempts, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, result.RunID, result.CaseID, result.Position, result.Outcome, result.DurationMs,
		nullString(result.ErrorDetail), result.Attempts, result.RecordedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflictf("result for case %s already recorded in run %s", result.CaseID, result.RunID)
		}
		return fmt.Errorf("failed to insert result: %w", err)
	}

	// column comes from counterColumn, never from input.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE test_runs SET %s = %s + 1 WHERE run_id = ?`, column, column), result.RunID); err != nil {
		return fmt.Errorf("failed to update run counters: %w", err)
	}

	if final != nil {
		res, err := tx.ExecContext(ctx, `
			UPDATE test_runs SET status = ?, completed_at = ?
			WHERE run_id = ? AND status IN (?, ?)
		`, *final, result.RecordedAt.UTC(), result.RunID, domain.RunStatusPending, domain.RunStatusRunning)
		if err != nil {
			return fmt.Errorf("failed to complete run: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to complete run: %w", err)
		}
		if n == 0 {
			return domain.Statef("run %s is not active", result.RunID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit result: %w", err)
	}
	return nil
}

// GetResult retrieves the result of one case within a run.
func (s *SQLiteStore) GetResult(ctx context.Context, runID, caseID string) (*domain.TestResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, case_id, position, outcome, duration_ms, error_detail, attempts, recorded_at
		FROM test_results WHERE run_id = ? AND case_id = ?
	`, runID, caseID)
	result, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return result, nil
}

// ListResults returns a run's results in case order.
func (s *SQLiteStore) ListResults(ctx context.Context, runID string) ([]domain.TestResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, case_id, position, outcome, duration_ms, error_detail, attempts, recorded_at
		FROM test_results WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	results := []domain.TestResult{}
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, *result)
	}
	return results, rows.Err()
}

func scanResult(row rowScanner) (*domain.TestResult, error) {
	var result domain.TestResult
	var errorDetail sql.NullString
	if err := row.Scan(&result.RunID, &result.CaseID, &result.Position, &result.Outcome, &result.DurationMs,
		&errorDetail, &result.Attempts, &result.RecordedAt); err != nil {
		return nil, err
	}
	result.ErrorDetail = errorDetail.String
	return &result, nil
}
