package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

// CreateSuite inserts a new suite. An existing id is a Conflict.
func (s *SQLiteStore) CreateSuite(ctx context.Context, suite *domain.TestSuite) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO test_suites (suite_id, name, description, category, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, suite.ID, suite.Name, nullString(suite.Description), suite.Category, suite.Enabled, suite.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflictf("test suite %s already exists", suite.ID)
		}
		return fmt.Errorf("failed to create suite: %w", err)
	}
	return nil
}

// UpsertSuite inserts or updates a suite, keeping its original creation time.
func (s *SQLiteStore) UpsertSuite(ctx context.Context, suite *domain.TestSuite) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO test_suites (suite_id, name, description, category, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(suite_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			category = excluded.category,
			enabled = excluded.enabled
	`, suite.ID, suite.Name, nullString(suite.Description), suite.Category, suite.Enabled, suite.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert suite: %w", err)
	}
	return nil
}

// GetSuite retrieves a suite with its case count.
func (s *SQLiteStore) GetSuite(ctx context.Context, suiteID string) (*domain.TestSuite, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.suite_id, s.name, s.description, s.category, s.enabled, s.created_at,
			(SELECT COUNT(*) FROM test_cases c WHERE c.suite_id = s.suite_id)
		FROM test_suites s WHERE s.suite_id = ?
	`, suiteID)
	suite, err := scanSuite(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get suite: %w", err)
	}
	return suite, nil
}

// ListSuites returns every suite ordered by id.
func (s *SQLiteStore) ListSuites(ctx context.Context) ([]domain.TestSuite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.suite_id, s.name, s.description, s.category, s.enabled, s.created_at,
			(SELECT COUNT(*) FROM test_cases c WHERE c.suite_id = s.suite_id)
		FROM test_suites s ORDER BY s.suite_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list suites: %w", err)
	}
	defer rows.Close()

	suites := []domain.TestSuite{}
	for rows.Next() {
		suite, err := scanSuite(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan suite: %w", err)
		}
		suites = append(suites, *suite)
	}
	return suites, rows.Err()
}

// ListSuiteCaseIDs returns the ids of a suite's cases in suite order.
func (s *SQLiteStore) ListSuiteCaseIDs(ctx context.Context, suiteID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT case_id FROM test_cases WHERE suite_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, suiteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list suite cases: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const caseColumns = `case_id, suite_id, name, description, file_path, function_name,
	priority, timeout, status, created_at, updated_at`

// CreateCase inserts a new test case. An existing id is a Conflict.
func (s *SQLiteStore) CreateCase(ctx context.Context, tc *domain.TestCase) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO test_cases (`+caseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tc.ID, tc.SuiteID, tc.Name, nullString(tc.Description), nullString(tc.FilePath), nullString(tc.FunctionName),
		tc.Priority, tc.Timeout, tc.Status, tc.CreatedAt.UTC(), tc.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflictf("test case %s already exists", tc.ID)
		}
		return fmt.Errorf("failed to create test case: %w", err)
	}
	return nil
}

// UpsertCase inserts or updates a test case, keeping its original creation time.
func (s *SQLiteStore) UpsertCase(ctx context.Context, tc *domain.TestCase) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO test_cases (`+caseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(case_id) DO UPDATE SET
			suite_id = excluded.suite_id,
			name = excluded.name,
			description = excluded.description,
			file_path = excluded.file_path,
			function_name = excluded.function_name,
			priority = excluded.priority,
			timeout = excluded.timeout,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, tc.ID, tc.SuiteID, tc.Name, nullString(tc.Description), nullString(tc.FilePath), nullString(tc.FunctionName),
		tc.Priority, tc.Timeout, tc.Status, tc.CreatedAt.UTC(), tc.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert test case: %w", err)
	}
	return nil
}

// GetCase retrieves a test case by ID.
func (s *SQLiteStore) GetCase(ctx context.Context, caseID string) (*domain.TestCase, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM test_cases WHERE case_id = ?`, caseID)
	tc, err := scanCase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get test case: %w", err)
	}
	return tc, nil
}

// GetCases looks up many cases at once. Missing ids are absent from the map.
func (s *SQLiteStore) GetCases(ctx context.Context, caseIDs []string) (map[string]*domain.TestCase, error) {
	found := make(map[string]*domain.TestCase, len(caseIDs))
	if len(caseIDs) == 0 {
		return found, nil
	}
	placeholders := make([]string, len(caseIDs))
	args := make([]interface{}, len(caseIDs))
	for i, id := range caseIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT `+caseColumns+` FROM test_cases WHERE case_id IN (%s)`, strings.Join(placeholders, ",")),
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get test cases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		tc, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test case: %w", err)
		}
		found[tc.ID] = tc
	}
	return found, rows.Err()
}

// ListCases returns test cases matching filter in suite order.
func (s *SQLiteStore) ListCases(ctx context.Context, filter domain.CaseFilter) ([]domain.TestCase, error) {
	var where []string
	var args []interface{}
	if filter.SuiteID != "" {
		where = append(where, "suite_id = ?")
		args = append(args, filter.SuiteID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	query := `SELECT ` + caseColumns + ` FROM test_cases`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY suite_id ASC, created_at ASC, rowid ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list test cases: %w", err)
	}
	defer rows.Close()

	cases := []domain.TestCase{}
	for rows.Next() {
		tc, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test case: %w", err)
		}
		cases = append(cases, *tc)
	}
	return cases, rows.Err()
}

// UpdateCase overwrites the mutable fields of a test case.
func (s *SQLiteStore) UpdateCase(ctx context.Context, tc *domain.TestCase) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE test_cases SET suite_id = ?, name = ?, description = ?, file_path = ?, function_name = ?,
			priority = ?, timeout = ?, status = ?, updated_at = ?
		WHERE case_id = ?
	`, tc.SuiteID, tc.Name, nullString(tc.Description), nullString(tc.FilePath), nullString(tc.FunctionName),
		tc.Priority, tc.Timeout, tc.Status, tc.UpdatedAt.UTC(), tc.ID)
	if err != nil {
		return fmt.Errorf("failed to update test case: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update test case: %w", err)
	}
	if n == 0 {
		return domain.NotFoundf("test case %s not found", tc.ID)
	}
	return nil
}

// DeleteCase removes a test case. It reports whether a row was deleted.
func (s *SQLiteStore) DeleteCase(ctx context.Context, caseID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM test_cases WHERE case_id = ?`, caseID)
	if err != nil {
		return false, fmt.Errorf("failed to delete test case: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanSuite(row rowScanner) (*domain.TestSuite, error) {
	var suite domain.TestSuite
	var description sql.NullString
	if err := row.Scan(&suite.ID, &suite.Name, &description, &suite.Category, &suite.Enabled,
		&suite.CreatedAt, &suite.TestCount); err != nil {
		return nil, err
	}
	suite.Description = description.String
	return &suite, nil
}

func scanCase(row rowScanner) (*domain.TestCase, error) {
	var tc domain.TestCase
	var description, filePath, functionName sql.NullString
	if err := row.Scan(&tc.ID, &tc.SuiteID, &tc.Name, &description, &filePath, &functionName,
		&tc.Priority, &tc.Timeout, &tc.Status, &tc.CreatedAt, &tc.UpdatedAt); err != nil {
		return nil, err
	}
	tc.Description = description.String
	tc.FilePath = filePath.String
	tc.FunctionName = functionName.String
	return &tc, nil
}
