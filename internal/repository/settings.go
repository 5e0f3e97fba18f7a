package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

// GetSettings returns the saved settings, or nil when none were saved.
func (s *SQLiteStore) GetSettings(ctx context.Context) (*domain.Settings, error) {
	var st domain.Settings
	var aiopsURL, apiToken, sshHost, testPath, updatedBy sql.NullString
	var updatedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT aiops_url, api_token, ssh_host, ssh_port, test_path, timeout,
			parallel_execution, max_parallel, retry_failed, retry_count, updated_at, updated_by
		FROM settings WHERE id = 1
	`).Scan(&aiopsURL, &apiToken, &sshHost, &st.SSHPort, &testPath, &st.Timeout,
		&st.ParallelExecution, &st.MaxParallel, &st.RetryFailed, &st.RetryCount, &updatedAt, &updatedBy)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	st.AIOpsURL = aiopsURL.String
	st.APIToken = apiToken.String
	st.SSHHost = sshHost.String
	st.TestPath = testPath.String
	st.UpdatedAt = timePtr(updatedAt)
	st.UpdatedBy = updatedBy.String
	return &st, nil
}

// SaveSettings replaces the single settings row.
func (s *SQLiteStore) SaveSettings(ctx context.Context, st *domain.Settings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, aiops_url, api_token, ssh_host, ssh_port, test_path, timeout,
			parallel_execution, max_parallel, retry_failed, retry_count, updated_at, updated_by)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			aiops_url = excluded.aiops_url,
			api_token = excluded.api_token,
			ssh_host = excluded.ssh_host,
			ssh_port = excluded.ssh_port,
			test_path = excluded.test_path,
			timeout = excluded.timeout,
			parallel_execution = excluded.parallel_execution,
			max_parallel = excluded.max_parallel,
			retry_failed = excluded.retry_failed,
			retry_count = excluded.retry_count,
			updated_at = excluded.updated_at,
			updated_by = excluded.updated_by
	`, nullString(st.AIOpsURL), nullString(st.APIToken), nullString(st.SSHHost), st.SSHPort, nullString(st.TestPath),
		st.Timeout, st.ParallelExecution, st.MaxParallel, st.RetryFailed, st.RetryCount,
		nullTime(st.UpdatedAt), nullString(st.UpdatedBy))
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
