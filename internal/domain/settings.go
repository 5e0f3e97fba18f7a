package domain

import "time"

// Settings configures the remote execution target and test execution.
type Settings struct {
	AIOpsURL          string     `json:"aiops_url"`
	APIToken          string     `json:"api_token"`
	SSHHost           string     `json:"ssh_host"`
	SSHPort           int        `json:"ssh_port"`
	TestPath          string     `json:"test_path"`
	Timeout           int        `json:"timeout"` // seconds
	ParallelExecution bool       `json:"parallel_execution"`
	MaxParallel       int        `json:"max_parallel"`
	RetryFailed       bool       `json:"retry_failed"`
	RetryCount        int        `json:"retry_count"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
	UpdatedBy         string     `json:"updated_by,omitempty"`
}

// DefaultSettings returns the settings used until an operator saves their own.
func DefaultSettings() *Settings {
	return &Settings{
		SSHPort:     22,
		Timeout:     30,
		MaxParallel: 5,
		RetryCount:  3,
	}
}
