package service

import (
	"context"
	"strings"

	"github.com/xiaot623/gogo/testmgmt/internal/authz"
	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

// GetSettings returns the saved settings, or the defaults when none were saved.
func (s *Service) GetSettings(ctx context.Context) (*domain.Settings, error) {
	st, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return domain.DefaultSettings(), nil
	}
	return st, nil
}

// SaveSettings replaces the settings and records who changed them.
func (s *Service) SaveSettings(ctx context.Context, actor *domain.User, st domain.Settings) (*domain.Settings, error) {
	allowed, err := s.authz.Allow(ctx, actor, authz.ActionSettingsWrite, authz.Resource{})
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, domain.Forbiddenf("not allowed to change settings")
	}
	if st.SSHPort < 0 || st.SSHPort > 65535 {
		return nil, domain.Validationf("ssh_port must be between 0 and 65535")
	}
	if st.Timeout < 0 {
		return nil, domain.Validationf("timeout must not be negative")
	}
	if st.MaxParallel < 1 {
		st.MaxParallel = 1
	}
	if st.RetryCount < 0 {
		return nil, domain.Validationf("retry_count must not be negative")
	}
	st.AIOpsURL = strings.TrimSuffix(strings.TrimSpace(st.AIOpsURL), "/")

	now := s.now().UTC()
	st.UpdatedAt = &now
	st.UpdatedBy = actor.Username
	if err := s.store.SaveSettings(ctx, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// TestConnection probes the health endpoint of an execution target.
func (s *Service) TestConnection(ctx context.Context, req domain.ConnectionTestRequest) (*domain.ConnectionTestResult, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, domain.Validationf("URL is required")
	}
	return s.health.CheckHealth(ctx, strings.TrimSpace(req.URL), req.Token)
}
