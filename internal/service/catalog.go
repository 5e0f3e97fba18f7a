package service

import (
	"context"
	"strings"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

// CreateSuite adds a suite to the catalog.
func (s *Service) CreateSuite(ctx context.Context, req domain.CreateSuiteRequest) (*domain.TestSuite, error) {
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" || strings.TrimSpace(req.Name) == "" {
		return nil, domain.Validationf("id and name are required")
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	suite := &domain.TestSuite{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Enabled:     enabled,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateSuite(ctx, suite); err != nil {
		return nil, err
	}
	return suite, nil
}

// GetSuite returns a suite by id.
func (s *Service) GetSuite(ctx context.Context, suiteID string) (*domain.TestSuite, error) {
	suite, err := s.store.GetSuite(ctx, suiteID)
	if err != nil {
		return nil, err
	}
	if suite == nil {
		return nil, domain.NotFoundf("test suite %s not found", suiteID)
	}
	return suite, nil
}

// ListSuites returns every suite.
func (s *Service) ListSuites(ctx context.Context) ([]domain.TestSuite, error) {
	return s.store.ListSuites(ctx)
}

// ListSuiteCases returns the ids of a suite's cases in suite order.
func (s *Service) ListSuiteCases(ctx context.Context, suiteID string) ([]string, error) {
	if _, err := s.GetSuite(ctx, suiteID); err != nil {
		return nil, err
	}
	ids, err := s.store.ListSuiteCaseIDs(ctx, suiteID)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// CreateTestCase adds a case to an existing suite. A taken id is a Conflict.
func (s *Service) CreateTestCase(ctx context.Context, req domain.CreateTestCaseRequest) (*domain.TestCase, error) {
	req.TestID = strings.TrimSpace(req.TestID)
	if req.TestID == "" || req.SuiteID == "" || strings.TrimSpace(req.Name) == "" {
		return nil, domain.Validationf("test_id, suite_id and name are required")
	}
	if _, err := s.GetSuite(ctx, req.SuiteID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	tc := &domain.TestCase{
		ID:           req.TestID,
		SuiteID:      req.SuiteID,
		Name:         req.Name,
		Description:  req.Description,
		FilePath:     req.FilePath,
		FunctionName: req.FunctionName,
		Priority:     req.Priority,
		Timeout:      req.Timeout,
		Status:       req.Status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := normalizeCase(tc); err != nil {
		return nil, err
	}
	if err := s.store.CreateCase(ctx, tc); err != nil {
		if domain.IsKind(err, domain.KindConflict) {
			return nil, domain.Conflictf("Test case with ID %s already exists", tc.ID)
		}
		return nil, err
	}
	return tc, nil
}

// GetTestCase returns a case by id.
func (s *Service) GetTestCase(ctx context.Context, caseID string) (*domain.TestCase, error) {
	tc, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if tc == nil {
		return nil, domain.NotFoundf("test case %s not found", caseID)
	}
	return tc, nil
}

// ListTestCases returns cases matching filter.
func (s *Service) ListTestCases(ctx context.Context, filter domain.CaseFilter) ([]domain.TestCase, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.Validationf("invalid status %q", filter.Status)
	}
	return s.store.ListCases(ctx, filter)
}

// UpdateTestCase applies a partial update to a case.
func (s *Service) UpdateTestCase(ctx context.Context, caseID string, update domain.TestCaseUpdate) (*domain.TestCase, error) {
	tc, err := s.GetTestCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	update.Apply(tc)
	if update.SuiteID != nil {
		if _, err := s.GetSuite(ctx, tc.SuiteID); err != nil {
			return nil, err
		}
	}
	if err := normalizeCase(tc); err != nil {
		return nil, err
	}
	tc.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateCase(ctx, tc); err != nil {
		return nil, err
	}
	return tc, nil
}

// DeleteTestCase removes a case from the catalog. Runs keep their recorded results.
func (s *Service) DeleteTestCase(ctx context.Context, caseID string) error {
	deleted, err := s.store.DeleteCase(ctx, caseID)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.NotFoundf("test case %s not found", caseID)
	}
	return nil
}

// normalizeCase fills defaults and validates enumerations.
func normalizeCase(tc *domain.TestCase) error {
	if tc.Priority == "" {
		tc.Priority = domain.PriorityMedium
	}
	if !tc.Priority.Valid() {
		return domain.Validationf("invalid priority %q", tc.Priority)
	}
	if tc.Status == "" {
		tc.Status = domain.CaseStatusActive
	}
	if !tc.Status.Valid() {
		return domain.Validationf("invalid status %q", tc.Status)
	}
	if tc.Timeout == 0 {
		tc.Timeout = 30
	}
	if tc.Timeout < 0 {
		return domain.Validationf("timeout must be positive")
	}
	return nil
}
