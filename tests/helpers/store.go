package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/xiaot623/gogo/testmgmt/internal/authz"
	"github.com/xiaot623/gogo/testmgmt/internal/domain"
	"github.com/xiaot623/gogo/testmgmt/internal/repository"
)

func NewTestSQLiteStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()

	s, err := repository.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// NewTestAuthorizer returns an engine running the default policy.
func NewTestAuthorizer(t *testing.T) *authz.Engine {
	t.Helper()

	engine, err := authz.NewDefaultEngine(context.Background())
	if err != nil {
		t.Fatalf("failed to create authorizer: %v", err)
	}
	return engine
}

// SeedSuite creates a suite holding caseIDs in the given order.
func SeedSuite(t *testing.T, s repository.Store, suiteID string, caseIDs ...string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.CreateSuite(ctx, &domain.TestSuite{ID: suiteID, Name: suiteID, Enabled: true, CreatedAt: now}); err != nil {
		t.Fatalf("failed to create suite: %v", err)
	}
	for i, id := range caseIDs {
		tc := &domain.TestCase{
			ID:        id,
			SuiteID:   suiteID,
			Name:      "case " + id,
			Priority:  domain.PriorityMedium,
			Timeout:   30,
			Status:    domain.CaseStatusActive,
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt: now,
		}
		if err := s.CreateCase(ctx, tc); err != nil {
			t.Fatalf("failed to create case %s: %v", id, err)
		}
	}
}

// CreateUser stores an active user with a throwaway password hash.
func CreateUser(t *testing.T, s repository.Store, username string, admin bool) *domain.User {
	t.Helper()

	user := &domain.User{
		Username:       username,
		Email:          username + "@example.com",
		HashedPassword: "unused",
		IsAdmin:        admin,
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}
