package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/testmgmt/internal/auth"
	"github.com/xiaot623/gogo/testmgmt/internal/domain"
	"github.com/xiaot623/gogo/testmgmt/internal/repository"
)

// HealthChecker probes a remote execution target.
type HealthChecker interface {
	CheckHealth(ctx context.Context, baseURL, token string) (*domain.ConnectionTestResult, error)
}

// Service implements the collaborators around the coordinator:
// users and tokens, the test catalog and settings.
type Service struct {
	store  repository.Store
	tokens *auth.Manager
	authz  Authorizer
	health HealthChecker
	logger *zap.Logger
	now    func() time.Time
}

func New(store repository.Store, tokens *auth.Manager, authorizer Authorizer, health HealthChecker, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		tokens: tokens,
		authz:  authorizer,
		health: health,
		logger: logger.With(zap.String("component", "service")),
		now:    time.Now,
	}
}
