package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/testmgmt/internal/auth"
	"github.com/xiaot623/gogo/testmgmt/internal/authz"
	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

// Authenticate checks credentials and issues an access token.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*domain.TokenResponse, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil || !auth.CheckPassword(user.HashedPassword, password) {
		return nil, domain.Unauthorizedf("Incorrect username or password")
	}
	if !user.IsActive {
		return nil, domain.Unauthorizedf("Inactive account")
	}

	token, err := s.tokens.IssueToken(user.Username)
	if err != nil {
		return nil, err
	}
	if err := s.store.TouchLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("failed to update last login", zap.String("username", username), zap.Error(err))
	}
	return &domain.TokenResponse{AccessToken: token, TokenType: "bearer"}, nil
}

// UserFromToken resolves a bearer token to an active user.
func (s *Service) UserFromToken(ctx context.Context, token string) (*domain.User, error) {
	username, err := s.tokens.ParseToken(token)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.Unauthorizedf("could not validate credentials")
	}
	if !user.IsActive {
		return nil, domain.Unauthorizedf("Inactive account")
	}
	return user, nil
}

// RegisterUser creates an account. Only admins may register users.
func (s *Service) RegisterUser(ctx context.Context, actor *domain.User, req domain.RegisterUserRequest) (*domain.User, error) {
	if err := s.requireUserManage(ctx, actor); err != nil {
		return nil, err
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return nil, domain.Validationf("username, email and password are required")
	}
	return s.createUser(ctx, req)
}

func (s *Service) createUser(ctx context.Context, req domain.RegisterUserRequest) (*domain.User, error) {
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		Username:       req.Username,
		Email:          req.Email,
		HashedPassword: hash,
		IsAdmin:        req.IsAdmin,
		IsActive:       true,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info("user registered", zap.String("username", user.Username), zap.Bool("is_admin", user.IsAdmin))
	return user, nil
}

// ListUsers returns every account. Admin only.
func (s *Service) ListUsers(ctx context.Context, actor *domain.User) ([]domain.User, error) {
	if err := s.requireUserManage(ctx, actor); err != nil {
		return nil, err
	}
	return s.store.ListUsers(ctx)
}

// DeleteUser removes an account. Admin only; admins cannot delete themselves.
func (s *Service) DeleteUser(ctx context.Context, actor *domain.User, id int64) error {
	if err := s.requireUserManage(ctx, actor); err != nil {
		return err
	}
	if actor.ID == id {
		return domain.Validationf("Cannot delete yourself")
	}
	deleted, err := s.store.DeleteUser(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.NotFoundf("User not found")
	}
	return nil
}

// EnsureAdmin creates an admin account unless username already exists.
// It reports whether a user was created.
func (s *Service) EnsureAdmin(ctx context.Context, username, email, password string) (bool, error) {
	existing, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	if password == "" {
		return false, domain.Validationf("password is required")
	}
	_, err = s.createUser(ctx, domain.RegisterUserRequest{
		Username: username, Email: email, Password: password, IsAdmin: true,
	})
	return err == nil, err
}

func (s *Service) requireUserManage(ctx context.Context, actor *domain.User) error {
	allowed, err := s.authz.Allow(ctx, actor, authz.ActionUserManage, authz.Resource{})
	if err != nil {
		return err
	}
	if !allowed {
		return domain.Forbiddenf("Admin access required")
	}
	return nil
}
