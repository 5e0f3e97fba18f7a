// Package authz evaluates capability checks with an OPA Rego policy.
package authz

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

// Actions checked by the service.
const (
	ActionRunCancel     = "run.cancel"
	ActionUserManage    = "user.manage"
	ActionSettingsWrite = "settings.write"
)

// Resource describes the object an action applies to.
type Resource struct {
	Owner string `json:"owner,omitempty"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.testmgmt.authz.allow"),
		rego.Module("testmgmt_authz.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewDefaultEngine creates an engine running DefaultPolicy.
func NewDefaultEngine(ctx context.Context) (*Engine, error) {
	return NewEngine(ctx, DefaultPolicy)
}

// Allow reports whether user may perform action on resource.
// A nil user is never allowed.
func (e *Engine) Allow(ctx context.Context, user *domain.User, action string, resource Resource) (bool, error) {
	if user == nil {
		return false, nil
	}
	input := map[string]interface{}{
		"user": map[string]interface{}{
			"username": user.Username,
			"is_admin": user.IsAdmin,
		},
		"action":   action,
		"resource": resource,
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	return results.Allowed(), nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package testmgmt.authz

default allow := false

allow if input.user.is_admin

allow if {
	input.action == "run.cancel"
	input.resource.owner == input.user.username
}

allow if input.action == "settings.write"
`
