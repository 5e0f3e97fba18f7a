package domain

// CreateRunRequest is the body of POST /test-runs.
type CreateRunRequest struct {
	CaseIDs     []string `json:"case_ids"`
	TestCaseIDs []string `json:"test_case_ids"`
	SuiteID     string   `json:"suite_id"`
	Trigger     Trigger  `json:"trigger"`
}

// Cases returns the requested case ids, accepting either field name.
func (r CreateRunRequest) Cases() []string {
	if len(r.CaseIDs) > 0 {
		return r.CaseIDs
	}
	return r.TestCaseIDs
}

// RunSpec is what a user asks the coordinator to execute.
type RunSpec struct {
	CaseIDs []string
	SuiteID string
	Trigger Trigger
}

// CreateSuiteRequest is the body of POST /test-suites.
type CreateSuiteRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// CreateTestCaseRequest is the body of POST /test-cases.
type CreateTestCaseRequest struct {
	TestID       string     `json:"test_id"`
	SuiteID      string     `json:"suite_id"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	FilePath     string     `json:"file_path,omitempty"`
	FunctionName string     `json:"function_name,omitempty"`
	Priority     Priority   `json:"priority,omitempty"`
	Timeout      int        `json:"timeout,omitempty"`
	Status       CaseStatus `json:"status,omitempty"`
}

// RegisterUserRequest is the body of POST /api/auth/register.
type RegisterUserRequest struct {
	Username string `json:"username" form:"username"`
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	IsAdmin  bool   `json:"is_admin" form:"is_admin"`
}

// TokenResponse is returned by the token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// ConnectionTestRequest asks the service to probe a remote execution target.
type ConnectionTestRequest struct {
	URL   string `json:"url"`
	Token string `json:"token,omitempty"`
}

// ConnectionTestResult reports the outcome of a connection probe.
type ConnectionTestResult struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message"`
	StatusCode int         `json:"status_code"`
	Response   interface{} `json:"response,omitempty"`
}
