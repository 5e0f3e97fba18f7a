// Package aiops provides the HTTP client for the remote AIOps execution target.
package aiops

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

const healthTimeout = 10 * time.Second

// healthPreview is the number of characters of a non-JSON health body kept.
const healthPreview = 200

// Target identifies an execution endpoint.
type Target struct {
	BaseURL string
	Token   string
}

// ExecuteRequest asks the target to run one test case.
type ExecuteRequest struct {
	RunID        string `json:"run_id"`
	CaseID       string `json:"case_id"`
	Name         string `json:"name"`
	FilePath     string `json:"file_path,omitempty"`
	FunctionName string `json:"function_name,omitempty"`
	Timeout      int    `json:"timeout"`
	TestPath     string `json:"test_path,omitempty"`
	SSHHost      string `json:"ssh_host,omitempty"`
	SSHPort      int    `json:"ssh_port,omitempty"`
}

// ExecuteResponse is the target's verdict for one case.
type ExecuteResponse struct {
	Outcome    domain.Outcome `json:"outcome"`
	DurationMs int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
}

// StatusError is returned when the target answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("execution target returned status %d: %s", e.StatusCode, e.Body)
}

// IsTransient reports whether err is worth retrying: network failures, 5xx and 429.
// Context cancellation and deadline expiry are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Client is an HTTP client for the execution target.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a new execution target client.
// Per-request deadlines come from the caller's context.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{},
	}
}

// NewClientWithHTTP wraps an existing http.Client.
func NewClientWithHTTP(httpClient *http.Client) *Client {
	return &Client{httpClient: httpClient}
}

// Execute runs one case on target.
func (c *Client) Execute(ctx context.Context, target Target, req *ExecuteRequest) (*ExecuteResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(target.BaseURL, "/") + "/api/v1/executions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Run-ID", req.RunID)
	if target.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+target.Token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call execution target: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var out ExecuteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode execution response: %w", err)
	}
	if !out.Outcome.Valid() {
		return nil, fmt.Errorf("execution target returned invalid outcome %q", out.Outcome)
	}
	return &out, nil
}

// CheckHealth probes GET {url}/health. A reachable target answering non-200 is
// reported as Success=false; an unreachable one as Unavailable or Timeout.
func (c *Client) CheckHealth(ctx context.Context, baseURL, token string) (*domain.ConnectionTestResult, error) {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	url := strings.TrimSuffix(baseURL, "/") + "/health"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.Validationf("invalid url: %v", err)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, domain.WrapError(domain.KindTimeout, err, "Connection timeout. The target system is not responding.")
		}
		return nil, domain.WrapError(domain.KindUnavailable, err, "Cannot connect to the target system. Please check the URL and network connectivity.")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &domain.ConnectionTestResult{
			Success:    false,
			Message:    fmt.Sprintf("Connection failed with status %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
		}, nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read health response: %w", err)
	}
	result := &domain.ConnectionTestResult{
		Success:    true,
		Message:    "Connection successful",
		StatusCode: resp.StatusCode,
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var parsed interface{}
		if err := json.Unmarshal(raw, &parsed); err == nil {
			result.Response = parsed
			return result, nil
		}
	}
	text := string(raw)
	if utf8.RuneCountInString(text) > healthPreview {
		text = string([]rune(text)[:healthPreview])
	}
	result.Response = text
	return result, nil
}
