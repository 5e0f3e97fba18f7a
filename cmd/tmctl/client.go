package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
	v1 "github.com/xiaot623/gogo/testmgmt/internal/transport/http/v1"
)

// APIClient talks to the test management HTTP API.
type APIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Login exchanges credentials for an access token.
func (c *APIClient) Login(ctx context.Context, username, password string) (*domain.TokenResponse, error) {
	form := url.Values{"username": {username}, "password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tok domain.TokenResponse
	if err := c.send(req, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func (c *APIClient) CreateRun(ctx context.Context, body domain.CreateRunRequest) (*domain.TestRun, error) {
	var run domain.TestRun
	if err := c.do(ctx, http.MethodPost, "/test-runs", body, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *APIClient) ListRuns(ctx context.Context, query url.Values) ([]domain.TestRun, error) {
	path := "/test-runs"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var runs []domain.TestRun
	if err := c.do(ctx, http.MethodGet, path, nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (c *APIClient) GetRun(ctx context.Context, runID string) (*domain.TestRun, error) {
	var run domain.TestRun
	if err := c.do(ctx, http.MethodGet, "/test-runs/"+url.PathEscape(runID), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *APIClient) GetResults(ctx context.Context, runID string) ([]domain.TestResult, error) {
	var results []domain.TestResult
	if err := c.do(ctx, http.MethodGet, "/test-runs/"+url.PathEscape(runID)+"/results", nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *APIClient) CancelRun(ctx context.Context, runID string) (*domain.TestRun, error) {
	var run domain.TestRun
	if err := c.do(ctx, http.MethodPost, "/test-runs/"+url.PathEscape(runID)+"/cancel", nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Watch streams the events of a run to fn until the server closes the stream
// after the run's terminal event, or ctx is done.
func (c *APIClient) Watch(ctx context.Context, runID string, fn func(domain.RunEvent)) error {
	wsURL, err := c.streamURL(runID)
	if err != nil {
		return err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if apiErr := decodeAPIError(resp); apiErr != nil {
				return apiErr
			}
		}
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read stream: %w", err)
		}
		var ev domain.RunEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		fn(ev)
	}
}

func (c *APIClient) streamURL(runID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/test-runs/" + url.PathEscape(runID) + "/stream"
	u.RawQuery = url.Values{"token": {c.token}}.Encode()
	return u.String(), nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *APIClient) send(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		if apiErr := decodeAPIError(resp); apiErr != nil {
			return apiErr
		}
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeAPIError turns an error body back into a classified error, or returns nil.
func decodeAPIError(resp *http.Response) error {
	var body v1.ErrorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil || body.Error.Kind == "" {
		return nil
	}
	return domain.NewError(body.Error.Kind, "%s", body.Error.Message)
}

// exitCode maps an API error to the CLI exit status.
func exitCode(err error) int {
	var apiErr *domain.Error
	if !errors.As(err, &apiErr) {
		return 1
	}
	switch apiErr.Kind {
	case domain.KindUnauthorized, domain.KindForbidden:
		return 3
	case domain.KindNotFound:
		return 4
	default:
		return 1
	}
}
