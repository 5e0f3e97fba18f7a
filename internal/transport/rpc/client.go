package rpc

import (
	"context"
	"net"
	"net/rpc/jsonrpc"
	"net/url"
	"strings"
	"time"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

// Client calls the coordinator RPC service. Each call uses its own connection.
type Client struct {
	addr        string
	dialTimeout time.Duration
	callTimeout time.Duration
}

// NewClient creates a client for addr, given as host:port or as a URL.
func NewClient(addr string) *Client {
	return &Client{
		addr:        resolveRPCAddr(addr),
		dialTimeout: 5 * time.Second,
		callTimeout: 5 * time.Second,
	}
}

// RecordResult reports a case result.
func (c *Client) RecordResult(ctx context.Context, req RecordResultRequest) (*domain.TestResult, error) {
	var resp domain.TestResult
	if err := c.call(ctx, ServiceName+".RecordResult", &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelRun cancels a run.
func (c *Client) CancelRun(ctx context.Context, runID string) (*CancelRunResponse, error) {
	var resp CancelRunResponse
	if err := c.call(ctx, ServiceName+".CancelRun", &RunRequest{RunID: runID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRun fetches a run.
func (c *Client) GetRun(ctx context.Context, runID string) (*domain.TestRun, error) {
	var resp domain.TestRun
	if err := c.call(ctx, ServiceName+".GetRun", &RunRequest{RunID: runID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) call(ctx context.Context, method string, args, reply interface{}) error {
	if c.addr == "" {
		return domain.Unavailablef("rpc address is not configured")
	}
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return domain.WrapError(domain.KindUnavailable, err, "failed to reach coordinator")
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if c.callTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.callTimeout))
	}

	client := jsonrpc.NewClient(conn)
	defer client.Close()
	call := client.Go(method, args, reply, nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-call.Done:
		return decodeError(call.Error)
	}
}

func resolveRPCAddr(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "://") {
		parsed, err := url.Parse(raw)
		if err == nil && parsed.Host != "" {
			return parsed.Host
		}
	}
	return raw
}
