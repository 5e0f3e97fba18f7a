// Package rpc exposes the coordinator to trusted out-of-process callers over JSON-RPC.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

// ServiceName is the name the handler is registered under.
const ServiceName = "Coordinator"

// Coordinator is the part of the run coordinator reachable over RPC.
type Coordinator interface {
	RecordResult(ctx context.Context, in domain.ResultInput) (*domain.TestResult, error)
	CancelRun(ctx context.Context, runID string, user *domain.User) (*domain.TestRun, error)
	GetRun(ctx context.Context, runID string) (*domain.TestRun, error)
}

// systemUser is the identity of RPC callers. They are trusted like an admin.
var systemUser = &domain.User{Username: "system", IsAdmin: true, IsActive: true}

// Server exposes internal RPC endpoints for execution agents.
type Server struct {
	rpcServer *rpc.Server
	logger    *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	done     chan struct{}
}

// NewServer creates a new RPC server bound to the coordinator.
func NewServer(coord Coordinator, logger *zap.Logger) (*Server, error) {
	logger = logger.With(zap.String("component", "rpc"))
	rpcServer := rpc.NewServer()
	handler := &Handler{coord: coord, logger: logger}
	if err := rpcServer.RegisterName(ServiceName, handler); err != nil {
		return nil, fmt.Errorf("register rpc handler: %w", err)
	}

	return &Server{
		rpcServer: rpcServer,
		logger:    logger,
		done:      make(chan struct{}),
	}, nil
}

// Start begins accepting RPC connections on the given address.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ln.Close()
	}
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("rpc server listening", zap.String("addr", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			s.logger.Warn("rpc accept error", zap.Error(err))
			time.Sleep(10 * time.Millisecond)
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	if err := ln.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements the coordinator RPC methods.
type Handler struct {
	coord  Coordinator
	logger *zap.Logger
}

// RecordResultRequest reports the outcome of one case.
type RecordResultRequest struct {
	RunID       string         `json:"run_id"`
	CaseID      string         `json:"case_id"`
	Outcome     domain.Outcome `json:"outcome"`
	DurationMs  int64          `json:"duration_ms"`
	ErrorDetail string         `json:"error_detail,omitempty"`
	Attempts    int            `json:"attempts,omitempty"`
}

// RunRequest identifies a run.
type RunRequest struct {
	RunID string `json:"run_id"`
}

// CancelRunResponse is returned after a run cancellation request.
type CancelRunResponse struct {
	RunID   string           `json:"run_id"`
	Status  domain.RunStatus `json:"status"`
	Message string           `json:"message"`
}

// RecordResult records a case result.
func (h *Handler) RecordResult(req *RecordResultRequest, resp *domain.TestResult) error {
	if req == nil {
		return errors.New("record result request is required")
	}
	if req.RunID == "" || req.CaseID == "" {
		return encodeError(domain.Validationf("run_id and case_id are required"))
	}

	result, err := h.coord.RecordResult(context.Background(), domain.ResultInput{
		RunID:       req.RunID,
		CaseID:      req.CaseID,
		Outcome:     req.Outcome,
		Duration:    time.Duration(req.DurationMs) * time.Millisecond,
		ErrorDetail: req.ErrorDetail,
		Attempts:    req.Attempts,
	})
	if err != nil {
		h.logger.Info("rpc result rejected", zap.String("run_id", req.RunID), zap.String("case_id", req.CaseID), zap.Error(err))
		return encodeError(err)
	}
	if resp != nil {
		*resp = *result
	}
	return nil
}

// CancelRun cancels a pending or running run.
func (h *Handler) CancelRun(req *RunRequest, resp *CancelRunResponse) error {
	if req == nil {
		return errors.New("cancel request is required")
	}
	if req.RunID == "" {
		return encodeError(domain.Validationf("run_id is required"))
	}

	run, err := h.coord.CancelRun(context.Background(), req.RunID, systemUser)
	if err != nil {
		return encodeError(err)
	}
	if resp != nil {
		resp.RunID = run.ID
		resp.Status = run.Status
		resp.Message = "run cancelled successfully"
	}
	return nil
}

// GetRun returns a run.
func (h *Handler) GetRun(req *RunRequest, resp *domain.TestRun) error {
	if req == nil || req.RunID == "" {
		return encodeError(domain.Validationf("run_id is required"))
	}
	run, err := h.coord.GetRun(context.Background(), req.RunID)
	if err != nil {
		return encodeError(err)
	}
	if resp != nil {
		*resp = *run
	}
	return nil
}
