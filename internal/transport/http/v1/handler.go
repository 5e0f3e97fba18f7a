// Package v1 provides the JSON API handlers.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/testmgmt/internal/service"
	"github.com/xiaot623/gogo/testmgmt/internal/stream"
)

// Handler handles HTTP requests.
type Handler struct {
	runs    *service.Coordinator
	service *service.Service
	streams *stream.Server
	logger  *zap.Logger
}

// NewHandler creates a new handler. streams may be nil, which disables the live stream.
func NewHandler(runs *service.Coordinator, svc *service.Service, streams *stream.Server, logger *zap.Logger) *Handler {
	return &Handler{
		runs:    runs,
		service: svc,
		streams: streams,
		logger:  logger.With(zap.String("component", "http")),
	}
}

// RegisterRoutes registers the API routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	// Auth
	e.POST("/api/auth/token", h.Login)
	authed := e.Group("/api/auth", h.requireAuth)
	authed.GET("/me", h.Me)
	authed.POST("/register", h.Register)
	authed.GET("/users", h.ListUsers)
	authed.DELETE("/users/:id", h.DeleteUser)
	authed.POST("/logout", h.Logout)

	// Test runs
	runs := e.Group("/test-runs", h.requireAuth)
	runs.POST("", h.CreateRun)
	runs.POST("/suite/:suite_id", h.CreateSuiteRun)
	runs.GET("", h.ListRuns)
	runs.GET("/:id", h.GetRun)
	runs.GET("/:id/results", h.GetResults)
	runs.POST("/:id/cancel", h.CancelRun)
	runs.GET("/:id/events", h.GetRunEvents)
	// Browsers cannot set headers on a WebSocket upgrade.
	e.GET("/test-runs/:id/stream", h.StreamRun, h.requireAuthOrQuery)

	// Catalog
	suites := e.Group("/test-suites", h.requireAuth)
	suites.POST("", h.CreateSuite)
	suites.GET("", h.ListSuites)
	suites.GET("/list", h.ListSuites)
	suites.GET("/:id", h.GetSuite)
	suites.GET("/:id/tests", h.ListSuiteTests)

	cases := e.Group("/test-cases", h.requireAuth)
	cases.POST("", h.CreateTestCase)
	cases.GET("", h.ListTestCases)
	cases.GET("/:id", h.GetTestCase)
	cases.PUT("/:id", h.UpdateTestCase)
	cases.DELETE("/:id", h.DeleteTestCase)

	// Settings
	settings := e.Group("/api/settings", h.requireAuth)
	settings.GET("", h.GetSettings)
	settings.POST("", h.SaveSettings)
	settings.POST("/test-connection", h.TestConnection)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
