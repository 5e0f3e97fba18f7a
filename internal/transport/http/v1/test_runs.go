package v1

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

// CreateRun submits a run over explicit cases or a suite.
// POST /test-runs
func (h *Handler) CreateRun(c echo.Context) error {
	var req domain.CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return WriteError(c, invalidBody())
	}

	run, err := h.runs.CreateRun(c.Request().Context(), domain.RunSpec{
		CaseIDs: req.Cases(),
		SuiteID: req.SuiteID,
		Trigger: req.Trigger,
	}, currentUser(c))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, run)
}

// CreateSuiteRun submits a run over every case of a suite.
// POST /test-runs/suite/:suite_id
func (h *Handler) CreateSuiteRun(c echo.Context) error {
	spec := domain.RunSpec{
		SuiteID: c.Param("suite_id"),
		Trigger: domain.Trigger(c.QueryParam("trigger")),
	}
	run, err := h.runs.CreateRun(c.Request().Context(), spec, currentUser(c))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, run)
}

// ListRuns lists runs newest first.
// GET /test-runs?status=&trigger=&owner=&limit=
func (h *Handler) ListRuns(c echo.Context) error {
	filter := domain.RunFilter{
		Status:  domain.RunStatus(c.QueryParam("status")),
		Trigger: domain.Trigger(c.QueryParam("trigger")),
		Owner:   c.QueryParam("owner"),
	}
	if l := c.QueryParam("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit <= 0 {
			return WriteError(c, domain.Validationf("limit must be a positive integer"))
		}
		filter.Limit = limit
	}

	seq, err := h.runs.ListRuns(c.Request().Context(), filter)
	if err != nil {
		return h.writeError(c, err)
	}
	runs := make([]*domain.TestRun, 0)
	for run, err := range seq {
		if err != nil {
			return h.writeError(c, err)
		}
		runs = append(runs, run)
	}
	return c.JSON(http.StatusOK, runs)
}

// GetRun returns one run.
// GET /test-runs/:id
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.runs.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// GetResults returns the results of a run in case order.
// GET /test-runs/:id/results
func (h *Handler) GetResults(c echo.Context) error {
	results, err := h.runs.GetResults(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	if results == nil {
		results = []domain.TestResult{}
	}
	return c.JSON(http.StatusOK, results)
}

// CancelRun cancels a pending or running run.
// POST /test-runs/:id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	run, err := h.runs.CancelRun(c.Request().Context(), c.Param("id"), currentUser(c))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// GetRunEvents retrieves the recorded events of a run.
// GET /test-runs/:id/events?after_ts=&types=
func (h *Handler) GetRunEvents(c echo.Context) error {
	runID := c.Param("id")
	afterTs := int64(0)
	if t := c.QueryParam("after_ts"); t != "" {
		val, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return WriteError(c, domain.Validationf("after_ts must be unix milliseconds"))
		}
		afterTs = val
	}
	var types []string
	if t := c.QueryParam("types"); t != "" {
		for _, typ := range strings.Split(t, ",") {
			if typ = strings.TrimSpace(typ); typ != "" {
				types = append(types, typ)
			}
		}
	}

	events, err := h.runs.GetEvents(c.Request().Context(), runID, afterTs, types)
	if err != nil {
		return h.writeError(c, err)
	}
	if events == nil {
		events = []domain.RunEvent{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id": runID,
		"events": events,
	})
}

// StreamRun upgrades to a WebSocket that receives the run's events as they happen.
// GET /test-runs/:id/stream
func (h *Handler) StreamRun(c echo.Context) error {
	if h.streams == nil {
		return WriteError(c, domain.Unavailablef("live streaming is disabled"))
	}
	// Events recorded between this check and the subscription are replayed.
	since := time.Now().UnixMilli()
	run, err := h.runs.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	if run.Status.Terminal() {
		return WriteError(c, domain.Statef("test run %s is already %s", run.ID, run.Status))
	}
	return h.streams.Serve(c, run.ID, since)
}
