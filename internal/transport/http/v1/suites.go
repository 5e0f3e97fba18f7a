package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

// CreateSuite creates a test suite.
// POST /test-suites
func (h *Handler) CreateSuite(c echo.Context) error {
	var req domain.CreateSuiteRequest
	if err := c.Bind(&req); err != nil {
		return WriteError(c, invalidBody())
	}
	suite, err := h.service.CreateSuite(c.Request().Context(), req)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, suite)
}

// ListSuites lists every suite.
// GET /test-suites/list
func (h *Handler) ListSuites(c echo.Context) error {
	suites, err := h.service.ListSuites(c.Request().Context())
	if err != nil {
		return h.writeError(c, err)
	}
	if suites == nil {
		suites = []domain.TestSuite{}
	}
	return c.JSON(http.StatusOK, suites)
}

// GET /test-suites/:id
func (h *Handler) GetSuite(c echo.Context) error {
	suite, err := h.service.GetSuite(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, suite)
}

// ListSuiteTests returns the case ids of a suite in run order.
// GET /test-suites/:id/tests
func (h *Handler) ListSuiteTests(c echo.Context) error {
	suiteID := c.Param("id")
	ids, err := h.service.ListSuiteCases(c.Request().Context(), suiteID)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"suite_id": suiteID,
		"tests":    ids,
	})
}
