package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

// CreateTestCase adds a case to the catalog.
// POST /test-cases
func (h *Handler) CreateTestCase(c echo.Context) error {
	var req domain.CreateTestCaseRequest
	if err := c.Bind(&req); err != nil {
		return WriteError(c, invalidBody())
	}
	tc, err := h.service.CreateTestCase(c.Request().Context(), req)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, tc)
}

// ListTestCases lists cases, optionally narrowed by suite and status.
// GET /test-cases?suite_id=&status=
func (h *Handler) ListTestCases(c echo.Context) error {
	cases, err := h.service.ListTestCases(c.Request().Context(), domain.CaseFilter{
		SuiteID: c.QueryParam("suite_id"),
		Status:  domain.CaseStatus(c.QueryParam("status")),
	})
	if err != nil {
		return h.writeError(c, err)
	}
	if cases == nil {
		cases = []domain.TestCase{}
	}
	return c.JSON(http.StatusOK, cases)
}

// GET /test-cases/:id
func (h *Handler) GetTestCase(c echo.Context) error {
	tc, err := h.service.GetTestCase(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, tc)
}

// UpdateTestCase applies a partial update.
// PUT /test-cases/:id
func (h *Handler) UpdateTestCase(c echo.Context) error {
	var update domain.TestCaseUpdate
	if err := c.Bind(&update); err != nil {
		return WriteError(c, invalidBody())
	}
	tc, err := h.service.UpdateTestCase(c.Request().Context(), c.Param("id"), update)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, tc)
}

// DELETE /test-cases/:id
func (h *Handler) DeleteTestCase(c echo.Context) error {
	caseID := c.Param("id")
	if err := h.service.DeleteTestCase(c.Request().Context(), caseID); err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Test case " + caseID + " deleted",
	})
}
