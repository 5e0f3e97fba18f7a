package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

// GetSettings returns the execution settings, or the defaults when none were saved.
// GET /api/settings
func (h *Handler) GetSettings(c echo.Context) error {
	st, err := h.service.GetSettings(c.Request().Context())
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// SaveSettings replaces the execution settings.
// POST /api/settings
func (h *Handler) SaveSettings(c echo.Context) error {
	var st domain.Settings
	if err := c.Bind(&st); err != nil {
		return WriteError(c, invalidBody())
	}
	saved, err := h.service.SaveSettings(c.Request().Context(), currentUser(c), st)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, saved)
}

// TestConnection probes a remote execution target.
// POST /api/settings/test-connection
func (h *Handler) TestConnection(c echo.Context) error {
	var req domain.ConnectionTestRequest
	if err := c.Bind(&req); err != nil {
		return WriteError(c, invalidBody())
	}
	result, err := h.service.TestConnection(c.Request().Context(), req)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
