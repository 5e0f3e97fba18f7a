package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

// LoginRequest carries credentials as a form or as JSON.
type LoginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// Login exchanges credentials for an access token.
// POST /api/auth/token
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return WriteError(c, invalidBody())
	}
	if req.Username == "" || req.Password == "" {
		return WriteError(c, domain.Validationf("username and password are required"))
	}
	token, err := h.service.Authenticate(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, token)
}

// Me returns the authenticated user.
// GET /api/auth/me
func (h *Handler) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, currentUser(c))
}

// Register creates a user. Admin only.
// POST /api/auth/register
func (h *Handler) Register(c echo.Context) error {
	var req domain.RegisterUserRequest
	if err := c.Bind(&req); err != nil {
		return WriteError(c, invalidBody())
	}
	user, err := h.service.RegisterUser(c.Request().Context(), currentUser(c), req)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, user)
}

// ListUsers lists every user. Admin only.
// GET /api/auth/users
func (h *Handler) ListUsers(c echo.Context) error {
	users, err := h.service.ListUsers(c.Request().Context(), currentUser(c))
	if err != nil {
		return h.writeError(c, err)
	}
	if users == nil {
		users = []domain.User{}
	}
	return c.JSON(http.StatusOK, users)
}

// DeleteUser removes a user. Admin only.
// DELETE /api/auth/users/:id
func (h *Handler) DeleteUser(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return WriteError(c, domain.Validationf("invalid user id"))
	}
	if err := h.service.DeleteUser(c.Request().Context(), currentUser(c), id); err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "User deleted successfully"})
}

// Logout is stateless: tokens expire on their own.
// POST /api/auth/logout
func (h *Handler) Logout(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"message": "Logged out successfully"})
}
