package v1

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

const userContextKey = "user"

// requireAuth resolves the bearer token to an active user and stores it in the context.
func (h *Handler) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return h.authenticate(next, false)
}

// requireAuthOrQuery also accepts the token as ?token=.
func (h *Handler) requireAuthOrQuery(next echo.HandlerFunc) echo.HandlerFunc {
	return h.authenticate(next, true)
}

func (h *Handler) authenticate(next echo.HandlerFunc, allowQuery bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if token == "" && allowQuery {
			token = c.QueryParam("token")
		}
		if token == "" {
			return WriteError(c, domain.Unauthorizedf("Not authenticated"))
		}

		user, err := h.service.UserFromToken(c.Request().Context(), token)
		if err != nil {
			return h.writeError(c, err)
		}
		c.Set(userContextKey, user)
		return next(c)
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// currentUser returns the user set by requireAuth.
func currentUser(c echo.Context) *domain.User {
	user, _ := c.Get(userContextKey).(*domain.User)
	return user
}
