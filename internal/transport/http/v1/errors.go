package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error  ErrorInfo `json:"error"`
	Detail string    `json:"detail"`
}

type ErrorInfo struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindState:
		return http.StatusConflict
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err with the status of its kind.
// Unclassified errors are reported as internal without their detail.
func WriteError(c echo.Context, err error) error {
	kind := domain.KindOf(err)
	message := domain.MessageOf(err)
	if kind == domain.KindInternal {
		message = "internal server error"
	}
	status := StatusFor(kind)
	if status == http.StatusUnauthorized {
		c.Response().Header().Set("WWW-Authenticate", "Bearer")
	}
	return c.JSON(status, ErrorBody{
		Error:  ErrorInfo{Kind: kind, Message: message},
		Detail: message,
	})
}

// writeError logs internal failures before rendering them.
func (h *Handler) writeError(c echo.Context, err error) error {
	if domain.KindOf(err) == domain.KindInternal {
		h.logger.Error("request failed",
			zap.String("method", c.Request().Method), zap.String("path", c.Path()), zap.Error(err))
	}
	return WriteError(c, err)
}

func invalidBody() error {
	return domain.Validationf("invalid request body")
}
