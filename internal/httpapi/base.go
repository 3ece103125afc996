// Package httpapi holds what the gin handlers share: error rendering and
// caller identity.
package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"postbox/internal/constants"
	"postbox/internal/logger"
	"postbox/internal/mediator"
	"postbox/pkg/errors"
)

type BaseHandler struct {
	Mediator *mediator.Mediator
	Logger   logger.Logger
}

// HandleError writes err. Server faults are logged with their cause; the
// response body never carries it.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.Logger.DebugwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}

	c.JSON(status, errors.ToErrorResponse(err))
}

// BindError rejects a malformed body before it reaches the mediator.
func (h *BaseHandler) BindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
		errors.ErrValidation.WithCause(err).WithDetail("message", "malformed request body"),
	))
}

// CallerID returns the user id asserted by the identity layer in front of
// this service, or 0 when the header is absent.
func CallerID(c *gin.Context) (int64, error) {
	raw := c.GetHeader(constants.UserIDHeader)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.ErrUnauthorized.WithDetail("message", "invalid "+constants.UserIDHeader+" header")
	}
	return id, nil
}

// RequireCaller is CallerID for routes that cannot run anonymously.
func RequireCaller(c *gin.Context) (int64, error) {
	id, err := CallerID(c)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, errors.ErrUnauthorized.WithDetail("message", constants.UserIDHeader+" header is required")
	}
	return id, nil
}

// ParamID parses a positive integer path parameter.
func ParamID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Validation([]string{name + " must be a positive integer"})
	}
	return id, nil
}

// QueryInt parses an optional non-negative integer query parameter.
func QueryInt(c *gin.Context, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, errors.Validation([]string{name + " must be a non-negative integer"})
	}
	return v, nil
}
