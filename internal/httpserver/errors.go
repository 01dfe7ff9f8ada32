package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/signalgraph/internal/errors"
	"github.com/tphakala/signalgraph/internal/logger"
)

const componentHTTP = "httpserver"

// ErrDisabled is returned by New when the status server is not enabled
var ErrDisabled = errors.Newf("status server not enabled in settings").
	Component(componentHTTP).
	Category(errors.CategoryConfiguration).
	Build()

// ErrNoEngine is returned by New without an engine to report on
var ErrNoEngine = errors.Newf("status server requires an engine").
	Component(componentHTTP).
	Category(errors.CategoryConfiguration).
	Build()

// ErrorResponse is the JSON body of a failed request
type ErrorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
}

// statusFor maps an error category to an HTTP status code
func statusFor(err error) int {
	switch {
	case errors.IsCategory(err, errors.CategoryValidation),
		errors.IsCategory(err, errors.CategoryPort):
		return http.StatusBadRequest
	case errors.IsCategory(err, errors.CategoryNotFound):
		return http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryLimit):
		return http.StatusTooManyRequests
	case errors.IsCategory(err, errors.CategoryState),
		errors.IsCategory(err, errors.CategoryConflict):
		return http.StatusConflict
	case errors.IsCategory(err, errors.CategoryGraph):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// handleError writes err as JSON with the status its category maps to
func (s *Server) handleError(c echo.Context, err error, message string) error {
	code := statusFor(err)
	resp := ErrorResponse{Error: message + ": " + err.Error()}
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		resp.Category = ee.GetCategory()
	}
	if code >= http.StatusInternalServerError {
		s.log.Error(message, logger.Error(err), logger.String("path", c.Request().URL.Path))
	} else {
		s.log.Debug(message, logger.Error(err), logger.String("path", c.Request().URL.Path))
	}
	return c.JSON(code, resp)
}
