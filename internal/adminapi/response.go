package adminapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/wagateway/internal/domain"
	"github.com/talkincode/wagateway/internal/webserver"
)

// ok writes the success envelope, merging data into the top level.
func ok(c echo.Context, data map[string]interface{}) error {
	body := map[string]interface{}{"status": true}
	for k, v := range data {
		body[k] = v
	}
	return c.JSON(http.StatusOK, body)
}

func fail(c echo.Context, status int, code, msg string, detail interface{}) error {
	return c.JSON(status, webserver.ErrorBody(code, msg, detail))
}

// errorStatus maps the gateway sentinel errors onto HTTP status and code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, "MISSING_FIELDS"
	case errors.Is(err, domain.ErrTerminalLogout):
		return http.StatusServiceUnavailable, "LOGGED_OUT"
	case errors.Is(err, domain.ErrNotConnected):
		return http.StatusServiceUnavailable, "NOT_CONNECTED"
	case errors.Is(err, domain.ErrQueueClosed):
		return http.StatusServiceUnavailable, "SHUTTING_DOWN"
	case errors.Is(err, domain.ErrTransportFailure):
		return http.StatusBadGateway, "SEND_FAILED"
	case errors.Is(err, domain.ErrPersistenceFailure):
		return http.StatusInternalServerError, "PERSISTENCE_FAILED"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
