package webserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/talkincode/wagateway/config"
	"go.uber.org/zap"
)

// Server wraps the echo instance. Routes registered through ApiGET/ApiPOST
// require the API key when enforcement is enabled.
type Server struct {
	root *echo.Echo
	addr string
	auth []echo.MiddlewareFunc
}

// Handler registers routes on the server.
type Handler interface {
	Register(s *Server)
}

func NewServer(cfg config.WebConfig, addr string, handlers ...Handler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = JSONSerializer{}
	e.HTTPErrorHandler = errorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, HeaderAPIKey},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			zap.L().Debug("webserver: request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", c.RealIP()))
			return nil
		},
	}))

	s := &Server{root: e, addr: addr}
	if cfg.RequireApiKey {
		s.auth = []echo.MiddlewareFunc{APIKeyAuth(cfg.ApiKey)}
	} else {
		zap.L().Warn("webserver: API key enforcement disabled, operator endpoints are open")
	}
	for _, h := range handlers {
		if h != nil {
			h.Register(s)
		}
	}
	return s
}

// Echo exposes the underlying instance, mostly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.root
}

func (s *Server) GET(path string, h echo.HandlerFunc) {
	s.root.GET(path, h)
}

func (s *Server) ApiGET(path string, h echo.HandlerFunc) {
	s.root.GET(path, h, s.auth...)
}

func (s *Server) ApiPOST(path string, h echo.HandlerFunc) {
	s.root.POST(path, h, s.auth...)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	zap.L().Info("webserver: listening", zap.String("addr", s.addr))
	err := s.root.Start(s.addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.root.Shutdown(ctx)
}

const HeaderAPIKey = "X-API-Key"

// APIKeyAuth accepts the key from the X-API-Key header or as a bearer token.
func APIKeyAuth(key string) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "header:" + HeaderAPIKey + ",header:" + echo.HeaderAuthorization + ":Bearer ",
		Validator: func(provided string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(provided), []byte(key)) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			zap.L().Warn("webserver: rejected request without valid API key",
				zap.String("path", c.Path()),
				zap.String("remote_ip", c.RealIP()))
			return c.JSON(http.StatusUnauthorized, ErrorBody("UNAUTHORIZED", "Unauthorized", nil))
		},
	})
}

// ErrorBody builds the failure envelope.
func ErrorBody(code, msg string, detail interface{}) map[string]interface{} {
	body := map[string]interface{}{
		"status": false,
		"error":  msg,
		"code":   code,
	}
	if detail != nil {
		body["detail"] = detail
	}
	return body
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	msg := http.StatusText(status)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		msg = fmt.Sprint(he.Message)
	} else {
		zap.L().Error("webserver: unhandled error", zap.String("path", c.Path()), zap.Error(err))
	}
	body := ErrorBody(fmt.Sprintf("HTTP_%d", status), msg, nil)
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, body)
}
