package webserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/talkincode/netdoctor/config"
	"go.uber.org/zap"
)

const ApiPrefix = "/api/v1"

// Validator adapts go-playground/validator to echo
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

func (v *Validator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

type Server struct {
	e    *echo.Echo
	addr string
}

// NewServer builds the echo instance with every registered API route. The
// given middlewares run before all API handlers.
func NewServer(cfg config.WebConfig, gatherer prometheus.Gatherer, mws ...echo.MiddlewareFunc) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	e.GET("/ready", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"status": "ok"})
	})

	api := e.Group(ApiPrefix, mws...)
	for _, r := range Routes() {
		api.Add(r.Method, r.Path, r.Handler, r.Middlewares...)
	}

	return &Server{e: e, addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)}
}

// Echo exposes the router, mainly for httptest.
func (s *Server) Echo() *echo.Echo {
	return s.e
}

// Start blocks until the server stops; a graceful Shutdown is not an error.
func (s *Server) Start() error {
	zap.L().Info("web server listening", zap.String("namespace", "webserver"), zap.String("addr", s.addr))
	if err := s.e.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogMethod:  true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("namespace", "webserver"),
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				zap.L().Warn("request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			if v.Latency > 5*time.Second {
				zap.L().Warn("slow request", fields...)
				return nil
			}
			zap.L().Debug("request", fields...)
			return nil
		},
	})
}
