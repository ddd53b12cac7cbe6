package app

import (
	"github.com/labstack/echo/v4"
	"github.com/robfig/cron/v3"
	"github.com/talkincode/netdoctor/config"
	"github.com/talkincode/netdoctor/internal/diagnostic"
	"gorm.io/gorm"
)

// DBProvider provides database access
type DBProvider interface {
	DB() *gorm.DB
}

// ConfigProvider provides application configuration
type ConfigProvider interface {
	Config() *config.AppConfig
}

// SchedulerProvider provides task scheduling capability
type SchedulerProvider interface {
	Scheduler() *cron.Cron
}

// DiagnosticsProvider exposes the diagnostic entry points to the API layer
type DiagnosticsProvider interface {
	Diagnostics() *diagnostic.Service
	Ingestor() *diagnostic.Ingestor
}

// AppContext combines all provider interfaces for full application context
// Handlers should depend on specific providers or this combined interface
type AppContext interface {
	DBProvider
	ConfigProvider
	SchedulerProvider
	DiagnosticsProvider

	MigrateDB(track bool) error
}

// ContextKey is the echo context key holding the AppContext
const ContextKey = "appCtx"

// Middleware injects appCtx into every request.
func Middleware(appCtx AppContext) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(ContextKey, appCtx)
			return next(c)
		}
	}
}
