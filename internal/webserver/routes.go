package webserver

import (
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
)

// WebRoute an API route registered under /api/v1
type WebRoute struct {
	Method      string
	Path        string
	Handler     echo.HandlerFunc
	Middlewares []echo.MiddlewareFunc
}

var (
	routesMu  sync.Mutex
	apiRoutes []WebRoute
)

func addRoute(method, path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	routesMu.Lock()
	defer routesMu.Unlock()
	apiRoutes = append(apiRoutes, WebRoute{Method: method, Path: path, Handler: h, Middlewares: m})
}

func ApiGET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	addRoute(http.MethodGet, path, h, m...)
}

func ApiPOST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	addRoute(http.MethodPost, path, h, m...)
}

func ApiPUT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	addRoute(http.MethodPut, path, h, m...)
}

func ApiDELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	addRoute(http.MethodDelete, path, h, m...)
}

// Routes snapshot of the registered API routes
func Routes() []WebRoute {
	routesMu.Lock()
	defer routesMu.Unlock()
	out := make([]WebRoute, len(apiRoutes))
	copy(out, apiRoutes)
	return out
}
