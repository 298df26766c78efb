// Package routers
package routers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"modelgate/internal/ctx"
	"modelgate/internal/dispatch"
)

// RegisterServiceRoutes binds every registered operation at POST /<name>.
func RegisterServiceRoutes(e *echo.Group, svc *dispatch.Service) {
	for _, name := range svc.Operations() {
		op := name
		e.POST("/"+op, func(cc echo.Context) error {
			c := cc.(*ctx.Context)
			return svc.Dispatch(c, op)
		})
	}
}

// RegisterHealthRoutes serves the liveness and readiness probes outside the
// dispatcher. The /ping rewrite lands on /livez.
func RegisterHealthRoutes(e *echo.Echo) {
	e.GET("/livez", func(c echo.Context) error {
		return c.String(http.StatusOK, "")
	})
	e.GET("/readyz", func(c echo.Context) error {
		return c.String(http.StatusOK, "")
	})
}

// MountApp attaches a wholly separate application under a path prefix. Its
// requests bypass the dispatcher entirely.
func MountApp(e *echo.Echo, prefix string, app http.Handler) {
	e.Any(prefix+"/*", echo.WrapHandler(http.StripPrefix(prefix, app)))
}
