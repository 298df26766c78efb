package middleware

import (
	"github.com/labstack/echo/v4"
)

// NewPingRewriteMiddleware aliases the conventional /ping probe onto the
// liveness endpoint before routing happens. Registered with echo.Pre.
func NewPingRewriteMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.URL.Path == "/ping" {
				req.URL.Path = "/livez"
			}
			return next(c)
		}
	}
}
