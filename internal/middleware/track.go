// Package middleware implements the transport-level interceptor chain wrapped
// around the dispatcher.
package middleware

import (
	"context"
	"fmt"

	"github.com/aidarkhanov/nanoid"
	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"modelgate/internal/ctx"
	"modelgate/internal/metrics"
	"modelgate/internal/shared"
	"modelgate/internal/state"
)

// NewTrackMiddleware assigns a request id, bounds the request context with
// the default timeout, attaches the request-scoped context with the
// service's shared state, and logs the request outcome.
func NewTrackMiddleware(log *zap.SugaredLogger, bag *state.Bag) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqID, _ := nanoid.Generate("0123456789abcdefghijklmnopqrstuvwxyz", 28)
			logger := log.With(
				"request_id", "req_"+reqID,
			)

			timeoutCtx, cancel := context.WithTimeout(c.Request().Context(), shared.DefaultRequestTimeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(timeoutCtx))

			cc := ctx.New(c, logger, reqID, bag)
			err := next(cc)
			cc.Log.Infow("end_of_request",
				"status_code", fmt.Sprintf("%d", cc.LogValues.StatusCode),
				"operation", cc.LogValues.Operation,
				"phase", cc.LogValues.Phase,
				"duration", cc.LogValues.RequestDuration.String(),
			)
			metrics.ResponseCodes.WithLabelValues(cc.Path(), fmt.Sprintf("%d", cc.Response().Status)).Inc()
			return err
		}
	}
}

func NewRecoverMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return emw.RecoverWithConfig(emw.RecoverConfig{
		StackSize: 1 << 10, // 1 KB
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			defer func() {
				_ = log.Sync()
			}()
			log.Errorw("Api Panic", "error", err.Error())
			return c.String(500, shared.ErrInternalServerError.Err.Error())
		},
	})
}
