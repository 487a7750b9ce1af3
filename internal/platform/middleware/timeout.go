package middleware

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout puts a deadline on the request context. Handlers run on the
// request goroutine; pgx aborts in-flight queries when the deadline passes and
// the error handler renders the resulting DeadlineExceeded as 504.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 {
				return next(c)
			}
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err == nil && ctx.Err() == context.DeadlineExceeded && !c.Response().Committed {
				return context.DeadlineExceeded
			}
			return err
		}
	}
}
