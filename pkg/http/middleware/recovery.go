package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"TradePipe/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Recover turns handler panics into a 500.
func Recover(log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic",
						logger.String("path", c.Path()),
						logger.Any("panic", fmt.Sprint(r)),
						logger.String("stack", string(debug.Stack())),
					)
					err = c.JSON(http.StatusInternalServerError, map[string]interface{}{
						"status":  http.StatusInternalServerError,
						"message": "Internal Server Error",
					})
				}
			}()
			return next(c)
		}
	}
}
