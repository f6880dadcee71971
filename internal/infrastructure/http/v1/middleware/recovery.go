// Package middleware provides HTTP middleware components.
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"shopfiscal/pkg/logger"
)

// Recovery turns a handler panic into an INTERNAL_ERROR response.
// The stack goes to the log only.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			logger.Error(c.Request.Context(), "handler panicked",
				"route", c.FullPath(),
				"method", c.Request.Method,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			_ = c.Error(fmt.Errorf("panic: %v", p))
			c.AbortWithStatusJSON(http.StatusInternalServerError, internalBody(c))
		}()
		c.Next()
	}
}
