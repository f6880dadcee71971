package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"shopfiscal/internal/core/apperror"
	appctx "shopfiscal/internal/core/context"
	"shopfiscal/internal/domain/auth"
)

const principalKey = "principal"

// JWTValidator interface for token validation.
type JWTValidator interface {
	ValidateToken(tokenString string) (*auth.Principal, error)
}

// Auth middleware validates the bearer token and establishes the audit actor.
func Auth(validator JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			abortUnauthorized(c, "invalid authorization header format")
			return
		}

		principal, err := validator.ValidateToken(parts[1])
		if err != nil {
			abortUnauthorized(c, "invalid token")
			return
		}

		actor := principal.Actor
		actor.IPAddress = c.ClientIP()
		actor.UserAgent = c.Request.UserAgent()

		ctx := appctx.WithActor(c.Request.Context(), &actor)
		c.Request = c.Request.WithContext(ctx)

		c.Set(principalKey, principal)
		c.Set("user_id", actor.UserID)

		c.Next()
	}
}

// GetPrincipal returns the principal set by Auth.
func GetPrincipal(c *gin.Context) *auth.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(*auth.Principal); ok {
			return p
		}
	}
	return nil
}

// RequireRole middleware checks if user has one of the roles. Admins pass.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := GetPrincipal(c)
		if principal == nil {
			abortUnauthorized(c, "authentication required")
			return
		}
		if principal.IsAdmin {
			c.Next()
			return
		}

		for _, required := range roles {
			for _, userRole := range principal.Actor.Roles {
				if userRole == required {
					c.Next()
					return
				}
			}
		}
		_ = c.Error(
			apperror.NewForbidden("insufficient permissions").
				WithDetail("required_roles", roles),
		)
		c.Abort()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	_ = c.Error(apperror.NewUnauthorized(message))
	c.Abort()
}
