package middleware

import (
	"github.com/gin-gonic/gin"

	"shopfiscal/internal/core/apperror"
	appctx "shopfiscal/internal/core/context"
	"shopfiscal/internal/core/id"
)

const orgIDKey = "org_id"

// OrgScope resolves the :orgId path parameter and checks that the caller may act for it.
// Must run after Auth.
func OrgScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, err := id.Parse(c.Param("orgId"))
		if err != nil || id.IsNil(orgID) {
			_ = c.Error(apperror.NewValidation("invalid organization id").WithDetail("field", "orgId"))
			c.Abort()
			return
		}

		principal := GetPrincipal(c)
		if principal == nil {
			abortUnauthorized(c, "authentication required")
			return
		}
		if !principal.CanAccessOrg(orgID) {
			_ = c.Error(apperror.NewForbidden("no access to organization").WithDetail("org_id", orgID.String()))
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(appctx.WithOrg(c.Request.Context(), orgID.String()))
		c.Set(orgIDKey, orgID)

		c.Next()
	}
}

// GetOrgID returns the organization resolved by OrgScope.
func GetOrgID(c *gin.Context) (id.ID, bool) {
	if v, ok := c.Get(orgIDKey); ok {
		orgID, ok := v.(id.ID)
		return orgID, ok
	}
	return id.ID{}, false
}
