package v1

import (
	"github.com/gin-gonic/gin"

	"shopfiscal/internal/infrastructure/http/v1/middleware"
)

// RoleCatalogAdmin may create catalog entries.
const RoleCatalogAdmin = "fiscal_admin"

// CatalogRouteHandler defines the interface for catalog handlers.
type CatalogRouteHandler interface {
	List(c *gin.Context)
	Create(c *gin.Context)
	Get(c *gin.Context)
}

// RegisterCatalogRoutes registers list, get and create for one catalog.
// Reads are open to every authenticated caller; creation needs RoleCatalogAdmin.
//
// Usage:
//
//	handler := handlers.NewCatalogHandler(base, engine.Catalog.Regimes, dto.CreateCatalogRequest.ToRegime)
//	RegisterCatalogRoutes(catalogs.Group("/regimes"), handler)
func RegisterCatalogRoutes(group *gin.RouterGroup, handler CatalogRouteHandler) {
	group.GET("", handler.List)
	group.POST("", middleware.RequireRole(RoleCatalogAdmin), handler.Create)
	group.GET("/:id", handler.Get)
}
