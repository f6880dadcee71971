// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shopfiscal/internal/app"
	"shopfiscal/internal/infrastructure/http/v1/dto"
	"shopfiscal/internal/infrastructure/http/v1/handlers"
	"shopfiscal/internal/infrastructure/http/v1/middleware"
	"shopfiscal/internal/infrastructure/metrics"
	"shopfiscal/pkg/logger"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	// Engine serves every fiscal route
	Engine *app.Engine

	// Logger for request logging
	Logger *logger.Logger

	// JWTValidator for token validation
	JWTValidator middleware.JWTValidator

	// Metrics is optional; when set, request latency is recorded and /metrics is served
	Metrics *metrics.Metrics

	// Gatherer backs /metrics; defaults to the global registry
	Gatherer prometheus.Gatherer

	// Debug switches gin to debug mode
	Debug bool
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.GinMiddleware())
	}
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.Engine)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
	}

	if cfg.Metrics != nil {
		gatherer := cfg.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Auth(cfg.JWTValidator))
	{
		base := handlers.NewBaseHandler()
		registerCatalogRoutes(v1, base, cfg.Engine)

		org := v1.Group("/orgs/:orgId")
		org.Use(middleware.OrgScope())
		registerFiscalRoutes(org, base, cfg.Engine)
	}

	return router
}

// registerCatalogRoutes registers the shared fiscal catalogs.
func registerCatalogRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, e *app.Engine) {
	catalogs := rg.Group("/catalog")

	RegisterCatalogRoutes(catalogs.Group("/regimes"),
		handlers.NewCatalogHandler(base, e.Catalog.Regimes, dto.CreateCatalogRequest.ToRegime))
	RegisterCatalogRoutes(catalogs.Group("/tax-types"),
		handlers.NewCatalogHandler(base, e.Catalog.TaxTypes, dto.CreateCatalogRequest.ToTaxType))
	RegisterCatalogRoutes(catalogs.Group("/classifications"),
		handlers.NewCatalogHandler(base, e.Catalog.Classifications, dto.CreateClassificationRequest.ToEntity))
	RegisterCatalogRoutes(catalogs.Group("/obligation-kinds"),
		handlers.NewCatalogHandler(base, e.Catalog.ObligationKinds, dto.CreateObligationKindRequest.ToEntity))
}

// registerFiscalRoutes registers the org-scoped engine operations.
func registerFiscalRoutes(org *gin.RouterGroup, base *handlers.BaseHandler, e *app.Engine) {
	calc := handlers.NewCalculationHandler(base, e.Calculator, e.Ledgers)
	calculations := org.Group("/calculations")
	{
		calculations.POST("", calc.Calculate)
		calculations.POST("/post", calc.Post)
		calculations.GET("/summary", calc.Summary)
	}

	ledgerHandler := handlers.NewLedgerHandler(base, e.Ledgers)
	ledgers := org.Group("/ledgers")
	{
		ledgers.GET("", ledgerHandler.List)
		ledgers.POST("/close", ledgerHandler.CloseLedger)
		ledgers.POST("/reopen", ledgerHandler.ReopenLedger)
	}
	periods := org.Group("/periods/:year/:month")
	{
		periods.POST("/close", ledgerHandler.ClosePeriod)
		periods.POST("/reopen", ledgerHandler.ReopenPeriod)
	}

	ruleHandler := handlers.NewRuleHandler(base, e.Rules)
	rules := org.Group("/rules")
	{
		rules.GET("", ruleHandler.List)
		rules.POST("", ruleHandler.Create)
		rules.GET("/:id", ruleHandler.Get)
		rules.PATCH("/:id", ruleHandler.Update)
		rules.DELETE("/:id", ruleHandler.Delete)
		rules.POST("/:id/deactivate", ruleHandler.Deactivate)
	}

	obligationHandler := handlers.NewObligationHandler(base, e.Obligations)
	obligations := org.Group("/obligations")
	{
		obligations.GET("", obligationHandler.List)
		obligations.POST("", obligationHandler.Create)
		obligations.GET("/:id", obligationHandler.Get)
		obligations.POST("/:id/transition", obligationHandler.Transition)
		obligations.POST("/:id/retry", obligationHandler.Retry)
	}

	settingHandler := handlers.NewSettingHandler(base, e.Settings)
	settings := org.Group("/settings")
	{
		settings.GET("", settingHandler.List)
		settings.POST("", settingHandler.Create)
		settings.GET("/effective", settingHandler.Effective)
		settings.PATCH("/:id", settingHandler.Update)
	}

	auditHandler := handlers.NewAuditHandler(base, e.Audit)
	org.GET("/audit", auditHandler.Query)
}
