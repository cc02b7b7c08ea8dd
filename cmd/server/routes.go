package main

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/infoboard/internal/httpapi"
	"github.com/MarkoPoloResearchLab/infoboard/internal/metrics"
)

const (
	routeRoot                   = "/"
	routeIndex                  = "/index.html"
	routeDashboardScript        = "/dashboard.js"
	routeHealth                 = "/healthz"
	routeMetrics                = "/metrics"
	apiRoutePrefix              = "/api"
	apiRouteKey                 = "/key"
	apiRouteNews                = "/news"
	apiRouteAnalyzeNews         = "/analyze-news"
	dashboardRoutePrefix        = "/api/dashboard"
	dashboardRouteEvents        = "/events"
	dashboardRouteLocation      = "/location"
	dashboardRouteWidgets       = "/widgets"
	dashboardRouteWidget        = "/widgets/:id"
	dashboardRouteWidgetRefresh = "/widgets/:id/refresh"
	corsOriginWildcard          = "*"
	corsHeaderAuthorization     = "Authorization"
	corsHeaderContentType       = "Content-Type"
	corsMaxAge                  = 12 * time.Hour
)

var (
	corsAllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	corsAllowedHeaders = []string{corsHeaderAuthorization, corsHeaderContentType}
	corsExposedHeaders = []string{corsHeaderContentType}
)

func newRouter(mode ServeMode, handlers *httpapi.DashboardHandlers, collector *metrics.Collector, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger(logger))
	router.Use(httpapi.RequestMetrics(collector))

	registerOperationalRoutes(router, handlers, collector)
	if mode.servesProxies() {
		registerProxyRoutes(router, handlers, newProxyCORS())
	}
	if mode.servesDashboard() {
		registerDashboardRoutes(router, handlers)
	}
	return router
}

// newProxyCORS lets dashboards hosted on other origins call the proxies without credentials.
func newProxyCORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{corsOriginWildcard},
		AllowMethods:     corsAllowedMethods,
		AllowHeaders:     corsAllowedHeaders,
		ExposeHeaders:    corsExposedHeaders,
		AllowCredentials: false,
		MaxAge:           corsMaxAge,
	})
}

func registerOperationalRoutes(router *gin.Engine, handlers *httpapi.DashboardHandlers, collector *metrics.Collector) {
	router.GET(routeHealth, handlers.Health)
	router.GET(routeMetrics, gin.WrapH(collector.Handler()))
}

func registerProxyRoutes(router *gin.Engine, handlers *httpapi.DashboardHandlers, proxyCORS gin.HandlerFunc) {
	apiGroup := router.Group(apiRoutePrefix)
	apiGroup.Use(proxyCORS)
	apiGroup.GET(apiRouteKey, handlers.IssueKey)
	apiGroup.GET(apiRouteNews, handlers.News)
	apiGroup.GET(apiRouteAnalyzeNews, handlers.AnalyzeNews)
	apiGroup.OPTIONS(apiRouteKey, func(context *gin.Context) { context.Status(http.StatusNoContent) })
	apiGroup.OPTIONS(apiRouteNews, func(context *gin.Context) { context.Status(http.StatusNoContent) })
	apiGroup.OPTIONS(apiRouteAnalyzeNews, func(context *gin.Context) { context.Status(http.StatusNoContent) })
}

func registerDashboardRoutes(router *gin.Engine, handlers *httpapi.DashboardHandlers) {
	router.GET(routeRoot, handlers.Page)
	router.GET(routeIndex, handlers.Page)
	router.GET(routeDashboardScript, handlers.DashboardJS)

	dashboardGroup := router.Group(dashboardRoutePrefix)
	dashboardGroup.GET(dashboardRouteEvents, handlers.StreamEvents)
	dashboardGroup.POST(dashboardRouteLocation, handlers.Location)
	dashboardGroup.GET(dashboardRouteWidgets, handlers.ListWidgets)
	dashboardGroup.GET(dashboardRouteWidget, handlers.WidgetFragment)
	dashboardGroup.POST(dashboardRouteWidgetRefresh, handlers.RefreshWidget)

	router.NoRoute(handlers.Static)
}
