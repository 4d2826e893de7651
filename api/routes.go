package api

import (
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailsync/api/handlers"
	"github.com/customeros/mailsync/api/middleware"
	"github.com/customeros/mailsync/internal/tracing"
)

const (
	APIKeyHeader = "X-MAILSYNC-API-KEY"
	appSource    = "mailsync"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(r *gin.Engine, apiHandlers *handlers.APIHandlers, apikey string) {
	if apiHandlers == nil {
		panic("Handlers cannot be nil")
	}

	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	r.GET("/health", handlers.HealthCheck)
	r.GET("/status", apiHandlers.Status())

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  APIKeyHeader,
		ValidAPIKey: apikey,
	})

	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	api.Use(middleware.CustomContextMiddleware(appSource))
	api.Use(middleware.TracingMiddleware())
	{
		accounts := api.Group("/accounts")
		{
			accounts.GET("", apiHandlers.ListAccounts())
			accounts.POST("", apiHandlers.AddAccount())
			accounts.GET("/:accountId", apiHandlers.GetAccount())
			accounts.DELETE("/:accountId", apiHandlers.RemoveAccount())

			accounts.POST("/:accountId/sync/start", apiHandlers.StartSync())
			accounts.POST("/:accountId/sync/stop", apiHandlers.StopSync())
			accounts.GET("/:accountId/sync", apiHandlers.SyncStatus())

			accounts.GET("/:accountId/folders", apiHandlers.ListFolders())
			accounts.GET("/:accountId/folders/:folderId/emails", apiHandlers.ListEmails())

			accounts.GET("/:accountId/operations", apiHandlers.ListOperations())
			accounts.POST("/:accountId/operations", apiHandlers.EnqueueOperation())
			accounts.POST("/:accountId/operations/drain", apiHandlers.DrainOperations())
		}
	}
}
