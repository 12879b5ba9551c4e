package router

import (
	"context"
	"crypto/subtle"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"

	"github.com/mdad-elec/cv-analysis-system/internal/api/handler"
)

// APIKeyHeader 鉴权请求头
const APIKeyHeader = "X-API-Key"

// Handlers 路由依赖的处理器
type Handlers struct {
	CV     *handler.CVHandler
	Query  *handler.QueryHandler
	Health *handler.HealthHandler
}

// RegisterRoutes 注册 API 路由，apiKey 为空时不启用鉴权
func RegisterRoutes(h *server.Hertz, handlers Handlers, apiKey string) {
	h.GET("/health", handlers.Health.HandleHealth)

	api := h.Group("/api/v1")
	api.GET("/health", handlers.Health.HandleHealth)
	if apiKey != "" {
		api.Use(apiKeyAuth(apiKey))
	}

	docs := api.Group("/documents")
	docs.POST("/upload", handlers.CV.HandleUpload)
	docs.GET("", handlers.CV.HandleList)
	docs.GET("/:id", handlers.CV.HandleGet)
	docs.GET("/:id/status", handlers.CV.HandleStatus)
	docs.DELETE("/:id", handlers.CV.HandleDelete)

	query := api.Group("/query")
	query.POST("", handlers.Query.HandleQuery)
	query.POST("/followup", handlers.Query.HandleFollowUp)
	query.GET("/:id", handlers.Query.HandleGetQuery)
}

func apiKeyAuth(apiKey string) app.HandlerFunc {
	return keyauth.New(
		keyauth.WithKeyLookUp("header:"+APIKeyHeader, ""),
		keyauth.WithValidator(func(_ context.Context, _ *app.RequestContext, key string) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1, nil
		}),
		keyauth.WithErrorHandler(func(_ context.Context, c *app.RequestContext, _ error) {
			c.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"error": "无效的API Key"})
		}),
	)
}
