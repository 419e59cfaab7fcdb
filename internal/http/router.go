package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SetupRouter creates and configures the Gin router.
// An empty allowedOrigins list allows every origin.
func SetupRouter(handler *Handler, allowedOrigins []string) *gin.Engine {

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(handler.log))

	// Setup CORS middleware.
	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) > 0 {
		corsConfig.AllowOrigins = allowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	// API v1 routes.
	v1 := router.Group("/v1")
	extractions := v1.Group("/extractions")
	extractions.POST("", handler.CreateExtraction)
	extractions.GET("/:id", handler.GetExtraction)
	extractions.GET("/:id/file", handler.DownloadExtraction)

	// Health check.
	router.GET("/health", handler.HealthCheck)

	return router
}
