package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yungbote/docstream-backend/internal/handlers"
	"github.com/yungbote/docstream-backend/internal/middleware"
)

type RouterConfig struct {
	FileHandler    *handlers.FileHandler
	StreamHandler  *handlers.StreamHandler
	AuthMiddleware *middleware.AuthMiddleware
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5173",
		},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	// The stream endpoint does its own identity check so it can reject
	// with an in-band error event instead of an HTTP status.
	router.GET("/api/stream", cfg.StreamHandler.Stream)

	protected := router.Group("/api")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	protected.POST("/files", cfg.FileHandler.Upload)
	protected.GET("/files", cfg.FileHandler.List)
	protected.GET("/files/:id", cfg.FileHandler.Get)
	protected.DELETE("/files/:id", cfg.FileHandler.Delete)

	return router
}
