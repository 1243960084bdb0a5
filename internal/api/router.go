package api

import (
	"github.com/gin-gonic/gin"
	"github.com/tywang/bookhaul/internal/api/handler"
	"github.com/tywang/bookhaul/internal/api/middleware"
	"github.com/tywang/bookhaul/internal/logger"
	"github.com/tywang/bookhaul/internal/repository"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(repo *repository.RecordRepository, mode string, log *logger.Logger) *gin.Engine {
	// Set Gin mode
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(log))

	// Create handlers
	healthHandler := handler.NewHealthHandler()
	statusHandler := handler.NewStatusHandler(repo)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		v1.GET("/status", statusHandler.Status)
		v1.GET("/records", statusHandler.Records)
	}

	return r
}
