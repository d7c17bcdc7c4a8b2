package httptransport

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/stridehq/stride-scheduler/internal/transport/http/handler"
	"github.com/stridehq/stride-scheduler/internal/transport/http/middleware"

	sloggin "github.com/samber/slog-gin"
)

func NewRouter(logger *slog.Logger, taskHandler *handler.TaskHandler, hmacKey []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	authMW := middleware.Auth(hmacKey)

	tasks := r.Group("/tasks", authMW)
	tasks.POST("", taskHandler.Create)
	tasks.GET("", taskHandler.List)
	tasks.GET("/:id", taskHandler.GetByUUID)
	tasks.POST("/:id/pause", taskHandler.Pause)
	tasks.POST("/:id/resume", taskHandler.Resume)
	tasks.POST("/:id/cancel", taskHandler.Cancel)
	tasks.POST("/:id/run", taskHandler.RunNow)
	tasks.PUT("/:id/schedule", taskHandler.UpdateSchedule)
	tasks.PATCH("/:id", taskHandler.UpdateMetadata)
	tasks.DELETE("/:id", taskHandler.Delete)
	tasks.GET("/:id/executions", taskHandler.ListHistory)

	return r
}
