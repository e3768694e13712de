package api

import (
	"time"
	"waas-dispatch-service/internal/adapters/realtime"
	"waas-dispatch-service/internal/api/handlers"
	"waas-dispatch-service/internal/ports"
	"waas-dispatch-service/internal/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Deps are the services the HTTP layer talks to.
type Deps struct {
	Store      ports.Store
	Grouping   *services.GroupingEngine
	Dispatcher *services.DispatchCoordinator
	Tracking   *services.TrackingService
	Scheduler  *services.SweepScheduler
	Hub        *realtime.Hub
}

// NewRouter wires HTTP handlers with their dependencies.
// This is the API composition root (handlers stay unaware of concrete adapters).
func NewRouter(d Deps, environment string, log zerolog.Logger) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger(log))
	router.Use(cors.New(cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		AllowOrigins:  []string{"*"},
		MaxAge:        12 * time.Hour,
	}))

	reports := &handlers.ReportHandler{Grouping: d.Grouping, Store: d.Store, Log: log}
	groups := &handlers.GroupHandler{Store: d.Store, Dispatcher: d.Dispatcher, Log: log}
	workers := &handlers.WorkerHandler{Store: d.Store, Tracking: d.Tracking, Log: log}
	progress := &handlers.ProgressHandler{Tracking: d.Tracking, Hub: d.Hub, Log: log}
	collections := &handlers.CollectionHandler{Dispatcher: d.Dispatcher, Log: log}
	tasks := &handlers.TaskHandler{Store: d.Store, Log: log}
	admin := &handlers.AdminHandler{Scheduler: d.Scheduler, Log: log}

	router.GET("/health", handlers.Health)

	router.POST("/reports", reports.Create)
	router.GET("/reports", reports.List)

	router.GET("/groups", groups.List)
	router.POST("/groups/:id/dispatch", groups.Dispatch)

	router.PUT("/workers/:id", workers.Upsert)
	router.POST("/workers/:id/location", workers.UpdateLocation)
	router.GET("/workers/:id/tasks", workers.Tasks)

	router.GET("/users/:id/progress", progress.ForUser)
	router.GET("/ws/progress/:userId", progress.Stream)

	router.POST("/collections/complete", collections.Complete)
	router.GET("/tasks/:id/route", tasks.Route)

	router.POST("/admin/sweep", admin.Sweep)

	return router
}
