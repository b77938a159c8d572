package router

import (
	"fleetscale/app/handler"
	"fleetscale/app/middleware"

	"github.com/gin-gonic/gin"
)

// Router wires the telemetry API's routes onto a gin engine.
type Router struct {
	telemetryHandler *handler.TelemetryHandler
}

// NewRouter creates a new Router.
func NewRouter(telemetryHandler *handler.TelemetryHandler) *Router {
	return &Router{telemetryHandler: telemetryHandler}
}

// Setup registers every route on engine.
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	cp := engine.Group("/control_plane")
	{
		cp.POST("/ingest_requests", r.telemetryHandler.IngestRequests)
		cp.GET("/query_interval", r.telemetryHandler.QueryInterval)
		cp.GET("/ready_replicas", r.telemetryHandler.ReadyReplicas)
		cp.GET("/replica_info", r.telemetryHandler.ReplicaInfo)
		cp.GET("/replica_counts", r.telemetryHandler.ReplicaCounts)
		cp.POST("/terminate", r.telemetryHandler.Terminate)
	}

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
}
