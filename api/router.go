package api

import (
	"clipwave/broadcast"
	"clipwave/config"
	"clipwave/store"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func SetupRouter(s *store.Store, b *broadcast.Broadcaster, sched Scheduler, cfg *config.Config, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(log))
	h := NewHandler(s, b, sched, cfg)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Browsers cannot set headers on WebSocket upgrades, so the stream sits
	// outside the authenticated group.
	r.GET("/ws/:id", h.handleStream)

	v := r.Group("/api")
	v.Use(AuthMiddleware(cfg))
	{
		v.POST("/jobs", h.handleCreateJob)
		v.GET("/jobs", h.handleListJobs)
		v.GET("/jobs/:id", h.handleGetJob)
		v.DELETE("/jobs/:id", h.handleDeleteJob)

		v.GET("/videos/:id", h.handleGetVideo)
		v.GET("/videos/:id/clips/:clipId", h.handleGetClip)
	}
	return r
}
