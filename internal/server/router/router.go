package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/stoneweigh/internal/server/handlers"
)

// Handlers groups the HTTP adapters mounted by New.
type Handlers struct {
	Weighing *handlers.WeighingHandler
	Stream   *handlers.StreamHandler
	Ingest   *handlers.IngestHandler
}

// New wires the Gin engine with required routes and middlewares.
func New(h Handlers, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(zapLoggerMiddleware(logger))

	api := r.Group("/api")
	api.GET("/scales", h.Weighing.ListScales)
	api.GET("/scales/stream", h.Stream.Stream)
	api.GET("/scales/:id", h.Weighing.GetScale)
	api.GET("/scales/:id/history", h.Weighing.History)
	api.POST("/scales/:id/capture", h.Weighing.Capture)
	api.POST("/scales/:id/cancel", h.Weighing.Cancel)
	api.POST("/sessions", h.Weighing.OpenSession)
	api.POST("/anpr/trigger", h.Weighing.TriggerPlate)
	api.POST("/anpr/callback", h.Weighing.PlateCallback)
	api.POST("/transaction", h.Weighing.SubmitTransaction)
	if h.Ingest != nil {
		api.POST("/external/scale", h.Ingest.Receive)
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	if logger != nil {
		logger.Info("router initialized")
	}

	return r
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// the live stream logs its own connect and disconnect
		if c.FullPath() == "/api/scales/stream" {
			return
		}
		logger.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
