package api

import (
	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/voxgate/internal/middleware"
	"github.com/NikhilSetiya/voxgate/pkg/config"
	"github.com/NikhilSetiya/voxgate/pkg/health"
	"github.com/NikhilSetiya/voxgate/pkg/logging"
	"github.com/NikhilSetiya/voxgate/pkg/metrics"
	"github.com/NikhilSetiya/voxgate/pkg/tracing"
)

// multipartOverhead leaves room for form boundaries around the audio part
const multipartOverhead = 1 << 20

// NewRouter creates and configures the API router. Metrics, tracing and
// health may be nil.
func NewRouter(cfg *config.Config, svc Service, healthSvc *health.Service, m *metrics.Metrics, ts *tracing.TracingService, logger *logging.Logger) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	router := gin.New()

	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.ErrorLoggingMiddleware(logger))
	router.Use(middleware.CORSMiddleware(middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middleware.SecurityHeadersMiddleware())
	if ts != nil {
		router.Use(ts.TracingMiddleware())
	}
	if m != nil {
		router.Use(m.PrometheusMiddleware())
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(m.Handler()))
	}

	if healthSvc != nil {
		router.GET("/health", healthSvc.Handler())
		router.GET("/health/live", healthSvc.LivenessHandler())
		router.GET("/health/ready", healthSvc.ReadinessHandler())
	}

	router.GET("/api/v1", func(c *gin.Context) {
		SuccessResponse(c, map[string]interface{}{
			"name":    "voxgate",
			"version": "1.0.0",
			"status":  "ok",
		})
	})

	handler := NewHandler(svc, logger)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/generate", handler.Generate)
		v1.POST("/intent", handler.AnalyzeIntent)
		v1.GET("/stats", handler.Stats)

		transcriptions := v1.Group("/transcriptions")
		{
			transcriptions.POST("",
				middleware.RequestSizeMiddleware(int64(cfg.Orchestrator.MaxAudioBytes)+multipartOverhead),
				handler.StartTranscription)
			transcriptions.GET("/:id", handler.GetTranscription)
			transcriptions.DELETE("/:id", handler.CancelTranscription)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		NotFoundResponse(c, "Endpoint not found")
	})

	return router
}
