package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/careloop/assessflow/internal/config"
	"github.com/careloop/assessflow/internal/graph"
	v1 "github.com/careloop/assessflow/internal/handler/v1"
	"github.com/careloop/assessflow/internal/service"
	"github.com/careloop/assessflow/pkg/metrics"
)

// NewRouter wires HTTP routes to the assessment engine.
func NewRouter(
	cfg *config.Config,
	engine *service.Engine,
	flow *graph.Flow,
	collector *metrics.Collector,
	log *zap.Logger,
) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(log))
	r.Use(Metrics(collector))
	r.Use(CORS(cfg.CORS))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": cfg.App.Version})
	})
	r.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	api := r.Group("/api/v1")
	api.GET("/assessment/info", infoHandler(cfg, flow))
	v1.NewAssessmentHandler(engine, log).RegisterRoutes(api)

	return r
}

// infoHandler describes the loaded assessment flow for consumers.
func infoHandler(cfg *config.Config, flow *graph.Flow) gin.HandlerFunc {
	type scaleInfo struct {
		Type      string  `json:"type"`
		Questions int     `json:"questions"`
		MaxScore  float64 `json:"max_score"`
	}

	scales := make([]scaleInfo, 0, len(flow.Order))
	for _, t := range flow.Order {
		if s, ok := flow.Scale(t); ok {
			scales = append(scales, scaleInfo{
				Type:      string(t),
				Questions: s.Len(),
				MaxScore:  s.MaxPossible(),
			})
		}
	}

	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":            cfg.App.Name,
			"version":         cfg.App.Version,
			"flow_version":    flow.Version,
			"total_questions": flow.TotalQuestions(),
			"scales":          scales,
		})
	}
}
