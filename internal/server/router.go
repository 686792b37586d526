package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/aiemr/graphrag-backend/internal/handlers"
	"github.com/aiemr/graphrag-backend/internal/middleware"
	"github.com/aiemr/graphrag-backend/internal/platform/envutil"
)

type RouterConfig struct {
	ServiceName    string
	RAGHandler     *handlers.RAGHandler
	IngestHandler  *handlers.IngestHandler
	PatientHandler *handlers.PatientHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.RequestID())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins(),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "X-Request-ID"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	ingest := router.Group("/ingest")
	{
		ingest.POST("/sync", cfg.IngestHandler.Sync)
	}

	rag := router.Group("/rag")
	{
		rag.POST("/index/rebuild", cfg.RAGHandler.IndexRebuild)
		rag.POST("/index/upsert", cfg.RAGHandler.IndexUpsert)
		rag.POST("/query", cfg.RAGHandler.Query)
		rag.POST("/query/upload", cfg.RAGHandler.QueryUpload)
	}

	patients := router.Group("/patients")
	{
		patients.GET("/:id/graph", cfg.PatientHandler.GetGraph)
	}

	return router
}

func allowedOrigins() []string {
	raw := envutil.Str("CORS_ALLOW_ORIGINS", "http://localhost:3000,http://localhost:5174")
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
