package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aiemr/graphrag-backend/internal/emr/graph"
	"github.com/aiemr/graphrag-backend/internal/emr/index"
	"github.com/aiemr/graphrag-backend/internal/emr/registry"
	"github.com/aiemr/graphrag-backend/internal/emr/retrieve"
	emrsync "github.com/aiemr/graphrag-backend/internal/emr/sync"
	"github.com/aiemr/graphrag-backend/internal/handlers"
	"github.com/aiemr/graphrag-backend/internal/observability"
	"github.com/aiemr/graphrag-backend/internal/platform/envutil"
	"github.com/aiemr/graphrag-backend/internal/platform/logger"
	"github.com/aiemr/graphrag-backend/internal/platform/neo4jdb"
	"github.com/aiemr/graphrag-backend/internal/platform/openai"
	"github.com/aiemr/graphrag-backend/internal/platform/qdrant"
	"github.com/aiemr/graphrag-backend/internal/server"
)

const serviceName = "graphrag-backend"

func main() {
	log, err := logger.New(envutil.Str("LOG_MODE", "dev"))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOtel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: serviceName,
		Environment: envutil.Str("APP_ENV", "dev"),
	})

	db, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Fatal("neo4j init failed", "error", err)
	}
	if db == nil {
		log.Fatal("NEO4J_URI is required")
	}
	defer db.Close(context.Background())

	qcfg, err := qdrant.ResolveConfigFromEnv()
	if err != nil {
		log.Fatal("qdrant config invalid", "error", err)
	}
	store, err := qdrant.NewStore(log, qcfg)
	if err != nil {
		log.Fatal("qdrant init failed", "error", err)
	}

	ai, err := openai.NewClient(log)
	if err != nil {
		log.Fatal("openai init failed", "error", err)
	}

	cache := newEmbedCache(ctx, log)
	if cache != nil {
		defer cache.Close()
	}

	reg, err := registry.Load()
	if err != nil {
		log.Fatal("section registry invalid", "error", err)
	}

	engine := graph.NewEngine(db, reg, log)
	engine.Bootstrap(ctx)

	indexer := index.NewIndexer(engine, store, ai, cache, log)
	syncer := emrsync.NewSyncer(engine, indexer, log)
	retriever := retrieve.NewRetriever(engine, indexer, ai, log)

	router := server.NewRouter(server.RouterConfig{
		ServiceName:    serviceName,
		RAGHandler:     handlers.NewRAGHandler(indexer, retriever, log),
		IngestHandler:  handlers.NewIngestHandler(syncer, log),
		PatientHandler: handlers.NewPatientHandler(engine, log),
	})

	go syncer.Run(ctx)

	srv := &http.Server{
		Addr:              ":" + envutil.Str("PORT", "8080"),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	if shutdownOtel != nil {
		if err := shutdownOtel(shutdownCtx); err != nil {
			log.Error("otel shutdown failed", "error", err)
		}
	}
}

// newEmbedCache wires the optional Redis embedding cache. Absent or
// unreachable Redis means no caching, not a boot failure.
func newEmbedCache(ctx context.Context, log *logger.Logger) *redis.Client {
	url := envutil.Str("REDIS_URL", "")
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Warn("invalid REDIS_URL; embedding cache disabled", "error", err)
		return nil
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unreachable; embedding cache disabled", "error", err)
		_ = client.Close()
		return nil
	}
	log.Info("embedding cache enabled")
	return client
}
