package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/catalog_backend/config"
	"bitbucket.org/mmdatafocus/catalog_backend/erpsync"
	"bitbucket.org/mmdatafocus/catalog_backend/models"
	"bitbucket.org/mmdatafocus/catalog_backend/search"
	"bitbucket.org/mmdatafocus/catalog_backend/utils"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("CATALOG_SYNC_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	embedder, err := search.NewHttpEmbedderFromEnv()
	var pipeline *search.EmbeddingPipeline
	var engine *search.VectorSearchEngine
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "embedding"}).Warnf("embedder disabled: %v", err)
	} else {
		pipeline = search.NewEmbeddingPipeline(models.CatalogStore{}, embedder)
		engine = search.NewVectorSearchEngine(embedder)
	}

	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("x-business-id", "x-correlation-id", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(requestLogger(logger))
	r.Use(gin.Recovery())

	// Catalog connection and sync management.
	r.GET("/api/catalog/status", erpsync.StatusHandler())
	r.POST("/api/catalog/connect", erpsync.ConnectHandler())
	r.POST("/api/catalog/disconnect", erpsync.DisconnectHandler())
	r.POST("/api/catalog/sync", erpsync.TriggerSyncHandler())
	r.GET("/api/catalog/sync-runs", erpsync.SyncHistoryHandler())
	r.GET("/api/catalog/sync-runs/:id", erpsync.SyncRunDetailHandler())
	r.POST("/api/catalog/sync-runs/:id/retry", erpsync.RetrySyncRunHandler())
	r.GET("/api/catalog/export", erpsync.ExportHandler())

	// Semantic search.
	if engine != nil {
		r.POST("/api/catalog/search", search.SearchHandler(engine))
	}
	if pipeline != nil {
		r.POST("/api/catalog/embeddings/refresh", search.EmbedBatchHandler(pipeline))
	}

	// Pub/Sub push endpoint for the sync worker. Each upserted product gets
	// its embedding refreshed through the post-sync hook.
	r.POST("/pubsub/catalog-sync", erpsync.PubSubPushHandler(syncHook(pipeline)))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}

func syncHook(pipeline *search.EmbeddingPipeline) erpsync.PostSyncHook {
	if pipeline == nil {
		return nil
	}
	return func(ctx context.Context, product *models.Product, item *erpsync.CatalogItem, outcome erpsync.UpsertOutcome) error {
		return pipeline.SyncHook(ctx, product.ID)
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		logger.WithFields(logrus.Fields{
			"status":         c.Writer.Status(),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"latency":        latency.String(),
			"correlation_id": cid,
		}).Info("request")
	}
}
