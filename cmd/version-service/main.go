// cmd/version-service/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"prompt-versioning/internal/common/config"
	"prompt-versioning/internal/common/database"
	"prompt-versioning/internal/common/logger"
	"prompt-versioning/internal/common/observability"
	"prompt-versioning/internal/content"
	"prompt-versioning/internal/diff"
	"prompt-versioning/internal/index"
	"prompt-versioning/internal/models"
	"prompt-versioning/internal/store/cache"
	pgstore "prompt-versioning/internal/store/postgres"
	"prompt-versioning/internal/version"
	"prompt-versioning/pkg/registry"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootstrapLog := logger.New("info", "console")
		bootstrapLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting version service...")

	obs := observability.New("version-service")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Load Schema Registry ---
	reg, err := registry.LoadRegistry(cfg.Registry.Path)
	if err != nil {
		zapLog.Fatal("schema registry load failed", zap.Error(err))
	}
	validator, err := content.NewValidator(reg)
	if err != nil {
		zapLog.Fatal("schema compilation failed", zap.Error(err))
	}
	zapLog.Info("Schema registry loaded", zap.Int("categories", len(reg.Categories)))

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		// Test the connection with context
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	var store version.Store = pgstore.New(pg.DB, log)

	// --- Init Redis with retry (optional read-through cache) ---
	if cfg.Database.Redis.Enabled {
		var rdb *database.RedisClient
		err = retryWithBackoff(func() error {
			var err error
			rdb, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			// Test the connection with context
			return rdb.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")

		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer rdb.Close()
		zapLog.Info("Redis connected successfully")

		store = cache.New(store, rdb.Client, cfg.Database.Redis.TTL, log)
	}

	// --- Init Elasticsearch with retry (optional history index) ---
	var indexer version.Indexer
	if cfg.Indexing.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			// Test the connection
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")

		indexer = index.NewHistoryIndexer(esClient.Client, cfg.Indexing.Index, log)
	}

	// --- Wire the version engine ---
	engine := diff.NewEngine(collectSequenceKeys(reg))
	manager := version.NewManager(store, engine, validator, indexer, log)
	zapLog.Info("Version engine ready")

	// --- Retention Sweep Loop ---
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	if cfg.Retention.Enabled {
		go runRetentionLoop(sweepCtx, manager, store, cfg.Retention, zapLog)
	}

	// --- Health & Metrics Server ---
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := pg.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{
					"status": "unavailable",
					"error":  err.Error(),
				})
				return
			}
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "ready",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Metrics.ListenAddress))
		if err := http.ListenAndServe(cfg.Metrics.ListenAddress, nil); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping...")
	stopSweep()

	zapLog.Info("Version service stopped gracefully")
}

// runRetentionLoop applies the configured retention policy to every
// template on a fixed interval until the context is cancelled.
func runRetentionLoop(ctx context.Context, manager *version.Manager, store version.Store, rc config.RetentionConfig, zapLog *zap.Logger) {
	policy := models.RetentionPolicy{
		MaxVersionsKept: rc.MaxVersionsKept,
		MaxAge:          rc.MaxAge,
	}
	ticker := time.NewTicker(rc.SweepInterval)
	defer ticker.Stop()

	zapLog.Info("Retention sweep loop started",
		zap.Duration("interval", rc.SweepInterval),
		zap.Int("maxVersionsKept", rc.MaxVersionsKept),
		zap.Duration("maxAge", rc.MaxAge),
	)

	for {
		select {
		case <-ctx.Done():
			zapLog.Info("Retention sweep loop stopped")
			return
		case <-ticker.C:
			ids, err := store.ListTemplateIDs(ctx)
			if err != nil {
				zapLog.Error("retention sweep: template listing failed", zap.Error(err))
				continue
			}
			var total int
			for _, id := range ids {
				affected, err := manager.CleanupOldVersions(ctx, id, policy)
				if err != nil {
					zapLog.Error("retention sweep failed",
						zap.String("templateId", id), zap.Error(err))
					continue
				}
				total += affected
			}
			zapLog.Info("Retention sweep pass completed",
				zap.Int("templates", len(ids)),
				zap.Int("affected", total),
			)
		}
	}
}

// collectSequenceKeys unions the per-category sequence key mappings into
// the single table the diff engine consumes. Categories share one key
// space; registry authors keep sequence paths unambiguous across
// categories.
func collectSequenceKeys(reg *registry.SchemaRegistry) map[string]string {
	keys := make(map[string]string)
	for _, cat := range reg.Categories {
		for path, field := range cat.SequenceKeys {
			keys[path] = field
		}
	}
	return keys
}
