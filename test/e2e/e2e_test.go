// Package e2e exercises the full version engine against real backing
// services. The suite is opt-in: set E2E_TESTS=true and point it at a
// running PostgreSQL (and optionally Redis) before running.
package e2e

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prompt-versioning/internal/common/config"
	"prompt-versioning/internal/common/database"
	stderrors "prompt-versioning/internal/common/errors"
	"prompt-versioning/internal/common/logger"
	"prompt-versioning/internal/content"
	"prompt-versioning/internal/diff"
	"prompt-versioning/internal/models"
	"prompt-versioning/internal/store/cache"
	"prompt-versioning/internal/store/postgres"
	"prompt-versioning/internal/version"
	"prompt-versioning/pkg/registry"
)

var manager *version.Manager

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestMain(m *testing.M) {
	if os.Getenv("E2E_TESTS") != "true" {
		fmt.Println("Skipping e2e tests; set E2E_TESTS=true to run them")
		os.Exit(0)
	}

	log := logger.NewNoOpLogger()

	port, _ := strconv.Atoi(envOr("E2E_POSTGRES_PORT", "5432"))
	pg, err := database.NewPostgres(config.PostgresConfig{
		Host:           envOr("E2E_POSTGRES_HOST", "localhost"),
		Port:           port,
		Database:       envOr("E2E_POSTGRES_DB", "prompt_versioning_test"),
		User:           envOr("E2E_POSTGRES_USER", "postgres"),
		Password:       envOr("E2E_POSTGRES_PASSWORD", "postgres"),
		MaxConnections: 10,
		MaxIdle:        5,
		SSLMode:        "disable",
	})
	if err != nil {
		fmt.Printf("postgres connection failed: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pg.Ping(ctx); err != nil {
		fmt.Printf("postgres ping failed: %v\n", err)
		os.Exit(1)
	}

	schema, err := os.ReadFile("../../migrations/001_create_tables.sql")
	if err != nil {
		fmt.Printf("read migration: %v\n", err)
		os.Exit(1)
	}
	if _, err := pg.DB.ExecContext(ctx, string(schema)); err != nil {
		fmt.Printf("apply migration: %v\n", err)
		os.Exit(1)
	}

	var store version.Store = postgres.New(pg.DB, log)

	if addr := os.Getenv("E2E_REDIS_ADDRESS"); addr != "" {
		rc, err := database.NewRedis(config.RedisConfig{Address: addr})
		if err != nil {
			fmt.Printf("redis connection failed: %v\n", err)
			os.Exit(1)
		}
		defer rc.Close()
		if err := rc.Ping(ctx); err != nil {
			fmt.Printf("redis ping failed: %v\n", err)
			os.Exit(1)
		}
		store = cache.New(store, rc.Client, 5*time.Minute, log)
	}

	reg, err := registry.LoadRegistry("../../configs/schema-registry.json")
	if err != nil {
		fmt.Printf("load schema registry: %v\n", err)
		os.Exit(1)
	}
	validator, err := content.NewValidator(reg)
	if err != nil {
		fmt.Printf("build validator: %v\n", err)
		os.Exit(1)
	}

	keys := make(map[string]string)
	for _, c := range reg.Categories {
		for path, key := range c.SequenceKeys {
			keys[path] = key
		}
	}
	manager = version.NewManager(store, diff.NewEngine(keys), validator, nil, log)

	os.Exit(m.Run())
}

func chatContent(system string, temperature float64) content.Value {
	return content.Object{
		"system": content.String(system),
		"messages": content.Sequence{
			content.Object{
				"role":    content.String("user"),
				"content": content.String("{{question}}"),
			},
		},
		"temperature": content.Number(temperature),
	}
}

func create(t *testing.T, templateID string, c content.Value, note string) *models.Version {
	t.Helper()
	v, err := manager.CreateVersion(context.Background(), version.CreateRequest{
		TemplateID: templateID,
		Category:   "chat-prompt",
		Key:        templateID,
		Content:    c,
		Author:     "e2e",
		ChangeNote: note,
	})
	require.NoError(t, err)
	return v
}

func TestVersionLifecycle(t *testing.T) {
	ctx := context.Background()
	templateID := "e2e-" + uuid.New().String()

	v1 := create(t, templateID, chatContent("You are a helpful assistant.", 0.7), "initial")
	assert.Equal(t, 1, v1.VersionNumber)
	assert.Equal(t, 0, v1.ParentVersion)

	v2 := create(t, templateID, chatContent("You are a terse assistant.", 0.7), "tone change")
	create(t, templateID, chatContent("You are a terse assistant.", 0.2), "cooler sampling")

	latest, err := manager.GetLatestVersion(ctx, templateID)
	require.NoError(t, err)
	assert.Equal(t, 3, latest.VersionNumber)

	// diff across the whole chain touches both edited fields
	delta, err := manager.CalculateDiff(ctx, templateID, 1, 3)
	require.NoError(t, err)
	paths := make([]string, len(delta))
	for i, c := range delta {
		paths[i] = c.Path.String()
	}
	assert.ElementsMatch(t, []string{"system", "temperature"}, paths)

	cmp, err := manager.CompareVersions(ctx, templateID, 2, 2)
	require.NoError(t, err)
	assert.True(t, cmp.Identical)

	// rollback appends, it never rewrites
	rb, err := manager.RollbackToVersion(ctx, templateID, 1, "e2e")
	require.NoError(t, err)
	assert.Equal(t, 4, rb.VersionNumber)
	assert.Equal(t, v1.ContentHash, rb.ContentHash)

	kept, err := manager.GetVersion(ctx, templateID, v2.VersionNumber)
	require.NoError(t, err)
	assert.Equal(t, v2.ContentHash, kept.ContentHash)

	history, err := manager.GetVersionHistory(ctx, templateID, models.HistoryPage{Limit: 10})
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, 4, history[0].VersionNumber)
}

func TestOptimisticConcurrency(t *testing.T) {
	templateID := "e2e-" + uuid.New().String()
	create(t, templateID, chatContent("base", 0.5), "initial")

	stale := 0
	_, err := manager.CreateVersion(context.Background(), version.CreateRequest{
		TemplateID:   templateID,
		Category:     "chat-prompt",
		Key:          templateID,
		Content:      chatContent("update", 0.5),
		Author:       "e2e",
		ExpectedHead: &stale,
	})
	assert.True(t, stderrors.HasCode(err, stderrors.ErrCodeConcurrentModification))
}

func TestThreeWayMerge(t *testing.T) {
	ctx := context.Background()
	templateID := "e2e-" + uuid.New().String()

	create(t, templateID, chatContent("base prompt", 0.7), "initial")
	create(t, templateID, chatContent("reworded prompt", 0.7), "rewording")
	create(t, templateID, chatContent("reworded prompt", 0.1), "cooler sampling")

	// version 3 repeats version 2's rewording, so the only overlapping
	// edit lands on the same value and resolves cleanly
	out, err := manager.MergeVersions(ctx, templateID, 1, 2, 3, "e2e")
	require.NoError(t, err)
	require.Empty(t, out.Result.Conflicts)
	require.NotNil(t, out.Version)
	assert.Equal(t, 4, out.Version.VersionNumber)

	merged := out.Version.Content.(content.Object)
	assert.True(t, content.Equal(content.String("reworded prompt"), merged["system"]))
	assert.True(t, content.Equal(content.Number(0.1), merged["temperature"]))
}

func TestRetentionSweep(t *testing.T) {
	ctx := context.Background()
	templateID := "e2e-" + uuid.New().String()

	for i := 1; i <= 6; i++ {
		create(t, templateID, chatContent(fmt.Sprintf("revision %d", i), 0.7), "")
	}

	affected, err := manager.CleanupOldVersions(ctx, templateID,
		models.RetentionPolicy{MaxVersionsKept: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, affected)

	history, err := manager.GetVersionHistory(ctx, templateID,
		models.HistoryPage{Limit: 10, IncludeArchived: true})
	require.NoError(t, err)
	nums := make([]int, len(history))
	for i, v := range history {
		nums[i] = v.VersionNumber
	}
	assert.Equal(t, []int{6, 5, 1}, nums)
}
