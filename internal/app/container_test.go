package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnflvus-wq/engTest/config"
	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
	apihttp "github.com/dnflvus-wq/engTest/internal/interface/http"
	"github.com/dnflvus-wq/engTest/pkg/logger"
)

func memoryConfig() *config.Config {
	return &config.Config{
		App:     config.AppConfig{Name: "achievements", Environment: config.EnvDevelopment, Version: "test"},
		Storage: config.StorageConfig{Driver: config.StorageMemory},
		HTTP:    config.HTTPConfig{Addr: ":0"},
		Engine: config.EngineConfig{
			Workers:         2,
			QueueSize:       16,
			JobTimeout:      5 * time.Second,
			EventBusWorkers: 2,
			LockTimeout:     time.Second,
		},
		Features: config.NewFeatureFlags(),
	}
}

func unlockedIDs(t *testing.T, c *Container, userID int64) []string {
	t.Helper()
	recs, err := c.Storage.Unlocks.FindByUser(context.Background(), userID)
	require.NoError(t, err)
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.AchievementID)
	}
	return ids
}

func TestBuild_MemoryEndToEnd(t *testing.T) {
	cfg := memoryConfig()
	cfg.Features.SetUserOverride(2, config.CategoryFeature(achievement.CategoryFirstSteps), false)

	c, err := Build(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.Storage.Summaries)
	assert.Greater(t, c.Catalog.Len(), 0)

	health := c.Health.Check(context.Background())
	assert.True(t, health.Healthy)
	assert.Contains(t, health.Checks, "evaluation_queue")

	require.NoError(t, c.Queue.Start(context.Background()))
	require.NoError(t, c.Queue.Enqueue(1, achievement.TriggerLogin))
	require.NoError(t, c.Queue.Enqueue(2, achievement.TriggerLogin))
	require.NoError(t, c.Queue.Stop(context.Background()))

	assert.Contains(t, unlockedIDs(t, c, 1), "FIRST_LOGIN")
	assert.NotContains(t, unlockedIDs(t, c, 2), "FIRST_LOGIN")

	srv := apihttp.NewServer(HTTPConfig(cfg), c.HTTPDependencies())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/achievements/summary/1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool                `json:"success"`
		Data    achievement.Summary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, c.Catalog.Len(), body.Data.TotalAchievements)
	assert.GreaterOrEqual(t, body.Data.UnlockedCount, 1)
}

func TestBuild_MemorySeedFeedsEvaluation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
users:
  - id: 9
    exams:
      - { round_id: 1, mode: ONLINE, correct: 28, total: 30, passed: true, submitted_at: 2024-03-04T10:00:00Z }
`), 0o600))

	cfg := memoryConfig()
	cfg.Storage.SeedPath = path
	c, err := Build(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Queue.Start(context.Background()))
	require.NoError(t, c.Queue.Enqueue(9, achievement.TriggerExamComplete))
	require.NoError(t, c.Queue.Stop(context.Background()))

	assert.Contains(t, unlockedIDs(t, c, 9), "FIRST_EXAM")
}

func TestBuild_BadSeedPath(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.SeedPath = "/does/not/exist.yaml"

	_, err := Build(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)
}

func TestBuild_BadCatalogPath(t *testing.T) {
	cfg := memoryConfig()
	cfg.Engine.CatalogPath = "/does/not/exist.yaml"

	_, err := Build(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)
}

func TestHTTPConfig_KeepsDefaultsForZeroValues(t *testing.T) {
	cfg := memoryConfig()
	cfg.HTTP.RequestTimeout = 3 * time.Second

	hc := HTTPConfig(cfg)
	assert.Equal(t, ":0", hc.Addr)
	assert.Equal(t, 3*time.Second, hc.RequestTimeout)
	assert.Equal(t, apihttp.DefaultConfig().ReadTimeout, hc.ReadTimeout)
	assert.Equal(t, "test", hc.Version)
}
