package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, 1000, cfg.Engine.QueueSize)
	assert.Equal(t, "@every 6h", cfg.Scheduler.RecheckSchedule)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.ActiveWindow)
	assert.False(t, cfg.Redis.Enabled)
	assert.Empty(t, cfg.Storage.SeedPath)
	assert.False(t, cfg.IsProduction())
	require.NotNil(t, cfg.Features)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("STORAGE_DRIVER", "Postgres")
	t.Setenv("ENGINE_WORKERS", "8")
	t.Setenv("ENGINE_JOB_TIMEOUT", "5s")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("DB_PORT", "not-a-number")
	t.Setenv("STORAGE_SEED_PATH", "testdata/seed.yaml")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoragePostgres, cfg.Storage.Driver)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 5*time.Second, cfg.Engine.JobTimeout)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "testdata/seed.yaml", cfg.Storage.SeedPath)
}

func TestValidate_AggregatesErrors(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("ENGINE_WORKERS", "0")
	t.Setenv("LOG_LEVEL", "loud")
	t.Setenv("REDIS_PROGRESS_CACHE", "true")

	_, err := Load()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "STORAGE_DRIVER")
	assert.Contains(t, msg, "ENGINE_WORKERS")
	assert.Contains(t, msg, "LOG_LEVEL")
	assert.Contains(t, msg, "REDIS_PROGRESS_CACHE")
}

func TestValidate_ProductionRequiresPostgres(t *testing.T) {
	cfg := &Config{
		App:           AppConfig{Environment: EnvProduction},
		Storage:       StorageConfig{Driver: StorageMemory},
		Engine:        EngineConfig{Workers: 1, QueueSize: 1},
		Observability: ObservabilityConfig{LogLevel: "info"},
	}
	require.Error(t, cfg.Validate())

	cfg.Storage.Driver = StoragePostgres
	assert.NoError(t, cfg.Validate())
}

func TestFeatureFlags_Categories(t *testing.T) {
	ff := NewFeatureFlags()
	for _, c := range achievement.Categories() {
		assert.True(t, ff.CategoryEnabled(c, 42), c)
	}
	assert.Equal(t, "category.exam_master", CategoryFeature(achievement.CategoryExamMaster))
	assert.Equal(t, "FEATURE_CATEGORY_EXAM_MASTER", featureNameToEnvKey(CategoryFeature(achievement.CategoryExamMaster)))
}

func TestFeatureFlags_EnvOverrides(t *testing.T) {
	t.Setenv("FEATURE_CATEGORY_HIDDEN", "false")
	t.Setenv("FEATURE_CATEGORY_LEGEND", "0")
	t.Setenv("FEATURE_ENGINE_RECHECK_JOB", "garbage")

	ff := LoadFeatureFlags()
	assert.False(t, ff.CategoryEnabled(achievement.CategoryHidden, 1))
	assert.False(t, ff.CategoryEnabled(achievement.CategoryLegend, 1))
	assert.True(t, ff.CategoryEnabled(achievement.CategoryStreaks, 1))
	assert.True(t, ff.IsEnabled(FeatureRecheckJob, 0))
}

func TestFeatureFlags_RolloutIsStable(t *testing.T) {
	ff := NewFeatureFlags()
	name := CategoryFeature(achievement.CategorySpeed)
	require.NoError(t, ff.SetRolloutPercent(name, 50))

	enabled := 0
	for id := int64(1); id <= 1000; id++ {
		first := ff.IsEnabled(name, id)
		assert.Equal(t, first, ff.IsEnabled(name, id))
		if first {
			enabled++
		}
	}
	assert.InDelta(t, 500, enabled, 100)

	// partial rollouts never apply without a user
	assert.False(t, ff.IsEnabled(name, 0))

	assert.ErrorIs(t, ff.SetRolloutPercent(name, 101), ErrInvalidRolloutPercent)
	assert.ErrorIs(t, ff.SetRolloutPercent("nope", 10), ErrFeatureNotFound)
}

func TestFeatureFlags_UserOverride(t *testing.T) {
	ff := NewFeatureFlags()
	name := CategoryFeature(achievement.CategoryCompetition)
	require.NoError(t, ff.SetRolloutPercent(name, 0))

	ff.SetUserOverride(7, name, true)
	assert.True(t, ff.CategoryEnabled(achievement.CategoryCompetition, 7))
	assert.False(t, ff.CategoryEnabled(achievement.CategoryCompetition, 8))
	assert.False(t, ff.All()[name].Enabled)
}
