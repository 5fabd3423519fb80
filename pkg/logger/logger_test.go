package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" WARNING "))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}

func TestLogger_WritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelInfo, Format: "json"})

	log.With(Component("evaluator")).Info("Achievement unlocked",
		UserID(42),
		AchievementID("EXAM_COUNT"),
		Tier("GOLD"),
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Achievement unlocked", entry["message"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, float64(42), entry["user_id"])
	assert.Equal(t, "EXAM_COUNT", entry["achievement_id"])
	assert.Equal(t, "evaluator", entry["component"])
}

func TestLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelWarn})

	log.Info("dropped")
	assert.Zero(t, buf.Len())

	log.Error("kept", Err(errors.New("boom")))
	assert.Contains(t, buf.String(), `"error":"boom"`)

	log.SetLevel(LevelDebug)
	assert.True(t, log.Enabled(LevelDebug))
}

func TestFromContext(t *testing.T) {
	log := Nop()
	ctx := WithContext(context.Background(), log)
	assert.Same(t, log, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
