package eventhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnflvus-wq/engTest/internal/domain/shared"
	"github.com/dnflvus-wq/engTest/pkg/logger"
)

type fakeInvalidator struct {
	users  []int64
	global int
	err    error
}

func (f *fakeInvalidator) InvalidateUser(_ context.Context, userID int64) error {
	f.users = append(f.users, userID)
	return f.err
}

func (f *fakeInvalidator) InvalidateGlobal(context.Context) error {
	f.global++
	return f.err
}

func TestOnSummaryChanged_InvalidatesUserAndGlobal(t *testing.T) {
	cache := &fakeInvalidator{}
	h := NewOnSummaryChangedHandler(cache, logger.Nop(), SummaryChangedConfig{})

	require.NoError(t, h.Handle(shared.NewAchievementUnlockedEvent(7, "EXAM_COUNT", "GOLD", 50)))
	require.NoError(t, h.Handle(shared.NewBadgeEvent(shared.EventBadgeAwarded, 8, "badge_exam_master", 0)))

	assert.Equal(t, []int64{7, 8}, cache.users)
	assert.Equal(t, 2, cache.global)
}

func TestOnSummaryChanged_SwallowsErrors(t *testing.T) {
	cache := &fakeInvalidator{err: errors.New("redis down")}
	h := NewOnSummaryChangedHandler(cache, logger.Nop(), DefaultSummaryChangedConfig())

	assert.NoError(t, h.Handle(shared.NewAchievementUnlockedEvent(7, "EXAM_COUNT", "GOLD", 50)))

	bad := shared.AchievementUnlockedEvent{BaseEvent: shared.NewBaseEvent(shared.EventAchievementUnlocked, "not-a-user")}
	assert.NoError(t, h.Handle(bad))
	assert.Equal(t, []int64{7}, cache.users)
}

type subscriptions struct {
	byType map[shared.EventType]int
	all    int
}

func (s *subscriptions) Subscribe(t shared.EventType, _ shared.EventHandler) error {
	s.byType[t]++
	return nil
}

func (s *subscriptions) SubscribeAll(shared.EventHandler) error {
	s.all++
	return nil
}

func TestSubscribe(t *testing.T) {
	bus := &subscriptions{byType: map[shared.EventType]int{}}
	summary := NewOnSummaryChangedHandler(&fakeInvalidator{}, logger.Nop(), SummaryChangedConfig{})

	require.NoError(t, Subscribe(bus, summary, NewAuditLogHandler(logger.Nop())))
	assert.Equal(t, 1, bus.byType[shared.EventAchievementUnlocked])
	assert.Equal(t, 1, bus.byType[shared.EventBadgeAwarded])
	assert.Equal(t, 1, bus.all)
}

func TestAuditLog_WritesEnvelope(t *testing.T) {
	var buf bytes.Buffer
	h := NewAuditLogHandler(logger.New(logger.Options{Output: &buf, Level: logger.LevelInfo, Format: "json"}))
	h.newID = func() string { return "evt-1" }

	ev := shared.NewAchievementUnlockedEvent(3, "FIRST_LOGIN", "", 1)
	ev.BaseEvent = ev.BaseEvent.WithCorrelationID("run-9")
	require.NoError(t, h.Handle(ev))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "domain event", entry["message"])
	assert.Equal(t, "evt-1", entry["event_id"])
	assert.Equal(t, "achievement.unlocked", entry["event_type"])
	assert.Equal(t, "3", entry["aggregate_id"])
	assert.Equal(t, "run-9", entry["run_id"])
	assert.Contains(t, entry["payload"], `"achievement_id":"FIRST_LOGIN"`)
}
