package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnflvus-wq/engTest/internal/application/command"
	"github.com/dnflvus-wq/engTest/internal/application/query"
	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
	"github.com/dnflvus-wq/engTest/internal/domain/shared"
	"github.com/dnflvus-wq/engTest/internal/infrastructure/catalog"
	"github.com/dnflvus-wq/engTest/internal/infrastructure/persistence/memory"
	"github.com/dnflvus-wq/engTest/internal/interface/http/handlers"
	"github.com/dnflvus-wq/engTest/pkg/logger"
)

type queued struct {
	userID  int64
	trigger achievement.Trigger
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []queued
	err  error
}

func (q *fakeQueue) Enqueue(userID int64, trigger achievement.Trigger) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, queued{userID, trigger})
	return nil
}

type testAPI struct {
	server  *Server
	unlocks *memory.UnlockStore
	badges  *memory.BadgeStore
	queue   *fakeQueue
	health  *handlers.CompositeHealthChecker
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)

	unlocks := memory.NewUnlockStore()
	progress := memory.NewProgressStore()
	badges := memory.NewBadgeStore()
	activity := memory.NewActivityStore(unlocks)
	queue := &fakeQueue{}
	health := handlers.NewCompositeHealthChecker("test")

	registry := command.NewBadgeRegistry(badges, memory.NewKeyedLocker(), nil, logger.Nop(), command.BadgeRegistryConfig{})
	srv := NewServer(Config{}, Dependencies{
		Achievements:  query.NewGetAchievementsHandler(cat, unlocks, progress, logger.Nop()),
		Unnotified:    query.NewGetUnnotifiedHandler(unlocks, cat),
		Summary:       query.NewGetSummaryHandler(cat, unlocks, badges, nil),
		Badges:        query.NewGetBadgesHandler(badges, cat),
		MarkNotified:  command.NewMarkNotifiedHandler(unlocks, nil),
		BadgeSlots:    registry,
		TrackAction:   command.NewTrackActionHandler(activity, queue, nil, logger.Nop()),
		Queue:         queue,
		HealthChecker: health,
		Logger:        logger.Nop(),
	})
	return &testAPI{server: srv, unlocks: unlocks, badges: badges, queue: queue, health: health}
}

func (a *testAPI) do(t *testing.T, method, path string, userID int64, body any) (*httptest.ResponseRecorder, JSONResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID > 0 {
		req.Header.Set(handlers.HeaderUserID, strconv.FormatInt(userID, 10))
	}
	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, req)

	var resp JSONResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

func decodeData(t *testing.T, resp JSONResponse, dst any) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dst))
}

func TestAPI_RequiresIdentity(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/api/v1/achievements", "/api/v1/badges", "/api/v1/achievements/unread"} {
		rec, resp := api.do(t, http.MethodGet, path, 0, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "unauthorized", resp.Error.Code)
	}

	rec, _ := api.do(t, http.MethodGet, "/api/v1/achievements/user/5", 0, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_ListAchievements(t *testing.T) {
	api := newTestAPI(t)
	_, err := api.unlocks.Insert(context.Background(), &achievement.UnlockRecord{UserID: 1, AchievementID: "EXAM_COUNT", Tier: achievement.TierBronze, CurrentValue: 5})
	require.NoError(t, err)

	rec, resp := api.do(t, http.MethodGet, "/api/v1/achievements", 1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	var result query.GetAchievementsResult
	decodeData(t, resp, &result)
	assert.Equal(t, 1, result.UnlockedCount)
	assert.Equal(t, result.Total, resp.Meta.TotalCount)

	rec, resp = api.do(t, http.MethodGet, "/api/v1/achievements?category=nope", 1, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", resp.Error.Code)

	rec, _ = api.do(t, http.MethodGet, "/api/v1/achievements/user/abc", 0, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_UnreadAndMarkRead(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	rec1 := &achievement.UnlockRecord{UserID: 1, AchievementID: "EXAM_COUNT", Tier: achievement.TierBronze, CurrentValue: 5}
	_, err := api.unlocks.Insert(ctx, rec1)
	require.NoError(t, err)

	_, resp := api.do(t, http.MethodGet, "/api/v1/achievements/unread", 1, nil)
	var unread []query.UnlockDTO
	decodeData(t, resp, &unread)
	require.Len(t, unread, 1)

	rec, resp := api.do(t, http.MethodPost, "/api/v1/achievements/mark-read", 1, MarkReadRequest{IDs: []int64{unread[0].ID}})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated map[string]int
	decodeData(t, resp, &updated)
	assert.Equal(t, 1, updated["updated"])

	// empty list is a no-op
	rec, resp = api.do(t, http.MethodPost, "/api/v1/achievements/mark-read", 1, MarkReadRequest{})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, resp, &updated)
	assert.Zero(t, updated["updated"])

	_, resp = api.do(t, http.MethodGet, "/api/v1/achievements/unread", 1, nil)
	decodeData(t, resp, &unread)
	assert.Empty(t, unread)

	rec, _ = api.do(t, http.MethodPost, "/api/v1/achievements/mark-read", 1, map[string]any{"ids": []int64{-1}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_EquipFlow(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	_, err := api.badges.Insert(ctx, 1, "badge_exam_master")
	require.NoError(t, err)

	rec, resp := api.do(t, http.MethodPost, "/api/v1/badges/equip", 1, EquipRequest{BadgeID: "badge_exam_master", SlotNumber: 2})
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)
	var equipped []query.OwnedBadgeDTO
	decodeData(t, resp, &equipped)
	require.Len(t, equipped, 1)
	require.NotNil(t, equipped[0].SlotNumber)
	assert.Equal(t, 2, *equipped[0].SlotNumber)
	assert.Equal(t, "Exam Master", equipped[0].NameEn)

	_, resp = api.do(t, http.MethodGet, "/api/v1/badges/equipped/1", 0, nil)
	decodeData(t, resp, &equipped)
	assert.Len(t, equipped, 1)

	_, resp = api.do(t, http.MethodGet, "/api/v1/badges/equipped/all", 0, nil)
	var grouped map[string][]query.OwnedBadgeDTO
	decodeData(t, resp, &grouped)
	assert.Len(t, grouped["1"], 1)

	rec, resp = api.do(t, http.MethodPost, "/api/v1/badges/unequip", 1, UnequipRequest{SlotNumber: 2})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, resp, &equipped)
	assert.Empty(t, equipped)
}

func TestAPI_EquipValidation(t *testing.T) {
	api := newTestAPI(t)

	rec, resp := api.do(t, http.MethodPost, "/api/v1/badges/equip", 1, EquipRequest{BadgeID: "badge_exam_master", SlotNumber: 6})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, shared.ErrInvalidSlot.Message, resp.Error.Message)

	rec, resp = api.do(t, http.MethodPost, "/api/v1/badges/equip", 1, EquipRequest{BadgeID: "badge_exam_master", SlotNumber: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, resp.Error.Message, shared.ErrBadgeNotOwned.Message)

	rec, resp = api.do(t, http.MethodPost, "/api/v1/badges/equip", 1, map[string]any{"slotNumber": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "badgeId is required", resp.Error.Message)

	rec, _ = api.do(t, http.MethodPost, "/api/v1/badges/unequip", 1, UnequipRequest{SlotNumber: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_SummaryRoutes(t *testing.T) {
	api := newTestAPI(t)
	_, err := api.unlocks.Insert(context.Background(), &achievement.UnlockRecord{UserID: 3, AchievementID: "EXAM_COUNT", Tier: achievement.TierGold, CurrentValue: 50})
	require.NoError(t, err)

	_, resp := api.do(t, http.MethodGet, "/api/v1/achievements/summary", 3, nil)
	var mine achievement.Summary
	decodeData(t, resp, &mine)
	assert.Equal(t, 1, mine.UnlockedCount)
	assert.Equal(t, 1, mine.GoldOrAbove)

	rec, _ := api.do(t, http.MethodGet, "/api/v1/achievements/summary/3", 0, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, resp = api.do(t, http.MethodGet, "/api/v1/achievements/summary/global", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var global achievement.GlobalSummary
	decodeData(t, resp, &global)
	assert.Equal(t, 1, global.UsersWithUnlocks)
}

func TestAPI_TrackActionAndTriggers(t *testing.T) {
	api := newTestAPI(t)

	rec, resp := api.do(t, http.MethodPost, "/api/v1/actions/track", 4, TrackActionRequest{Action: "flashcard"})
	require.Equal(t, http.StatusOK, rec.Code)
	var tracked command.TrackActionResult
	decodeData(t, resp, &tracked)
	assert.Equal(t, "FLASHCARD", tracked.Action)
	assert.Equal(t, 1, tracked.Count)
	assert.True(t, tracked.Queued)

	rec, resp = api.do(t, http.MethodPost, "/api/v1/triggers", 0, TriggerRequest{UserID: 4, Event: "exam_complete"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var trig TriggerResponse
	decodeData(t, resp, &trig)
	assert.True(t, trig.Queued)
	assert.Equal(t, "EXAM_COMPLETE", trig.Trigger)

	assert.Equal(t, []queued{
		{4, achievement.TriggerStudyAction},
		{4, achievement.TriggerExamComplete},
	}, api.queue.jobs)

	// a full queue never fails the caller
	api.queue.err = shared.ErrEvaluationQueueFull
	rec, resp = api.do(t, http.MethodPost, "/api/v1/triggers", 0, TriggerRequest{UserID: 4, Event: "whatever"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	decodeData(t, resp, &trig)
	assert.False(t, trig.Queued)
	assert.Equal(t, "ALL", trig.Trigger)

	rec, _ = api.do(t, http.MethodPost, "/api/v1/triggers", 0, TriggerRequest{Event: "LOGIN"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_MalformedBody(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/badges/equip", bytes.NewBufferString("{"))
	req.Header.Set(handlers.HeaderUserID, "1")
	rec := httptest.NewRecorder()
	api.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Health(t *testing.T) {
	api := newTestAPI(t)

	rec, _ := api.do(t, http.MethodGet, "/live", 0, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = api.do(t, http.MethodGet, "/ready", 0, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	api.health.AddCheck("postgres", func(context.Context) error { return errors.New("connection refused") })
	rec, resp := api.do(t, http.MethodGet, "/health", 0, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var status handlers.HealthStatus
	decodeData(t, resp, &status)
	assert.False(t, status.Healthy)
	assert.Equal(t, "Some checks failed: postgres", status.Message)

	rec, _ = api.do(t, http.MethodGet, "/ready", 0, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPI_NotFound(t *testing.T) {
	api := newTestAPI(t)
	rec, resp := api.do(t, http.MethodGet, "/api/v2/nothing", 0, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", resp.Error.Code)
}
