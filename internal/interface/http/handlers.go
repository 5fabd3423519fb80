package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dnflvus-wq/engTest/internal/application/command"
	"github.com/dnflvus-wq/engTest/internal/application/query"
	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
	"github.com/dnflvus-wq/engTest/internal/domain/shared"
	"github.com/dnflvus-wq/engTest/internal/interface/http/handlers"
	"github.com/dnflvus-wq/engTest/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST BODIES
// ══════════════════════════════════════════════════════════════════════════════

// MarkReadRequest acknowledges unlock records.
type MarkReadRequest struct {
	IDs []int64 `json:"ids" validate:"max=500,dive,gt=0"`
}

// EquipRequest puts an owned badge into a slot.
type EquipRequest struct {
	BadgeID    string `json:"badgeId" validate:"required,max=100"`
	SlotNumber int    `json:"slotNumber"`
}

// UnequipRequest clears a slot.
type UnequipRequest struct {
	SlotNumber int `json:"slotNumber"`
}

// TrackActionRequest reports one study action.
type TrackActionRequest struct {
	Action string `json:"action" validate:"required,max=64"`
}

// TriggerRequest reports a life-cycle event for a user.
type TriggerRequest struct {
	UserID int64  `json:"userId" validate:"required,gt=0"`
	Event  string `json:"event" validate:"max=64"`
}

// TriggerResponse tells the caller whether a run was scheduled.
type TriggerResponse struct {
	UserID  int64  `json:"userId"`
	Trigger string `json:"trigger"`
	Queued  bool   `json:"queued"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth returns the full health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// handleReady reports whether dependencies are reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		writeJSONError(w, http.StatusServiceUnavailable, "not_ready", status.Message)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive is a liveness probe.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleMyAchievements(w http.ResponseWriter, r *http.Request) {
	userID, _ := handlers.UserIDFromContext(r.Context())
	s.respondAchievements(w, r, userID)
}

func (s *Server) handleUserAchievements(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathUserID(w, r)
	if !ok {
		return
	}
	s.respondAchievements(w, r, userID)
}

func (s *Server) respondAchievements(w http.ResponseWriter, r *http.Request, userID int64) {
	result, err := s.deps.Achievements.Handle(r.Context(), query.GetAchievementsQuery{
		UserID:   userID,
		Category: r.URL.Query().Get("category"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, result, &ResponseMeta{TotalCount: result.Total})
}

func (s *Server) handleUnread(w http.ResponseWriter, r *http.Request) {
	userID, _ := handlers.UserIDFromContext(r.Context())
	unlocks, err := s.deps.Unnotified.Handle(r.Context(), query.GetUnnotifiedQuery{UserID: userID})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, unlocks, &ResponseMeta{TotalCount: len(unlocks)})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := handlers.UserIDFromContext(r.Context())

	var req MarkReadRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.deps.MarkNotified.Handle(r.Context(), command.MarkNotifiedCommand{UserID: userID, IDs: req.IDs})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]int{"updated": n})
}

func (s *Server) handleMySummary(w http.ResponseWriter, r *http.Request) {
	userID, _ := handlers.UserIDFromContext(r.Context())
	s.respondSummary(w, r, userID)
}

func (s *Server) handleUserSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathUserID(w, r)
	if !ok {
		return
	}
	s.respondSummary(w, r, userID)
}

func (s *Server) respondSummary(w http.ResponseWriter, r *http.Request, userID int64) {
	summary, err := s.deps.Summary.Handle(r.Context(), query.GetSummaryQuery{UserID: userID})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, summary)
}

func (s *Server) handleGlobalSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Summary.HandleGlobal(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, summary)
}

// ══════════════════════════════════════════════════════════════════════════════
// BADGE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleMyBadges(w http.ResponseWriter, r *http.Request) {
	userID, _ := handlers.UserIDFromContext(r.Context())
	s.respondBadges(w, r, userID, false)
}

func (s *Server) handleUserBadges(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathUserID(w, r)
	if !ok {
		return
	}
	s.respondBadges(w, r, userID, false)
}

func (s *Server) handleMyEquipped(w http.ResponseWriter, r *http.Request) {
	userID, _ := handlers.UserIDFromContext(r.Context())
	s.respondBadges(w, r, userID, true)
}

func (s *Server) handleUserEquipped(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathUserID(w, r)
	if !ok {
		return
	}
	s.respondBadges(w, r, userID, true)
}

func (s *Server) respondBadges(w http.ResponseWriter, r *http.Request, userID int64, equippedOnly bool) {
	badges, err := s.deps.Badges.Handle(r.Context(), query.GetBadgesQuery{UserID: userID, EquippedOnly: equippedOnly})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, badges, &ResponseMeta{TotalCount: len(badges)})
}

func (s *Server) handleAllEquipped(w http.ResponseWriter, r *http.Request) {
	grouped, err := s.deps.Badges.HandleAllEquipped(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, grouped, &ResponseMeta{TotalCount: len(grouped)})
}

func (s *Server) handleEquip(w http.ResponseWriter, r *http.Request) {
	userID, _ := handlers.UserIDFromContext(r.Context())

	var req EquipRequest
	if !s.decode(w, r, &req) {
		return
	}
	equipped, err := s.deps.BadgeSlots.Equip(r.Context(), command.EquipBadgeCommand{
		UserID:  userID,
		BadgeID: req.BadgeID,
		Slot:    req.SlotNumber,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.Badges.Join(equipped))
}

func (s *Server) handleUnequip(w http.ResponseWriter, r *http.Request) {
	userID, _ := handlers.UserIDFromContext(r.Context())

	var req UnequipRequest
	if !s.decode(w, r, &req) {
		return
	}
	equipped, err := s.deps.BadgeSlots.Unequip(r.Context(), command.UnequipBadgeCommand{
		UserID: userID,
		Slot:   req.SlotNumber,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.Badges.Join(equipped))
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIONS & TRIGGERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleTrackAction(w http.ResponseWriter, r *http.Request) {
	userID, _ := handlers.UserIDFromContext(r.Context())

	var req TrackActionRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.deps.TrackAction.Handle(r.Context(), command.TrackActionCommand{UserID: userID, Action: req.Action})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleTrigger schedules an evaluation run. The caller's own operation has
// already succeeded, so a dropped run is reported, never failed.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if !s.decode(w, r, &req) {
		return
	}
	trigger := achievement.ParseTrigger(req.Event)
	resp := TriggerResponse{UserID: req.UserID, Trigger: string(trigger)}

	if err := s.deps.Queue.Enqueue(req.UserID, trigger); err != nil {
		logger.FromContext(r.Context()).Warn("evaluation not queued",
			logger.UserID(req.UserID),
			logger.Trigger(string(trigger)),
			logger.Err(err),
		)
	} else {
		resp.Queued = true
	}
	writeJSON(w, r, http.StatusAccepted, resp)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decode reads a JSON body into dst and validates it. On failure it writes a
// 400 response and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeJSONError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
		case errors.Is(err, io.EOF):
			writeJSONError(w, http.StatusBadRequest, "validation_error", "Request body is required")
		default:
			writeJSONError(w, http.StatusBadRequest, "validation_error", "Malformed JSON body")
		}
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeError(w, r, err)
		return false
	}
	return true
}

// pathUserID parses {userID}. On failure it writes a 400 response.
func (s *Server) pathUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, r, shared.ErrInvalidUserID)
		return 0, false
	}
	return id, true
}
