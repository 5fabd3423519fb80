package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
	"github.com/dnflvus-wq/engTest/internal/domain/shared"
	"github.com/dnflvus-wq/engTest/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRACK ACTION COMMAND
// Counts a study action reported by the client and schedules a STUDY_ACTION
// evaluation. The evaluation is fire-and-forget: a full queue is logged and
// the request still succeeds.
// ══════════════════════════════════════════════════════════════════════════════

// EvaluationEnqueuer schedules an asynchronous evaluation run.
type EvaluationEnqueuer interface {
	Enqueue(userID int64, trigger achievement.Trigger) error
}

// TrackActionCommand contains the action to count.
type TrackActionCommand struct {
	UserID int64
	Action string
}

// Validate validates the command.
func (c TrackActionCommand) Validate() error {
	if c.UserID <= 0 {
		return shared.ErrInvalidUserID
	}
	if strings.TrimSpace(c.Action) == "" {
		return shared.ErrActionRequired
	}
	return nil
}

// TrackActionResult is returned to the client.
type TrackActionResult struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
	Queued bool   `json:"queued"`
}

// TrackActionHandler handles the TrackActionCommand.
type TrackActionHandler struct {
	counter        achievement.ActionCounter
	queue          EvaluationEnqueuer
	eventPublisher shared.EventPublisher
	logger         *logger.Logger
}

// NewTrackActionHandler creates a new TrackActionHandler.
func NewTrackActionHandler(
	counter achievement.ActionCounter,
	queue EvaluationEnqueuer,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
) *TrackActionHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &TrackActionHandler{
		counter:        counter,
		queue:          queue,
		eventPublisher: eventPublisher,
		logger:         log.With(logger.Component("track_action")),
	}
}

// Handle executes the command.
func (h *TrackActionHandler) Handle(ctx context.Context, cmd TrackActionCommand) (*TrackActionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	action := strings.ToUpper(strings.TrimSpace(cmd.Action))

	count, err := h.counter.Increment(ctx, cmd.UserID, action)
	if err != nil {
		return nil, fmt.Errorf("track_action: failed to increment %s: %w", action, err)
	}

	_ = h.eventPublisher.Publish(shared.ActionTrackedEvent{
		BaseEvent: shared.NewUserEvent(shared.EventActionTracked, cmd.UserID),
		UserID:    cmd.UserID,
		Action:    action,
		Count:     count,
	})

	result := &TrackActionResult{Action: action, Count: count}
	if h.queue == nil {
		return result, nil
	}
	if err := h.queue.Enqueue(cmd.UserID, achievement.TriggerStudyAction); err != nil {
		h.logger.Warn("study action evaluation not queued",
			logger.UserID(cmd.UserID),
			logger.String("action", action),
			logger.Err(err),
		)
		return result, nil
	}
	result.Queued = true
	return result, nil
}
