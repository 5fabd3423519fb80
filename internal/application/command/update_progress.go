package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE PROGRESS COMMAND
// Refreshes the display cache for a tiered achievement: the current value, the
// next tier to reach and its threshold. The cache is disposable and last write
// wins, so failures here never affect unlocks.
// ══════════════════════════════════════════════════════════════════════════════

// UpdateProgressCommand contains the evaluated value of one achievement.
type UpdateProgressCommand struct {
	UserID     int64
	Definition achievement.Definition
	Value      int
}

// Validate validates the command.
func (c UpdateProgressCommand) Validate() error {
	if c.UserID <= 0 {
		return errors.New("update_progress: user_id is required")
	}
	if c.Definition.ID == "" {
		return errors.New("update_progress: achievement_id is required")
	}
	return nil
}

// UpdateProgressHandler handles the UpdateProgressCommand.
type UpdateProgressHandler struct {
	progress achievement.ProgressRepository
	now      func() time.Time
}

// NewUpdateProgressHandler creates a new UpdateProgressHandler.
func NewUpdateProgressHandler(progress achievement.ProgressRepository) *UpdateProgressHandler {
	return &UpdateProgressHandler{
		progress: progress,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle upserts the progress entry. Non-tiered achievements have no
// progress and return (nil, nil).
func (h *UpdateProgressHandler) Handle(ctx context.Context, cmd UpdateProgressCommand) (*achievement.Progress, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("update_progress: validation failed: %w", err)
	}

	def := cmd.Definition
	if !def.Tiered || len(def.Thresholds) == 0 {
		return nil, nil
	}

	next, target := achievement.NextTarget(cmd.Value, def.Thresholds, def.Reverse)
	p := achievement.Progress{
		UserID:        cmd.UserID,
		AchievementID: def.ID,
		CurrentValue:  cmd.Value,
		TargetValue:   target,
		NextTier:      next,
		UpdatedAt:     h.now(),
	}
	if err := h.progress.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("update_progress: failed to upsert %s: %w", def.ID, err)
	}
	return &p, nil
}
