package command

import (
	"context"
	"fmt"

	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
	"github.com/dnflvus-wq/engTest/internal/domain/shared"
)

// MarkNotifiedCommand acknowledges unlock records shown to the user.
type MarkNotifiedCommand struct {
	UserID int64
	IDs    []int64
}

// Validate validates the command.
func (c MarkNotifiedCommand) Validate() error {
	if c.UserID <= 0 {
		return shared.ErrInvalidUserID
	}
	return nil
}

// MarkNotifiedHandler handles the MarkNotifiedCommand.
type MarkNotifiedHandler struct {
	unlocks        achievement.UnlockRepository
	eventPublisher shared.EventPublisher
}

// NewMarkNotifiedHandler creates a new MarkNotifiedHandler.
func NewMarkNotifiedHandler(unlocks achievement.UnlockRepository, eventPublisher shared.EventPublisher) *MarkNotifiedHandler {
	if eventPublisher == nil {
		eventPublisher = shared.NopPublisher{}
	}
	return &MarkNotifiedHandler{unlocks: unlocks, eventPublisher: eventPublisher}
}

// Handle flags the records. Only records owned by the user are touched; an
// empty id list does nothing. It returns the number of rows updated.
func (h *MarkNotifiedHandler) Handle(ctx context.Context, cmd MarkNotifiedCommand) (int, error) {
	if err := cmd.Validate(); err != nil {
		return 0, err
	}
	if len(cmd.IDs) == 0 {
		return 0, nil
	}

	n, err := h.unlocks.MarkNotified(ctx, cmd.UserID, cmd.IDs)
	if err != nil {
		return 0, fmt.Errorf("mark_notified: failed to update: %w", err)
	}
	if n > 0 {
		_ = h.eventPublisher.Publish(shared.AchievementsNotifiedEvent{
			BaseEvent: shared.NewUserEvent(shared.EventAchievementsNotified, cmd.UserID),
			UserID:    cmd.UserID,
			IDs:       cmd.IDs,
		})
	}
	return n, nil
}
