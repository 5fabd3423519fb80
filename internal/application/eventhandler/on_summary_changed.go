// Package eventhandler contains domain event handlers.
// Handlers are the reactive side of the engine: they keep caches in step with
// writes and record what happened, and never change unlock state themselves.
package eventhandler

import (
	"context"
	"strconv"
	"time"

	"github.com/dnflvus-wq/engTest/internal/domain/shared"
	"github.com/dnflvus-wq/engTest/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON SUMMARY CHANGED HANDLER
// Drops cached summaries after unlocks and badge changes so the next read
// recomputes them. Invalidation failures are logged; the cache entry then
// simply lives until its TTL.
// ═══════════════════════════════════════════════════════════════════════════

// SummaryInvalidator is the part of the summary cache the handler needs.
type SummaryInvalidator interface {
	InvalidateUser(ctx context.Context, userID int64) error
	InvalidateGlobal(ctx context.Context) error
}

// SummaryChangedConfig contains handler configuration.
type SummaryChangedConfig struct {
	// Timeout bounds each invalidation call.
	Timeout time.Duration
}

// DefaultSummaryChangedConfig returns the default configuration.
func DefaultSummaryChangedConfig() SummaryChangedConfig {
	return SummaryChangedConfig{Timeout: 2 * time.Second}
}

// OnSummaryChangedHandler invalidates summary cache entries.
type OnSummaryChangedHandler struct {
	cache  SummaryInvalidator
	logger *logger.Logger
	config SummaryChangedConfig
}

// NewOnSummaryChangedHandler creates a new handler.
func NewOnSummaryChangedHandler(cache SummaryInvalidator, log *logger.Logger, config SummaryChangedConfig) *OnSummaryChangedHandler {
	if log == nil {
		log = logger.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultSummaryChangedConfig().Timeout
	}
	return &OnSummaryChangedHandler{
		cache:  cache,
		logger: log.With(logger.Component("on_summary_changed")),
		config: config,
	}
}

// EventTypes lists the events that change a summary.
func (h *OnSummaryChangedHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventAchievementUnlocked,
		shared.EventBadgeAwarded,
	}
}

// Handle implements shared.EventHandler.
func (h *OnSummaryChangedHandler) Handle(event shared.Event) error {
	userID, err := strconv.ParseInt(event.AggregateID(), 10, 64)
	if err != nil {
		h.logger.Warn("event without user aggregate",
			logger.String("event_type", string(event.EventType())),
			logger.String("aggregate_id", event.AggregateID()),
		)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	if err := h.cache.InvalidateUser(ctx, userID); err != nil {
		h.logger.Warn("failed to invalidate user summary",
			logger.UserID(userID),
			logger.Err(err),
		)
	}
	if err := h.cache.InvalidateGlobal(ctx); err != nil {
		h.logger.Warn("failed to invalidate global summary", logger.Err(err))
	}
	return nil
}
