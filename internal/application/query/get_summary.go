package query

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
	"github.com/dnflvus-wq/engTest/internal/domain/badge"
	"github.com/dnflvus-wq/engTest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET SUMMARY QUERIES
// Per-user and global overviews. Both are read through an optional cache; the
// global one is also coalesced so a burst of requests computes it once.
// ══════════════════════════════════════════════════════════════════════════════

// SummaryCache caches computed summaries. A miss is (nil, nil).
type SummaryCache interface {
	GetSummary(ctx context.Context, userID int64) (*achievement.Summary, error)
	SetSummary(ctx context.Context, userID int64, s achievement.Summary) error
	GetGlobal(ctx context.Context) (*achievement.GlobalSummary, error)
	SetGlobal(ctx context.Context, s achievement.GlobalSummary) error
	InvalidateUser(ctx context.Context, userID int64) error
	InvalidateGlobal(ctx context.Context) error
}

// Sizer reports how many achievements the catalog holds.
type Sizer interface {
	Len() int
}

// GetSummaryQuery asks for one user's summary.
type GetSummaryQuery struct {
	UserID int64
}

// Validate validates the query.
func (q GetSummaryQuery) Validate() error {
	if q.UserID <= 0 {
		return shared.ErrInvalidUserID
	}
	return nil
}

// GetSummaryHandler handles GetSummaryQuery and the global summary.
type GetSummaryHandler struct {
	catalog Sizer
	unlocks achievement.UnlockRepository
	badges  badge.Repository
	cache   SummaryCache
	group   singleflight.Group
}

// NewGetSummaryHandler creates a new handler. cache may be nil.
func NewGetSummaryHandler(
	catalog Sizer,
	unlocks achievement.UnlockRepository,
	badges badge.Repository,
	cache SummaryCache,
) *GetSummaryHandler {
	return &GetSummaryHandler{catalog: catalog, unlocks: unlocks, badges: badges, cache: cache}
}

// Handle returns the user's summary.
func (h *GetSummaryHandler) Handle(ctx context.Context, q GetSummaryQuery) (*achievement.Summary, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if h.cache != nil {
		if cached, err := h.cache.GetSummary(ctx, q.UserID); err == nil && cached != nil {
			return cached, nil
		}
	}

	unlocked, err := h.unlocks.CountDistinctByUser(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_summary: failed to count unlocks: %w", err)
	}
	gold, err := h.unlocks.CountGoldOrAbove(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_summary: failed to count gold unlocks: %w", err)
	}
	badges, err := h.badges.CountByUser(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_summary: failed to count badges: %w", err)
	}

	s := achievement.Summary{
		TotalAchievements: h.catalog.Len(),
		UnlockedCount:     unlocked,
		BadgeCount:        badges,
		GoldOrAbove:       gold,
	}
	if h.cache != nil {
		_ = h.cache.SetSummary(ctx, q.UserID, s)
	}
	return &s, nil
}

// HandleGlobal returns the summary over all users.
func (h *GetSummaryHandler) HandleGlobal(ctx context.Context) (*achievement.GlobalSummary, error) {
	if h.cache != nil {
		if cached, err := h.cache.GetGlobal(ctx); err == nil && cached != nil {
			return cached, nil
		}
	}

	v, err, _ := h.group.Do("global", func() (interface{}, error) {
		totals, err := h.unlocks.Totals(ctx)
		if err != nil {
			return nil, fmt.Errorf("get_summary: failed to aggregate unlocks: %w", err)
		}
		badges, err := h.badges.CountAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("get_summary: failed to count badges: %w", err)
		}
		s := achievement.GlobalSummary{
			TotalAchievements: h.catalog.Len(),
			TotalUnlocks:      totals.TotalUnlocks,
			UsersWithUnlocks:  totals.UsersWithUnlocks,
			BadgesOwned:       badges,
			GoldOrAbove:       totals.GoldOrAbove,
		}
		if h.cache != nil {
			_ = h.cache.SetGlobal(ctx, s)
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	s := v.(achievement.GlobalSummary)
	return &s, nil
}
