// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
	"github.com/dnflvus-wq/engTest/internal/domain/shared"
	"github.com/dnflvus-wq/engTest/pkg/logger"
)

// HiddenPlaceholder replaces the name and description of locked hidden
// achievements.
const HiddenPlaceholder = "???"

// ══════════════════════════════════════════════════════════════════════════════
// GET ACHIEVEMENTS QUERY
// Returns the catalog merged with one user's unlocks and progress cache.
// ══════════════════════════════════════════════════════════════════════════════

// GetAchievementsQuery contains query parameters.
type GetAchievementsQuery struct {
	// UserID whose unlocks and progress are merged in.
	UserID int64

	// Category filters the catalog (empty = every category).
	Category string
}

// Validate validates the query.
func (q *GetAchievementsQuery) Validate() error {
	if q.UserID <= 0 {
		return shared.ErrInvalidUserID
	}
	q.Category = strings.ToUpper(strings.TrimSpace(q.Category))
	if q.Category != "" && !achievement.Category(q.Category).Valid() {
		return shared.NewDomainError("achievement", "List", shared.ErrInvalidInput,
			fmt.Sprintf("unknown category %q", q.Category))
	}
	return nil
}

// AchievementDTO is one catalog entry as seen by a user.
type AchievementDTO struct {
	ID             string         `json:"id"`
	Category       string         `json:"category"`
	NameKr         string         `json:"nameKr"`
	NameEn         string         `json:"nameEn"`
	DescriptionKr  string         `json:"descriptionKr"`
	Icon           string         `json:"icon"`
	IsHidden       bool           `json:"isHidden"`
	IsTiered       bool           `json:"isTiered"`
	TierThresholds map[string]int `json:"tierThresholds,omitempty"`
	BadgeID        string         `json:"badgeId,omitempty"`
	DisplayOrder   int            `json:"displayOrder"`

	// Unlocked is true once any tier (or the single unlock) is recorded.
	Unlocked bool `json:"unlocked"`

	// Tier is the best unlocked tier; empty for non-tiered or locked entries.
	Tier string `json:"tier,omitempty"`

	// UnlockedAt is when the best tier was reached.
	UnlockedAt *time.Time `json:"unlockedAt,omitempty"`

	CurrentValue int    `json:"currentValue"`
	TargetValue  int    `json:"targetValue,omitempty"`
	NextTier     string `json:"nextTier,omitempty"`
}

// GetAchievementsResult contains the merged list.
type GetAchievementsResult struct {
	Achievements   []AchievementDTO `json:"achievements"`
	Total          int              `json:"total"`
	UnlockedCount  int              `json:"unlockedCount"`
	CatalogVersion string           `json:"catalogVersion,omitempty"`
}

// Versioned is implemented by catalogs that carry a version string.
type Versioned interface {
	Version() string
}

// GetAchievementsHandler handles GetAchievementsQuery.
type GetAchievementsHandler struct {
	catalog  achievement.DefinitionSource
	unlocks  achievement.UnlockRepository
	progress achievement.ProgressRepository
	logger   *logger.Logger
}

// NewGetAchievementsHandler creates a new handler. progress may be nil.
func NewGetAchievementsHandler(
	catalog achievement.DefinitionSource,
	unlocks achievement.UnlockRepository,
	progress achievement.ProgressRepository,
	log *logger.Logger,
) *GetAchievementsHandler {
	if log == nil {
		log = logger.Default()
	}
	return &GetAchievementsHandler{
		catalog:  catalog,
		unlocks:  unlocks,
		progress: progress,
		logger:   log.With(logger.Component("get_achievements")),
	}
}

// Handle executes the query.
func (h *GetAchievementsHandler) Handle(ctx context.Context, q GetAchievementsQuery) (*GetAchievementsResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	defs, err := h.catalog.Definitions(ctx)
	if err != nil {
		return nil, shared.WrapError("achievement", "List", shared.ErrServiceUnavailable,
			shared.ErrCatalogUnavailable.Message, err)
	}

	records, err := h.unlocks.FindByUser(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_achievements: failed to load unlocks: %w", err)
	}
	best, seen := achievement.BestTiers(records)
	reachedAt := make(map[achievement.UnlockKey]time.Time, len(records))
	for _, r := range records {
		reachedAt[r.Key()] = r.UnlockedAt
	}

	// The progress cache is advisory; a failing cache only drops the numbers.
	var progress map[string]achievement.Progress
	if h.progress != nil {
		progress, err = h.progress.FindByUser(ctx, q.UserID)
		if err != nil {
			h.logger.Warn("progress cache read failed", logger.UserID(q.UserID), logger.Err(err))
			progress = nil
		}
	}

	result := &GetAchievementsResult{Achievements: make([]AchievementDTO, 0, len(defs))}
	if v, ok := h.catalog.(Versioned); ok {
		result.CatalogVersion = v.Version()
	}

	for _, def := range defs {
		if q.Category != "" && string(def.Category) != q.Category {
			continue
		}

		dto := newAchievementDTO(def)
		if seen[def.ID] {
			dto.Unlocked = true
			tier := best[def.ID]
			dto.Tier = string(tier)
			if at, ok := reachedAt[achievement.UnlockKey{UserID: q.UserID, AchievementID: def.ID, Tier: tier}]; ok {
				dto.UnlockedAt = &at
			}
			result.UnlockedCount++
		} else if def.Hidden {
			dto.NameKr = HiddenPlaceholder
			dto.NameEn = HiddenPlaceholder
			dto.DescriptionKr = HiddenPlaceholder
		}

		if p, ok := progress[def.ID]; ok {
			dto.CurrentValue = p.CurrentValue
			dto.TargetValue = p.TargetValue
			dto.NextTier = p.NextTier
		}

		result.Achievements = append(result.Achievements, dto)
	}
	result.Total = len(result.Achievements)
	return result, nil
}

func newAchievementDTO(def achievement.Definition) AchievementDTO {
	dto := AchievementDTO{
		ID:            def.ID,
		Category:      string(def.Category),
		NameKr:        def.NameKr,
		NameEn:        def.NameEn,
		DescriptionKr: def.DescriptionKr,
		Icon:          def.Icon,
		IsHidden:      def.Hidden,
		IsTiered:      def.Tiered,
		BadgeID:       def.BadgeID,
		DisplayOrder:  def.DisplayOrder,
	}
	if len(def.Thresholds) > 0 {
		dto.TierThresholds = make(map[string]int, len(def.Thresholds))
		for t, v := range def.Thresholds {
			dto.TierThresholds[string(t)] = v
		}
	}
	return dto
}
