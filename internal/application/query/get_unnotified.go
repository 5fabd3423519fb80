package query

import (
	"context"
	"fmt"
	"time"

	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
	"github.com/dnflvus-wq/engTest/internal/domain/shared"
)

// GetUnnotifiedQuery asks for unlocks the client has not shown yet.
type GetUnnotifiedQuery struct {
	UserID int64
}

// Validate validates the query.
func (q GetUnnotifiedQuery) Validate() error {
	if q.UserID <= 0 {
		return shared.ErrInvalidUserID
	}
	return nil
}

// UnlockDTO is an unlock record joined with its catalog entry.
type UnlockDTO struct {
	ID            int64     `json:"id"`
	AchievementID string    `json:"achievementId"`
	Tier          string    `json:"tier,omitempty"`
	CurrentValue  int       `json:"currentValue"`
	UnlockedAt    time.Time `json:"unlockedAt"`
	NameKr        string    `json:"nameKr,omitempty"`
	NameEn        string    `json:"nameEn,omitempty"`
	Icon          string    `json:"icon,omitempty"`
	Category      string    `json:"category,omitempty"`
}

// DefinitionLookup finds a single catalog entry.
type DefinitionLookup interface {
	Get(id string) (achievement.Definition, bool)
}

// GetUnnotifiedHandler handles GetUnnotifiedQuery.
type GetUnnotifiedHandler struct {
	unlocks achievement.UnlockRepository
	catalog DefinitionLookup
}

// NewGetUnnotifiedHandler creates a new handler.
func NewGetUnnotifiedHandler(unlocks achievement.UnlockRepository, catalog DefinitionLookup) *GetUnnotifiedHandler {
	return &GetUnnotifiedHandler{unlocks: unlocks, catalog: catalog}
}

// Handle executes the query. Records whose achievement left the catalog are
// still returned, without display data, so they can be acknowledged.
func (h *GetUnnotifiedHandler) Handle(ctx context.Context, q GetUnnotifiedQuery) ([]UnlockDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	records, err := h.unlocks.FindUnnotified(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_unnotified: failed to load unlocks: %w", err)
	}

	out := make([]UnlockDTO, 0, len(records))
	for _, r := range records {
		dto := UnlockDTO{
			ID:            r.ID,
			AchievementID: r.AchievementID,
			Tier:          string(r.Tier),
			CurrentValue:  r.CurrentValue,
			UnlockedAt:    r.UnlockedAt,
		}
		if h.catalog != nil {
			if def, ok := h.catalog.Get(r.AchievementID); ok {
				dto.NameKr = def.NameKr
				dto.NameEn = def.NameEn
				dto.Icon = def.Icon
				dto.Category = string(def.Category)
			}
		}
		out = append(out, dto)
	}
	return out, nil
}
