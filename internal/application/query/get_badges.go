package query

import (
	"context"
	"fmt"
	"time"

	"github.com/dnflvus-wq/engTest/internal/domain/badge"
	"github.com/dnflvus-wq/engTest/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET BADGES QUERIES
// Owned and equipped badges joined with catalog data.
// ══════════════════════════════════════════════════════════════════════════════

// OwnedBadgeDTO is an owned badge with its catalog entry.
type OwnedBadgeDTO struct {
	BadgeID       string    `json:"badgeId"`
	AchievementID string    `json:"achievementId,omitempty"`
	NameKr        string    `json:"nameKr,omitempty"`
	NameEn        string    `json:"nameEn,omitempty"`
	DescriptionKr string    `json:"descriptionKr,omitempty"`
	Icon          string    `json:"icon,omitempty"`
	Rarity        string    `json:"rarity,omitempty"`
	ProfileEffect string    `json:"profileEffect,omitempty"`
	SlotNumber    *int      `json:"slotNumber"`
	EarnedAt      time.Time `json:"earnedAt"`
}

// GetBadgesQuery selects a user's badges.
type GetBadgesQuery struct {
	UserID int64

	// EquippedOnly limits the result to slotted badges, ordered by slot.
	EquippedOnly bool
}

// Validate validates the query.
func (q GetBadgesQuery) Validate() error {
	if q.UserID <= 0 {
		return shared.ErrInvalidUserID
	}
	return nil
}

// GetBadgesHandler handles badge queries.
type GetBadgesHandler struct {
	repo    badge.Repository
	catalog badge.Catalog
}

// NewGetBadgesHandler creates a new handler.
func NewGetBadgesHandler(repo badge.Repository, catalog badge.Catalog) *GetBadgesHandler {
	return &GetBadgesHandler{repo: repo, catalog: catalog}
}

// Handle returns the user's owned (or equipped) badges.
func (h *GetBadgesHandler) Handle(ctx context.Context, q GetBadgesQuery) ([]OwnedBadgeDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var (
		rows []badge.Owned
		err  error
	)
	if q.EquippedOnly {
		rows, err = h.repo.FindEquipped(ctx, q.UserID)
	} else {
		rows, err = h.repo.FindOwned(ctx, q.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("get_badges: failed to load badges: %w", err)
	}
	return h.join(rows), nil
}

// HandleAllEquipped returns every user's equipped badges keyed by user id.
func (h *GetBadgesHandler) HandleAllEquipped(ctx context.Context) (map[int64][]OwnedBadgeDTO, error) {
	rows, err := h.repo.FindAllEquipped(ctx)
	if err != nil {
		return nil, fmt.Errorf("get_badges: failed to load equipped badges: %w", err)
	}
	out := make(map[int64][]OwnedBadgeDTO)
	for _, r := range rows {
		out[r.UserID] = append(out[r.UserID], h.toDTO(r))
	}
	return out, nil
}

// Join converts repository rows into DTOs. It is used by callers that already
// hold rows, such as the equip endpoints.
func (h *GetBadgesHandler) Join(rows []badge.Owned) []OwnedBadgeDTO {
	return h.join(rows)
}

func (h *GetBadgesHandler) join(rows []badge.Owned) []OwnedBadgeDTO {
	out := make([]OwnedBadgeDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, h.toDTO(r))
	}
	return out
}

func (h *GetBadgesHandler) toDTO(r badge.Owned) OwnedBadgeDTO {
	dto := OwnedBadgeDTO{
		BadgeID:    r.BadgeID,
		SlotNumber: r.Slot,
		EarnedAt:   r.EarnedAt,
	}
	if h.catalog == nil {
		return dto
	}
	if b, ok := h.catalog.Badge(r.BadgeID); ok {
		dto.AchievementID = b.AchievementID
		dto.NameKr = b.NameKr
		dto.NameEn = b.NameEn
		dto.DescriptionKr = b.DescriptionKr
		dto.Icon = b.Icon
		dto.Rarity = string(b.Rarity)
		dto.ProfileEffect = b.ProfileEffect
	}
	return dto
}
