package achievement

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Category groups achievements for display and trigger filtering.
type Category string

const (
	CategoryFirstSteps     Category = "FIRST_STEPS"
	CategoryExamMaster     Category = "EXAM_MASTER"
	CategoryPerfectionist  Category = "PERFECTIONIST"
	CategoryStudyKing      Category = "STUDY_KING"
	CategoryStreaks        Category = "STREAKS"
	CategorySpeed          Category = "SPEED"
	CategoryCompetition    Category = "COMPETITION"
	CategoryExplorer       Category = "EXPLORER"
	CategoryProgressMaster Category = "PROGRESS_MASTER"
	CategoryHidden         Category = "HIDDEN"
	CategoryLegend         Category = "LEGEND"
)

var allCategories = []Category{
	CategoryFirstSteps, CategoryExamMaster, CategoryPerfectionist,
	CategoryStudyKing, CategoryStreaks, CategorySpeed, CategoryCompetition,
	CategoryExplorer, CategoryProgressMaster, CategoryHidden, CategoryLegend,
}

// Categories returns every category.
func Categories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, k := range allCategories {
		if k == c {
			return true
		}
	}
	return false
}

// ─────────────────────────────────────────────────────────────────────────────
// Triggers
// ─────────────────────────────────────────────────────────────────────────────

// Trigger names the life-cycle event that started an evaluation run.
type Trigger string

const (
	TriggerExamComplete Trigger = "EXAM_COMPLETE"
	TriggerLogin        Trigger = "LOGIN"
	TriggerStudyAction  Trigger = "STUDY_ACTION"
	TriggerAll          Trigger = "ALL"
)

var triggerCategories = map[Trigger][]Category{
	TriggerExamComplete: {
		CategoryFirstSteps, CategoryExamMaster, CategoryPerfectionist,
		CategorySpeed, CategoryCompetition, CategoryExplorer,
		CategoryProgressMaster, CategoryHidden, CategoryLegend,
	},
	TriggerLogin:       {CategoryFirstSteps, CategoryStreaks, CategoryLegend},
	TriggerStudyAction: {CategoryFirstSteps, CategoryStudyKing, CategoryStreaks, CategoryExplorer},
}

// ParseTrigger normalises a trigger name. Unknown names map to TriggerAll.
func ParseTrigger(s string) Trigger {
	t := Trigger(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := triggerCategories[t]; ok {
		return t
	}
	return TriggerAll
}

// Categories returns the set of categories evaluated for the trigger.
// TriggerAll and unknown triggers select every category.
func (t Trigger) Categories() map[Category]bool {
	cats, ok := triggerCategories[t]
	if !ok {
		cats = allCategories
	}
	set := make(map[Category]bool, len(cats))
	for _, c := range cats {
		set[c] = true
	}
	return set
}

// ─────────────────────────────────────────────────────────────────────────────
// Badge grant policy
// ─────────────────────────────────────────────────────────────────────────────

// GrantPolicy decides at which unlock the linked badge is awarded.
// It is "SINGLE", a tier name, or "GOLD_OR_ABOVE".
type GrantPolicy string

const (
	GrantSingle      GrantPolicy = "SINGLE"
	GrantGoldOrAbove GrantPolicy = "GOLD_OR_ABOVE"
)

// Grants reports whether unlocking newTier satisfies the policy.
func (p GrantPolicy) Grants(newTier Tier) bool {
	switch p {
	case "":
		return false
	case GrantSingle:
		return true
	case GrantGoldOrAbove:
		return newTier == TierGold || newTier == TierDiamond
	default:
		return newTier != TierNone && Tier(p) == newTier
	}
}

// Valid reports whether p is a recognised policy.
func (p GrantPolicy) Valid() bool {
	switch p {
	case "", GrantSingle, GrantGoldOrAbove:
		return true
	}
	return Tier(p).Index() >= 0
}

// ─────────────────────────────────────────────────────────────────────────────
// Definitions
// ─────────────────────────────────────────────────────────────────────────────

// Definition is one immutable catalog entry.
type Definition struct {
	ID            string      `json:"id" yaml:"id"`
	Category      Category    `json:"category" yaml:"category"`
	NameKr        string      `json:"nameKr" yaml:"name_kr"`
	NameEn        string      `json:"nameEn" yaml:"name_en"`
	DescriptionKr string      `json:"descriptionKr" yaml:"description_kr"`
	Icon          string      `json:"icon" yaml:"icon"`
	Hidden        bool        `json:"isHidden" yaml:"hidden"`
	Tiered        bool        `json:"isTiered" yaml:"tiered"`
	Reverse       bool        `json:"reverse,omitempty" yaml:"reverse"`
	Thresholds    Thresholds  `json:"tierThresholds,omitempty" yaml:"thresholds"`
	BadgeID       string      `json:"badgeId,omitempty" yaml:"badge_id"`
	GrantsBadgeAt GrantPolicy `json:"grantsBadgeAt,omitempty" yaml:"grants_badge_at"`
	DisplayOrder  int         `json:"displayOrder" yaml:"display_order"`
}

// HasBadge reports whether unlocking can grant a badge.
func (d Definition) HasBadge() bool {
	return d.BadgeID != "" && d.GrantsBadgeAt != ""
}

// Validate checks internal consistency of the definition.
func (d Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("definition without id")
	}
	if !d.Category.Valid() {
		return fmt.Errorf("%s: unknown category %q", d.ID, d.Category)
	}
	if d.Tiered {
		if len(d.Thresholds) == 0 {
			return fmt.Errorf("%s: tiered achievement without thresholds", d.ID)
		}
		if err := d.Thresholds.Validate(d.Reverse); err != nil {
			return fmt.Errorf("%s: %w", d.ID, err)
		}
	} else if len(d.Thresholds) > 0 {
		return fmt.Errorf("%s: thresholds on a non-tiered achievement", d.ID)
	}
	if !d.GrantsBadgeAt.Valid() {
		return fmt.Errorf("%s: unknown badge policy %q", d.ID, d.GrantsBadgeAt)
	}
	if (d.BadgeID == "") != (d.GrantsBadgeAt == "") {
		return fmt.Errorf("%s: badge_id and grants_badge_at must be set together", d.ID)
	}
	return nil
}

// Book describes one textbook tracked by progress achievements.
type Book struct {
	ID       int `json:"id" yaml:"id"`
	Chapters int `json:"chapters" yaml:"chapters"`
}

// Catalog is the static, versioned set of definitions. It is built once at
// startup and safe for concurrent reads.
type Catalog struct {
	version     string
	definitions []Definition
	byID        map[string]Definition
	books       map[int]Book
}

// NewCatalog validates the definitions and indexes them. Definitions are
// ordered by category then display order.
func NewCatalog(version string, defs []Definition, books []Book) (*Catalog, error) {
	c := &Catalog{
		version:     version,
		definitions: make([]Definition, 0, len(defs)),
		byID:        make(map[string]Definition, len(defs)),
		books:       make(map[int]Book, len(books)),
	}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate achievement id %q", d.ID)
		}
		c.byID[d.ID] = d
		c.definitions = append(c.definitions, d)
	}
	for _, b := range books {
		if b.Chapters <= 0 {
			return nil, fmt.Errorf("book %d: chapters must be positive", b.ID)
		}
		c.books[b.ID] = b
	}

	catIdx := make(map[Category]int, len(allCategories))
	for i, cat := range allCategories {
		catIdx[cat] = i
	}
	sort.SliceStable(c.definitions, func(i, j int) bool {
		a, b := c.definitions[i], c.definitions[j]
		if a.Category != b.Category {
			return catIdx[a.Category] < catIdx[b.Category]
		}
		return a.DisplayOrder < b.DisplayOrder
	})
	return c, nil
}

// Version returns the catalog version string.
func (c *Catalog) Version() string { return c.version }

// Len returns the number of definitions.
func (c *Catalog) Len() int { return len(c.definitions) }

// Definitions implements DefinitionSource.
func (c *Catalog) Definitions(ctx context.Context) ([]Definition, error) {
	out := make([]Definition, len(c.definitions))
	copy(out, c.definitions)
	return out, nil
}

// Get returns the definition with the given id.
func (c *Catalog) Get(id string) (Definition, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// Book returns the book with the given id.
func (c *Catalog) Book(id int) (Book, bool) {
	b, ok := c.books[id]
	return b, ok
}

// DefinitionSource supplies the catalog to the evaluation run.
type DefinitionSource interface {
	Definitions(ctx context.Context) ([]Definition, error)
}
