// Package catalog loads the static achievement and badge catalog from YAML.
// The default catalog is embedded in the binary; a file path can override it.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
	"github.com/dnflvus-wq/engTest/internal/domain/badge"
	"github.com/dnflvus-wq/engTest/internal/domain/shared"
)

//go:embed catalog.yaml
var embedded []byte

type document struct {
	Version      string                   `yaml:"version"`
	Books        []achievement.Book       `yaml:"books"`
	Achievements []achievement.Definition `yaml:"achievements"`
	Badges       []badge.Badge            `yaml:"badges"`
}

// Catalog is the loaded achievement catalog plus its badges.
type Catalog struct {
	*achievement.Catalog
	badges map[string]badge.Badge
	order  []badge.Badge
}

// Load reads the catalog at path, or the embedded catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(embedded)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, shared.WrapError("achievement", "LoadCatalog", shared.ErrServiceUnavailable,
			"failed to read catalog file", err)
	}
	return Parse(data)
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(embedded)
}

// Parse decodes and validates a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, shared.WrapError("achievement", "LoadCatalog", shared.ErrInvalidInput,
			"failed to parse catalog", err)
	}

	ach, err := achievement.NewCatalog(doc.Version, doc.Achievements, doc.Books)
	if err != nil {
		return nil, shared.WrapError("achievement", "LoadCatalog", shared.ErrInvalidInput,
			"invalid catalog", err)
	}

	c := &Catalog{
		Catalog: ach,
		badges:  make(map[string]badge.Badge, len(doc.Badges)),
		order:   make([]badge.Badge, 0, len(doc.Badges)),
	}
	for _, b := range doc.Badges {
		if err := b.Validate(); err != nil {
			return nil, shared.WrapError("badge", "LoadCatalog", shared.ErrInvalidInput, "invalid badge", err)
		}
		if _, dup := c.badges[b.ID]; dup {
			return nil, fmt.Errorf("duplicate badge id %q", b.ID)
		}
		def, ok := ach.Get(b.AchievementID)
		if !ok {
			return nil, fmt.Errorf("badge %s references unknown achievement %s", b.ID, b.AchievementID)
		}
		if def.BadgeID != b.ID {
			return nil, fmt.Errorf("badge %s is not linked from achievement %s", b.ID, def.ID)
		}
		c.badges[b.ID] = b
		c.order = append(c.order, b)
	}

	defs, _ := ach.Definitions(context.Background())
	for _, d := range defs {
		if d.BadgeID == "" {
			continue
		}
		if _, ok := c.badges[d.BadgeID]; !ok {
			return nil, fmt.Errorf("achievement %s grants unknown badge %s", d.ID, d.BadgeID)
		}
	}

	sort.SliceStable(c.order, func(i, j int) bool { return c.order[i].ID < c.order[j].ID })
	return c, nil
}

// Badge implements badge.Catalog.
func (c *Catalog) Badge(id string) (badge.Badge, bool) {
	b, ok := c.badges[id]
	return b, ok
}

// Badges implements badge.Catalog.
func (c *Catalog) Badges() []badge.Badge {
	out := make([]badge.Badge, len(c.order))
	copy(out, c.order)
	return out
}
