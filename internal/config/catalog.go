package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Entity is one tracked banner: a logical feed with fixed daily draw slots
// and one provider URL per source adapter able to serve it.
// The catalog is loaded once at startup and never mutated at runtime.
type Entity struct {
	ID        string            `yaml:"id" json:"id"`
	Slug      string            `yaml:"slug" json:"slug"`
	Name      string            `yaml:"name" json:"name"`
	URLs      map[string]string `yaml:"urls" json:"urls"`
	TimeSlots []string          `yaml:"time_slots" json:"time_slots"`
}

// Catalog is the ordered list of tracked entities.
type Catalog struct {
	Entities []Entity `yaml:"entities"`
}

var slotRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// LoadCatalog reads and validates the entity catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("config: parse catalog %s: %w", path, err)
	}

	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate checks catalog integrity: unique IDs, HH:MM slots, non-empty URLs.
func (c *Catalog) Validate() error {
	seen := make(map[string]bool, len(c.Entities))
	for i := range c.Entities {
		e := &c.Entities[i]
		if e.ID == "" {
			return fmt.Errorf("config: entity %d: missing id", i)
		}
		if seen[e.ID] {
			return fmt.Errorf("config: duplicate entity id %q", e.ID)
		}
		seen[e.ID] = true
		if e.Slug == "" {
			e.Slug = e.ID
		}
		if len(e.TimeSlots) == 0 {
			return fmt.Errorf("config: entity %q: no time slots", e.ID)
		}
		for _, slot := range e.TimeSlots {
			if !slotRe.MatchString(slot) {
				return fmt.Errorf("config: entity %q: bad slot %q (want HH:MM)", e.ID, slot)
			}
		}
		if len(e.URLs) == 0 {
			return fmt.Errorf("config: entity %q: no provider urls", e.ID)
		}
	}
	return nil
}

// HasSlot reports whether the entity expects a draw at the given slot.
func (e *Entity) HasSlot(slot string) bool {
	for _, s := range e.TimeSlots {
		if s == slot {
			return true
		}
	}
	return false
}

// ByID returns the entity with the given id, or nil.
func (c *Catalog) ByID(id string) *Entity {
	for i := range c.Entities {
		if c.Entities[i].ID == id {
			return &c.Entities[i]
		}
	}
	return nil
}

// SlotCount returns the total number of expected daily events across all
// entities. Used by the KPI surface as the day's denominator.
func (c *Catalog) SlotCount() int {
	var n int
	for i := range c.Entities {
		n += len(c.Entities[i].TimeSlots)
	}
	return n
}
