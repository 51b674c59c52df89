package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"go.yaml.in/yaml/v3"

	"ui-annotator/internal/models"
)

var ErrNoModels = errors.New("no models configured")

// ModelEntry is one model_config.yaml entry. ModelCode names the model
// on the detector host and defaults to the entry id.
type ModelEntry struct {
	Name      string `yaml:"name"`
	ModelCode string `yaml:"model_code"`
	Default   bool   `yaml:"default"`
}

// Catalog is the set of detection models the job server offers.
type Catalog struct {
	ids     []string
	entries map[string]ModelEntry
}

type catalogFile struct {
	Models map[string]ModelEntry `yaml:"models"`
}

func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model config: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse model config: %w", err)
	}
	if len(f.Models) == 0 {
		return nil, ErrNoModels
	}

	c := &Catalog{entries: make(map[string]ModelEntry, len(f.Models))}
	for id, e := range f.Models {
		if e.Name == "" {
			e.Name = id
		}
		if e.ModelCode == "" {
			e.ModelCode = id
		}
		c.entries[id] = e
		c.ids = append(c.ids, id)
	}
	sort.Strings(c.ids)
	return c, nil
}

// Models lists the catalogue in id order.
func (c *Catalog) Models() []models.ModelInfo {
	out := make([]models.ModelInfo, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, models.ModelInfo{ID: id, Name: c.entries[id].Name})
	}
	return out
}

func (c *Catalog) Lookup(id string) (ModelEntry, bool) {
	e, ok := c.entries[id]
	return e, ok
}

// Default is the entry marked default, else the first id.
func (c *Catalog) Default() string {
	for _, id := range c.ids {
		if c.entries[id].Default {
			return id
		}
	}
	return c.ids[0]
}

// Resolve maps a requested id to a known one; empty selects the default.
func (c *Catalog) Resolve(id string) (string, ModelEntry, error) {
	if id == "" {
		id = c.Default()
	}
	e, ok := c.entries[id]
	if !ok {
		return "", ModelEntry{}, fmt.Errorf("model '%s' not found", id)
	}
	return id, e, nil
}
