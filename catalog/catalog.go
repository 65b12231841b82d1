// Package catalog loads quest templates from YAML and turns them into quests.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"questkit/core"
	"questkit/criteria"
)

var ErrTemplateNotFound = errors.New("template not found")

// CriterionTemplate describes one criterion of a template.
type CriterionTemplate struct {
	ID          core.CriterionID   `yaml:"id" json:"id"`
	Type        core.CriterionType `yaml:"type" json:"type"`
	Config      map[string]any     `yaml:"config" json:"config"`
	TargetCount int64              `yaml:"target_count" json:"target_count"`
}

// Template is a reusable quest definition.
type Template struct {
	ID          string              `yaml:"id" json:"id"`
	Title       string              `yaml:"title" json:"title"`
	Description string              `yaml:"description,omitempty" json:"description,omitempty"`
	RewardXP    int64               `yaml:"reward_xp,omitempty" json:"reward_xp,omitempty"`
	Criteria    []CriterionTemplate `yaml:"criteria" json:"criteria"`
}

type document struct {
	Templates []Template `yaml:"templates"`
}

// Catalog is an immutable set of validated templates.
type Catalog struct {
	templates map[string]Template
	order     []string
}

// Empty returns a catalog with no templates.
func Empty() *Catalog {
	return &Catalog{templates: map[string]Template{}}
}

// Load reads and parses the catalog file at path.
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(bytes.NewReader(b))
}

// Parse decodes a YAML catalog and validates every template. Unknown keys are
// rejected so typos in field names surface early.
func Parse(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc document
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	c := Empty()
	var errs []string
	for i, t := range doc.Templates {
		if err := t.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("templates[%d]: %v", i, err))
			continue
		}
		if _, dup := c.templates[t.ID]; dup {
			errs = append(errs, fmt.Sprintf("templates[%d]: duplicate id %q", i, t.ID))
			continue
		}
		c.templates[t.ID] = t
		c.order = append(c.order, t.ID)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid catalog: %s", strings.Join(errs, "; "))
	}
	return c, nil
}

// Validate checks the template shape and each criterion config.
func (t Template) Validate() error {
	var errs []string
	if err := core.ValidateSlug("template id", t.ID); err != nil {
		errs = append(errs, err.Error())
	}
	if strings.TrimSpace(t.Title) == "" {
		errs = append(errs, "title is required")
	}
	if t.RewardXP < 0 {
		errs = append(errs, "reward_xp must be >= 0")
	}
	if len(t.Criteria) == 0 {
		errs = append(errs, "at least one criterion is required")
	}
	seen := map[core.CriterionID]bool{}
	for i, c := range t.Criteria {
		if err := core.ValidateSlug("criterion id", string(c.ID)); err != nil {
			errs = append(errs, fmt.Sprintf("criteria[%d]: %v", i, err))
		} else if seen[c.ID] {
			errs = append(errs, fmt.Sprintf("criteria[%d]: duplicate id %q", i, c.ID))
		}
		seen[c.ID] = true
		if c.TargetCount < 1 {
			errs = append(errs, fmt.Sprintf("criteria[%d]: target_count must be >= 1", i))
		}
		cfg := c.Config
		if cfg == nil {
			cfg = map[string]any{}
		}
		if err := criteria.ValidateConfig(c.Type, cfg); err != nil {
			errs = append(errs, fmt.Sprintf("criteria[%d]: %v", i, err))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Get returns the template with id.
func (c *Catalog) Get(id string) (Template, bool) {
	t, ok := c.templates[id]
	return t, ok
}

// List returns templates in file order.
func (c *Catalog) List() []Template {
	out := make([]Template, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.templates[id])
	}
	return out
}

// IDs returns the template ids sorted alphabetically.
func (c *Catalog) IDs() []string {
	ids := append([]string(nil), c.order...)
	sort.Strings(ids)
	return ids
}

func (c *Catalog) Len() int { return len(c.order) }

// Instantiate builds a fresh active quest for user from a template. The quest
// id is left empty for the service to assign.
func (c *Catalog) Instantiate(templateID string, user core.UserID, now time.Time) (core.Quest, error) {
	t, ok := c.templates[templateID]
	if !ok {
		return core.Quest{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, templateID)
	}
	q := core.Quest{
		UserID:      user,
		Title:       t.Title,
		Description: t.Description,
		Status:      core.QuestActive,
		RewardXP:    t.RewardXP,
		ActivatedAt: now.UTC(),
		Criteria:    make([]core.Criterion, 0, len(t.Criteria)),
	}
	for _, ct := range t.Criteria {
		cfg := normalizeConfig(ct.Config)
		q.Criteria = append(q.Criteria, core.Criterion{
			ID:          ct.ID,
			Type:        ct.Type,
			Config:      cfg,
			TargetCount: ct.TargetCount,
		})
	}
	return q, nil
}

// normalizeConfig copies a decoded config, widening YAML integers to float64
// so instantiated quests look the same as ones decoded from JSON.
func normalizeConfig(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch n := v.(type) {
		case int:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		case uint64:
			out[k] = float64(n)
		default:
			out[k] = v
		}
	}
	return out
}
