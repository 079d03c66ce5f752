// Package catalog is the registry of routable provider/model pairs: which
// task categories each serves, what it costs per token, and its static
// quality rating. The catalog feeds candidate sets and quality scores into
// selection; live health comes from telemetry, never from here.
package catalog

import (
	"fmt"
	"os"
	"sort"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// UnknownModelCost is the per-token cost assumed when a model has no
// pricing configured. It is far above any real 2025+ price so unpriced
// models sort last instead of winning cost scoring by accident.
const UnknownModelCost = 1.0

// ModelSpec describes one routable provider/model pair.
type ModelSpec struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`

	InputCostPerToken  float64 `yaml:"input_cost_per_token" json:"input_cost_per_token"`
	OutputCostPerToken float64 `yaml:"output_cost_per_token" json:"output_cost_per_token"`

	// Quality is the static capability rating in [0,1], independent of
	// live telemetry.
	Quality float64 `yaml:"quality" json:"quality"`

	// LatencyHintMs seeds latency scoring before telemetry exists.
	LatencyHintMs float64 `yaml:"latency_hint_ms,omitempty" json:"latency_hint_ms,omitempty"`

	// TaskCategories lists the categories this pair is registered for.
	TaskCategories []string `yaml:"task_categories" json:"task_categories"`
}

// EstimateCost prices a request against this spec. Unpriced dimensions
// fall back to UnknownModelCost.
func (m ModelSpec) EstimateCost(tokensIn, tokensOut int) float64 {
	in := m.InputCostPerToken
	out := m.OutputCostPerToken
	if in == 0 {
		in = UnknownModelCost
	}
	if out == 0 {
		out = UnknownModelCost
	}
	return in*float64(tokensIn) + out*float64(tokensOut)
}

// File is the YAML document shape for a catalog file.
type File struct {
	Models []ModelSpec `yaml:"models"`
}

type snapshot struct {
	byCategory map[string][]ModelSpec
	byPair     map[string]ModelSpec
}

// Catalog serves candidate lookups from an atomically swapped snapshot,
// so reloads never block routing.
type Catalog struct {
	snap atomic.Pointer[snapshot]
}

// New creates an empty catalog.
func New() *Catalog {
	c := &Catalog{}
	c.snap.Store(buildSnapshot(nil))
	return c
}

// NewFromFile creates a catalog loaded from a YAML file.
func NewFromFile(path string) (*Catalog, error) {
	c := New()
	if err := c.LoadFile(path); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile replaces the catalog contents from a YAML file.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	return c.LoadBytes(data)
}

// LoadBytes replaces the catalog contents from YAML bytes.
func (c *Catalog) LoadBytes(data []byte) error {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}
	for i, m := range f.Models {
		if m.Provider == "" || m.Model == "" {
			return fmt.Errorf("catalog model %d: provider and model are required", i)
		}
		if m.Quality < 0 || m.Quality > 1 {
			return fmt.Errorf("catalog model %s/%s: quality must be in [0,1]", m.Provider, m.Model)
		}
	}
	c.snap.Store(buildSnapshot(f.Models))
	return nil
}

// Replace swaps the catalog contents programmatically.
func (c *Catalog) Replace(models []ModelSpec) {
	c.snap.Store(buildSnapshot(models))
}

// Candidates returns the specs registered for a task category, sorted by
// provider then model for deterministic downstream iteration.
func (c *Catalog) Candidates(taskCategory string) []ModelSpec {
	snap := c.snap.Load()
	specs := snap.byCategory[taskCategory]
	out := make([]ModelSpec, len(specs))
	copy(out, specs)
	return out
}

// Lookup returns the spec for a provider/model pair.
func (c *Catalog) Lookup(provider, model string) (ModelSpec, bool) {
	snap := c.snap.Load()
	m, ok := snap.byPair[provider+"/"+model]
	return m, ok
}

// Models returns every registered spec.
func (c *Catalog) Models() []ModelSpec {
	snap := c.snap.Load()
	out := make([]ModelSpec, 0, len(snap.byPair))
	for _, m := range snap.byPair {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Model < out[j].Model
	})
	return out
}

func buildSnapshot(models []ModelSpec) *snapshot {
	snap := &snapshot{
		byCategory: make(map[string][]ModelSpec),
		byPair:     make(map[string]ModelSpec, len(models)),
	}
	for _, m := range models {
		snap.byPair[m.Provider+"/"+m.Model] = m
		for _, cat := range m.TaskCategories {
			snap.byCategory[cat] = append(snap.byCategory[cat], m)
		}
	}
	for cat := range snap.byCategory {
		specs := snap.byCategory[cat]
		sort.Slice(specs, func(i, j int) bool {
			if specs[i].Provider != specs[j].Provider {
				return specs[i].Provider < specs[j].Provider
			}
			return specs[i].Model < specs[j].Model
		})
	}
	return snap
}
