// Package models picks a backend model profile for an execution phase and
// query type. Pure lookup over a static TOML profile table; no network calls.
package models

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Phase is the stage of work the model is being asked to do.
type Phase string

const (
	PhasePlanning  Phase = "planning"
	PhaseExecution Phase = "execution"
	PhaseMixed     Phase = "mixed"
)

// Profile describes one backend model. Static and read-only after load.
type Profile struct {
	ID               string   `toml:"id"`
	AverageLatencyMs int      `toml:"average_latency_ms"`
	ComplexityClass  string   `toml:"complexity_class"`
	CostClass        string   `toml:"cost_class"`
	QualityClass     string   `toml:"quality_class"`
	BestForPhases    []string `toml:"best_for_phases"`
	QueryTypes       []string `toml:"query_types"`
}

// Catalog is the loaded profile table plus the configured fallback.
type Catalog struct {
	Fallback string    `toml:"fallback"`
	Profiles []Profile `toml:"profile"`
}

//go:embed models.toml
var defaultCatalogTOML []byte

// classRank orders cost and quality classes. Unknown classes rank last for
// cost and first for quality so misconfigured profiles are never preferred.
var classRank = map[string]int{"low": 0, "medium": 1, "high": 2}

// LoadCatalog reads a profile table from path, or the embedded default when
// path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCatalogTOML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read model catalog: %w", err)
		}
		data = b
	}

	var cat Catalog
	if err := toml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse model catalog: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate checks that profiles are well formed and the fallback exists.
func (c *Catalog) Validate() error {
	if len(c.Profiles) == 0 {
		return fmt.Errorf("model catalog: no profiles")
	}
	ids := make(map[string]bool, len(c.Profiles))
	for _, p := range c.Profiles {
		if p.ID == "" {
			return fmt.Errorf("model catalog: profile with empty id")
		}
		if ids[p.ID] {
			return fmt.Errorf("model catalog: duplicate profile %q", p.ID)
		}
		ids[p.ID] = true
	}
	if c.Fallback == "" {
		return fmt.Errorf("model catalog: fallback not set")
	}
	if !ids[c.Fallback] {
		return fmt.Errorf("model catalog: fallback %q is not a known profile", c.Fallback)
	}
	return nil
}

// SelectModel picks a profile for the given phase and query type.
// Preference order: exact phase match with the lowest cost class; otherwise
// the highest-quality profile declared for the mixed phase; otherwise the
// configured fallback. Always returns a profile.
func (c *Catalog) SelectModel(phase Phase, queryType string) Profile {
	if best, ok := c.pick(string(phase), queryType); ok {
		return best
	}
	if best, ok := c.highestQualityMixed(); ok {
		return best
	}
	return c.profileByID(c.Fallback)
}

// pick returns the cheapest profile declaring the phase and, when the
// profile restricts query types, matching the query type.
func (c *Catalog) pick(phase, queryType string) (Profile, bool) {
	var best Profile
	found := false
	for _, p := range c.Profiles {
		if !contains(p.BestForPhases, phase) {
			continue
		}
		if len(p.QueryTypes) > 0 && !contains(p.QueryTypes, queryType) {
			continue
		}
		if !found || costRank(p.CostClass) < costRank(best.CostClass) {
			best = p
			found = true
		}
	}
	return best, found
}

func (c *Catalog) highestQualityMixed() (Profile, bool) {
	var best Profile
	found := false
	for _, p := range c.Profiles {
		if !contains(p.BestForPhases, string(PhaseMixed)) {
			continue
		}
		if !found || qualityRank(p.QualityClass) > qualityRank(best.QualityClass) {
			best = p
			found = true
		}
	}
	return best, found
}

func (c *Catalog) profileByID(id string) Profile {
	for _, p := range c.Profiles {
		if p.ID == id {
			return p
		}
	}
	// Validate guarantees the fallback exists; unreachable in practice.
	return Profile{ID: id}
}

func costRank(class string) int {
	if r, ok := classRank[class]; ok {
		return r
	}
	return len(classRank)
}

func qualityRank(class string) int {
	if r, ok := classRank[class]; ok {
		return r
	}
	return -1
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
