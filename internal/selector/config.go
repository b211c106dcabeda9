package selector

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

//go:embed selector.toml
var defaultConfigTOML []byte

// Config is the static tool-routing table. Loaded once at startup (from the
// embedded default or an operator-supplied TOML file) and swapped atomically
// on reload; a loaded Config is never mutated.
type Config struct {
	MaxTools     int               `toml:"max_tools"`
	DefaultTools []string          `toml:"default_tools"`
	Groups       []GroupConfig     `toml:"group"`
	Intents      []IntentConfig    `toml:"intent"`
	Modes        ModesConfig       `toml:"mode"`
	Roles        map[string][]string `toml:"roles"`
	Companions   map[string]string `toml:"companions"`
	Weights      map[string]float64 `toml:"weights"`
}

// GroupConfig is one named bundle of tools. Tool order within a group is
// declaration order and breaks ranking ties.
type GroupConfig struct {
	Name        string   `toml:"name"`
	DisplayName string   `toml:"display_name"`
	Priority    int      `toml:"priority"`
	MaxTools    int      `toml:"max_tools"`
	Keywords    []string `toml:"keywords"`
	Tools       []string `toml:"tools"`
}

// IntentConfig maps utterance patterns to a target group. A category matches
// when any pattern matches and no exclusion matches; exclusions exist to keep
// generic query phrasing away from groups it only superficially resembles.
type IntentConfig struct {
	Name       string   `toml:"name"`
	Group      string   `toml:"group"`
	Weight     float64  `toml:"weight"`
	Patterns   []string `toml:"patterns"`
	Exclusions []string `toml:"exclusions"`
}

// ModesConfig holds the three special modes. Priority is fixed:
// emergency beats detailed beats demo.
type ModesConfig struct {
	Emergency ModeConfig `toml:"emergency"`
	Detailed  ModeConfig `toml:"detailed"`
	Demo      ModeConfig `toml:"demo"`
}

// ModeConfig overrides the cap and biases group choice when its pattern
// matches. ForceTools, when set, replaces the selection outright.
type ModeConfig struct {
	Patterns     []string `toml:"patterns"`
	MaxTools     int      `toml:"max_tools"`
	ForceTools   []string `toml:"force_tools"`
	PreferGroups []string `toml:"prefer_groups"`
}

// LoadConfig reads a routing table from path, or the embedded default when
// path is empty.
func LoadConfig(path string) (*Config, error) {
	data := defaultConfigTOML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read selector config: %w", err)
		}
		data = b
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse selector config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects tables that would make selection undefined.
func (c *Config) Validate() error {
	if c.MaxTools <= 0 {
		return fmt.Errorf("selector config: max_tools must be positive, got %d", c.MaxTools)
	}

	groups := make(map[string]bool, len(c.Groups))
	for _, g := range c.Groups {
		if g.Name == "" {
			return fmt.Errorf("selector config: group with empty name")
		}
		if groups[g.Name] {
			return fmt.Errorf("selector config: duplicate group %q", g.Name)
		}
		groups[g.Name] = true
	}

	for _, in := range c.Intents {
		if in.Name == "" {
			return fmt.Errorf("selector config: intent with empty name")
		}
		if !groups[in.Group] {
			return fmt.Errorf("selector config: intent %q targets unknown group %q", in.Name, in.Group)
		}
		if len(in.Patterns) == 0 {
			return fmt.Errorf("selector config: intent %q has no patterns", in.Name)
		}
	}

	for from, to := range c.Companions {
		if !groups[from] || !groups[to] {
			return fmt.Errorf("selector config: companion rule %s -> %s references unknown group", from, to)
		}
	}

	for role, permitted := range c.Roles {
		for _, g := range permitted {
			if !groups[g] {
				return fmt.Errorf("selector config: role %q permits unknown group %q", role, g)
			}
		}
	}

	return nil
}
