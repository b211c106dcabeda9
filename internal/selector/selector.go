// Package selector maps a classified utterance to a bounded, role-filtered,
// weight-ranked set of tool names. The routing table is TOML configuration:
// an embedded default, optionally overridden by a file that can be hot
// reloaded without restarting the process.
package selector

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Mode is a special selection mode triggered by utterance phrasing.
// At most one mode applies per request; emergency beats detailed beats demo.
type Mode string

const (
	ModeNone      Mode = ""
	ModeEmergency Mode = "emergency"
	ModeDetailed  Mode = "detailed"
	ModeDemo      Mode = "demo"
)

// preferBoost is added to a tool's ranking weight when its group is in the
// active mode's preferred list.
const preferBoost = 5.0

// Selection is the outcome of one SelectTools call.
type Selection struct {
	Tools []string
	Mode  Mode
}

// Selector ranks tools against the routing table. Safe for concurrent use;
// reads take a snapshot of the compiled table so a reload mid-request never
// mixes two configs.
type Selector struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	compiled *compiledConfig

	watcher   *fsnotify.Watcher
	closeOnce sync.Once
	done      chan struct{}
}

type compiledConfig struct {
	cfg       *Config
	intents   []compiledIntent
	modes     []compiledMode
	toolGroup map[string]string // tool name -> owning group
	declOrder map[string]int    // tool name -> global declaration index
}

type compiledIntent struct {
	name       string
	group      string
	weight     float64
	patterns   []*regexp.Regexp
	exclusions []*regexp.Regexp
}

type compiledMode struct {
	mode     Mode
	cfg      ModeConfig
	patterns []*regexp.Regexp
}

// New builds a Selector from path, or from the embedded default table when
// path is empty.
func New(path string, logger *slog.Logger) (*Selector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Selector{
		path:   path,
		logger: logger,
		done:   make(chan struct{}),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the routing table and swaps it in atomically. On failure
// the previous table stays active.
func (s *Selector) Reload() error {
	cfg, err := LoadConfig(s.path)
	if err != nil {
		return err
	}
	compiled, err := compile(cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.compiled = compiled
	s.mu.Unlock()

	s.logger.Info("selector: routing table loaded",
		"groups", len(cfg.Groups),
		"intents", len(cfg.Intents),
		"max_tools", cfg.MaxTools)
	return nil
}

// Watch reloads the table whenever the config file changes on disk. No-op
// when the embedded default is in use. Returns once the watcher is running;
// reload failures are logged and the previous table stays active.
func (s *Selector) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("selector watch: %w", err)
	}
	// Watch the directory, not the file: editors replace files on save,
	// which would drop a direct file watch.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("selector watch: %w", err)
	}
	s.watcher = watcher

	go s.watchLoop(ctx)
	return nil
}

func (s *Selector) watchLoop(ctx context.Context) {
	target := filepath.Clean(s.path)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	reload := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			// Debounce: editors fire several events per save.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(200*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			if err := s.Reload(); err != nil {
				s.logger.Error("selector: reload failed, keeping previous table", "error", err)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("selector: watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (s *Selector) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
	})
	return err
}

// SelectTools returns the ordered tool names for one utterance and caller
// role. The default tool set is always prepended and exempt from the cap.
func (s *Selector) SelectTools(utterance, role string) Selection {
	s.mu.RLock()
	c := s.compiled
	s.mu.RUnlock()

	text := strings.TrimSpace(utterance)
	permitted := c.permittedGroups(role)

	mode, modeCfg := c.detectMode(text)
	if mode == ModeEmergency {
		return Selection{Tools: c.emergencySet(modeCfg, permitted), Mode: mode}
	}

	maxTools := c.cfg.MaxTools
	prefer := map[string]bool{}
	if mode != ModeNone {
		if modeCfg.MaxTools > 0 {
			maxTools = modeCfg.MaxTools
		}
		for _, g := range modeCfg.PreferGroups {
			prefer[g] = true
		}
	}

	// Intent mapping: a category matches when any pattern hits and no
	// exclusion does.
	groupScore := make(map[string]float64)
	for _, in := range c.intents {
		if !in.matches(text) {
			continue
		}
		groupScore[in.group] += in.weight
	}

	// Role filtering before companions, so a companion the role cannot use
	// is never pulled in.
	for g := range groupScore {
		if !permitted[g] {
			delete(groupScore, g)
		}
	}

	// Companion rules: applied once, not recursively.
	for _, g := range sortedKeys(groupScore) {
		comp, ok := c.cfg.Companions[g]
		if !ok || !permitted[comp] {
			continue
		}
		if _, already := groupScore[comp]; !already {
			groupScore[comp] = 0
		}
	}

	ranked := c.rank(groupScore, prefer)
	if len(ranked) > maxTools {
		ranked = ranked[:maxTools]
	}

	return Selection{Tools: c.prependDefaults(ranked), Mode: mode}
}

// emergencySet role-filters then caps the forced minimal set.
func (c *compiledConfig) emergencySet(mode ModeConfig, permitted map[string]bool) []string {
	maxTools := mode.MaxTools
	if maxTools <= 0 {
		maxTools = 3
	}
	out := make([]string, 0, maxTools)
	seen := make(map[string]bool)
	for _, name := range mode.ForceTools {
		if seen[name] || len(out) >= maxTools {
			continue
		}
		if g, ok := c.toolGroup[name]; ok && !permitted[g] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// rank flattens the selected groups' tools and orders them by weight,
// boosted for preferred groups, with declaration order breaking ties.
func (c *compiledConfig) rank(groupScore map[string]float64, prefer map[string]bool) []string {
	var candidates []string
	seen := make(map[string]bool)
	for _, g := range c.cfg.Groups {
		if _, ok := groupScore[g.Name]; !ok {
			continue
		}
		for _, name := range g.Tools {
			if !seen[name] {
				seen[name] = true
				candidates = append(candidates, name)
			}
		}
	}

	weightOf := func(name string) float64 {
		w := c.cfg.Weights[name]
		if prefer[c.toolGroup[name]] {
			w += preferBoost
		}
		return w
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		wi, wj := weightOf(candidates[i]), weightOf(candidates[j])
		if wi != wj {
			return wi > wj
		}
		return c.declOrder[candidates[i]] < c.declOrder[candidates[j]]
	})
	return candidates
}

// prependDefaults puts the always-on tools first, deduplicating against the
// ranked tail.
func (c *compiledConfig) prependDefaults(ranked []string) []string {
	out := make([]string, 0, len(c.cfg.DefaultTools)+len(ranked))
	seen := make(map[string]bool, len(c.cfg.DefaultTools))
	for _, name := range c.cfg.DefaultTools {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, name := range ranked {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func (c *compiledConfig) detectMode(text string) (Mode, ModeConfig) {
	for _, m := range c.modes {
		for _, re := range m.patterns {
			if re.MatchString(text) {
				return m.mode, m.cfg
			}
		}
	}
	return ModeNone, ModeConfig{}
}

func (c *compiledConfig) permittedGroups(role string) map[string]bool {
	permitted := make(map[string]bool)
	for _, g := range c.cfg.Roles[role] {
		permitted[g] = true
	}
	return permitted
}

func (in compiledIntent) matches(text string) bool {
	matched := false
	for _, re := range in.patterns {
		if re.MatchString(text) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, re := range in.exclusions {
		if re.MatchString(text) {
			return false
		}
	}
	return true
}

func compile(cfg *Config) (*compiledConfig, error) {
	c := &compiledConfig{
		cfg:       cfg,
		toolGroup: make(map[string]string),
		declOrder: make(map[string]int),
	}

	next := 0
	for _, g := range cfg.Groups {
		for _, name := range g.Tools {
			if _, ok := c.toolGroup[name]; !ok {
				c.toolGroup[name] = g.Name
				c.declOrder[name] = next
				next++
			}
		}
	}

	for _, in := range cfg.Intents {
		ci := compiledIntent{name: in.Name, group: in.Group, weight: in.Weight}
		var err error
		if ci.patterns, err = compilePatterns(in.Patterns); err != nil {
			return nil, fmt.Errorf("intent %q: %w", in.Name, err)
		}
		if ci.exclusions, err = compilePatterns(in.Exclusions); err != nil {
			return nil, fmt.Errorf("intent %q: %w", in.Name, err)
		}
		c.intents = append(c.intents, ci)
	}

	for _, m := range []struct {
		mode Mode
		cfg  ModeConfig
	}{
		{ModeEmergency, cfg.Modes.Emergency},
		{ModeDetailed, cfg.Modes.Detailed},
		{ModeDemo, cfg.Modes.Demo},
	} {
		if len(m.cfg.Patterns) == 0 {
			continue
		}
		patterns, err := compilePatterns(m.cfg.Patterns)
		if err != nil {
			return nil, fmt.Errorf("mode %s: %w", m.mode, err)
		}
		c.modes = append(c.modes, compiledMode{mode: m.mode, cfg: m.cfg, patterns: patterns})
	}

	return c, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
