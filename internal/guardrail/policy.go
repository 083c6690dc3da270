// Package guardrail decides whether a proposal may become an order.
package guardrail

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"phinance/internal/logger"
	"phinance/internal/types"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Policy is the limit set of one trading mode. MaxPositionPct is a percentage of
// total portfolio value.
type Policy struct {
	MaxPositionPct     float64 `yaml:"max_position_pct" json:"max_position_pct"`
	MaxTradesPerDay    int     `yaml:"max_trades_per_day" json:"max_trades_per_day"`
	RequiresConfluence bool    `yaml:"requires_confluence" json:"requires_confluence"`
}

// DefaultPolicies returns the built-in mode table.
func DefaultPolicies() map[types.TradingMode]Policy {
	return map[types.TradingMode]Policy{
		types.ModeAggressive:   {MaxPositionPct: 20, MaxTradesPerDay: 20},
		types.ModeNormal:       {MaxPositionPct: 10, MaxTradesPerDay: 10},
		types.ModeConservative: {MaxPositionPct: 5, MaxTradesPerDay: 3, RequiresConfluence: true},
		types.ModePaused:       {MaxPositionPct: 0, MaxTradesPerDay: 0, RequiresConfluence: true},
	}
}

// PolicySource resolves the policy of a mode.
type PolicySource interface {
	Policy(mode types.TradingMode) Policy
}

type presetFile struct {
	Modes map[string]Policy `yaml:"modes"`
}

// Presets holds the mode table, optionally backed by a watched YAML file.
type Presets struct {
	path string

	mu       sync.RWMutex
	policies map[types.TradingMode]Policy
	loadedAt time.Time
}

// NewPresets loads overrides from path on top of the defaults and reloads them
// whenever the file changes. An empty path keeps the defaults.
func NewPresets(path string) (*Presets, error) {
	p := &Presets{path: strings.TrimSpace(path), policies: DefaultPolicies(), loadedAt: time.Now()}
	if p.path == "" {
		return p, nil
	}
	if err := p.reload(); err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(p.path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read mode presets failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
			return
		}
		if err := p.reload(); err != nil {
			logger.Errorf("mode preset reload failed, keeping previous table: %v", err)
			return
		}
		logger.Infof("mode presets reloaded from %s", p.path)
	})
	v.WatchConfig()
	return p, nil
}

// Policy returns the policy for mode; unknown modes get the paused policy.
func (p *Presets) Policy(mode types.TradingMode) Policy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if pol, ok := p.policies[mode]; ok {
		return pol
	}
	return p.policies[types.ModePaused]
}

// All returns a copy of the mode table.
func (p *Presets) All() map[types.TradingMode]Policy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[types.TradingMode]Policy, len(p.policies))
	for k, v := range p.policies {
		out[k] = v
	}
	return out
}

func (p *Presets) reload() error {
	table, err := readPresetFile(p.path)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.policies = table
	p.loadedAt = time.Now()
	p.mu.Unlock()
	return nil
}

func readPresetFile(path string) (map[types.TradingMode]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mode presets: %w", err)
	}
	var file presetFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse mode presets %s: %w", path, err)
	}
	table := DefaultPolicies()
	for name, pol := range file.Modes {
		mode, err := types.ParseTradingMode(name)
		if err != nil {
			return nil, fmt.Errorf("mode presets %s: %w", path, err)
		}
		if pol.MaxPositionPct < 0 || pol.MaxPositionPct > 100 {
			return nil, fmt.Errorf("mode presets %s: %s.max_position_pct must be within 0..100", path, name)
		}
		if pol.MaxTradesPerDay < 0 {
			return nil, fmt.Errorf("mode presets %s: %s.max_trades_per_day must be >= 0", path, name)
		}
		table[mode] = pol
	}
	// paused never trades, whatever the file says
	table[types.ModePaused] = Policy{RequiresConfluence: true}
	return table, nil
}
