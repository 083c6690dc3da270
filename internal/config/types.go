package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the root configuration of the trading engine.
type Config struct {
	App        AppConfig         `toml:"app"`
	Store      StoreConfig       `toml:"store"`
	Audit      AuditConfig       `toml:"audit"`
	AI         AIConfig          `toml:"ai"`
	Guardrail  GuardrailConfig   `toml:"guardrail"`
	Breaker    BreakerConfig     `toml:"breaker"`
	Market     MarketConfig      `toml:"market"`
	Scheduler  SchedulerConfig   `toml:"scheduler"`
	Portfolios []PortfolioConfig `toml:"portfolios"`
}

type AppConfig struct {
	Env          string `toml:"env"`
	LogLevel     string `toml:"log_level"`
	HTTPAddr     string `toml:"http_addr"`
	LogPath      string `toml:"log_path"`
	ProviderLog  string `toml:"provider_log_path"`
	ProviderDump bool   `toml:"provider_dump"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type AuditConfig struct {
	Path string `toml:"path"`
	// VerifyOnStart walks the whole chain at boot and refuses to trade on failure.
	VerifyOnStart bool `toml:"verify_on_start"`
}

// AIConfig describes the reasoning providers and the order they are tried in.
type AIConfig struct {
	ModelPriority          []string               `toml:"model_priority"`
	ProviderTimeoutSeconds int                    `toml:"provider_timeout_seconds"`
	RatePerMinute          int                    `toml:"rate_per_minute"`
	HealthFailureThreshold int                    `toml:"health_failure_threshold"`
	HealthCooloffSeconds   int                    `toml:"health_cooloff_seconds"`
	SystemPrompt           string                 `toml:"system_prompt"`
	ProviderPresets        map[string]ModelPreset `toml:"provider_presets"`
	Models                 []AIModelConfig        `toml:"models"`
}

// ModelPreset is a reusable connection block (e.g. a local Ollama endpoint).
type ModelPreset struct {
	APIURL  string            `toml:"api_url"`
	APIKey  string            `toml:"api_key"`
	Headers map[string]string `toml:"headers"`
}

type AIModelConfig struct {
	ID       string            `toml:"id"`
	Provider string            `toml:"provider"`
	Preset   string            `toml:"preset"`
	Enabled  bool              `toml:"enabled"`
	APIURL   string            `toml:"api_url"`
	APIKey   string            `toml:"api_key"`
	Model    string            `toml:"model"`
	Headers  map[string]string `toml:"headers"`
}

// ResolvedModelConfig is a model entry merged with its preset.
type ResolvedModelConfig struct {
	ID       string
	Provider string
	Enabled  bool
	APIURL   string
	APIKey   string
	Model    string
	Headers  map[string]string
}

func (a AIConfig) ProviderTimeout() time.Duration {
	return time.Duration(a.ProviderTimeoutSeconds) * time.Second
}

// ResolveModelConfigs merges presets into model entries and orders them by
// model_priority; models missing from the priority list keep file order after it.
// API keys may reference environment variables as ${NAME}.
func (a AIConfig) ResolveModelConfigs() ([]ResolvedModelConfig, error) {
	out := make([]ResolvedModelConfig, 0, len(a.Models))
	seen := make(map[string]struct{}, len(a.Models))
	for _, m := range a.Models {
		res := ResolvedModelConfig{
			ID:       strings.TrimSpace(m.ID),
			Provider: strings.TrimSpace(m.Provider),
			Enabled:  m.Enabled,
			APIURL:   strings.TrimSpace(m.APIURL),
			APIKey:   strings.TrimSpace(os.ExpandEnv(m.APIKey)),
			Model:    strings.TrimSpace(m.Model),
			Headers:  copyHeaders(m.Headers),
		}
		if name := strings.TrimSpace(m.Preset); name != "" {
			preset, ok := a.ProviderPresets[name]
			if !ok {
				return nil, fmt.Errorf("ai.models.%s references unknown preset %q", res.ID, name)
			}
			if res.APIURL == "" {
				res.APIURL = strings.TrimSpace(preset.APIURL)
			}
			if res.APIKey == "" {
				res.APIKey = strings.TrimSpace(os.ExpandEnv(preset.APIKey))
			}
			for k, v := range preset.Headers {
				if _, ok := res.Headers[k]; !ok {
					res.Headers[k] = v
				}
			}
		}
		if res.ID == "" {
			res.ID = res.Model
		}
		if _, dup := seen[res.ID]; dup {
			return nil, fmt.Errorf("ai.models contains duplicate id %q", res.ID)
		}
		seen[res.ID] = struct{}{}
		out = append(out, res)
	}
	return orderByPriority(out, a.ModelPriority), nil
}

func orderByPriority(models []ResolvedModelConfig, priority []string) []ResolvedModelConfig {
	if len(priority) == 0 {
		return models
	}
	rank := make(map[string]int, len(priority))
	for i, id := range priority {
		rank[id] = i
	}
	ordered := make([]ResolvedModelConfig, 0, len(models))
	for _, id := range priority {
		for _, m := range models {
			if m.ID == id {
				ordered = append(ordered, m)
			}
		}
	}
	for _, m := range models {
		if _, ok := rank[m.ID]; !ok {
			ordered = append(ordered, m)
		}
	}
	return ordered
}

func copyHeaders(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// GuardrailConfig tunes the proposal checks shared by every mode.
type GuardrailConfig struct {
	ModesPath           string  `toml:"modes_path"`
	DefaultMode         string  `toml:"default_mode"`
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	MinSignals          int     `toml:"min_signals"`
}

// BreakerConfig holds both circuit-breaker triggers.
type BreakerConfig struct {
	DailyLossLimitPct    float64 `toml:"daily_loss_limit_pct"`
	MaxConsecutiveLosses int     `toml:"max_consecutive_losses"`
	PauseMinutes         int     `toml:"pause_minutes"`
	FallbackMode         string  `toml:"fallback_mode"`
}

func (b BreakerConfig) PauseDuration() time.Duration {
	return time.Duration(b.PauseMinutes) * time.Minute
}

// MarketConfig describes the venue trading window.
type MarketConfig struct {
	Timezone        string   `toml:"timezone"`
	Open            string   `toml:"open"`
	Close           string   `toml:"close"`
	Holidays        []string `toml:"holidays"`
	BenchmarkSymbol string   `toml:"benchmark_symbol"`
}

type SchedulerConfig struct {
	TickSeconds          int  `toml:"tick_seconds"`
	CycleMinutes         int  `toml:"cycle_minutes"`
	AutoCycle            bool `toml:"auto_cycle"`
	ExecuteTimeoutSecond int  `toml:"execute_timeout_seconds"`
}

func (s SchedulerConfig) TickInterval() time.Duration {
	return time.Duration(s.TickSeconds) * time.Second
}

func (s SchedulerConfig) CycleInterval() time.Duration {
	return time.Duration(s.CycleMinutes) * time.Minute
}

func (s SchedulerConfig) ExecuteTimeout() time.Duration {
	return time.Duration(s.ExecuteTimeoutSecond) * time.Second
}

// PortfolioConfig declares one independently simulated book.
type PortfolioConfig struct {
	Tag          string   `toml:"tag"`
	StartingCash float64  `toml:"starting_cash"`
	Symbols      []string `toml:"symbols"`
}

// keySet tracks field paths explicitly present in the config files.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
