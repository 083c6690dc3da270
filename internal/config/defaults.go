package config

import (
	"strings"
)

const (
	defaultAppEnv              = "dev"
	defaultAppLogLevel         = "info"
	defaultAppHTTPAddr         = ":9991"
	defaultAppLogPath          = "data/logs/phinance.log"
	defaultProviderLogPath     = "data/logs/phinance-provider.log"
	defaultStorePath           = "data/phinance.db"
	defaultAuditPath           = "data/audit.db"
	defaultProviderTimeout     = 60
	defaultRatePerMinute       = 30
	defaultHealthThreshold     = 3
	defaultHealthCooloff       = 300
	defaultGuardrailMode       = "normal"
	defaultConfidenceThreshold = 0.7
	defaultMinSignals          = 3
	defaultDailyLossLimitPct   = 10
	defaultMaxConsecutiveLoss  = 5
	defaultPauseMinutes        = 60
	defaultFallbackMode        = "conservative"
	defaultMarketTimezone      = "America/New_York"
	defaultMarketOpen          = "09:30"
	defaultMarketClose         = "16:00"
	defaultBenchmarkSymbol     = "SPY"
	defaultTickSeconds         = 30
	defaultCycleMinutes        = 60
	defaultExecuteTimeout      = 30
	defaultStartingCash        = 1000000
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Audit.applyDefaults(keys)
	c.AI.applyDefaults(keys)
	c.Guardrail.applyDefaults(keys)
	c.Breaker.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Scheduler.applyDefaults(keys)
	if len(c.Portfolios) == 0 && !keys.isSet("portfolios") {
		c.Portfolios = []PortfolioConfig{
			{Tag: "KALIC", StartingCash: defaultStartingCash},
			{Tag: "DC", StartingCash: defaultStartingCash},
		}
	}
	for i := range c.Portfolios {
		p := &c.Portfolios[i]
		p.Tag = strings.ToUpper(strings.TrimSpace(p.Tag))
		if p.StartingCash <= 0 {
			p.StartingCash = defaultStartingCash
		}
		for j, sym := range p.Symbols {
			p.Symbols[j] = strings.ToUpper(strings.TrimSpace(sym))
		}
	}
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.provider_log_path", &a.ProviderLog, defaultProviderLogPath),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys, stringFieldDefault("store.path", &s.Path, defaultStorePath))
}

func (a *AuditConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("audit.path", &a.Path, defaultAuditPath),
		boolFieldDefault("audit.verify_on_start", &a.VerifyOnStart, true),
	)
}

func (a *AIConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("ai.provider_timeout_seconds", &a.ProviderTimeoutSeconds, defaultProviderTimeout),
		intFieldDefault("ai.rate_per_minute", &a.RatePerMinute, defaultRatePerMinute),
		intFieldDefault("ai.health_failure_threshold", &a.HealthFailureThreshold, defaultHealthThreshold),
		intFieldDefault("ai.health_cooloff_seconds", &a.HealthCooloffSeconds, defaultHealthCooloff),
	)
	a.ModelPriority = normalizePreferenceList(a.ModelPriority)
	for i := range a.Models {
		if !keys.isSet("ai.models.enabled") && !a.Models[i].Enabled {
			a.Models[i].Enabled = true
		}
	}
}

func (g *GuardrailConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("guardrail.default_mode", &g.DefaultMode, defaultGuardrailMode),
		fieldDefault{
			key:   "guardrail.confidence_threshold",
			need:  func() bool { return g.ConfidenceThreshold <= 0 },
			apply: func() { g.ConfidenceThreshold = defaultConfidenceThreshold },
		},
		intFieldDefault("guardrail.min_signals", &g.MinSignals, defaultMinSignals),
	)
	g.DefaultMode = strings.ToLower(strings.TrimSpace(g.DefaultMode))
}

func (b *BreakerConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "breaker.daily_loss_limit_pct",
			need:  func() bool { return b.DailyLossLimitPct <= 0 },
			apply: func() { b.DailyLossLimitPct = defaultDailyLossLimitPct },
		},
		intFieldDefault("breaker.max_consecutive_losses", &b.MaxConsecutiveLosses, defaultMaxConsecutiveLoss),
		intFieldDefault("breaker.pause_minutes", &b.PauseMinutes, defaultPauseMinutes),
		stringFieldDefault("breaker.fallback_mode", &b.FallbackMode, defaultFallbackMode),
	)
	b.FallbackMode = strings.ToLower(strings.TrimSpace(b.FallbackMode))
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("market.timezone", &m.Timezone, defaultMarketTimezone),
		stringFieldDefault("market.open", &m.Open, defaultMarketOpen),
		stringFieldDefault("market.close", &m.Close, defaultMarketClose),
		stringFieldDefault("market.benchmark_symbol", &m.BenchmarkSymbol, defaultBenchmarkSymbol),
	)
}

func (s *SchedulerConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("scheduler.tick_seconds", &s.TickSeconds, defaultTickSeconds),
		intFieldDefault("scheduler.cycle_minutes", &s.CycleMinutes, defaultCycleMinutes),
		intFieldDefault("scheduler.execute_timeout_seconds", &s.ExecuteTimeoutSecond, defaultExecuteTimeout),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func normalizePreferenceList(pref []string) []string {
	if len(pref) == 0 {
		return nil
	}
	out := make([]string, 0, len(pref))
	seen := make(map[string]bool, len(pref))
	for _, id := range pref {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
