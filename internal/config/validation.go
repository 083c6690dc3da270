package config

import (
	"fmt"
	"strings"
	"time"
)

var knownModes = map[string]bool{
	"aggressive":   true,
	"normal":       true,
	"conservative": true,
	"paused":       true,
}

func validate(c *Config) error {
	if err := c.AI.validate(); err != nil {
		return err
	}
	if err := c.Guardrail.validate(); err != nil {
		return err
	}
	if err := c.Breaker.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if len(c.Portfolios) == 0 {
		return fmt.Errorf("portfolios requires at least one portfolio")
	}
	seen := make(map[string]bool, len(c.Portfolios))
	for _, p := range c.Portfolios {
		if p.Tag != "KALIC" && p.Tag != "DC" {
			return fmt.Errorf("portfolios.tag must be KALIC or DC, got %q", p.Tag)
		}
		if seen[p.Tag] {
			return fmt.Errorf("portfolios contains duplicate tag %s", p.Tag)
		}
		seen[p.Tag] = true
	}
	return nil
}

func (a *AIConfig) validate() error {
	models, err := a.ResolveModelConfigs()
	if err != nil {
		return err
	}
	if len(models) == 0 {
		return fmt.Errorf("ai.models requires at least one model")
	}
	modelSet := make(map[string]struct{}, len(models))
	for _, m := range models {
		if strings.TrimSpace(m.Model) == "" {
			return fmt.Errorf("ai.models contains entry without model (id=%s)", m.ID)
		}
		if strings.TrimSpace(m.APIURL) == "" {
			return fmt.Errorf("ai.models.%s missing api_url (can inherit from preset)", m.ID)
		}
		modelSet[m.ID] = struct{}{}
	}
	for _, id := range a.ModelPriority {
		if _, ok := modelSet[id]; !ok {
			return fmt.Errorf("ai.model_priority contains unconfigured model id: %s", id)
		}
	}
	return nil
}

func (g *GuardrailConfig) validate() error {
	if !knownModes[g.DefaultMode] {
		return fmt.Errorf("guardrail.default_mode %q is not a trading mode", g.DefaultMode)
	}
	if g.ConfidenceThreshold < 0 || g.ConfidenceThreshold > 1 {
		return fmt.Errorf("guardrail.confidence_threshold must be in [0,1]")
	}
	if g.MinSignals < 0 {
		return fmt.Errorf("guardrail.min_signals must be >= 0")
	}
	return nil
}

func (b *BreakerConfig) validate() error {
	if b.DailyLossLimitPct <= 0 || b.DailyLossLimitPct > 100 {
		return fmt.Errorf("breaker.daily_loss_limit_pct must be in (0,100]")
	}
	if b.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("breaker.max_consecutive_losses must be > 0")
	}
	if b.PauseMinutes <= 0 {
		return fmt.Errorf("breaker.pause_minutes must be > 0")
	}
	if !knownModes[b.FallbackMode] {
		return fmt.Errorf("breaker.fallback_mode %q is not a trading mode", b.FallbackMode)
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if _, err := time.LoadLocation(m.Timezone); err != nil {
		return fmt.Errorf("market.timezone invalid: %w", err)
	}
	open, err := ParseClock(m.Open)
	if err != nil {
		return fmt.Errorf("market.open: %w", err)
	}
	closing, err := ParseClock(m.Close)
	if err != nil {
		return fmt.Errorf("market.close: %w", err)
	}
	if closing <= open {
		return fmt.Errorf("market.close must be after market.open")
	}
	for _, h := range m.Holidays {
		if _, err := time.Parse(time.DateOnly, strings.TrimSpace(h)); err != nil {
			return fmt.Errorf("market.holidays contains invalid date %q", h)
		}
	}
	return nil
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
