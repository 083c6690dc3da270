package provider

import (
	"fmt"
	"strings"

	"phinance/internal/logger"
)

type ModelCfg struct {
	ID, Provider, APIURL, APIKey, Model string
	Enabled                             bool
	Headers                             map[string]string
}

// BuildProvidersFromConfig keeps the configured order, skipping disabled entries.
func BuildProvidersFromConfig(models []ModelCfg, ratePerMinute int) []ModelProvider {
	out := make([]ModelProvider, 0, len(models))
	for _, m := range models {
		if !m.Enabled {
			continue
		}
		id := strings.TrimSpace(m.ID)
		if id == "" {
			base := strings.TrimSpace(m.Provider)
			if base == "" {
				base = "provider"
			}
			id = fmt.Sprintf("%s:%s", base, strings.TrimSpace(m.Model))
			logger.Warnf("ai.models entry without id, generated %s", id)
		}
		client := NewOpenAIChatClient(m.APIURL, m.APIKey, m.Model, m.Headers)
		out = append(out, WithRateLimit(NewOpenAIModelProvider(id, true, client), ratePerMinute))
	}
	return out
}
