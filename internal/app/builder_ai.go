package app

import (
	"time"

	"phinance/internal/config"
	"phinance/internal/decision"
	"phinance/internal/gateway/provider"
	"phinance/internal/logger"
)

// buildModelProviders turns the resolved model list into providers, in
// model_priority order, each behind its own rate limiter.
func buildModelProviders(cfg config.AIConfig) ([]provider.ModelProvider, error) {
	resolved, err := cfg.ResolveModelConfigs()
	if err != nil {
		return nil, err
	}
	modelCfgs := make([]provider.ModelCfg, 0, len(resolved))
	for _, m := range resolved {
		modelCfgs = append(modelCfgs, provider.ModelCfg{
			ID:       m.ID,
			Provider: m.Provider,
			Enabled:  m.Enabled,
			APIURL:   m.APIURL,
			APIKey:   m.APIKey,
			Model:    m.Model,
			Headers:  m.Headers,
		})
	}
	providers := provider.BuildProvidersFromConfig(modelCfgs, cfg.RatePerMinute)
	if len(providers) == 0 {
		logger.Warnf("no AI model enabled, every cycle will fail with all providers exhausted (check ai.models)")
		return providers, nil
	}
	ids := make([]string, 0, len(providers))
	for _, p := range providers {
		ids = append(ids, p.ID())
	}
	logger.Infof("✓ %d AI models enabled in cascade order: %v", len(ids), ids)
	return providers, nil
}

func buildCascade(cfg config.AIConfig, providers []provider.ModelProvider) *decision.Cascade {
	return decision.NewCascade(providers, decision.CascadeOptions{
		Timeout:          cfg.ProviderTimeout(),
		FailureThreshold: cfg.HealthFailureThreshold,
		Cooloff:          time.Duration(cfg.HealthCooloffSeconds) * time.Second,
		SystemPrompt:     cfg.SystemPrompt,
	})
}
