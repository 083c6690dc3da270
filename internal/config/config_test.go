package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

const baseModels = `
ai:
  provider_presets:
    local:
      api_url: http://localhost:11434/v1
  models:
    - id: ollama-qwen
      preset: local
      model: qwen2.5
    - id: deepseek
      api_url: https://api.deepseek.com/v1
      api_key: sk-test
      model: deepseek-chat
`

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", baseModels)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.AI.ProviderTimeout())
	assert.Equal(t, "normal", cfg.Guardrail.DefaultMode)
	assert.Equal(t, 5, cfg.Breaker.MaxConsecutiveLosses)
	assert.Equal(t, "conservative", cfg.Breaker.FallbackMode)
	assert.Equal(t, "America/New_York", cfg.Market.Timezone)
	assert.Equal(t, "SPY", cfg.Market.BenchmarkSymbol)
	assert.True(t, cfg.Audit.VerifyOnStart)
	require.Len(t, cfg.Portfolios, 2)
	assert.Equal(t, "KALIC", cfg.Portfolios[0].Tag)
	assert.Equal(t, float64(1000000), cfg.Portfolios[1].StartingCash)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "models.yaml", baseModels)
	path := writeFile(t, dir, "config.yaml", `
include:
  - models.yaml
ai:
  model_priority: [deepseek, ollama-qwen]
breaker:
  max_consecutive_losses: 3
  pause_minutes: 15
portfolios:
  - tag: dc
    starting_cash: 250000
    symbols: [aapl, msft]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	models, err := cfg.AI.ResolveModelConfigs()
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "deepseek", models[0].ID)
	assert.Equal(t, "http://localhost:11434/v1", models[1].APIURL)
	assert.Equal(t, 15*time.Minute, cfg.Breaker.PauseDuration())
	require.Len(t, cfg.Portfolios, 1)
	assert.Equal(t, "DC", cfg.Portfolios[0].Tag)
	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Portfolios[0].Symbols)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown priority": baseModels + "  model_priority: [missing]\n",
		"bad fallback":     baseModels + "breaker:\n  fallback_mode: yolo\n",
		"bad hours":        baseModels + "market:\n  open: \"16:00\"\n  close: \"09:30\"\n",
		"bad portfolio":    baseModels + "portfolios:\n  - tag: XYZ\n",
		"no models":        "app:\n  env: test\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	path := writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestResolvePathPrefersEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/phinance.yaml")
	assert.Equal(t, "/etc/phinance.yaml", ResolvePath("configs/config.yaml"))
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, "configs/config.yaml", ResolvePath("configs/config.yaml"))
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour+30*time.Minute, d)
	_, err = ParseClock("9h30")
	assert.Error(t, err)
}

func TestResolveModelConfigsExpandsKeys(t *testing.T) {
	t.Setenv("PHINANCE_TEST_KEY", "sk-from-env")
	ai := AIConfig{
		ModelPriority: []string{"b"},
		Models: []AIModelConfig{
			{ID: "a", APIURL: "http://a", Model: "m1", APIKey: "${PHINANCE_TEST_KEY}"},
			{ID: "b", APIURL: "http://b", Model: "m2", APIKey: "literal"},
		},
	}
	models, err := ai.ResolveModelConfigs()
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "b", models[0].ID)
	assert.Equal(t, "literal", models[0].APIKey)
	assert.Equal(t, "sk-from-env", models[1].APIKey)
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", baseModels+`
app:
  http_addr: ":9991"
`)
	t.Setenv("PHINANCE_APP_HTTP_ADDR", ":7777")
	t.Setenv("PHINANCE_SCHEDULER_AUTO_CYCLE", "true")
	t.Setenv("PHINANCE_SCHEDULER_TICK_SECONDS", "5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.App.HTTPAddr)
	assert.True(t, cfg.Scheduler.AutoCycle)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.TickInterval())
	assert.Equal(t, 60*time.Minute, cfg.Scheduler.CycleInterval())
}
