package guardrail

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phinance/internal/types"
)

func TestDefaultPolicies(t *testing.T) {
	p := mustPresets()
	assert.Equal(t, Policy{MaxPositionPct: 20, MaxTradesPerDay: 20}, p.Policy(types.ModeAggressive))
	assert.Equal(t, Policy{MaxPositionPct: 10, MaxTradesPerDay: 10}, p.Policy(types.ModeNormal))
	assert.Equal(t, Policy{MaxPositionPct: 5, MaxTradesPerDay: 3, RequiresConfluence: true}, p.Policy(types.ModeConservative))
	assert.Equal(t, 0, p.Policy(types.ModePaused).MaxTradesPerDay)
	assert.Equal(t, p.Policy(types.ModePaused), p.Policy("bogus"))
}

func TestPresetsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
modes:
  normal:
    max_position_pct: 12.5
    max_trades_per_day: 8
  paused:
    max_position_pct: 50
    max_trades_per_day: 50
`), 0o644))
	p, err := NewPresets(path)
	require.NoError(t, err)
	assert.Equal(t, Policy{MaxPositionPct: 12.5, MaxTradesPerDay: 8}, p.Policy(types.ModeNormal))
	assert.Equal(t, 20.0, p.Policy(types.ModeAggressive).MaxPositionPct)
	assert.Equal(t, 0, p.Policy(types.ModePaused).MaxTradesPerDay)
	assert.Len(t, p.All(), 4)
}

func TestPresetsRejectBadFile(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"unknown_mode.yaml": "modes:\n  yolo:\n    max_position_pct: 5\n",
		"bad_pct.yaml":      "modes:\n  normal:\n    max_position_pct: 150\n",
		"unknown_key.yaml":  "modes:\n  normal:\n    max_leverage: 3\n",
	}
	for name, body := range cases {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		_, err := NewPresets(path)
		assert.Error(t, err, name)
	}
	_, err := NewPresets(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
