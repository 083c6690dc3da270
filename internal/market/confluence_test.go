package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateConfluenceBullish(t *testing.T) {
	ind := Indicators{
		KeyRSI14:      22,
		KeyMACD:       1.5,
		KeyMACDSignal: 1.0,
		KeyBBUpper:    110,
		KeyBBLower:    95,
		KeyStochK:     12,
	}
	c := EvaluateConfluence(94, ind, DefaultConfluenceConfig())
	assert.True(t, c.Confluent)
	assert.Equal(t, Bullish, c.Direction)
	assert.Equal(t, 4, c.Bullish)
	assert.Equal(t, 0, c.Bearish)
	assert.Greater(t, c.Strength, 0.0)
	assert.LessOrEqual(t, c.Strength, 1.0)
	assert.Len(t, c.Signals(), 4)
}

func TestEvaluateConfluenceNeedsThreeVotes(t *testing.T) {
	ind := Indicators{
		KeyRSI14:  80,
		KeyStochK: 90,
	}
	c := EvaluateConfluence(100, ind, DefaultConfluenceConfig())
	assert.False(t, c.Confluent)
	assert.Equal(t, Neutral, c.Direction)
	assert.Equal(t, 2, c.Bearish)
	assert.Empty(t, c.Signals())
}

func TestEvaluateConfluenceADXBoostCapped(t *testing.T) {
	ind := Indicators{
		KeyRSI14:   95,
		KeyStochK:  99,
		KeyCCI20:   300,
		KeyBBUpper: 100,
		KeyBBLower: 90,
		KeyADX14:   60,
	}
	c := EvaluateConfluence(120, ind, DefaultConfluenceConfig())
	assert.True(t, c.Confluent)
	assert.Equal(t, Bearish, c.Direction)
	assert.Equal(t, 1.0, c.Strength)
}

func TestEvaluateConfluenceEmpty(t *testing.T) {
	c := EvaluateConfluence(100, Indicators{}, DefaultConfluenceConfig())
	assert.False(t, c.Confluent)
	assert.Equal(t, Neutral, c.Direction)
}
