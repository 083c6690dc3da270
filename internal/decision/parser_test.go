package decision

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phinance/internal/types"
)

func TestParseResponseShapes(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		shape ResponseShape
		count int
	}{
		{
			name:  "decisions object",
			raw:   `{"decisions":[{"symbol":"AAPL","action":"BUY","quantity":10,"confidence":0.8}]}`,
			shape: ShapeDecisionsObject,
			count: 1,
		},
		{
			name:  "bare array in fence",
			raw:   "Here you go:\n```json\n[{\"ticker\":\"msft\",\"side\":\"sell\",\"shares\":5},{\"action\":\"HOLD\"}]\n```",
			shape: ShapeBareArray,
			count: 2,
		},
		{
			name:  "single object in prose",
			raw:   `I think {"symbol":"NVDA","action":"buy","position_size_usd":"$5,000","conviction":8} is best.`,
			shape: ShapeSingleObject,
			count: 1,
		},
		{
			name:  "actions object",
			raw:   `{"analysis":"markets calm","actions":[{"symbol":"SPY","type":"BUY","qty":2}],"extra":{"ignored":true}}`,
			shape: ShapeActionsObject,
			count: 1,
		},
		{
			name:  "empty decisions",
			raw:   `{"decisions":[]}`,
			shape: ShapeDecisionsObject,
			count: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseResponse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.shape, res.Shape)
			assert.Len(t, res.Proposals, tt.count)
			assert.Empty(t, res.Malformed)
		})
	}
}

func TestParseResponseAliasesAndConfidence(t *testing.T) {
	res, err := ParseResponse(`I think {"symbol":"nvda","action":"buy","position_size_usd":"$5,000","conviction":8,"direction":"bullish","timeframe_days":5} works.`)
	require.NoError(t, err)
	require.Len(t, res.Proposals, 1)
	p := res.Proposals[0]
	assert.Equal(t, "NVDA", p.Symbol)
	assert.Equal(t, types.ActionBuy, p.Action)
	assert.Equal(t, 5000.0, p.PositionSizeUSD)
	assert.InDelta(t, 0.8, p.Confidence, 1e-9)
	assert.Equal(t, "up", p.PredictedDirection)
	assert.Equal(t, 5, p.PredictedTimeframeDays)

	res, err = ParseResponse(`{"actions":[{"symbol":"SPY","action":"SELL","quantity":1,"confidence":65}],"analysis":"risk off"}`)
	require.NoError(t, err)
	assert.Equal(t, "risk off", res.Analysis)
	assert.InDelta(t, 0.65, res.Proposals[0].Confidence, 1e-9)
}

func TestParseResponseMalformedItemsAreIsolated(t *testing.T) {
	raw := `{"decisions":[
		{"symbol":"AAPL","action":"BUY","quantity":10},
		{"symbol":"MSFT","action":"TELEPORT"},
		{"action":"BUY","quantity":3},
		"not an object",
		{"symbol":"TSLA","action":"SELL","quantity":-4},
		{"symbol":"GOOG","action":"SELL","quantity":2}
	]}`
	res, err := ParseResponse(raw)
	require.NoError(t, err)
	require.Len(t, res.Proposals, 2)
	assert.Equal(t, "AAPL", res.Proposals[0].Symbol)
	assert.Equal(t, "GOOG", res.Proposals[1].Symbol)
	require.Len(t, res.Malformed, 4)
	for _, m := range res.Malformed {
		assert.ErrorIs(t, m, ErrMalformedProviderResponse)
	}
	var item *MalformedItemError
	require.True(t, errors.As(res.Malformed[0], &item))
	assert.Equal(t, 2, item.Index)
}

func TestParseResponseUnrecognized(t *testing.T) {
	for _, raw := range []string{"", "no json here", `{"foo":1}`, `{"decisions":"nope"}`, `"just a string"`} {
		_, err := ParseResponse(raw)
		assert.ErrorIs(t, err, ErrUnrecognizedShape, raw)
	}
}

func TestNormalizeConfidence(t *testing.T) {
	assert.Equal(t, 0.7, normalizeConfidence(0.7))
	assert.Equal(t, 0.7, normalizeConfidence(7))
	assert.Equal(t, 0.75, normalizeConfidence(75))
}
