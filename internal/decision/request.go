package decision

import (
	"encoding/json"
	"fmt"

	"phinance/internal/gateway/provider"
	"phinance/internal/market"
)

const defaultSystemPrompt = `You manage a simulated equity portfolio. Reply with JSON only:
{"decisions":[{"symbol":"TICKER","action":"BUY|SELL|HOLD","quantity":0,"position_size_usd":0,
"confidence":0.0,"reasoning":"","signals":[],"predicted_direction":"up|down|flat",
"predicted_price_target":0,"predicted_timeframe_days":0}]}
An empty decisions list means hold everything.`

// buildPayload serializes the snapshot as the user message.
func buildPayload(snap market.Snapshot, system, traceID string) (provider.ChatPayload, error) {
	if system == "" {
		system = defaultSystemPrompt
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return provider.ChatPayload{}, fmt.Errorf("encode market snapshot: %w", err)
	}
	return provider.ChatPayload{
		System:     system,
		User:       string(body),
		ExpectJSON: true,
		TraceID:    traceID,
	}, nil
}
