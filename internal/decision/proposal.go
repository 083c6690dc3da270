package decision

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	"phinance/internal/types"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// proposalSchema validates one item after alias folding.
const proposalSchema = `{
  "type": "object",
  "required": ["action"],
  "properties": {
    "symbol": {"type": "string", "maxLength": 16},
    "action": {"type": "string", "minLength": 1},
    "quantity": {"type": "number", "minimum": 0},
    "position_size_usd": {"type": "number", "minimum": 0},
    "limit_price": {"type": "number", "minimum": 0},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reasoning": {"type": "string"},
    "signals": {"type": "array", "items": {"type": "string"}},
    "predicted_direction": {"enum": ["", "up", "down", "flat"]},
    "predicted_price_target": {"type": "number", "minimum": 0},
    "predicted_timeframe_days": {"type": "integer", "minimum": 0, "maximum": 365}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func itemSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("proposal.json", strings.NewReader(proposalSchema)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile("proposal.json")
	})
	return compiledSchema, schemaErr
}

// foldItem maps provider spellings onto canonical keys. Unknown keys are dropped.
func foldItem(raw map[string]any) map[string]any {
	out := make(map[string]any, 12)
	if v, ok := firstOf(raw, "symbol", "ticker", "stock"); ok {
		out["symbol"] = strings.ToUpper(coerceString(v))
	}
	if v, ok := firstOf(raw, "action", "type", "side", "decision"); ok {
		out["action"] = coerceString(v)
	}
	setNumber(out, "quantity", raw, "quantity", "shares", "qty")
	setNumber(out, "position_size_usd", raw, "position_size_usd", "amount_usd", "notional", "size_usd")
	setNumber(out, "limit_price", raw, "limit_price", "price", "entry_price")
	setNumber(out, "predicted_price_target", raw, "predicted_price_target", "price_target", "target_price")
	if v, ok := firstOf(raw, "confidence", "conviction"); ok {
		if f, ok := coerceFloat64(v); ok {
			out["confidence"] = normalizeConfidence(f)
		} else {
			out["confidence"] = v
		}
	}
	if v, ok := firstOf(raw, "reasoning", "rationale", "reason"); ok {
		out["reasoning"] = coerceString(v)
	}
	if v, ok := firstOf(raw, "signals", "indicators"); ok {
		out["signals"] = toAnySlice(coerceStrings(v))
	}
	if v, ok := firstOf(raw, "predicted_direction", "direction"); ok {
		out["predicted_direction"] = normalizeDirection(coerceString(v))
	}
	if v, ok := firstOf(raw, "predicted_timeframe_days", "timeframe_days"); ok {
		if f, ok := coerceFloat64(v); ok {
			out["predicted_timeframe_days"] = json.Number(fmt.Sprintf("%d", int(math.Round(f))))
		} else {
			out["predicted_timeframe_days"] = v
		}
	}
	return out
}

func setNumber(out map[string]any, key string, raw map[string]any, aliases ...string) {
	v, ok := firstOf(raw, aliases...)
	if !ok {
		return
	}
	if f, ok := coerceFloat64(v); ok {
		out[key] = f
		return
	}
	// leave the bad value for the schema to reject
	out[key] = v
}

// normalizeConfidence accepts 0..1, percentages and 1..10 conviction scores.
func normalizeConfidence(f float64) float64 {
	switch {
	case f > 10:
		return f / 100
	case f > 1:
		return f / 10
	default:
		return f
	}
}

func normalizeDirection(s string) string {
	switch strings.ToLower(s) {
	case "up", "bullish", "long", "higher":
		return "up"
	case "down", "bearish", "short", "lower":
		return "down"
	case "flat", "neutral", "sideways":
		return "flat"
	case "":
		return ""
	default:
		return s
	}
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// adaptItem converts one envelope item into a Proposal.
func adaptItem(idx int, rawItem string) (types.Proposal, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(rawItem), &raw); err != nil {
		return types.Proposal{}, &MalformedItemError{Index: idx, Reason: "item is not an object"}
	}
	folded := foldItem(raw)
	schema, err := itemSchema()
	if err != nil {
		return types.Proposal{}, fmt.Errorf("compile proposal schema: %w", err)
	}
	if err := schema.Validate(folded); err != nil {
		return types.Proposal{}, &MalformedItemError{Index: idx, Reason: err.Error()}
	}
	action, ok := types.ParseAction(coerceString(folded["action"]))
	if !ok {
		return types.Proposal{}, &MalformedItemError{Index: idx, Reason: fmt.Sprintf("unknown action %q", folded["action"])}
	}
	p := types.Proposal{
		Symbol:             coerceString(folded["symbol"]),
		Action:             action,
		Reasoning:          coerceString(folded["reasoning"]),
		Signals:            coerceStrings(folded["signals"]),
		PredictedDirection: coerceString(folded["predicted_direction"]),
	}
	if action != types.ActionHold && p.Symbol == "" {
		return types.Proposal{}, &MalformedItemError{Index: idx, Reason: "symbol is required for " + string(action)}
	}
	p.Quantity, _ = coerceFloat64(folded["quantity"])
	p.PositionSizeUSD, _ = coerceFloat64(folded["position_size_usd"])
	p.LimitPrice, _ = coerceFloat64(folded["limit_price"])
	p.Confidence, _ = coerceFloat64(folded["confidence"])
	p.PredictedPriceTarget, _ = coerceFloat64(folded["predicted_price_target"])
	if days, ok := coerceFloat64(folded["predicted_timeframe_days"]); ok {
		p.PredictedTimeframeDays = int(days)
	}
	return p, nil
}
