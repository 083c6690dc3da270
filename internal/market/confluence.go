package market

import "math"

type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
	Neutral Direction = "neutral"
)

// ConfluenceConfig holds the vote thresholds.
type ConfluenceConfig struct {
	RSIOverbought   float64
	RSIOversold     float64
	StochOverbought float64
	StochOversold   float64
	CCIOverbought   float64
	CCIOversold     float64
	ADXStrongTrend  float64
	MinAgreeing     int
}

func DefaultConfluenceConfig() ConfluenceConfig {
	return ConfluenceConfig{
		RSIOverbought:   70,
		RSIOversold:     30,
		StochOverbought: 80,
		StochOversold:   20,
		CCIOverbought:   100,
		CCIOversold:     -100,
		ADXStrongTrend:  25,
		MinAgreeing:     3,
	}
}

// Vote is one indicator's opinion.
type Vote struct {
	Indicator string    `json:"indicator"`
	Direction Direction `json:"direction"`
	Strength  float64   `json:"strength"`
	Value     float64   `json:"value"`
}

// Confluence summarises the votes for one symbol.
type Confluence struct {
	Direction Direction `json:"direction"`
	Bullish   int       `json:"bullish"`
	Bearish   int       `json:"bearish"`
	Strength  float64   `json:"strength"`
	Confluent bool      `json:"confluent"`
	Votes     []Vote    `json:"votes,omitempty"`
}

// Signals renders the winning side's votes as short labels.
func (c Confluence) Signals() []string {
	out := make([]string, 0, len(c.Votes))
	for _, v := range c.Votes {
		if v.Direction == c.Direction {
			out = append(out, v.Indicator+" "+string(v.Direction))
		}
	}
	return out
}

// EvaluateConfluence collects votes from RSI, MACD, Bollinger, stochastic and
// CCI; confluence needs MinAgreeing votes on one side. ADX above the strong
// trend level scales the strength.
func EvaluateConfluence(price float64, ind Indicators, cfg ConfluenceConfig) Confluence {
	var votes []Vote
	add := func(name string, dir Direction, strength, value float64) {
		votes = append(votes, Vote{Indicator: name, Direction: dir, Strength: round4(math.Min(strength, 1)), Value: value})
	}

	if rsi, ok := ind[KeyRSI14]; ok {
		switch {
		case rsi < cfg.RSIOversold:
			add("RSI_14", Bullish, (cfg.RSIOversold-rsi)/30, rsi)
		case rsi > cfg.RSIOverbought:
			add("RSI_14", Bearish, (rsi-cfg.RSIOverbought)/30, rsi)
		}
	}
	macd, okM := ind[KeyMACD]
	signal, okS := ind[KeyMACDSignal]
	if okM && okS {
		diff := macd - signal
		strength := math.Abs(diff) / math.Max(price, 1) * 100
		switch {
		case diff > 0:
			add("MACD", Bullish, strength, macd)
		case diff < 0:
			add("MACD", Bearish, strength, macd)
		}
	}
	upper, okU := ind[KeyBBUpper]
	lower, okL := ind[KeyBBLower]
	if okU && okL && price > 0 {
		middle := (upper + lower) / 2
		switch {
		case price < lower:
			add("BB_LOWER", Bullish, (lower-price)/math.Max(middle-lower, 0.01), price)
		case price > upper:
			add("BB_UPPER", Bearish, (price-upper)/math.Max(upper-middle, 0.01), price)
		}
	}
	if k, ok := ind[KeyStochK]; ok {
		switch {
		case k < cfg.StochOversold:
			add("STOCH_K", Bullish, (cfg.StochOversold-k)/20, k)
		case k > cfg.StochOverbought:
			add("STOCH_K", Bearish, (k-cfg.StochOverbought)/20, k)
		}
	}
	if cci, ok := ind[KeyCCI20]; ok {
		switch {
		case cci < cfg.CCIOversold:
			add("CCI_20", Bullish, math.Abs((cfg.CCIOversold-cci)/100), cci)
		case cci > cfg.CCIOverbought:
			add("CCI_20", Bearish, math.Abs((cci-cfg.CCIOverbought)/100), cci)
		}
	}

	out := Confluence{Direction: Neutral, Votes: votes}
	var bullSum, bearSum float64
	for _, v := range votes {
		if v.Direction == Bullish {
			out.Bullish++
			bullSum += v.Strength
		} else {
			out.Bearish++
			bearSum += v.Strength
		}
	}
	min := cfg.MinAgreeing
	if min <= 0 {
		min = 3
	}
	switch {
	case out.Bullish >= min:
		out.Direction, out.Confluent = Bullish, true
		out.Strength = bullSum / float64(out.Bullish)
	case out.Bearish >= min:
		out.Direction, out.Confluent = Bearish, true
		out.Strength = bearSum / float64(out.Bearish)
	default:
		return out
	}
	if adx, ok := ind[KeyADX14]; ok && adx > cfg.ADXStrongTrend {
		out.Strength = math.Min(out.Strength*math.Min(adx/25, 2), 1)
	}
	out.Strength = round4(out.Strength)
	return out
}
