package market

import (
	"math"

	"github.com/markcheno/go-talib"
)

// Indicator keys, named after their periods.
const (
	KeyRSI14      = "RSI_14"
	KeyMACD       = "MACD_12_26"
	KeyMACDSignal = "MACD_SIGNAL_9"
	KeyBBUpper    = "BB_UPPER_20"
	KeyBBMiddle   = "BB_MIDDLE_20"
	KeyBBLower    = "BB_LOWER_20"
	KeyStochK     = "STOCH_K_14"
	KeyStochD     = "STOCH_D_3"
	KeySMA20      = "SMA_20"
	KeySMA50      = "SMA_50"
	KeyADX14      = "ADX_14"
	KeyCCI20      = "CCI_20"
)

// Indicators maps indicator keys to their latest value. A key is absent when
// the history is too short to compute it.
type Indicators map[string]float64

// ComputeIndicators runs the TA-Lib set over daily bars, oldest first.
func ComputeIndicators(bars []Bar) Indicators {
	out := make(Indicators)
	n := len(bars)
	if n == 0 {
		return out
	}
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
	}

	if n > 14 {
		setLast(out, KeyRSI14, talib.Rsi(closes, 14))
	}
	if n >= 34 {
		macd, signal, _ := talib.Macd(closes, 12, 26, 9)
		setLast(out, KeyMACD, macd)
		setLast(out, KeyMACDSignal, signal)
	}
	if n >= 20 {
		upper, middle, lower := talib.BBands(closes, 20, 2, 2, talib.SMA)
		setLast(out, KeyBBUpper, upper)
		setLast(out, KeyBBMiddle, middle)
		setLast(out, KeyBBLower, lower)
		setLast(out, KeySMA20, talib.Sma(closes, 20))
		setLast(out, KeyCCI20, talib.Cci(highs, lows, closes, 20))
	}
	if n >= 18 {
		k, d := talib.Stoch(highs, lows, closes, 14, 3, talib.SMA, 3, talib.SMA)
		setLast(out, KeyStochK, k)
		setLast(out, KeyStochD, d)
	}
	if n >= 50 {
		setLast(out, KeySMA50, talib.Sma(closes, 50))
	}
	if n >= 28 {
		setLast(out, KeyADX14, talib.Adx(highs, lows, closes, 14))
	}
	return out
}

func setLast(out Indicators, key string, series []float64) {
	if len(series) == 0 {
		return
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	out[key] = round4(v)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
