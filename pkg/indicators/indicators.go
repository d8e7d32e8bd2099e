// Package indicators provides the technical indicators used by the hybrid signal:
// ATR, RSI with SMA/EMA smoothing, Supertrend, Donchian channel and dollar volume.
// All functions are pure and operate on float64 series ordered oldest to newest.
//
// Exponential averages follow the recursive form y[0] = x[0], y[i] = (1-a)*y[i-1] + a*x[i]
// with a warm-up of minPeriods samples, undefined leading values being back-filled
// and then forward-filled.
package indicators

import (
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/vadiminshakov/spotengine/internal/domain"
)

// NeutralRSI is returned for series too short to compute RSI.
const NeutralRSI = 50.0

// ATRSeries returns the ATR for every candle. Series shorter than period+1 yield zeros.
func ATRSeries(candles domain.Candles, period int) []float64 {
	period = atLeastOne(period)
	if len(candles) < max(2, period+1) {
		return make([]float64, len(candles))
	}

	return fill(ewm(trueRange(candles), 1/float64(period), period))
}

// ATR returns the latest ATR value, or 0 when history is insufficient.
func ATR(candles domain.Candles, period int) float64 {
	period = atLeastOne(period)
	if len(candles) < max(2, period+1) {
		return 0
	}

	atr := ewm(trueRange(candles), 1/float64(period), period)
	last := atr[len(atr)-1]
	if math.IsNaN(last) {
		return 0
	}
	return last
}

// RSI computes Wilder-style RSI clipped to [0, 100]. A zero average loss yields 100.
// Series shorter than period+1 yield NeutralRSI everywhere.
func RSI(closes []float64, period int) []float64 {
	period = atLeastOne(period)
	if len(closes) < max(2, period+1) {
		out := make([]float64, len(closes))
		for i := range out {
			out[i] = NeutralRSI
		}
		return out
	}

	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	gains[0], losses[0] = math.NaN(), math.NaN()
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gains[i] = math.Max(delta, 0)
		losses[i] = math.Max(-delta, 0)
	}

	alpha := 1 / float64(period)
	avgGain := ewm(gains, alpha, period)
	avgLoss := ewm(losses, alpha, period)

	rsi := make([]float64, len(closes))
	for i := range rsi {
		g, l := avgGain[i], avgLoss[i]
		switch {
		case math.IsNaN(g) || math.IsNaN(l):
			rsi[i] = math.NaN()
		case l == 0:
			rsi[i] = 100
		default:
			rsi[i] = clip(100-100/(1+g/l), 0, 100)
		}
	}

	return fill(rsi)
}

// SmoothRSI averages an RSI series. SMA needs period samples before the first value
// and is back/forward filled; EMA uses span period, i.e. alpha 2/(period+1).
func SmoothRSI(rsi []float64, kind domain.SmoothingKind, period int) []float64 {
	period = atLeastOne(period)
	if kind == domain.SmoothingSMA {
		return fill(sma(rsi, period))
	}

	return fill(ewm(rsi, 2/(float64(period)+1), 1))
}

// Supertrend holds the trend line and its direction (+1 bull, -1 bear) per candle.
type Supertrend struct {
	Line      []float64
	Upper     []float64
	Lower     []float64
	Direction []int
}

// Bull reports whether close[i] is at or above the trend line.
func (s Supertrend) Bull(i int, close float64) bool {
	return close >= s.Line[i]
}

// ComputeSupertrend runs the Supertrend recurrence in time order.
// The line starts on the upper band; while bull it follows the lower band
// ratcheting up, while bear it follows the upper band ratcheting down.
func ComputeSupertrend(candles domain.Candles, atrPeriod int, multiplier float64) Supertrend {
	n := len(candles)
	atr := ATRSeries(candles, atrPeriod)
	st := Supertrend{
		Line:      make([]float64, n),
		Upper:     make([]float64, n),
		Lower:     make([]float64, n),
		Direction: make([]int, n),
	}

	for i, c := range candles {
		hl2 := (c.High + c.Low) / 2
		st.Upper[i] = hl2 + multiplier*atr[i]
		st.Lower[i] = hl2 - multiplier*atr[i]
	}

	for i, c := range candles {
		if i == 0 {
			st.Line[0] = st.Upper[0]
			st.Direction[0] = direction(c.Close, st.Line[0])
			continue
		}

		prevLine, prevDir := st.Line[i-1], st.Direction[i-1]

		var line float64
		if prevDir == 1 {
			lower := st.Lower[i]
			if c.Close < lower {
				line = lower
			} else {
				line = math.Max(lower, prevLine)
			}
		} else {
			upper := st.Upper[i]
			if c.Close > upper {
				line = upper
			} else {
				line = math.Min(upper, prevLine)
			}
		}

		st.Line[i] = line
		st.Direction[i] = direction(c.Close, line)
	}

	return st
}

// Donchian returns rolling max(high) and min(low) over length candles.
// Values are NaN until length candles are available.
func Donchian(candles domain.Candles, length int) (upper, lower []float64) {
	length = atLeastOne(length)
	n := len(candles)
	upper, lower = nans(n), nans(n)
	if n < length {
		return upper, lower
	}

	highs := helper.ChanToSlice(trend.NewMovingMaxWithPeriod[float64](length).Compute(helper.SliceToChan(candles.Highs())))
	lows := helper.ChanToSlice(trend.NewMovingMinWithPeriod[float64](length).Compute(helper.SliceToChan(candles.Lows())))

	copy(upper[n-len(highs):], highs)
	copy(lower[n-len(lows):], lows)
	for i := 0; i < length-1; i++ {
		upper[i], lower[i] = math.NaN(), math.NaN()
	}

	return upper, lower
}

// AverageDollarVolume is the mean close*volume over the trailing lookback candles,
// or over all candles when fewer exist.
func AverageDollarVolume(candles domain.Candles, lookback int) float64 {
	if len(candles) == 0 {
		return 0
	}

	tail := candles[max(0, len(candles)-atLeastOne(lookback)):]
	sum := 0.0
	for _, c := range tail {
		sum += c.DollarVolume()
	}

	return sum / float64(len(tail))
}

func trueRange(candles domain.Candles) []float64 {
	tr := make([]float64, len(candles))
	for i, c := range candles {
		tr[i] = math.Abs(c.High - c.Low)
		if i == 0 {
			continue
		}
		prevClose := candles[i-1].Close
		tr[i] = math.Max(tr[i], math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
	}
	return tr
}

// ewm skips leading NaNs and reports NaN until minPeriods samples were seen.
func ewm(values []float64, alpha float64, minPeriods int) []float64 {
	out := make([]float64, len(values))
	var (
		acc  float64
		seen int
	)
	for i, v := range values {
		if math.IsNaN(v) {
			out[i] = math.NaN()
			continue
		}
		if seen == 0 {
			acc = v
		} else {
			acc = (1-alpha)*acc + alpha*v
		}
		seen++

		if seen >= minPeriods {
			out[i] = acc
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

func sma(values []float64, period int) []float64 {
	out := nans(len(values))
	if len(values) < period {
		return out
	}

	avg := helper.ChanToSlice(trend.NewSmaWithPeriod[float64](period).Compute(helper.SliceToChan(values)))
	copy(out[len(out)-len(avg):], avg)
	for i := 0; i < period-1; i++ {
		out[i] = math.NaN()
	}

	return out
}

// fill back-fills then forward-fills NaNs.
func fill(values []float64) []float64 {
	next := math.NaN()
	for i := len(values) - 1; i >= 0; i-- {
		if math.IsNaN(values[i]) {
			values[i] = next
		} else {
			next = values[i]
		}
	}

	prev := math.NaN()
	for i := range values {
		if math.IsNaN(values[i]) {
			values[i] = prev
		} else {
			prev = values[i]
		}
	}
	return values
}

func nans(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func direction(close, line float64) int {
	if close >= line {
		return 1
	}
	return -1
}

func clip(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
