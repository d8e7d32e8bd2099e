// Package signals turns a candle series into a hybrid buy/sell/none signal built from
// RSI against its average, Supertrend direction, a Donchian breakout and a dollar-volume gate.
package signals

import (
	"math"

	"github.com/vadiminshakov/spotengine/internal/domain"
	"github.com/vadiminshakov/spotengine/pkg/indicators"
)

// Trend is the Supertrend regime at the evaluated candle.
type Trend string

const (
	TrendBull Trend = "bull"
	TrendBear Trend = "bear"
)

// Params are the per-pair overrides applied on top of the profile.
type Params struct {
	Timing       domain.SignalTiming
	Smoothing    domain.SmoothingKind
	SmoothPeriod int
	RSIPeriod    int
}

// ParamsFor extracts evaluator params from a pair configuration.
func ParamsFor(cfg domain.PairConfig) Params {
	return Params{
		Timing:       cfg.Timing,
		Smoothing:    cfg.Smoothing,
		SmoothPeriod: cfg.SmoothPeriod,
		RSIPeriod:    cfg.RSIPeriod,
	}
}

// Result is the evaluated signal with its diagnostics.
// Donchian values are NaN when history is insufficient.
type Result struct {
	RSI          float64
	RSIAvg       float64
	Trend        Trend
	DonchianHigh float64
	DonchianLow  float64
	VolumeOK     bool
	// Index is the evaluated candle and Close its close price.
	Index  int
	Close  float64
	Action domain.Action
}

// HasDonchian reports whether the channel was computable.
func (r Result) HasDonchian() bool {
	return !math.IsNaN(r.DonchianHigh) && !math.IsNaN(r.DonchianLow)
}

// Evaluate computes the hybrid signal. Buy is checked before sell.
func Evaluate(candles domain.Candles, profile Profile, params Params) Result {
	n := len(candles)
	res := Result{
		RSI:          indicators.NeutralRSI,
		RSIAvg:       indicators.NeutralRSI,
		Trend:        TrendBear,
		DonchianHigh: math.NaN(),
		DonchianLow:  math.NaN(),
		Index:        -1,
	}
	if n == 0 {
		return res
	}

	rsiPeriod := profile.RSIPeriod
	if params.RSIPeriod > 0 {
		rsiPeriod = params.RSIPeriod
	}
	smoothPeriod := profile.SmoothPeriod
	if params.SmoothPeriod > 0 {
		smoothPeriod = params.SmoothPeriod
	}
	smoothing := params.Smoothing
	if smoothing == "" {
		smoothing = domain.SmoothingEMA
	}

	idx := n - 2
	if params.Timing == domain.TimingLive || idx < 0 {
		idx = n - 1
	}
	res.Index = idx
	res.Close = candles[idx].Close

	rsi := indicators.RSI(candles.Closes(), rsiPeriod)
	rsiAvg := indicators.SmoothRSI(append([]float64(nil), rsi...), smoothing, smoothPeriod)
	res.RSI, res.RSIAvg = rsi[idx], rsiAvg[idx]

	st := indicators.ComputeSupertrend(candles, profile.ATRPeriod, profile.Multiplier)
	if st.Bull(idx, res.Close) {
		res.Trend = TrendBull
	}

	if n >= max(2, profile.DonchianLength) {
		upper, lower := indicators.Donchian(candles, profile.DonchianLength)
		res.DonchianHigh, res.DonchianLow = upper[idx], lower[idx]
	}

	avgVolume := indicators.AverageDollarVolume(candles, profile.VolumeLookback)
	current := candles[n-1].DollarVolume()
	res.VolumeOK = avgVolume > 0 &&
		current > avgVolume*profile.VolumeMult &&
		current > profile.VolumeMinAbs

	donchianOK := true
	if !math.IsNaN(res.DonchianHigh) && profile.RequireBreakout {
		donchianOK = res.Close > res.DonchianHigh
	}

	buy := res.RSI > res.RSIAvg && res.Trend == TrendBull && donchianOK && res.VolumeOK
	sell := res.RSI < res.RSIAvg && res.Trend == TrendBear &&
		!math.IsNaN(res.DonchianLow) && res.Close < res.DonchianLow

	switch {
	case buy:
		res.Action = domain.ActionBuy
	case sell:
		res.Action = domain.ActionSell
	default:
		res.Action = domain.ActionNone
	}

	return res
}

// RefusalReasons lists the buy conditions that failed, judged against lastClose.
func (r Result) RefusalReasons(profile Profile, lastClose float64) []string {
	var reasons []string
	if !r.VolumeOK {
		reasons = append(reasons, "VolOk=False")
	}
	if profile.RequireBreakout && !math.IsNaN(r.DonchianHigh) && lastClose <= r.DonchianHigh {
		reasons = append(reasons, "Donchian=False")
	}
	if r.RSI <= r.RSIAvg {
		reasons = append(reasons, "RSI<=RSIavg")
	}
	if r.Trend != TrendBull {
		reasons = append(reasons, "ST!=bull")
	}
	return reasons
}
