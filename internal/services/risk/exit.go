package risk

import (
	"github.com/vadiminshakov/spotengine/internal/domain"
)

const (
	// minTakeProfitLock is the minimal gap between the take-profit trigger and its trail.
	minTakeProfitLock = 0.02
	// minRewardRisk is the minimal trigger/stop-loss ratio.
	minRewardRisk = 1.5
)

// ExitReason explains a forced sell.
type ExitReason string

const (
	ExitNone       ExitReason = ""
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
)

// ExitParams are the protective exit thresholds of a timeframe, as fractions.
type ExitParams struct {
	StopLoss float64
	Trigger  float64
	Trail    float64
}

// ResolveExitParams enforces trigger > trail by at least minTakeProfitLock and
// trigger/stopLoss >= minRewardRisk, raising the trigger when needed.
func ResolveExitParams(stopLoss, trigger, trail float64) ExitParams {
	if trigger <= trail {
		trigger = trail + 0.01
	}
	if trigger-trail < minTakeProfitLock {
		trigger = trail + minTakeProfitLock
	}
	if stopLoss > 0 && trigger/stopLoss < minRewardRisk {
		trigger = stopLoss * minRewardRisk
	}

	return ExitParams{StopLoss: stopLoss, Trigger: trigger, Trail: trail}
}

// ExitDecision is the outcome of the protective exit check.
type ExitDecision struct {
	PnLNet      float64
	DrawdownNet float64
	// JustArmed is set when take-profit was armed by this evaluation.
	JustArmed bool
	Reason    ExitReason
	Params    ExitParams
}

// EvaluateExit updates the peak and the take-profit latch of a long record
// and reports whether the position must be sold. Returns false for flat records.
func EvaluateExit(rec *domain.PositionRecord, close, fee float64, params ExitParams) (ExitDecision, bool) {
	open := rec.TrackPeak(close)
	if open == nil {
		return ExitDecision{}, false
	}

	fee = max(0, fee)
	entryEff := open.EntryPrice * (1 + fee)
	closeEff := close * (1 - fee)
	peakEff := open.PeakPrice * (1 - fee)

	d := ExitDecision{
		PnLNet:      (closeEff - entryEff) / entryEff,
		DrawdownNet: (closeEff - peakEff) / peakEff,
		Params:      params,
	}

	if d.PnLNet >= params.Trigger {
		d.JustArmed = rec.ArmTakeProfit()
	}

	switch {
	case params.StopLoss > 0 && d.PnLNet <= -params.StopLoss:
		d.Reason = ExitStopLoss
	case rec.TakeProfitArmed() && d.DrawdownNet <= -params.Trail:
		d.Reason = ExitTakeProfit
	}

	return d, true
}
