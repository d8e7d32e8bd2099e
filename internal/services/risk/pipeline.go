// Package risk turns a raw signal into an executable action by applying
// the protective exit and the trade gates in a fixed order.
package risk

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/spotengine/config"
	"github.com/vadiminshakov/spotengine/internal/domain"
	"go.uber.org/zap"
)

const buyCapWindow = 24 * time.Hour

// Gate names a pipeline stage that changed the action.
type Gate string

const (
	GateNone       Gate = ""
	GateHysteresis Gate = "hysteresis"
	GateCandleCap  Gate = "candle_cap"
	GateCooldown   Gate = "cooldown"
	GateDailyCap   Gate = "daily_cap"
	GateBreaker    Gate = "circuit_breaker"
	GateCapital    Gate = "capital"
)

// Settings configures the gates.
type Settings struct {
	Tables        config.Tables
	FeeTakerPct   float64
	MaxBuysPer24h int
	MinBuy        decimal.Decimal
}

// Input is the state of one pair in the current cycle.
type Input struct {
	Key    domain.LedgerKey
	Action domain.Action
	RSI    float64
	RSIAvg float64
	Close  float64
	// Candle is the evaluated candle.
	Candle    CandleRef
	LocalFree decimal.Decimal
	Now       time.Time
}

// Verdict is the gated action.
type Verdict struct {
	Action domain.Action
	// Blocked is the gate that cancelled the action.
	Blocked Gate
	// Exit is set for long positions.
	Exit *ExitDecision
}

// Pipeline applies the risk stages to signals.
type Pipeline struct {
	settings Settings
	counter  *CandleCounter
}

// NewPipeline creates a pipeline with a fresh candle counter.
func NewPipeline(settings Settings) *Pipeline {
	return &Pipeline{settings: settings, counter: NewCandleCounter()}
}

// Counter exposes the per-candle trade counter.
func (p *Pipeline) Counter() *CandleCounter {
	return p.counter
}

// ExitParams resolves the protective exit thresholds of tf.
func (p *Pipeline) ExitParams(tf domain.Timeframe) ExitParams {
	return ResolveExitParams(
		p.settings.Tables.StopLoss.Get(tf),
		p.settings.Tables.TakeProfitTrigger.Get(tf),
		p.settings.Tables.TakeProfitTrail.Get(tf),
	)
}

// Apply runs the stages in order. It mutates rec (peak, take-profit latch and
// pruned buy timestamps) but never records a trade.
func (p *Pipeline) Apply(l *zap.Logger, ledger *domain.Ledger, rec *domain.PositionRecord, in Input) Verdict {
	v := Verdict{Action: in.Action}
	tf := in.Key.Timeframe

	cancel := func(g Gate) {
		v.Action = domain.ActionNone
		if v.Blocked == GateNone {
			v.Blocked = g
		}
	}

	// hysteresis
	diff := in.RSI - in.RSIAvg
	eps := p.settings.Tables.Hysteresis.Get(tf)
	switch {
	case v.Action == domain.ActionBuy && rec.Side == domain.SideFlat && diff <= eps:
		l.Info("Flip sell to buy blocked by hysteresis", zap.Float64("diff", diff), zap.Float64("eps", eps))
		cancel(GateHysteresis)
	case v.Action == domain.ActionSell && rec.Side == domain.SideLong && -diff <= eps:
		l.Info("Flip buy to sell blocked by hysteresis", zap.Float64("diff", -diff), zap.Float64("eps", eps))
		cancel(GateHysteresis)
	}

	// protective exit
	if exit, ok := EvaluateExit(rec, in.Close, p.settings.FeeTakerPct, p.ExitParams(tf)); ok {
		v.Exit = &exit
		if exit.JustArmed {
			l.Info("Trailing take-profit armed", zap.Float64("pnl_net", exit.PnLNet))
		}
		switch exit.Reason {
		case ExitStopLoss:
			l.Info("Stop-loss sell", zap.Float64("pnl_net", exit.PnLNet), zap.Float64("stop_loss", exit.Params.StopLoss))
			v.Action = domain.ActionSell
		case ExitTakeProfit:
			l.Info("Trailing take-profit sell", zap.Float64("drawdown_net", exit.DrawdownNet), zap.Float64("trail", exit.Params.Trail))
			v.Action = domain.ActionSell
		}
	}

	if v.Action == domain.ActionNone {
		return v
	}

	if n := p.counter.Count(in.Candle); n >= MaxTradesPerCandle {
		l.Warn("Max trades per candle reached", zap.Int("count", n), zap.Time("candle", in.Candle.CandleTS))
		cancel(GateCandleCap)
		return v
	}

	if cool := p.settings.Tables.CooldownSec.Get(tf); cool > 0 {
		elapsed := domain.EpochSeconds(in.Now) - rec.LastTradeTS
		if elapsed < cool {
			l.Info("Cooldown active", zap.Float64("elapsed_sec", elapsed), zap.Float64("cooldown_sec", cool))
			cancel(GateCooldown)
			return v
		}
	}

	if v.Action != domain.ActionBuy {
		return v
	}

	if p.settings.MaxBuysPer24h > 0 {
		if n := rec.RecentBuys(in.Now, buyCapWindow); n >= p.settings.MaxBuysPer24h {
			l.Info("Daily buy cap reached", zap.Int("buys", n), zap.Int("max", p.settings.MaxBuysPer24h))
			cancel(GateDailyCap)
			return v
		}
	}

	if ledger.BreakerActive(in.Now) {
		l.Info("Buy blocked by circuit breaker", zap.Duration("left", ledger.BreakerRemaining(in.Now)))
		cancel(GateBreaker)
		return v
	}

	if in.LocalFree.LessThanOrEqual(p.settings.MinBuy) {
		l.Info("No local allocation left", zap.String("local_free", in.LocalFree.String()))
		cancel(GateCapital)
		return v
	}

	return v
}
