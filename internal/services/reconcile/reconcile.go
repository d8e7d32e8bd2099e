// Package reconcile keeps position records consistent with balances changed
// outside the engine (manual sells and manual adds).
package reconcile

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/spotengine/internal/domain"
	"github.com/vadiminshakov/spotengine/internal/services/exchange"
	"go.uber.org/zap"
)

// BalanceSource reports the free base balance of a symbol.
type BalanceSource interface {
	BaseFree(ctx context.Context, symbol string) (float64, error)
}

// Settings configures manual change detection.
type Settings struct {
	// AddTolerance is the minimal relative balance growth treated as a manual add.
	AddTolerance float64
	UseVWAP      bool
	VWAPLookback time.Duration
	// EmptyThreshold is the balance at or below which a long is considered sold.
	EmptyThreshold float64
}

// Outcome of a reconciliation.
type Outcome string

const (
	OutcomeNone             Outcome = ""
	OutcomeManualSell       Outcome = "manual_sell"
	OutcomeManualAdd        Outcome = "manual_add"
	OutcomeFirstObservation Outcome = "first_observation"
)

// Result describes what changed.
type Result struct {
	Outcome Outcome
	// Qty is the observed (or fallback) base balance.
	Qty float64
	// BalanceErr is set when the balance fetch failed and Qty is the recorded fallback.
	BalanceErr error
	Entry      float64
	Growth     float64
}

// Changed reports whether the record was mutated and must be persisted.
func (r Result) Changed() bool {
	return r.Outcome != OutcomeNone
}

// Reconciler detects manual position changes.
type Reconciler struct {
	balances BalanceSource
	trades   TradeSource
	settings Settings
}

// TradeSource lists own trades, used for the VWAP entry of manual adds.
type TradeSource interface {
	FetchMyTrades(ctx context.Context, symbol string, since time.Time) ([]exchange.Trade, error)
}

// New creates a reconciler.
func New(balances BalanceSource, trades TradeSource, settings Settings) *Reconciler {
	return &Reconciler{balances: balances, trades: trades, settings: settings}
}

// BaseFree returns the free base balance, falling back to the recorded
// quantity (or zero) when the fetch fails.
func (r *Reconciler) BaseFree(ctx context.Context, symbol string, rec *domain.PositionRecord) (float64, error) {
	qty, err := r.balances.BaseFree(ctx, symbol)
	if err != nil {
		recorded, _ := rec.ObservedQty()
		return recorded, err
	}
	return qty, nil
}

// Reconcile compares the observed base balance with rec and updates rec.
func (r *Reconciler) Reconcile(ctx context.Context, l *zap.Logger, symbol string, rec *domain.PositionRecord, close float64, now time.Time) Result {
	cur, err := r.BaseFree(ctx, symbol, rec)
	res := Result{Qty: cur, BalanceErr: err}
	if err != nil {
		l.Warn("Base balance fetch failed, using recorded quantity", zap.Float64("qty", cur), zap.Error(err))
	}

	prev, known := rec.ObservedQty()
	if err != nil && !known {
		// nothing to compare against
		return res
	}

	if rec.IsLong() && cur <= r.settings.EmptyThreshold {
		l.Info("Manual sell detected, resetting position", zap.Float64("qty", cur))
		rec.ClearExternal()
		res.Outcome = OutcomeManualSell
		return res
	}

	if rec.IsLong() && known && prev != 0 && cur > prev {
		growth := (cur - prev) / prev
		if growth < r.settings.AddTolerance {
			return res
		}

		entry := close
		if r.settings.UseVWAP {
			if vwap, ok := r.vwap(ctx, l, symbol, now); ok {
				entry = vwap
			}
		}

		rec.Rebase(entry, close, cur)
		res.Outcome = OutcomeManualAdd
		res.Entry = entry
		res.Growth = growth
		l.Info("Manual add detected, entry rebased",
			zap.Float64("entry", entry), zap.Float64("qty", cur), zap.Float64("growth_pct", growth*100))
		return res
	}

	if !known && cur > 0 {
		rec.ObserveQty(cur)
		res.Outcome = OutcomeFirstObservation
	}

	return res
}

func (r *Reconciler) vwap(ctx context.Context, l *zap.Logger, symbol string, now time.Time) (float64, bool) {
	trades, err := r.trades.FetchMyTrades(ctx, symbol, now.Add(-r.settings.VWAPLookback))
	if err != nil {
		l.Warn("Own trades fetch failed, using close as entry", zap.Error(err))
		return 0, false
	}

	buys := make([]exchange.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Buy {
			buys = append(buys, t)
		}
	}

	return VWAP(buys)
}

// VWAP returns the volume weighted average price of trades. Trades without
// amount are ignored and a missing cost is derived from price*amount.
func VWAP(trades []exchange.Trade) (float64, bool) {
	totalCost, totalAmount := decimal.Zero, decimal.Zero
	for _, t := range trades {
		if !t.Amount.IsPositive() {
			continue
		}
		cost := t.Cost
		if cost.IsZero() {
			cost = t.Price.Mul(t.Amount)
		}
		totalCost = totalCost.Add(cost)
		totalAmount = totalAmount.Add(t.Amount)
	}

	if !totalAmount.IsPositive() {
		return 0, false
	}
	return totalCost.Div(totalAmount).InexactFloat64(), true
}

// ExchangeBalances reads base balances from the exchange.
type ExchangeBalances struct {
	ex exchange.Exchange
}

// NewExchangeBalances creates a BalanceSource backed by ex.
func NewExchangeBalances(ex exchange.Exchange) *ExchangeBalances {
	return &ExchangeBalances{ex: ex}
}

func (b *ExchangeBalances) BaseFree(ctx context.Context, symbol string) (float64, error) {
	market, err := b.ex.Market(ctx, symbol)
	if err != nil {
		return 0, err
	}
	balances, err := b.ex.FetchBalance(ctx)
	if err != nil {
		return 0, err
	}
	return balances.Free(market.Base).InexactFloat64(), nil
}
