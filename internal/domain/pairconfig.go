package domain

import (
	"github.com/shopspring/decimal"
)

// SmoothingKind selects how the RSI average is computed.
type SmoothingKind string

const (
	SmoothingEMA SmoothingKind = "ema"
	SmoothingSMA SmoothingKind = "sma"
)

// SignalTiming selects which candle the signal is evaluated on.
type SignalTiming string

const (
	// TimingClosed evaluates the last closed candle.
	TimingClosed SignalTiming = "closed"
	// TimingLive evaluates the forming candle.
	TimingLive SignalTiming = "live"
)

var hundred = decimal.NewFromInt(100)

// Allocation is either a fixed quote amount or a percentage of the free quote balance.
type Allocation struct {
	Amount  decimal.Decimal
	Percent bool
}

// Resolve returns the quote amount for the given free balance.
func (a Allocation) Resolve(free decimal.Decimal) decimal.Decimal {
	if a.Percent {
		return free.Mul(a.Amount).Div(hundred)
	}
	return a.Amount
}

func (a Allocation) String() string {
	if a.Percent {
		return a.Amount.String() + "%"
	}
	return a.Amount.String()
}

// PairConfig is the immutable configuration of one traded (symbol, timeframe).
type PairConfig struct {
	Pair       Pair
	Timeframe  Timeframe
	Allocation Allocation
	Smoothing  SmoothingKind
	// SmoothPeriod and RSIPeriod override the timeframe profile when positive.
	SmoothPeriod int
	RSIPeriod    int
	Timing       SignalTiming
	// Slippage is the per-pair anti-slippage ceiling in percent, nil means the global default.
	Slippage *float64
}

// Key returns the ledger key of the pair.
func (c PairConfig) Key() LedgerKey {
	return LedgerKey{Symbol: c.Pair.String(), Timeframe: c.Timeframe}
}
