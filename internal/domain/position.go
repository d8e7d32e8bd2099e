package domain

import (
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Side is the last side the engine recorded for a ledger key.
// The persisted values mirror the trade that produced them.
type Side string

const (
	SideUnknown Side = ""
	SideLong    Side = "buy"
	SideFlat    Side = "sell"
)

// LedgerKey identifies position state by symbol and timeframe.
type LedgerKey struct {
	Symbol    string
	Timeframe Timeframe
}

// String returns the persisted form SYMBOL|TIMEFRAME.
func (k LedgerKey) String() string {
	return k.Symbol + "|" + string(k.Timeframe)
}

// ParseLedgerKey parses SYMBOL|TIMEFRAME.
func ParseLedgerKey(s string) (LedgerKey, error) {
	symbol, tf, ok := strings.Cut(s, "|")
	if !ok || symbol == "" || tf == "" {
		return LedgerKey{}, errors.Errorf("invalid ledger key %q", s)
	}

	return LedgerKey{Symbol: symbol, Timeframe: Timeframe(tf)}, nil
}

// OpenPosition holds the fields that exist only while a key is long.
type OpenPosition struct {
	EntryPrice      float64
	PeakPrice       float64
	TakeProfitArmed bool
}

// PositionRecord is the mutable state of one ledger key.
// Open is set iff Side is SideLong. BaseQty may outlive a position to track
// balances held outside the engine.
type PositionRecord struct {
	Side          Side
	Open          *OpenPosition
	BaseQty       *float64
	LastTradeTS   float64
	BuyTimestamps []float64
}

// IsLong reports whether the engine believes it holds the position.
func (r *PositionRecord) IsLong() bool {
	return r.Side == SideLong
}

// ObservedQty returns the last recorded base balance.
func (r *PositionRecord) ObservedQty() (float64, bool) {
	if r.BaseQty == nil {
		return 0, false
	}
	return *r.BaseQty, true
}

// ObserveQty records the base balance.
func (r *PositionRecord) ObserveQty(qty float64) {
	r.BaseQty = &qty
}

// ForgetQty drops the recorded base balance, the next observation starts over.
func (r *PositionRecord) ForgetQty() {
	r.BaseQty = nil
}

// OpenLong records an engine buy filled at price.
func (r *PositionRecord) OpenLong(price float64, at time.Time) {
	ts := EpochSeconds(at)
	r.Side = SideLong
	r.Open = &OpenPosition{EntryPrice: price, PeakPrice: price}
	r.LastTradeTS = ts
	r.BuyTimestamps = append(r.BuyTimestamps, ts)
}

// CloseLong records an engine sell.
func (r *PositionRecord) CloseLong(at time.Time) {
	r.clear()
	r.LastTradeTS = EpochSeconds(at)
}

// ClearExternal resets the position after a liquidation done outside the engine.
func (r *PositionRecord) ClearExternal() {
	r.clear()
}

// Rebase moves the entry after a manual add: the peak restarts at max(entry, close)
// and take-profit is disarmed.
func (r *PositionRecord) Rebase(entry, close, qty float64) {
	r.Open = &OpenPosition{EntryPrice: entry, PeakPrice: math.Max(entry, close)}
	r.ObserveQty(qty)
}

// TrackPeak raises the peak to close. A long record without an entry
// (for example edited by hand) is initialised at close.
func (r *PositionRecord) TrackPeak(close float64) *OpenPosition {
	if !r.IsLong() {
		return nil
	}
	if r.Open == nil {
		r.Open = &OpenPosition{EntryPrice: close, PeakPrice: close}
	}
	r.Open.PeakPrice = math.Max(r.Open.PeakPrice, close)

	return r.Open
}

// ArmTakeProfit latches take-profit. It returns true only on the transition.
func (r *PositionRecord) ArmTakeProfit() bool {
	if r.Open == nil || r.Open.TakeProfitArmed {
		return false
	}
	r.Open.TakeProfitArmed = true
	return true
}

// TakeProfitArmed reports the latch state.
func (r *PositionRecord) TakeProfitArmed() bool {
	return r.Open != nil && r.Open.TakeProfitArmed
}

// RecentBuys prunes buy timestamps older than window and returns how many remain.
func (r *PositionRecord) RecentBuys(now time.Time, window time.Duration) int {
	cutoff := EpochSeconds(now) - window.Seconds()

	kept := r.BuyTimestamps[:0]
	for _, ts := range r.BuyTimestamps {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		kept = nil
	}
	r.BuyTimestamps = kept

	return len(kept)
}

func (r *PositionRecord) clear() {
	r.Side = SideFlat
	r.Open = nil
	r.BaseQty = nil
}

// EpochSeconds converts t to fractional unix seconds, the persisted time unit.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromEpochSeconds converts fractional unix seconds to time.
func FromEpochSeconds(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}
