package risk

import (
	"math"
	"time"

	"github.com/vadiminshakov/spotengine/config"
	"github.com/vadiminshakov/spotengine/internal/domain"
)

// BreakerCandles is the number of benchmark candles fetched per cycle.
const BreakerCandles = 200

// Breaker watches a benchmark symbol and suppresses buys after a sharp drop.
type Breaker struct {
	cfg config.BreakerConfig
}

// NewBreaker creates a breaker.
func NewBreaker(cfg config.BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg}
}

// Enabled reports whether the breaker is configured to trip at all.
func (b *Breaker) Enabled() bool {
	return b.cfg.Enabled()
}

// Bars returns how many candles span the breaker window.
func (b *Breaker) Bars() int {
	tfMin := max(b.cfg.Timeframe.Minutes(), 1)
	return max(1, b.cfg.WindowMin/tfMin)
}

// Change returns the percent change of the close over the window.
// ok is false when there are not enough candles.
func (b *Breaker) Change(candles domain.Candles) (change float64, ok bool) {
	bars := b.Bars()
	if len(candles) <= bars {
		return 0, false
	}

	p0 := candles[len(candles)-bars-1].Close
	p1 := candles[len(candles)-1].Close
	if p0 == 0 {
		return 0, false
	}

	return (p1 - p0) / p0 * 100, true
}

// Check trips the ledger breaker when the benchmark dropped by at least the threshold.
// It returns the measured change and whether it tripped.
func (b *Breaker) Check(ledger *domain.Ledger, candles domain.Candles, now time.Time) (float64, bool) {
	if !b.Enabled() {
		return 0, false
	}

	change, ok := b.Change(candles)
	if !ok || change > -math.Abs(b.cfg.DropPct) {
		return change, false
	}

	ledger.BlockBuysUntil(now.Add(time.Duration(b.cfg.CooldownMin) * time.Minute))

	return change, true
}
