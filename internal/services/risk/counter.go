package risk

import (
	"sync"
	"time"

	"github.com/vadiminshakov/spotengine/internal/domain"
)

// MaxTradesPerCandle caps engine trades on a single candle.
const MaxTradesPerCandle = 3

// CandleRef identifies one candle of one ledger key.
type CandleRef struct {
	Key      domain.LedgerKey
	CandleTS time.Time
}

func (r CandleRef) id() candleID {
	return candleID{key: r.Key, ts: r.CandleTS.UnixMilli()}
}

type candleID struct {
	key domain.LedgerKey
	ts  int64
}

// CandleCounter counts trades per candle. It lives in memory only.
type CandleCounter struct {
	mu     sync.Mutex
	counts map[candleID]int
}

// NewCandleCounter returns an empty counter.
func NewCandleCounter() *CandleCounter {
	return &CandleCounter{counts: make(map[candleID]int)}
}

// Count returns the number of trades on ref.
func (c *CandleCounter) Count(ref CandleRef) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[ref.id()]
}

// Increment records a trade on ref.
func (c *CandleCounter) Increment(ref CandleRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[ref.id()]++
}

// Retain drops every entry not in keep.
func (c *CandleCounter) Retain(keep []CandleRef) {
	ids := make(map[candleID]struct{}, len(keep))
	for _, ref := range keep {
		ids[ref.id()] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.counts {
		if _, ok := ids[id]; !ok {
			delete(c.counts, id)
		}
	}
}

// Len returns the number of tracked candles.
func (c *CandleCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.counts)
}
