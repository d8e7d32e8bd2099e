package domain

import (
	"sort"
	"time"
)

// Ledger holds every position record plus the global circuit-breaker expiry.
type Ledger struct {
	records map[LedgerKey]*PositionRecord
	// BreakerUntil is the unix time in seconds until which buys are suppressed.
	BreakerUntil float64
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{records: make(map[LedgerKey]*PositionRecord)}
}

// Record returns the record for key, creating it on first reference.
func (l *Ledger) Record(key LedgerKey) *PositionRecord {
	rec, ok := l.records[key]
	if !ok {
		rec = &PositionRecord{}
		l.records[key] = rec
	}
	return rec
}

// Lookup returns the record for key without creating it.
func (l *Ledger) Lookup(key LedgerKey) (*PositionRecord, bool) {
	rec, ok := l.records[key]
	return rec, ok
}

// Keys returns all keys in stable order.
func (l *Ledger) Keys() []LedgerKey {
	keys := make([]LedgerKey, 0, len(l.records))
	for k := range l.records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// BreakerActive reports whether buys are suppressed at now.
func (l *Ledger) BreakerActive(now time.Time) bool {
	return EpochSeconds(now) < l.BreakerUntil
}

// BreakerRemaining returns how long buys stay suppressed.
func (l *Ledger) BreakerRemaining(now time.Time) time.Duration {
	left := l.BreakerUntil - EpochSeconds(now)
	if left <= 0 {
		return 0
	}
	return time.Duration(left * float64(time.Second))
}

// BlockBuysUntil trips the circuit breaker.
func (l *Ledger) BlockBuysUntil(until time.Time) {
	l.BreakerUntil = EpochSeconds(until)
}
