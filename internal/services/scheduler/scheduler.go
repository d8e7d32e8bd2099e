// Package scheduler tracks the next candle boundary of every configured timeframe.
package scheduler

import (
	"sort"
	"time"

	"github.com/vadiminshakov/spotengine/internal/domain"
)

// MaxSleep caps a single idle wait so the process stays responsive.
const MaxSleep = 30 * time.Second

// Scheduler decides which timeframes are due.
type Scheduler struct {
	next map[domain.Timeframe]time.Time
}

// New schedules every timeframe at its next candle boundary after now.
func New(tfs []domain.Timeframe, now time.Time) *Scheduler {
	s := &Scheduler{next: make(map[domain.Timeframe]time.Time, len(tfs))}
	for _, tf := range tfs {
		s.next[tf] = NextCandle(now, tf)
	}
	return s
}

// NextCandle returns floor(now, tf) + tf, with boundaries aligned to the unix epoch.
func NextCandle(now time.Time, tf domain.Timeframe) time.Time {
	d := tf.Duration()
	if d <= 0 {
		d = time.Minute
	}
	step := int64(d / time.Second)
	sec := now.Unix()
	floored := sec - ((sec%step)+step)%step
	return time.Unix(floored, 0).UTC().Add(d)
}

// Due returns the timeframes whose boundary is at or before now, in a stable order.
func (s *Scheduler) Due(now time.Time) []domain.Timeframe {
	var due []domain.Timeframe
	for tf, at := range s.next {
		if !now.Before(at) {
			due = append(due, tf)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].Minutes() < due[j].Minutes()
	})
	return due
}

// Advance moves each of tfs to the boundary following now.
func (s *Scheduler) Advance(tfs []domain.Timeframe, now time.Time) {
	for _, tf := range tfs {
		s.next[tf] = NextCandle(now, tf)
	}
}

// NextRun returns the soonest scheduled boundary.
func (s *Scheduler) NextRun() time.Time {
	var soonest time.Time
	for _, at := range s.next {
		if soonest.IsZero() || at.Before(soonest) {
			soonest = at
		}
	}
	return soonest
}

// SleepFor returns how long to wait until the next boundary: at least one
// second and at most MaxSleep.
func (s *Scheduler) SleepFor(now time.Time) time.Duration {
	wait := s.NextRun().Sub(now).Truncate(time.Second)
	return min(max(time.Second, wait), MaxSleep)
}
