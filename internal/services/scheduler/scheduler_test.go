package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vadiminshakov/spotengine/internal/domain"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNextCandle(t *testing.T) {
	tests := []struct {
		now      string
		tf       domain.Timeframe
		expected string
	}{
		{"2024-01-01T10:07:30Z", "5m", "2024-01-01T10:10:00Z"},
		{"2024-01-01T10:10:00Z", "5m", "2024-01-01T10:15:00Z"},
		{"2024-01-01T10:07:30Z", "1h", "2024-01-01T11:00:00Z"},
		{"2024-01-01T10:07:30Z", "4h", "2024-01-01T12:00:00Z"},
		{"2024-01-01T10:07:30Z", "1d", "2024-01-02T00:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(string(tt.tf)+" "+tt.now, func(t *testing.T) {
			assert.Equal(t, at(tt.expected), NextCandle(at(tt.now), tt.tf))
		})
	}
}

func TestDueAndAdvance(t *testing.T) {
	start := at("2024-01-01T10:07:30Z")
	s := New([]domain.Timeframe{"1h", "5m"}, start)

	assert.Empty(t, s.Due(start))
	assert.Equal(t, at("2024-01-01T10:10:00Z"), s.NextRun())

	now := at("2024-01-01T10:10:02Z")
	due := s.Due(now)
	assert.Equal(t, []domain.Timeframe{"5m"}, due)

	s.Advance(due, now)
	assert.Empty(t, s.Due(now))
	assert.Equal(t, at("2024-01-01T10:15:00Z"), s.NextRun())

	now = at("2024-01-01T11:00:00Z")
	assert.Equal(t, []domain.Timeframe{"5m", "1h"}, s.Due(now))
}

func TestSleepFor(t *testing.T) {
	start := at("2024-01-01T10:07:30Z")
	s := New([]domain.Timeframe{"5m"}, start)

	assert.Equal(t, MaxSleep, s.SleepFor(start))
	assert.Equal(t, 10*time.Second, s.SleepFor(at("2024-01-01T10:09:50Z")))
	assert.Equal(t, time.Second, s.SleepFor(at("2024-01-01T10:09:59.5Z")))
	assert.Equal(t, time.Second, s.SleepFor(at("2024-01-01T10:10:05Z")))
}

func TestNextCandleWeekIsEpochAligned(t *testing.T) {
	// the unix epoch is a Thursday
	assert.Equal(t, at("2024-01-04T00:00:00Z"), NextCandle(at("2024-01-01T10:00:00Z"), "1w"))
}
