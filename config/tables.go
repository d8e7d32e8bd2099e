package config

import (
	"github.com/vadiminshakov/spotengine/internal/domain"
)

// TimeframeTable is a total function from timeframe to a parameter: a finite
// mapping plus a default for unlisted timeframes.
type TimeframeTable struct {
	Values  map[domain.Timeframe]float64 `yaml:"values"`
	Default float64                      `yaml:"default"`
}

// NewTimeframeTable builds a table from a default and per-timeframe values.
func NewTimeframeTable(def float64, values map[domain.Timeframe]float64) TimeframeTable {
	copied := make(map[domain.Timeframe]float64, len(values))
	for tf, v := range values {
		copied[tf] = v
	}
	return TimeframeTable{Values: copied, Default: def}
}

// Get returns the value for tf, or the default.
func (t TimeframeTable) Get(tf domain.Timeframe) float64 {
	if v, ok := t.Values[tf]; ok {
		return v
	}
	return t.Default
}

// Tables groups every per-timeframe parameter table.
type Tables struct {
	// CooldownSec is the minimum number of seconds between two trades of a pair.
	CooldownSec TimeframeTable `yaml:"cooldown_sec"`
	// Hysteresis is the RSI gap required to flip side.
	Hysteresis        TimeframeTable `yaml:"hysteresis"`
	StopLoss          TimeframeTable `yaml:"stop_loss"`
	TakeProfitTrigger TimeframeTable `yaml:"take_profit_trigger"`
	TakeProfitTrail   TimeframeTable `yaml:"take_profit_trail"`
	// MaxStaleMinutes is the maximum age of the last candle before a pair is skipped.
	MaxStaleMinutes TimeframeTable `yaml:"max_stale_minutes"`
}

// knownTimeframes lists the timeframes that have dedicated table entries.
var knownTimeframes = []domain.Timeframe{"1m", "2m", "5m", "15m", "30m", "1h", "2h", "4h", "1d", "1w"}

// DefaultTables returns fresh copies of the built-in tables.
func DefaultTables() Tables {
	return Tables{
		CooldownSec: NewTimeframeTable(0, map[domain.Timeframe]float64{
			"1m": 10, "2m": 15, "5m": 30, "15m": 30, "30m": 45, "1h": 60, "2h": 90, "4h": 0, "1d": 0, "1w": 0,
		}),
		Hysteresis: NewTimeframeTable(2.0, map[domain.Timeframe]float64{
			"1m": 0.8, "2m": 0.8, "5m": 1.0, "15m": 1.5, "30m": 1.5, "1h": 2.0, "2h": 2.5, "4h": 3.0, "1d": 3.0, "1w": 4.0,
		}),
		StopLoss: NewTimeframeTable(0.025, map[domain.Timeframe]float64{
			"1m": 0.015, "2m": 0.018, "5m": 0.020, "15m": 0.030, "30m": 0.040, "1h": 0.050, "2h": 0.055, "4h": 0.060, "1d": 0.090, "1w": 0.150,
		}),
		TakeProfitTrigger: NewTimeframeTable(0.05, map[domain.Timeframe]float64{
			"1m": 0.030, "2m": 0.035, "5m": 0.040, "15m": 0.050, "30m": 0.060, "1h": 0.060, "2h": 0.070, "4h": 0.080, "1d": 0.100, "1w": 0.120,
		}),
		TakeProfitTrail: NewTimeframeTable(0.02, map[domain.Timeframe]float64{
			"1m": 0.015, "2m": 0.020, "5m": 0.020, "15m": 0.030, "30m": 0.030, "1h": 0.040, "2h": 0.040, "4h": 0.050, "1d": 0.060, "1w": 0.080,
		}),
		MaxStaleMinutes: NewTimeframeTable(120, map[domain.Timeframe]float64{
			"1m": 3, "2m": 5, "5m": 10, "15m": 30, "30m": 60, "1h": 90, "2h": 150, "4h": 360, "1d": 2880, "1w": 20160,
		}),
	}
}
