package domain

import "time"

// Candle single OHLCV candlestick.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// DollarVolume returns close*volume in quote currency.
func (c Candle) DollarVolume() float64 {
	return c.Close * c.Volume
}

// Candles ordered oldest to newest. The last element is the forming candle.
type Candles []Candle

// Closes returns the close prices.
func (cs Candles) Closes() []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

// Highs returns the high prices.
func (cs Candles) Highs() []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.High
	}
	return out
}

// Lows returns the low prices.
func (cs Candles) Lows() []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Low
	}
	return out
}

// Last returns the most recent candle.
func (cs Candles) Last() (Candle, bool) {
	if len(cs) == 0 {
		return Candle{}, false
	}
	return cs[len(cs)-1], true
}
