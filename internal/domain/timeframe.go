package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Timeframe candle granularity such as 5m, 1h or 1d.
type Timeframe string

// ParseTimeframe validates a timeframe of the form <N>m, <N>h, <N>d or <N>w.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	if _, err := tf.minutes(); err != nil {
		return "", err
	}

	return tf, nil
}

// Minutes returns the candle length in minutes. Invalid timeframes return 0.
func (tf Timeframe) Minutes() int {
	m, _ := tf.minutes()
	return m
}

// Duration returns the candle length.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf.Minutes()) * time.Minute
}

// String returns the timeframe text.
func (tf Timeframe) String() string {
	return string(tf)
}

func (tf Timeframe) minutes() (int, error) {
	s := string(tf)
	if len(s) < 2 {
		return 0, errors.Errorf("unsupported timeframe %q", s)
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, errors.Errorf("unsupported timeframe %q", s)
	}

	switch s[len(s)-1] {
	case 'm':
		return n, nil
	case 'h':
		return n * 60, nil
	case 'd':
		return n * 60 * 24, nil
	case 'w':
		return n * 60 * 24 * 7, nil
	default:
		return 0, errors.Errorf("unsupported timeframe %q", s)
	}
}
