// Package domain defines core data structures used throughout the trading engine.
package domain

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Pair cryptocurrency trading pair.
type Pair struct {
	// From base currency symbol.
	From string
	// To quote currency symbol.
	To string
}

// ParsePair parses a unified symbol such as BTC/USDT.
func ParsePair(symbol string) (Pair, error) {
	parts := strings.Split(strings.TrimSpace(symbol), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, errors.Errorf("invalid symbol %q, expected BASE/QUOTE", symbol)
	}

	return Pair{From: strings.ToUpper(parts[0]), To: strings.ToUpper(parts[1])}, nil
}

// String returns the unified representation, e.g. BTC/USDT.
func (p Pair) String() string {
	return fmt.Sprintf("%s/%s", p.From, p.To)
}

// Symbol returns the concatenated exchange symbol, e.g. BTCUSDT.
func (p Pair) Symbol() string {
	return fmt.Sprintf("%s%s", p.From, p.To)
}
