package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeEvent is an executed engine trade, live or simulated.
type TradeEvent struct {
	ID        string          `json:"id"`
	Key       string          `json:"key"`
	Action    Action          `json:"action"`
	Price     float64         `json:"price"`
	Quote     decimal.Decimal `json:"quote"`
	OrderID   string          `json:"order_id,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Simulated bool            `json:"simulated"`
	Time      time.Time       `json:"time"`
}

// String returns a human-readable string representation.
func (t TradeEvent) String() string {
	mode := "live"
	if t.Simulated {
		mode = "dry"
	}
	return fmt.Sprintf("%s %s %s price: %g quote: %s", t.Key, mode, t.Action.String(), t.Price, t.Quote.String())
}
