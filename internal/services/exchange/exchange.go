// Package exchange defines the exchange collaborator used by the engine and
// its Binance implementation.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/spotengine/internal/domain"
)

// OrderSide of a market order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Ticker is a price snapshot. Zero values mean the price is unknown.
type Ticker struct {
	Last decimal.Decimal
	Bid  decimal.Decimal
	Ask  decimal.Decimal
}

// BestLast returns the most relevant reference price: last, bid, ask, then the mid.
func (t Ticker) BestLast() (decimal.Decimal, bool) {
	for _, p := range []decimal.Decimal{t.Last, t.Bid, t.Ask} {
		if p.IsPositive() {
			return p, true
		}
	}
	return decimal.Zero, false
}

// Market describes trading rules of a symbol.
type Market struct {
	// Symbol is the unified BASE/QUOTE symbol.
	Symbol    string
	Base      string
	Quote     string
	MinAmount decimal.Decimal
	MinCost   decimal.Decimal
	StepSize  decimal.Decimal
}

// Trade is an own trade of the account.
type Trade struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
	Cost   decimal.Decimal
	Buy    bool
	Time   time.Time
}

// Order is the exchange acknowledgement of a market order.
type Order struct {
	ID            string
	ClientOrderID string
	Filled        decimal.Decimal
	Cost          decimal.Decimal
}

// Balances maps an asset to its free balance.
type Balances map[string]decimal.Decimal

// Free returns the free balance of asset, zero if absent.
func (b Balances) Free(asset string) decimal.Decimal {
	if v, ok := b[asset]; ok {
		return v
	}
	return decimal.Zero
}

// Exchange is the spot exchange collaborator. Symbols are unified BASE/QUOTE strings.
type Exchange interface {
	FetchOHLCV(ctx context.Context, symbol string, tf domain.Timeframe, limit int) (domain.Candles, error)
	FetchBalance(ctx context.Context) (Balances, error)
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	FetchMyTrades(ctx context.Context, symbol string, since time.Time) ([]Trade, error)
	CreateMarketOrder(ctx context.Context, symbol string, side OrderSide, amount decimal.Decimal, clientOrderID string) (Order, error)
	// FetchOrder looks an order up by its client id, ErrOrderNotFound if the exchange never accepted it.
	FetchOrder(ctx context.Context, symbol, clientOrderID string) (Order, error)
	AmountToPrecision(ctx context.Context, symbol string, amount decimal.Decimal) (decimal.Decimal, error)
	Market(ctx context.Context, symbol string) (Market, error)
	LoadMarkets(ctx context.Context) (map[string]Market, error)
}
