// Package exchange provides a testify mock of the exchange collaborator.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/vadiminshakov/spotengine/internal/domain"
	"github.com/vadiminshakov/spotengine/internal/services/exchange"
)

// NewExchange creates a mock whose expectations are asserted on test cleanup.
func NewExchange(t interface {
	mock.TestingT
	Cleanup(func())
}) *Exchange {
	m := &Exchange{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

// Exchange is a mock exchange.Exchange.
type Exchange struct {
	mock.Mock
}

var _ exchange.Exchange = (*Exchange)(nil)

func (m *Exchange) FetchOHLCV(ctx context.Context, symbol string, tf domain.Timeframe, limit int) (domain.Candles, error) {
	args := m.Called(ctx, symbol, tf, limit)
	candles, _ := args.Get(0).(domain.Candles)
	return candles, args.Error(1)
}

func (m *Exchange) FetchBalance(ctx context.Context) (exchange.Balances, error) {
	args := m.Called(ctx)
	balances, _ := args.Get(0).(exchange.Balances)
	return balances, args.Error(1)
}

func (m *Exchange) FetchTicker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(exchange.Ticker), args.Error(1)
}

func (m *Exchange) FetchMyTrades(ctx context.Context, symbol string, since time.Time) ([]exchange.Trade, error) {
	args := m.Called(ctx, symbol, since)
	trades, _ := args.Get(0).([]exchange.Trade)
	return trades, args.Error(1)
}

func (m *Exchange) CreateMarketOrder(ctx context.Context, symbol string, side exchange.OrderSide, amount decimal.Decimal, clientOrderID string) (exchange.Order, error) {
	args := m.Called(ctx, symbol, side, amount, clientOrderID)
	return args.Get(0).(exchange.Order), args.Error(1)
}

func (m *Exchange) FetchOrder(ctx context.Context, symbol, clientOrderID string) (exchange.Order, error) {
	args := m.Called(ctx, symbol, clientOrderID)
	return args.Get(0).(exchange.Order), args.Error(1)
}

func (m *Exchange) AmountToPrecision(ctx context.Context, symbol string, amount decimal.Decimal) (decimal.Decimal, error) {
	args := m.Called(ctx, symbol, amount)
	if fn, ok := args.Get(0).(func(context.Context, string, decimal.Decimal) decimal.Decimal); ok {
		return fn(ctx, symbol, amount), args.Error(1)
	}
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *Exchange) Market(ctx context.Context, symbol string) (exchange.Market, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(exchange.Market), args.Error(1)
}

func (m *Exchange) LoadMarkets(ctx context.Context) (map[string]exchange.Market, error) {
	args := m.Called(ctx)
	markets, _ := args.Get(0).(map[string]exchange.Market)
	return markets, args.Error(1)
}
