package exchange

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/spotengine/internal/domain"
	"github.com/vadiminshakov/spotengine/pkg/retrier"
	"go.uber.org/zap"
)

// Retrying decorates an Exchange with bounded exponential backoff on transient errors.
type Retrying struct {
	next Exchange
	r    *retrier.Retrier
}

// NewRetrying wraps next. attempts is the number of guarded attempts before the
// final one, base the first wait; every wait doubles the previous one.
func NewRetrying(next Exchange, attempts int, base time.Duration, l *zap.Logger) *Retrying {
	r := retrier.New(
		retrier.WithMaxRetries(attempts),
		retrier.WithInitialInterval(base),
		retrier.WithMaxInterval(base<<max(attempts, 0)),
		retrier.WithRetryIf(IsTransient),
		retrier.WithOnRetry(func(attempt int, wait time.Duration, err error) {
			l.Warn("Retrying exchange call",
				zap.Int("attempt", attempt),
				zap.Int("of", attempts),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)

	return &Retrying{next: next, r: r}
}

func (e *Retrying) FetchOHLCV(ctx context.Context, symbol string, tf domain.Timeframe, limit int) (domain.Candles, error) {
	return retrier.DoWithData(e.r, ctx, func(ctx context.Context) (domain.Candles, error) {
		return e.next.FetchOHLCV(ctx, symbol, tf, limit)
	})
}

func (e *Retrying) FetchBalance(ctx context.Context) (Balances, error) {
	return retrier.DoWithData(e.r, ctx, e.next.FetchBalance)
}

func (e *Retrying) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	return retrier.DoWithData(e.r, ctx, func(ctx context.Context) (Ticker, error) {
		return e.next.FetchTicker(ctx, symbol)
	})
}

func (e *Retrying) FetchMyTrades(ctx context.Context, symbol string, since time.Time) ([]Trade, error) {
	return retrier.DoWithData(e.r, ctx, func(ctx context.Context) ([]Trade, error) {
		return e.next.FetchMyTrades(ctx, symbol, since)
	})
}

// CreateMarketOrder places the order at most once per accepted client id: after a
// transient failure the order is looked up before it is submitted again.
func (e *Retrying) CreateMarketOrder(ctx context.Context, symbol string, side OrderSide, amount decimal.Decimal, clientOrderID string) (Order, error) {
	submitted := false
	return retrier.DoWithData(e.r, ctx, func(ctx context.Context) (Order, error) {
		if submitted {
			order, err := e.next.FetchOrder(ctx, symbol, clientOrderID)
			if err == nil {
				return order, nil
			}
			if !errors.Is(err, ErrOrderNotFound) {
				return Order{}, err
			}
		}
		submitted = true
		return e.next.CreateMarketOrder(ctx, symbol, side, amount, clientOrderID)
	})
}

func (e *Retrying) FetchOrder(ctx context.Context, symbol, clientOrderID string) (Order, error) {
	return retrier.DoWithData(e.r, ctx, func(ctx context.Context) (Order, error) {
		return e.next.FetchOrder(ctx, symbol, clientOrderID)
	})
}

func (e *Retrying) AmountToPrecision(ctx context.Context, symbol string, amount decimal.Decimal) (decimal.Decimal, error) {
	return retrier.DoWithData(e.r, ctx, func(ctx context.Context) (decimal.Decimal, error) {
		return e.next.AmountToPrecision(ctx, symbol, amount)
	})
}

func (e *Retrying) Market(ctx context.Context, symbol string) (Market, error) {
	return retrier.DoWithData(e.r, ctx, func(ctx context.Context) (Market, error) {
		return e.next.Market(ctx, symbol)
	})
}

func (e *Retrying) LoadMarkets(ctx context.Context) (map[string]Market, error) {
	return retrier.DoWithData(e.r, ctx, e.next.LoadMarkets)
}
