package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/spotengine/internal/domain"
	"go.uber.org/zap"
)

// Binance implements Exchange on top of the Binance spot REST API.
type Binance struct {
	client *binance.Client
	l      *zap.Logger

	mu      sync.Mutex
	markets map[string]Market
}

// NewBinance creates a Binance collaborator.
func NewBinance(client *binance.Client, l *zap.Logger) *Binance {
	return &Binance{client: client, l: l}
}

func symbolOf(unified string) (string, error) {
	pair, err := domain.ParsePair(unified)
	if err != nil {
		return "", err
	}
	return pair.Symbol(), nil
}

func (b *Binance) FetchOHLCV(ctx context.Context, symbol string, tf domain.Timeframe, limit int) (domain.Candles, error) {
	sym, err := symbolOf(symbol)
	if err != nil {
		return nil, err
	}

	klines, err := b.client.NewKlinesService().
		Symbol(sym).
		Interval(tf.String()).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, classify("fetch ohlcv", err)
	}

	candles := make(domain.Candles, 0, len(klines))
	for _, k := range klines {
		c, err := candleFromKline(k)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse kline of %s", symbol)
		}
		candles = append(candles, c)
	}

	return candles, nil
}

func candleFromKline(k *binance.Kline) (domain.Candle, error) {
	var (
		c   = domain.Candle{OpenTime: time.UnixMilli(k.OpenTime).UTC()}
		err error
	)
	fields := []struct {
		raw string
		dst *float64
	}{
		{k.Open, &c.Open},
		{k.High, &c.High},
		{k.Low, &c.Low},
		{k.Close, &c.Close},
		{k.Volume, &c.Volume},
	}
	for _, f := range fields {
		if *f.dst, err = strconv.ParseFloat(f.raw, 64); err != nil {
			return domain.Candle{}, err
		}
	}
	return c, nil
}

func (b *Binance) FetchBalance(ctx context.Context) (Balances, error) {
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, classify("fetch balance", err)
	}

	balances := make(Balances, len(account.Balances))
	for _, bal := range account.Balances {
		free, err := decimal.NewFromString(bal.Free)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s balance", bal.Asset)
		}
		balances[bal.Asset] = free
	}

	return balances, nil
}

func (b *Binance) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	sym, err := symbolOf(symbol)
	if err != nil {
		return Ticker{}, err
	}

	books, err := b.client.NewListBookTickersService().Symbol(sym).Do(ctx)
	if err != nil {
		return Ticker{}, classify("fetch book ticker", err)
	}
	prices, err := b.client.NewListPricesService().Symbol(sym).Do(ctx)
	if err != nil {
		return Ticker{}, classify("fetch price", err)
	}

	var t Ticker
	if len(books) > 0 {
		t.Bid = parseOrZero(books[0].BidPrice)
		t.Ask = parseOrZero(books[0].AskPrice)
	}
	if len(prices) > 0 {
		t.Last = parseOrZero(prices[0].Price)
	}

	return t, nil
}

const (
	// myTradesWindow is the widest startTime/endTime span accepted by the myTrades endpoint.
	myTradesWindow = 24 * time.Hour
	myTradesLimit  = 1000
)

// FetchMyTrades returns the account trades of symbol from since until now, oldest first.
// The range is walked in 24h windows and every full page is followed by the next one.
func (b *Binance) FetchMyTrades(ctx context.Context, symbol string, since time.Time) ([]Trade, error) {
	sym, err := symbolOf(symbol)
	if err != nil {
		return nil, err
	}

	var trades []Trade
	now := time.Now()
	for start := since; start.Before(now); {
		end := start.Add(myTradesWindow - time.Millisecond)
		if end.After(now) {
			end = now
		}

		raw, err := b.client.NewListTradesService().
			Symbol(sym).
			StartTime(start.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(myTradesLimit).
			Do(ctx)
		if err != nil {
			return nil, classify("fetch my trades", err)
		}

		for _, t := range raw {
			trades = append(trades, Trade{
				Price:  parseOrZero(t.Price),
				Amount: parseOrZero(t.Quantity),
				Cost:   parseOrZero(t.QuoteQuantity),
				Buy:    t.IsBuyer,
				Time:   time.UnixMilli(t.Time).UTC(),
			})
		}

		if len(raw) == myTradesLimit {
			// page inside the same window
			start = time.UnixMilli(raw[len(raw)-1].Time + 1)
			continue
		}
		start = end.Add(time.Millisecond)
	}

	return trades, nil
}

func (b *Binance) CreateMarketOrder(ctx context.Context, symbol string, side OrderSide, amount decimal.Decimal, clientOrderID string) (Order, error) {
	sym, err := symbolOf(symbol)
	if err != nil {
		return Order{}, err
	}

	sideType := binance.SideTypeBuy
	if side == SideSell {
		sideType = binance.SideTypeSell
	}

	resp, err := b.client.NewCreateOrderService().Symbol(sym).
		Side(sideType).Type(binance.OrderTypeMarket).
		Quantity(amount.String()).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return Order{}, classify("create order", err)
	}

	return Order{
		ID:            strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Filled:        parseOrZero(resp.ExecutedQuantity),
		Cost:          parseOrZero(resp.CummulativeQuoteQuantity),
	}, nil
}

func (b *Binance) FetchOrder(ctx context.Context, symbol, clientOrderID string) (Order, error) {
	sym, err := symbolOf(symbol)
	if err != nil {
		return Order{}, err
	}

	resp, err := b.client.NewGetOrderService().Symbol(sym).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == codeNoSuchOrder {
			return Order{}, errors.Wrapf(ErrOrderNotFound, "client order id %s", clientOrderID)
		}
		return Order{}, classify("fetch order", err)
	}

	return Order{
		ID:            strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Filled:        parseOrZero(resp.ExecutedQuantity),
		Cost:          parseOrZero(resp.CummulativeQuoteQuantity),
	}, nil
}

// AmountToPrecision floors amount to the lot step of the symbol.
func (b *Binance) AmountToPrecision(ctx context.Context, symbol string, amount decimal.Decimal) (decimal.Decimal, error) {
	m, err := b.Market(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return FloorToStep(amount, m.StepSize), nil
}

// FloorToStep floors amount to a multiple of step. A non-positive step leaves amount unchanged.
func FloorToStep(amount, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return amount
	}
	return amount.Div(step).Floor().Mul(step)
}

func (b *Binance) Market(ctx context.Context, symbol string) (Market, error) {
	markets, err := b.LoadMarkets(ctx)
	if err != nil {
		return Market{}, err
	}

	m, ok := markets[symbol]
	if !ok {
		return Market{}, errors.Wrap(ErrUnknownSymbol, symbol)
	}
	return m, nil
}

// LoadMarkets fetches exchange info once and caches it.
func (b *Binance) LoadMarkets(ctx context.Context) (map[string]Market, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.markets != nil {
		return b.markets, nil
	}

	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, classify("load markets", err)
	}

	markets := make(map[string]Market, len(info.Symbols))
	for _, s := range info.Symbols {
		m := Market{
			Symbol: s.BaseAsset + "/" + s.QuoteAsset,
			Base:   s.BaseAsset,
			Quote:  s.QuoteAsset,
		}
		applyFilters(&m, s.Filters)
		markets[m.Symbol] = m
	}

	b.markets = markets
	b.l.Info("Markets loaded", zap.Int("count", len(markets)))

	return markets, nil
}

func applyFilters(m *Market, filters []map[string]interface{}) {
	for _, f := range filters {
		switch f["filterType"] {
		case "LOT_SIZE":
			m.MinAmount = parseOrZero(fmt.Sprint(f["minQty"]))
			m.StepSize = parseOrZero(fmt.Sprint(f["stepSize"]))
		case "MIN_NOTIONAL", "NOTIONAL":
			m.MinCost = parseOrZero(fmt.Sprint(f["minNotional"]))
		}
	}
}

func parseOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
