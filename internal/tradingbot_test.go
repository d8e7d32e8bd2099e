package internal

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/spotengine/config"
	"github.com/vadiminshakov/spotengine/internal/domain"
	"github.com/vadiminshakov/spotengine/internal/notify"
	"github.com/vadiminshakov/spotengine/internal/progress"
	"github.com/vadiminshakov/spotengine/internal/services/exchange"
	"github.com/vadiminshakov/spotengine/internal/services/risk"
	"github.com/vadiminshakov/spotengine/internal/services/signals"
	"github.com/vadiminshakov/spotengine/internal/services/trader"
	"github.com/vadiminshakov/spotengine/internal/storage/statestore"
	exchangeMock "github.com/vadiminshakov/spotengine/mocks/exchange"
)

var testNow = time.Date(2024, 3, 1, 12, 2, 30, 0, time.UTC)

type recordedEvent struct {
	name   string
	fields notify.Fields
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) Notify(_ context.Context, event string, fields notify.Fields) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{name: event, fields: fields})
}

func (n *recordingNotifier) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.name)
	}
	return out
}

type memJournal struct {
	events []domain.TradeEvent
}

func (j *memJournal) Append(event domain.TradeEvent) error {
	j.events = append(j.events, event)
	return nil
}

type harness struct {
	bot      *TradingBot
	store    *statestore.Store
	notifier *recordingNotifier
	journal  *memJournal
	services Services
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func pairConfig(t *testing.T, raw string) domain.PairConfig {
	t.Helper()
	pcs, err := config.ParsePairs(raw)
	require.NoError(t, err)
	require.Len(t, pcs, 1)
	return pcs[0]
}

func testConfig(dryRun bool, pairs ...domain.PairConfig) config.Config {
	conf := config.Defaults()
	conf.DryRun = dryRun
	conf.Pairs = pairs
	conf.Breaker.DropPct = 0
	conf.HeartbeatFile = ""
	conf.RetryAttempts = 0
	conf.PairPause = 0
	return conf
}

// flatCandles ends with the candle forming at testNow.
func flatCandles(n int, tf time.Duration, price float64) domain.Candles {
	lastOpen := testNow.Truncate(tf)
	out := make(domain.Candles, n)
	for i := range out {
		out[i] = domain.Candle{
			OpenTime: lastOpen.Add(-time.Duration(n-1-i) * tf),
			Open:     price,
			High:     price,
			Low:      price,
			Close:    price,
			Volume:   1000,
		}
	}
	return out
}

func forceSignal(action domain.Action, rsi, rsiAvg float64) evaluateFunc {
	return func(candles domain.Candles, _ signals.Profile, _ signals.Params) signals.Result {
		idx := len(candles) - 2
		return signals.Result{
			RSI:          rsi,
			RSIAvg:       rsiAvg,
			Trend:        signals.TrendBull,
			DonchianHigh: math.NaN(),
			DonchianLow:  math.NaN(),
			VolumeOK:     true,
			Index:        idx,
			Close:        candles[idx].Close,
			Action:       action,
		}
	}
}

func newHarness(t *testing.T, conf config.Config, ex exchange.Exchange, seed func(l *domain.Ledger)) *harness {
	t.Helper()

	dir := t.TempDir()
	store := statestore.New(filepath.Join(dir, "state.json"), filepath.Join(dir, "backups"), 5, nil)
	if seed != nil {
		l := domain.NewLedger()
		seed(l)
		require.NoError(t, store.Save(l))
	}

	services, err := NewServices(conf, ex, zap.NewNop())
	require.NoError(t, err)

	h := &harness{store: store, notifier: &recordingNotifier{}, journal: &memJournal{}, services: services}
	h.bot, err = NewTradingBot(conf, Options{
		Services: services,
		Store:    store,
		Journal:  h.journal,
		Notifier: h.notifier,
		Clock:    progress.NewManualClock(testNow),
	}, zap.NewNop())
	require.NoError(t, err)
	h.bot.sleep = func(context.Context, time.Duration) error { return nil }

	return h
}

func (h *harness) reload(t *testing.T) *domain.Ledger {
	t.Helper()
	l, err := h.store.Load()
	require.NoError(t, err)
	return l
}

func TestTradingBot_BuyPercentAllocation(t *testing.T) {
	pc := pairConfig(t, "BTC/USDT@5m=10%")
	ex := exchangeMock.NewExchange(t)

	market := exchange.Market{Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT", MinAmount: dec("0.0001"), MinCost: dec("10")}
	ex.On("FetchBalance", mock.Anything).Return(exchange.Balances{"USDT": dec("1000")}, nil).Times(3)
	ex.On("FetchBalance", mock.Anything).Return(exchange.Balances{"USDT": dec("900"), "BTC": dec("0.002")}, nil).Once()
	ex.On("FetchOHLCV", mock.Anything, "BTC/USDT", domain.Timeframe("5m"), CandleLimit).
		Return(flatCandles(50, 5*time.Minute, 50000), nil).Once()
	ex.On("Market", mock.Anything, "BTC/USDT").Return(market, nil)
	ex.On("FetchTicker", mock.Anything, "BTC/USDT").
		Return(exchange.Ticker{Last: dec("50000"), Bid: dec("49990"), Ask: dec("50000")}, nil).Once()
	ex.On("AmountToPrecision", mock.Anything, "BTC/USDT", mock.Anything).
		Return(func(_ context.Context, _ string, amount decimal.Decimal) decimal.Decimal { return amount }, nil).Once()
	ex.On("CreateMarketOrder", mock.Anything, "BTC/USDT", exchange.SideBuy,
		mock.MatchedBy(func(amount decimal.Decimal) bool { return amount.Equal(dec("0.002")) }),
		mock.AnythingOfType("string")).
		Return(exchange.Order{ID: "1", Filled: dec("0.002"), Cost: dec("100")}, nil).Once()

	h := newHarness(t, testConfig(false, pc), ex, nil)
	h.bot.evaluate = forceSignal(domain.ActionBuy, 60, 50)

	h.bot.RunCycle(context.Background(), []domain.Timeframe{"5m"})

	rec, ok := h.bot.Ledger().Lookup(pc.Key())
	require.True(t, ok)
	assert.True(t, rec.IsLong())
	assert.Equal(t, &domain.OpenPosition{EntryPrice: 50000, PeakPrice: 50000}, rec.Open)
	qty, ok := rec.ObservedQty()
	require.True(t, ok)
	assert.Equal(t, 0.002, qty)
	assert.Equal(t, []float64{domain.EpochSeconds(testNow)}, rec.BuyTimestamps)

	saved, ok := h.reload(t).Lookup(pc.Key())
	require.True(t, ok)
	assert.True(t, saved.IsLong())

	require.Len(t, h.journal.events, 1)
	event := h.journal.events[0]
	assert.Equal(t, domain.ActionBuy, event.Action)
	assert.True(t, event.Quote.Equal(dec("100")), event.Quote.String())
	assert.Equal(t, "1", event.OrderID)
	assert.False(t, event.Simulated)

	assert.Equal(t, []string{notify.EventBuy}, h.notifier.names())
	assert.Equal(t, 100.0, h.notifier.events[0].fields["quote"])
}

func TestTradingBot_BuyKeepsQtyUnknownWhenBalanceFetchFails(t *testing.T) {
	pc := pairConfig(t, "BTC/USDT@5m=10%")
	ex := exchangeMock.NewExchange(t)

	market := exchange.Market{Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT", MinAmount: dec("0.0001"), MinCost: dec("10")}
	ex.On("FetchBalance", mock.Anything).Return(exchange.Balances{"USDT": dec("1000")}, nil).Times(3)
	ex.On("FetchBalance", mock.Anything).Return(exchange.Balances(nil), assert.AnError).Once()
	ex.On("FetchOHLCV", mock.Anything, "BTC/USDT", domain.Timeframe("5m"), CandleLimit).
		Return(flatCandles(50, 5*time.Minute, 50000), nil).Once()
	ex.On("Market", mock.Anything, "BTC/USDT").Return(market, nil)
	ex.On("FetchTicker", mock.Anything, "BTC/USDT").
		Return(exchange.Ticker{Last: dec("50000"), Bid: dec("49990"), Ask: dec("50000")}, nil).Once()
	ex.On("AmountToPrecision", mock.Anything, "BTC/USDT", mock.Anything).
		Return(func(_ context.Context, _ string, amount decimal.Decimal) decimal.Decimal { return amount }, nil).Once()
	ex.On("CreateMarketOrder", mock.Anything, "BTC/USDT", exchange.SideBuy, mock.Anything, mock.AnythingOfType("string")).
		Return(exchange.Order{ID: "1", Filled: dec("0.002"), Cost: dec("100")}, nil).Once()

	h := newHarness(t, testConfig(false, pc), ex, nil)
	h.bot.evaluate = forceSignal(domain.ActionBuy, 60, 50)

	h.bot.RunCycle(context.Background(), []domain.Timeframe{"5m"})

	for _, l := range []*domain.Ledger{h.bot.Ledger(), h.reload(t)} {
		rec, ok := l.Lookup(pc.Key())
		require.True(t, ok)
		assert.True(t, rec.IsLong())
		_, known := rec.ObservedQty()
		assert.False(t, known)
	}
	require.Len(t, h.journal.events, 1)
}

func TestTradingBot_StopLossDryRun(t *testing.T) {
	pc := pairConfig(t, "BTC/USDT@5m=50")
	ex := exchangeMock.NewExchange(t)
	ex.On("FetchBalance", mock.Anything).Return(exchange.Balances{"USDT": dec("1000")}, nil).Once()
	ex.On("FetchOHLCV", mock.Anything, "BTC/USDT", domain.Timeframe("5m"), CandleLimit).
		Return(flatCandles(50, 5*time.Minute, 96), nil).Once()

	h := newHarness(t, testConfig(true, pc), ex, func(l *domain.Ledger) {
		rec := l.Record(pc.Key())
		rec.OpenLong(100, testNow.Add(-time.Hour))
		rec.ObserveQty(1)
	})
	h.bot.evaluate = forceSignal(domain.ActionNone, 50, 50)
	require.True(t, h.services.Simulated.Holding("BTC/USDT").Equal(decimal.NewFromInt(1)))

	h.bot.RunCycle(context.Background(), []domain.Timeframe{"5m"})

	rec, _ := h.bot.Ledger().Lookup(pc.Key())
	assert.Equal(t, domain.SideFlat, rec.Side)
	assert.Nil(t, rec.Open)
	assert.Nil(t, rec.BaseQty)
	assert.Equal(t, domain.EpochSeconds(testNow), rec.LastTradeTS)
	assert.True(t, h.services.Simulated.Holding("BTC/USDT").IsZero())

	require.Len(t, h.journal.events, 1)
	assert.Equal(t, "stop_loss", h.journal.events[0].Reason)
	assert.True(t, h.journal.events[0].Simulated)
	assert.True(t, h.journal.events[0].Quote.Equal(dec("96")))

	assert.Equal(t, []string{notify.EventSellDry}, h.notifier.names())

	saved, _ := h.reload(t).Lookup(pc.Key())
	assert.Equal(t, domain.SideFlat, saved.Side)
}

func TestTradingBot_DryRunSellOnFlatKeyIsSkipped(t *testing.T) {
	pc := pairConfig(t, "BTC/USDT@1h=50")
	candles := flatCandles(50, time.Hour, 100)
	ex := exchangeMock.NewExchange(t)
	ex.On("FetchBalance", mock.Anything).Return(exchange.Balances{"USDT": dec("1000")}, nil).Once()
	ex.On("FetchOHLCV", mock.Anything, "BTC/USDT", domain.Timeframe("1h"), CandleLimit).Return(candles, nil).Once()

	h := newHarness(t, testConfig(true, pc), ex, nil)
	h.bot.evaluate = forceSignal(domain.ActionSell, 40, 50)

	h.bot.RunCycle(context.Background(), []domain.Timeframe{"1h"})

	rec, ok := h.bot.Ledger().Lookup(pc.Key())
	require.True(t, ok)
	assert.NotEqual(t, domain.SideFlat, rec.Side)
	assert.Zero(t, rec.LastTradeTS)
	assert.Zero(t, h.bot.pipeline.Counter().Count(risk.CandleRef{Key: pc.Key(), CandleTS: candles[len(candles)-2].OpenTime}))
	assert.Empty(t, h.journal.events)
	assert.Empty(t, h.notifier.names())
}

func TestTradingBot_ManualSellClearsPosition(t *testing.T) {
	pc := pairConfig(t, "BTC/USDT@1h=100")
	ex := exchangeMock.NewExchange(t)
	ex.On("FetchBalance", mock.Anything).Return(exchange.Balances{"USDT": dec("1000")}, nil)
	ex.On("FetchOHLCV", mock.Anything, "BTC/USDT", domain.Timeframe("1h"), CandleLimit).
		Return(flatCandles(50, time.Hour, 100), nil).Once()
	ex.On("Market", mock.Anything, "BTC/USDT").Return(exchange.Market{Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT"}, nil)

	h := newHarness(t, testConfig(false, pc), ex, func(l *domain.Ledger) {
		rec := l.Record(pc.Key())
		rec.OpenLong(100, testNow.Add(-time.Hour))
		rec.ObserveQty(10)
	})
	h.bot.evaluate = forceSignal(domain.ActionNone, 50, 50)

	h.bot.RunCycle(context.Background(), []domain.Timeframe{"1h"})

	for _, l := range []*domain.Ledger{h.bot.Ledger(), h.reload(t)} {
		rec, ok := l.Lookup(pc.Key())
		require.True(t, ok)
		assert.Equal(t, domain.SideFlat, rec.Side)
		assert.Nil(t, rec.Open)
		assert.Nil(t, rec.BaseQty)
	}
	assert.Empty(t, h.journal.events)
	assert.Empty(t, h.notifier.names())
}

func TestTradingBot_BreakerBlocksBuys(t *testing.T) {
	pc := pairConfig(t, "ETH/USDT@5m=50")
	conf := testConfig(false, pc)
	conf.Breaker = config.BreakerConfig{Symbol: "BTC/USDT", Timeframe: "5m", WindowMin: 15, DropPct: 3, CooldownMin: 30}

	benchmark := flatCandles(200, 5*time.Minute, 100)
	benchmark[len(benchmark)-1].Close = 96

	ex := exchangeMock.NewExchange(t)
	ex.On("FetchOHLCV", mock.Anything, "BTC/USDT", domain.Timeframe("5m"), 200).Return(benchmark, nil).Once()
	ex.On("FetchBalance", mock.Anything).Return(exchange.Balances{"USDT": dec("1000")}, nil)
	ex.On("FetchOHLCV", mock.Anything, "ETH/USDT", domain.Timeframe("5m"), CandleLimit).
		Return(flatCandles(50, 5*time.Minute, 3000), nil).Once()
	ex.On("Market", mock.Anything, "ETH/USDT").Return(exchange.Market{Symbol: "ETH/USDT", Base: "ETH", Quote: "USDT"}, nil)

	h := newHarness(t, conf, ex, nil)
	h.bot.evaluate = forceSignal(domain.ActionBuy, 60, 50)

	h.bot.RunCycle(context.Background(), []domain.Timeframe{"5m"})

	until := domain.EpochSeconds(testNow.Add(30 * time.Minute))
	assert.Equal(t, until, h.bot.Ledger().BreakerUntil)
	assert.Equal(t, until, h.reload(t).BreakerUntil)

	rec, ok := h.bot.Ledger().Lookup(pc.Key())
	require.True(t, ok)
	assert.False(t, rec.IsLong())
	assert.Empty(t, h.journal.events)
}

func TestTradingBot_SkipsStaleCandles(t *testing.T) {
	pc := pairConfig(t, "BTC/USDT@5m=50")
	candles := flatCandles(50, 5*time.Minute, 100)
	for i := range candles {
		candles[i].OpenTime = candles[i].OpenTime.Add(-time.Hour)
	}

	ex := exchangeMock.NewExchange(t)
	ex.On("FetchBalance", mock.Anything).Return(exchange.Balances{"USDT": dec("1000")}, nil).Once()
	ex.On("FetchOHLCV", mock.Anything, "BTC/USDT", domain.Timeframe("5m"), CandleLimit).Return(candles, nil).Once()

	h := newHarness(t, testConfig(true, pc), ex, nil)
	evaluated := false
	h.bot.evaluate = func(c domain.Candles, p signals.Profile, params signals.Params) signals.Result {
		evaluated = true
		return forceSignal(domain.ActionNone, 50, 50)(c, p, params)
	}

	h.bot.RunCycle(context.Background(), []domain.Timeframe{"5m"})

	assert.False(t, evaluated)
	_, ok := h.bot.Ledger().Lookup(pc.Key())
	assert.False(t, ok)
}

func TestTradingBot_PairFailureIsIsolated(t *testing.T) {
	btc := pairConfig(t, "BTC/USDT@5m=50")
	eth := pairConfig(t, "ETH/USDT@5m=50")

	ex := exchangeMock.NewExchange(t)
	ex.On("FetchBalance", mock.Anything).Return(exchange.Balances{"USDT": dec("1000")}, nil).Once()
	ex.On("FetchOHLCV", mock.Anything, "BTC/USDT", domain.Timeframe("5m"), CandleLimit).
		Return(flatCandles(50, 5*time.Minute, 100), nil).Once()
	ex.On("FetchOHLCV", mock.Anything, "ETH/USDT", domain.Timeframe("5m"), CandleLimit).
		Return(flatCandles(50, 5*time.Minute, 3000), nil).Once()

	h := newHarness(t, testConfig(true, btc, eth), ex, nil)
	h.bot.evaluate = func(c domain.Candles, p signals.Profile, params signals.Params) signals.Result {
		if c[0].Close == 100 {
			panic("boom")
		}
		return forceSignal(domain.ActionNone, 50, 50)(c, p, params)
	}

	assert.NotPanics(t, func() {
		h.bot.RunCycle(context.Background(), []domain.Timeframe{"5m"})
	})

	_, ok := h.bot.Ledger().Lookup(btc.Key())
	assert.False(t, ok)
	_, ok = h.bot.Ledger().Lookup(eth.Key())
	assert.True(t, ok)
}

func TestTradingBot_RunSleepsUntilDue(t *testing.T) {
	pc := pairConfig(t, "BTC/USDT@1h=50")
	conf := testConfig(true, pc)
	conf.HeartbeatFile = filepath.Join(t.TempDir(), "heartbeat.txt")

	h := newHarness(t, conf, exchangeMock.NewExchange(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var waited time.Duration
	h.bot.sleep = func(ctx context.Context, d time.Duration) error {
		waited = d
		cancel()
		return ctx.Err()
	}

	require.ErrorIs(t, h.bot.Run(ctx), context.Canceled)
	assert.Equal(t, 30*time.Second, waited)

	_, err := os.Stat(conf.HeartbeatFile)
	assert.NoError(t, err)
}

func TestTradingBot_Start(t *testing.T) {
	pc := pairConfig(t, "BTC/USDT@15m=50")
	markets := map[string]exchange.Market{"BTC/USDT": {Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT"}}

	t.Run("announces start", func(t *testing.T) {
		ex := exchangeMock.NewExchange(t)
		ex.On("LoadMarkets", mock.Anything).Return(markets, nil).Once()

		h := newHarness(t, testConfig(true, pc), ex, nil)
		require.NoError(t, h.bot.Start(context.Background()))

		require.Equal(t, []string{notify.EventStart}, h.notifier.names())
		fields := h.notifier.events[0].fields
		assert.Equal(t, "TEST", fields["mode"])
		assert.Equal(t, 1, fields["pairs_count"])
		assert.Equal(t, 15, fields["min_tf"])
	})

	t.Run("unknown symbol", func(t *testing.T) {
		ex := exchangeMock.NewExchange(t)
		ex.On("LoadMarkets", mock.Anything).Return(markets, nil).Once()

		h := newHarness(t, testConfig(true, pairConfig(t, "DOGE/USDT@15m=50")), ex, nil)
		err := h.bot.Start(context.Background())
		require.ErrorIs(t, err, exchange.ErrUnknownSymbol)
		assert.Empty(t, h.notifier.names())
	})
}

func TestNewServices(t *testing.T) {
	conf := testConfig(false)

	_, err := NewServices(conf, "kraken", zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported client type")

	live, err := NewServices(conf, binance.NewClient("key", "secret"), zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &trader.Market{}, live.Placer)
	assert.Nil(t, live.Simulated)

	conf.DryRun = true
	dry, err := NewServices(conf, exchangeMock.NewExchange(t), zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &trader.Simulated{}, dry.Placer)
	assert.NotNil(t, dry.Simulated)
}

func TestNewTradingBot_RequiresCollaborators(t *testing.T) {
	_, err := NewTradingBot(testConfig(true), Options{}, nil)
	require.Error(t, err)
}
