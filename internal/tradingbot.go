package internal

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/spotengine/config"
	"github.com/vadiminshakov/spotengine/internal/domain"
	"github.com/vadiminshakov/spotengine/internal/metrics"
	"github.com/vadiminshakov/spotengine/internal/notify"
	"github.com/vadiminshakov/spotengine/internal/progress"
	"github.com/vadiminshakov/spotengine/internal/services/exchange"
	"github.com/vadiminshakov/spotengine/internal/services/reconcile"
	"github.com/vadiminshakov/spotengine/internal/services/risk"
	"github.com/vadiminshakov/spotengine/internal/services/scheduler"
	"github.com/vadiminshakov/spotengine/internal/services/signals"
	"github.com/vadiminshakov/spotengine/internal/services/trader"
	"github.com/vadiminshakov/spotengine/pkg/indicators"
)

// CandleLimit is the number of candles fetched per pair.
const CandleLimit = 300

// StateStore loads and persists the ledger.
type StateStore interface {
	Load() (*domain.Ledger, error)
	Save(l *domain.Ledger) error
}

// TradeJournal records executed trades.
type TradeJournal interface {
	Append(event domain.TradeEvent) error
}

// Options are the collaborators of a TradingBot.
type Options struct {
	Services Services
	Store    StateStore
	// Journal is optional.
	Journal   TradeJournal
	Notifier  notify.Notifier
	Clock     progress.Clock
	Reporter  *progress.Reporter
	Heartbeat *progress.Heartbeat
}

type evaluateFunc func(candles domain.Candles, profile signals.Profile, params signals.Params) signals.Result

// TradingBot runs the candle-driven decision cycle over every configured pair.
type TradingBot struct {
	Config config.Config

	l          *zap.Logger
	ex         exchange.Exchange
	placer     trader.Placer
	reconciler *reconcile.Reconciler
	pipeline   *risk.Pipeline
	sizer      *risk.Sizer
	breaker    *risk.Breaker
	scheduler  *scheduler.Scheduler
	store      StateStore
	journal    TradeJournal
	notifier   notify.Notifier
	clock      progress.Clock
	reporter   *progress.Reporter
	heartbeat  *progress.Heartbeat

	ledger   *domain.Ledger
	evaluate evaluateFunc
	sleep    func(ctx context.Context, d time.Duration) error
}

// cycle is the per-cycle scratch state.
type cycle struct {
	free      decimal.Decimal
	localFree decimal.Decimal
	keep      []risk.CandleRef
}

// NewTradingBot creates the engine and loads the persisted ledger.
func NewTradingBot(conf config.Config, opts Options, logger *zap.Logger) (*TradingBot, error) {
	if opts.Services.Exchange == nil || opts.Services.Placer == nil || opts.Services.Balances == nil {
		return nil, errors.New("exchange services are required")
	}
	if opts.Store == nil {
		return nil, errors.New("state store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Clock == nil {
		opts.Clock = progress.SystemClock{}
	}
	if opts.Reporter == nil {
		opts.Reporter = progress.NewReporter(opts.Clock)
	}
	if opts.Heartbeat == nil {
		opts.Heartbeat = progress.NewHeartbeat(conf.HeartbeatFile, conf.HeartbeatInterval, opts.Clock, logger)
	}

	minBuy := decimal.NewFromFloat(conf.MinBuyQuote)

	b := &TradingBot{
		Config: conf,
		l:      logger,
		ex:     opts.Services.Exchange,
		placer: opts.Services.Placer,
		reconciler: reconcile.New(opts.Services.Balances, opts.Services.Exchange, reconcile.Settings{
			AddTolerance:   conf.Manual.AddTolerance,
			UseVWAP:        conf.Manual.UseVWAP,
			VWAPLookback:   time.Duration(conf.Manual.VWAPLookbackDays) * 24 * time.Hour,
			EmptyThreshold: conf.Manual.EmptyThreshold,
		}),
		pipeline: risk.NewPipeline(risk.Settings{
			Tables:        conf.Tables,
			FeeTakerPct:   conf.FeeTakerPct,
			MaxBuysPer24h: conf.MaxBuysPer24h,
			MinBuy:        minBuy,
		}),
		sizer: risk.NewSizer(risk.SizingSettings{
			RiskPerTradePct: conf.RiskPerTradePct,
			ATRMultSL:       conf.ATRMultSL,
			RiskFraction:    conf.DefaultRiskFraction,
			MinBuy:          minBuy,
		}),
		breaker:   risk.NewBreaker(conf.Breaker),
		scheduler: scheduler.New(timeframes(conf.Pairs), opts.Clock.Now()),
		store:     opts.Store,
		journal:   opts.Journal,
		notifier:  opts.Notifier,
		clock:     opts.Clock,
		reporter:  opts.Reporter,
		heartbeat: opts.Heartbeat,
		evaluate:  signals.Evaluate,
		sleep:     sleepCtx,
	}

	ledger, err := opts.Store.Load()
	if err != nil {
		logger.Error("Failed to load state, starting empty", zap.Error(err))
		ledger = domain.NewLedger()
	}
	b.ledger = ledger

	if sim := opts.Services.Simulated; sim != nil {
		seedSimulated(sim, ledger)
	}

	return b, nil
}

// Ledger returns the in-memory ledger.
func (b *TradingBot) Ledger() *domain.Ledger {
	return b.ledger
}

// Start validates the configured symbols against the exchange markets and
// announces the start.
func (b *TradingBot) Start(ctx context.Context) error {
	b.markProgress()
	markets, err := b.ex.LoadMarkets(ctx)
	if err != nil {
		return errors.Wrap(err, "load markets")
	}
	b.markProgress()

	for _, pc := range b.Config.Pairs {
		if _, ok := markets[pc.Pair.String()]; !ok {
			return errors.Wrapf(exchange.ErrUnknownSymbol, "pair %s", pc.Pair.String())
		}
	}

	for _, pc := range b.Config.Pairs {
		b.l.Info("Pair configured",
			zap.String("symbol", pc.Pair.String()),
			zap.String("tf", pc.Timeframe.String()),
			zap.String("alloc", pc.Allocation.String()),
			zap.String("avg", string(pc.Smoothing)),
			zap.Int("avg_period", pc.SmoothPeriod),
			zap.Int("rsi", pc.RSIPeriod),
			zap.String("signal", string(pc.Timing)),
			zap.Float64("slip", b.Config.SlippageFor(pc)))
	}
	b.l.Info("Engine started",
		zap.String("mode", modeName(b.Config.DryRun)),
		zap.Int("pairs", len(b.Config.Pairs)),
		zap.Duration("max_stale", b.Config.StaleLimit()))

	b.notifier.Notify(ctx, notify.EventStart, notify.Fields{
		"message":     "Engine started",
		"mode":        modeName(b.Config.DryRun),
		"pairs_count": len(b.Config.Pairs),
		"min_tf":      b.Config.MinTimeframe().Minutes(),
		"ts":          b.clock.Now().Unix(),
	})

	return nil
}

// Run loops until ctx is cancelled, running a cycle whenever a timeframe is due.
func (b *TradingBot) Run(ctx context.Context) error {
	b.heartbeat.Touch(true)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.heartbeat.Touch(false)

		now := b.clock.Now()
		due := b.scheduler.Due(now)
		if len(due) == 0 {
			wait := b.scheduler.SleepFor(now)
			b.l.Debug("No timeframe due", zap.Duration("wake_in", wait), zap.Time("next_run", b.scheduler.NextRun()))
			if err := b.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		b.RunCycle(ctx, due)
	}
}

// RunCycle processes every pair of the due timeframes once.
func (b *TradingBot) RunCycle(ctx context.Context, due []domain.Timeframe) {
	start := b.clock.Now()
	names := make([]string, len(due))
	isDue := make(map[domain.Timeframe]bool, len(due))
	for i, tf := range due {
		names[i] = tf.String()
		isDue[tf] = true
	}
	b.l.Info("Cycle started", zap.Strings("due", names), zap.Time("now", start))
	b.markProgress()

	b.refreshBreaker(ctx)

	c := &cycle{free: b.quoteBalance(ctx)}
	c.localFree = c.free
	b.checkAllocations(isDue, c.free)

	for _, pc := range b.Config.Pairs {
		if !isDue[pc.Timeframe] {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		b.runPair(ctx, pc, c)

		if err := b.sleep(ctx, b.Config.PairPause); err != nil {
			break
		}
	}

	b.pipeline.Counter().Retain(c.keep)
	b.save()
	b.scheduler.Advance(due, b.clock.Now())

	metrics.CycleDuration.Observe(b.clock.Now().Sub(start).Seconds())
}

func (b *TradingBot) refreshBreaker(ctx context.Context) {
	defer func() {
		metrics.SetBreaker(b.ledger.BreakerActive(b.clock.Now()))
	}()

	if !b.breaker.Enabled() {
		return
	}

	cfg := b.Config.Breaker
	candles, err := b.ex.FetchOHLCV(ctx, cfg.Symbol, cfg.Timeframe, risk.BreakerCandles)
	if err != nil {
		b.l.Warn("Circuit breaker refresh failed", zap.Error(err))
		return
	}

	if change, tripped := b.breaker.Check(b.ledger, candles, b.clock.Now()); tripped {
		b.l.Warn("Circuit breaker tripped, buys suspended",
			zap.String("symbol", cfg.Symbol),
			zap.Float64("change_pct", change),
			zap.Float64("drop_pct", cfg.DropPct),
			zap.Int("cooldown_min", cfg.CooldownMin))
	}
}

// quoteBalance returns the free quote balance, zero when the fetch fails.
func (b *TradingBot) quoteBalance(ctx context.Context) decimal.Decimal {
	balances, err := b.ex.FetchBalance(ctx)
	if err != nil {
		b.l.Warn("Quote balance fetch failed", zap.Error(err))
		return decimal.Zero
	}
	b.markProgress()

	free := balances.Free(b.Config.QuoteAsset)
	b.l.Info("Quote balance", zap.String("asset", b.Config.QuoteAsset), zap.String("free", free.StringFixed(2)))

	return free
}

func (b *TradingBot) checkAllocations(isDue map[domain.Timeframe]bool, free decimal.Decimal) {
	sum := decimal.Zero
	for _, pc := range b.Config.Pairs {
		if isDue[pc.Timeframe] {
			sum = sum.Add(pc.Allocation.Resolve(free))
		}
	}
	if sum.GreaterThan(free) {
		b.l.Warn("Due allocations exceed free balance",
			zap.String("allocations", sum.StringFixed(2)), zap.String("free", free.StringFixed(2)))
	}
}

func (b *TradingBot) runPair(ctx context.Context, pc domain.PairConfig, c *cycle) {
	pl := b.l.With(zap.String("pair", pc.Key().String()))

	err := b.safeProcess(ctx, pl, pc, c)
	if err == nil {
		return
	}

	metrics.PairErrors.Inc()
	if exchange.IsExchangeError(err) {
		pl.Warn("Exchange error, pair skipped", zap.Error(err))
		return
	}
	pl.Error("Pair processing failed", zap.Error(err))
}

func (b *TradingBot) safeProcess(ctx context.Context, pl *zap.Logger, pc domain.PairConfig, c *cycle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()

	return b.processPair(ctx, pl, pc, c)
}

func (b *TradingBot) processPair(ctx context.Context, pl *zap.Logger, pc domain.PairConfig, c *cycle) error {
	key := pc.Key()
	symbol := pc.Pair.String()
	tf := pc.Timeframe

	candles, err := b.ex.FetchOHLCV(ctx, symbol, tf, CandleLimit)
	if err != nil {
		return err
	}
	last, ok := candles.Last()
	if !ok {
		pl.Warn("No candles returned, pair skipped")
		return nil
	}

	now := b.clock.Now()
	staleness := now.Sub(last.OpenTime)
	if staleness < 0 {
		staleness = -staleness
	}
	maxStale := time.Duration(b.Config.Tables.MaxStaleMinutes.Get(tf) * float64(time.Minute))
	if staleness > maxStale {
		pl.Warn("Candles too old, pair skipped", zap.Duration("staleness", staleness), zap.Duration("max", maxStale))
		return nil
	}

	if b.Config.MinAvgDollarVol > 0 {
		if avg := indicators.AverageDollarVolume(candles, b.Config.VolLookback); avg < b.Config.MinAvgDollarVol {
			pl.Info("Liquidity below minimum, pair skipped",
				zap.Float64("avg_dollar_vol", avg), zap.Float64("min", b.Config.MinAvgDollarVol))
			return nil
		}
	}

	profile := signals.ProfileFor(tf)
	res := b.evaluate(candles, profile, signals.ParamsFor(pc))
	lastClose := last.Close

	ref := risk.CandleRef{Key: key, CandleTS: candles[res.Index].OpenTime}
	c.keep = append(c.keep, ref)

	rec := b.ledger.Record(key)
	if rr := b.reconciler.Reconcile(ctx, pl, symbol, rec, lastClose, now); rr.Changed() {
		b.save()
	}

	verdict := b.pipeline.Apply(pl, b.ledger, rec, risk.Input{
		Key:       key,
		Action:    res.Action,
		RSI:       res.RSI,
		RSIAvg:    res.RSIAvg,
		Close:     lastClose,
		Candle:    ref,
		LocalFree: c.localFree,
		Now:       now,
	})
	if verdict.Exit != nil && verdict.Exit.JustArmed {
		b.save()
	}
	if verdict.Blocked != risk.GateNone {
		metrics.GateRejections.WithLabelValues(string(verdict.Blocked)).Inc()
	}
	metrics.Decisions.WithLabelValues(verdict.Action.String()).Inc()

	reason := "OK"
	if reasons := res.RefusalReasons(profile, lastClose); len(reasons) > 0 {
		reason = strings.Join(reasons, ",")
	}
	pl.Info("Signal evaluated",
		zap.Float64("close", lastClose),
		zap.Float64("rsi", res.RSI),
		zap.Float64("rsi_avg", res.RSIAvg),
		zap.String("trend", string(res.Trend)),
		zap.Float64("donchian_high", res.DonchianHigh),
		zap.Float64("donchian_low", res.DonchianLow),
		zap.Bool("vol_ok", res.VolumeOK),
		zap.Stringer("signal", res.Action),
		zap.Stringer("action", verdict.Action),
		zap.String("reason", reason))

	switch verdict.Action {
	case domain.ActionBuy:
		return b.buy(ctx, pl, pc, rec, ref, c, candles, lastClose, now)
	case domain.ActionSell:
		return b.sell(ctx, pl, pc, rec, ref, verdict, lastClose, now)
	default:
		pl.Info("No signal")
		return nil
	}
}

func (b *TradingBot) buy(
	ctx context.Context,
	pl *zap.Logger,
	pc domain.PairConfig,
	rec *domain.PositionRecord,
	ref risk.CandleRef,
	c *cycle,
	candles domain.Candles,
	lastClose float64,
	now time.Time,
) error {
	req := risk.SizeRequest{
		Allocation: pc.Allocation,
		Free:       c.free,
		LocalFree:  c.localFree,
		StopLoss:   b.Config.Tables.StopLoss.Get(pc.Timeframe),
		Close:      lastClose,
	}
	if b.Config.RiskPerTradePct > 0 {
		req.ATR = indicators.ATR(candles, b.Config.ATRLookback)
	}

	size := b.sizer.Size(req)
	if size.TooSmall {
		pl.Info("Buy amount too small, skipped",
			zap.String("amount", size.Amount.StringFixed(2)), zap.String("min", b.sizer.MinBuy().String()))
		return nil
	}

	slip := b.Config.SlippageFor(pc)
	pl.Info("Buying", zap.String("quote", size.Amount.StringFixed(2)), zap.Float64("slip_limit_pct", slip),
		zap.Float64("sl_est", size.StopLossEst))

	res, err := b.placer.Buy(ctx, trader.BuyRequest{
		Symbol:      pc.Pair.String(),
		Quote:       size.Amount,
		SlippagePct: slip,
		Close:       lastClose,
	})
	if err != nil {
		return errors.Wrap(err, "buy")
	}
	if res.Skipped {
		pl.Info("Buy skipped", zap.String("reason", string(res.Reason)), zap.Float64("pre_slip_pct", res.PreSlipPct))
		metrics.SkippedOrders.WithLabelValues(string(res.Reason)).Inc()
		return nil
	}

	b.pipeline.Counter().Increment(ref)
	rec.OpenLong(lastClose, now)
	qty, qtyErr := b.reconciler.BaseFree(ctx, pc.Pair.String(), rec)
	if qtyErr != nil {
		pl.Warn("Base balance fetch after buy failed, quantity will be observed next cycle", zap.Error(qtyErr))
		rec.ForgetQty()
	} else {
		rec.ObserveQty(qty)
	}
	c.localFree = decimal.Max(decimal.Zero, c.localFree.Sub(size.Amount))
	b.save()

	event := b.tradeEvent(pc, domain.ActionBuy, lastClose, res, "", now)
	b.record(pl, event)

	name := notify.EventBuy
	if res.Simulated {
		name = notify.EventBuyDry
	}
	b.notifier.Notify(ctx, name, notify.Fields{
		"symbol": pc.Pair.String(),
		"tf":     pc.Timeframe.String(),
		"price":  lastClose,
		"quote":  size.Amount.InexactFloat64(),
	})

	return nil
}

func (b *TradingBot) sell(
	ctx context.Context,
	pl *zap.Logger,
	pc domain.PairConfig,
	rec *domain.PositionRecord,
	ref risk.CandleRef,
	verdict risk.Verdict,
	lastClose float64,
	now time.Time,
) error {
	reason := "signal"
	if verdict.Exit != nil && verdict.Exit.Reason != risk.ExitNone {
		reason = string(verdict.Exit.Reason)
	}
	pl.Info("Selling position", zap.String("reason", reason))

	res, err := b.placer.SellAll(ctx, trader.SellRequest{
		Symbol:      pc.Pair.String(),
		SlippagePct: b.Config.SellSlippage(),
		Close:       lastClose,
	})
	if err != nil {
		return errors.Wrap(err, "sell")
	}
	if res.Skipped {
		pl.Info("Sell skipped", zap.String("reason", string(res.Reason)), zap.Float64("pre_slip_pct", res.PreSlipPct))
		metrics.SkippedOrders.WithLabelValues(string(res.Reason)).Inc()
		return nil
	}

	b.pipeline.Counter().Increment(ref)
	rec.CloseLong(now)
	b.save()

	event := b.tradeEvent(pc, domain.ActionSell, lastClose, res, reason, now)
	b.record(pl, event)

	name := notify.EventSell
	if res.Simulated {
		name = notify.EventSellDry
	}
	b.notifier.Notify(ctx, name, notify.Fields{
		"symbol": pc.Pair.String(),
		"tf":     pc.Timeframe.String(),
		"price":  lastClose,
		"reason": reason,
	})

	return nil
}

func (b *TradingBot) tradeEvent(pc domain.PairConfig, action domain.Action, lastClose float64, res trader.OrderResult, reason string, now time.Time) domain.TradeEvent {
	return domain.TradeEvent{
		ID:        uuid.NewString(),
		Key:       pc.Key().String(),
		Action:    action,
		Price:     lastClose,
		Quote:     res.Quote,
		OrderID:   res.Order.ID,
		Reason:    reason,
		Simulated: res.Simulated,
		Time:      now.UTC(),
	}
}

func (b *TradingBot) record(pl *zap.Logger, event domain.TradeEvent) {
	metrics.Orders.WithLabelValues(metrics.Mode(event.Simulated), event.Action.String()).Inc()
	pl.Info("Trade executed", zap.Stringer("trade", event))

	if b.journal == nil {
		return
	}
	if err := b.journal.Append(event); err != nil {
		pl.Warn("Failed to journal trade", zap.Error(err))
	}
}

func (b *TradingBot) save() {
	if err := b.store.Save(b.ledger); err != nil {
		b.l.Warn("Failed to save state", zap.Error(err))
	}
}

func (b *TradingBot) markProgress() {
	metrics.MarkProgress(b.reporter.Note())
}

// seedSimulated restores the dry-run wallet from the recorded quantities of long keys.
func seedSimulated(sim *trader.Simulated, ledger *domain.Ledger) {
	for _, key := range ledger.Keys() {
		rec, _ := ledger.Lookup(key)
		if !rec.IsLong() {
			continue
		}
		if qty, ok := rec.ObservedQty(); ok && qty > 0 {
			sim.Seed(key.Symbol, decimal.NewFromFloat(qty))
		}
	}
}

func timeframes(pairs []domain.PairConfig) []domain.Timeframe {
	seen := make(map[domain.Timeframe]bool)
	var tfs []domain.Timeframe
	for _, pc := range pairs {
		if !seen[pc.Timeframe] {
			seen[pc.Timeframe] = true
			tfs = append(tfs, pc.Timeframe)
		}
	}
	return tfs
}

func modeName(dryRun bool) string {
	if dryRun {
		return "TEST"
	}
	return "LIVE"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
