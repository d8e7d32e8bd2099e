package trader

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/spotengine/internal/services/exchange"
	"go.uber.org/zap"
)

var (
	hundred = decimal.NewFromInt(100)
	// budgetShare keeps a margin below the free quote balance for fees and rounding.
	budgetShare = decimal.NewFromFloat(0.99)
)

// Market places real market orders.
type Market struct {
	ex    exchange.Exchange
	l     *zap.Logger
	newID func() string
}

// NewMarket creates a live order placer.
func NewMarket(ex exchange.Exchange, l *zap.Logger) *Market {
	return &Market{ex: ex, l: l, newID: uuid.NewString}
}

// Buy buys for req.Quote, clamped to the free quote balance.
func (m *Market) Buy(ctx context.Context, req BuyRequest) (OrderResult, error) {
	market, err := m.ex.Market(ctx, req.Symbol)
	if err != nil {
		return OrderResult{}, err
	}

	last, ask, err := m.prices(ctx, req.Symbol, func(t exchange.Ticker) decimal.Decimal { return t.Ask })
	if err != nil {
		return OrderResult{}, err
	}

	if slip, ok := exceeds(ask.Sub(last), last, req.SlippagePct); ok {
		m.l.Info("Buy skipped by anti-slippage", zap.String("symbol", req.Symbol),
			zap.Float64("pre_slip_pct", slip), zap.Float64("limit_pct", req.SlippagePct))
		res := skipped(ReasonAntiSlippage)
		res.PreSlipPct = slip
		return res, nil
	}

	balances, err := m.ex.FetchBalance(ctx)
	if err != nil {
		return OrderResult{}, err
	}
	quote := decimal.Max(decimal.Zero, decimal.Min(req.Quote, balances.Free(market.Quote).Mul(budgetShare)))
	if !quote.IsPositive() {
		return skipped(ReasonNoBudget), nil
	}

	amount, err := m.ex.AmountToPrecision(ctx, req.Symbol, quote.Div(last))
	if err != nil {
		return OrderResult{}, err
	}
	if !amount.IsPositive() {
		return skipped(ReasonAmountZero), nil
	}
	if reason, ok := belowMinimums(market, amount, last); !ok {
		return skipped(reason), nil
	}

	m.l.Info("Placing market buy", zap.String("symbol", req.Symbol),
		zap.String("amount", amount.String()), zap.String("quote", quote.StringFixed(4)),
		zap.Float64("slip_limit_pct", req.SlippagePct))

	order, err := m.ex.CreateMarketOrder(ctx, req.Symbol, exchange.SideBuy, amount, m.newID())
	if err != nil {
		return OrderResult{}, errors.Wrapf(err, "market buy %s", req.Symbol)
	}

	return OrderResult{Order: order, Price: last, Amount: amount, Quote: quote}, nil
}

// SellAll sells the whole free base balance of req.Symbol.
func (m *Market) SellAll(ctx context.Context, req SellRequest) (OrderResult, error) {
	market, err := m.ex.Market(ctx, req.Symbol)
	if err != nil {
		return OrderResult{}, err
	}

	last, bid, err := m.prices(ctx, req.Symbol, func(t exchange.Ticker) decimal.Decimal { return t.Bid })
	if err != nil {
		return OrderResult{}, err
	}

	if slip, ok := exceeds(last.Sub(bid), last, req.SlippagePct); ok {
		m.l.Info("Sell skipped by anti-slippage", zap.String("symbol", req.Symbol),
			zap.Float64("pre_slip_pct", slip), zap.Float64("limit_pct", req.SlippagePct))
		res := skipped(ReasonAntiSlippageSell)
		res.PreSlipPct = slip
		return res, nil
	}

	balances, err := m.ex.FetchBalance(ctx)
	if err != nil {
		return OrderResult{}, err
	}
	free := balances.Free(market.Base)
	if !free.IsPositive() {
		return skipped(ReasonNoBaseBalance), nil
	}

	amount, err := m.ex.AmountToPrecision(ctx, req.Symbol, free)
	if err != nil {
		return OrderResult{}, err
	}
	if reason, ok := belowMinimums(market, amount, last); !ok {
		return skipped(reason), nil
	}

	m.l.Info("Placing market sell", zap.String("symbol", req.Symbol), zap.String("amount", amount.String()))

	order, err := m.ex.CreateMarketOrder(ctx, req.Symbol, exchange.SideSell, amount, m.newID())
	if err != nil {
		return OrderResult{}, errors.Wrapf(err, "market sell %s", req.Symbol)
	}

	return OrderResult{Order: order, Price: last, Amount: amount, Quote: amount.Mul(last)}, nil
}

// prices returns the reference price and the side price, falling back to the reference.
func (m *Market) prices(ctx context.Context, symbol string, side func(exchange.Ticker) decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	ticker, err := m.ex.FetchTicker(ctx, symbol)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	last, ok := ticker.BestLast()
	if !ok {
		return decimal.Zero, decimal.Zero, errors.Errorf("ticker of %s has no usable price", symbol)
	}

	sidePrice := side(ticker)
	if !sidePrice.IsPositive() {
		sidePrice = last
	}

	return last, sidePrice, nil
}

// exceeds reports whether spread/last in percent is above limitPct. A non-positive limit disables the check.
func exceeds(spread, last decimal.Decimal, limitPct float64) (float64, bool) {
	if limitPct <= 0 || !last.IsPositive() {
		return 0, false
	}
	slip := spread.Div(last).Mul(hundred).InexactFloat64()
	return slip, slip > limitPct
}

func belowMinimums(market exchange.Market, amount, price decimal.Decimal) (SkipReason, bool) {
	if market.MinAmount.IsPositive() && amount.LessThan(market.MinAmount) {
		return ReasonAmountTooSmall, false
	}
	if market.MinCost.IsPositive() && amount.Mul(price).LessThan(market.MinCost) {
		return ReasonCostTooSmall, false
	}
	return "", true
}
