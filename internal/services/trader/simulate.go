package trader

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/spotengine/internal/domain"
	"github.com/vadiminshakov/spotengine/internal/services/exchange"
	"go.uber.org/zap"
)

// Simulated fills every order immediately at the observed close without
// contacting the exchange. It keeps a virtual base wallet per symbol so that
// simulated sells report what simulated buys acquired.
type Simulated struct {
	mu     sync.Mutex
	l      *zap.Logger
	wallet map[string]decimal.Decimal
}

// NewSimulated creates a dry-run placer.
func NewSimulated(l *zap.Logger) *Simulated {
	if l == nil {
		l = zap.NewNop()
	}
	return &Simulated{l: l, wallet: make(map[string]decimal.Decimal)}
}

func (s *Simulated) Buy(_ context.Context, req BuyRequest) (OrderResult, error) {
	if req.Close <= 0 {
		return OrderResult{}, errors.Errorf("simulated buy of %s needs a positive close", req.Symbol)
	}
	if !req.Quote.IsPositive() {
		return skipped(ReasonNoBudget), nil
	}

	price := decimal.NewFromFloat(req.Close)
	amount := req.Quote.Div(price)

	s.mu.Lock()
	s.wallet[req.Symbol] = s.wallet[req.Symbol].Add(amount)
	s.mu.Unlock()

	s.l.Info("Simulated market buy", zap.String("symbol", req.Symbol),
		zap.String("amount", amount.String()), zap.String("quote", req.Quote.StringFixed(4)))

	return s.filled(domain.ActionBuy, price, amount, req.Quote), nil
}

func (s *Simulated) SellAll(_ context.Context, req SellRequest) (OrderResult, error) {
	price := decimal.NewFromFloat(req.Close)

	s.mu.Lock()
	amount := s.wallet[req.Symbol]
	delete(s.wallet, req.Symbol)
	s.mu.Unlock()

	if !amount.IsPositive() {
		return skipped(ReasonNoBaseBalance), nil
	}

	s.l.Info("Simulated market sell", zap.String("symbol", req.Symbol), zap.String("amount", amount.String()))

	return s.filled(domain.ActionSell, price, amount, amount.Mul(price)), nil
}

// Holding returns the simulated base amount of symbol.
func (s *Simulated) Holding(symbol string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallet[symbol]
}

func (s *Simulated) filled(action domain.Action, price, amount, quote decimal.Decimal) OrderResult {
	return OrderResult{
		Simulated: true,
		Order: exchange.Order{
			ID:            "dry-" + action.String(),
			ClientOrderID: uuid.NewString(),
			Filled:        amount,
			Cost:          quote,
		},
		Price:  price,
		Amount: amount,
		Quote:  quote,
	}
}

// BaseFree reports the simulated holding of symbol.
func (s *Simulated) BaseFree(_ context.Context, symbol string) (float64, error) {
	return s.Holding(symbol).InexactFloat64(), nil
}

// Seed sets the simulated holding of symbol, used to restore dry-run positions after a restart.
func (s *Simulated) Seed(symbol string, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if qty.GreaterThan(s.wallet[symbol]) {
		s.wallet[symbol] = qty
	}
}
