package risk

import (
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/spotengine/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// SizingSettings configures buy sizing.
type SizingSettings struct {
	// RiskPerTradePct enables risk-based sizing when positive.
	RiskPerTradePct float64
	ATRMultSL       float64
	// RiskFraction caps a buy to this share of the remaining local balance.
	RiskFraction float64
	MinBuy       decimal.Decimal
}

// SizeRequest holds the inputs of one buy.
type SizeRequest struct {
	Allocation domain.Allocation
	// Free is the free quote balance fetched at the start of the cycle.
	Free decimal.Decimal
	// LocalFree is what is left of Free for this cycle.
	LocalFree decimal.Decimal
	// StopLoss is the timeframe stop-loss fraction.
	StopLoss float64
	ATR      float64
	Close    float64
}

// Size is the sized buy.
type Size struct {
	Allocated decimal.Decimal
	Amount    decimal.Decimal
	// StopLossEst is the stop distance used for risk sizing, zero when disabled.
	StopLossEst float64
	// TooSmall is set when Amount does not exceed the minimum buy.
	TooSmall bool
}

// Sizer computes buy amounts in quote currency.
type Sizer struct {
	settings SizingSettings
}

// NewSizer creates a sizer.
func NewSizer(settings SizingSettings) *Sizer {
	return &Sizer{settings: settings}
}

// MinBuy returns the minimal buy notional.
func (s *Sizer) MinBuy() decimal.Decimal {
	return s.settings.MinBuy
}

// Size returns min(allocation, riskBudget/stopLoss, localFree*riskFraction), floored at zero.
func (s *Sizer) Size(req SizeRequest) Size {
	out := Size{Allocated: req.Allocation.Resolve(req.Free)}
	amount := out.Allocated

	if s.settings.RiskPerTradePct > 0 {
		slEst := req.StopLoss
		if s.settings.ATRMultSL > 0 && req.Close > 0 {
			slEst = max(slEst, s.settings.ATRMultSL*req.ATR/req.Close)
		}
		if slEst > 0 {
			budget := req.Free.Mul(decimal.NewFromFloat(s.settings.RiskPerTradePct)).Div(hundred)
			amount = decimal.Min(amount, budget.Div(decimal.NewFromFloat(slEst)))
			out.StopLossEst = slEst
		}
	}

	capped := req.LocalFree.Mul(decimal.NewFromFloat(s.settings.RiskFraction))
	amount = decimal.Max(decimal.Zero, decimal.Min(amount, capped))

	out.Amount = amount
	out.TooSmall = amount.LessThanOrEqual(s.settings.MinBuy)

	return out
}
