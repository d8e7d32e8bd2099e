// Package trader places market orders for the engine, either on the exchange
// or simulated for dry runs.
package trader

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/spotengine/internal/services/exchange"
)

// SkipReason tells why an order was not sent.
type SkipReason string

const (
	ReasonAntiSlippage     SkipReason = "anti_slippage"
	ReasonAntiSlippageSell SkipReason = "anti_slippage_sell"
	ReasonNoBudget         SkipReason = "no_budget"
	ReasonAmountZero       SkipReason = "amount_zero"
	ReasonAmountTooSmall   SkipReason = "amount_too_small"
	ReasonCostTooSmall     SkipReason = "cost_too_small"
	ReasonNoBaseBalance    SkipReason = "no_base_balance"
)

// BuyRequest buys for a quote budget.
type BuyRequest struct {
	Symbol string
	Quote  decimal.Decimal
	// SlippagePct is the maximal (ask-last)/last in percent, zero disables the check.
	SlippagePct float64
	// Close is the observed close, the fill price of simulated orders.
	Close float64
}

// SellRequest sells the whole free base balance.
type SellRequest struct {
	Symbol string
	// SlippagePct is the maximal (last-bid)/last in percent, zero disables the check.
	SlippagePct float64
	Close       float64
}

// OrderResult is the outcome of an order request. Rejections are results, not errors.
type OrderResult struct {
	Skipped bool
	Reason  SkipReason
	// PreSlipPct is the measured spread when the slippage check rejected the order.
	PreSlipPct float64

	Simulated bool
	Order     exchange.Order
	// Price is the reference price the amount was computed with.
	Price  decimal.Decimal
	Amount decimal.Decimal
	Quote  decimal.Decimal
}

func skipped(reason SkipReason) OrderResult {
	return OrderResult{Skipped: true, Reason: reason}
}

// Placer places market orders.
type Placer interface {
	Buy(ctx context.Context, req BuyRequest) (OrderResult, error)
	SellAll(ctx context.Context, req SellRequest) (OrderResult, error)
}
